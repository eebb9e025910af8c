// Package mangle folds generic signatures into stable external symbol names
// and parses them back for tooling. The minimized mangling form of a
// signature is what gets encoded, so two declarations whose requirements
// reduce to the same closure share a symbol suffix.
package mangle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/taulang/tau/internal/generics"
)

// Symbol framing markers.
const (
	prefix = "_Tau" // tau symbol prefix
	sep    = "_"    // part separator
	gOpen  = "G"    // generic signature block opens, parameter count follows
	gClose = "E"    // generic signature block ends
)

// Requirement codes. Each requirement is one part; the types it mentions are
// concatenated inside the part.
const (
	codeMarker      = 'w' // witness marker, subject follows
	codeConformance = 'c' // conformance, subject then constraint follow
	codeSameType    = 's' // same-type, subject then right-hand side follow
)

// Type codes.
const (
	codeParam    = 'q' // generic parameter: q<depth>v<index>
	codeMember   = 'm' // member projection: m<base>P<module><proto><assoc>
	codeProtocol = 'P' // protocol reference: P<module><name>
	codeClass    = 'C' // class reference: C<module><name>
	codeBuiltin  = 'B' // builtin leaf: B<name>
)

// ErrNotMangled reports that a string does not carry the tau symbol prefix.
var ErrNotMangled = errors.New("mangle: not a tau symbol")

// Symbol returns the external name of an entity called name in module,
// generic over sig as observed from scope. A nil or parameterless signature
// yields a plain symbol without a generic block; otherwise the signature's
// minimized mangling form is folded in requirement by requirement.
//
// Format: _Tau_<module>_<name>[_G<params>_<requirement>..._E] with every
// identifier length-prefixed.
func Symbol(module *generics.Module, name string, sig *generics.GenericSignature, scope *generics.Module) string {
	parts := []string{prefix, ident(moduleName(module)), ident(name)}
	if sig != nil && len(sig.Params()) > 0 {
		mangling := sig.CanonicalManglingSignature(scope)
		parts = append(parts, gOpen+strconv.Itoa(len(mangling.Params())))
		for _, req := range mangling.Requirements() {
			parts = append(parts, requirementCode(req))
		}
		parts = append(parts, gClose)
	}
	return strings.Join(parts, sep)
}

func requirementCode(req generics.Requirement) string {
	switch r := req.(type) {
	case generics.WitnessMarker:
		return string(codeMarker) + typeCode(r.Subject)
	case generics.Conformance:
		return string(codeConformance) + typeCode(r.Subject) + typeCode(r.Constraint)
	case generics.SameType:
		return string(codeSameType) + typeCode(r.Subject) + typeCode(r.Other)
	}
	panic(fmt.Sprintf("mangle: unknown requirement %T", req))
}

func typeCode(t generics.Type) string {
	switch ty := t.(type) {
	case *generics.GenericParamType:
		return fmt.Sprintf("%c%dv%d", codeParam, ty.Depth, ty.Index)
	case *generics.DependentMemberType:
		proto := ty.Assoc.Protocol
		return string(codeMember) + typeCode(ty.Base) +
			string(codeProtocol) + ident(moduleName(proto.Module)) + ident(proto.Name) +
			ident(ty.Assoc.Name)
	case *generics.ProtocolType:
		return string(codeProtocol) + ident(moduleName(ty.Decl.Module)) + ident(ty.Decl.Name)
	case *generics.ClassType:
		return string(codeClass) + ident(moduleName(ty.Decl.Module)) + ident(ty.Decl.Name)
	case *generics.BuiltinType:
		return string(codeBuiltin) + ident(ty.Name)
	}
	panic(fmt.Sprintf("mangle: cannot encode %T in a symbol", t))
}

// ident converts an identifier to length-prefixed form: "foo" -> "3foo".
func ident(s string) string {
	return strconv.Itoa(len(s)) + s
}

func moduleName(m *generics.Module) string {
	if m == nil {
		return ""
	}
	return m.Name
}

// Demangled holds the parsed components of a mangled symbol. Requirement
// strings use the same rendering as the core types, with protocol and class
// references qualified by their module.
type Demangled struct {
	Module       string
	Name         string
	Params       int
	Requirements []string
}

// String renders the symbol back into a readable declaration head, e.g.
// "Core.min<τ_0_0 where τ_0_0 : Core.Comparable>". Witness markers are
// elided the way signature printing elides them.
func (d *Demangled) String() string {
	head := d.Name
	if d.Module != "" {
		head = d.Module + "." + d.Name
	}
	if d.Params == 0 {
		return head
	}

	var b strings.Builder
	b.WriteString(head)
	b.WriteString("<")
	for i := range d.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "τ_0_%d", i)
	}
	wrote := false
	for _, req := range d.Requirements {
		if strings.HasPrefix(req, "marker ") {
			continue
		}
		if !wrote {
			b.WriteString(" where ")
			wrote = true
		} else {
			b.WriteString(", ")
		}
		b.WriteString(req)
	}
	b.WriteString(">")
	return b.String()
}

// Demangle parses a mangled symbol. Strings without the tau prefix return
// ErrNotMangled; structurally broken symbols return a descriptive error.
func Demangle(symbol string) (*Demangled, error) {
	head := prefix + sep
	if !strings.HasPrefix(symbol, head) {
		return nil, ErrNotMangled
	}
	rest := symbol[len(head):]

	d := &Demangled{}
	var err error
	if d.Module, rest, err = readIdent(rest); err != nil {
		return nil, err
	}
	if rest, err = expect(rest, sep); err != nil {
		return nil, err
	}
	if d.Name, rest, err = readIdent(rest); err != nil {
		return nil, err
	}
	if rest == "" {
		return d, nil
	}

	if rest, err = expect(rest, sep+gOpen); err != nil {
		return nil, err
	}
	if d.Params, rest, err = readNumber(rest); err != nil {
		return nil, err
	}
	for {
		if rest, err = expect(rest, sep); err != nil {
			return nil, err
		}
		if rest == gClose {
			return d, nil
		}
		if strings.HasPrefix(rest, gClose) {
			return nil, fmt.Errorf("mangle: trailing %q after generic block", rest[len(gClose):])
		}
		var req string
		if req, rest, err = readRequirement(rest); err != nil {
			return nil, err
		}
		d.Requirements = append(d.Requirements, req)
	}
}

func expect(s, marker string) (string, error) {
	if !strings.HasPrefix(s, marker) {
		return s, fmt.Errorf("mangle: expected %q at %q", marker, s)
	}
	return s[len(marker):], nil
}

// readNumber parses a run of decimal digits.
func readNumber(s string) (int, string, error) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, s, fmt.Errorf("mangle: expected number at %q", s)
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, s, fmt.Errorf("mangle: bad number at %q: %w", s, err)
	}
	return n, s[i:], nil
}

// readIdent parses a length-prefixed identifier: "3foo..." -> "foo".
func readIdent(s string) (string, string, error) {
	n, rest, err := readNumber(s)
	if err != nil {
		return "", s, err
	}
	if n > len(rest) {
		return "", s, fmt.Errorf("mangle: truncated identifier at %q", s)
	}
	return rest[:n], rest[n:], nil
}

func readRequirement(s string) (string, string, error) {
	if s == "" {
		return "", s, fmt.Errorf("mangle: truncated requirement")
	}
	code, rest := s[0], s[1:]
	switch code {
	case codeMarker:
		subject, rest, err := readType(rest)
		if err != nil {
			return "", s, err
		}
		return "marker " + subject, rest, nil
	case codeConformance:
		subject, rest, err := readType(rest)
		if err != nil {
			return "", s, err
		}
		constraint, rest, err := readType(rest)
		if err != nil {
			return "", s, err
		}
		return subject + " : " + constraint, rest, nil
	case codeSameType:
		subject, rest, err := readType(rest)
		if err != nil {
			return "", s, err
		}
		other, rest, err := readType(rest)
		if err != nil {
			return "", s, err
		}
		return subject + " == " + other, rest, nil
	}
	return "", s, fmt.Errorf("mangle: unknown requirement code %q", code)
}

// readType parses one type encoding and renders it.
func readType(s string) (string, string, error) {
	if s == "" {
		return "", s, fmt.Errorf("mangle: truncated type")
	}
	code, rest := s[0], s[1:]
	switch code {
	case codeParam:
		depth, rest, err := readNumber(rest)
		if err != nil {
			return "", s, err
		}
		if rest, err = expect(rest, "v"); err != nil {
			return "", s, err
		}
		index, rest, err := readNumber(rest)
		if err != nil {
			return "", s, err
		}
		return fmt.Sprintf("τ_%d_%d", depth, index), rest, nil

	case codeMember:
		base, rest, err := readType(rest)
		if err != nil {
			return "", s, err
		}
		if rest, err = expect(rest, string(codeProtocol)); err != nil {
			return "", s, err
		}
		module, rest, err := readIdent(rest)
		if err != nil {
			return "", s, err
		}
		proto, rest, err := readIdent(rest)
		if err != nil {
			return "", s, err
		}
		assoc, rest, err := readIdent(rest)
		if err != nil {
			return "", s, err
		}
		return fmt.Sprintf("%s.[%s]%s", base, qualify(module, proto), assoc), rest, nil

	case codeProtocol, codeClass:
		module, rest, err := readIdent(rest)
		if err != nil {
			return "", s, err
		}
		name, rest, err := readIdent(rest)
		if err != nil {
			return "", s, err
		}
		return qualify(module, name), rest, nil

	case codeBuiltin:
		name, rest, err := readIdent(rest)
		if err != nil {
			return "", s, err
		}
		return name, rest, nil
	}
	return "", s, fmt.Errorf("mangle: unknown type code %q", code)
}

func qualify(module, name string) string {
	if module == "" {
		return name
	}
	return module + "." + name
}
