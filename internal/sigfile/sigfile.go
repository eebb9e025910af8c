// Package sigfile loads generic signature descriptions from YAML documents.
//
// A description declares the protocols, classes and aliases a signature
// mentions, names its generic parameters and lists its requirements, with
// dependent types written as dotted paths (T.Element, T.[Sequence]Element).
// The sigtool CLI and the golden tests drive the generics core through
// these files.
package sigfile

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/taulang/tau/internal/generics"
)

// Document is the top-level signature description.
type Document struct {
	// Module names the declaring module, which doubles as the default
	// lookup scope. Defaults to "Main".
	Module string `yaml:"module,omitempty"`

	// Name is the declared entity the signature belongs to, used when
	// mangling symbols. Optional; tooling falls back to the file name.
	Name string `yaml:"name,omitempty"`

	// Protocols declares the protocols the requirements may reference.
	Protocols []ProtocolSpec `yaml:"protocols,omitempty"`

	// Classes declares superclass-constraint targets.
	Classes []ClassSpec `yaml:"classes,omitempty"`

	// Aliases declares named sugar for concrete types. Aliases resolve in
	// order, so an alias may mention one declared above it.
	Aliases []AliasSpec `yaml:"aliases,omitempty"`

	// Params names the generic parameters at depth 0, in order.
	Params []string `yaml:"params,omitempty"`

	// Requirements lists the signature's requirements.
	Requirements []RequirementSpec `yaml:"requirements,omitempty"`

	path string // for error messages
}

// ProtocolSpec declares one protocol.
type ProtocolSpec struct {
	Name string `yaml:"name"`

	// Module the protocol belongs to. Defaults to the document module.
	Module string `yaml:"module,omitempty"`

	// Associated lists the protocol's associated type names.
	Associated []string `yaml:"associated,omitempty"`

	// Requires is the protocol's own requirement signature, written over
	// Self. An inherited protocol is a conformance on Self.
	Requires []RequirementSpec `yaml:"requires,omitempty"`
}

// ClassSpec declares one class.
type ClassSpec struct {
	Name string `yaml:"name"`

	// Module the class belongs to. Defaults to the document module.
	Module string `yaml:"module,omitempty"`
}

// AliasSpec declares sugar: Name stands for the concrete type Of.
type AliasSpec struct {
	Name string `yaml:"name"`
	Of   string `yaml:"of"`
}

// RequirementSpec describes one requirement. Exactly one of Marker, Conforms
// or Same must be set; To pairs with Conforms and With pairs with Same.
type RequirementSpec struct {
	// Marker witnesses a dependent type without constraining it.
	Marker string `yaml:"marker,omitempty"`

	// Conforms is the dependent type of a conformance requirement.
	Conforms string `yaml:"conforms,omitempty"`

	// To names the protocol or class that Conforms is constrained by.
	To string `yaml:"to,omitempty"`

	// Same is the dependent type of a same-type requirement.
	Same string `yaml:"same,omitempty"`

	// With is the type Same is equated to: another path, a declared class
	// or alias, or a builtin name.
	With string `yaml:"with,omitempty"`
}

// Load reads and parses a signature description file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signature description %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse parses signature description content from bytes.
// The path argument is used only for error messages.
func Parse(data []byte, path string) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := doc.validate(path); err != nil {
		return nil, err
	}
	doc.setDefaults()
	doc.path = path
	return &doc, nil
}

// validate checks the description for structural errors. Name resolution
// happens later, in Build.
func (d *Document) validate(path string) error {
	for i, p := range d.Protocols {
		if p.Name == "" {
			return fmt.Errorf("%s: protocols[%d]: name is required", path, i)
		}
		seenAssoc := make(map[string]bool)
		for j, a := range p.Associated {
			if a == "" {
				return fmt.Errorf("%s: protocols[%d].associated[%d]: name is required", path, i, j)
			}
			if seenAssoc[a] {
				return fmt.Errorf("%s: protocols[%d] (%s): duplicate associated type %q", path, i, p.Name, a)
			}
			seenAssoc[a] = true
		}
		for j, r := range p.Requires {
			if err := r.check(fmt.Sprintf("%s: protocols[%d].requires[%d]", path, i, j)); err != nil {
				return err
			}
		}
	}

	for i, c := range d.Classes {
		if c.Name == "" {
			return fmt.Errorf("%s: classes[%d]: name is required", path, i)
		}
	}

	seenAliases := make(map[string]bool)
	for i, a := range d.Aliases {
		if a.Name == "" {
			return fmt.Errorf("%s: aliases[%d]: name is required", path, i)
		}
		if a.Of == "" {
			return fmt.Errorf("%s: aliases[%d] (%s): of is required", path, i, a.Name)
		}
		if seenAliases[a.Name] {
			return fmt.Errorf("%s: aliases[%d]: duplicate alias %q", path, i, a.Name)
		}
		seenAliases[a.Name] = true
	}

	seenParams := make(map[string]bool)
	for i, name := range d.Params {
		if name == "" {
			return fmt.Errorf("%s: params[%d]: name is required", path, i)
		}
		if name == "Self" {
			return fmt.Errorf("%s: params[%d]: Self is reserved for protocol requirements", path, i)
		}
		if seenParams[name] {
			return fmt.Errorf("%s: params[%d]: duplicate parameter %q", path, i, name)
		}
		seenParams[name] = true
	}

	for i, r := range d.Requirements {
		if err := r.check(fmt.Sprintf("%s: requirements[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func (r RequirementSpec) check(where string) error {
	count := 0
	if r.Marker != "" {
		count++
	}
	if r.Conforms != "" {
		count++
	}
	if r.Same != "" {
		count++
	}
	if count == 0 {
		return fmt.Errorf("%s: one of marker, conforms or same is required", where)
	}
	if count > 1 {
		return fmt.Errorf("%s: marker, conforms and same are mutually exclusive", where)
	}
	if r.Conforms != "" && r.To == "" {
		return fmt.Errorf("%s: to is required with conforms", where)
	}
	if r.Conforms == "" && r.To != "" {
		return fmt.Errorf("%s: to is only valid with conforms", where)
	}
	if r.Same != "" && r.With == "" {
		return fmt.Errorf("%s: with is required with same", where)
	}
	if r.Same == "" && r.With != "" {
		return fmt.Errorf("%s: with is only valid with same", where)
	}
	return nil
}

// setDefaults fills in default values for omitted fields.
func (d *Document) setDefaults() {
	if d.Module == "" {
		d.Module = "Main"
	}
	for i := range d.Protocols {
		if d.Protocols[i].Module == "" {
			d.Protocols[i].Module = d.Module
		}
	}
	for i := range d.Classes {
		if d.Classes[i].Module == "" {
			d.Classes[i].Module = d.Module
		}
	}
}

// Build constructs the declared world inside ctx and returns the described
// signature together with its declaring module.
func (d *Document) Build(ctx *generics.Context) (*generics.GenericSignature, *generics.Module, error) {
	b := &builder{
		ctx:         ctx,
		modules:     make(map[string]*generics.Module),
		protocols:   make(map[string]*generics.ProtocolDecl),
		protoByName: make(map[string][]*generics.ProtocolDecl),
		byAssoc:     make(map[string][]*generics.ProtocolDecl),
		classes:     make(map[string]*generics.ClassDecl),
		classByName: make(map[string][]*generics.ClassDecl),
		aliases:     make(map[string]generics.Type),
		params:      make(map[string]*generics.GenericParamType),
	}
	b.module = b.moduleFor(d.Module)

	decls := make([]*generics.ProtocolDecl, len(d.Protocols))
	for i := range d.Protocols {
		spec := &d.Protocols[i]
		proto := generics.NewProtocol(b.moduleFor(spec.Module), spec.Name)
		if _, ok := b.protocols[proto.QualifiedName()]; ok {
			return nil, nil, fmt.Errorf("%s: protocols[%d]: duplicate protocol %s", d.path, i, proto.QualifiedName())
		}
		for _, a := range spec.Associated {
			proto.AddAssociatedType(a)
			b.byAssoc[a] = append(b.byAssoc[a], proto)
		}
		b.protocols[proto.QualifiedName()] = proto
		b.protoByName[spec.Name] = append(b.protoByName[spec.Name], proto)
		decls[i] = proto
	}

	for i := range d.Classes {
		spec := &d.Classes[i]
		class := generics.NewClass(b.moduleFor(spec.Module), spec.Name)
		if _, ok := b.classes[class.QualifiedName()]; ok {
			return nil, nil, fmt.Errorf("%s: classes[%d]: duplicate class %s", d.path, i, class.QualifiedName())
		}
		b.classes[class.QualifiedName()] = class
		b.classByName[spec.Name] = append(b.classByName[spec.Name], class)
	}

	for i, spec := range d.Aliases {
		where := fmt.Sprintf("%s: aliases[%d] (%s)", d.path, i, spec.Name)
		t, err := b.resolveType(spec.Of, nil, where)
		if err != nil {
			return nil, nil, err
		}
		b.aliases[spec.Name] = generics.NewAlias(spec.Name, t)
	}

	// Protocol requirement signatures resolve after every declaration
	// exists, so protocols can require each other in either order.
	selfScope := map[string]*generics.GenericParamType{"Self": ctx.GenericParam(0, 0)}
	for i := range d.Protocols {
		for j, spec := range d.Protocols[i].Requires {
			where := fmt.Sprintf("%s: protocols[%d].requires[%d]", d.path, i, j)
			req, err := b.buildRequirement(spec, selfScope, where)
			if err != nil {
				return nil, nil, err
			}
			decls[i].Requirements = append(decls[i].Requirements, req)
		}
	}

	for i, name := range d.Params {
		p := ctx.GenericParam(0, uint32(i))
		b.params[name] = p
		b.paramList = append(b.paramList, p)
	}

	var requirements []generics.Requirement
	for i, spec := range d.Requirements {
		where := fmt.Sprintf("%s: requirements[%d]", d.path, i)
		req, err := b.buildRequirement(spec, b.params, where)
		if err != nil {
			return nil, nil, err
		}
		requirements = append(requirements, req)
	}

	return ctx.Signature(b.paramList, requirements), b.module, nil
}

type builder struct {
	ctx    *generics.Context
	module *generics.Module

	modules     map[string]*generics.Module
	protocols   map[string]*generics.ProtocolDecl // by qualified name
	protoByName map[string][]*generics.ProtocolDecl
	byAssoc     map[string][]*generics.ProtocolDecl
	classes     map[string]*generics.ClassDecl // by qualified name
	classByName map[string][]*generics.ClassDecl
	aliases     map[string]generics.Type
	params      map[string]*generics.GenericParamType
	paramList   []*generics.GenericParamType
}

// moduleFor returns the one Module value for a name. Scope caching keys on
// module identity, so every mention of a name must share the same pointer.
func (b *builder) moduleFor(name string) *generics.Module {
	if m, ok := b.modules[name]; ok {
		return m
	}
	m := generics.NewModule(name)
	b.modules[name] = m
	return m
}

func (b *builder) buildRequirement(spec RequirementSpec, params map[string]*generics.GenericParamType, where string) (generics.Requirement, error) {
	switch {
	case spec.Marker != "":
		subject, err := b.resolvePath(spec.Marker, params, where)
		if err != nil {
			return nil, err
		}
		return generics.WitnessMarker{Subject: subject}, nil

	case spec.Conforms != "":
		subject, err := b.resolvePath(spec.Conforms, params, where)
		if err != nil {
			return nil, err
		}
		constraint, err := b.resolveConstraint(spec.To, where)
		if err != nil {
			return nil, err
		}
		return generics.Conformance{Subject: subject, Constraint: constraint}, nil

	case spec.Same != "":
		subject, err := b.resolvePath(spec.Same, params, where)
		if err != nil {
			return nil, err
		}
		other, err := b.resolveType(spec.With, params, where)
		if err != nil {
			return nil, err
		}
		return generics.SameType{Subject: subject, Other: other}, nil
	}
	return nil, fmt.Errorf("%s: empty requirement", where)
}

// resolveType resolves a type expression: a dependent path when it starts
// with a parameter in scope, otherwise a declared alias, protocol or class,
// otherwise a builtin leaf.
func (b *builder) resolveType(expr string, params map[string]*generics.GenericParamType, where string) (generics.Type, error) {
	if expr == "" {
		return nil, fmt.Errorf("%s: empty type", where)
	}
	head := expr
	if i := strings.IndexByte(expr, '.'); i >= 0 {
		head = expr[:i]
	}
	if _, ok := params[head]; ok {
		return b.resolvePath(expr, params, where)
	}
	if t, ok := b.aliases[expr]; ok {
		return t, nil
	}
	proto, err := b.lookupProtocol(expr, where)
	if err != nil {
		return nil, err
	}
	if proto != nil {
		return b.ctx.Protocol(proto), nil
	}
	class, err := b.lookupClass(expr, where)
	if err != nil {
		return nil, err
	}
	if class != nil {
		return b.ctx.Class(class), nil
	}
	if strings.ContainsRune(expr, '.') {
		return nil, fmt.Errorf("%s: unknown name %q", where, expr)
	}
	return b.ctx.Builtin(expr), nil
}

// resolveConstraint resolves the target of a conformance requirement, which
// must be a declared protocol or class.
func (b *builder) resolveConstraint(name, where string) (generics.Type, error) {
	proto, err := b.lookupProtocol(name, where)
	if err != nil {
		return nil, err
	}
	if proto != nil {
		return b.ctx.Protocol(proto), nil
	}
	class, err := b.lookupClass(name, where)
	if err != nil {
		return nil, err
	}
	if class != nil {
		return b.ctx.Class(class), nil
	}
	return nil, fmt.Errorf("%s: %q is not a declared protocol or class", where, name)
}

// resolvePath resolves a dotted dependent-type path. The first segment names
// a generic parameter (Self inside protocol requirements); every further
// segment is an associated type, bare or qualified: T.Element,
// T.[Sequence]Element, T.[Core.Sequence]Element.
func (b *builder) resolvePath(path string, params map[string]*generics.GenericParamType, where string) (generics.Type, error) {
	segs := splitPath(path)
	param, ok := params[segs[0]]
	if !ok {
		return nil, fmt.Errorf("%s: unknown parameter %q in path %q", where, segs[0], path)
	}
	var t generics.Type = param
	for _, seg := range segs[1:] {
		if seg == "" {
			return nil, fmt.Errorf("%s: empty segment in path %q", where, path)
		}
		assoc, err := b.resolveSegment(seg, path, where)
		if err != nil {
			return nil, err
		}
		t = b.ctx.DependentMember(t, assoc)
	}
	return t, nil
}

func (b *builder) resolveSegment(seg, path, where string) (*generics.AssociatedTypeDecl, error) {
	if seg[0] == '[' {
		end := strings.IndexByte(seg, ']')
		if end < 0 || end == len(seg)-1 {
			return nil, fmt.Errorf("%s: malformed segment %q in path %q", where, seg, path)
		}
		protoName, assocName := seg[1:end], seg[end+1:]
		proto, err := b.lookupProtocol(protoName, where)
		if err != nil {
			return nil, err
		}
		if proto == nil {
			return nil, fmt.Errorf("%s: unknown protocol %q in path %q", where, protoName, path)
		}
		assoc := proto.AssociatedType(assocName)
		if assoc == nil {
			return nil, fmt.Errorf("%s: protocol %s has no associated type %q", where, proto.QualifiedName(), assocName)
		}
		return assoc, nil
	}

	cands := b.byAssoc[seg]
	switch len(cands) {
	case 0:
		return nil, fmt.Errorf("%s: no declared protocol has an associated type %q (path %q)", where, seg, path)
	case 1:
		return cands[0].AssociatedType(seg), nil
	}
	return nil, fmt.Errorf("%s: associated type %q in path %q is ambiguous, qualify it as [Protocol]%s", where, seg, path, seg)
}

func (b *builder) lookupProtocol(name, where string) (*generics.ProtocolDecl, error) {
	if p, ok := b.protocols[name]; ok {
		return p, nil
	}
	cands := b.protoByName[name]
	switch len(cands) {
	case 0:
		return nil, nil
	case 1:
		return cands[0], nil
	}
	return nil, fmt.Errorf("%s: protocol %q is ambiguous, qualify it with its module", where, name)
}

func (b *builder) lookupClass(name, where string) (*generics.ClassDecl, error) {
	if c, ok := b.classes[name]; ok {
		return c, nil
	}
	cands := b.classByName[name]
	switch len(cands) {
	case 0:
		return nil, nil
	case 1:
		return cands[0], nil
	}
	return nil, fmt.Errorf("%s: class %q is ambiguous, qualify it with its module", where, name)
}

// splitPath splits on dots outside bracket qualifiers, so the module dot in
// T.[Core.Sequence]Element does not break the segment.
func splitPath(path string) []string {
	var segs []string
	depth, start := 0, 0
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case '.':
			if depth == 0 {
				segs = append(segs, path[start:i])
				start = i + 1
			}
		}
	}
	return append(segs, path[start:])
}
