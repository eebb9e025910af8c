// Package sigcode serializes canonical generic signatures into a compact
// binary form for module-interface emission, and decodes them back against a
// declaration registry. The encoding is hand-rolled protobuf wire format:
// nested length-prefixed messages built with encoding/protowire, no
// generated code.
package sigcode

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/taulang/tau/internal/generics"
)

// Signature message fields.
const (
	sigFieldParam       = 1 // repeated Type, must decode to generic parameters
	sigFieldRequirement = 2 // repeated Requirement
)

// Requirement message fields.
const (
	reqFieldKind    = 1 // varint, one of the kind values below
	reqFieldSubject = 2 // Type
	reqFieldOther   = 3 // Type, absent on witness markers
)

const (
	kindMarker      = 1
	kindConformance = 2
	kindSameType    = 3
)

// Type message fields. Which fields are present depends on the kind.
const (
	typeFieldKind     = 1 // varint, one of the kind values below
	typeFieldDepth    = 2 // varint, generic parameter depth
	typeFieldIndex    = 3 // varint, generic parameter index
	typeFieldBase     = 4 // Type, member projection base
	typeFieldProtocol = 5 // string, qualified protocol name
	typeFieldAssoc    = 6 // string, associated type name
	typeFieldClass    = 7 // string, qualified class name
	typeFieldBuiltin  = 8 // string, builtin name
)

const (
	typeParam    = 1
	typeMember   = 2
	typeProtocol = 3
	typeClass    = 4
	typeBuiltin  = 5
)

// Marshal encodes the canonical form of sig. The output is deterministic:
// parameters in order, then requirements in order, every field tagged and
// length-prefixed per the protobuf wire format.
func Marshal(sig *generics.GenericSignature) []byte {
	canonical := sig.CanonicalSignature()
	var b []byte
	for _, p := range canonical.Params() {
		b = protowire.AppendTag(b, sigFieldParam, protowire.BytesType)
		b = protowire.AppendBytes(b, appendType(nil, p))
	}
	for _, req := range canonical.Requirements() {
		b = protowire.AppendTag(b, sigFieldRequirement, protowire.BytesType)
		b = protowire.AppendBytes(b, appendRequirement(nil, req))
	}
	return b
}

func appendRequirement(b []byte, req generics.Requirement) []byte {
	var kind uint64
	var subject, other generics.Type
	switch r := req.(type) {
	case generics.WitnessMarker:
		kind, subject = kindMarker, r.Subject
	case generics.Conformance:
		kind, subject, other = kindConformance, r.Subject, r.Constraint
	case generics.SameType:
		kind, subject, other = kindSameType, r.Subject, r.Other
	default:
		panic(fmt.Sprintf("sigcode: cannot encode requirement %T", req))
	}

	b = protowire.AppendTag(b, reqFieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, kind)
	b = protowire.AppendTag(b, reqFieldSubject, protowire.BytesType)
	b = protowire.AppendBytes(b, appendType(nil, subject))
	if other != nil {
		b = protowire.AppendTag(b, reqFieldOther, protowire.BytesType)
		b = protowire.AppendBytes(b, appendType(nil, other))
	}
	return b
}

func appendType(b []byte, t generics.Type) []byte {
	appendKind := func(kind uint64) {
		b = protowire.AppendTag(b, typeFieldKind, protowire.VarintType)
		b = protowire.AppendVarint(b, kind)
	}
	appendString := func(field protowire.Number, s string) {
		b = protowire.AppendTag(b, field, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}

	switch ty := t.(type) {
	case *generics.GenericParamType:
		appendKind(typeParam)
		b = protowire.AppendTag(b, typeFieldDepth, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(ty.Depth))
		b = protowire.AppendTag(b, typeFieldIndex, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(ty.Index))
	case *generics.DependentMemberType:
		appendKind(typeMember)
		b = protowire.AppendTag(b, typeFieldBase, protowire.BytesType)
		b = protowire.AppendBytes(b, appendType(nil, ty.Base))
		appendString(typeFieldProtocol, ty.Assoc.Protocol.QualifiedName())
		appendString(typeFieldAssoc, ty.Assoc.Name)
	case *generics.ProtocolType:
		appendKind(typeProtocol)
		appendString(typeFieldProtocol, ty.Decl.QualifiedName())
	case *generics.ClassType:
		appendKind(typeClass)
		appendString(typeFieldClass, ty.Decl.QualifiedName())
	case *generics.BuiltinType:
		appendKind(typeBuiltin)
		appendString(typeFieldBuiltin, ty.Name)
	default:
		panic(fmt.Sprintf("sigcode: cannot encode type %T", t))
	}
	return b
}

// Decoder rebuilds signatures inside one Context. Protocol and class
// references are stored by qualified name, so every declaration a signature
// mentions must be registered before decoding.
type Decoder struct {
	ctx       *generics.Context
	protocols map[string]*generics.ProtocolDecl
	classes   map[string]*generics.ClassDecl
}

func NewDecoder(ctx *generics.Context) *Decoder {
	return &Decoder{
		ctx:       ctx,
		protocols: make(map[string]*generics.ProtocolDecl),
		classes:   make(map[string]*generics.ClassDecl),
	}
}

func (d *Decoder) RegisterProtocol(p *generics.ProtocolDecl) {
	d.protocols[p.QualifiedName()] = p
}

func (d *Decoder) RegisterClass(c *generics.ClassDecl) {
	d.classes[c.QualifiedName()] = c
}

// Unmarshal decodes a signature produced by Marshal. Unknown fields are
// skipped for forward compatibility; anything structurally broken, truncated
// or referring to an unregistered declaration returns an error.
func (d *Decoder) Unmarshal(data []byte) (*generics.GenericSignature, error) {
	var params []*generics.GenericParamType
	var requirements []generics.Requirement

	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("sigcode: reading signature tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case sigFieldParam:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("sigcode: reading parameter: %w", protowire.ParseError(n))
			}
			b = b[n:]
			t, err := d.decodeType(sub)
			if err != nil {
				return nil, err
			}
			param, ok := t.(*generics.GenericParamType)
			if !ok {
				return nil, fmt.Errorf("sigcode: parameter slot holds %T", t)
			}
			params = append(params, param)

		case sigFieldRequirement:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("sigcode: reading requirement: %w", protowire.ParseError(n))
			}
			b = b[n:]
			req, err := d.decodeRequirement(sub)
			if err != nil {
				return nil, err
			}
			requirements = append(requirements, req)

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("sigcode: skipping field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return d.ctx.Signature(params, requirements), nil
}

func (d *Decoder) decodeRequirement(data []byte) (generics.Requirement, error) {
	var kind uint64
	var subject, other generics.Type

	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("sigcode: reading requirement tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case reqFieldKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("sigcode: reading requirement kind: %w", protowire.ParseError(n))
			}
			b = b[n:]
			kind = v

		case reqFieldSubject, reqFieldOther:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("sigcode: reading requirement type: %w", protowire.ParseError(n))
			}
			b = b[n:]
			t, err := d.decodeType(sub)
			if err != nil {
				return nil, err
			}
			if num == reqFieldSubject {
				subject = t
			} else {
				other = t
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("sigcode: skipping field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if subject == nil {
		return nil, fmt.Errorf("sigcode: requirement of kind %d has no subject", kind)
	}
	switch kind {
	case kindMarker:
		return generics.WitnessMarker{Subject: subject}, nil
	case kindConformance:
		if other == nil {
			return nil, fmt.Errorf("sigcode: conformance on %s has no constraint", subject)
		}
		return generics.Conformance{Subject: subject, Constraint: other}, nil
	case kindSameType:
		if other == nil {
			return nil, fmt.Errorf("sigcode: same-type constraint on %s has no right-hand side", subject)
		}
		return generics.SameType{Subject: subject, Other: other}, nil
	}
	return nil, fmt.Errorf("sigcode: unknown requirement kind %d", kind)
}

func (d *Decoder) decodeType(data []byte) (generics.Type, error) {
	var kind, depth, index uint64
	var base generics.Type
	var protoName, assocName, className, builtinName string

	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("sigcode: reading type tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case typeFieldKind, typeFieldDepth, typeFieldIndex:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("sigcode: reading type varint: %w", protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case typeFieldKind:
				kind = v
			case typeFieldDepth:
				depth = v
			case typeFieldIndex:
				index = v
			}

		case typeFieldBase:
			sub, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("sigcode: reading member base: %w", protowire.ParseError(n))
			}
			b = b[n:]
			t, err := d.decodeType(sub)
			if err != nil {
				return nil, err
			}
			base = t

		case typeFieldProtocol, typeFieldAssoc, typeFieldClass, typeFieldBuiltin:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("sigcode: reading type name: %w", protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case typeFieldProtocol:
				protoName = s
			case typeFieldAssoc:
				assocName = s
			case typeFieldClass:
				className = s
			case typeFieldBuiltin:
				builtinName = s
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("sigcode: skipping field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	switch kind {
	case typeParam:
		if depth > math.MaxUint32 || index > math.MaxUint32 {
			return nil, fmt.Errorf("sigcode: parameter (%d, %d) out of range", depth, index)
		}
		return d.ctx.GenericParam(uint32(depth), uint32(index)), nil

	case typeMember:
		proto, ok := d.protocols[protoName]
		if !ok {
			return nil, fmt.Errorf("sigcode: unknown protocol %q", protoName)
		}
		assoc := proto.AssociatedType(assocName)
		if assoc == nil {
			return nil, fmt.Errorf("sigcode: protocol %s has no associated type %q", protoName, assocName)
		}
		if base == nil {
			return nil, fmt.Errorf("sigcode: member projection %s.%s has no base", protoName, assocName)
		}
		return d.ctx.DependentMember(base, assoc), nil

	case typeProtocol:
		proto, ok := d.protocols[protoName]
		if !ok {
			return nil, fmt.Errorf("sigcode: unknown protocol %q", protoName)
		}
		return d.ctx.Protocol(proto), nil

	case typeClass:
		class, ok := d.classes[className]
		if !ok {
			return nil, fmt.Errorf("sigcode: unknown class %q", className)
		}
		return d.ctx.Class(class), nil

	case typeBuiltin:
		if builtinName == "" {
			return nil, fmt.Errorf("sigcode: builtin type with no name")
		}
		return d.ctx.Builtin(builtinName), nil
	}
	return nil, fmt.Errorf("sigcode: unknown type kind %d", kind)
}
