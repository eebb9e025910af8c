package generics

import "fmt"

// Type is the interface for all types in the generics core.
type Type interface {
	// Canonical returns the canonical form of the type: sugar resolved and
	// every component canonicalized. Canonical types produced by one
	// Context are interned, so == on two canonical results is structural
	// equality.
	Canonical() Type
	// IsCanonical reports whether the type is its own canonical form.
	IsCanonical() bool
	String() string

	context() *Context
}

// GenericParamType is a generic parameter, identified by the nesting depth
// of the generic context introducing it and its position within that
// context. Always canonical.
type GenericParamType struct {
	Depth uint32
	Index uint32

	ctx *Context
}

func (t *GenericParamType) Canonical() Type   { return t }
func (t *GenericParamType) IsCanonical() bool { return true }
func (t *GenericParamType) context() *Context { return t.ctx }

func (t *GenericParamType) String() string {
	return fmt.Sprintf("τ_%d_%d", t.Depth, t.Index)
}

// DependentMemberType projects an associated type out of a dependent base,
// e.g. τ_0_0.[Sequence]Element. The node is canonical (and interned) exactly
// when its base is canonical.
type DependentMemberType struct {
	Base  Type
	Assoc *AssociatedTypeDecl

	ctx   *Context
	canon bool
}

func (t *DependentMemberType) Canonical() Type {
	if t.canon {
		return t
	}
	return t.ctx.DependentMember(t.Base.Canonical(), t.Assoc)
}

func (t *DependentMemberType) IsCanonical() bool { return t.canon }
func (t *DependentMemberType) context() *Context { return t.ctx }

func (t *DependentMemberType) String() string {
	return fmt.Sprintf("%s.[%s]%s", t.Base, t.Assoc.Protocol.Name, t.Assoc.Name)
}

// ProtocolType is a protocol used as a type, i.e. the constraint side of a
// conformance requirement.
type ProtocolType struct {
	Decl *ProtocolDecl

	ctx *Context
}

func (t *ProtocolType) Canonical() Type   { return t }
func (t *ProtocolType) IsCanonical() bool { return true }
func (t *ProtocolType) context() *Context { return t.ctx }
func (t *ProtocolType) String() string    { return t.Decl.Name }

// ClassType is a nominal class type, usable as a superclass constraint or a
// same-type target.
type ClassType struct {
	Decl *ClassDecl

	ctx *Context
}

func (t *ClassType) Canonical() Type   { return t }
func (t *ClassType) IsCanonical() bool { return true }
func (t *ClassType) context() *Context { return t.ctx }
func (t *ClassType) String() string    { return t.Decl.Name }

// BuiltinType is a leaf concrete type with no declaration behind it
// (Int, String, ...).
type BuiltinType struct {
	Name string

	ctx *Context
}

func (t *BuiltinType) Canonical() Type   { return t }
func (t *BuiltinType) IsCanonical() bool { return true }
func (t *BuiltinType) context() *Context { return t.ctx }
func (t *BuiltinType) String() string    { return t.Name }

// AliasType is a named sugar form for another type. It is the only
// non-canonical leaf: canonicalization resolves it to the underlying type.
// Aliases are not interned.
type AliasType struct {
	Name       string
	Underlying Type
}

func NewAlias(name string, underlying Type) *AliasType {
	return &AliasType{Name: name, Underlying: underlying}
}

func (t *AliasType) Canonical() Type   { return t.Underlying.Canonical() }
func (t *AliasType) IsCanonical() bool { return false }
func (t *AliasType) context() *Context { return t.Underlying.context() }
func (t *AliasType) String() string    { return t.Name }

// IsDependentType reports whether t is a generic parameter or an
// associated-type projection. Sugar does not count; canonicalize first when
// the answer must see through aliases.
func IsDependentType(t Type) bool {
	switch t.(type) {
	case *GenericParamType, *DependentMemberType:
		return true
	}
	return false
}
