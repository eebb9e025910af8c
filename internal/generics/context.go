package generics

import (
	"fmt"
	"strings"
	"sync"
)

// Context owns type and signature interning plus the signature caches for
// one compilation. Types and signatures from different contexts must never
// be mixed. All well-formed input survives the whole compilation, so nothing
// is ever evicted.
type Context struct {
	solver Solver
	cache  *SignatureCache

	mu         sync.Mutex
	params     map[paramKey]*GenericParamType
	members    map[memberKey]*DependentMemberType
	builtins   map[string]*BuiltinType
	protocols  map[*ProtocolDecl]*ProtocolType
	classes    map[*ClassDecl]*ClassType
	signatures map[string]*GenericSignature
}

type paramKey struct {
	depth uint32
	index uint32
}

type memberKey struct {
	base  Type
	assoc *AssociatedTypeDecl
}

// NewContext creates a compilation context. The solver is consulted when a
// mangling signature is requested; it may be nil for callers that never
// mangle.
func NewContext(solver Solver) *Context {
	return &Context{
		solver:     solver,
		cache:      newSignatureCache(),
		params:     make(map[paramKey]*GenericParamType),
		members:    make(map[memberKey]*DependentMemberType),
		builtins:   make(map[string]*BuiltinType),
		protocols:  make(map[*ProtocolDecl]*ProtocolType),
		classes:    make(map[*ClassDecl]*ClassType),
		signatures: make(map[string]*GenericSignature),
	}
}

// Cache returns the signature cache owned by the context.
func (c *Context) Cache() *SignatureCache { return c.cache }

// GenericParam interns the generic parameter (depth, index).
func (c *Context) GenericParam(depth, index uint32) *GenericParamType {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := paramKey{depth: depth, index: index}
	if t, ok := c.params[key]; ok {
		return t
	}
	t := &GenericParamType{Depth: depth, Index: index, ctx: c}
	c.params[key] = t
	return t
}

// DependentMember builds the projection of assoc through base. The result
// is interned when base is canonical; otherwise it is a fresh sugared node
// whose canonical form is the interned projection through the canonical
// base.
func (c *Context) DependentMember(base Type, assoc *AssociatedTypeDecl) *DependentMemberType {
	if assoc == nil {
		panic(fmt.Sprintf("generics: dependent member of %s without an associated type", base))
	}
	if !base.IsCanonical() {
		return &DependentMemberType{Base: base, Assoc: assoc, ctx: c}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := memberKey{base: base, assoc: assoc}
	if t, ok := c.members[key]; ok {
		return t
	}
	t := &DependentMemberType{Base: base, Assoc: assoc, ctx: c, canon: true}
	c.members[key] = t
	return t
}

// Builtin interns a leaf concrete type by name.
func (c *Context) Builtin(name string) *BuiltinType {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.builtins[name]; ok {
		return t
	}
	t := &BuiltinType{Name: name, ctx: c}
	c.builtins[name] = t
	return t
}

// Protocol interns the constraint type for a protocol declaration.
func (c *Context) Protocol(decl *ProtocolDecl) *ProtocolType {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.protocols[decl]; ok {
		return t
	}
	t := &ProtocolType{Decl: decl, ctx: c}
	c.protocols[decl] = t
	return t
}

// Class interns the nominal type for a class declaration.
func (c *Context) Class(decl *ClassDecl) *ClassType {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.classes[decl]; ok {
		return t
	}
	t := &ClassType{Decl: decl, ctx: c}
	c.classes[decl] = t
	return t
}

// typeKey appends an unambiguous identity string for t, used to intern
// signatures. Kind prefixes keep a builtin, a class and an alias with the
// same name distinct.
func typeKey(sb *strings.Builder, t Type) {
	switch ty := t.(type) {
	case *GenericParamType:
		fmt.Fprintf(sb, "q%d_%d", ty.Depth, ty.Index)
	case *DependentMemberType:
		typeKey(sb, ty.Base)
		sb.WriteString(".[")
		sb.WriteString(ty.Assoc.Protocol.QualifiedName())
		sb.WriteByte(']')
		sb.WriteString(ty.Assoc.Name)
	case *ProtocolType:
		sb.WriteString("P:")
		sb.WriteString(ty.Decl.QualifiedName())
	case *ClassType:
		sb.WriteString("C:")
		sb.WriteString(ty.Decl.QualifiedName())
	case *BuiltinType:
		sb.WriteString("B:")
		sb.WriteString(ty.Name)
	case *AliasType:
		sb.WriteString("A:")
		sb.WriteString(ty.Name)
		sb.WriteByte('<')
		typeKey(sb, ty.Underlying)
		sb.WriteByte('>')
	default:
		panic(fmt.Sprintf("generics: unknown type %T in intern key", t))
	}
}

func requirementKey(sb *strings.Builder, req Requirement) {
	switch r := req.(type) {
	case WitnessMarker:
		sb.WriteString("w:")
		typeKey(sb, r.Subject)
	case Conformance:
		sb.WriteString("c:")
		typeKey(sb, r.Subject)
		sb.WriteByte(':')
		typeKey(sb, r.Constraint)
	case SameType:
		sb.WriteString("s:")
		typeKey(sb, r.Subject)
		sb.WriteByte('=')
		typeKey(sb, r.Other)
	default:
		panic(fmt.Sprintf("generics: unknown requirement %T in intern key", req))
	}
}

func signatureKey(params []*GenericParamType, requirements []Requirement) string {
	var sb strings.Builder
	sb.WriteByte('<')
	for i, p := range params {
		if i > 0 {
			sb.WriteByte(',')
		}
		typeKey(&sb, p)
	}
	sb.WriteByte('|')
	for i, req := range requirements {
		if i > 0 {
			sb.WriteByte(',')
		}
		requirementKey(&sb, req)
	}
	sb.WriteByte('>')
	return sb.String()
}

// SignatureCache memoizes minimized signatures per (canonical signature,
// lookup scope). Population is a single compute-or-fetch critical section,
// so concurrent first requests neither race nor duplicate the solver work.
type SignatureCache struct {
	mu        sync.Mutex
	manglings map[manglingKey]*GenericSignature
}

type manglingKey struct {
	sig   *GenericSignature
	scope *Module
}

func newSignatureCache() *SignatureCache {
	return &SignatureCache{manglings: make(map[manglingKey]*GenericSignature)}
}

func (sc *SignatureCache) manglingSignature(sig *GenericSignature, scope *Module, compute func() *GenericSignature) *GenericSignature {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	key := manglingKey{sig: sig, scope: scope}
	if got, ok := sc.manglings[key]; ok {
		return got
	}
	got := compute()
	sc.manglings[key] = got
	return got
}

// Len reports how many mangling signatures have been computed so far.
func (sc *SignatureCache) Len() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.manglings)
}
