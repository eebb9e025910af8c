package generics

import (
	"slices"
	"sync"
)

// Requirement is one constraint inside a generic signature. The concrete
// variants are WitnessMarker, Conformance and SameType; each carries only
// the fields its variant needs, so a kind can never disagree with its
// payload.
type Requirement interface {
	String() string

	// canonicalized returns the requirement with every type canonicalized.
	canonicalized() Requirement
}

// WitnessMarker records that a dependent type participates in a signature,
// with no constraint implied. Every dependent type constrained by a
// Conformance or SameType requirement must be introduced by a marker first.
type WitnessMarker struct {
	Subject Type
}

func (r WitnessMarker) canonicalized() Requirement {
	return WitnessMarker{Subject: r.Subject.Canonical()}
}

// Conformance constrains a dependent type to a protocol or to a concrete
// superclass.
type Conformance struct {
	Subject    Type
	Constraint Type
}

func (r Conformance) canonicalized() Requirement {
	return Conformance{Subject: r.Subject.Canonical(), Constraint: r.Constraint.Canonical()}
}

// SameType asserts that a dependent type equals another type, dependent or
// concrete.
type SameType struct {
	Subject Type
	Other   Type
}

func (r SameType) canonicalized() Requirement {
	return SameType{Subject: r.Subject.Canonical(), Other: r.Other.Canonical()}
}

// GenericSignature is an ordered list of generic parameters plus the
// requirements constraining them. Signatures are interned by their context:
// building the same parameters and requirements twice returns the same
// object, so == is value equality. Never mutate one after construction.
type GenericSignature struct {
	ctx          *Context
	params       []*GenericParamType
	requirements []Requirement

	mu        sync.Mutex
	canonical canonicalState
}

// canonicalState holds the lazily computed canonical form of a signature:
// not yet computed, the signature itself, or a reference to another one.
type canonicalState struct {
	kind canonicalKind
	ref  *GenericSignature
}

type canonicalKind uint8

const (
	canonicalUncomputed canonicalKind = iota
	canonicalIsSelf
	canonicalComputedRef
)

// Signature interns the signature with the given parameters and
// requirements.
func (c *Context) Signature(params []*GenericParamType, requirements []Requirement) *GenericSignature {
	key := signatureKey(params, requirements)

	// Detect self-canonical signatures up front, before taking the intern
	// lock: the elementwise canonicalization below may itself intern member
	// types.
	state := canonicalState{kind: canonicalUncomputed}
	if requirementsCanonical(requirements) {
		state = canonicalState{kind: canonicalIsSelf}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if sig, ok := c.signatures[key]; ok {
		return sig
	}
	sig := &GenericSignature{
		ctx:          c,
		params:       slices.Clone(params),
		requirements: slices.Clone(requirements),
		canonical:    state,
	}
	c.signatures[key] = sig
	return sig
}

// requirementsCanonical reports whether the list is elementwise canonical
// and free of exact duplicates. Parameters are canonical by construction,
// so this decides whether a whole signature is its own canonical form.
func requirementsCanonical(requirements []Requirement) bool {
	seen := make(map[Requirement]bool, len(requirements))
	for _, req := range requirements {
		if req.canonicalized() != req || seen[req] {
			return false
		}
		seen[req] = true
	}
	return true
}

// Params returns the generic parameters in declaration order. The slice is
// shared; do not mutate it.
func (s *GenericSignature) Params() []*GenericParamType { return s.params }

// Requirements returns the requirement list in signature order. The slice
// is shared; do not mutate it.
func (s *GenericSignature) Requirements() []Requirement { return s.requirements }
