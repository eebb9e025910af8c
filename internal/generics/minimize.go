package generics

import (
	"fmt"
	"iter"
	"slices"
)

// RequirementKind tags entries of a solver closure.
type RequirementKind uint8

const (
	KindWitnessMarker RequirementKind = iota
	KindConformance
	KindSameType
)

func (k RequirementKind) String() string {
	switch k {
	case KindWitnessMarker:
		return "marker"
	case KindConformance:
		return "conformance"
	case KindSameType:
		return "same-type"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Provenance records how the solver derived a closure entry.
type Provenance uint8

const (
	// ProvenanceExplicit marks a requirement written in the declaration.
	ProvenanceExplicit Provenance = iota
	// ProvenanceProtocol marks a requirement implied by a protocol's own
	// requirement signature.
	ProvenanceProtocol
	// ProvenanceRedundant marks a requirement already implied by an
	// earlier entry of the closure.
	ProvenanceRedundant
	// ProvenanceInferred marks a requirement inferred from surrounding
	// context rather than declared.
	ProvenanceInferred
	// ProvenanceOuterScope marks a requirement owned by an outer generic
	// context. It must never reach minimization.
	ProvenanceOuterScope
)

func (p Provenance) String() string {
	switch p {
	case ProvenanceExplicit:
		return "explicit"
	case ProvenanceProtocol:
		return "protocol"
	case ProvenanceRedundant:
		return "redundant"
	case ProvenanceInferred:
		return "inferred"
	case ProvenanceOuterScope:
		return "outer-scope"
	}
	return fmt.Sprintf("provenance(%d)", uint8(p))
}

// ClosureEntry is one requirement of a signature's transitive closure.
// Other holds the constraint of a conformance or the right-hand side of a
// same-type entry; it is nil for witness markers.
type ClosureEntry struct {
	Kind       RequirementKind
	Subject    Type
	Other      Type
	Provenance Provenance
}

func (e ClosureEntry) String() string {
	switch e.Kind {
	case KindWitnessMarker:
		return fmt.Sprintf("marker %s [%s]", e.Subject, e.Provenance)
	case KindConformance:
		return fmt.Sprintf("%s : %s [%s]", e.Subject, e.Other, e.Provenance)
	case KindSameType:
		return fmt.Sprintf("%s == %s [%s]", e.Subject, e.Other, e.Provenance)
	}
	return fmt.Sprintf("%s %s %s [%s]", e.Kind, e.Subject, e.Other, e.Provenance)
}

// Solver expands a signature into its full transitive requirement closure,
// tagging every entry with its provenance. The witness marker for a
// dependent type must be emitted before any entry constraining it.
type Solver interface {
	Expand(sig *GenericSignature, scope *Module) iter.Seq[ClosureEntry]
}

// dependentConstraints collects the surviving conformances of one subject:
// at most one superclass plus any number of protocols.
type dependentConstraints struct {
	superclass Type
	protocols  []Type
}

// CanonicalManglingSignature returns the minimal signature that regenerates
// the same requirement closure as s when expanded from scope: the form
// external name mangling consumes. Witness markers survive unconditionally;
// conformance and same-type requirements survive only when explicit.
// Minimization is memoized per (canonical signature, scope), since a closure
// can differ by what a scope observes.
func (s *GenericSignature) CanonicalManglingSignature(scope *Module) *GenericSignature {
	if scope == nil {
		panic("generics: mangling signature requires a lookup scope")
	}
	canonical := s.CanonicalSignature()
	ctx := canonical.ctx
	if ctx.solver == nil {
		panic("generics: context has no constraint solver")
	}
	return ctx.cache.manglingSignature(canonical, scope, func() *GenericSignature {
		return minimize(ctx, canonical, scope)
	})
}

func minimize(ctx *Context, sig *GenericSignature, scope *Module) *GenericSignature {
	var depTypes []Type
	marked := make(map[Type]bool)
	constraints := make(map[Type]*dependentConstraints)
	sameTypes := make(map[Type][]Type)

	for entry := range ctx.solver.Expand(sig, scope) {
		switch entry.Provenance {
		case ProvenanceExplicit:
		case ProvenanceProtocol:
			// Protocol-implied requirements are regenerated from the
			// conformance itself; only their markers survive.
			if entry.Kind != KindWitnessMarker {
				continue
			}
		case ProvenanceRedundant, ProvenanceInferred:
			continue
		case ProvenanceOuterScope:
			panic(fmt.Sprintf("generics: outer-scope requirement on %s in closure of %s", entry.Subject, sig))
		default:
			panic(fmt.Sprintf("generics: unknown provenance %s on %s", entry.Provenance, entry.Subject))
		}

		subject := entry.Subject.Canonical()
		switch entry.Kind {
		case KindWitnessMarker:
			if !marked[subject] {
				marked[subject] = true
				depTypes = append(depTypes, subject)
			}

		case KindConformance:
			if !marked[subject] {
				panic(fmt.Sprintf("generics: conformance on %s before its witness marker", subject))
			}
			dc := constraints[subject]
			if dc == nil {
				dc = &dependentConstraints{}
				constraints[subject] = dc
			}
			constraint := entry.Other.Canonical()
			if isConstraintType(constraint) {
				dc.protocols = append(dc.protocols, constraint)
			} else {
				if dc.superclass != nil {
					panic(fmt.Sprintf("generics: second superclass constraint on %s", subject))
				}
				dc.superclass = constraint
			}

		case KindSameType:
			if !marked[subject] {
				panic(fmt.Sprintf("generics: same-type constraint on %s before its witness marker", subject))
			}
			rep := entry.Other.Canonical()
			sameTypes[rep] = append(sameTypes[rep], subject)

		default:
			panic(fmt.Sprintf("generics: unknown closure entry kind %s", entry.Kind))
		}
	}

	// Sorting the participants fixes the output order no matter how the
	// solver enumerated the closure.
	slices.SortFunc(depTypes, CompareDependentTypes)

	minimal := make([]Requirement, 0, len(depTypes))
	for _, depTy := range depTypes {
		minimal = append(minimal, WitnessMarker{Subject: depTy})
		dc := constraints[depTy]
		if dc == nil {
			continue
		}
		if dc.superclass != nil {
			minimal = append(minimal, Conformance{Subject: depTy, Constraint: dc.superclass})
		}
		// Protocols stay in solver emission order.
		for _, proto := range dc.protocols {
			minimal = append(minimal, Conformance{Subject: depTy, Constraint: proto})
		}
	}

	// Each equivalence group equates every member with its greatest element,
	// so a concrete type, when present, lands on the right-hand side.
	var block []SameType
	for rep, members := range sameTypes {
		group := append(slices.Clone(members), rep)
		slices.SortFunc(group, CompareDependentTypes)
		rhs := group[len(group)-1]
		for _, lhs := range group[:len(group)-1] {
			block = append(block, SameType{Subject: lhs, Other: rhs})
		}
	}
	slices.SortFunc(block, func(a, b SameType) int {
		if c := CompareDependentTypes(a.Subject, b.Subject); c != 0 {
			return c
		}
		return CompareDependentTypes(a.Other, b.Other)
	})
	for _, st := range block {
		minimal = append(minimal, st)
	}

	return ctx.Signature(sig.params, minimal)
}

// isConstraintType reports whether t can appear on the protocol list of a
// conformance requirement. Anything else routes to the superclass slot.
func isConstraintType(t Type) bool {
	_, ok := t.(*ProtocolType)
	return ok
}
