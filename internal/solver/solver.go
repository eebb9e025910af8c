package solver

import (
	"fmt"
	"iter"

	"github.com/taulang/tau/internal/generics"
)

// maxProjectionDepth bounds protocol expansion. Well-formed declarations
// stay far below it; recursive conformance chains (an associated type
// conforming to its own protocol) would otherwise spin forever.
const maxProjectionDepth = 32

// Solver expands a generic signature into its full transitive requirement
// closure: explicit requirements, everything implied by protocol requirement
// signatures, and a provenance tag on each entry. It implements
// generics.Solver.
//
// The closure it produces is scope-independent: every declaration is
// observable from every scope here. Scope-sensitive callers still cache per
// scope upstream.
type Solver struct{}

func New() *Solver {
	return &Solver{}
}

func (s *Solver) Expand(sig *generics.GenericSignature, scope *generics.Module) iter.Seq[generics.ClosureEntry] {
	return func(yield func(generics.ClosureEntry) bool) {
		e := newExpansion(sig)
		e.run()
		e.emit(yield)
	}
}

type conformance struct {
	constraint generics.Type
	provenance generics.Provenance
}

type conformanceKey struct {
	subject    generics.Type
	constraint generics.Type
}

type sameTypeEdge struct {
	subject    generics.Type
	other      generics.Type
	provenance generics.Provenance
}

// expansion accumulates the closure of one signature. All types it stores
// are canonical, so map keys compare by identity.
type expansion struct {
	ctx *generics.Context
	sig *generics.GenericSignature

	subjects        []generics.Type
	markerProv      map[generics.Type]generics.Provenance
	conformances    map[generics.Type][]conformance
	conformanceSeen map[conformanceKey]bool

	edges     []sameTypeEdge
	edgeTypes []generics.Type
	edgeSeen  map[generics.Type]bool
	parent    map[generics.Type]generics.Type
	concrete  map[generics.Type]generics.Type
}

func newExpansion(sig *generics.GenericSignature) *expansion {
	return &expansion{
		ctx:             sig.Context(),
		sig:             sig,
		markerProv:      make(map[generics.Type]generics.Provenance),
		conformances:    make(map[generics.Type][]conformance),
		conformanceSeen: make(map[conformanceKey]bool),
		edgeSeen:        make(map[generics.Type]bool),
		parent:          make(map[generics.Type]generics.Type),
		concrete:        make(map[generics.Type]generics.Type),
	}
}

func (e *expansion) run() {
	canonical := e.sig.CanonicalSignature()
	for _, p := range canonical.Params() {
		e.addSubject(p, generics.ProvenanceExplicit)
	}
	for _, req := range canonical.Requirements() {
		switch r := req.(type) {
		case generics.WitnessMarker:
			e.addSubject(r.Subject.Canonical(), generics.ProvenanceExplicit)
		case generics.Conformance:
			subject := r.Subject.Canonical()
			e.addSubject(subject, generics.ProvenanceExplicit)
			e.addConformance(subject, r.Constraint.Canonical(), generics.ProvenanceExplicit)
		case generics.SameType:
			subject := r.Subject.Canonical()
			e.addSubject(subject, generics.ProvenanceExplicit)
			other := r.Other.Canonical()
			if generics.IsDependentType(other) {
				e.addSubject(other, generics.ProvenanceExplicit)
			}
			e.addEdge(subject, other, generics.ProvenanceExplicit)
		default:
			panic(fmt.Sprintf("solver: unknown requirement %T in %s", req, canonical))
		}
	}
	e.resolveEdges()
}

// addSubject registers a dependent type as a closure participant. The first
// registration fixes the marker provenance.
func (e *expansion) addSubject(subject generics.Type, prov generics.Provenance) {
	if _, ok := e.markerProv[subject]; ok {
		return
	}
	e.markerProv[subject] = prov
	e.subjects = append(e.subjects, subject)
}

// addConformance records subject : constraint and, for a protocol, expands
// the protocol's requirement signature immediately. A conformance that is
// already present is recorded again tagged redundant, so an explicit
// restatement of an inherited conformance drops out of minimization.
func (e *expansion) addConformance(subject, constraint generics.Type, prov generics.Provenance) {
	key := conformanceKey{subject: subject, constraint: constraint}
	if e.conformanceSeen[key] {
		prov = generics.ProvenanceRedundant
		e.conformances[subject] = append(e.conformances[subject], conformance{constraint: constraint, provenance: prov})
		return
	}
	e.conformanceSeen[key] = true
	e.conformances[subject] = append(e.conformances[subject], conformance{constraint: constraint, provenance: prov})

	if protoTy, ok := constraint.(*generics.ProtocolType); ok {
		e.expandConformance(subject, protoTy.Decl)
	}
}

// expandConformance instantiates proto's requirement signature with
// Self := subject.
func (e *expansion) expandConformance(subject generics.Type, proto *generics.ProtocolDecl) {
	if projectionDepth(subject) >= maxProjectionDepth {
		panic(fmt.Sprintf("solver: expansion of %s : %s exceeds depth %d, recursive protocol constraints", subject, proto.QualifiedName(), maxProjectionDepth))
	}

	// Every associated type of a conformed protocol is a witnessed
	// projection.
	for _, assoc := range proto.AssociatedTypes {
		e.addSubject(e.ctx.DependentMember(subject, assoc), generics.ProvenanceProtocol)
	}

	for _, req := range proto.Requirements {
		switch r := req.(type) {
		case generics.WitnessMarker:
			e.addSubject(e.substSelf(r.Subject.Canonical(), subject), generics.ProvenanceProtocol)
		case generics.Conformance:
			target := e.substSelf(r.Subject.Canonical(), subject)
			e.addSubject(target, generics.ProvenanceProtocol)
			e.addConformance(target, r.Constraint.Canonical(), generics.ProvenanceProtocol)
		case generics.SameType:
			target := e.substSelf(r.Subject.Canonical(), subject)
			e.addSubject(target, generics.ProvenanceProtocol)
			other := e.substSelf(r.Other.Canonical(), subject)
			if generics.IsDependentType(other) {
				e.addSubject(other, generics.ProvenanceProtocol)
			}
			e.addEdge(target, other, generics.ProvenanceProtocol)
		default:
			panic(fmt.Sprintf("solver: unknown requirement %T on protocol %s", req, proto.QualifiedName()))
		}
	}
}

// substSelf rewrites a protocol requirement type, replacing the protocol's
// Self parameter (0, 0) with subject. Concrete types pass through.
func (e *expansion) substSelf(t generics.Type, subject generics.Type) generics.Type {
	switch ty := t.(type) {
	case *generics.GenericParamType:
		if ty.Depth == 0 && ty.Index == 0 {
			return subject
		}
		panic(fmt.Sprintf("solver: protocol requirement mentions foreign parameter %s", ty))
	case *generics.DependentMemberType:
		return e.ctx.DependentMember(e.substSelf(ty.Base, subject), ty.Assoc)
	default:
		return t
	}
}

func (e *expansion) addEdge(subject, other generics.Type, prov generics.Provenance) {
	e.edges = append(e.edges, sameTypeEdge{subject: subject, other: other, provenance: prov})
	e.touchEdgeType(subject)
	if generics.IsDependentType(other) {
		e.touchEdgeType(other)
	}
}

func (e *expansion) touchEdgeType(t generics.Type) {
	if e.edgeSeen[t] {
		return
	}
	e.edgeSeen[t] = true
	e.edgeTypes = append(e.edgeTypes, t)
	e.parent[t] = t
}

// resolveEdges unions the same-type edges into equivalence groups and binds
// each group's concrete type, if any.
func (e *expansion) resolveEdges() {
	for _, edge := range e.edges {
		if generics.IsDependentType(edge.other) {
			e.union(edge.subject, edge.other)
		}
	}
	for _, edge := range e.edges {
		if generics.IsDependentType(edge.other) {
			continue
		}
		root := e.find(edge.subject)
		if existing, ok := e.concrete[root]; ok {
			if existing != edge.other {
				panic(fmt.Sprintf("solver: conflicting concrete types %s and %s in one same-type group", existing, edge.other))
			}
			continue
		}
		e.concrete[root] = edge.other
	}
}

func (e *expansion) find(t generics.Type) generics.Type {
	for e.parent[t] != t {
		e.parent[t] = e.parent[e.parent[t]]
		t = e.parent[t]
	}
	return t
}

func (e *expansion) union(a, b generics.Type) {
	ra, rb := e.find(a), e.find(b)
	if ra != rb {
		e.parent[ra] = rb
	}
}

// representative picks the type the rest of a group equates to: the bound
// concrete type when present, otherwise the least member.
func (e *expansion) representative(root generics.Type) generics.Type {
	if c, ok := e.concrete[root]; ok {
		return c
	}
	var rep generics.Type
	for _, t := range e.edgeTypes {
		if e.find(t) != root {
			continue
		}
		if rep == nil || generics.CompareDependentTypes(t, rep) < 0 {
			rep = t
		}
	}
	return rep
}

// emit yields the closure: per participant its marker then its conformances
// in arrival order, then one same-type entry per non-representative group
// member. Markers always precede the entries constraining their subject.
func (e *expansion) emit(yield func(generics.ClosureEntry) bool) {
	for _, subject := range e.subjects {
		if !yield(generics.ClosureEntry{
			Kind:       generics.KindWitnessMarker,
			Subject:    subject,
			Provenance: e.markerProv[subject],
		}) {
			return
		}
		for _, c := range e.conformances[subject] {
			if !yield(generics.ClosureEntry{
				Kind:       generics.KindConformance,
				Subject:    subject,
				Other:      c.constraint,
				Provenance: c.provenance,
			}) {
				return
			}
		}
	}

	emitted := make(map[generics.Type]bool)
	for _, edge := range e.edges {
		members := []generics.Type{edge.subject}
		if generics.IsDependentType(edge.other) {
			members = append(members, edge.other)
		}
		for _, member := range members {
			rep := e.representative(e.find(member))
			if rep == member || emitted[member] {
				continue
			}
			emitted[member] = true
			if !yield(generics.ClosureEntry{
				Kind:       generics.KindSameType,
				Subject:    member,
				Other:      rep,
				Provenance: edge.provenance,
			}) {
				return
			}
		}
	}
}

func projectionDepth(t generics.Type) int {
	depth := 0
	for {
		member, ok := t.(*generics.DependentMemberType)
		if !ok {
			return depth
		}
		depth++
		t = member.Base
	}
}
