package generics

import (
	"fmt"
	"iter"
	"slices"
	"strings"
	"testing"

	"github.com/google/uuid"
)

// stubSolver replays a scripted closure, whatever the signature. Solver
// behaviour itself is tested in internal/solver; these tests pin down how
// minimization filters, classifies and orders what the solver hands it.
type stubSolver struct {
	entries []ClosureEntry
}

func (s stubSolver) Expand(sig *GenericSignature, scope *Module) iter.Seq[ClosureEntry] {
	return slices.Values(s.entries)
}

func mustPanic(t *testing.T, want string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic containing %q", want)
		}
		if msg := fmt.Sprint(r); !strings.Contains(msg, want) {
			t.Errorf("panic = %q, want it to contain %q", msg, want)
		}
	}()
	fn()
}

func checkRequirements(t *testing.T, sig *GenericSignature, want []Requirement) {
	t.Helper()
	got := sig.Requirements()
	if len(got) != len(want) {
		t.Fatalf("requirements = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("requirement %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestManglingDropsRedundantDuplicate(t *testing.T) {
	w := newTestWorld(nil)
	ctx := w.ctx
	t00 := ctx.GenericParam(0, 0)
	protoTy := ctx.Protocol(w.protoP)
	ctx.solver = stubSolver{entries: []ClosureEntry{
		{Kind: KindWitnessMarker, Subject: t00, Provenance: ProvenanceExplicit},
		{Kind: KindConformance, Subject: t00, Other: protoTy, Provenance: ProvenanceExplicit},
		{Kind: KindConformance, Subject: t00, Other: protoTy, Provenance: ProvenanceRedundant},
	}}

	sig := ctx.Signature([]*GenericParamType{t00}, []Requirement{
		WitnessMarker{Subject: t00},
		Conformance{Subject: t00, Constraint: protoTy},
		Conformance{Subject: t00, Constraint: protoTy},
	})
	mangling := sig.CanonicalManglingSignature(NewModule("Main"))
	checkRequirements(t, mangling, []Requirement{
		WitnessMarker{Subject: t00},
		Conformance{Subject: t00, Constraint: protoTy},
	})
}

func TestManglingKeepsProtocolMarkersOnly(t *testing.T) {
	w := newTestWorld(nil)
	ctx := w.ctx
	t00 := ctx.GenericParam(0, 0)
	elem := ctx.DependentMember(t00, w.protoP.AssociatedType("A"))
	protoTy := ctx.Protocol(w.protoP)
	qTy := ctx.Protocol(w.protoQ)
	ctx.solver = stubSolver{entries: []ClosureEntry{
		{Kind: KindWitnessMarker, Subject: t00, Provenance: ProvenanceExplicit},
		{Kind: KindConformance, Subject: t00, Other: protoTy, Provenance: ProvenanceExplicit},
		{Kind: KindWitnessMarker, Subject: elem, Provenance: ProvenanceProtocol},
		{Kind: KindConformance, Subject: elem, Other: qTy, Provenance: ProvenanceProtocol},
		{Kind: KindSameType, Subject: elem, Other: ctx.Builtin("Int"), Provenance: ProvenanceInferred},
	}}

	sig := ctx.Signature([]*GenericParamType{t00}, []Requirement{
		WitnessMarker{Subject: t00},
		Conformance{Subject: t00, Constraint: protoTy},
	})
	mangling := sig.CanonicalManglingSignature(NewModule("Main"))
	checkRequirements(t, mangling, []Requirement{
		WitnessMarker{Subject: t00},
		Conformance{Subject: t00, Constraint: protoTy},
		WitnessMarker{Subject: elem},
	})
}

func TestManglingSameTypeConcreteRHS(t *testing.T) {
	w := newTestWorld(nil)
	ctx := w.ctx
	t00 := ctx.GenericParam(0, 0)
	intTy := ctx.Builtin("Int")
	ctx.solver = stubSolver{entries: []ClosureEntry{
		{Kind: KindWitnessMarker, Subject: t00, Provenance: ProvenanceExplicit},
		{Kind: KindSameType, Subject: t00, Other: intTy, Provenance: ProvenanceExplicit},
	}}

	sig := ctx.Signature([]*GenericParamType{t00}, []Requirement{
		WitnessMarker{Subject: t00},
		SameType{Subject: t00, Other: intTy},
	})
	mangling := sig.CanonicalManglingSignature(NewModule("Main"))
	checkRequirements(t, mangling, []Requirement{
		WitnessMarker{Subject: t00},
		SameType{Subject: t00, Other: intTy},
	})
}

func TestManglingEquivalenceGroupPopsGreatest(t *testing.T) {
	w := newTestWorld(nil)
	ctx := w.ctx
	t00 := ctx.GenericParam(0, 0)
	t01 := ctx.GenericParam(0, 1)
	t02 := ctx.GenericParam(0, 2)
	params := []*GenericParamType{t00, t01, t02}
	ctx.solver = stubSolver{entries: []ClosureEntry{
		{Kind: KindWitnessMarker, Subject: t00, Provenance: ProvenanceExplicit},
		{Kind: KindWitnessMarker, Subject: t01, Provenance: ProvenanceExplicit},
		{Kind: KindWitnessMarker, Subject: t02, Provenance: ProvenanceExplicit},
		{Kind: KindSameType, Subject: t01, Other: t00, Provenance: ProvenanceExplicit},
		{Kind: KindSameType, Subject: t02, Other: t00, Provenance: ProvenanceExplicit},
	}}

	sig := ctx.Signature(params, []Requirement{
		WitnessMarker{Subject: t00},
		WitnessMarker{Subject: t01},
		WitnessMarker{Subject: t02},
		SameType{Subject: t01, Other: t00},
		SameType{Subject: t02, Other: t00},
	})
	mangling := sig.CanonicalManglingSignature(NewModule("Main"))
	// The greatest member τ_0_2 becomes the shared right-hand side.
	checkRequirements(t, mangling, []Requirement{
		WitnessMarker{Subject: t00},
		WitnessMarker{Subject: t01},
		WitnessMarker{Subject: t02},
		SameType{Subject: t00, Other: t02},
		SameType{Subject: t01, Other: t02},
	})
}

func TestManglingParticipantsSorted(t *testing.T) {
	w := newTestWorld(nil)
	ctx := w.ctx
	t00 := ctx.GenericParam(0, 0)
	t01 := ctx.GenericParam(0, 1)
	protoTy := ctx.Protocol(w.protoP)
	ctx.solver = stubSolver{entries: []ClosureEntry{
		{Kind: KindWitnessMarker, Subject: t01, Provenance: ProvenanceExplicit},
		{Kind: KindConformance, Subject: t01, Other: protoTy, Provenance: ProvenanceExplicit},
		{Kind: KindWitnessMarker, Subject: t00, Provenance: ProvenanceExplicit},
	}}

	sig := ctx.Signature([]*GenericParamType{t00, t01}, []Requirement{
		WitnessMarker{Subject: t00},
		WitnessMarker{Subject: t01},
		Conformance{Subject: t01, Constraint: protoTy},
	})
	mangling := sig.CanonicalManglingSignature(NewModule("Main"))
	checkRequirements(t, mangling, []Requirement{
		WitnessMarker{Subject: t00},
		WitnessMarker{Subject: t01},
		Conformance{Subject: t01, Constraint: protoTy},
	})
}

func TestManglingSuperclassBeforeProtocols(t *testing.T) {
	w := newTestWorld(nil)
	ctx := w.ctx
	t00 := ctx.GenericParam(0, 0)
	classTy := ctx.Class(NewClass(NewModule("Zoo"), "Animal"))
	pTy := ctx.Protocol(w.protoP)
	qTy := ctx.Protocol(w.protoQ)
	// Protocols arrive out of name order and after the superclass; the
	// emitted block keeps the superclass first and the solver's protocol
	// order untouched.
	ctx.solver = stubSolver{entries: []ClosureEntry{
		{Kind: KindWitnessMarker, Subject: t00, Provenance: ProvenanceExplicit},
		{Kind: KindConformance, Subject: t00, Other: qTy, Provenance: ProvenanceExplicit},
		{Kind: KindConformance, Subject: t00, Other: classTy, Provenance: ProvenanceExplicit},
		{Kind: KindConformance, Subject: t00, Other: pTy, Provenance: ProvenanceExplicit},
	}}

	sig := ctx.Signature([]*GenericParamType{t00}, []Requirement{
		WitnessMarker{Subject: t00},
		Conformance{Subject: t00, Constraint: qTy},
		Conformance{Subject: t00, Constraint: classTy},
		Conformance{Subject: t00, Constraint: pTy},
	})
	mangling := sig.CanonicalManglingSignature(NewModule("Main"))
	checkRequirements(t, mangling, []Requirement{
		WitnessMarker{Subject: t00},
		Conformance{Subject: t00, Constraint: classTy},
		Conformance{Subject: t00, Constraint: qTy},
		Conformance{Subject: t00, Constraint: pTy},
	})
}

func TestManglingSameTypeBlockSorted(t *testing.T) {
	w := newTestWorld(nil)
	ctx := w.ctx
	t00 := ctx.GenericParam(0, 0)
	t01 := ctx.GenericParam(0, 1)
	intTy := ctx.Builtin("Int")
	strTy := ctx.Builtin("String")
	// Two groups, emitted in reverse participant order.
	ctx.solver = stubSolver{entries: []ClosureEntry{
		{Kind: KindWitnessMarker, Subject: t00, Provenance: ProvenanceExplicit},
		{Kind: KindWitnessMarker, Subject: t01, Provenance: ProvenanceExplicit},
		{Kind: KindSameType, Subject: t01, Other: strTy, Provenance: ProvenanceExplicit},
		{Kind: KindSameType, Subject: t00, Other: intTy, Provenance: ProvenanceExplicit},
	}}

	sig := ctx.Signature([]*GenericParamType{t00, t01}, []Requirement{
		WitnessMarker{Subject: t00},
		WitnessMarker{Subject: t01},
		SameType{Subject: t01, Other: strTy},
		SameType{Subject: t00, Other: intTy},
	})
	mangling := sig.CanonicalManglingSignature(NewModule("Main"))
	checkRequirements(t, mangling, []Requirement{
		WitnessMarker{Subject: t00},
		WitnessMarker{Subject: t01},
		SameType{Subject: t00, Other: intTy},
		SameType{Subject: t01, Other: strTy},
	})
}

func TestManglingEmptySignature(t *testing.T) {
	ctx := NewContext(stubSolver{})
	sig := ctx.Signature(nil, nil)
	if got := sig.CanonicalManglingSignature(NewModule("Main")); got != sig {
		t.Errorf("mangling form of the empty signature = %s, want the signature itself", got)
	}
}

func TestManglingCached(t *testing.T) {
	w := newTestWorld(nil)
	ctx := w.ctx
	t00 := ctx.GenericParam(0, 0)
	ctx.solver = stubSolver{entries: []ClosureEntry{
		{Kind: KindWitnessMarker, Subject: t00, Provenance: ProvenanceExplicit},
	}}
	sig := ctx.Signature([]*GenericParamType{t00}, []Requirement{
		WitnessMarker{Subject: t00},
	})

	scope := NewModule(uuid.NewString())
	first := sig.CanonicalManglingSignature(scope)
	if second := sig.CanonicalManglingSignature(scope); second != first {
		t.Errorf("repeated mangling returned a different object")
	}
	if ctx.Cache().Len() != 1 {
		t.Errorf("cache size = %d, want 1", ctx.Cache().Len())
	}

	// A different scope is a different cache entry, even when the closure
	// happens to match.
	other := NewModule(uuid.NewString())
	if sig.CanonicalManglingSignature(other) != first {
		t.Errorf("identical closures should intern to the same signature")
	}
	if ctx.Cache().Len() != 2 {
		t.Errorf("cache size = %d, want 2", ctx.Cache().Len())
	}
}

func TestManglingFatalViolations(t *testing.T) {
	w := newTestWorld(nil)
	ctx := w.ctx
	t00 := ctx.GenericParam(0, 0)
	protoTy := ctx.Protocol(w.protoP)
	classA := ctx.Class(NewClass(NewModule("Zoo"), "Animal"))
	classB := ctx.Class(NewClass(NewModule("Zoo"), "Plant"))
	sig := ctx.Signature([]*GenericParamType{t00}, []Requirement{
		WitnessMarker{Subject: t00},
	})
	scope := NewModule("Main")

	tests := []struct {
		name    string
		entries []ClosureEntry
		want    string
	}{
		{
			name: "outer scope requirement",
			entries: []ClosureEntry{
				{Kind: KindWitnessMarker, Subject: t00, Provenance: ProvenanceOuterScope},
			},
			want: "outer-scope requirement",
		},
		{
			name: "second superclass",
			entries: []ClosureEntry{
				{Kind: KindWitnessMarker, Subject: t00, Provenance: ProvenanceExplicit},
				{Kind: KindConformance, Subject: t00, Other: classA, Provenance: ProvenanceExplicit},
				{Kind: KindConformance, Subject: t00, Other: classB, Provenance: ProvenanceExplicit},
			},
			want: "second superclass constraint",
		},
		{
			name: "conformance before marker",
			entries: []ClosureEntry{
				{Kind: KindConformance, Subject: t00, Other: protoTy, Provenance: ProvenanceExplicit},
			},
			want: "before its witness marker",
		},
		{
			name: "same-type before marker",
			entries: []ClosureEntry{
				{Kind: KindSameType, Subject: t00, Other: ctx.Builtin("Int"), Provenance: ProvenanceExplicit},
			},
			want: "before its witness marker",
		},
		{
			name: "unknown provenance",
			entries: []ClosureEntry{
				{Kind: KindWitnessMarker, Subject: t00, Provenance: Provenance(42)},
			},
			want: "unknown provenance",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx.solver = stubSolver{entries: tt.entries}
			// A fresh scope per case defeats the cache.
			scope = NewModule(uuid.NewString())
			mustPanic(t, tt.want, func() {
				sig.CanonicalManglingSignature(scope)
			})
		})
	}
}

func TestManglingRequiresScopeAndSolver(t *testing.T) {
	ctx := NewContext(nil)
	t00 := ctx.GenericParam(0, 0)
	sig := ctx.Signature([]*GenericParamType{t00}, []Requirement{
		WitnessMarker{Subject: t00},
	})

	mustPanic(t, "lookup scope", func() {
		sig.CanonicalManglingSignature(nil)
	})
	mustPanic(t, "no constraint solver", func() {
		sig.CanonicalManglingSignature(NewModule("Main"))
	})
}
