package solver

import (
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/taulang/tau/internal/generics"
)

// world wires a context against this solver plus two protocols in module
// Core: P with associated types A and B and the requirement Self.A : Q, and
// Q with associated type A.
type world struct {
	ctx *generics.Context
	mod *generics.Module
	p   *generics.ProtocolDecl
	q   *generics.ProtocolDecl
}

func newWorld() *world {
	ctx := generics.NewContext(New())
	mod := generics.NewModule("Core")

	q := generics.NewProtocol(mod, "Q")
	q.AddAssociatedType("A")

	p := generics.NewProtocol(mod, "P")
	p.AddAssociatedType("A")
	p.AddAssociatedType("B")
	selfTy := ctx.GenericParam(0, 0)
	p.Requirements = []generics.Requirement{
		generics.Conformance{
			Subject:    ctx.DependentMember(selfTy, p.AssociatedType("A")),
			Constraint: ctx.Protocol(q),
		},
	}

	return &world{ctx: ctx, mod: mod, p: p, q: q}
}

func expandStrings(sig *generics.GenericSignature, scope *generics.Module) []string {
	var got []string
	for entry := range New().Expand(sig, scope) {
		got = append(got, entry.String())
	}
	return got
}

func checkEntries(t *testing.T, got, want []string) {
	t.Helper()
	if !slices.Equal(got, want) {
		t.Errorf("closure mismatch\ngot:\n  %s\nwant:\n  %s",
			strings.Join(got, "\n  "), strings.Join(want, "\n  "))
	}
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

func TestExpandEmptySignature(t *testing.T) {
	w := newWorld()
	sig := w.ctx.Signature(nil, nil)
	if got := expandStrings(sig, w.mod); len(got) != 0 {
		t.Errorf("closure of the empty signature = %v, want none", got)
	}
}

func TestExpandProtocolClosure(t *testing.T) {
	w := newWorld()
	t00 := w.ctx.GenericParam(0, 0)
	sig := w.ctx.Signature([]*generics.GenericParamType{t00}, []generics.Requirement{
		generics.WitnessMarker{Subject: t00},
		generics.Conformance{Subject: t00, Constraint: w.ctx.Protocol(w.p)},
	})

	checkEntries(t, expandStrings(sig, w.mod), []string{
		"marker τ_0_0 [explicit]",
		"τ_0_0 : P [explicit]",
		"marker τ_0_0.[P]A [protocol]",
		"τ_0_0.[P]A : Q [protocol]",
		"marker τ_0_0.[P]B [protocol]",
		"marker τ_0_0.[P]A.[Q]A [protocol]",
	})

	mangling := sig.CanonicalManglingSignature(w.mod)
	wantReqs := []generics.Requirement{
		generics.WitnessMarker{Subject: t00},
		generics.Conformance{Subject: t00, Constraint: w.ctx.Protocol(w.p)},
		generics.WitnessMarker{Subject: w.ctx.DependentMember(t00, w.p.AssociatedType("A"))},
		generics.WitnessMarker{Subject: w.ctx.DependentMember(t00, w.p.AssociatedType("B"))},
		generics.WitnessMarker{Subject: w.ctx.DependentMember(
			w.ctx.DependentMember(t00, w.p.AssociatedType("A")), w.q.AssociatedType("A"))},
	}
	got := mangling.Requirements()
	if len(got) != len(wantReqs) {
		t.Fatalf("mangling requirements = %v, want %v", got, wantReqs)
	}
	for i := range wantReqs {
		if got[i] != wantReqs[i] {
			t.Errorf("requirement %d = %s, want %s", i, got[i], wantReqs[i])
		}
	}
}

func TestExpandInheritedConformanceRedundant(t *testing.T) {
	w := newWorld()
	r := generics.NewProtocol(w.mod, "R")
	r.Requirements = []generics.Requirement{
		generics.Conformance{Subject: w.ctx.GenericParam(0, 0), Constraint: w.ctx.Protocol(w.q)},
	}

	t00 := w.ctx.GenericParam(0, 0)
	sig := w.ctx.Signature([]*generics.GenericParamType{t00}, []generics.Requirement{
		generics.WitnessMarker{Subject: t00},
		generics.Conformance{Subject: t00, Constraint: w.ctx.Protocol(r)},
		generics.Conformance{Subject: t00, Constraint: w.ctx.Protocol(w.q)},
	})

	checkEntries(t, expandStrings(sig, w.mod), []string{
		"marker τ_0_0 [explicit]",
		"τ_0_0 : R [explicit]",
		"τ_0_0 : Q [protocol]",
		"τ_0_0 : Q [redundant]",
		"marker τ_0_0.[Q]A [protocol]",
	})

	// The explicit restatement of the inherited conformance drops out.
	mangling := sig.CanonicalManglingSignature(w.mod)
	want := "<τ_0_0 where τ_0_0 : R>"
	if got := mangling.String(); got != want {
		t.Errorf("mangling signature = %s, want %s", got, want)
	}
}

func TestExpandSameTypeConcrete(t *testing.T) {
	w := newWorld()
	t00 := w.ctx.GenericParam(0, 0)
	intTy := w.ctx.Builtin("Int")
	sig := w.ctx.Signature([]*generics.GenericParamType{t00}, []generics.Requirement{
		generics.WitnessMarker{Subject: t00},
		generics.SameType{Subject: t00, Other: intTy},
	})

	checkEntries(t, expandStrings(sig, w.mod), []string{
		"marker τ_0_0 [explicit]",
		"τ_0_0 == Int [explicit]",
	})

	mangling := sig.CanonicalManglingSignature(w.mod)
	wantReqs := []generics.Requirement{
		generics.WitnessMarker{Subject: t00},
		generics.SameType{Subject: t00, Other: intTy},
	}
	got := mangling.Requirements()
	if len(got) != len(wantReqs) {
		t.Fatalf("mangling requirements = %v, want %v", got, wantReqs)
	}
	for i := range wantReqs {
		if got[i] != wantReqs[i] {
			t.Errorf("requirement %d = %s, want %s", i, got[i], wantReqs[i])
		}
	}
}

func TestExpandSameTypeChain(t *testing.T) {
	w := newWorld()
	t00 := w.ctx.GenericParam(0, 0)
	t01 := w.ctx.GenericParam(0, 1)
	t02 := w.ctx.GenericParam(0, 2)
	sig := w.ctx.Signature([]*generics.GenericParamType{t00, t01, t02}, []generics.Requirement{
		generics.WitnessMarker{Subject: t00},
		generics.WitnessMarker{Subject: t01},
		generics.WitnessMarker{Subject: t02},
		generics.SameType{Subject: t01, Other: t00},
		generics.SameType{Subject: t02, Other: t01},
	})

	// The solver equates everything to the least member; minimization then
	// re-emits with the greatest member on the right.
	checkEntries(t, expandStrings(sig, w.mod), []string{
		"marker τ_0_0 [explicit]",
		"marker τ_0_1 [explicit]",
		"marker τ_0_2 [explicit]",
		"τ_0_1 == τ_0_0 [explicit]",
		"τ_0_2 == τ_0_0 [explicit]",
	})

	mangling := sig.CanonicalManglingSignature(w.mod)
	want := "<τ_0_0, τ_0_1, τ_0_2 where τ_0_0 == τ_0_2, τ_0_1 == τ_0_2>"
	if got := mangling.String(); got != want {
		t.Errorf("mangling signature = %s, want %s", got, want)
	}
}

func TestExpandConflictingConcretePanics(t *testing.T) {
	w := newWorld()
	t00 := w.ctx.GenericParam(0, 0)
	sig := w.ctx.Signature([]*generics.GenericParamType{t00}, []generics.Requirement{
		generics.WitnessMarker{Subject: t00},
		generics.SameType{Subject: t00, Other: w.ctx.Builtin("Int")},
		generics.SameType{Subject: t00, Other: w.ctx.Builtin("String")},
	})
	mustPanic(t, "conflicting concrete types", func() {
		expandStrings(sig, w.mod)
	})
}

func TestExpandRecursiveConformancePanics(t *testing.T) {
	w := newWorld()
	rec := generics.NewProtocol(w.mod, "Rec")
	assoc := rec.AddAssociatedType("A")
	selfTy := w.ctx.GenericParam(0, 0)
	rec.Requirements = []generics.Requirement{
		generics.Conformance{
			Subject:    w.ctx.DependentMember(selfTy, assoc),
			Constraint: w.ctx.Protocol(rec),
		},
	}

	t00 := w.ctx.GenericParam(0, 0)
	sig := w.ctx.Signature([]*generics.GenericParamType{t00}, []generics.Requirement{
		generics.WitnessMarker{Subject: t00},
		generics.Conformance{Subject: t00, Constraint: w.ctx.Protocol(rec)},
	})
	mustPanic(t, "recursive protocol constraints", func() {
		expandStrings(sig, w.mod)
	})
}

func TestExpandDeterministic(t *testing.T) {
	w := newWorld()
	t00 := w.ctx.GenericParam(0, 0)
	t01 := w.ctx.GenericParam(0, 1)
	sig := w.ctx.Signature([]*generics.GenericParamType{t00, t01}, []generics.Requirement{
		generics.WitnessMarker{Subject: t00},
		generics.WitnessMarker{Subject: t01},
		generics.Conformance{Subject: t00, Constraint: w.ctx.Protocol(w.p)},
		generics.SameType{Subject: t01, Other: w.ctx.DependentMember(t00, w.p.AssociatedType("B"))},
	})

	first := expandStrings(sig, w.mod)
	second := expandStrings(sig, w.mod)
	if !slices.Equal(first, second) {
		t.Errorf("two expansions differ:\n%v\n%v", first, second)
	}
	// The closure does not depend on the scope, only the caches upstream do.
	other := expandStrings(sig, generics.NewModule("Elsewhere"))
	if !slices.Equal(first, other) {
		t.Errorf("closure differs across scopes:\n%v\n%v", first, other)
	}
}
