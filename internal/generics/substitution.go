package generics

import "fmt"

// Substitution pairs a dependent type with its replacement. Subject may be
// nil when the pair is purely positional.
type Substitution struct {
	Subject     Type
	Replacement Type
}

// Substitutions builds a positional substitution list from replacement
// types.
func Substitutions(replacements ...Type) []Substitution {
	subs := make([]Substitution, len(replacements))
	for i, r := range replacements {
		subs[i] = Substitution{Replacement: r}
	}
	return subs
}

// SubstitutionMap maps canonical dependent types to their replacements.
type SubstitutionMap map[Type]Type

// AllDependentTypes enumerates the dependent types the signature binds:
// parameters in declaration order, then every further witnessed dependent
// type in requirement order. This is the enumeration positional
// substitution consumes.
func (s *GenericSignature) AllDependentTypes() []Type {
	all := make([]Type, 0, len(s.params))
	seen := make(map[Type]bool, len(s.params))
	for _, p := range s.params {
		if !seen[p] {
			seen[p] = true
			all = append(all, p)
		}
	}
	for _, req := range s.requirements {
		marker, ok := req.(WitnessMarker)
		if !ok {
			continue
		}
		t := marker.Subject.Canonical()
		if !seen[t] {
			seen[t] = true
			all = append(all, t)
		}
	}
	return all
}

// SubstitutionMap binds every dependent type the signature enumerates to a
// replacement, consuming the substitutions positionally. Pairs carrying an
// explicit subject seed the map first. The substitution count must match the
// enumeration exactly; a mismatch is a miscounted call site, not an input
// error.
func (s *GenericSignature) SubstitutionMap(subs []Substitution) SubstitutionMap {
	m := make(SubstitutionMap)
	if len(s.params) == 0 {
		if len(subs) != 0 {
			panic(fmt.Sprintf("generics: %d substitutions for a signature without parameters", len(subs)))
		}
		return m
	}

	for _, sub := range subs {
		if sub.Subject != nil {
			m[sub.Subject.Canonical()] = sub.Replacement
		}
	}

	rest := subs
	for _, depTy := range s.AllDependentTypes() {
		if len(rest) == 0 {
			panic(fmt.Sprintf("generics: no substitution left for %s", depTy))
		}
		m[depTy] = rest[0].Replacement
		rest = rest[1:]
	}
	if len(rest) != 0 {
		panic(fmt.Sprintf("generics: %d substitutions left over after binding every dependent type", len(rest)))
	}
	return m
}
