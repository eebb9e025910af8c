package generics

import "strings"

func (r WitnessMarker) String() string {
	return "marker " + r.Subject.String()
}

func (r Conformance) String() string {
	return r.Subject.String() + " : " + r.Constraint.String()
}

func (r SameType) String() string {
	return r.Subject.String() + " == " + r.Other.String()
}

// String renders the signature in where-clause form, e.g.
// <τ_0_0, τ_0_1 where τ_0_0 : Sequence, τ_0_1 == Int>. Witness markers are
// structural and omitted; iterate Requirements to see them.
func (s *GenericSignature) String() string {
	var sb strings.Builder
	sb.WriteByte('<')
	for i, p := range s.params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.String())
	}
	wroteWhere := false
	for _, req := range s.requirements {
		if _, ok := req.(WitnessMarker); ok {
			continue
		}
		if !wroteWhere {
			sb.WriteString(" where ")
			wroteWhere = true
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(req.String())
	}
	sb.WriteByte('>')
	return sb.String()
}
