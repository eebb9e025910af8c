package generics

import (
	"cmp"
	"strings"
)

// CompareDependentTypes is the total order over dependent types that fixes
// the output order of minimized signatures. It returns a negative number,
// zero or a positive number as a orders before, equal to or after b.
//
// Parameters order before projections and compare by (depth, index).
// Projections compare by base, then by owning protocol, then by member name.
// Anything non-dependent orders after both, so a concrete type always ends
// up greatest inside an equivalence group. Two non-dependent types compare
// equal; at most one of them survives per group, so their relative order
// never matters.
//
// Inputs are compared by canonical form, so sugar does not affect the order.
func CompareDependentTypes(a, b Type) int {
	a = a.Canonical()
	b = b.Canonical()
	if a == b {
		return 0
	}

	pa, aParam := a.(*GenericParamType)
	pb, bParam := b.(*GenericParamType)
	if aParam || bParam {
		if aParam && bParam {
			if c := cmp.Compare(pa.Depth, pb.Depth); c != 0 {
				return c
			}
			return cmp.Compare(pa.Index, pb.Index)
		}
		if aParam {
			return -1
		}
		return 1
	}

	ma, aMember := a.(*DependentMemberType)
	mb, bMember := b.(*DependentMemberType)
	if aMember && bMember {
		// The recursion is bounded by declaration nesting depth.
		if c := CompareDependentTypes(ma.Base, mb.Base); c != 0 {
			return c
		}
		if c := ma.Assoc.Protocol.Compare(mb.Assoc.Protocol); c != 0 {
			return c
		}
		return strings.Compare(ma.Assoc.Name, mb.Assoc.Name)
	}
	if aMember {
		return -1
	}
	if bMember {
		return 1
	}
	return 0
}
