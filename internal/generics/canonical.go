package generics

// CanonicalSignature returns the canonical form of the signature: every
// requirement elementwise canonicalized and exact duplicates removed, with
// no closure-driven minimization. A signature that is already canonical
// returns itself. The result is memoized on the signature, so repeated calls
// return the identical object.
func (s *GenericSignature) CanonicalSignature() *GenericSignature {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.canonical.kind {
	case canonicalIsSelf:
		return s
	case canonicalComputedRef:
		return s.canonical.ref
	}

	// Parameters are canonical by construction; only the requirements need
	// work.
	canonReqs := make([]Requirement, 0, len(s.requirements))
	seen := make(map[Requirement]bool, len(s.requirements))
	for _, req := range s.requirements {
		creq := req.canonicalized()
		if seen[creq] {
			continue
		}
		seen[creq] = true
		canonReqs = append(canonReqs, creq)
	}

	canon := s.ctx.Signature(s.params, canonReqs)
	if canon == s {
		s.canonical = canonicalState{kind: canonicalIsSelf}
		return s
	}
	s.canonical = canonicalState{kind: canonicalComputedRef, ref: canon}
	return canon
}

// IsCanonicalSignature reports whether the signature is its own canonical
// form.
func (s *GenericSignature) IsCanonicalSignature() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canonical.kind == canonicalIsSelf
}

// Context returns the owning compilation context, resolved through the
// canonical form.
func (s *GenericSignature) Context() *Context {
	return s.CanonicalSignature().ctx
}
