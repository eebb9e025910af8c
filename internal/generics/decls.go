package generics

import "strings"

// Module identifies a lookup scope. Minimized signatures are cached per
// module because requirement closures can differ by what a scope observes.
// Two modules with the same name are still distinct scopes.
type Module struct {
	Name string
}

func NewModule(name string) *Module {
	return &Module{Name: name}
}

func (m *Module) String() string { return m.Name }

// ProtocolDecl declares a protocol: a named constraint with associated types
// and a requirement signature over Self.
type ProtocolDecl struct {
	Name            string
	Module          *Module
	AssociatedTypes []*AssociatedTypeDecl

	// Requirements constrain Self and its projections. Self is the generic
	// parameter (0, 0) of the protocol's own context. An inherited protocol
	// is a Conformance requirement on Self.
	Requirements []Requirement
}

func NewProtocol(module *Module, name string) *ProtocolDecl {
	return &ProtocolDecl{Name: name, Module: module}
}

// AddAssociatedType declares a new associated type on the protocol and
// returns its declaration.
func (p *ProtocolDecl) AddAssociatedType(name string) *AssociatedTypeDecl {
	assoc := &AssociatedTypeDecl{Name: name, Protocol: p}
	p.AssociatedTypes = append(p.AssociatedTypes, assoc)
	return assoc
}

// AssociatedType returns the associated type with the given name, or nil.
func (p *ProtocolDecl) AssociatedType(name string) *AssociatedTypeDecl {
	for _, assoc := range p.AssociatedTypes {
		if assoc.Name == name {
			return assoc
		}
	}
	return nil
}

func (p *ProtocolDecl) QualifiedName() string {
	return qualify(p.Module, p.Name)
}

// Compare orders protocols by module name first, then by declaration name.
// This is the protocol order the dependent-type comparator builds on.
func (p *ProtocolDecl) Compare(other *ProtocolDecl) int {
	if p == other {
		return 0
	}
	if c := strings.Compare(moduleName(p.Module), moduleName(other.Module)); c != 0 {
		return c
	}
	return strings.Compare(p.Name, other.Name)
}

func (p *ProtocolDecl) String() string { return p.QualifiedName() }

// AssociatedTypeDecl names one associated type of a protocol.
type AssociatedTypeDecl struct {
	Name     string
	Protocol *ProtocolDecl
}

func (a *AssociatedTypeDecl) String() string {
	return a.Protocol.QualifiedName() + "." + a.Name
}

// ClassDecl declares a class usable as a superclass constraint.
type ClassDecl struct {
	Name   string
	Module *Module
}

func NewClass(module *Module, name string) *ClassDecl {
	return &ClassDecl{Name: name, Module: module}
}

func (c *ClassDecl) QualifiedName() string {
	return qualify(c.Module, c.Name)
}

func (c *ClassDecl) String() string { return c.QualifiedName() }

func qualify(m *Module, name string) string {
	if m == nil {
		return name
	}
	return m.Name + "." + name
}

func moduleName(m *Module) string {
	if m == nil {
		return ""
	}
	return m.Name
}
