package vars

import (
	"fmt"
	"strings"

	"github.com/born-ml/blocks/internal/tensor"
)

// Scope is a handle on a namespace within a Registry. Scopes are values:
// In returns a new handle and never changes the receiver.
type Scope struct {
	reg  *Registry
	path string
}

// Root returns the root scope of the registry.
func (r *Registry) Root() *Scope {
	return &Scope{reg: r}
}

// Scope returns the scope at path, whose elements are separated by
// ScopeSeparator. An empty path is the root scope.
func (r *Registry) Scope(path string) *Scope {
	s := r.Root()
	if path == "" {
		return s
	}
	for _, elem := range strings.Split(path, ScopeSeparator) {
		s = s.In(elem)
	}
	return s
}

// In returns a child scope.
//
// Panics if name is empty or contains ScopeSeparator: scope names are part
// of the model definition, not runtime input.
func (s *Scope) In(name string) *Scope {
	if name == "" {
		panic("vars: cannot use empty scope name")
	}
	if strings.Contains(name, ScopeSeparator) {
		panic(fmt.Sprintf("vars: scope name %q contains separator %q", name, ScopeSeparator))
	}
	return &Scope{reg: s.reg, path: JoinScope(s.path, name)}
}

// Inf is In with a fmt.Sprintf formatted name.
func (s *Scope) Inf(format string, args ...any) *Scope {
	return s.In(fmt.Sprintf(format, args...))
}

// Path returns the full scope path; "" for the root.
func (s *Scope) Path() string {
	return s.path
}

// Registry returns the registry the scope belongs to.
func (s *Scope) Registry() *Registry {
	return s.reg
}

// Variable gets or creates the parameter name in this scope.
// See Registry.GetOrCreate.
func (s *Scope) Variable(name string, shape tensor.Shape, dtype tensor.DataType, init Initializer) (*Parameter, error) {
	return s.reg.GetOrCreate(s.path, name, shape, dtype, init)
}

// String returns the scope path, "/" for the root.
func (s *Scope) String() string {
	if s.path == "" {
		return ScopeSeparator
	}
	return s.path
}
