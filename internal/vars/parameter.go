package vars

import (
	"github.com/pkg/errors"

	"github.com/born-ml/blocks/internal/tensor"
)

// Parameter is a named, scope-qualified persistent tensor: a kernel, a
// weight or a bias.
//
// Identity is the (scope, name) pair. Shape and dtype are fixed when the
// parameter is first created; its value may be replaced through Assign
// (by a training process, or when restoring a checkpoint) but never
// reshaped.
//
// Example:
//
//	w, err := scope.Variable("w_0", tensor.Shape{784, 128}, tensor.Float32, vars.Xavier())
//	fmt.Println(w.FullName()) // "fc/w_0"
type Parameter struct {
	scope string
	name  string
	shape tensor.Shape
	dtype tensor.DataType
	value *tensor.RawTensor
}

// Scope returns the scope path the parameter lives in.
func (p *Parameter) Scope() string {
	return p.scope
}

// Name returns the parameter name within its scope.
func (p *Parameter) Name() string {
	return p.name
}

// FullName returns "scope/name".
func (p *Parameter) FullName() string {
	return JoinScope(p.scope, p.name)
}

// Shape returns the parameter shape.
func (p *Parameter) Shape() tensor.Shape {
	return p.shape
}

// DType returns the parameter data type.
func (p *Parameter) DType() tensor.DataType {
	return p.dtype
}

// Value returns the current value.
func (p *Parameter) Value() *tensor.RawTensor {
	return p.value
}

// Assign replaces the current value. The new value must have the
// parameter's shape and dtype.
func (p *Parameter) Assign(value *tensor.RawTensor) error {
	if value.DType() != p.dtype {
		return errors.Wrapf(ErrDTypeMismatch, "assign %s: got %s, want %s", p.FullName(), value.DType(), p.dtype)
	}
	if !value.Shape().Equal(p.shape) {
		return errors.Wrapf(ErrShapeMismatch, "assign %s: got %s, want %s", p.FullName(), value.Shape(), p.shape)
	}
	p.value = value
	return nil
}

// String returns a description such as "conv/kernel_0 float32[3 3 1 16]".
func (p *Parameter) String() string {
	return p.FullName() + " " + p.dtype.String() + p.shape.String()
}
