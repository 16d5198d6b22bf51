package cpu

import (
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/blocks/internal/tensor"
)

// Exp computes e^x element-wise.
func (cpu *CPUBackend) Exp(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return unary("exp", x, math.Exp)
}

// Tanh computes the hyperbolic tangent element-wise.
func (cpu *CPUBackend) Tanh(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return unary("tanh", x, math.Tanh)
}

// Sigmoid computes the logistic function 1/(1+e^-x) element-wise.
func (cpu *CPUBackend) Sigmoid(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return unary("sigmoid", x, func(v float64) float64 {
		// Split on sign so neither branch overflows.
		if v >= 0 {
			return 1 / (1 + math.Exp(-v))
		}
		e := math.Exp(v)
		return e / (1 + e)
	})
}

// Relu computes max(0, x) element-wise.
func (cpu *CPUBackend) Relu(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return unary("relu", x, func(v float64) float64 { return math.Max(v, 0) })
}

// Abs computes |x| element-wise.
func (cpu *CPUBackend) Abs(x *tensor.RawTensor) (*tensor.RawTensor, error) {
	return unary("abs", x, math.Abs)
}

// Pow raises every element to the power p.
func (cpu *CPUBackend) Pow(x *tensor.RawTensor, p float64) (*tensor.RawTensor, error) {
	return unary("pow", x, func(v float64) float64 { return math.Pow(v, p) })
}

func unary(name string, x *tensor.RawTensor, f func(float64) float64) (*tensor.RawTensor, error) {
	if x.DType() != tensor.Float32 {
		return nil, errors.Errorf("%s: unsupported dtype %s", name, x.DType())
	}
	result, err := tensor.NewRaw(x.Shape(), tensor.Float32)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: failed to create result tensor", name)
	}
	in, out := x.AsFloat32(), result.AsFloat32()
	for i, v := range in {
		out[i] = float32(f(float64(v)))
	}
	return result, nil
}
