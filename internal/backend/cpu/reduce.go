package cpu

import (
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/blocks/internal/tensor"
)

// ReduceSum sums x over the given axes.
//
// An empty axes list reduces over every axis. With keepDims the reduced
// axes stay in the result with size 1, which makes the result broadcast
// back against x.
func (cpu *CPUBackend) ReduceSum(x *tensor.RawTensor, axes []int, keepDims bool) (*tensor.RawTensor, error) {
	return reduce("reduce_sum", x, axes, keepDims, 0, func(acc, v float32) float32 { return acc + v })
}

// ReduceMax takes the maximum of x over the given axes. See ReduceSum.
func (cpu *CPUBackend) ReduceMax(x *tensor.RawTensor, axes []int, keepDims bool) (*tensor.RawTensor, error) {
	return reduce("reduce_max", x, axes, keepDims, float32(math.Inf(-1)), func(acc, v float32) float32 {
		if v > acc {
			return v
		}
		return acc
	})
}

func reduce(name string, x *tensor.RawTensor, axes []int, keepDims bool, init float32, combine func(acc, v float32) float32) (*tensor.RawTensor, error) {
	if x.DType() != tensor.Float32 {
		return nil, errors.Errorf("%s: unsupported dtype %s", name, x.DType())
	}
	shape := x.Shape()
	reduced := make([]bool, shape.Rank())
	if len(axes) == 0 {
		for i := range reduced {
			reduced[i] = true
		}
	}
	for _, a := range axes {
		if a < 0 || a >= shape.Rank() {
			return nil, errors.Errorf("%s: axis %d out of range for %s", name, a, shape)
		}
		reduced[a] = true
	}

	keptShape := shape.Clone()
	var outShape tensor.Shape
	for i, r := range reduced {
		if r {
			keptShape[i] = 1
			if keepDims {
				outShape = append(outShape, 1)
			}
			continue
		}
		outShape = append(outShape, shape[i])
	}
	if outShape == nil {
		outShape = tensor.Shape{}
	}

	result, err := tensor.NewRaw(keptShape, tensor.Float32)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: failed to create result tensor", name)
	}
	out := result.AsFloat32()
	for i := range out {
		out[i] = init
	}

	inStrides := shape.ComputeStrides()
	keptStrides := keptShape.ComputeStrides()
	for i, v := range x.AsFloat32() {
		rem, dst := i, 0
		for d := range shape {
			coord := rem / inStrides[d]
			rem %= inStrides[d]
			if !reduced[d] {
				dst += coord * keptStrides[d]
			}
		}
		out[dst] = combine(out[dst], v)
	}

	return result.WithShape(outShape)
}
