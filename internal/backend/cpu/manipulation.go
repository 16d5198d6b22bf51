package cpu

import (
	"github.com/pkg/errors"

	"github.com/born-ml/blocks/internal/tensor"
)

// Concat concatenates tensors along the given axis.
//
// All tensors must share dtype, rank and every dimension except axis.
func (cpu *CPUBackend) Concat(axis int, tensors ...*tensor.RawTensor) (*tensor.RawTensor, error) {
	if len(tensors) == 0 {
		return nil, errors.New("concat: requires at least one tensor")
	}
	first := tensors[0]
	rank := first.Shape().Rank()
	if axis < 0 || axis >= rank {
		return nil, errors.Errorf("concat: axis %d out of range for rank %d", axis, rank)
	}

	outShape := first.Shape().Clone()
	outShape[axis] = 0
	for i, t := range tensors {
		if t.DType() != first.DType() {
			return nil, errors.Errorf("concat: input #%d has dtype %s, input #0 has %s", i, t.DType(), first.DType())
		}
		if t.Shape().Rank() != rank {
			return nil, errors.Errorf("concat: input #%d has rank %d, input #0 has rank %d", i, t.Shape().Rank(), rank)
		}
		for d := 0; d < rank; d++ {
			if d != axis && t.Shape()[d] != first.Shape()[d] {
				return nil, errors.Errorf("concat: input #%d shape %s differs from %s outside axis %d", i, t.Shape(), first.Shape(), axis)
			}
		}
		outShape[axis] += t.Shape()[axis]
	}

	result, err := tensor.NewRaw(outShape, first.DType())
	if err != nil {
		return nil, errors.Wrap(err, "concat: failed to create result tensor")
	}
	switch first.DType() {
	case tensor.Float32:
		concatKernel(result.AsFloat32(), outShape, axis, tensors, (*tensor.RawTensor).AsFloat32)
	case tensor.Int32:
		concatKernel(result.AsInt32(), outShape, axis, tensors, (*tensor.RawTensor).AsInt32)
	}
	return result, nil
}

func concatKernel[T tensor.DType](out []T, outShape tensor.Shape, axis int, tensors []*tensor.RawTensor, data func(*tensor.RawTensor) []T) {
	outer := tensor.Shape(outShape[:axis]).NumElements()
	inner := tensor.Shape(outShape[axis+1:]).NumElements()
	pos := 0
	for o := 0; o < outer; o++ {
		for _, t := range tensors {
			block := t.Shape()[axis] * inner
			copy(out[pos:pos+block], data(t)[o*block:(o+1)*block])
			pos += block
		}
	}
}

// Slice extracts size consecutive entries along axis, starting at start.
// A negative start counts from the end of the axis.
func (cpu *CPUBackend) Slice(x *tensor.RawTensor, axis, start, size int) (*tensor.RawTensor, error) {
	shape := x.Shape()
	if axis < 0 || axis >= shape.Rank() {
		return nil, errors.Errorf("slice: axis %d out of range for %s", axis, shape)
	}
	dim := shape[axis]
	if start < 0 {
		start += dim
	}
	if start < 0 || size <= 0 || start+size > dim {
		return nil, errors.Errorf("slice: range [%d, %d) out of bounds for axis %d of %s", start, start+size, axis, shape)
	}

	outShape := shape.Clone()
	outShape[axis] = size
	result, err := tensor.NewRaw(outShape, x.DType())
	if err != nil {
		return nil, errors.Wrap(err, "slice: failed to create result tensor")
	}
	switch x.DType() {
	case tensor.Float32:
		sliceKernel(result.AsFloat32(), x.AsFloat32(), shape, axis, start, size)
	case tensor.Int32:
		sliceKernel(result.AsInt32(), x.AsInt32(), shape, axis, start, size)
	}
	return result, nil
}

func sliceKernel[T tensor.DType](out, in []T, shape tensor.Shape, axis, start, size int) {
	outer := tensor.Shape(shape[:axis]).NumElements()
	inner := tensor.Shape(shape[axis+1:]).NumElements()
	dim := shape[axis]
	for o := 0; o < outer; o++ {
		src := in[(o*dim+start)*inner : (o*dim+start+size)*inner]
		copy(out[o*size*inner:(o+1)*size*inner], src)
	}
}

// Tile replicates x multiples[i] times along every axis i.
func (cpu *CPUBackend) Tile(x *tensor.RawTensor, multiples []int) (*tensor.RawTensor, error) {
	shape := x.Shape()
	if len(multiples) != shape.Rank() {
		return nil, errors.Errorf("tile: %d multiples for rank %d tensor", len(multiples), shape.Rank())
	}
	outShape := shape.Clone()
	for i, m := range multiples {
		if m <= 0 {
			return nil, errors.Errorf("tile: multiple %d at axis %d must be positive", m, i)
		}
		outShape[i] *= m
	}

	result, err := tensor.NewRaw(outShape, x.DType())
	if err != nil {
		return nil, errors.Wrap(err, "tile: failed to create result tensor")
	}
	switch x.DType() {
	case tensor.Float32:
		tileKernel(result.AsFloat32(), x.AsFloat32(), shape, outShape)
	case tensor.Int32:
		tileKernel(result.AsInt32(), x.AsInt32(), shape, outShape)
	}
	return result, nil
}

func tileKernel[T tensor.DType](out, in []T, shape, outShape tensor.Shape) {
	outStrides := outShape.ComputeStrides()
	inStrides := shape.ComputeStrides()
	for i := range out {
		rem, src := i, 0
		for d := range outShape {
			coord := rem / outStrides[d]
			rem %= outStrides[d]
			src += (coord % shape[d]) * inStrides[d]
		}
		out[i] = in[src]
	}
}
