package cpu

import (
	"github.com/pkg/errors"

	"github.com/born-ml/blocks/internal/tensor"
)

type binaryOp int

const (
	opAdd binaryOp = iota
	opSub
	opMul
	opDiv
)

func (op binaryOp) String() string {
	switch op {
	case opAdd:
		return "add"
	case opSub:
		return "sub"
	case opMul:
		return "mul"
	default:
		return "div"
	}
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	return cpu.binary(a, b, opAdd)
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	return cpu.binary(a, b, opSub)
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	return cpu.binary(a, b, opMul)
}

// Div performs element-wise division with broadcasting.
// Integer division by zero is an error; float division follows IEEE 754.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	return cpu.binary(a, b, opDiv)
}

func (cpu *CPUBackend) binary(a, b *tensor.RawTensor, op binaryOp) (*tensor.RawTensor, error) {
	if a.DType() != b.DType() {
		return nil, errors.Errorf("%s: dtype mismatch %s vs %s", op, a.DType(), b.DType())
	}
	outShape, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, errors.Wrap(err, op.String())
	}
	result, err := tensor.NewRaw(outShape, a.DType())
	if err != nil {
		return nil, errors.Wrapf(err, "%s: failed to create result tensor", op)
	}

	switch a.DType() {
	case tensor.Float32:
		binaryKernel(result.AsFloat32(), a.AsFloat32(), b.AsFloat32(), a.Shape(), b.Shape(), outShape, op)
	case tensor.Int32:
		if op == opDiv {
			for _, v := range b.AsInt32() {
				if v == 0 {
					return nil, errors.New("div: integer division by zero")
				}
			}
		}
		binaryKernel(result.AsInt32(), a.AsInt32(), b.AsInt32(), a.Shape(), b.Shape(), outShape, op)
	default:
		return nil, errors.Errorf("%s: unsupported dtype %s", op, a.DType())
	}
	return result, nil
}

func binaryKernel[T tensor.Number](out, a, b []T, aShape, bShape, outShape tensor.Shape, op binaryOp) {
	apply := func(x, y T) T {
		switch op {
		case opAdd:
			return x + y
		case opSub:
			return x - y
		case opMul:
			return x * y
		default:
			return x / y
		}
	}

	// Fast path: same shape, no index arithmetic.
	if aShape.Equal(bShape) {
		for i := range out {
			out[i] = apply(a[i], b[i])
		}
		return
	}

	outStrides := outShape.ComputeStrides()
	aStrides := broadcastStrides(aShape, outShape)
	bStrides := broadcastStrides(bShape, outShape)
	for i := range out {
		out[i] = apply(a[flatIndex(i, outStrides, aStrides)], b[flatIndex(i, outStrides, bStrides)])
	}
}

// broadcastStrides computes strides for reading a tensor of shape inShape
// as if it had outShape. Dimensions of size 1 and missing leading
// dimensions get stride 0.
func broadcastStrides(inShape, outShape tensor.Shape) []int {
	outDim := len(outShape)
	strides := make([]int, outDim)

	inDim := len(inShape)
	offset := outDim - inDim
	origStrides := inShape.ComputeStrides()

	for i := 0; i < outDim; i++ {
		inIdx := i - offset
		switch {
		case inIdx < 0:
			strides[i] = 0
		case inShape[inIdx] == 1:
			strides[i] = 0
		default:
			strides[i] = origStrides[inIdx]
		}
	}

	return strides
}

// flatIndex maps a flat output index to a flat input index.
func flatIndex(outIdx int, outStrides, inStrides []int) int {
	flat := 0
	for i := range outStrides {
		coord := outIdx / outStrides[i]
		outIdx %= outStrides[i]
		flat += coord * inStrides[i]
	}
	return flat
}
