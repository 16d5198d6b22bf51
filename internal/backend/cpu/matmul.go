package cpu

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/blocks/internal/tensor"
)

// MatMul performs matrix multiplication of two rank-2 float32 tensors.
//
// [M, K] @ [K, N] -> [M, N].
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	if a.DType() != tensor.Float32 || b.DType() != tensor.Float32 {
		return nil, errors.Errorf("matmul: expected float32 operands, got %s and %s", a.DType(), b.DType())
	}
	if a.Shape().Rank() != 2 || b.Shape().Rank() != 2 {
		return nil, errors.Errorf("matmul: expected rank-2 operands, got %s and %s", a.Shape(), b.Shape())
	}
	m, k := a.Shape()[0], a.Shape()[1]
	k2, n := b.Shape()[0], b.Shape()[1]
	if k != k2 {
		return nil, errors.Errorf("matmul: inner dimensions differ: %s @ %s", a.Shape(), b.Shape())
	}

	result, err := tensor.NewRaw(tensor.Shape{m, n}, tensor.Float32)
	if err != nil {
		return nil, errors.Wrap(err, "matmul: failed to create result tensor")
	}
	gemm(a.AsFloat32(), b.AsFloat32(), result.AsFloat32(), m, k, n, false)
	return result, nil
}

// gemm computes c = a @ b (or a @ bᵀ when transB is set) for row-major
// float32 buffers. a is [m, k]; b is [k, n], or [n, k] when transposed.
func gemm(a, b, c []float32, m, k, n int, transB bool) {
	tB := blas.NoTrans
	bMat := blas32.General{Rows: k, Cols: n, Stride: n, Data: b}
	if transB {
		tB = blas.Trans
		bMat = blas32.General{Rows: n, Cols: k, Stride: k, Data: b}
	}
	blas32.Gemm(blas.NoTrans, tB, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
		bMat,
		0,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: c},
	)
}
