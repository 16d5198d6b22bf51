package cpu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/blocks/internal/tensor"
)

func mustRaw(t *testing.T, data []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromFloat32(data, shape)
	require.NoError(t, err)
	return r
}

func TestAdd_Broadcast(t *testing.T) {
	backend := New()
	a := mustRaw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := mustRaw(t, []float32{10, 20, 30}, 3)

	out, err := backend.Add(a, b)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, out.Shape())
	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, out.AsFloat32())
}

func TestDiv_KeepDimsBroadcast(t *testing.T) {
	backend := New()
	a := mustRaw(t, []float32{1, 3, 2, 2}, 2, 2)
	b := mustRaw(t, []float32{4, 4}, 2, 1)

	out, err := backend.Div(a, b)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.75, 0.5, 0.5}, out.AsFloat32())
}

func TestBinary_Int32(t *testing.T) {
	backend := New()
	a := tensor.FromDims(4, 7, 7, 3)
	b := tensor.FromDims(1, 2, 2, 1)

	out, err := backend.Mul(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int32{4, 14, 14, 3}, out.AsInt32())

	_, err = backend.Div(a, tensor.FromDims(1, 0, 1, 1))
	require.Error(t, err)
}

func TestBinary_Errors(t *testing.T) {
	backend := New()
	_, err := backend.Add(mustRaw(t, []float32{1, 2}, 2), tensor.FromDims(1, 2))
	require.Error(t, err, "dtype mismatch")

	_, err = backend.Add(mustRaw(t, []float32{1, 2}, 2), mustRaw(t, []float32{1, 2, 3}, 3))
	require.Error(t, err, "broadcast mismatch")
}

func TestMatMul(t *testing.T) {
	backend := New()
	a := mustRaw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	b := mustRaw(t, []float32{1, 0, 0, 1, 1, 1}, 3, 2)

	out, err := backend.MatMul(a, b)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 2}, out.Shape())
	assert.Equal(t, []float32{4, 5, 10, 11}, out.AsFloat32())

	_, err = backend.MatMul(a, a)
	require.Error(t, err)
}

func TestUnary(t *testing.T) {
	backend := New()
	x := mustRaw(t, []float32{-2, 0, 3}, 3)

	out, err := backend.Sigmoid(x)
	require.NoError(t, err)
	assert.InDelta(t, 1/(1+math.Exp(2)), out.At(0), 1e-6)
	assert.InDelta(t, 0.5, out.At(1), 1e-6)

	out, err = backend.Relu(x)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 3}, out.AsFloat32())

	out, err = backend.Abs(x)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 0, 3}, out.AsFloat32())

	out, err = backend.Pow(x, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 0, 9}, out.AsFloat32())

	// Large negative inputs must not produce NaN.
	out, err = backend.Sigmoid(mustRaw(t, []float32{-1000}, 1))
	require.NoError(t, err)
	assert.False(t, math.IsNaN(out.At(0)))

	_, err = backend.Exp(tensor.FromDims(1))
	require.Error(t, err)
}

func TestConcat(t *testing.T) {
	backend := New()
	a := mustRaw(t, []float32{1, 2, 3, 4}, 2, 2)
	b := mustRaw(t, []float32{5, 6}, 2, 1)

	out, err := backend.Concat(1, a, b)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, out.Shape())
	assert.Equal(t, []float32{1, 2, 5, 3, 4, 6}, out.AsFloat32())

	dims, err := backend.Concat(0, tensor.FromDims(2, 3), tensor.FromDims(4))
	require.NoError(t, err)
	assert.Equal(t, []int32{2, 3, 4}, dims.AsInt32())

	_, err = backend.Concat(0, a, b)
	require.Error(t, err)
}

func TestSlice(t *testing.T) {
	backend := New()
	x := mustRaw(t, []float32{1, 2, 3, 4, 5, 6}, 3, 2)

	first, err := backend.Slice(x, 0, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, first.AsFloat32())

	last, err := backend.Slice(x, 0, -1, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 6}, last.AsFloat32())

	col, err := backend.Slice(x, 1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 1}, col.Shape())
	assert.Equal(t, []float32{2, 4, 6}, col.AsFloat32())

	_, err = backend.Slice(x, 0, 2, 2)
	require.Error(t, err)
}

func TestTile(t *testing.T) {
	backend := New()
	x := mustRaw(t, []float32{1, 2}, 1, 2)

	out, err := backend.Tile(x, []int{3, 1})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 2}, out.Shape())
	assert.Equal(t, []float32{1, 2, 1, 2, 1, 2}, out.AsFloat32())

	out, err = backend.Tile(x, []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 1, 2}, out.AsFloat32())
}

func TestReduce(t *testing.T) {
	backend := New()
	x := mustRaw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)

	sum, err := backend.ReduceSum(x, []int{1}, false)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2}, sum.Shape())
	assert.Equal(t, []float32{6, 15}, sum.AsFloat32())

	sum, err = backend.ReduceSum(x, []int{0}, true)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 3}, sum.Shape())
	assert.Equal(t, []float32{5, 7, 9}, sum.AsFloat32())

	total, err := backend.ReduceSum(x, nil, false)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{}, total.Shape())
	assert.InDelta(t, 21.0, float64(total.AsFloat32()[0]), 1e-6)

	mx, err := backend.ReduceMax(x, []int{0, 1}, true)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 1}, mx.Shape())
	assert.Equal(t, []float32{6}, mx.AsFloat32())

	_, err = backend.ReduceSum(x, []int{2}, false)
	require.Error(t, err)
}
