package tensor

import (
	"fmt"
)

// RawTensor is a concrete tensor value: a fully defined shape, a data type
// and contiguous row-major storage.
//
// RawTensors are what a Session feeds into and returns from a graph. Kernels
// never modify their inputs; every result is a freshly allocated RawTensor.
type RawTensor struct {
	shape  Shape
	stride []int
	dtype  DataType
	f32    []float32
	i32    []int32
}

// NewRaw creates a new zero-filled RawTensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	r := &RawTensor{
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
	}
	n := shape.NumElements()
	switch dtype {
	case Float32:
		r.f32 = make([]float32, n)
	case Int32:
		r.i32 = make([]int32, n)
	default:
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
	return r, nil
}

// FromFloat32 creates a Float32 tensor holding a copy of data.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	r, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	if len(data) != len(r.f32) {
		return nil, fmt.Errorf("data length %d does not match shape %s (%d elements)", len(data), shape, len(r.f32))
	}
	copy(r.f32, data)
	return r, nil
}

// FromInt32 creates an Int32 tensor holding a copy of data.
func FromInt32(data []int32, shape Shape) (*RawTensor, error) {
	r, err := NewRaw(shape, Int32)
	if err != nil {
		return nil, err
	}
	if len(data) != len(r.i32) {
		return nil, fmt.Errorf("data length %d does not match shape %s (%d elements)", len(data), shape, len(r.i32))
	}
	copy(r.i32, data)
	return r, nil
}

// FromDims creates a rank-1 Int32 tensor from a list of dimensions.
func FromDims(dims ...int) *RawTensor {
	data := make([]int32, len(dims))
	for i, d := range dims {
		data[i] = int32(d) //nolint:gosec // dimensions are small positive integers
	}
	r, err := FromInt32(data, Shape{len(dims)})
	if err != nil {
		panic(err)
	}
	return r
}

// Full creates a Float32 tensor filled with value.
func Full(shape Shape, value float32) (*RawTensor, error) {
	r, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	for i := range r.f32 {
		r.f32[i] = value
	}
	return r, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// AsFloat32 returns the underlying storage as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	return r.f32
}

// AsInt32 returns the underlying storage as []int32.
// Panics if the tensor's dtype is not Int32.
func (r *RawTensor) AsInt32() []int32 {
	if r.dtype != Int32 {
		panic(fmt.Sprintf("tensor dtype is %s, not int32", r.dtype))
	}
	return r.i32
}

// Dims interprets a rank-1 Int32 tensor as a list of dimensions.
func (r *RawTensor) Dims() ([]int, error) {
	if r.dtype != Int32 || len(r.shape) != 1 {
		return nil, fmt.Errorf("expected a rank-1 int32 shape vector, got %s %s", r.dtype, r.shape)
	}
	dims := make([]int, len(r.i32))
	for i, v := range r.i32 {
		dims[i] = int(v)
	}
	return dims, nil
}

// Offset converts a multi-dimensional index into a flat storage offset.
// Panics if idx does not address an element of the tensor.
func (r *RawTensor) Offset(idx ...int) int {
	if len(idx) != len(r.shape) {
		panic(fmt.Sprintf("index rank %d does not match tensor rank %d", len(idx), len(r.shape)))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= r.shape[i] {
			panic(fmt.Sprintf("index %v out of range for shape %s", idx, r.shape))
		}
		off += v * r.stride[i]
	}
	return off
}

// At returns the element at idx as float64, whatever the dtype.
func (r *RawTensor) At(idx ...int) float64 {
	off := r.Offset(idx...)
	if r.dtype == Int32 {
		return float64(r.i32[off])
	}
	return float64(r.f32[off])
}

// Clone returns a deep copy of the tensor.
func (r *RawTensor) Clone() *RawTensor {
	return &RawTensor{
		shape:  r.shape.Clone(),
		stride: append([]int(nil), r.stride...),
		dtype:  r.dtype,
		f32:    append([]float32(nil), r.f32...),
		i32:    append([]int32(nil), r.i32...),
	}
}

// WithShape returns a tensor sharing r's storage under a new shape with the
// same number of elements.
func (r *RawTensor) WithShape(shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if shape.NumElements() != r.NumElements() {
		return nil, fmt.Errorf("cannot view %s as %s", r.shape, shape)
	}
	return &RawTensor{
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  r.dtype,
		f32:    r.f32,
		i32:    r.i32,
	}, nil
}

// String returns a short description such as "float32[2 3]".
func (r *RawTensor) String() string {
	return r.dtype.String() + r.shape.String()
}
