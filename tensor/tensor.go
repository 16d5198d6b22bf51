// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the concrete values flowing through a graph.
//
// The package defines:
//   - RawTensor: a dense, row-major tensor value
//   - Shape: tensor dimensions, where Unknown marks a dimension not known
//     until the graph runs
//   - DataType: Float32 for activations and parameters, Int32 for shapes
//
// Example:
//
//	x, err := tensor.FromFloat32([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
//	batch := tensor.Shape{tensor.Unknown, 28, 28, 1}
package tensor

import (
	"github.com/born-ml/blocks/internal/tensor"
)

// Unknown marks a dimension that is not statically known.
const Unknown = tensor.Unknown

// Shape represents the dimensions of a tensor.
// Example: Shape{Unknown, 3} is a batch of 3-vectors of any batch size.
type Shape = tensor.Shape

// DataType represents the element type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Int32   DataType = tensor.Int32
)

// RawTensor is a dense tensor value.
//
// RawTensor provides:
//   - Shape and type information via Shape(), DType()
//   - Typed data access via AsFloat32(), AsInt32()
//   - Element access via At() and Offset()
type RawTensor = tensor.RawTensor

// NewRaw allocates a zero-filled tensor. The shape must be fully defined.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype)
}

// FromFloat32 wraps data in a Float32 tensor of the given shape.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	return tensor.FromFloat32(data, shape)
}

// FromInt32 wraps data in an Int32 tensor of the given shape.
func FromInt32(data []int32, shape Shape) (*RawTensor, error) {
	return tensor.FromInt32(data, shape)
}

// Full returns a Float32 tensor with every element set to value.
func Full(shape Shape, value float32) (*RawTensor, error) {
	return tensor.Full(shape, value)
}

// UnknownShape returns a shape of the given rank with every dimension unknown.
func UnknownShape(rank int) Shape {
	return tensor.UnknownShape(rank)
}
