// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package layers provides parameterized graph building blocks and the
// combinator that stacks them.
//
// Example:
//
//	g := graph.New()
//	x := g.Placeholder("x", tensor.Float32, tensor.Shape{tensor.Unknown, 28, 28, 1})
//	h, err := layers.ConvStack.Apply(g.Root(), x, []layers.LayerSpec{
//		{Kernel: []int{5, 5, 16}, Stride: []int{1, 2, 2, 1}},
//		{Kernel: []int{3, 3, 8}, Pad: padding.Constant},
//	}, layers.Shared(layers.Relu), "enc")
package layers

import (
	"github.com/born-ml/blocks/internal/layers"
)

// LayerSpec describes one convolution-family layer.
type LayerSpec = layers.LayerSpec

// Layer is a single-layer operator parameterized by a spec of type S.
type Layer[S any] = layers.Layer[S]

// LayerFunc adapts a function to the Layer interface.
type LayerFunc[S any] = layers.LayerFunc[S]

// Stack composes a Layer into a sequence of layers sharing one scope.
type Stack[S any] = layers.Stack[S]

// Activation is a nonlinearity applied between layers; nil is the identity.
type Activation = layers.Activation

// Activations selects the nonlinearity following each layer of a stack.
type Activations = layers.Activations

// StackOption configures a stack application.
type StackOption = layers.StackOption

// NormOptions configures Norm.
type NormOptions = layers.NormOptions

// Errors reported while building layers.
var (
	ErrRank            = layers.ErrRank
	ErrConstantStride  = layers.ErrConstantStride
	ErrUnknownChannels = layers.ErrUnknownChannels
	ErrChannelMismatch = layers.ErrChannelMismatch
	ErrActivationCount = layers.ErrActivationCount
	ErrInvalidSpec     = layers.ErrInvalidSpec
	ErrUnknownDim      = layers.ErrUnknownDim
	ErrForeignScope    = layers.ErrForeignScope
)

// Operators.
var (
	Affine             = layers.Affine
	Conv               = layers.Conv
	Deconv             = layers.Deconv
	GatedConv          = layers.GatedConv
	EdgePad            = layers.EdgePad
	SpatialSoftmax     = layers.SpatialSoftmax
	Norm               = layers.Norm
	Normalize          = layers.Normalize
	DefaultNormOptions = layers.DefaultNormOptions
)

// Stacks.
var (
	FCStack        = layers.FCStack
	ConvStack      = layers.ConvStack
	DeconvStack    = layers.DeconvStack
	GatedConvStack = layers.GatedConvStack
)

// Activations.
var (
	Sigmoid  = layers.Sigmoid
	Tanh     = layers.Tanh
	Relu     = layers.Relu
	Identity = layers.Identity

	Shared           = layers.Shared
	PerLayer         = layers.PerLayer
	WithRawOutput    = layers.WithRawOutput
	ActivationByName = layers.ActivationByName
)

// MakeStack returns a Stack applying layer once per spec.
func MakeStack[S any](layer Layer[S]) Stack[S] {
	return layers.MakeStack[S](layer)
}
