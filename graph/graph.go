// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package graph provides the deferred tensor graph: nodes are built first,
// with best-effort static shapes, and evaluated later by a Session.
//
// Example:
//
//	g := graph.New()
//	x := g.Placeholder("x", tensor.Float32, tensor.Shape{tensor.Unknown, 3})
//	y := graph.Relu(x)
//	out, err := graph.NewSession(g).Run(ctx, graph.Feeds{x: batch}, y)
package graph

import (
	"log/slog"

	"github.com/born-ml/blocks/internal/graph"
	"github.com/born-ml/blocks/padding"
	"github.com/born-ml/blocks/tensor"
	"github.com/born-ml/blocks/vars"
)

// Graph owns a set of nodes and the variable registry they reference.
type Graph = graph.Graph

// Node is a deferred tensor computation.
type Node = graph.Node

// Option configures a Graph.
type Option = graph.Option

// Session evaluates nodes of a graph.
type Session = graph.Session

// SessionOption configures a Session.
type SessionOption = graph.SessionOption

// Feeds maps nodes to the values they take in one run.
type Feeds = graph.Feeds

// Errors reported by graph construction and execution.
var (
	ErrMissingFeed   = graph.ErrMissingFeed
	ErrShapeConflict = graph.ErrShapeConflict
	ErrDTypeMismatch = graph.ErrDTypeMismatch
	ErrForeignNode   = graph.ErrForeignNode
)

// New creates an empty graph. Without WithRegistry it owns a fresh registry.
func New(opts ...Option) *Graph { return graph.New(opts...) }

// WithRegistry makes the graph create parameters in reg.
func WithRegistry(reg *vars.Registry) Option { return graph.WithRegistry(reg) }

// WithLogger sets the graph's logger.
func WithLogger(logger *slog.Logger) Option { return graph.WithLogger(logger) }

// NewSession returns a session evaluating g.
func NewSession(g *Graph, opts ...SessionOption) *Session { return graph.NewSession(g, opts...) }

// WithBackend sets the backend a session runs its kernels on.
var WithBackend = graph.WithBackend

// Constant returns a node holding value.
func Constant(g *Graph, value *tensor.RawTensor) *Node { return graph.Constant(g, value) }

// Scalar returns a Float32 scalar constant.
func Scalar(g *Graph, v float32) *Node { return graph.Scalar(g, v) }

// Dims returns a rank-1 Int32 constant, typically a shape.
func Dims(g *Graph, v ...int) *Node { return graph.Dims(g, v...) }

// Primitive operations.
var (
	Add      = graph.Add
	Sub      = graph.Sub
	Mul      = graph.Mul
	Div      = graph.Div
	MatMul   = graph.MatMul
	BiasAdd  = graph.BiasAdd
	Exp      = graph.Exp
	Tanh     = graph.Tanh
	Sigmoid  = graph.Sigmoid
	Relu     = graph.Relu
	Abs      = graph.Abs
	Identity = graph.Identity
	Pow      = graph.Pow
	Concat   = graph.Concat
	Slice    = graph.Slice
	Tile     = graph.Tile
	Reshape  = graph.Reshape
	ShapeOf  = graph.ShapeOf
	Fill     = graph.Fill

	ReduceSum = graph.ReduceSum
	ReduceMax = graph.ReduceMax
)

// Conv2D convolves x [batch, width, height, channels] with kernel
// [kw, kh, in, out]. mode is padding.Same or padding.Valid.
func Conv2D(x, kernel *Node, sw, sh int, mode padding.Mode) *Node {
	return graph.Conv2D(x, kernel, sw, sh, mode)
}

// Conv2DTranspose is the adjoint of Conv2D with kernel [kw, kh, out, in],
// producing a tensor of the shape held by outputShape.
func Conv2DTranspose(x, kernel, outputShape *Node, sw, sh int, mode padding.Mode) *Node {
	return graph.Conv2DTranspose(x, kernel, outputShape, sw, sh, mode)
}
