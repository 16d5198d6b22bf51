package graph

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/born-ml/blocks/internal/backend/cpu"
	"github.com/born-ml/blocks/internal/padding"
	"github.com/born-ml/blocks/internal/tensor"
	"github.com/born-ml/blocks/internal/vars"
)

// Builders in this file validate static shapes and panic on misuse, the
// same way layer constructors panic on invalid configuration. Layer
// operators check their documented preconditions before calling them and
// report those as errors.

// Placeholder creates a node whose value is supplied through Session.Run.
// Any dimension of shape may be tensor.Unknown.
func (g *Graph) Placeholder(name string, dtype tensor.DataType, shape tensor.Shape) *Node {
	var n *Node
	n = g.newNode("placeholder", dtype, shape, nil, func(context.Context, *cpu.CPUBackend, []*tensor.RawTensor) (*tensor.RawTensor, error) {
		return nil, errors.Wrapf(ErrMissingFeed, "%s", n)
	})
	n.name = name
	n.placeholder = true
	return n
}

// Constant creates a node holding value.
func Constant(g *Graph, value *tensor.RawTensor) *Node {
	n := g.newNode("constant", value.DType(), value.Shape(), nil, func(context.Context, *cpu.CPUBackend, []*tensor.RawTensor) (*tensor.RawTensor, error) {
		return value, nil
	})
	if value.DType() == tensor.Int32 && value.Shape().Rank() == 1 {
		n.static = make([]int, value.NumElements())
		for i, v := range value.AsInt32() {
			n.static[i] = int(v)
		}
	}
	return n
}

// Scalar creates a rank-0 float32 constant.
func Scalar(g *Graph, v float32) *Node {
	raw, err := tensor.FromFloat32([]float32{v}, tensor.Shape{})
	if err != nil {
		panic(err)
	}
	return Constant(g, raw)
}

// Dims creates a rank-1 int32 constant, typically a shape or a stride.
func Dims(g *Graph, v ...int) *Node {
	return Constant(g, tensor.FromDims(v...))
}

// Linspace creates a float32 vector of n values evenly spaced over
// [start, stop], both ends included.
func Linspace(g *Graph, start, stop float32, n int) *Node {
	if n < 1 {
		panic(fmt.Sprintf("graph: Linspace: n must be >= 1, got %d", n))
	}
	data := make([]float32, n)
	for i := range data {
		if n == 1 {
			data[i] = start
			continue
		}
		data[i] = start + (stop-start)*float32(i)/float32(n-1)
	}
	raw, err := tensor.FromFloat32(data, tensor.Shape{n})
	if err != nil {
		panic(err)
	}
	return Constant(g, raw)
}

// Variable returns the node reading parameter p. Repeated calls with the
// same parameter return the same node.
func (g *Graph) Variable(p *vars.Parameter) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.params[p]; ok {
		return n
	}

	n := g.appendNode("variable", p.DType(), p.Shape(), nil, func(context.Context, *cpu.CPUBackend, []*tensor.RawTensor) (*tensor.RawTensor, error) {
		return p.Value(), nil
	})
	n.name = p.FullName()
	g.params[p] = n
	return n
}

type binaryKernel func(be *cpu.CPUBackend, a, b *tensor.RawTensor) (*tensor.RawTensor, error)

// Add returns a + b with broadcasting.
func Add(a, b *Node) *Node {
	return binary("add", a, b, (*cpu.CPUBackend).Add, func(x, y int) int { return x + y })
}

// Sub returns a - b with broadcasting.
func Sub(a, b *Node) *Node {
	return binary("sub", a, b, (*cpu.CPUBackend).Sub, func(x, y int) int { return x - y })
}

// Mul returns a * b with broadcasting.
func Mul(a, b *Node) *Node {
	return binary("mul", a, b, (*cpu.CPUBackend).Mul, func(x, y int) int { return x * y })
}

// Div returns a / b with broadcasting. Int32 division truncates.
func Div(a, b *Node) *Node {
	return binary("div", a, b, (*cpu.CPUBackend).Div, func(x, y int) int {
		if y == 0 {
			return tensor.Unknown
		}
		return x / y
	})
}

func binary(op string, a, b *Node, kernel binaryKernel, fold func(x, y int) int) *Node {
	g := graphOf(op, a, b)
	if a.dtype != b.dtype {
		panic(fmt.Sprintf("graph: %s: dtype mismatch %s vs %s", op, a, b))
	}
	shape, err := tensor.BroadcastShapes(a.shape, b.shape)
	if err != nil {
		panic(fmt.Sprintf("graph: %s: %v", op, err))
	}
	n := g.newNode(op, a.dtype, shape, []*Node{a, b}, func(_ context.Context, be *cpu.CPUBackend, in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		return kernel(be, in[0], in[1])
	})
	n.static = foldStatic(staticOrUnknown(a), staticOrUnknown(b), fold)
	return n
}

// staticOrUnknown returns what is known about the value of a shape-vector
// node: its static value, or a vector of Unknown if only its length is
// known. Returns nil for other nodes.
func staticOrUnknown(n *Node) []int {
	if n.dtype != tensor.Int32 || n.Rank() != 1 {
		return nil
	}
	if n.static != nil {
		return n.static
	}
	if n.shape[0] == tensor.Unknown {
		return nil
	}
	v := make([]int, n.shape[0])
	for i := range v {
		v[i] = tensor.Unknown
	}
	return v
}

func foldStatic(a, b []int, fold func(x, y int) int) []int {
	if a == nil || b == nil || fold == nil {
		return nil
	}
	length := max(len(a), len(b))
	if (len(a) != length && len(a) != 1) || (len(b) != length && len(b) != 1) {
		return nil
	}
	out := make([]int, length)
	for i := range out {
		x, y := a[min(i, len(a)-1)], b[min(i, len(b)-1)]
		if x == tensor.Unknown || y == tensor.Unknown {
			out[i] = tensor.Unknown
			continue
		}
		out[i] = fold(x, y)
	}
	return out
}

// MatMul returns the matrix product of two rank-2 float32 nodes.
func MatMul(a, b *Node) *Node {
	g := graphOf("matmul", a, b)
	if a.Rank() != 2 || b.Rank() != 2 {
		panic(fmt.Sprintf("graph: matmul: expected rank 2 operands, got %s and %s", a, b))
	}
	if !dimsCompatible(a.shape[1], b.shape[0]) {
		panic(fmt.Sprintf("graph: matmul: inner dimensions differ: %s @ %s", a, b))
	}
	return g.newNode("matmul", tensor.Float32, tensor.Shape{a.shape[0], b.shape[1]}, []*Node{a, b},
		func(_ context.Context, be *cpu.CPUBackend, in []*tensor.RawTensor) (*tensor.RawTensor, error) {
			return be.MatMul(in[0], in[1])
		})
}

// BiasAdd adds the vector bias along the last axis of x.
func BiasAdd(x, bias *Node) *Node {
	if bias.Rank() != 1 || x.Rank() == 0 {
		panic(fmt.Sprintf("graph: bias_add: expected a vector bias, got %s + %s", x, bias))
	}
	if !dimsCompatible(x.shape[x.Rank()-1], bias.shape[0]) {
		panic(fmt.Sprintf("graph: bias_add: bias %s does not match last axis of %s", bias, x))
	}
	return binary("bias_add", x, bias, (*cpu.CPUBackend).Add, nil)
}

// Conv2D convolves x [batch, width, height, in_channels] with kernel
// [kernel_w, kernel_h, in_channels, out_channels] using strides (1, sw, sh, 1).
//
// Only padding.Same and padding.Valid are accepted: padding.Constant is
// resolved by the caller into an explicit edge pad followed by Valid.
func Conv2D(x, kernel *Node, sw, sh int, mode padding.Mode) *Node {
	g := graphOf("conv2d", x, kernel)
	checkConvOperands("conv2d", x, kernel, sw, sh, mode)
	if !dimsCompatible(x.shape[3], kernel.shape[2]) {
		panic(fmt.Sprintf("graph: conv2d: input channels of %s do not match kernel %s", x, kernel))
	}

	shape := tensor.Shape{
		x.shape[0],
		convDim(x.shape[1], kernel.shape[0], sw, mode),
		convDim(x.shape[2], kernel.shape[1], sh, mode),
		kernel.shape[3],
	}
	for _, d := range shape[1:3] {
		if d == 0 {
			panic(fmt.Sprintf("graph: conv2d: kernel %s is larger than input %s", kernel, x))
		}
	}
	return g.newNode("conv2d", tensor.Float32, shape, []*Node{x, kernel},
		func(ctx context.Context, be *cpu.CPUBackend, in []*tensor.RawTensor) (*tensor.RawTensor, error) {
			return be.Conv2D(ctx, in[0], in[1], sw, sh, mode)
		})
}

// Conv2DTranspose computes the transposed convolution of x
// [batch, width, height, in_channels] with kernel
// [kernel_w, kernel_h, out_channels, in_channels].
//
// outputShape is a rank-1 int32 node of length 4. The static shape of the
// result is taken from outputShape's static value where it is known, so a
// shape computed from ShapeOf(x) yields a static result whenever x's shape
// is static. Where both sides are known, a forward Conv2D over the output
// shape must give back x's spatial size.
func Conv2DTranspose(x, kernel, outputShape *Node, sw, sh int, mode padding.Mode) *Node {
	g := graphOf("conv2d_transpose", x, kernel, outputShape)
	checkConvOperands("conv2d_transpose", x, kernel, sw, sh, mode)
	if outputShape.dtype != tensor.Int32 || outputShape.Rank() != 1 || outputShape.shape[0] != 4 {
		panic(fmt.Sprintf("graph: conv2d_transpose: output shape must be an int32 vector of length 4, got %s", outputShape))
	}
	if !dimsCompatible(x.shape[3], kernel.shape[3]) {
		panic(fmt.Sprintf("graph: conv2d_transpose: input channels of %s do not match kernel %s", x, kernel))
	}

	shape := tensor.UnknownShape(4)
	if v := outputShape.StaticValue(); v != nil {
		shape = tensor.Shape(v)
	}
	shape, err := shape.Merge(tensor.Shape{x.shape[0], tensor.Unknown, tensor.Unknown, kernel.shape[2]})
	if err != nil {
		panic(fmt.Sprintf("graph: conv2d_transpose: output shape %s: %v", outputShape, err))
	}
	strides := [3]int{1, sw, sh}
	for axis := 1; axis <= 2; axis++ {
		out, in := shape[axis], x.shape[axis]
		if out == tensor.Unknown || in == tensor.Unknown {
			continue
		}
		if padding.OutputDim(out, kernel.shape[axis-1], strides[axis], mode) != in {
			panic(fmt.Sprintf("graph: conv2d_transpose: output shape %s is inconsistent with input %s", shape, x))
		}
	}

	return g.newNode("conv2d_transpose", tensor.Float32, shape, []*Node{x, kernel, outputShape},
		func(ctx context.Context, be *cpu.CPUBackend, in []*tensor.RawTensor) (*tensor.RawTensor, error) {
			dims, err := in[2].Dims()
			if err != nil {
				return nil, err
			}
			return be.Conv2DTranspose(ctx, in[0], in[1], tensor.Shape(dims), sw, sh, mode)
		})
}

func checkConvOperands(op string, x, kernel *Node, sw, sh int, mode padding.Mode) {
	if x.Rank() != 4 || kernel.Rank() != 4 {
		panic(fmt.Sprintf("graph: %s: expected rank 4 input and kernel, got %s and %s", op, x, kernel))
	}
	if x.dtype != tensor.Float32 || kernel.dtype != tensor.Float32 {
		panic(fmt.Sprintf("graph: %s: expected float32 operands, got %s and %s", op, x, kernel))
	}
	if mode != padding.Same && mode != padding.Valid {
		panic(fmt.Sprintf("graph: %s: unsupported padding %q", op, mode))
	}
	if sw < 1 || sh < 1 {
		panic(fmt.Sprintf("graph: %s: invalid stride (%d, %d)", op, sw, sh))
	}
}

func convDim(in, k, stride int, mode padding.Mode) int {
	if k == tensor.Unknown {
		return tensor.Unknown
	}
	return padding.OutputDim(in, k, stride, mode)
}

func dimsCompatible(a, b int) bool {
	return a == tensor.Unknown || b == tensor.Unknown || a == b
}

// Concat joins nodes along axis. Negative axes count from the end.
func Concat(axis int, nodes ...*Node) *Node {
	g := graphOf("concat", nodes...)
	first := nodes[0]
	axis = normalizeAxis("concat", axis, first.Rank())

	shape := first.shape.Clone()
	shape[axis] = 0
	for _, n := range nodes {
		if n.dtype != first.dtype || n.Rank() != first.Rank() {
			panic(fmt.Sprintf("graph: concat: %s does not match %s", n, first))
		}
		for i, d := range n.shape {
			if i == axis {
				if d == tensor.Unknown || shape[i] == tensor.Unknown {
					shape[i] = tensor.Unknown
				} else {
					shape[i] += d
				}
				continue
			}
			if !dimsCompatible(shape[i], d) {
				panic(fmt.Sprintf("graph: concat: %s does not match %s on axis %d", n, first, i))
			}
			if shape[i] == tensor.Unknown {
				shape[i] = d
			}
		}
	}

	n := g.newNode("concat", first.dtype, shape, nodes, func(_ context.Context, be *cpu.CPUBackend, in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		return be.Concat(axis, in...)
	})
	if first.dtype == tensor.Int32 && first.Rank() == 1 {
		var static []int
		for _, in := range nodes {
			v := staticOrUnknown(in)
			if v == nil {
				static = nil
				break
			}
			static = append(static, v...)
		}
		n.static = static
	}
	return n
}

// Slice takes size elements of x along axis, starting at start. A negative
// start counts from the end of the axis: Slice(x, 1, -1, 1) is the last
// column.
func Slice(x *Node, axis, start, size int) *Node {
	axis = normalizeAxis("slice", axis, x.Rank())
	if size < 1 {
		panic(fmt.Sprintf("graph: slice: size must be >= 1, got %d", size))
	}
	if dim := x.shape[axis]; dim != tensor.Unknown {
		begin := start
		if begin < 0 {
			begin += dim
		}
		if begin < 0 || begin+size > dim {
			panic(fmt.Sprintf("graph: slice: [%d:+%d] out of range for axis %d of %s", start, size, axis, x))
		}
	}

	shape := x.shape.Clone()
	shape[axis] = size
	n := x.graph.newNode("slice", x.dtype, shape, []*Node{x}, func(_ context.Context, be *cpu.CPUBackend, in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		return be.Slice(in[0], axis, start, size)
	})
	if v := staticOrUnknown(x); v != nil {
		begin := start
		if begin < 0 {
			begin += len(v)
		}
		n.static = append([]int(nil), v[begin:begin+size]...)
	}
	return n
}

// Tile replicates x multiples[i] times along each axis i.
func Tile(x *Node, multiples []int) *Node {
	if len(multiples) != x.Rank() {
		panic(fmt.Sprintf("graph: tile: %d multiples for %s", len(multiples), x))
	}
	shape := x.shape.Clone()
	for i, m := range multiples {
		if m < 1 {
			panic(fmt.Sprintf("graph: tile: invalid multiple %d on axis %d", m, i))
		}
		if shape[i] != tensor.Unknown {
			shape[i] *= m
		}
	}
	multiples = append([]int(nil), multiples...)
	return x.graph.newNode("tile", x.dtype, shape, []*Node{x}, func(_ context.Context, be *cpu.CPUBackend, in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		return be.Tile(in[0], multiples)
	})
}

// Reshape gives x a new, fully defined shape with the same number of elements.
func Reshape(x *Node, shape tensor.Shape) *Node {
	if !shape.IsFullyDefined() {
		panic(fmt.Sprintf("graph: reshape: target shape %s must be fully defined", shape))
	}
	if n := x.shape.NumElements(); n != tensor.Unknown && n != shape.NumElements() {
		panic(fmt.Sprintf("graph: reshape: cannot reshape %s to %s", x, shape))
	}
	shape = shape.Clone()
	return x.graph.newNode("reshape", x.dtype, shape, []*Node{x}, func(_ context.Context, _ *cpu.CPUBackend, in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		return in[0].WithShape(shape)
	})
}

// ShapeOf returns the runtime shape of x as an int32 vector. Its static
// value is x's static shape.
func ShapeOf(x *Node) *Node {
	if x.Rank() == 0 {
		panic(fmt.Sprintf("graph: shape_of: %s is a scalar", x))
	}
	n := x.graph.newNode("shape_of", tensor.Int32, tensor.Shape{x.Rank()}, []*Node{x}, func(_ context.Context, _ *cpu.CPUBackend, in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		return tensor.FromDims(in[0].Shape()...), nil
	})
	n.static = x.shape.Clone()
	return n
}

// Fill returns a float32 tensor of the given runtime shape filled with v.
func Fill(shape *Node, v float32) *Node {
	if shape.dtype != tensor.Int32 || shape.Rank() != 1 || shape.shape[0] == tensor.Unknown {
		panic(fmt.Sprintf("graph: fill: shape must be an int32 vector of known length, got %s", shape))
	}
	static := tensor.Shape(staticOrUnknown(shape))
	return shape.graph.newNode("fill", tensor.Float32, static, []*Node{shape}, func(_ context.Context, _ *cpu.CPUBackend, in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		dims, err := in[0].Dims()
		if err != nil {
			return nil, err
		}
		return tensor.Full(tensor.Shape(dims), v)
	})
}

// ReduceSum sums x over axes. No axes means all axes.
func ReduceSum(x *Node, keepDims bool, axes ...int) *Node {
	return reduce("reduce_sum", x, keepDims, axes, (*cpu.CPUBackend).ReduceSum)
}

// ReduceMax takes the maximum of x over axes. No axes means all axes.
func ReduceMax(x *Node, keepDims bool, axes ...int) *Node {
	return reduce("reduce_max", x, keepDims, axes, (*cpu.CPUBackend).ReduceMax)
}

type reduceKernel func(be *cpu.CPUBackend, x *tensor.RawTensor, axes []int, keepDims bool) (*tensor.RawTensor, error)

func reduce(op string, x *Node, keepDims bool, axes []int, kernel reduceKernel) *Node {
	if x.dtype != tensor.Float32 {
		panic(fmt.Sprintf("graph: %s: expected float32, got %s", op, x))
	}
	axes = NormalizeAxes(op, axes, x.Rank())
	reduced := make([]bool, x.Rank())
	for _, a := range axes {
		reduced[a] = true
	}

	shape := tensor.Shape{}
	for i, d := range x.shape {
		switch {
		case !reduced[i]:
			shape = append(shape, d)
		case keepDims:
			shape = append(shape, 1)
		}
	}
	return x.graph.newNode(op, tensor.Float32, shape, []*Node{x}, func(_ context.Context, be *cpu.CPUBackend, in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		return kernel(be, in[0], axes, keepDims)
	})
}

// NormalizeAxes resolves negative axes against rank, drops duplicates and
// expands an empty list to every axis. Panics on out-of-range axes.
func NormalizeAxes(op string, axes []int, rank int) []int {
	if len(axes) == 0 {
		all := make([]int, rank)
		for i := range all {
			all[i] = i
		}
		return all
	}
	seen := make([]bool, rank)
	out := make([]int, 0, len(axes))
	for _, a := range axes {
		a = normalizeAxis(op, a, rank)
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

func normalizeAxis(op string, axis, rank int) int {
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		panic(fmt.Sprintf("graph: %s: axis out of range for rank %d", op, rank))
	}
	return axis
}

type unaryKernel func(be *cpu.CPUBackend, x *tensor.RawTensor) (*tensor.RawTensor, error)

func unary(op string, x *Node, kernel unaryKernel) *Node {
	if x.dtype != tensor.Float32 {
		panic(fmt.Sprintf("graph: %s: expected float32, got %s", op, x))
	}
	return x.graph.newNode(op, tensor.Float32, x.shape, []*Node{x}, func(_ context.Context, be *cpu.CPUBackend, in []*tensor.RawTensor) (*tensor.RawTensor, error) {
		return kernel(be, in[0])
	})
}

// Exp returns e^x elementwise.
func Exp(x *Node) *Node { return unary("exp", x, (*cpu.CPUBackend).Exp) }

// Tanh returns tanh(x) elementwise.
func Tanh(x *Node) *Node { return unary("tanh", x, (*cpu.CPUBackend).Tanh) }

// Sigmoid returns 1/(1+e^-x) elementwise.
func Sigmoid(x *Node) *Node { return unary("sigmoid", x, (*cpu.CPUBackend).Sigmoid) }

// Relu returns max(x, 0) elementwise.
func Relu(x *Node) *Node { return unary("relu", x, (*cpu.CPUBackend).Relu) }

// Abs returns |x| elementwise.
func Abs(x *Node) *Node { return unary("abs", x, (*cpu.CPUBackend).Abs) }

// Identity returns x unchanged.
func Identity(x *Node) *Node {
	return unary("identity", x, func(_ *cpu.CPUBackend, x *tensor.RawTensor) (*tensor.RawTensor, error) {
		return x, nil
	})
}

// Pow returns x^p elementwise.
func Pow(x *Node, p float64) *Node {
	return unary("pow", x, func(be *cpu.CPUBackend, x *tensor.RawTensor) (*tensor.RawTensor, error) {
		return be.Pow(x, p)
	})
}
