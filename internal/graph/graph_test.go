package graph

import (
	"context"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/blocks/internal/backend/cpu"
	"github.com/born-ml/blocks/internal/padding"
	"github.com/born-ml/blocks/internal/tensor"
	"github.com/born-ml/blocks/internal/vars"
)

const u = tensor.Unknown

func raw(t *testing.T, data []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromFloat32(data, shape)
	require.NoError(t, err)
	return r
}

func TestStaticShapes(t *testing.T) {
	g := New()
	x := g.Placeholder("x", tensor.Float32, tensor.Shape{u, 28, 28, 1})
	k := Constant(g, must(tensor.NewRaw(tensor.Shape{5, 5, 1, 8}, tensor.Float32)))

	tests := []struct {
		name string
		node *Node
		want tensor.Shape
	}{
		{"conv same", Conv2D(x, k, 1, 1, padding.Same), tensor.Shape{u, 28, 28, 8}},
		{"conv valid", Conv2D(x, k, 1, 1, padding.Valid), tensor.Shape{u, 24, 24, 8}},
		{"conv strided", Conv2D(x, k, 2, 2, padding.Same), tensor.Shape{u, 14, 14, 8}},
		{"slice", Slice(x, 1, -1, 1), tensor.Shape{u, 1, 28, 1}},
		{"tile", Tile(x, []int{1, 2, 1, 3}), tensor.Shape{u, 56, 28, 3}},
		{"concat", Concat(-1, x, x), tensor.Shape{u, 28, 28, 2}},
		{"reduce", ReduceSum(x, false, 1, 2), tensor.Shape{u, 1}},
		{"reduce keep", ReduceMax(x, true, -1), tensor.Shape{u, 28, 28, 1}},
		{"reduce all", ReduceSum(x, false), tensor.Shape{}},
		{"fill", Fill(ShapeOf(x), 1), tensor.Shape{u, 28, 28, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.node.Shape()); diff != "" {
				t.Errorf("shape mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStaticValuePropagation(t *testing.T) {
	g := New()
	x := g.Placeholder("x", tensor.Float32, tensor.Shape{u, 7, 9, 3})

	shape := ShapeOf(x)
	assert.Equal(t, []int{u, 7, 9, 3}, shape.StaticValue())

	scaled := Mul(shape, Dims(g, 1, 2, 2, 1))
	assert.Equal(t, []int{u, 14, 18, 3}, scaled.StaticValue())

	grown := Add(scaled, Dims(g, 0, 4, 4, 0))
	assert.Equal(t, []int{u, 18, 22, 3}, grown.StaticValue())

	replaced := Concat(0, Slice(grown, 0, 0, 3), Dims(g, 16))
	assert.Equal(t, []int{u, 18, 22, 16}, replaced.StaticValue())

	assert.Nil(t, x.StaticValue())
}

func TestConv2DTranspose_StaticShape(t *testing.T) {
	g := New()
	k := Constant(g, must(tensor.NewRaw(tensor.Shape{3, 3, 4, 2}, tensor.Float32)))

	known := g.Placeholder("known", tensor.Float32, tensor.Shape{u, 5, 6, 2})
	out := Conv2DTranspose(known, k, Mul(ShapeOf(known), Dims(g, 1, 2, 2, 2)), 2, 2, padding.Same)
	assert.Equal(t, tensor.Shape{u, 10, 12, 4}, out.Shape(), "channels come from the kernel")

	unknown := g.Placeholder("unknown", tensor.Float32, tensor.Shape{u, u, u, 2})
	out = Conv2DTranspose(unknown, k, Mul(ShapeOf(unknown), Dims(g, 1, 2, 2, 2)), 2, 2, padding.Same)
	assert.Equal(t, tensor.Shape{u, u, u, 4}, out.Shape())

	assert.Panics(t, func() {
		Conv2DTranspose(known, k, Dims(g, 1, 20, 12, 4), 2, 2, padding.Same)
	}, "inconsistent output shape")
}

func TestBuilderPanics(t *testing.T) {
	g := New()
	x := g.Placeholder("x", tensor.Float32, tensor.Shape{2, 4, 4, 1})
	k := Constant(g, must(tensor.NewRaw(tensor.Shape{3, 3, 2, 1}, tensor.Float32)))
	big := Constant(g, must(tensor.NewRaw(tensor.Shape{5, 5, 1, 1}, tensor.Float32)))

	assert.Panics(t, func() { Conv2D(x, k, 1, 1, padding.Same) }, "channel mismatch")
	assert.Panics(t, func() { Conv2D(x, big, 1, 1, padding.Valid) }, "kernel larger than input")
	assert.Panics(t, func() { Conv2D(x, big, 1, 1, padding.Constant) }, "constant is resolved by layers")
	assert.Panics(t, func() { MatMul(x, x) })
	assert.Panics(t, func() { Add(x, Dims(g, 1)) }, "dtype mismatch")
	assert.Panics(t, func() { Slice(x, 1, 3, 2) })
	assert.Panics(t, func() { ReduceSum(x, false, 4) })

	other := New()
	assert.Panics(t, func() { Add(x, other.Placeholder("y", tensor.Float32, tensor.Shape{1})) })
}

func TestSetShape(t *testing.T) {
	g := New()
	x := g.Placeholder("x", tensor.Float32, tensor.Shape{u, u, 3})
	x.SetShape(tensor.Shape{u, 4, 3})
	assert.Equal(t, tensor.Shape{u, 4, 3}, x.Shape())
	assert.Panics(t, func() { x.SetShape(tensor.Shape{u, 5, 3}) })
}

func TestSession_Run(t *testing.T) {
	g := New()
	x := g.Placeholder("x", tensor.Float32, tensor.Shape{u, 3})
	w := Constant(g, raw(t, []float32{1, 0, 0, 1, 1, 1}, 3, 2))
	b := Constant(g, raw(t, []float32{10, 20}, 2))
	y := BiasAdd(MatMul(x, w), b)
	assert.Equal(t, tensor.Shape{u, 2}, y.Shape())

	sess := NewSession(g, WithBackend(cpu.New(cpu.WithWorkers(1))))
	out, err := sess.Run(context.Background(), Feeds{x: raw(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3)}, y, ShapeOf(y))
	require.NoError(t, err)
	assert.Equal(t, []float32{14, 25, 20, 31}, out[0].AsFloat32())
	assert.Equal(t, []int32{2, 2}, out[1].AsInt32())
}

func TestSession_Errors(t *testing.T) {
	g := New()
	x := g.Placeholder("x", tensor.Float32, tensor.Shape{u, 3})
	y := Exp(x)
	sess := NewSession(g)
	ctx := context.Background()

	_, err := sess.Run(ctx, nil, y)
	assert.True(t, errors.Is(err, ErrMissingFeed), "got %v", err)

	_, err = sess.Run(ctx, Feeds{x: raw(t, []float32{1, 2}, 1, 2)}, y)
	assert.True(t, errors.Is(err, ErrShapeConflict), "got %v", err)

	_, err = sess.Run(ctx, Feeds{x: tensor.FromDims(1, 2, 3)}, y)
	assert.True(t, errors.Is(err, ErrDTypeMismatch), "got %v", err)

	other := New()
	_, err = sess.Run(ctx, nil, other.Placeholder("z", tensor.Float32, tensor.Shape{1}))
	assert.True(t, errors.Is(err, ErrForeignNode), "got %v", err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = sess.Run(cancelled, Feeds{x: raw(t, []float32{1, 2, 3}, 1, 3)}, y)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestSession_FedNodeIsNotEvaluated(t *testing.T) {
	g := New()
	x := g.Placeholder("x", tensor.Float32, tensor.Shape{2})
	y := Exp(x)
	z := Add(y, y)

	// y is fed directly, so x is never needed.
	out, err := NewSession(g).Run(context.Background(), Feeds{y: raw(t, []float32{1, 2}, 2)}, z)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 4}, out[0].AsFloat32())
}

func TestSession_EvaluatesEachNodeOnce(t *testing.T) {
	g := New()
	calls := 0
	src := g.newNode("counter", tensor.Float32, tensor.Shape{1}, nil,
		func(context.Context, *cpu.CPUBackend, []*tensor.RawTensor) (*tensor.RawTensor, error) {
			calls++
			return tensor.Full(tensor.Shape{1}, 2)
		})
	a := Add(src, src)
	b := Mul(a, src)

	out, err := NewSession(g).Run(context.Background(), nil, b, a, src)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []float32{8}, out[0].AsFloat32())
}

func TestSession_RuntimeShapeConflict(t *testing.T) {
	g := New()
	src := g.newNode("liar", tensor.Float32, tensor.Shape{3}, nil,
		func(context.Context, *cpu.CPUBackend, []*tensor.RawTensor) (*tensor.RawTensor, error) {
			return tensor.Full(tensor.Shape{4}, 0)
		})
	_, err := NewSession(g).Run(context.Background(), nil, src)
	assert.True(t, errors.Is(err, ErrShapeConflict), "got %v", err)
}

func TestVariable_OneNodePerParameter(t *testing.T) {
	reg := vars.NewRegistry(vars.WithSeed(1))
	g := New(WithRegistry(reg))
	p, err := g.Root().In("fc").Variable("w_0", tensor.Shape{2, 2}, tensor.Float32, vars.Constant(1))
	require.NoError(t, err)

	a := g.Variable(p)
	assert.Same(t, a, g.Variable(p))
	assert.Equal(t, "fc/w_0", a.Name())
	assert.Same(t, reg, g.Registry())

	out, err := NewSession(g).Run(context.Background(), nil, a)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 1, 1}, out[0].AsFloat32())
}

func TestVariable_Concurrent(t *testing.T) {
	g := New()
	p, err := g.Root().Variable("w", tensor.Shape{3}, tensor.Float32, vars.Zeros())
	require.NoError(t, err)
	before := g.NumNodes()

	const callers = 16
	nodes := make([]*Node, callers)
	var wg sync.WaitGroup
	for i := range nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nodes[i] = g.Variable(p)
		}()
	}
	wg.Wait()

	for _, n := range nodes {
		assert.Same(t, nodes[0], n)
	}
	assert.Equal(t, before+1, g.NumNodes())
}

func TestLinspace(t *testing.T) {
	g := New()
	out, err := NewSession(g).Run(context.Background(), nil, Linspace(g, 0, 1, 5), Linspace(g, 0, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0.25, 0.5, 0.75, 1}, out[0].AsFloat32())
	assert.Equal(t, []float32{0}, out[1].AsFloat32())
}

func TestReshape(t *testing.T) {
	g := New()
	x := Linspace(g, 0, 1, 4)
	y := Reshape(x, tensor.Shape{4, 1})
	assert.Equal(t, tensor.Shape{4, 1}, y.Shape())
	assert.Panics(t, func() { Reshape(x, tensor.Shape{3}) })

	out, err := NewSession(g).Run(context.Background(), nil, y)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4, 1}, out[0].Shape())
}

func must(r *tensor.RawTensor, err error) *tensor.RawTensor {
	if err != nil {
		panic(err)
	}
	return r
}
