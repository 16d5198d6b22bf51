package layers

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/blocks/internal/graph"
	"github.com/born-ml/blocks/internal/tensor"
	"github.com/born-ml/blocks/internal/vars"
)

// buildMLP builds a 4 -> 8 -> 8 -> 3 sigmoid stack and sets the last bias
// to 10, far outside sigmoid's range.
func buildMLP(t *testing.T, opts ...StackOption) (*graph.Graph, *graph.Node, *graph.Node) {
	t.Helper()
	g := newGraph()
	x := g.Placeholder("x", tensor.Float32, tensor.Shape{u, 4})
	out, err := FCStack.Apply(g.Root(), x, []int{8, 8, 3}, Shared(Sigmoid), "mlp", opts...)
	require.NoError(t, err)

	b, ok := g.Registry().Lookup("mlp", "b_2")
	require.True(t, ok)
	ten, err := tensor.Full(tensor.Shape{3}, 10)
	require.NoError(t, err)
	require.NoError(t, b.Assign(ten))
	return g, x, out
}

func TestFCStack_RawOutputSkipsLastActivation(t *testing.T) {
	g, x, out := buildMLP(t)
	assertShape(t, tensor.Shape{u, 3}, out.Shape())
	assert.Equal(t, "mlp/affine_2", out.Name())

	// The last layer consumes the second layer's activation.
	hidden := out.Inputs()[0].Inputs()[0]
	assert.Equal(t, "sigmoid", hidden.Op())

	values := run(t, g, graph.Feeds{x: randomRaw(t, 6, 16, 4)}, hidden, out)
	for _, v := range values[0].AsFloat32() {
		assert.True(t, v > 0 && v < 1, "hidden activation %v outside (0, 1)", v)
	}
	for _, v := range values[1].AsFloat32() {
		assert.Greater(t, v, float32(1), "raw output should be unbounded")
	}

	names := make([]string, 0, 6)
	for _, p := range g.Registry().Parameters() {
		names = append(names, p.FullName())
	}
	assert.Equal(t, []string{"mlp/w_0", "mlp/b_0", "mlp/w_1", "mlp/b_1", "mlp/w_2", "mlp/b_2"}, names)
}

func TestFCStack_ActivatedOutput(t *testing.T) {
	g, x, out := buildMLP(t, WithRawOutput(false))
	assert.Equal(t, "sigmoid", out.Op())

	values := run(t, g, graph.Feeds{x: randomRaw(t, 6, 16, 4)}, out)
	for _, v := range values[0].AsFloat32() {
		assert.True(t, v > 0 && v <= 1, "activated output %v outside (0, 1]", v)
	}
}

func TestStack_PerLayerActivations(t *testing.T) {
	g := newGraph()
	x := g.Placeholder("x", tensor.Float32, tensor.Shape{u, 8, 8, 1})
	specs := []LayerSpec{
		{Kernel: []int{3, 3, 4}},
		{Kernel: []int{3, 3, 4}, Stride: []int{1, 2, 2, 1}},
		{Kernel: []int{3, 3, 2}},
	}

	out, err := ConvStack.Apply(g.Root(), x, specs, PerLayer(Relu, Tanh, Sigmoid), "enc", WithRawOutput(false))
	require.NoError(t, err)
	assertShape(t, tensor.Shape{u, 4, 4, 2}, out.Shape())
	assert.Equal(t, "sigmoid", out.Op())

	second := out.Inputs()[0].Inputs()[0]
	assert.Equal(t, "tanh", second.Op())
	first := second.Inputs()[0].Inputs()[0]
	assert.Equal(t, "relu", first.Op())

	_, ok := g.Registry().Lookup("enc", "kernel_2")
	assert.True(t, ok)
}

func TestStack_NilActivationIsIdentity(t *testing.T) {
	g := newGraph()
	x := g.Placeholder("x", tensor.Float32, tensor.Shape{u, 4})
	out, err := FCStack.Apply(g.Root(), x, []int{3, 2}, PerLayer(nil, Relu), "fc", WithRawOutput(false))
	require.NoError(t, err)
	assert.Equal(t, "relu", out.Op())
	assert.Equal(t, "bias_add", out.Inputs()[0].Inputs()[0].Inputs()[0].Op())
}

func TestStack_Errors(t *testing.T) {
	g := newGraph()
	x := g.Placeholder("x", tensor.Float32, tensor.Shape{u, 4})

	_, err := FCStack.Apply(g.Root(), x, []int{3, 3, 3}, PerLayer(Sigmoid, Tanh), "fc")
	assert.True(t, errors.Is(err, ErrActivationCount), "got %v", err)

	for _, name := range []string{"", "enc/dec"} {
		_, err = FCStack.Apply(g.Root(), x, []int{2}, Shared(Sigmoid), name)
		assert.True(t, errors.Is(err, ErrInvalidSpec), "name %q: got %v", name, err)
	}
	assert.Zero(t, g.Registry().Len())

	_, err = ConvStack.Apply(g.Root(), x, []LayerSpec{{Kernel: []int{3, 3, 1}}}, Shared(Relu), "conv")
	assert.True(t, errors.Is(err, ErrRank), "got %v", err)
}

func TestStack_EmptyReturnsInput(t *testing.T) {
	g := newGraph()
	x := g.Placeholder("x", tensor.Float32, tensor.Shape{u, 4})

	out, err := FCStack.Apply(g.Root(), x, nil, Shared(Sigmoid), "fc")
	require.NoError(t, err)
	assert.Same(t, x, out)

	out, err = ConvStack.Apply(g.Root(), x, []LayerSpec{}, PerLayer(), "conv")
	require.NoError(t, err)
	assert.Same(t, x, out)
	assert.Zero(t, g.Registry().Len())
}

func TestStack_ReusesParameters(t *testing.T) {
	g := newGraph()
	a := g.Placeholder("a", tensor.Float32, tensor.Shape{u, 4})
	b := g.Placeholder("b", tensor.Float32, tensor.Shape{u, 4})

	outA, err := FCStack.Apply(g.Root(), a, []int{5, 2}, Shared(Tanh), "tower")
	require.NoError(t, err)
	outB, err := FCStack.Apply(g.Root(), b, []int{5, 2}, Shared(Tanh), "tower")
	require.NoError(t, err)

	assert.Equal(t, 4, g.Registry().Len())
	assert.Same(t, outA.Inputs()[1], outB.Inputs()[1], "bias node shared")
}

func TestGatedConvAndDeconvStacks(t *testing.T) {
	g := newGraph()
	x := g.Placeholder("x", tensor.Float32, tensor.Shape{u, 4, 4, 2})

	gated, err := GatedConvStack.Apply(g.Root(), x, []LayerSpec{{Kernel: []int{3, 3, 4}}}, Shared(nil), "gated")
	require.NoError(t, err)
	up, err := DeconvStack.Apply(g.Root(), gated, []LayerSpec{
		{Kernel: []int{3, 3, 4}, Stride: []int{1, 2, 2, 1}},
		{Kernel: []int{3, 3, 1}, Stride: []int{1, 2, 2, 1}},
	}, Shared(Relu), "dec")
	require.NoError(t, err)
	assertShape(t, tensor.Shape{u, 16, 16, 1}, up.Shape())

	values := run(t, g, graph.Feeds{x: randomRaw(t, 7, 3, 4, 4, 2)}, up)
	assertShape(t, tensor.Shape{3, 16, 16, 1}, values[0].Shape())
}

func TestLayerFunc_CustomLayer(t *testing.T) {
	var calls []string
	double := LayerFunc[float32](func(s *vars.Scope, x *graph.Node, factor float32, name string) (*graph.Node, error) {
		calls = append(calls, s.Path()+":"+name)
		return graph.Mul(x, graph.Scalar(x.Graph(), factor)), nil
	})

	g := newGraph()
	x := g.Placeholder("x", tensor.Float32, tensor.Shape{2})
	out, err := MakeStack[float32](double).Apply(g.Root(), x, []float32{2, 3}, Shared(nil), "scale")
	require.NoError(t, err)
	assert.Equal(t, []string{"scale:0", "scale:1"}, calls)

	in, err := tensor.FromFloat32([]float32{1, -1}, tensor.Shape{2})
	require.NoError(t, err)
	assert.Equal(t, []float32{6, -6}, run(t, g, graph.Feeds{x: in}, out)[0].AsFloat32())
}
