package model

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/blocks/internal/config"
	"github.com/born-ml/blocks/internal/graph"
	"github.com/born-ml/blocks/internal/layers"
	"github.com/born-ml/blocks/internal/tensor"
	"github.com/born-ml/blocks/internal/vars"
)

const u = tensor.Unknown

const keypoints = `
name: keypoints
input: [null, 8, 8, 2]
stacks:
  - name: enc
    op: conv
    activation: relu
    layers:
      - {kernel: [3, 3, 4], stride: [1, 2, 2, 1]}
      - {kernel: [3, 3, 3], pad: CONSTANT, bias: true}
  - name: points
    op: spatial_softmax
  - name: head
    op: affine
    activation: sigmoid
    raw_output: false
    layers: [{units: 5}, {units: 2}]
  - name: norm
    op: normalize
`

func build(t *testing.T, src string) *Model {
	t.Helper()
	arch, err := config.Parse([]byte(src))
	require.NoError(t, err)
	g := graph.New(graph.WithRegistry(vars.NewRegistry(vars.WithSeed(3))))
	m, err := Build(g, arch)
	require.NoError(t, err)
	return m
}

func TestBuild_Summary(t *testing.T) {
	m := build(t, keypoints)

	want := []StackSummary{
		{Name: "enc", Op: config.OpConv, Layers: 2, Output: tensor.Shape{u, 4, 4, 3}, Params: 2, Elements: 3*3*2*4 + 3*3*5*3},
		{Name: "points", Op: config.OpSpatialSoftmax, Output: tensor.Shape{u, 6}},
		{Name: "head", Op: config.OpAffine, Layers: 2, Output: tensor.Shape{u, 2}, Params: 4, Elements: 6*5 + 5 + 5*2 + 2},
		{Name: "norm", Op: config.OpNormalize, Output: tensor.Shape{u, 2}},
	}
	if diff := cmp.Diff(want, m.Summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 6, m.Graph.Registry().Len())
	assert.Equal(t, "output", m.Output.Name())
	assert.Equal(t, "enc(conv) -> [? 4 4 3]", m.Summary[0].String())
}

func TestForward(t *testing.T) {
	m := build(t, keypoints)

	in, err := m.RandomInput(3, 1)
	require.NoError(t, err)
	out, err := m.Forward(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 2}, out.Shape())

	for b := 0; b < 3; b++ {
		assert.InDelta(t, 1, out.At(b, 0)+out.At(b, 1), 1e-5)
		assert.Greater(t, out.At(b, 0), 0.0)
	}
}

func TestForward_Cancelled(t *testing.T) {
	m := build(t, keypoints)
	in, err := m.RandomInput(1, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Forward(ctx, in)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestBuild_DeconvAndGated(t *testing.T) {
	m := build(t, `
name: autoencoder
input: [null, 6, 6, 1]
stacks:
  - name: enc
    op: gated_conv
    layers: [{kernel: [3, 3, 4], stride: [1, 2, 2, 1]}]
  - name: dec
    op: deconv
    activations: [relu]
    layers: [{kernel: [3, 3, 1], stride: [1, 2, 2, 1], bias: true}]
`)
	assert.Equal(t, tensor.Shape{u, 6, 6, 1}, m.Output.Shape())
	assert.Equal(t, 2, m.Summary[0].Params, "filter and gate kernels")
	_, ok := m.Graph.Registry().Lookup("dec", "kernel_0")
	assert.True(t, ok)

	in, err := m.RandomInput(2, 5)
	require.NoError(t, err)
	out, err := m.Forward(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 6, 6, 1}, out.Shape())
}

func TestBuild_ShapeErrors(t *testing.T) {
	arch, err := config.Parse([]byte(`
name: bad
input: [null, 4]
stacks: [{name: enc, op: conv, layers: [{kernel: [3, 3, 1]}]}]
`))
	require.NoError(t, err)
	_, err = Build(graph.New(), arch)
	assert.True(t, errors.Is(err, layers.ErrRank), "got %v", err)

	arch, err = config.Parse([]byte(`
name: dynamic
input: [null, null, 4, 2]
stacks: [{name: points, op: spatial_softmax}]
`))
	require.NoError(t, err)
	_, err = Build(graph.New(), arch)
	assert.True(t, errors.Is(err, layers.ErrUnknownDim), "got %v", err)
}

func TestBuild_InvalidArchitecture(t *testing.T) {
	_, err := Build(graph.New(), &config.Architecture{Name: "empty"})
	assert.True(t, errors.Is(err, config.ErrInvalid), "got %v", err)
}

func TestInputShape(t *testing.T) {
	m := build(t, keypoints)
	shape, err := m.InputShape(4)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4, 8, 8, 2}, shape)

	_, err = m.InputShape(0)
	assert.True(t, errors.Is(err, ErrBatch))

	m = build(t, `
name: dyn
input: [null, 4, null, 1]
stacks: [{name: enc, op: conv, layers: [{kernel: [1, 1, 1]}]}]
`)
	_, err = m.InputShape(2)
	assert.True(t, errors.Is(err, ErrBatch))
}
