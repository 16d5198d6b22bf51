// Package model assembles a graph from an architecture description: one
// input placeholder followed by each stack in order.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/blocks/internal/config"
	"github.com/born-ml/blocks/internal/graph"
	"github.com/born-ml/blocks/internal/layers"
	"github.com/born-ml/blocks/internal/tensor"
	"github.com/born-ml/blocks/internal/vars"
)

// ErrBatch is returned when a concrete input shape cannot be derived.
var ErrBatch = errors.New("cannot derive input shape")

// StackSummary describes one built stack.
type StackSummary struct {
	Name   string
	Op     config.Op
	Layers int
	Output tensor.Shape
	// Params is the number of parameters and Elements their total size.
	Params   int
	Elements int
}

// Model is a built architecture.
type Model struct {
	Arch    *config.Architecture
	Graph   *graph.Graph
	Input   *graph.Node
	Output  *graph.Node
	Summary []StackSummary
}

// Build validates arch and adds its stacks to g. Parameters are created in
// g's registry, one scope per stack.
func Build(g *graph.Graph, arch *config.Architecture) (*Model, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}

	m := &Model{
		Arch:  arch,
		Graph: g,
		Input: g.Placeholder("input", tensor.Float32, arch.Input.Shape()),
	}
	x := m.Input
	for _, st := range arch.Stacks {
		out, err := buildStack(g.Root(), x, st)
		if err != nil {
			return nil, errors.Wrapf(err, "model %s", arch.Name)
		}
		x = out

		sum := StackSummary{
			Name:   st.Name,
			Op:     st.Op,
			Layers: len(st.Layers),
			Output: out.Shape(),
		}
		for _, p := range g.Registry().Parameters() {
			if inScope(p, st.Name) {
				sum.Params++
				sum.Elements += p.Shape().NumElements()
			}
		}
		m.Summary = append(m.Summary, sum)
	}
	m.Output = x.SetName("output")

	g.Logger().Debug("built model", "name", arch.Name, "stacks", len(arch.Stacks),
		"params", g.Registry().Len(), "output", m.Output.Shape())
	return m, nil
}

func inScope(p *vars.Parameter, stack string) bool {
	return p.Scope() == stack || strings.HasPrefix(p.Scope(), stack+vars.ScopeSeparator)
}

func buildStack(root *vars.Scope, x *graph.Node, st config.Stack) (*graph.Node, error) {
	act := st.ActivationsFor()
	opts := []layers.StackOption{layers.WithRawOutput(st.Raw())}

	switch st.Op {
	case config.OpAffine:
		units := make([]int, len(st.Layers))
		for i, l := range st.Layers {
			units[i] = l.Units
		}
		return layers.FCStack.Apply(root, x, units, act, st.Name, opts...)
	case config.OpConv:
		return layers.ConvStack.Apply(root, x, specs(st), act, st.Name, opts...)
	case config.OpDeconv:
		return layers.DeconvStack.Apply(root, x, specs(st), act, st.Name, opts...)
	case config.OpGatedConv:
		return layers.GatedConvStack.Apply(root, x, specs(st), act, st.Name, opts...)
	case config.OpSpatialSoftmax:
		out, err := layers.SpatialSoftmax(x)
		return out, errors.Wrapf(err, "stack %s", st.Name)
	case config.OpNormalize:
		axes := st.Axes
		if len(axes) == 0 {
			for a := 1; a < x.Rank(); a++ {
				axes = append(axes, a)
			}
		}
		out, err := layers.Normalize(x, axes...)
		return out, errors.Wrapf(err, "stack %s", st.Name)
	default:
		return nil, errors.Wrapf(config.ErrInvalid, "stack %s: unknown op %q", st.Name, st.Op)
	}
}

func specs(st config.Stack) []layers.LayerSpec {
	out := make([]layers.LayerSpec, len(st.Layers))
	for i, l := range st.Layers {
		out[i] = l.LayerSpec
	}
	return out
}

// InputShape returns the input shape with an unknown batch dimension set to
// batch. Every other dimension must be known.
func (m *Model) InputShape(batch int) (tensor.Shape, error) {
	if batch < 1 {
		return nil, errors.Wrapf(ErrBatch, "batch size %d", batch)
	}
	shape := m.Input.Shape()
	for i, d := range shape {
		if d != tensor.Unknown {
			continue
		}
		if i != 0 {
			return nil, errors.Wrapf(ErrBatch, "input dimension %d of %s is unknown", i, shape)
		}
		shape[i] = batch
	}
	return shape, nil
}

// RandomInput returns a standard normal input for a batch of the given size.
func (m *Model) RandomInput(batch int, seed int64) (*tensor.RawTensor, error) {
	shape, err := m.InputShape(batch)
	if err != nil {
		return nil, err
	}
	r, err := tensor.NewRaw(shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // test input, not security-critical
	data := r.AsFloat32()
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	return r, nil
}

// Forward evaluates the model on input.
func (m *Model) Forward(ctx context.Context, input *tensor.RawTensor, opts ...graph.SessionOption) (*tensor.RawTensor, error) {
	out, err := graph.NewSession(m.Graph, opts...).Run(ctx, graph.Feeds{m.Input: input}, m.Output)
	if err != nil {
		return nil, errors.Wrapf(err, "model %s", m.Arch.Name)
	}
	return out[0], nil
}

// LogValue implements slog.LogValuer.
func (m *Model) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", m.Arch.Name),
		slog.String("input", m.Input.Shape().String()),
		slog.String("output", m.Output.Shape().String()),
		slog.Int("params", m.Graph.Registry().NumElements()),
	)
}

func (s StackSummary) String() string {
	return fmt.Sprintf("%s(%s) -> %s", s.Name, s.Op, s.Output)
}
