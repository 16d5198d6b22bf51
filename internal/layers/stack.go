package layers

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/blocks/internal/graph"
	"github.com/born-ml/blocks/internal/vars"
)

// Layer is a single-layer operator parameterized by a spec of type S:
// an int output width for Affine, a LayerSpec for the convolutions.
type Layer[S any] interface {
	Apply(s *vars.Scope, x *graph.Node, spec S, name string) (*graph.Node, error)
}

// LayerFunc adapts a function to the Layer interface.
type LayerFunc[S any] func(s *vars.Scope, x *graph.Node, spec S, name string) (*graph.Node, error)

// Apply calls f.
func (f LayerFunc[S]) Apply(s *vars.Scope, x *graph.Node, spec S, name string) (*graph.Node, error) {
	return f(s, x, spec, name)
}

// Activation is a nonlinearity applied between layers. A nil Activation is
// the identity.
type Activation func(x *graph.Node) *graph.Node

// Common activations.
var (
	Sigmoid  Activation = graph.Sigmoid
	Tanh     Activation = graph.Tanh
	Relu     Activation = graph.Relu
	Identity Activation = graph.Identity
)

// ActivationByName returns the activation registered under name. The
// empty name, "identity" and "linear" all give a nil (identity) activation.
func ActivationByName(name string) (Activation, bool) {
	switch name {
	case "", "identity", "linear":
		return nil, true
	case "sigmoid":
		return Sigmoid, true
	case "tanh":
		return Tanh, true
	case "relu":
		return Relu, true
	default:
		return nil, false
	}
}

// Activations selects the nonlinearity following each layer of a stack.
type Activations struct {
	shared   Activation
	perLayer []Activation
	isList   bool
}

// Shared applies f after every layer.
func Shared(f Activation) Activations {
	return Activations{shared: f}
}

// PerLayer applies fs[i] after layer i. The stack must have exactly
// len(fs) layers.
func PerLayer(fs ...Activation) Activations {
	return Activations{perLayer: fs, isList: true}
}

func (a Activations) at(i int) Activation {
	if a.isList {
		return a.perLayer[i]
	}
	return a.shared
}

type stackOptions struct {
	rawOutput bool
}

// StackOption configures a stack application.
type StackOption func(*stackOptions)

// WithRawOutput controls whether the last layer's activation is skipped.
// Defaults to true: the stack's output is the last layer's raw output.
func WithRawOutput(raw bool) StackOption {
	return func(o *stackOptions) {
		o.rawOutput = raw
	}
}

// Stack composes a Layer into a sequence of layers sharing one scope.
type Stack[S any] struct {
	layer Layer[S]
}

// MakeStack returns a Stack applying layer once per spec.
func MakeStack[S any](layer Layer[S]) Stack[S] {
	return Stack[S]{layer: layer}
}

// Provided stacks.
var (
	FCStack        = MakeStack[int](LayerFunc[int](Affine))
	ConvStack      = MakeStack[LayerSpec](LayerFunc[LayerSpec](Conv))
	DeconvStack    = MakeStack[LayerSpec](LayerFunc[LayerSpec](Deconv))
	GatedConvStack = MakeStack[LayerSpec](LayerFunc[LayerSpec](GatedConv))
)

// Apply runs x through one layer per spec, in order. Layer i is built in
// scope s.In(name) under the name strconv.Itoa(i), and followed by
// act's activation for i, except that with raw output (the default) the
// last layer's activation is skipped. An empty spec list returns x.
//
// Example:
//
//	// 784 -> 256 -> 64 -> 10, sigmoid between layers, raw logits out.
//	logits, err := layers.FCStack.Apply(g.Root(), x, []int{256, 64, 10},
//		layers.Shared(layers.Sigmoid), "mlp")
func (st Stack[S]) Apply(s *vars.Scope, x *graph.Node, specs []S, act Activations, name string, opts ...StackOption) (*graph.Node, error) {
	o := stackOptions{rawOutput: true}
	for _, opt := range opts {
		opt(&o)
	}
	if name == "" || strings.Contains(name, vars.ScopeSeparator) {
		return nil, errors.Wrapf(ErrInvalidSpec, "stack name %q must be non-empty and contain no %q", name, vars.ScopeSeparator)
	}
	if len(specs) == 0 {
		return x, nil
	}
	if act.isList && len(act.perLayer) != len(specs) {
		return nil, errors.Wrapf(ErrActivationCount, "stack %s: %d activations for %d layers", name, len(act.perLayer), len(specs))
	}

	scope := s.In(name)
	for i, spec := range specs {
		out, err := st.layer.Apply(scope, x, spec, strconv.Itoa(i))
		if err != nil {
			return nil, errors.Wrapf(err, "stack %s: layer %d", name, i)
		}
		x = out
		if o.rawOutput && i == len(specs)-1 {
			break
		}
		if f := act.at(i); f != nil {
			x = f(x)
		}
	}
	return x, nil
}
