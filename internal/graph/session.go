package graph

import (
	"context"
	"slices"
	"time"

	"github.com/pkg/errors"

	"github.com/born-ml/blocks/internal/backend/cpu"
	"github.com/born-ml/blocks/internal/tensor"
)

// Feeds maps nodes, usually placeholders, to the values they take in a run.
type Feeds map[*Node]*tensor.RawTensor

// Session evaluates nodes of one graph on a backend.
type Session struct {
	graph   *Graph
	backend *cpu.CPUBackend
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithBackend sets the backend kernels run on.
func WithBackend(backend *cpu.CPUBackend) SessionOption {
	return func(s *Session) {
		s.backend = backend
	}
}

// NewSession creates a session for g. The default backend is cpu.New().
func NewSession(g *Graph, opts ...SessionOption) *Session {
	s := &Session{graph: g}
	for _, opt := range opts {
		opt(s)
	}
	if s.backend == nil {
		s.backend = cpu.New()
	}
	return s
}

// Run evaluates fetches and returns their values in order.
//
// Each node needed by the fetches is evaluated at most once. Fed nodes are
// not evaluated; their inputs are not needed either. Every fed and every
// computed value must agree with its node's dtype and be compatible with its
// static shape.
func (s *Session) Run(ctx context.Context, feeds Feeds, fetches ...*Node) ([]*tensor.RawTensor, error) {
	start := time.Now()

	values := make(map[*Node]*tensor.RawTensor, len(feeds))
	for n, v := range feeds {
		if n.graph != s.graph {
			return nil, errors.Wrapf(ErrForeignNode, "feed %s", n)
		}
		if err := check(n, v); err != nil {
			return nil, errors.Wrap(err, "feed")
		}
		values[n] = v
	}

	order, err := s.schedule(fetches, values)
	if err != nil {
		return nil, err
	}

	for _, n := range order {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "run interrupted before %s", n)
		}
		inputs := make([]*tensor.RawTensor, len(n.inputs))
		for i, in := range n.inputs {
			inputs[i] = values[in]
		}
		v, err := n.eval(ctx, s.backend, inputs)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluate %s", n)
		}
		if err := check(n, v); err != nil {
			return nil, err
		}
		values[n] = v
	}

	out := make([]*tensor.RawTensor, len(fetches))
	for i, f := range fetches {
		out[i] = values[f]
	}
	s.graph.logger.Debug("session run",
		"fetches", len(fetches),
		"fed", len(feeds),
		"evaluated", len(order),
		"elapsed", time.Since(start))
	return out, nil
}

// schedule returns the nodes to evaluate, inputs before consumers. Node IDs
// already are a topological order, since inputs exist before their users.
func (s *Session) schedule(fetches []*Node, known map[*Node]*tensor.RawTensor) ([]*Node, error) {
	needed := make(map[*Node]bool)
	stack := make([]*Node, 0, len(fetches))
	for _, f := range fetches {
		if f == nil {
			return nil, errors.New("nil fetch")
		}
		if f.graph != s.graph {
			return nil, errors.Wrapf(ErrForeignNode, "fetch %s", f)
		}
		stack = append(stack, f)
	}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if needed[n] {
			continue
		}
		if _, ok := known[n]; ok {
			continue
		}
		if n.placeholder {
			return nil, errors.Wrapf(ErrMissingFeed, "%s", n)
		}
		needed[n] = true
		stack = append(stack, n.inputs...)
	}

	order := make([]*Node, 0, len(needed))
	for n := range needed {
		order = append(order, n)
	}
	slices.SortFunc(order, func(a, b *Node) int { return a.id - b.id })
	return order, nil
}

func check(n *Node, v *tensor.RawTensor) error {
	if v == nil {
		return errors.Errorf("%s: nil value", n)
	}
	if v.DType() != n.dtype {
		return errors.Wrapf(ErrDTypeMismatch, "%s: got %s", n, v.DType())
	}
	if !n.shape.IsCompatible(v.Shape()) {
		return errors.Wrapf(ErrShapeConflict, "%s: got %s", n, v.Shape())
	}
	return nil
}
