// Package graph implements a deferred tensor graph.
//
// Building a graph only records nodes. Every node carries a best-effort
// static shape, where any dimension may be tensor.Unknown, and the
// computation that produces its value. A Session later evaluates the nodes
// it is asked for, at which point every shape is concrete. The runtime
// shape is authoritative, and it must be compatible with the static one.
//
// Rank-1 int32 nodes describing shapes additionally carry a best-effort
// static value (see Node.StaticValue), so that the output shape of an op
// such as Conv2DTranspose can be known at build time whenever the input
// shape is, and computed at run time otherwise.
//
// Example:
//
//	g := graph.New()
//	x := g.Placeholder("x", tensor.Float32, tensor.Shape{tensor.Unknown, 3})
//	y := graph.Sigmoid(graph.MatMul(x, graph.Constant(g, w)))
//	out, err := graph.NewSession(g).Run(ctx, graph.Feeds{x: batch}, y)
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/born-ml/blocks/internal/backend/cpu"
	"github.com/born-ml/blocks/internal/tensor"
	"github.com/born-ml/blocks/internal/vars"
)

// Errors reported while running a graph.
var (
	ErrMissingFeed   = errors.New("placeholder was not fed")
	ErrShapeConflict = errors.New("runtime shape conflicts with static shape")
	ErrDTypeMismatch = errors.New("dtype mismatch")
	ErrForeignNode   = errors.New("node belongs to another graph")
)

// evalFunc computes a node's value from the values of its inputs.
type evalFunc func(ctx context.Context, backend *cpu.CPUBackend, inputs []*tensor.RawTensor) (*tensor.RawTensor, error)

// Graph owns a set of nodes and the variable registry their parameters
// live in. Parameters and graph share a lifetime.
type Graph struct {
	mu     sync.Mutex
	id     uuid.UUID
	nodes  []*Node
	reg    *vars.Registry
	logger *slog.Logger
	params map[*vars.Parameter]*Node
}

// Option configures a Graph.
type Option func(*Graph)

// WithRegistry makes the graph use an existing registry, e.g. one seeded
// for reproducible initialization.
func WithRegistry(reg *vars.Registry) Option {
	return func(g *Graph) {
		g.reg = reg
	}
}

// WithLogger sets the graph logger. The default registry inherits it.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) {
		g.logger = logger
	}
}

// New creates an empty graph.
func New(opts ...Option) *Graph {
	g := &Graph{
		id:     uuid.New(),
		logger: slog.Default(),
		params: make(map[*vars.Parameter]*Node),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.reg == nil {
		g.reg = vars.NewRegistry(vars.WithLogger(g.logger))
	}
	g.logger = g.logger.With("graph", g.id.String())
	return g
}

// ID returns the graph's unique identity.
func (g *Graph) ID() uuid.UUID {
	return g.id
}

// Registry returns the variable registry backing the graph's parameters.
func (g *Graph) Registry() *vars.Registry {
	return g.reg
}

// Root returns the root variable scope.
func (g *Graph) Root() *vars.Scope {
	return g.reg.Root()
}

// Logger returns the graph logger.
func (g *Graph) Logger() *slog.Logger {
	return g.logger
}

// Nodes returns all nodes in creation order.
func (g *Graph) Nodes() []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	nodes := make([]*Node, len(g.nodes))
	copy(nodes, g.nodes)
	return nodes
}

// NumNodes returns the number of nodes.
func (g *Graph) NumNodes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

func (g *Graph) newNode(op string, dtype tensor.DataType, shape tensor.Shape, inputs []*Node, eval evalFunc) *Node {
	for _, in := range inputs {
		if in == nil {
			panic(fmt.Sprintf("graph: %s: nil input", op))
		}
		if in.graph != g {
			panic(fmt.Sprintf("graph: %s: input %s belongs to another graph", op, in))
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.appendNode(op, dtype, shape, inputs, eval)
}

// appendNode adds a node to g. g.mu must be held.
func (g *Graph) appendNode(op string, dtype tensor.DataType, shape tensor.Shape, inputs []*Node, eval evalFunc) *Node {
	n := &Node{
		id:     len(g.nodes),
		op:     op,
		graph:  g,
		dtype:  dtype,
		shape:  shape.Clone(),
		inputs: inputs,
		eval:   eval,
	}
	n.name = fmt.Sprintf("%s_%d", op, n.id)
	g.nodes = append(g.nodes, n)
	return n
}

// graphOf returns the graph shared by nodes, panicking when there is none.
func graphOf(op string, nodes ...*Node) *Graph {
	if len(nodes) == 0 || nodes[0] == nil {
		panic(fmt.Sprintf("graph: %s: missing input", op))
	}
	return nodes[0].graph
}

// Node is a single value in the graph.
type Node struct {
	id     int
	name   string
	op     string
	graph  *Graph
	dtype  tensor.DataType
	shape  tensor.Shape
	inputs []*Node
	eval   evalFunc

	// static is the best-effort value of a rank-1 int32 node; nil when
	// nothing is known. Entries may be tensor.Unknown.
	static []int

	// placeholder nodes must be fed.
	placeholder bool
}

// ID returns the node's index in its graph.
func (n *Node) ID() int {
	return n.id
}

// Name returns the node name. Defaults to "<op>_<id>".
func (n *Node) Name() string {
	return n.name
}

// SetName renames the node and returns it.
func (n *Node) SetName(name string) *Node {
	n.name = name
	return n
}

// Op returns the name of the operation that produces the node.
func (n *Node) Op() string {
	return n.op
}

// Graph returns the owning graph.
func (n *Node) Graph() *Graph {
	return n.graph
}

// DType returns the node data type.
func (n *Node) DType() tensor.DataType {
	return n.dtype
}

// Shape returns the best-effort static shape.
func (n *Node) Shape() tensor.Shape {
	return n.shape.Clone()
}

// Rank returns the static rank, which is always known.
func (n *Node) Rank() int {
	return len(n.shape)
}

// SetShape refines the static shape with information the graph could not
// derive itself. Panics if s conflicts with what is already known.
func (n *Node) SetShape(s tensor.Shape) {
	merged, err := n.shape.Merge(s)
	if err != nil {
		panic(fmt.Sprintf("graph: SetShape on %s: %v", n, err))
	}
	n.shape = merged
}

// Inputs returns the nodes this node is computed from.
func (n *Node) Inputs() []*Node {
	return n.inputs
}

// StaticValue returns the best-effort value of a rank-1 int32 node, with
// tensor.Unknown for entries only known at run time. It returns nil if
// nothing is known about the value.
func (n *Node) StaticValue() []int {
	if n.static == nil {
		return nil
	}
	v := make([]int, len(n.static))
	copy(v, n.static)
	return v
}

// String returns a description such as "conv_enc_0:float32[? 28 28 16]".
func (n *Node) String() string {
	return n.name + ":" + n.dtype.String() + n.shape.String()
}
