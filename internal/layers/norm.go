package layers

import (
	"github.com/pkg/errors"

	"github.com/born-ml/blocks/internal/graph"
)

// NormOptions configures Norm.
type NormOptions struct {
	// P is the norm order; must be > 0.
	P float64
	// Root takes the 1/P-th power of the sum. Without it Norm returns
	// sum(|x|^P).
	Root bool
	// KeepDims keeps reduced axes with size 1, for broadcasting.
	KeepDims bool
	// Axes to reduce over. Negative axes count from the end; none means all.
	Axes []int
}

// DefaultNormOptions returns the Euclidean norm over all axes.
func DefaultNormOptions() NormOptions {
	return NormOptions{P: 2, Root: true}
}

// Norm computes (sum(|x|^p over axes))^(1/p), like numpy.linalg.norm on
// flattened axes.
func Norm(x *graph.Node, opts NormOptions) (*graph.Node, error) {
	if opts.P <= 0 {
		return nil, errors.Wrapf(ErrInvalidSpec, "norm: order p must be > 0, got %g", opts.P)
	}
	axes, err := checkAxes("norm", x, opts.Axes)
	if err != nil {
		return nil, err
	}

	y := graph.ReduceSum(graph.Pow(graph.Abs(x), opts.P), opts.KeepDims, axes...)
	if opts.Root {
		y = graph.Pow(y, 1/opts.P)
	}
	return y.SetName("norm"), nil
}

// Normalize divides x by its sum over axes, so that the result sums to one
// along them. x must be non-negative; no max is subtracted.
func Normalize(x *graph.Node, axes ...int) (*graph.Node, error) {
	axes, err := checkAxes("normalize", x, axes)
	if err != nil {
		return nil, err
	}
	return graph.Div(x, graph.ReduceSum(x, true, axes...)).SetName("normalize"), nil
}

func checkAxes(op string, x *graph.Node, axes []int) ([]int, error) {
	rank := x.Rank()
	for _, a := range axes {
		if a < -rank || a >= rank {
			return nil, errors.Wrapf(ErrInvalidSpec, "%s: axis %d out of range for %s", op, a, x)
		}
	}
	return graph.NormalizeAxes(op, axes, rank), nil
}
