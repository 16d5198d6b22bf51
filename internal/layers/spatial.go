package layers

import (
	"github.com/pkg/errors"

	"github.com/born-ml/blocks/internal/graph"
	"github.com/born-ml/blocks/internal/tensor"
)

// SpatialSoftmax turns each channel of x [batch, width, height, channels]
// into the expected (x, y) position of a spatial distribution.
//
// Each channel is exponentiated and read as an unnormalized distribution
// over a grid whose coordinates run from 0 to 1 along both axes. The
// result is the centroid of that distribution, computed from its two
// normalized marginals.
//
// Output shape is [batch, 2*channels], laid out as
// [x_0, ..., x_{C-1}, y_0, ..., y_{C-1}]: all x coordinates, then all y
// coordinates. Width and height must be statically known.
//
// The per-channel maximum is subtracted before exponentiation, which leaves
// the result unchanged and keeps large activations finite.
func SpatialSoftmax(x *graph.Node) (*graph.Node, error) {
	if x.Rank() != 4 {
		return nil, errors.Wrapf(ErrRank, "spatial softmax: expected [batch, width, height, channels], got %s", x)
	}
	shape := x.Shape()
	w, h := shape[1], shape[2]
	if w == tensor.Unknown || h == tensor.Unknown {
		return nil, errors.Wrapf(ErrUnknownDim, "spatial softmax: width and height of %s", x)
	}
	g := x.Graph()

	e := graph.Exp(graph.Sub(x, graph.ReduceMax(x, true, 1, 2)))

	// Marginal over width: sum out height. [batch, width, channels]
	fx := graph.ReduceSum(e, false, 2)
	fx = graph.Div(fx, graph.ReduceSum(fx, true, 1))
	// Marginal over height: sum out width. [batch, height, channels]
	fy := graph.ReduceSum(e, false, 1)
	fy = graph.Div(fy, graph.ReduceSum(fy, true, 1))

	xs := graph.Reshape(graph.Linspace(g, 0, 1, w), tensor.Shape{w, 1})
	ys := graph.Reshape(graph.Linspace(g, 0, 1, h), tensor.Shape{h, 1})
	ex := graph.ReduceSum(graph.Mul(fx, xs), false, 1)
	ey := graph.ReduceSum(graph.Mul(fy, ys), false, 1)

	out := graph.Concat(1, ex, ey).SetName("spatial_softmax")
	g.Logger().Debug("layer built", "op", "spatial_softmax", "shape", out.Shape().String())
	return out, nil
}
