package layers

import (
	"github.com/pkg/errors"

	"github.com/born-ml/blocks/internal/graph"
	"github.com/born-ml/blocks/internal/tensor"
	"github.com/born-ml/blocks/internal/vars"
)

// Affine computes x @ W + b for x [batch, dim_in].
//
// W is the parameter "w_<name>" of shape [dim_in, dimOut], Xavier
// initialized; b is "b_<name>" of shape [dimOut], initialized to zeros.
// dim_in must be statically known.
//
// Example:
//
//	// [?, 784] -> [?, 128]
//	h, err := layers.Affine(g.Root().In("fc"), x, 128, "0")
func Affine(s *vars.Scope, x *graph.Node, dimOut int, name string) (*graph.Node, error) {
	if x.Rank() != 2 {
		return nil, errors.Wrapf(ErrRank, "affine %s: expected [batch, features], got %s", name, x)
	}
	if dimOut < 1 {
		return nil, errors.Wrapf(ErrInvalidSpec, "affine %s: output dimension %d", name, dimOut)
	}
	dimIn := x.Shape()[1]
	if dimIn == tensor.Unknown {
		return nil, errors.Wrapf(ErrUnknownDim, "affine %s: input features of %s", name, x)
	}

	w, err := variable(s, x, "w_"+name, tensor.Shape{dimIn, dimOut}, vars.Xavier())
	if err != nil {
		return nil, errors.Wrapf(err, "affine %s", name)
	}
	b, err := variable(s, x, "b_"+name, tensor.Shape{dimOut}, vars.Zeros())
	if err != nil {
		return nil, errors.Wrapf(err, "affine %s", name)
	}

	out := graph.BiasAdd(graph.MatMul(x, w), b).
		SetName(vars.JoinScope(s.Path(), "affine_"+name))
	logBuilt(s, "affine", name, out)
	return out, nil
}
