package layers

import (
	"github.com/pkg/errors"

	"github.com/born-ml/blocks/internal/graph"
	"github.com/born-ml/blocks/internal/padding"
	"github.com/born-ml/blocks/internal/tensor"
	"github.com/born-ml/blocks/internal/vars"
)

// Deconv applies a transposed 2D convolution to x [batch, width, height,
// in_channels], producing [batch, width*stride_w, height*stride_h,
// out_channels]; with padding.Valid each spatial size grows by a further
// kernel size minus one.
//
// The input channel count is taken from x. If spec.Kernel has a fourth
// entry it must agree with x, and it supplies the count when x's channel
// dimension is statically unknown. With neither, construction fails with
// ErrUnknownChannels.
//
// The kernel parameter "kernel_<name>" has shape
// [kernel_w, kernel_h, out_channels, in_channels]. padding.Constant is not
// supported.
//
// The output shape is computed at run time from x's shape, and is also
// set as the result's static shape whenever x's width and height are known.
//
// Example:
//
//	// [?, 7, 7, 32] -> [?, 14, 14, 16]
//	up, err := layers.Deconv(scope, h, layers.LayerSpec{
//		Kernel: []int{3, 3, 16},
//		Stride: []int{1, 2, 2, 1},
//	}, "0")
func Deconv(s *vars.Scope, x *graph.Node, spec LayerSpec, name string) (*graph.Node, error) {
	if x.Rank() != 4 {
		return nil, errors.Wrapf(ErrRank, "deconv %s: expected [batch, width, height, channels], got %s", name, x)
	}
	spec = spec.WithDefaults()
	if err := spec.Validate(); err != nil {
		return nil, errors.Wrapf(err, "deconv %s", name)
	}
	if spec.Pad == padding.Constant {
		return nil, errors.Wrapf(ErrInvalidSpec, "deconv %s: CONSTANT padding is not supported", name)
	}
	cin, err := inputChannels(x, spec)
	if err != nil {
		return nil, errors.Wrapf(err, "deconv %s", name)
	}

	kw, kh, cout := spec.Kernel[0], spec.Kernel[1], spec.Kernel[2]
	sw, sh := spec.strides()
	mode := spec.Pad

	if spec.Bias {
		x = withOnesChannel(x).SetName(vars.JoinScope(s.Path(), name+"_pad1"))
		cin++
	}

	kernel, err := variable(s, x, "kernel_"+name, tensor.Shape{kw, kh, cout, cin}, vars.Xavier())
	if err != nil {
		return nil, errors.Wrapf(err, "deconv %s", name)
	}

	g := x.Graph()
	inShape := graph.ShapeOf(x)
	spatial := graph.Mul(graph.Slice(inShape, 0, 1, 2), graph.Dims(g, sw, sh))
	if mode == padding.Valid {
		spatial = graph.Add(spatial, graph.Dims(g, kw-1, kh-1))
	}
	outShape := graph.Concat(0, graph.Slice(inShape, 0, 0, 1), spatial, graph.Dims(g, cout))

	out := graph.Conv2DTranspose(x, kernel, outShape, sw, sh, mode).
		SetName(vars.JoinScope(s.Path(), "deconv_"+name))

	if xs := x.Shape(); xs[1] != tensor.Unknown && xs[2] != tensor.Unknown {
		out.SetShape(tensor.Shape{
			xs[0],
			padding.TransposeOutputDim(xs[1], kw, sw, mode),
			padding.TransposeOutputDim(xs[2], kh, sh, mode),
			cout,
		})
	}

	logBuilt(s, "deconv", name, out)
	return out, nil
}
