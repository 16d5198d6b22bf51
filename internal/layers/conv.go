package layers

import (
	"github.com/pkg/errors"

	"github.com/born-ml/blocks/internal/graph"
	"github.com/born-ml/blocks/internal/padding"
	"github.com/born-ml/blocks/internal/tensor"
	"github.com/born-ml/blocks/internal/vars"
)

// Conv applies a 2D convolution to x [batch, width, height, in_channels].
//
// The kernel parameter "kernel_<name>" has shape
// [kernel_w, kernel_h, in_channels, out_channels], where in_channels counts
// the ones channel added by spec.Bias. It is created with Xavier
// initialization on first use and reused afterwards.
//
// With padding.Constant the input is first extended by replicating its
// edges (see EdgePad) and then convolved with padding.Valid, so the output
// has the input's spatial size.
//
// Example:
//
//	// [?, 28, 28, 1] -> [?, 14, 14, 16]
//	h, err := layers.Conv(scope, x, layers.LayerSpec{
//		Kernel: []int{5, 5, 16},
//		Stride: []int{1, 2, 2, 1},
//	}, "0")
func Conv(s *vars.Scope, x *graph.Node, spec LayerSpec, name string) (*graph.Node, error) {
	if x.Rank() != 4 {
		return nil, errors.Wrapf(ErrRank, "conv %s: expected [batch, width, height, channels], got %s", name, x)
	}
	spec = spec.WithDefaults()
	if err := spec.Validate(); err != nil {
		return nil, errors.Wrapf(err, "conv %s", name)
	}
	cin, err := inputChannels(x, spec)
	if err != nil {
		return nil, errors.Wrapf(err, "conv %s", name)
	}

	kw, kh, cout := spec.Kernel[0], spec.Kernel[1], spec.Kernel[2]
	sw, sh := spec.strides()
	if err := checkFits(x, kw, kh, spec.Pad); err != nil {
		return nil, errors.Wrapf(err, "conv %s", name)
	}

	if spec.Bias {
		x = withOnesChannel(x)
		cin++
	}
	if spec.Pad == padding.Constant {
		if x, err = EdgePad(x, kw, kh); err != nil {
			return nil, err
		}
	}

	kernel, err := variable(s, x, "kernel_"+name, tensor.Shape{kw, kh, cin, cout}, vars.Xavier())
	if err != nil {
		return nil, errors.Wrapf(err, "conv %s", name)
	}
	out := graph.Conv2D(x, kernel, sw, sh, spec.Pad.Engine()).
		SetName(vars.JoinScope(s.Path(), "conv_"+name))

	logBuilt(s, "conv", name, out)
	return out, nil
}

// EdgePad extends x [batch, width, height, channels] for a kernel_w x
// kernel_h window by replicating its border: the first column kernel_w/2
// times before, the last column kernel_w-kernel_w/2-1 times after, then the
// same for rows along the height axis. The padded tensor has
// kernel_w-1 more columns and kernel_h-1 more rows than x.
func EdgePad(x *graph.Node, kw, kh int) (*graph.Node, error) {
	if x.Rank() != 4 {
		return nil, errors.Wrapf(ErrRank, "edge pad: expected rank 4, got %s", x)
	}
	if kw < 1 || kh < 1 {
		return nil, errors.Wrapf(ErrInvalidSpec, "edge pad: kernel (%d, %d)", kw, kh)
	}
	x = padAxis(x, 1, kw)
	x = padAxis(x, 2, kh)
	return x, nil
}

func padAxis(x *graph.Node, axis, k int) *graph.Node {
	before, after := padding.EdgeAmounts(k)
	parts := make([]*graph.Node, 0, 3)
	if before > 0 {
		parts = append(parts, graph.Tile(graph.Slice(x, axis, 0, 1), repeat(axis, before)))
	}
	parts = append(parts, x)
	if after > 0 {
		parts = append(parts, graph.Tile(graph.Slice(x, axis, -1, 1), repeat(axis, after)))
	}
	if len(parts) == 1 {
		return x
	}
	return graph.Concat(axis, parts...)
}

func repeat(axis, n int) []int {
	m := []int{1, 1, 1, 1}
	m[axis] = n
	return m
}

// GatedConv returns tanh(conv_f(x)) * sigmoid(conv_g(x)), where conv_f and
// conv_g are two convolutions with the same spec and independent kernels
// named "kernel_<name>_f" and "kernel_<name>_g".
func GatedConv(s *vars.Scope, x *graph.Node, spec LayerSpec, name string) (*graph.Node, error) {
	f, err := Conv(s, x, spec, name+"_f")
	if err != nil {
		return nil, err
	}
	g, err := Conv(s, x, spec, name+"_g")
	if err != nil {
		return nil, err
	}
	out := graph.Mul(graph.Tanh(f), graph.Sigmoid(g)).
		SetName(vars.JoinScope(s.Path(), "gated_conv_"+name))
	logBuilt(s, "gated_conv", name, out)
	return out, nil
}

// inputChannels resolves the kernel's input channel count from x and an
// optional fourth kernel entry.
func inputChannels(x *graph.Node, spec LayerSpec) (int, error) {
	c := x.Shape()[3]
	if len(spec.Kernel) == 4 {
		given := spec.Kernel[3]
		if c == tensor.Unknown {
			return given, nil
		}
		if c != given {
			return 0, errors.Wrapf(ErrChannelMismatch, "input has %d, kernel spec gives %d", c, given)
		}
		return c, nil
	}
	if c == tensor.Unknown {
		return 0, errors.Wrapf(ErrUnknownChannels, "input %s", x)
	}
	return c, nil
}

// checkFits rejects VALID windows larger than a statically known input.
func checkFits(x *graph.Node, kw, kh int, mode padding.Mode) error {
	if mode != padding.Valid {
		return nil
	}
	shape := x.Shape()
	if padding.OutputDim(shape[1], kw, 1, mode) == 0 || padding.OutputDim(shape[2], kh, 1, mode) == 0 {
		return errors.Wrapf(ErrInvalidSpec, "kernel (%d, %d) does not fit input %s with VALID padding", kw, kh, x)
	}
	return nil
}

// withOnesChannel appends a channel of ones to x [batch, width, height, channels].
func withOnesChannel(x *graph.Node) *graph.Node {
	g := x.Graph()
	shape := graph.Concat(0, graph.Slice(graph.ShapeOf(x), 0, 0, 3), graph.Dims(g, 1))
	return graph.Concat(3, x, graph.Fill(shape, 1))
}

// variable gets or creates a float32 parameter in s and returns its node in
// x's graph.
func variable(s *vars.Scope, x *graph.Node, name string, shape tensor.Shape, init vars.Initializer) (*graph.Node, error) {
	g := x.Graph()
	if s.Registry() != g.Registry() {
		return nil, errors.Wrapf(ErrForeignScope, "scope %s", s)
	}
	p, err := s.Variable(name, shape, tensor.Float32, init)
	if err != nil {
		return nil, err
	}
	return g.Variable(p), nil
}

func logBuilt(s *vars.Scope, op, name string, out *graph.Node) {
	out.Graph().Logger().Debug("layer built",
		"op", op,
		"scope", s.Path(),
		"name", name,
		"shape", out.Shape().String())
}
