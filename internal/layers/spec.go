// Package layers provides parameterized graph building blocks: affine
// transforms, convolutions, transposed and gated convolutions, spatial
// softmax, p-norms, and a combinator stacking any of them into a
// multi-layer network.
//
// Every operator takes an explicit variable scope and an input node, creates
// or reuses its parameters in the scope, and returns the output node:
//
//	g := graph.New()
//	x := g.Placeholder("x", tensor.Float32, tensor.Shape{tensor.Unknown, 28, 28, 1})
//	h, err := layers.Conv(g.Root().In("enc"), x, layers.LayerSpec{Kernel: []int{5, 5, 16}}, "0")
//
// Operators check their preconditions at graph construction time and
// report violations as errors wrapping one of the sentinel errors below.
package layers

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/born-ml/blocks/internal/padding"
)

// Errors reported while building layers.
var (
	// ErrRank is returned when an input has the wrong rank.
	ErrRank = errors.New("unexpected input rank")
	// ErrConstantStride is returned when CONSTANT padding is combined with a
	// stride other than (1, 1, 1, 1).
	ErrConstantStride = padding.ErrConstantStride
	// ErrUnknownChannels is returned when the input channel count is neither
	// statically known nor given in the kernel spec.
	ErrUnknownChannels = errors.New("number of input channels was not given and could not be inferred")
	// ErrChannelMismatch is returned when the input channel count given in
	// the kernel spec disagrees with the input.
	ErrChannelMismatch = errors.New("inferred and given numbers of input channels do not agree")
	// ErrActivationCount is returned when a per-layer activation list does
	// not have one entry per layer.
	ErrActivationCount = errors.New("number of activations does not match number of layers")
	// ErrInvalidSpec is returned for malformed layer configuration.
	ErrInvalidSpec = errors.New("invalid layer spec")
	// ErrUnknownDim is returned when an operator needs a statically known
	// dimension.
	ErrUnknownDim = errors.New("dimension must be statically known")
	// ErrForeignScope is returned when a scope belongs to a registry other
	// than the input graph's.
	ErrForeignScope = errors.New("scope does not belong to the graph's registry")
)

// LayerSpec describes one convolution-family layer.
//
// Kernel is (kernel_w, kernel_h, out_channels) or (kernel_w, kernel_h,
// out_channels, in_channels). Stride is (1, stride_w, stride_h, 1). Pad is
// one of padding.Same, padding.Valid or padding.Constant. Bias appends a
// channel of ones to the input, so the kernel learns a bias as an extra
// input channel.
//
// Example:
//
//	spec := layers.LayerSpec{
//		Kernel: []int{3, 3, 32},
//		Stride: []int{1, 2, 2, 1},
//		Pad:    padding.Valid,
//	}
type LayerSpec struct {
	Kernel []int        `yaml:"kernel"`
	Stride []int        `yaml:"stride,omitempty"`
	Pad    padding.Mode `yaml:"pad,omitempty"`
	Bias   bool         `yaml:"bias,omitempty"`
}

// DefaultStride is the stride used when a LayerSpec gives none.
var DefaultStride = []int{1, 1, 1, 1}

// WithDefaults returns a copy of s with Stride and Pad filled in when
// absent. s itself is not modified.
func (s LayerSpec) WithDefaults() LayerSpec {
	out := LayerSpec{
		Kernel: append([]int(nil), s.Kernel...),
		Stride: append([]int(nil), s.Stride...),
		Pad:    s.Pad,
		Bias:   s.Bias,
	}
	if len(out.Stride) == 0 {
		out.Stride = append([]int(nil), DefaultStride...)
	}
	if out.Pad == "" {
		out.Pad = padding.Same
	}
	return out
}

// Validate reports every problem with s at once. Absent Stride and Pad
// are valid: they take their defaults.
func (s LayerSpec) Validate() error {
	s = s.WithDefaults()

	var err error
	if len(s.Kernel) != 3 && len(s.Kernel) != 4 {
		err = multierr.Append(err, errors.Wrapf(ErrInvalidSpec,
			"kernel must be (kw, kh, out_channels[, in_channels]), got %v", s.Kernel))
	}
	for i, k := range s.Kernel {
		if k < 1 {
			err = multierr.Append(err, errors.Wrapf(ErrInvalidSpec, "kernel[%d] = %d", i, k))
		}
	}

	strideOK := len(s.Stride) == 4 && s.Stride[0] == 1 && s.Stride[3] == 1
	if !strideOK {
		err = multierr.Append(err, errors.Wrapf(ErrInvalidSpec,
			"stride must be (1, stride_w, stride_h, 1), got %v", s.Stride))
	}

	if !s.Pad.IsKnown() {
		err = multierr.Append(err, errors.Wrapf(padding.ErrUnknownMode, "%q", s.Pad))
	} else if strideOK {
		if e := padding.CheckStride(s.Pad, s.Stride[1], s.Stride[2]); e != nil {
			err = multierr.Append(err, e)
		}
	}
	return err
}

// strides returns (stride_w, stride_h) of a spec with defaults applied.
func (s LayerSpec) strides() (sw, sh int) {
	return s.Stride[1], s.Stride[2]
}
