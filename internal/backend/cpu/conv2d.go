package cpu

import (
	"context"

	"github.com/pkg/errors"

	"github.com/born-ml/blocks/internal/padding"
	"github.com/born-ml/blocks/internal/parallel"
	"github.com/born-ml/blocks/internal/tensor"
)

// Conv2D performs 2D convolution using the im2col algorithm.
//
// Input shape:  [batch, width, height, in_channels]
// Kernel shape: [kernel_w, kernel_h, in_channels, out_channels]
// Output shape: [batch, out_w, out_h, out_channels]
//
// Parameters:
//   - sw, sh: strides along width and height
//   - mode: padding.Same or padding.Valid. Constant padding must be applied
//     to the input beforehand; the engine rejects it.
//
// Algorithm, per batch element (batch elements run in parallel):
//  1. Im2col: gather every receptive field into a row of a
//     [out_w*out_h, kernel_w*kernel_h*in_channels] matrix, zero-filling padding
//  2. GEMM with the kernel viewed as [kernel_w*kernel_h*in_channels, out_channels]
//  3. The [out_w*out_h, out_channels] product is already the NHWC output slice
func (cpu *CPUBackend) Conv2D(ctx context.Context, input, kernel *tensor.RawTensor, sw, sh int, mode padding.Mode) (*tensor.RawTensor, error) {
	g, err := newConvGeometry("conv2d", input.Shape(), kernel.Shape(), sw, sh, mode)
	if err != nil {
		return nil, err
	}
	if input.DType() != tensor.Float32 || kernel.DType() != tensor.Float32 {
		return nil, errors.Errorf("conv2d: expected float32 operands, got %s and %s", input.DType(), kernel.DType())
	}
	if g.cin != kernel.Shape()[2] {
		return nil, errors.Errorf("conv2d: input channels %d != kernel channels %d", g.cin, kernel.Shape()[2])
	}
	g.cout = kernel.Shape()[3]
	g.outW = padding.OutputDim(g.inW, g.kw, sw, mode)
	g.outH = padding.OutputDim(g.inH, g.kh, sh, mode)
	if g.outW <= 0 || g.outH <= 0 {
		return nil, errors.Errorf("conv2d: kernel %dx%d does not fit input %s with %s padding", g.kw, g.kh, input.Shape(), mode)
	}
	g.padW, _ = padding.Explicit(g.inW, g.kw, sw, mode)
	g.padH, _ = padding.Explicit(g.inH, g.kh, sh, mode)

	output, err := tensor.NewRaw(tensor.Shape{g.batch, g.outW, g.outH, g.cout}, tensor.Float32)
	if err != nil {
		return nil, errors.Wrap(err, "conv2d: failed to create output tensor")
	}

	in, ker, out := input.AsFloat32(), kernel.AsFloat32(), output.AsFloat32()
	inSize := g.inW * g.inH * g.cin
	outSize := g.outW * g.outH * g.cout
	err = parallel.For(ctx, g.batch, cpu.cfg, func(_ context.Context, n int) error {
		rows, cols := g.outW*g.outH, g.kw*g.kh*g.cin
		col := make([]float32, rows*cols)
		im2col(col, in[n*inSize:(n+1)*inSize], g)
		gemm(col, ker, out[n*outSize:(n+1)*outSize], rows, cols, g.cout, false)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "conv2d")
	}
	return output, nil
}

// convGeometry collects the sizes shared by Conv2D and Conv2DTranspose.
// "in" always refers to the side with the receptive fields gathered by
// im2col (the convolution input), "out" to the side with one row per window.
type convGeometry struct {
	batch         int
	inW, inH, cin int
	kw, kh        int
	sw, sh        int
	outW, outH    int
	cout          int
	padW, padH    int
}

func newConvGeometry(op string, inShape, kerShape tensor.Shape, sw, sh int, mode padding.Mode) (convGeometry, error) {
	if inShape.Rank() != 4 {
		return convGeometry{}, errors.Errorf("%s: input must be 4D [N,W,H,C], got %s", op, inShape)
	}
	if kerShape.Rank() != 4 {
		return convGeometry{}, errors.Errorf("%s: kernel must be 4D [KW,KH,C,C], got %s", op, kerShape)
	}
	if sw <= 0 || sh <= 0 {
		return convGeometry{}, errors.Errorf("%s: invalid stride (%d, %d)", op, sw, sh)
	}
	if mode != padding.Same && mode != padding.Valid {
		return convGeometry{}, errors.Errorf("%s: unsupported engine padding %q", op, mode)
	}
	return convGeometry{
		batch: inShape[0],
		inW:   inShape[1],
		inH:   inShape[2],
		cin:   inShape[3],
		kw:    kerShape[0],
		kh:    kerShape[1],
		sw:    sw,
		sh:    sh,
	}, nil
}

// im2col fills col ([outW*outH, kw*kh*cin]) from one batch element x
// ([inW, inH, cin]).
func im2col(col, x []float32, g convGeometry) {
	cols := g.kw * g.kh * g.cin
	for ow := 0; ow < g.outW; ow++ {
		for oh := 0; oh < g.outH; oh++ {
			row := col[(ow*g.outH+oh)*cols : (ow*g.outH+oh+1)*cols]
			wStart := ow*g.sw - g.padW
			hStart := oh*g.sh - g.padH
			i := 0
			for kw := 0; kw < g.kw; kw++ {
				w := wStart + kw
				for kh := 0; kh < g.kh; kh++ {
					h := hStart + kh
					if w < 0 || w >= g.inW || h < 0 || h >= g.inH {
						for c := 0; c < g.cin; c++ {
							row[i] = 0
							i++
						}
						continue
					}
					base := (w*g.inH + h) * g.cin
					copy(row[i:i+g.cin], x[base:base+g.cin])
					i += g.cin
				}
			}
		}
	}
}

// col2im is the adjoint of im2col: it scatter-adds every row of col back
// into its receptive field in x, dropping contributions that land in padding.
func col2im(x, col []float32, g convGeometry) {
	cols := g.kw * g.kh * g.cin
	for ow := 0; ow < g.outW; ow++ {
		for oh := 0; oh < g.outH; oh++ {
			row := col[(ow*g.outH+oh)*cols : (ow*g.outH+oh+1)*cols]
			wStart := ow*g.sw - g.padW
			hStart := oh*g.sh - g.padH
			i := 0
			for kw := 0; kw < g.kw; kw++ {
				w := wStart + kw
				for kh := 0; kh < g.kh; kh++ {
					h := hStart + kh
					if w < 0 || w >= g.inW || h < 0 || h >= g.inH {
						i += g.cin
						continue
					}
					base := (w*g.inH + h) * g.cin
					for c := 0; c < g.cin; c++ {
						x[base+c] += row[i]
						i++
					}
				}
			}
		}
	}
}
