package cpu

import (
	"context"

	"github.com/pkg/errors"

	"github.com/born-ml/blocks/internal/padding"
	"github.com/born-ml/blocks/internal/parallel"
	"github.com/born-ml/blocks/internal/tensor"
)

// Conv2DTranspose computes the transposed convolution: the gradient of
// Conv2D with respect to its input.
//
// Input shape:  [batch, in_w, in_h, in_channels]
// Kernel shape: [kernel_w, kernel_h, out_channels, in_channels]
// Output shape: outShape = [batch, out_w, out_h, out_channels]
//
// The output shape is explicit because several output sizes map to the
// same input size under a strided convolution. It is accepted only if a
// Conv2D over outShape with the same kernel, strides and mode would produce
// the input's spatial size.
//
// Algorithm, per batch element:
//  1. GEMM: [in_w*in_h, in_channels] @ kernelᵀ -> [in_w*in_h, kernel_w*kernel_h*out_channels]
//  2. Col2im: scatter-add each row into its receptive field in the output
func (cpu *CPUBackend) Conv2DTranspose(
	ctx context.Context,
	input, kernel *tensor.RawTensor,
	outShape tensor.Shape,
	sw, sh int,
	mode padding.Mode,
) (*tensor.RawTensor, error) {
	if outShape.Rank() != 4 {
		return nil, errors.Errorf("conv2d_transpose: output shape must be 4D, got %s", outShape)
	}
	// Geometry is expressed from the forward convolution's point of view:
	// its input is our output.
	g, err := newConvGeometry("conv2d_transpose", outShape, kernel.Shape(), sw, sh, mode)
	if err != nil {
		return nil, err
	}
	if input.DType() != tensor.Float32 || kernel.DType() != tensor.Float32 {
		return nil, errors.Errorf("conv2d_transpose: expected float32 operands, got %s and %s", input.DType(), kernel.DType())
	}
	inShape := input.Shape()
	if inShape.Rank() != 4 {
		return nil, errors.Errorf("conv2d_transpose: input must be 4D [N,W,H,C], got %s", inShape)
	}
	kerShape := kernel.Shape()
	switch {
	case inShape[0] != g.batch:
		return nil, errors.Errorf("conv2d_transpose: batch %d != output batch %d", inShape[0], g.batch)
	case kerShape[2] != g.cin:
		return nil, errors.Errorf("conv2d_transpose: kernel output channels %d != output shape channels %d", kerShape[2], g.cin)
	case kerShape[3] != inShape[3]:
		return nil, errors.Errorf("conv2d_transpose: kernel input channels %d != input channels %d", kerShape[3], inShape[3])
	}
	g.cout = inShape[3]
	g.outW, g.outH = inShape[1], inShape[2]
	if padding.OutputDim(g.inW, g.kw, sw, mode) != g.outW || padding.OutputDim(g.inH, g.kh, sh, mode) != g.outH {
		return nil, errors.Errorf("conv2d_transpose: output shape %s is inconsistent with input %s (kernel %dx%d, stride (%d, %d), %s)",
			outShape, inShape, g.kw, g.kh, sw, sh, mode)
	}
	g.padW, _ = padding.Explicit(g.inW, g.kw, sw, mode)
	g.padH, _ = padding.Explicit(g.inH, g.kh, sh, mode)

	output, err := tensor.NewRaw(outShape, tensor.Float32)
	if err != nil {
		return nil, errors.Wrap(err, "conv2d_transpose: failed to create output tensor")
	}

	in, ker, out := input.AsFloat32(), kernel.AsFloat32(), output.AsFloat32()
	inSize := g.outW * g.outH * g.cout
	outSize := g.inW * g.inH * g.cin
	err = parallel.For(ctx, g.batch, cpu.cfg, func(_ context.Context, n int) error {
		rows, cols := g.outW*g.outH, g.kw*g.kh*g.cin
		col := make([]float32, rows*cols)
		gemm(in[n*inSize:(n+1)*inSize], ker, col, rows, g.cout, cols, true)
		col2im(out[n*outSize:(n+1)*outSize], col, g)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "conv2d_transpose")
	}
	return output, nil
}
