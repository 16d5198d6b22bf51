// Package padding resolves output sizes and border padding for convolution
// and transposed convolution.
//
// All functions are pure integer arithmetic. A size of tensor.Unknown
// propagates: if the input size is unknown, so is the output size.
package padding

import (
	"github.com/pkg/errors"

	"github.com/born-ml/blocks/internal/tensor"
)

// Mode is the policy governing how spatial borders are extended before a
// sliding-window operation.
type Mode string

// Supported pad modes.
const (
	// Same pads with zeros so that output size = ceil(input / stride).
	Same Mode = "SAME"
	// Valid applies no padding; the window must fit entirely inside the input.
	Valid Mode = "VALID"
	// Constant replicates the edge rows and columns of the input instead of
	// zero-filling. Only defined for stride 1; the engine never sees it.
	Constant Mode = "CONSTANT"
)

// ErrConstantStride is returned when Constant padding is combined with a
// stride other than 1.
var ErrConstantStride = errors.New("CONSTANT padding requires stride (1, 1, 1, 1)")

// ErrUnknownMode is returned by ParseMode for unrecognized names.
var ErrUnknownMode = errors.New("unknown pad mode")

// ParseMode parses a pad mode name. The empty string yields Same.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return Same, nil
	case Same, Valid, Constant:
		return Mode(s), nil
	default:
		return "", errors.Wrapf(ErrUnknownMode, "%q", s)
	}
}

// IsKnown reports whether m is one of the supported modes.
func (m Mode) IsKnown() bool {
	return m == Same || m == Valid || m == Constant
}

// Engine returns the mode handed to the convolution primitive once any
// explicit padding has been applied: Constant becomes Valid.
func (m Mode) Engine() Mode {
	if m == Constant {
		return Valid
	}
	return m
}

// EdgeAmounts returns how many copies of the edge slice Constant padding
// inserts before and after an axis for a kernel of size k.
// The total is always k-1, matching the output size of Same.
func EdgeAmounts(k int) (before, after int) {
	before = k / 2
	after = k - k/2 - 1
	return before, after
}

// CheckStride validates a (width, height) stride against the mode.
func CheckStride(m Mode, sw, sh int) error {
	if sw <= 0 || sh <= 0 {
		return errors.Errorf("invalid stride (%d, %d)", sw, sh)
	}
	if m == Constant && (sw != 1 || sh != 1) {
		return errors.Wrapf(ErrConstantStride, "got stride (%d, %d)", sw, sh)
	}
	return nil
}

// OutputDim returns the convolution output size along one axis.
//
//	SAME:     ceil(in / stride)
//	VALID:    floor((in - k) / stride) + 1, or 0 if the kernel does not fit
//	CONSTANT: in (stride is 1 and the edge pad adds k-1)
func OutputDim(in, k, stride int, m Mode) int {
	if in == tensor.Unknown {
		return tensor.Unknown
	}
	switch m {
	case Valid:
		if in < k {
			return 0
		}
		return (in-k)/stride + 1
	case Constant:
		return in
	default:
		return (in + stride - 1) / stride
	}
}

// TransposeOutputDim returns the transposed-convolution output size along
// one axis: in * stride, plus k-1 for VALID.
func TransposeOutputDim(in, k, stride int, m Mode) int {
	if in == tensor.Unknown {
		return tensor.Unknown
	}
	out := in * stride
	if m == Valid {
		out += k - 1
	}
	return out
}

// Explicit returns the zero padding (before, after) the engine applies to an
// axis of size in so that a window of size k with the given stride produces
// OutputDim(in, k, stride, m) positions. Odd totals put the extra row after.
// For Constant it returns the edge-replication amounts.
func Explicit(in, k, stride int, m Mode) (before, after int) {
	switch m {
	case Valid:
		return 0, 0
	case Constant:
		return EdgeAmounts(k)
	default:
		out := OutputDim(in, k, stride, Same)
		total := max((out-1)*stride+k-in, 0)
		return total / 2, total - total/2
	}
}
