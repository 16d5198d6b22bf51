package tensor

import (
	"fmt"
	"strings"
)

// Unknown marks a dimension whose size is not known until the graph runs.
const Unknown = -1

// Shape represents the dimensions of a tensor.
//
// A Shape attached to a graph node is best-effort: any dimension may be
// Unknown. A Shape attached to a RawTensor is always fully defined.
type Shape []int

// Rank returns the number of dimensions.
func (s Shape) Rank() int {
	return len(s)
}

// NumElements returns the total number of elements in the tensor.
// Returns Unknown if any dimension is unknown.
func (s Shape) NumElements() int {
	if len(s) == 0 {
		return 1 // Scalar has 1 element
	}
	n := 1
	for _, dim := range s {
		if dim == Unknown {
			return Unknown
		}
		n *= dim
	}
	return n
}

// Validate checks if the shape is valid for a concrete tensor (all dimensions > 0).
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// IsFullyDefined reports whether every dimension is known.
func (s Shape) IsFullyDefined() bool {
	for _, dim := range s {
		if dim == Unknown {
			return false
		}
	}
	return true
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// IsCompatible reports whether a tensor of shape other could also have
// shape s: same rank, and every pair of dimensions either equal or unknown.
func (s Shape) IsCompatible(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != Unknown && other[i] != Unknown && s[i] != other[i] {
			return false
		}
	}
	return true
}

// Merge returns the most specific shape compatible with both s and other.
func (s Shape) Merge(other Shape) (Shape, error) {
	if !s.IsCompatible(other) {
		return nil, fmt.Errorf("shapes %s and %s are not compatible", s, other)
	}
	merged := s.Clone()
	for i, dim := range other {
		if merged[i] == Unknown {
			merged[i] = dim
		}
	}
	return merged, nil
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// ComputeStrides calculates row-major strides for the shape.
// Strides define memory layout: stride[i] = product of all dimensions after i.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}

	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// String formats the shape as "[2 ? 5]", using "?" for unknown dimensions.
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, dim := range s {
		if dim == Unknown {
			parts[i] = "?"
		} else {
			parts[i] = fmt.Sprint(dim)
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// UnknownShape returns a shape of the given rank with every dimension unknown.
func UnknownShape(rank int) Shape {
	s := make(Shape, rank)
	for i := range s {
		s[i] = Unknown
	}
	return s
}

// BroadcastShapes implements NumPy-style broadcasting rules.
//
// Rules:
// 1. Compare shapes element-wise from right to left
// 2. Dimensions are compatible if:
//   - They are equal, OR
//   - One of them is 1
//
// 3. Missing dimensions are treated as 1
//
// An unknown dimension broadcast against 1 stays unknown; against a known
// size n > 1 it resolves to n (the only size the runtime could accept).
//
// Returns the broadcasted shape and an error if the shapes are incompatible.
//
// Examples:
//
//	(3, 1) + (3, 5) → (3, 5), nil
//	(?, 5) + (5)    → (?, 5), nil
//	(3, 4) + (3, 5) → nil, Error
func BroadcastShapes(a, b Shape) (Shape, error) {
	maxLen := max(len(a), len(b))
	result := make(Shape, maxLen)

	for i := 0; i < maxLen; i++ {
		aIdx := len(a) - 1 - i
		bIdx := len(b) - 1 - i

		aDim := 1
		if aIdx >= 0 {
			aDim = a[aIdx]
		}

		bDim := 1
		if bIdx >= 0 {
			bDim = b[bIdx]
		}

		switch {
		case aDim == bDim:
			result[maxLen-1-i] = aDim
		case aDim == 1:
			result[maxLen-1-i] = bDim
		case bDim == 1:
			result[maxLen-1-i] = aDim
		case aDim == Unknown:
			result[maxLen-1-i] = bDim
		case bDim == Unknown:
			result[maxLen-1-i] = aDim
		default:
			return nil, fmt.Errorf("shapes not compatible for broadcasting: %s vs %s (dimension %d: %d vs %d)",
				a, b, maxLen-1-i, aDim, bDim)
		}
	}

	return result, nil
}
