// Package tensor provides the concrete tensor values and shapes shared by the
// graph engine, the CPU kernels and the variable registry.
package tensor

import "golang.org/x/exp/constraints"

// DType is a constraint for the element types a RawTensor can hold.
type DType interface {
	~float32 | ~int32
}

// Number is the constraint used by generic numeric kernels.
type Number interface {
	constraints.Integer | constraints.Float
}

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types for tensors.
//
// Float32 carries activations and parameters; Int32 carries shape vectors.
const (
	Float32 DataType = iota
	Int32
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Int32:
		return "int32"
	default:
		return "unknown"
	}
}

// ParseDataType is the inverse of DataType.String.
func ParseDataType(s string) (DataType, bool) {
	switch s {
	case "float32", "":
		return Float32, true
	case "int32":
		return Int32, true
	default:
		return 0, false
	}
}
