package vars

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/born-ml/blocks/internal/tensor"
)

// Initializer produces the first value of a parameter.
//
// rng is owned by the registry and is only used while the registry lock is
// held, so initializers need no synchronization of their own.
type Initializer func(shape tensor.Shape, dtype tensor.DataType, rng *rand.Rand) (*tensor.RawTensor, error)

// Xavier (Glorot) uniform initialization.
//
// Values are drawn from U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out))).
//
// Fan sizes follow the layout of the parameters created by this library:
//   - rank 2 [in, out]: fan_in = in, fan_out = out
//   - rank 4 [kw, kh, a, b]: fan_in = kw*kh*a, fan_out = kw*kh*b
//   - otherwise fan_in = fan_out = number of elements
func Xavier() Initializer {
	return func(shape tensor.Shape, dtype tensor.DataType, rng *rand.Rand) (*tensor.RawTensor, error) {
		fanIn, fanOut := fans(shape)
		bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
		return fill(shape, dtype, func() float64 {
			return (rng.Float64()*2.0 - 1.0) * bound
		})
	}
}

// TruncatedNormal draws from N(0, stddev²), re-drawing samples that fall
// more than two standard deviations from the mean.
func TruncatedNormal(stddev float64) Initializer {
	return func(shape tensor.Shape, dtype tensor.DataType, rng *rand.Rand) (*tensor.RawTensor, error) {
		return fill(shape, dtype, func() float64 {
			for {
				v := rng.NormFloat64()
				if math.Abs(v) <= 2 {
					return v * stddev
				}
			}
		})
	}
}

// Zeros initializes every element to 0. Default for biases.
func Zeros() Initializer {
	return Constant(0)
}

// Constant initializes every element to v.
func Constant(v float64) Initializer {
	return func(shape tensor.Shape, dtype tensor.DataType, _ *rand.Rand) (*tensor.RawTensor, error) {
		return fill(shape, dtype, func() float64 { return v })
	}
}

func fill(shape tensor.Shape, dtype tensor.DataType, next func() float64) (*tensor.RawTensor, error) {
	t, err := tensor.NewRaw(shape, dtype)
	if err != nil {
		return nil, err
	}
	switch dtype {
	case tensor.Float32:
		data := t.AsFloat32()
		for i := range data {
			data[i] = float32(next())
		}
	case tensor.Int32:
		data := t.AsInt32()
		for i := range data {
			data[i] = int32(math.Round(next()))
		}
	default:
		return nil, errors.Errorf("cannot initialize dtype %s", dtype)
	}
	return t, nil
}

func fans(shape tensor.Shape) (fanIn, fanOut int) {
	switch shape.Rank() {
	case 2:
		return shape[0], shape[1]
	case 4:
		receptive := shape[0] * shape[1]
		return receptive * shape[2], receptive * shape[3]
	default:
		n := shape.NumElements()
		return n, n
	}
}
