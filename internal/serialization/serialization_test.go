package serialization

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/blocks/internal/tensor"
	"github.com/born-ml/blocks/internal/vars"
)

func newRegistry(t *testing.T, seed int64) *vars.Registry {
	t.Helper()
	reg := vars.NewRegistry(vars.WithSeed(seed))
	enc := reg.Root().In("encoder")
	_, err := enc.Variable("kernel_0", tensor.Shape{3, 3, 1, 4}, tensor.Float32, nil)
	require.NoError(t, err)
	_, err = reg.Root().In("head").Variable("b_0", tensor.Shape{4}, tensor.Float32, vars.Constant(0.5))
	require.NoError(t, err)
	return reg
}

func TestSafeTensors_RoundTrip(t *testing.T) {
	f, err := tensor.FromFloat32([]float32{1.5, -2, 3.25, 0}, tensor.Shape{2, 2})
	require.NoError(t, err)
	i := tensor.FromDims(7, -1, 3)

	var buf bytes.Buffer
	require.NoError(t, WriteSafeTensors(&buf, map[string]*tensor.RawTensor{"a/f": f, "i": i}, map[string]string{"format": "pt"}))

	got, meta, err := ReadSafeTensors(&buf)
	require.NoError(t, err)
	assert.Equal(t, "pt", meta["format"])
	assert.Len(t, meta[checksumKey], 64)
	require.Len(t, got, 2)
	assert.Equal(t, tensor.Shape{2, 2}, got["a/f"].Shape())
	assert.Equal(t, f.AsFloat32(), got["a/f"].AsFloat32())
	assert.Equal(t, []int32{7, -1, 3}, got["i"].AsInt32())
}

func TestSafeTensors_Layout(t *testing.T) {
	one, err := tensor.Full(tensor.Shape{1}, 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteSafeTensors(&buf, map[string]*tensor.RawTensor{"x": one}, nil))
	b := buf.Bytes()

	n := binary.LittleEndian.Uint64(b)
	header := string(b[8 : 8+n])
	assert.Contains(t, header, `"x":{"dtype":"F32","shape":[1],"data_offsets":[0,4]}`)
	assert.Equal(t, []byte{0, 0, 0x80, 0x3f}, b[8+n:], "1.0f little endian")
}

func TestSafeTensors_Corruption(t *testing.T) {
	one, err := tensor.Full(tensor.Shape{2}, 1)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteSafeTensors(&buf, map[string]*tensor.RawTensor{"x": one}, nil))

	flipped := append([]byte(nil), buf.Bytes()...)
	flipped[len(flipped)-1] ^= 0xff
	_, _, err = ReadSafeTensors(bytes.NewReader(flipped))
	assert.True(t, errors.Is(err, ErrChecksumMismatch), "got %v", err)

	truncated := buf.Bytes()[:buf.Len()-4]
	_, _, err = ReadSafeTensors(bytes.NewReader(truncated))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "out_of_bounds", verr.Type)

	for _, tc := range []struct {
		header string
		data   int
		want   string
	}{
		{`{"x":{"dtype":"F32","shape":[1099511627776],"data_offsets":[0,4]}}`, 4, "size_mismatch"},
		{`{"x":{"dtype":"F32","shape":[4294967296,4294967296],"data_offsets":[0,0]}}`, 0, "size_overflow"},
		{`{"x":{"dtype":"F32","shape":[-1],"data_offsets":[0,4]}}`, 4, "invalid_shape"},
		{`{"x":{"dtype":"F32","shape":[3],"data_offsets":[0,8]}}`, 8, "size_mismatch"},
	} {
		_, _, err = ReadSafeTensors(bytes.NewReader(rawFile(t, tc.header, tc.data)))
		verr = nil
		require.True(t, errors.As(err, &verr), "%s: got %v", tc.header, err)
		assert.Equal(t, tc.want, verr.Type, tc.header)
	}

	var huge bytes.Buffer
	require.NoError(t, binary.Write(&huge, binary.LittleEndian, uint64(MaxHeaderSize+1)))
	_, _, err = ReadSafeTensors(&huge)
	assert.True(t, errors.Is(err, ErrHeaderTooLarge))
}

// rawFile assembles a SafeTensors file from a literal header and n zero bytes.
func rawFile(t *testing.T, header string, n int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(len(header))))
	buf.WriteString(header)
	buf.Write(make([]byte, n))
	return buf.Bytes()
}

func TestValidateTensorOffsets(t *testing.T) {
	err := ValidateTensorOffsets([]TensorMeta{
		{Name: "a", Offset: 0, Size: 8},
		{Name: "b", Offset: 4, Size: 8},
	}, 16)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "offset_overlap", verr.Type)

	err = ValidateTensorOffsets([]TensorMeta{{Name: "a", Offset: -4, Size: 4}}, 16)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "negative_offset", verr.Type)

	assert.NoError(t, ValidateTensorOffsets([]TensorMeta{{Name: "a", Size: 8}, {Name: "b", Offset: 8, Size: 8}}, 16))
}

func TestValidateTensorName(t *testing.T) {
	assert.NoError(t, ValidateTensorName("encoder/kernel_0"))
	for _, bad := range []string{"", "/abs", "a//b", "a/../b", "a\\b", "a\x00b"} {
		assert.Error(t, ValidateTensorName(bad), "%q", bad)
	}
}

func TestRegistry_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.safetensors")
	src := newRegistry(t, 1)
	require.NoError(t, SaveRegistry(path, src, map[string]string{"arch": "test"}))

	dst := newRegistry(t, 2)
	srcK, _ := src.Lookup("encoder", "kernel_0")
	dstK, _ := dst.Lookup("encoder", "kernel_0")
	require.NotEqual(t, srcK.Value().AsFloat32(), dstK.Value().AsFloat32())

	meta, err := LoadRegistry(path, dst)
	require.NoError(t, err)
	assert.Equal(t, "test", meta["arch"])
	assert.Equal(t, srcK.Value().AsFloat32(), dstK.Value().AsFloat32())
}

func TestRegistry_LoadMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRegistry(&buf, newRegistry(t, 1), nil))
	saved := buf.Bytes()

	other := vars.NewRegistry(vars.WithSeed(1))
	_, err := other.Root().In("encoder").Variable("kernel_0", tensor.Shape{3, 3, 1, 8}, tensor.Float32, nil)
	require.NoError(t, err)
	_, err = other.Root().In("decoder").Variable("kernel_0", tensor.Shape{3, 3, 1, 1}, tensor.Float32, nil)
	require.NoError(t, err)
	before := append([]float32(nil), mustLookup(t, other, "decoder", "kernel_0").Value().AsFloat32()...)

	_, err = ReadRegistry(bytes.NewReader(saved), other)
	require.Error(t, err)
	assert.True(t, errors.Is(err, vars.ErrShapeMismatch), "got %v", err)
	assert.True(t, errors.Is(err, ErrMissingTensor), "got %v", err)
	assert.True(t, errors.Is(err, ErrUnexpectedTensor), "got %v", err)
	assert.Contains(t, err.Error(), "head/b_0")
	assert.Equal(t, before, mustLookup(t, other, "decoder", "kernel_0").Value().AsFloat32(), "nothing assigned")
}

func mustLookup(t *testing.T, reg *vars.Registry, scope, name string) *vars.Parameter {
	t.Helper()
	p, ok := reg.Lookup(scope, name)
	require.True(t, ok)
	return p
}
