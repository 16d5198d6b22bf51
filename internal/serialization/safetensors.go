package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/bits"
	"sort"

	"github.com/pkg/errors"

	"github.com/born-ml/blocks/internal/tensor"
)

const (
	metadataKey = "__metadata__"
	checksumKey = "checksum"
)

// SafeTensorHeader represents a tensor in the SafeTensors header.
type SafeTensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// WriteSafeTensors writes tensors and metadata to w. Tensors are written in
// alphabetical order by name. A checksum of the data section is added to
// the metadata.
func WriteSafeTensors(w io.Writer, tensors map[string]*tensor.RawTensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var data bytes.Buffer
	header := make(map[string]any, len(names)+1)
	for _, name := range names {
		raw := tensors[name]
		dtype, err := dtypeToSafeTensors(raw.DType())
		if err != nil {
			return errors.Wrapf(err, "tensor %s", name)
		}
		start := int64(data.Len())
		if err := encode(&data, raw); err != nil {
			return errors.Wrapf(err, "tensor %s", name)
		}

		shape := make([]int64, raw.Shape().Rank())
		for i, dim := range raw.Shape() {
			shape[i] = int64(dim)
		}
		header[name] = SafeTensorHeader{
			DType:       dtype,
			Shape:       shape,
			DataOffsets: [2]int64{start, int64(data.Len())},
		}
	}

	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	meta[checksumKey] = ComputeChecksum(data.Bytes())
	header[metadataKey] = meta

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "marshal header")
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return errors.Wrap(err, "write header size")
	}
	if _, err := w.Write(headerJSON); err != nil {
		return errors.Wrap(err, "write header")
	}
	if _, err := w.Write(data.Bytes()); err != nil {
		return errors.Wrap(err, "write tensor data")
	}
	return nil
}

// ReadSafeTensors reads every tensor and the metadata from r, validating
// offsets, names and the data checksum when one is present.
func ReadSafeTensors(r io.Reader) (map[string]*tensor.RawTensor, map[string]string, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, nil, errors.Wrap(err, "read header size")
	}
	if headerSize > MaxHeaderSize {
		return nil, nil, errors.Wrapf(ErrHeaderTooLarge, "%d bytes", headerSize)
	}
	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, nil, errors.Wrap(err, "read header")
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(headerJSON, &entries); err != nil {
		return nil, nil, errors.Wrap(err, "parse header")
	}

	var metadata map[string]string
	headers := make(map[string]SafeTensorHeader, len(entries))
	metas := make([]TensorMeta, 0, len(entries))
	for name, msg := range entries {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &metadata); err != nil {
				return nil, nil, errors.Wrap(err, "parse metadata")
			}
			continue
		}
		if err := ValidateTensorName(name); err != nil {
			return nil, nil, err
		}
		var h SafeTensorHeader
		if err := json.Unmarshal(msg, &h); err != nil {
			return nil, nil, errors.Wrapf(err, "parse header of %s", name)
		}
		if err := validateTensorSize(name, h); err != nil {
			return nil, nil, err
		}
		headers[name] = h
		metas = append(metas, TensorMeta{Name: name, Offset: h.DataOffsets[0], Size: h.DataOffsets[1] - h.DataOffsets[0]})
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read tensor data")
	}
	if err := ValidateTensorOffsets(metas, int64(len(data))); err != nil {
		return nil, nil, err
	}
	if sum, ok := metadata[checksumKey]; ok {
		if err := ValidateChecksum(data, sum); err != nil {
			return nil, nil, err
		}
	}

	tensors := make(map[string]*tensor.RawTensor, len(headers))
	for name, h := range headers {
		raw, err := decode(h, data[h.DataOffsets[0]:h.DataOffsets[1]])
		if err != nil {
			return nil, nil, errors.Wrapf(err, "tensor %s", name)
		}
		tensors[name] = raw
	}
	return tensors, metadata, nil
}

// validateTensorSize checks that the shape in h describes exactly the bytes
// its data offsets span, before anything is allocated for it.
func validateTensorSize(name string, h SafeTensorHeader) error {
	dtype, err := dtypeFromSafeTensors(h.DType)
	if err != nil {
		return errors.Wrapf(err, "tensor %s", name)
	}
	size := uint64(dtype.Size())
	for _, dim := range h.Shape {
		if dim < 0 {
			return &ValidationError{
				Type:    "invalid_shape",
				Tensor:  name,
				Details: fmt.Sprintf("negative dimension in %v", h.Shape),
			}
		}
		hi, lo := bits.Mul64(size, uint64(dim))
		if hi != 0 || lo > math.MaxInt64 {
			return &ValidationError{
				Type:    "size_overflow",
				Tensor:  name,
				Details: fmt.Sprintf("shape %v overflows", h.Shape),
			}
		}
		size = lo
	}
	if span := h.DataOffsets[1] - h.DataOffsets[0]; span < 0 || uint64(span) != size {
		return &ValidationError{
			Type:    "size_mismatch",
			Tensor:  name,
			Details: fmt.Sprintf("shape %v needs %d bytes, data offsets span %d", h.Shape, size, span),
		}
	}
	return nil
}

func encode(buf *bytes.Buffer, raw *tensor.RawTensor) error {
	var word [4]byte
	switch raw.DType() {
	case tensor.Float32:
		for _, v := range raw.AsFloat32() {
			binary.LittleEndian.PutUint32(word[:], math.Float32bits(v))
			buf.Write(word[:])
		}
	case tensor.Int32:
		for _, v := range raw.AsInt32() {
			binary.LittleEndian.PutUint32(word[:], uint32(v)) //nolint:gosec // bit reinterpretation
			buf.Write(word[:])
		}
	default:
		return errors.Wrapf(ErrUnsupportedDType, "%s", raw.DType())
	}
	return nil
}

func decode(h SafeTensorHeader, data []byte) (*tensor.RawTensor, error) {
	dtype, err := dtypeFromSafeTensors(h.DType)
	if err != nil {
		return nil, err
	}
	shape := make(tensor.Shape, len(h.Shape))
	for i, dim := range h.Shape {
		shape[i] = int(dim)
	}
	raw, err := tensor.NewRaw(shape, dtype)
	if err != nil {
		return nil, err
	}
	if want := raw.NumElements() * dtype.Size(); len(data) != want {
		return nil, &ValidationError{
			Type:    "size_mismatch",
			Details: fmt.Sprintf("%d bytes for shape %s, want %d", len(data), shape, want),
		}
	}

	switch dtype {
	case tensor.Float32:
		out := raw.AsFloat32()
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
		}
	case tensor.Int32:
		out := raw.AsInt32()
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(data[4*i:])) //nolint:gosec // bit reinterpretation
		}
	}
	return raw, nil
}

// dtypeToSafeTensors converts tensor.DataType to SafeTensors dtype string.
func dtypeToSafeTensors(dt tensor.DataType) (string, error) {
	switch dt {
	case tensor.Float32:
		return "F32", nil
	case tensor.Int32:
		return "I32", nil
	default:
		return "", errors.Wrapf(ErrUnsupportedDType, "%s", dt)
	}
}

func dtypeFromSafeTensors(s string) (tensor.DataType, error) {
	switch s {
	case "F32":
		return tensor.Float32, nil
	case "I32":
		return tensor.Int32, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedDType, "%q", s)
	}
}
