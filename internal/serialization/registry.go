package serialization

import (
	"bufio"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/born-ml/blocks/internal/tensor"
	"github.com/born-ml/blocks/internal/vars"
)

// WriteRegistry writes every parameter of reg to w, keyed by full name.
func WriteRegistry(w io.Writer, reg *vars.Registry, metadata map[string]string) error {
	params := reg.Parameters()
	tensors := make(map[string]*tensor.RawTensor, len(params))
	for _, p := range params {
		tensors[p.FullName()] = p.Value()
	}
	return WriteSafeTensors(w, tensors, metadata)
}

// ReadRegistry assigns the tensors in r to the parameters of reg. Every
// parameter must be present with its exact shape and dtype, and the file
// may not hold tensors reg does not know. Nothing is assigned unless every
// check passes.
func ReadRegistry(r io.Reader, reg *vars.Registry) (map[string]string, error) {
	tensors, metadata, err := ReadSafeTensors(r)
	if err != nil {
		return nil, err
	}

	params := reg.Parameters()
	known := make(map[string]bool, len(params))
	for _, p := range params {
		known[p.FullName()] = true
		v, ok := tensors[p.FullName()]
		switch {
		case !ok:
			err = multierr.Append(err, errors.Wrapf(ErrMissingTensor, "%s", p.FullName()))
		case v.DType() != p.DType():
			err = multierr.Append(err, errors.Wrapf(vars.ErrDTypeMismatch, "%s: file %s, parameter %s", p.FullName(), v.DType(), p.DType()))
		case !v.Shape().Equal(p.Shape()):
			err = multierr.Append(err, errors.Wrapf(vars.ErrShapeMismatch, "%s: file %s, parameter %s", p.FullName(), v.Shape(), p.Shape()))
		}
	}
	var extra []string
	for name := range tensors {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		err = multierr.Append(err, errors.Wrapf(ErrUnexpectedTensor, "%s", name))
	}
	if err != nil {
		return nil, err
	}

	for _, p := range params {
		if err := p.Assign(tensors[p.FullName()]); err != nil {
			return nil, err
		}
	}
	return metadata, nil
}

// SaveRegistry writes the parameters of reg to the file at path.
func SaveRegistry(path string, reg *vars.Registry, metadata map[string]string) (err error) {
	//nolint:gosec // G304: file path comes from the user, as expected for saving parameters
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create parameter file")
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	w := bufio.NewWriter(f)
	if err := WriteRegistry(w, reg, metadata); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return errors.Wrapf(w.Flush(), "save %s", path)
}

// LoadRegistry assigns the parameters saved at path to reg.
// See ReadRegistry.
func LoadRegistry(path string, reg *vars.Registry) (map[string]string, error) {
	//nolint:gosec // G304: file path comes from the user, as expected for loading parameters
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open parameter file")
	}
	defer func() {
		_ = f.Close()
	}()

	metadata, err := ReadRegistry(bufio.NewReader(f), reg)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return metadata, nil
}
