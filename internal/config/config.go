// Package config loads architecture descriptions: an input shape followed by
// a sequence of layer stacks, written in YAML.
//
//	name: keypoints
//	input: [null, 32, 32, 3]
//	stacks:
//	  - name: enc
//	    op: conv
//	    activation: relu
//	    layers:
//	      - {kernel: [5, 5, 16], stride: [1, 2, 2, 1]}
//	      - {kernel: [3, 3, 8], pad: CONSTANT}
//	  - name: points
//	    op: spatial_softmax
//	  - name: head
//	    op: affine
//	    layers: [{units: 32}, {units: 2}]
//	    activation: tanh
package config

import (
	"bytes"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/blocks/internal/layers"
	"github.com/born-ml/blocks/internal/padding"
	"github.com/born-ml/blocks/internal/tensor"
	"github.com/born-ml/blocks/internal/vars"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid architecture")

// Op names a layer operator.
type Op string

// Supported operators.
const (
	OpAffine         Op = "affine"
	OpConv           Op = "conv"
	OpDeconv         Op = "deconv"
	OpGatedConv      Op = "gated_conv"
	OpSpatialSoftmax Op = "spatial_softmax"
	OpNormalize      Op = "normalize"
)

// Layered reports whether the operator is built from a list of layers.
func (op Op) Layered() bool {
	switch op {
	case OpAffine, OpConv, OpDeconv, OpGatedConv:
		return true
	default:
		return false
	}
}

func (op Op) known() bool {
	return op.Layered() || op == OpSpatialSoftmax || op == OpNormalize
}

// Architecture is a model description.
type Architecture struct {
	Name   string  `yaml:"name"`
	Input  Dims    `yaml:"input"`
	Stacks []Stack `yaml:"stacks"`
}

// Stack describes one stack of layers, or a parameter-free operator.
type Stack struct {
	Name string `yaml:"name"`
	Op   Op     `yaml:"op"`

	// Activation is shared by every layer; Activations gives one per layer.
	Activation  string   `yaml:"activation,omitempty"`
	Activations []string `yaml:"activations,omitempty"`
	// RawOutput skips the last layer's activation. Default true.
	RawOutput *bool `yaml:"raw_output,omitempty"`

	Layers []Layer `yaml:"layers,omitempty"`

	// Axes for normalize; none means all but the batch axis.
	Axes []int `yaml:"axes,omitempty"`
}

// Raw returns the effective raw output setting.
func (s Stack) Raw() bool {
	return s.RawOutput == nil || *s.RawOutput
}

// Layer is one layer of a stack: a LayerSpec for convolutions, Units for
// affine layers.
type Layer struct {
	layers.LayerSpec `yaml:",inline"`
	Units            int `yaml:"units,omitempty"`
}

// Dims is a shape in which null, "?" and -1 mark unknown dimensions.
type Dims tensor.Shape

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Dims) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return errors.Errorf("line %d: shape must be a list", value.Line)
	}
	dims := make(Dims, len(value.Content))
	for i, n := range value.Content {
		switch {
		case n.Tag == "!!null", n.Value == "?":
			dims[i] = tensor.Unknown
		default:
			v, err := strconv.Atoi(n.Value)
			if err != nil {
				return errors.Errorf("line %d: invalid dimension %q", n.Line, n.Value)
			}
			dims[i] = v
		}
	}
	*d = dims
	return nil
}

// MarshalYAML implements yaml.Marshaler, writing unknown dimensions as null.
func (d Dims) MarshalYAML() (any, error) {
	out := make([]*int, len(d))
	for i := range d {
		if d[i] != tensor.Unknown {
			out[i] = &d[i]
		}
	}
	return out, nil
}

// Shape returns d as a tensor.Shape.
func (d Dims) Shape() tensor.Shape {
	return tensor.Shape(d).Clone()
}

// Load reads and validates the architecture in path.
func Load(path string) (*Architecture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read architecture")
	}
	arch, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return arch, nil
}

// Parse decodes and validates an architecture. Unknown fields are errors.
func Parse(data []byte) (*Architecture, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var arch Architecture
	if err := dec.Decode(&arch); err != nil {
		return nil, errors.Wrap(err, "decode architecture")
	}
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	return &arch, nil
}

// Marshal encodes the architecture as YAML.
func (a *Architecture) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(a); err != nil {
		return nil, errors.Wrap(err, "encode architecture")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "encode architecture")
	}
	return buf.Bytes(), nil
}

// Validate reports every problem with the description at once. Shape
// compatibility between stacks is checked when the model is built.
func (a *Architecture) Validate() error {
	var err error
	invalid := func(format string, args ...any) {
		err = multierr.Append(err, errors.Wrapf(ErrInvalid, format, args...))
	}

	if a.Name == "" {
		invalid("missing name")
	}
	if len(a.Input) == 0 {
		invalid("missing input shape")
	}
	for i, d := range a.Input {
		if d != tensor.Unknown && d < 1 {
			invalid("input dimension %d is %d", i, d)
		}
	}
	if len(a.Stacks) == 0 {
		invalid("no stacks")
	}

	seen := make(map[string]bool)
	for i, s := range a.Stacks {
		where := "stack " + strconv.Itoa(i)
		if s.Name != "" {
			where += " (" + s.Name + ")"
		}
		switch {
		case s.Name == "":
			invalid("%s: missing name", where)
		case strings.Contains(s.Name, vars.ScopeSeparator):
			invalid("%s: name contains %q", where, vars.ScopeSeparator)
		case seen[s.Name]:
			invalid("%s: duplicate name", where)
		}
		seen[s.Name] = true

		if !s.Op.known() {
			invalid("%s: unknown op %q", where, s.Op)
			continue
		}
		err = multierr.Append(err, s.validate(where))
	}
	return err
}

func (s Stack) validate(where string) error {
	var err error
	invalid := func(format string, args ...any) {
		err = multierr.Append(err, errors.Wrapf(ErrInvalid, "%s: "+format, append([]any{where}, args...)...))
	}

	if !s.Op.Layered() {
		if len(s.Layers) > 0 || s.Activation != "" || len(s.Activations) > 0 {
			invalid("%s takes no layers or activations", s.Op)
		}
		if len(s.Axes) > 0 && s.Op != OpNormalize {
			invalid("axes only apply to normalize")
		}
		return err
	}

	if len(s.Axes) > 0 {
		invalid("axes only apply to normalize")
	}
	if len(s.Layers) == 0 {
		invalid("no layers")
	}
	if s.Activation != "" && len(s.Activations) > 0 {
		invalid("both activation and activations given")
	}
	if len(s.Activations) > 0 && len(s.Activations) != len(s.Layers) {
		invalid("%d activations for %d layers", len(s.Activations), len(s.Layers))
	}
	for _, name := range append([]string{s.Activation}, s.Activations...) {
		if _, ok := layers.ActivationByName(name); !ok {
			invalid("unknown activation %q", name)
		}
	}

	for i, l := range s.Layers {
		if s.Op == OpAffine {
			if l.Units < 1 {
				invalid("layer %d: units must be positive", i)
			}
			if len(l.Kernel) > 0 || len(l.Stride) > 0 || l.Pad != "" || l.Bias {
				invalid("layer %d: affine layers only take units", i)
			}
			continue
		}
		if l.Units != 0 {
			invalid("layer %d: units only apply to affine layers", i)
		}
		if s.Op == OpDeconv && l.Pad == padding.Constant {
			invalid("layer %d: deconv does not support %s padding", i, padding.Constant)
		}
		if e := l.Validate(); e != nil {
			for _, e := range multierr.Errors(e) {
				err = multierr.Append(err, errors.Wrapf(e, "%s: layer %d", where, i))
			}
		}
	}
	return err
}

// ActivationsFor resolves the stack's activation names.
func (s Stack) ActivationsFor() layers.Activations {
	if len(s.Activations) > 0 {
		fs := make([]layers.Activation, len(s.Activations))
		for i, name := range s.Activations {
			fs[i], _ = layers.ActivationByName(name)
		}
		return layers.PerLayer(fs...)
	}
	f, _ := layers.ActivationByName(s.Activation)
	return layers.Shared(f)
}
