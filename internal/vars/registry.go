// Package vars implements the variable registry: named, scope-qualified
// parameters created lazily on first reference and shared on every later
// reference to the same (scope, name) pair.
//
// Scopes are explicit handles rather than ambient state:
//
//	reg := vars.NewRegistry(vars.WithSeed(1))
//	enc := reg.Root().In("encoder")
//	k, err := enc.Variable("kernel_0", tensor.Shape{3, 3, 1, 16}, tensor.Float32, vars.Xavier())
package vars

import (
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/born-ml/blocks/internal/tensor"
)

// ScopeSeparator separates the elements of a scope path.
const ScopeSeparator = "/"

// Errors reported by the registry.
var (
	ErrShapeMismatch = errors.New("parameter shape mismatch")
	ErrDTypeMismatch = errors.New("parameter dtype mismatch")
	ErrUnknownDim    = errors.New("parameter shape must be fully defined")
	ErrInvalidName   = errors.New("invalid parameter name")
)

// Registry owns every parameter of one model. Its lifetime is the lifetime
// of the graph that references it.
//
// A Registry is safe for concurrent use: GetOrCreate is serialized, so two
// goroutines asking for the same (scope, name) receive the same Parameter.
type Registry struct {
	mu     sync.Mutex
	params *orderedmap.OrderedMap[string, *Parameter]
	rng    *rand.Rand
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithSeed makes initialization deterministic. Zero means time-seeded.
func WithSeed(seed int64) Option {
	return func(r *Registry) {
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		r.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // weight initialization is not security-critical
	}
}

// WithLogger sets the logger used for parameter creation records.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		params: orderedmap.New[string, *Parameter](),
		logger: slog.Default(),
	}
	WithSeed(0)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the parameter (scope, name), creating it with init
// if it does not exist yet. A nil init means Xavier.
//
// On reuse, shape and dtype must match the existing parameter exactly.
func (r *Registry) GetOrCreate(scope, name string, shape tensor.Shape, dtype tensor.DataType, init Initializer) (*Parameter, error) {
	if name == "" || strings.Contains(name, ScopeSeparator) {
		return nil, errors.Wrapf(ErrInvalidName, "%q", name)
	}
	full := JoinScope(scope, name)
	if !shape.IsFullyDefined() {
		return nil, errors.Wrapf(ErrUnknownDim, "%s: %s", full, shape)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.params.Get(full); ok {
		if p.dtype != dtype {
			return nil, errors.Wrapf(ErrDTypeMismatch, "%s: existing %s, requested %s", full, p.dtype, dtype)
		}
		if !p.shape.Equal(shape) {
			return nil, errors.Wrapf(ErrShapeMismatch, "%s: existing %s, requested %s", full, p.shape, shape)
		}
		r.logger.Debug("reusing parameter", "name", full, "shape", shape.String())
		return p, nil
	}

	if init == nil {
		init = Xavier()
	}
	value, err := init(shape, dtype, r.rng)
	if err != nil {
		return nil, errors.Wrapf(err, "initialize %s", full)
	}
	p := &Parameter{
		scope: scope,
		name:  name,
		shape: shape.Clone(),
		dtype: dtype,
		value: value,
	}
	r.params.Set(full, p)
	r.logger.Debug("created parameter", "name", full, "shape", shape.String(), "dtype", dtype.String())
	return p, nil
}

// Lookup returns the parameter (scope, name) if it exists.
func (r *Registry) Lookup(scope, name string) (*Parameter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params.Get(JoinScope(scope, name))
}

// Parameters returns all parameters in creation order.
func (r *Registry) Parameters() []*Parameter {
	r.mu.Lock()
	defer r.mu.Unlock()

	params := make([]*Parameter, 0, r.params.Len())
	for pair := r.params.Oldest(); pair != nil; pair = pair.Next() {
		params = append(params, pair.Value)
	}
	return params
}

// Len returns the number of parameters.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params.Len()
}

// NumElements returns the total number of scalar values across parameters.
func (r *Registry) NumElements() int {
	n := 0
	for _, p := range r.Parameters() {
		n += p.shape.NumElements()
	}
	return n
}

// JoinScope joins a scope path and a name. If scope is empty, name is returned.
func JoinScope(scope, name string) string {
	if scope == "" {
		return name
	}
	return scope + ScopeSeparator + name
}
