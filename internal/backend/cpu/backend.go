// Package cpu implements the numeric kernels of the tensor engine on the CPU.
//
// Every kernel takes fully defined RawTensors and returns a freshly
// allocated result. Shape or dtype problems are reported as errors; they
// surface from Session.Run when a graph's runtime shapes turn out to be
// inconsistent with what its static shapes promised.
//
// Image tensors use the [batch, width, height, channels] layout throughout.
package cpu

import (
	"github.com/born-ml/blocks/internal/parallel"
)

// CPUBackend implements tensor operations on CPU, using gonum BLAS for the
// matrix products and fanning batch-level work out over a worker pool.
type CPUBackend struct {
	cfg parallel.Config
}

// Option configures a CPUBackend.
type Option func(*CPUBackend)

// WithWorkers bounds the number of goroutines a single kernel may use.
func WithWorkers(n int) Option {
	return func(cpu *CPUBackend) {
		cpu.cfg = parallel.WithWorkers(n)
	}
}

// New creates a new CPU backend.
func New(opts ...Option) *CPUBackend {
	cpu := &CPUBackend{cfg: parallel.DefaultConfig()}
	for _, opt := range opts {
		opt(cpu)
	}
	return cpu
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Workers returns the configured worker count.
func (cpu *CPUBackend) Workers() int {
	return cpu.cfg.NumWorkers
}
