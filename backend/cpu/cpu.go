// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu exposes the CPU backend that executes graph sessions.
package cpu

import (
	internalcpu "github.com/born-ml/blocks/internal/backend/cpu"
)

// Backend represents the CPU backend implementation.
//
// The CPU backend provides pure Go kernels, using gonum BLAS for matrix
// products and a bounded worker pool for batch-level parallelism.
type Backend = internalcpu.CPUBackend

// Option configures a Backend.
type Option = internalcpu.Option

// WithWorkers bounds the number of goroutines a single kernel may use.
func WithWorkers(n int) Option {
	return internalcpu.WithWorkers(n)
}

// New creates a new CPU backend.
//
// Example:
//
//	sess := graph.NewSession(g, graph.WithBackend(cpu.New(cpu.WithWorkers(4))))
func New(opts ...Option) *Backend {
	return internalcpu.New(opts...)
}
