// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package vars provides the variable registry: scope-qualified parameters
// created on first reference and shared on every later one.
//
// Example:
//
//	reg := vars.NewRegistry(vars.WithSeed(1))
//	enc := reg.Root().In("encoder")
//	k, err := enc.Variable("kernel_0", tensor.Shape{3, 3, 1, 16}, tensor.Float32, vars.Xavier())
package vars

import (
	"log/slog"

	"github.com/born-ml/blocks/internal/vars"
)

// ScopeSeparator separates the elements of a scope path.
const ScopeSeparator = vars.ScopeSeparator

// Registry owns every parameter of one model.
type Registry = vars.Registry

// Scope is a handle on a namespace within a Registry.
type Scope = vars.Scope

// Parameter is a named, trainable tensor.
type Parameter = vars.Parameter

// Initializer produces the initial value of a parameter.
type Initializer = vars.Initializer

// Option configures a Registry.
type Option = vars.Option

// Errors reported by the registry.
var (
	ErrShapeMismatch = vars.ErrShapeMismatch
	ErrDTypeMismatch = vars.ErrDTypeMismatch
	ErrUnknownDim    = vars.ErrUnknownDim
	ErrInvalidName   = vars.ErrInvalidName
)

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry { return vars.NewRegistry(opts...) }

// WithSeed makes initialization deterministic. Zero means time-seeded.
func WithSeed(seed int64) Option { return vars.WithSeed(seed) }

// WithLogger sets the registry's logger.
func WithLogger(logger *slog.Logger) Option { return vars.WithLogger(logger) }

// Initializers.
var (
	Xavier          = vars.Xavier
	TruncatedNormal = vars.TruncatedNormal
	Zeros           = vars.Zeros
	Constant        = vars.Constant
)
