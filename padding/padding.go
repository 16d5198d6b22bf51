// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package padding resolves output shapes and explicit padding amounts for
// the convolution family.
package padding

import (
	"github.com/born-ml/blocks/internal/padding"
)

// Mode is the border policy of a convolution.
type Mode = padding.Mode

// Padding modes.
const (
	Same     Mode = padding.Same
	Valid    Mode = padding.Valid
	Constant Mode = padding.Constant
)

// Errors reported for invalid padding configuration.
var (
	ErrConstantStride = padding.ErrConstantStride
	ErrUnknownMode    = padding.ErrUnknownMode
)

// ParseMode parses a pad mode name. The empty string yields Same.
func ParseMode(s string) (Mode, error) { return padding.ParseMode(s) }

// OutputDim returns the convolution output size of one spatial axis.
func OutputDim(in, k, stride int, m Mode) int { return padding.OutputDim(in, k, stride, m) }

// TransposeOutputDim returns the transposed-convolution output size of one
// spatial axis.
func TransposeOutputDim(in, k, stride int, m Mode) int {
	return padding.TransposeOutputDim(in, k, stride, m)
}

// Explicit returns the padding added before and after one spatial axis.
func Explicit(in, k, stride int, m Mode) (before, after int) {
	return padding.Explicit(in, k, stride, m)
}
