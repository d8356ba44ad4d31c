// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/graphcore/backends/shapeinference"
	"github.com/pkg/errors"
)

// Errors raised (as panics) while building graphs. They can be recovered with TryBuild
// and tested with errors.Is.
var (
	// ErrArity is raised when an operation is given the wrong number of inputs.
	ErrArity = errors.New("wrong number of inputs")

	// ErrTypeMismatch is raised when the element types of the inputs are incompatible.
	ErrTypeMismatch = shapeinference.ErrTypeMismatch

	// ErrShapeInference is raised when the dimensions of the inputs, or the parameters of the
	// operation, are incompatible.
	ErrShapeInference = shapeinference.ErrShapeInference

	// ErrNoGradient is raised when a gradient reaches a node whose operation is not differentiable.
	ErrNoGradient = errors.New("no gradient defined")
)

// panicf panics with an error wrapping sentinel.
func panicf(sentinel error, format string, args ...any) {
	panic(errors.Wrapf(sentinel, format, args...))
}

// TryBuild runs the graph building function fn, and returns any error raised (as a panic) while
// building it. Panics that are not errors are re-raised.
func TryBuild(fn func()) error {
	return exceptions.TryCatch[error](fn)
}
