// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "github.com/pkg/errors"

var (
	// ErrBackendNotFound is returned when there is no static constructor for a backend, and its module
	// file doesn't exist or fails to open.
	ErrBackendNotFound = errors.New("backend not found")

	// ErrBackendEntryPointMissing is returned when a backend module doesn't export one of the required
	// symbols, or exports it with the wrong type.
	ErrBackendEntryPointMissing = errors.New("backend module entry point missing")

	// ErrBackendVersionMismatch is returned when a backend module was built for a different version.
	ErrBackendVersionMismatch = errors.New("backend module version mismatch")
)
