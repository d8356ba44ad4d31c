// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build !((linux || darwin || freebsd) && cgo)

package backends

import "github.com/pkg/errors"

// PluginLoader is the default ModuleLoader. Go plugins are not supported in this platform/build
// (they require cgo on linux, darwin or freebsd), so it always fails.
func PluginLoader(path string) (DynamicModule, error) {
	return nil, errors.Errorf("cannot open backend module %q: Go plugins not supported in this build", path)
}
