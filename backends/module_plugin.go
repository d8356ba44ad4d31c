// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

//go:build (linux || darwin || freebsd) && cgo

package backends

import (
	"plugin"

	"github.com/pkg/errors"
)

// PluginLoader is the default ModuleLoader: it opens Go plugins (built with `go build -buildmode=plugin`).
func PluginLoader(path string) (DynamicModule, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open backend module %q", path)
	}
	return &pluginModule{path: path, plugin: p}, nil
}

type pluginModule struct {
	path   string
	plugin *plugin.Plugin
}

func (m *pluginModule) Path() string { return m.path }

func (m *pluginModule) Resolve(symbol string) (any, bool) {
	s, err := m.plugin.Lookup(symbol)
	if err != nil {
		return nil, false
	}
	return s, true
}

// Close is a no-op: Go plugins cannot be unloaded, they stay mapped until the process exits.
func (m *pluginModule) Close() error { return nil }
