// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"runtime"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/graphcore/graph"
	"github.com/pkg/errors"
)

// Symbols a backend module must export.
const (
	// GetVersionStringSymbol is a `func() string`, returning the Version the module was built with.
	GetVersionStringSymbol = "GetVersionString"

	// NewBackendSymbol is a `func(descriptor string) (backends.Backend, error)`.
	NewBackendSymbol = "NewBackend"

	// DeleteBackendSymbol is a `func(backends.Backend)`, called exactly once for each backend created
	// by NewBackendSymbol.
	DeleteBackendSymbol = "DeleteBackend"
)

// DynamicModule is a loaded backend module.
type DynamicModule interface {
	// Path of the module file.
	Path() string

	// Resolve returns the exported symbol with the given name.
	Resolve(symbol string) (any, bool)

	// Close releases the module. Symbols resolved from it must not be used afterward.
	Close() error
}

// ModuleLoader opens the module at the given path.
type ModuleLoader func(path string) (DynamicModule, error)

// entryPoints of a backend module.
type entryPoints struct {
	getVersion    func() string
	newBackend    func(descriptor string) (Backend, error)
	deleteBackend func(Backend)
}

// resolveEntryPoints finds the symbols of a backend module and converts them to their Go types.
// A symbol with the wrong type counts as missing.
func resolveEntryPoints(module DynamicModule) (*entryPoints, error) {
	var entries entryPoints
	var ok bool
	if entries.getVersion, ok = resolveFunc[func() string](module, GetVersionStringSymbol); !ok {
		return nil, entryPointMissing(module, GetVersionStringSymbol)
	}
	if entries.newBackend, ok = resolveFunc[func(string) (Backend, error)](module, NewBackendSymbol); !ok {
		return nil, entryPointMissing(module, NewBackendSymbol)
	}
	if entries.deleteBackend, ok = resolveFunc[func(Backend)](module, DeleteBackendSymbol); !ok {
		return nil, entryPointMissing(module, DeleteBackendSymbol)
	}
	return &entries, nil
}

// resolveFunc accepts both exported functions and exported variables holding a function.
func resolveFunc[F any](module DynamicModule, name string) (fn F, ok bool) {
	symbol, found := module.Resolve(name)
	if !found || symbol == nil {
		return
	}
	switch s := symbol.(type) {
	case F:
		return s, true
	case *F:
		if s != nil {
			return *s, true
		}
	}
	return
}

func entryPointMissing(module DynamicModule, symbol string) error {
	return errors.Wrapf(ErrBackendEntryPointMissing, "module %q doesn't export %q with the expected type", module.Path(), symbol)
}

// checkVersion returns ErrBackendVersionMismatch if the module's version differs from want.
func checkVersion(module DynamicModule, entries *entryPoints, want string) error {
	got := entries.getVersion()
	if got != want {
		return errors.Wrapf(ErrBackendVersionMismatch, "module %q has version %q, wanted %q", module.Path(), got, want)
	}
	return nil
}

// openModule calls loader, returning a panic as an error.
func openModule(loader ModuleLoader, path string) (module DynamicModule, err error) {
	if exception := exceptions.Try(func() { module, err = loader(path) }); exception != nil {
		return nil, errors.Errorf("loader panicked opening module %q: %v", path, exception)
	}
	return
}

// validateModule resolves the entry points of module and checks its version.
//
// A panic in the module's code is returned as an error: it wraps ErrBackendEntryPointMissing if raised
// while resolving the symbols, or ErrBackendVersionMismatch if raised by the module's GetVersionString.
func validateModule(module DynamicModule, want string) (entries *entryPoints, err error) {
	stage := ErrBackendEntryPointMissing
	exception := exceptions.Try(func() {
		entries, err = resolveEntryPoints(module)
		if err != nil {
			return
		}
		stage = ErrBackendVersionMismatch
		err = checkVersion(module, entries, want)
	})
	if exception != nil {
		return nil, errors.Wrapf(stage, "module %q panicked: %v", module.Path(), exception)
	}
	return
}

// closeModule closes module, returning a panic as an error.
func closeModule(module DynamicModule) (err error) {
	if exception := exceptions.Try(func() { err = module.Close() }); exception != nil {
		return errors.Errorf("closing module %q panicked: %v", module.Path(), exception)
	}
	return
}

// releaser calls fn at most once.
type releaser struct {
	once sync.Once
	fn   func()
}

func (r *releaser) release() {
	r.once.Do(r.fn)
}

// moduleBackend wraps a Backend created by a module, so its destructor is called exactly once:
// either by Finalize or when the wrapper, and all the executables compiled from it, are garbage collected.
type moduleBackend struct {
	Backend
	modulePath string
	releaser   *releaser
}

func newModuleBackend(backend Backend, entries *entryPoints, modulePath string) *moduleBackend {
	deleteBackend := entries.deleteBackend
	r := &releaser{fn: func() { deleteBackend(backend) }}
	wrapper := &moduleBackend{
		Backend:    backend,
		modulePath: modulePath,
		releaser:   r,
	}
	runtime.AddCleanup(wrapper, func(r *releaser) { r.release() }, r)
	return wrapper
}

// Finalize calls the module's DeleteBackend for the wrapped backend. Calling it more than once is a no-op.
func (b *moduleBackend) Finalize() {
	b.releaser.release()
}

// ModulePath returns the path of the module that created the backend.
func (b *moduleBackend) ModulePath() string {
	return b.modulePath
}

// Compile implements Backend. The returned Executable keeps the wrapper alive, so the module's
// DeleteBackend is not called by the garbage collector while it is still in use.
func (b *moduleBackend) Compile(outputs ...*graph.Node) (Executable, error) {
	exec, err := b.Backend.Compile(outputs...)
	if err != nil {
		return nil, err
	}
	return &moduleExecutable{Executable: exec, backend: b}, nil
}

// moduleExecutable is an Executable compiled by a moduleBackend.
type moduleExecutable struct {
	Executable
	backend *moduleBackend
}
