// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface a computation execution system needs to implement to run
// graphs built with the graph package, and the registry (Manager) used to find them.
//
// Backends are either registered statically, usually in the init function of the backend's package
// (see package interpreter), or discovered at runtime as Go plugin modules in a search directory.
// Both are created with a descriptor string, formatted as "<name>[:<attributes>]": the name selects the
// backend (case-insensitive) and the whole descriptor is passed to its constructor.
//
// Example:
//
//	import _ "github.com/gomlx/graphcore/backends/interpreter"
//
//	backend, err := backends.Create("interpreter:0")
//	exec, err := backend.Compile(output)
//	results, err := exec.Execute(inputTensor)
package backends

import (
	"os"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/graphcore/graph"
	"github.com/gomlx/graphcore/types/tensors"
	"github.com/pkg/errors"
)

// Backend is the API that needs to be implemented by a backend.
type Backend interface {
	// Name returns the short name of the backend, upper-cased, as used in descriptors. E.g.: "INTERPRETER".
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// Compile the graph ending in outputs into an Executable.
	// The inputs of the Executable are the Parameter nodes reachable from the outputs, see Executable.Parameters.
	//
	// The Executable must not be used after the Backend is finalized. Backends created from modules are
	// kept alive by their executables, so they are only released by the garbage collector after those.
	Compile(outputs ...*graph.Node) (Executable, error)

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Executable is a compiled computation, ready to be executed.
type Executable interface {
	// Parameters returns the Parameter nodes of the computation, in the order their values
	// must be given to Execute.
	Parameters() []*graph.Node

	// Outputs returns the nodes whose values are returned by Execute.
	Outputs() []*graph.Node

	// Execute the computation with the given values for the parameters, and returns one tensor per output.
	Execute(inputs ...*tensors.Tensor) ([]*tensors.Tensor, error)

	// Finalize releases all the associated resources immediately.
	Finalize()
}

// Constructor takes the full descriptor ("<name>[:<attributes>]") and returns a new Backend.
type Constructor func(descriptor string) (Backend, error)

// DefaultConfig is the backend descriptor used by New if the GRAPHCORE_BACKEND environment variable is not set.
var DefaultConfig string

// GRAPHCORE_BACKEND is the environment variable with the default backend descriptor, used by New.
const GRAPHCORE_BACKEND = "GRAPHCORE_BACKEND"

// GRAPHCORE_BACKEND_LIBRARY_PATH is the environment variable that overrides the directory where backend
// modules are searched. By default, it is the directory of the running executable.
const GRAPHCORE_BACKEND_LIBRARY_PATH = "GRAPHCORE_BACKEND_LIBRARY_PATH"

// Register a static backend constructor with the default manager. The name is case-insensitive,
// and registering the same name again replaces the previous constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	DefaultManager().Register(name, constructor)
}

// Create a backend from its descriptor, using the default manager. See Manager.Create.
func Create(descriptor string) (Backend, error) {
	return DefaultManager().Create(descriptor)
}

// DiscoverAvailable scans the default manager's search directory for backend modules.
// See Manager.DiscoverAvailable.
func DiscoverAvailable() (map[string]string, error) {
	return DefaultManager().DiscoverAvailable()
}

// RegisteredDevices returns the sorted names of the backends known to the default manager.
// See Manager.RegisteredDevices.
func RegisteredDevices() ([]string, error) {
	return DefaultManager().RegisteredDevices()
}

// New returns a new default Backend. The descriptor used is:
//
//  1. The environment variable GRAPHCORE_BACKEND, if defined.
//  2. Next the variable DefaultConfig, if defined.
//  3. The first statically registered backend.
func New() (Backend, error) {
	if descriptor, found := os.LookupEnv(GRAPHCORE_BACKEND); found {
		return Create(descriptor)
	}
	if DefaultConfig != "" {
		return Create(DefaultConfig)
	}
	name := DefaultManager().firstRegistered()
	if name == "" {
		return nil, errors.Wrapf(ErrBackendNotFound,
			`no backend registered and none configured with %s -- maybe import the interpreter with import _ "github.com/gomlx/graphcore/backends/interpreter"?`,
			GRAPHCORE_BACKEND)
	}
	return Create(name)
}

// MustNew returns a new default Backend, as New, or panics if it fails.
func MustNew() Backend {
	backend, err := New()
	if err != nil {
		panic(err)
	}
	return backend
}

// MustCreate creates a backend as Create, or panics if it fails.
func MustCreate(descriptor string) Backend {
	backend, err := Create(descriptor)
	if err != nil {
		exceptions.Panicf("failed to create backend %q: %+v", descriptor, err)
	}
	return backend
}
