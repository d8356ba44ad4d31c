// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package interpreter implements a simple, portable, pure Go backend that evaluates graphs node by node.
//
// It is registered as "INTERPRETER". Its descriptor accepts an optional device name and options:
//
//	INTERPRETER[:<device>][,parallelism=<n>]
//
// E.g.: "interpreter:0,parallelism=4". parallelism is the soft limit of goroutines used by the
// elementwise and convolution kernels: 0 (the default) uses runtime.NumCPU(), 1 disables parallelism
// and -1 makes it unlimited.
//
// It supports the dtypes Float16 (computed in float32), Float32, Float64, Int32, Int64 and Bool.
package interpreter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/graphcore/backends"
	"github.com/gomlx/graphcore/graph"
	"github.com/gomlx/graphcore/internal/workerspool"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName to be used in GRAPHCORE_BACKEND or backends.Create to select this backend.
const BackendName = "INTERPRETER"

// Registers New as the constructor of the "INTERPRETER" backend.
func init() {
	backends.Register(BackendName, New)
}

// Backend implements the backends.Backend interface.
type Backend struct {
	descriptor  string
	device      string
	parallelism int
	id          uuid.UUID
	pool        *workerspool.Pool
	finalized   bool
}

// Compile-time check that interpreter.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// New constructs a new interpreter Backend from its descriptor, see package documentation.
func New(descriptor string) (backends.Backend, error) {
	b := &Backend{
		descriptor: descriptor,
		id:         uuid.New(),
	}
	_, attributes, _ := strings.Cut(descriptor, ":")
	for ii, attribute := range strings.Split(attributes, ",") {
		attribute = strings.TrimSpace(attribute)
		if attribute == "" {
			continue
		}
		key, value, isOption := strings.Cut(attribute, "=")
		if !isOption {
			if ii != 0 {
				return nil, errors.Errorf("interpreter backend %q: device must be the first attribute, got %q", descriptor, attribute)
			}
			b.device = attribute
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "parallelism":
			parallelism, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, errors.Wrapf(err, "interpreter backend %q: invalid parallelism %q", descriptor, value)
			}
			b.parallelism = parallelism
		default:
			return nil, errors.Errorf("interpreter backend %q: unknown option %q", descriptor, key)
		}
	}
	if b.parallelism == 1 {
		b.pool = workerspool.Sequential()
	} else {
		b.pool = workerspool.New(b.parallelism)
	}
	klog.V(2).Infof("interpreter: created backend %s (parallelism %d)", b.id, b.pool.MaxParallelism())
	return b, nil
}

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return BackendName
}

// String implements fmt.Stringer.
func (b *Backend) String() string { return b.descriptor }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	device := b.device
	if device == "" {
		device = "default"
	}
	return fmt.Sprintf("Graph interpreter (device %s, parallelism %d, id %s)", device, b.pool.MaxParallelism(), b.id)
}

// Device returns the device name given in the descriptor, or "" if none was given.
func (b *Backend) Device() string {
	return b.device
}

// Finalize releases all the associated resources immediately, and makes the backend invalid.
func (b *Backend) Finalize() {
	b.finalized = true
}

// Compile the graph ending in outputs. Additions to convolution results are fused into the
// convolutions before execution.
func (b *Backend) Compile(outputs ...*graph.Node) (backends.Executable, error) {
	if b.finalized {
		return nil, errors.Errorf("interpreter backend %s already finalized", b.id)
	}
	if len(outputs) == 0 {
		return nil, errors.New("interpreter: Compile requires at least one output")
	}
	for ii, output := range outputs {
		if output == nil {
			return nil, errors.Errorf("interpreter: output #%d is nil", ii)
		}
	}
	var fused []*graph.Node
	if err := graph.TryBuild(func() { fused = graph.FuseConvolutions(outputs...) }); err != nil {
		return nil, errors.WithMessage(err, "interpreter: failed to fuse convolutions")
	}
	e := newExecutable(b, outputs, fused)
	for _, node := range e.nodes {
		if err := checkSupported(node); err != nil {
			return nil, err
		}
	}
	klog.V(2).Infof("interpreter: compiled %d nodes (%d parameters) for %d outputs", len(e.nodes), len(e.parameters), len(outputs))
	return e, nil
}
