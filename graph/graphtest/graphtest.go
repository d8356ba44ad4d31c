// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphtest holds test utilities for packages that depend on the graph package.
//
// Graphs are executed with the interpreter backend, unless GRAPHCORE_BACKEND says otherwise.
package graphtest

import (
	"fmt"
	"sync"
	"testing"

	"github.com/gomlx/graphcore/backends"
	_ "github.com/gomlx/graphcore/backends/interpreter"
	"github.com/gomlx/graphcore/graph"
	"github.com/gomlx/graphcore/types/shapes"
	"github.com/gomlx/graphcore/types/tensors"
	"github.com/stretchr/testify/require"
)

// TestGraphFn should build its own inputs (usually constants), and return both inputs and outputs.
type TestGraphFn func() (inputs, outputs []*graph.Node)

var (
	backendOnce   sync.Once
	cachedBackend backends.Backend
)

// BuildTestBackend sets backends.DefaultConfig to "interpreter" -- it can be overwritten by the
// GRAPHCORE_BACKEND environment variable -- and returns a backend shared by all tests.
func BuildTestBackend() backends.Backend {
	backends.DefaultConfig = "interpreter"
	backendOnce.Do(func() {
		cachedBackend = backends.MustNew()
		fmt.Printf("Backend: %s\n", cachedBackend.Description())
	})
	return cachedBackend
}

// Exec compiles and executes the graph ending in outputs, which must have no parameters, and returns
// one tensor per output.
func Exec(t *testing.T, outputs ...*graph.Node) []*tensors.Tensor {
	backend := BuildTestBackend()
	exec, err := backend.Compile(outputs...)
	require.NoError(t, err)
	defer exec.Finalize()
	require.Empty(t, exec.Parameters(), "graphtest.Exec requires graphs with no parameters")
	results, err := exec.Execute()
	require.NoError(t, err)
	require.Len(t, results, len(outputs))
	return results
}

// RunTestGraphFn tests a graph building function graphFn by executing it and comparing
// its output(s) to the values in want, reporting back any errors in t.
//
// delta is the margin of value on the difference of output and want values that are acceptable.
// Values of delta <= 0 means only exact equality is accepted.
func RunTestGraphFn(t *testing.T, testName string, graphFn TestGraphFn, want []any, delta float64) {
	t.Run(testName, func(t *testing.T) {
		wantTensors := make([]*tensors.Tensor, len(want))
		for ii, value := range want {
			if s, ok := value.(shapes.Shape); ok {
				wantTensors[ii] = tensors.FromShape(s)
			} else {
				wantTensors[ii] = tensors.FromAnyValue(value)
			}
		}

		var inputs, outputs []*graph.Node
		require.NotPanicsf(t, func() { inputs, outputs = graphFn() }, "%s: failed to build graph", testName)
		require.Equalf(t, len(want), len(outputs), "%s: number of wanted results different from number of outputs", testName)
		all := append(append([]*graph.Node{}, inputs...), outputs...)
		results := Exec(t, all...)

		fmt.Printf("\n%s:\n", testName)
		for ii, input := range results[:len(inputs)] {
			fmt.Printf("\tInput %d: %s\n", ii, input)
		}
		if len(inputs) > 0 {
			fmt.Printf("\t======\n")
		}
		for ii, output := range results[len(inputs):] {
			fmt.Printf("\tOutput %d: %s\n", ii, output)
			require.Truef(t, wantTensors[ii].InDelta(output, delta), "%s: output #%d %s doesn't match wanted value %v",
				testName, ii, output, want[ii])
		}
	})
}
