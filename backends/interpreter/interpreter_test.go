// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/graphcore/backends"
	"github.com/gomlx/graphcore/graph"
	"github.com/gomlx/graphcore/types/shapes"
	"github.com/gomlx/graphcore/types/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func newBackend(t *testing.T, descriptor string) *Backend {
	backend, err := New(descriptor)
	require.NoError(t, err)
	t.Cleanup(backend.Finalize)
	return backend.(*Backend)
}

func TestNew(t *testing.T) {
	b := newBackend(t, "interpreter")
	assert.Equal(t, BackendName, b.Name())
	assert.Equal(t, "", b.Device())
	assert.Contains(t, b.Description(), "device default")

	b = newBackend(t, "interpreter:1,parallelism=3")
	assert.Equal(t, "1", b.Device())
	assert.Equal(t, 3, b.pool.MaxParallelism())
	assert.Equal(t, "interpreter:1,parallelism=3", b.String())

	b = newBackend(t, "INTERPRETER:,parallelism=1")
	assert.Equal(t, "", b.Device())
	assert.Equal(t, 1, b.pool.MaxParallelism())

	b = newBackend(t, "interpreter:parallelism=-1")
	assert.True(t, b.pool.IsUnlimited())

	for _, descriptor := range []string{
		"interpreter:parallelism=many",
		"interpreter:0,color=blue",
		"interpreter:parallelism=2,cpu",
	} {
		_, err := New(descriptor)
		assert.Errorf(t, err, "descriptor %q should have failed", descriptor)
	}
}

func TestRegistered(t *testing.T) {
	backend, err := backends.Create("interpreter:0")
	require.NoError(t, err)
	defer backend.Finalize()
	assert.Equal(t, BackendName, backend.Name())
	assert.Equal(t, "0", backend.(*Backend).Device())
}

func TestExecute(t *testing.T) {
	b := newBackend(t, "interpreter")
	y := graph.Parameter("y", shapes.Make(dtypes.Float32, 2))
	x := graph.Parameter("x", shapes.Make(dtypes.Float32, 2))
	output := graph.Add(graph.Mul(x, x), y)

	exec, err := b.Compile(output, x)
	require.NoError(t, err)
	defer exec.Finalize()

	// Parameters are ordered by creation.
	require.Equal(t, []*graph.Node{y, x}, exec.Parameters())
	require.Equal(t, []*graph.Node{output, x}, exec.Outputs())

	xValue := tensors.FromFlatDataAndDimensions([]float32{2, 3}, 2)
	results := must.M1(exec.Execute(tensors.FromFlatDataAndDimensions([]float32{10, 20}, 2), xValue))
	require.Len(t, results, 2)
	assert.Equal(t, []float32{14, 29}, tensors.FlatData[float32](results[0]))
	assert.Equal(t, []float32{2, 3}, tensors.FlatData[float32](results[1]))

	// Outputs that are inputs are copies.
	tensors.FlatData[float32](results[1])[0] = 100
	assert.Equal(t, float32(2), tensors.FlatData[float32](xValue)[0])

	// Executing again gives the same results.
	results = must.M1(exec.Execute(tensors.FromFlatDataAndDimensions([]float32{10, 20}, 2), xValue))
	assert.Equal(t, []float32{14, 29}, tensors.FlatData[float32](results[0]))

	// Invalid inputs.
	_, err = exec.Execute(xValue)
	assert.Error(t, err)
	_, err = exec.Execute(xValue, tensors.FromFlatDataAndDimensions([]float64{1, 2}, 2))
	assert.Error(t, err)
	_, err = exec.Execute(xValue, nil)
	assert.Error(t, err)

	exec.Finalize()
	_, err = exec.Execute(xValue, xValue)
	assert.Error(t, err)
}

func TestCompileErrors(t *testing.T) {
	b := newBackend(t, "interpreter")
	_, err := b.Compile()
	assert.Error(t, err)
	_, err = b.Compile(nil)
	assert.Error(t, err)

	x := graph.Parameter("x", shapes.Make(dtypes.Uint8, 3))
	_, err = b.Compile(graph.Add(x, x))
	assert.Error(t, err)

	b.Finalize()
	_, err = b.Compile(graph.Const(1.0))
	assert.Error(t, err)
}

func TestIntegerDivisionByZero(t *testing.T) {
	b := newBackend(t, "interpreter")
	exec := must.M1(b.Compile(graph.Div(graph.Const([]int32{1, 2}), graph.Const([]int32{1, 0}))))
	_, err := exec.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "division by zero")

	// Float division by zero follows IEEE 754.
	exec = must.M1(b.Compile(graph.Div(graph.Const(1.0), graph.Const(0.0))))
	results := must.M1(exec.Execute())
	assert.True(t, math.IsInf(results[0].Value().(float64), 1))
}

func TestFloat16(t *testing.T) {
	b := newBackend(t, "interpreter")
	x := graph.Parameter("x", shapes.Make(dtypes.Float16, 3))
	output := graph.Sqrt(graph.Add(x, x))
	exec := must.M1(b.Compile(output, graph.ReduceSum(x)))
	input := tensors.FromFlatDataAndDimensions([]float16.Float16{
		float16.Fromfloat32(2), float16.Fromfloat32(8), float16.Fromfloat32(0.5),
	}, 3)
	results := must.M1(exec.Execute(input))
	require.Equal(t, dtypes.Float16, results[0].DType())
	assert.InDeltaSlice(t, []float64{2, 4, 1}, results[0].ToFloat64(), 1e-3)
	assert.InDelta(t, 10.5, results[1].ToFloat64()[0], 1e-3)
}

func TestConvolutionFusion(t *testing.T) {
	b := newBackend(t, "interpreter")
	data := graph.Parameter("data", shapes.Make(dtypes.Float64, 1, 1, 3))
	filters := graph.Const([][][]float64{{{1, 2}}})
	conv := graph.Convolve(data, filters).Done()
	output := graph.Add(conv, graph.Const([][][]float64{{{100, 200}}}))
	exec := must.M1(b.Compile(output))
	require.Equal(t, graph.NodeTypeConvolutionAdd, exec.(*Executable).fused[0].Type())
	results := must.M1(exec.Execute(tensors.FromFlatDataAndDimensions([]float64{1, 2, 3}, 1, 1, 3)))
	assert.Equal(t, []float64{105, 208}, tensors.FlatData[float64](results[0]))
}
