// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/graphcore/types/shapes"
	"gonum.org/v1/gonum/floats"
)

// Reduce input, with dimensions inputDims, over the given axes, into output: output is first filled
// with initial, and then each input value x is accumulated with output[j] = fn(output[j], x).
func Reduce[T Number](input []T, inputDims []int, axes []int, output []T, initial T, fn func(acc, x T) T) {
	for ii := range output {
		output[ii] = initial
	}
	if len(input) == 0 {
		return
	}
	if len(output) == 1 {
		// Full reduction.
		acc := initial
		for _, x := range input {
			acc = fn(acc, x)
		}
		output[0] = acc
		return
	}

	// outputStrideForInputAxis is 0 for the reduced axes.
	isReduced := make([]bool, len(inputDims))
	for _, axis := range axes {
		isReduced[axis] = true
	}
	var outputDims []int
	for axis, dim := range inputDims {
		if !isReduced[axis] {
			outputDims = append(outputDims, dim)
		}
	}
	outputStrides := shapes.Shape{Dimensions: outputDims}.Strides()
	outputStrideForInputAxis := make([]int, len(inputDims))
	outputAxis := 0
	for axis := range inputDims {
		if !isReduced[axis] {
			outputStrideForInputAxis[axis] = outputStrides[outputAxis]
			outputAxis++
		}
	}
	for flatIdx, indices := range (shapes.Shape{Dimensions: inputDims}).Iter() {
		outputIdx := 0
		for axis, idx := range indices {
			outputIdx += idx * outputStrideForInputAxis[axis]
		}
		output[outputIdx] = fn(output[outputIdx], input[flatIdx])
	}
}

// ReduceSum sums input over the given axes.
func ReduceSum[T Number](input []T, inputDims []int, axes []int, output []T) {
	if len(output) == 1 {
		if input64, ok := any(input).([]float64); ok {
			output[0] = T(floats.Sum(input64))
			return
		}
	}
	Reduce(input, inputDims, axes, output, 0, Add[T])
}

// ReduceProduct multiplies input over the given axes.
func ReduceProduct[T Number](input []T, inputDims []int, axes []int, output []T) {
	if len(output) == 1 {
		if input64, ok := any(input).([]float64); ok {
			output[0] = T(floats.Prod(input64))
			return
		}
	}
	Reduce(input, inputDims, axes, output, 1, Mul[T])
}

// ReduceMax takes the maximum of input over the given axes. NaN values propagate to the output.
func ReduceMax[T Number](input []T, inputDims []int, axes []int, output []T) {
	if len(output) == 1 && len(input) > 0 {
		// floats.Max skips NaN values.
		if input64, ok := any(input).([]float64); ok && !floats.HasNaN(input64) {
			output[0] = T(floats.Max(input64))
			return
		}
	}
	Reduce(input, inputDims, axes, output, Lowest[T](), Max[T])
}
