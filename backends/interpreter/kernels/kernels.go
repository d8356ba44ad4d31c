// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels implements the numeric kernels of the interpreter backend.
//
// Kernels take flat input buffers in row-major order, plus their dimensions when needed, and write
// the result into a pre-allocated flat output buffer. Shapes are validated by the graph before
// dispatching, kernels don't check them.
package kernels

import (
	"math"

	"github.com/gomlx/graphcore/internal/workerspool"
	"github.com/gomlx/graphcore/types/shapes"
	"golang.org/x/exp/constraints"
)

// Number is the constraint of the types supported by the arithmetic kernels.
type Number interface {
	constraints.Integer | constraints.Float
}

// Float is the constraint of the types supported by the transcendental kernels.
type Float interface {
	constraints.Float
}

// Supported is Number plus bool.
type Supported interface {
	Number | ~bool
}

// minParallelChunk is the minimum number of elements processed by each goroutine.
const minParallelChunk = 16 * 1024

// Unary applies fn to each element of input, writing to output.
func Unary[In, Out Supported](pool *workerspool.Pool, input []In, output []Out, fn func(x In) Out) {
	pool.ParallelFor(len(output), minParallelChunk, func(start, end int) {
		for ii := start; ii < end; ii++ {
			output[ii] = fn(input[ii])
		}
	})
}

// Binary applies fn to each pair of elements of lhs and rhs, writing to output.
func Binary[In, Out Supported](pool *workerspool.Pool, lhs, rhs []In, output []Out, fn func(x, y In) Out) {
	pool.ParallelFor(len(output), minParallelChunk, func(start, end int) {
		for ii := start; ii < end; ii++ {
			output[ii] = fn(lhs[ii], rhs[ii])
		}
	})
}

// Select writes onTrue[i] to output[i] if condition[i], onFalse[i] otherwise.
func Select[T Supported](pool *workerspool.Pool, condition []bool, onTrue, onFalse, output []T) {
	pool.ParallelFor(len(output), minParallelChunk, func(start, end int) {
		for ii := start; ii < end; ii++ {
			if condition[ii] {
				output[ii] = onTrue[ii]
			} else {
				output[ii] = onFalse[ii]
			}
		}
	})
}

// Convert each element of input to the type of output.
func Convert[In, Out Number](input []In, output []Out) {
	for ii, x := range input {
		output[ii] = Out(x)
	}
}

// Arithmetic functions, to be used with Unary and Binary.

func Neg[T Number](x T) T { return -x }

func Abs[T Number](x T) T {
	if x < 0 {
		return -x
	}
	return x
}

func Sign[T Number](x T) T {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return T(0) - 1
	}
	return x // Keeps 0 and NaN.
}

func Exp[T Float](x T) T { return T(math.Exp(float64(x))) }
func Log[T Float](x T) T { return T(math.Log(float64(x))) }
func Sqrt[T Float](x T) T { return T(math.Sqrt(float64(x))) }
func Tanh[T Float](x T) T { return T(math.Tanh(float64(x))) }

func Add[T Number](x, y T) T { return x + y }
func Sub[T Number](x, y T) T { return x - y }
func Mul[T Number](x, y T) T { return x * y }
func Div[T Number](x, y T) T { return x / y }

func Max[T Number](x, y T) T { return max(x, y) }
func Min[T Number](x, y T) T { return min(x, y) }

func Equal[T comparable](x, y T) bool { return x == y }
func Greater[T Number](x, y T) bool { return x > y }
func GreaterOrEqual[T Number](x, y T) bool { return x >= y }
func Less[T Number](x, y T) bool { return x < y }
func LessOrEqual[T Number](x, y T) bool { return x <= y }

// Lowest returns the lowest value of T: -Inf for floats.
func Lowest[T Number]() T {
	var lowest any
	switch any(T(0)).(type) {
	case float32:
		lowest = float32(math.Inf(-1))
	case float64:
		lowest = math.Inf(-1)
	case int8:
		lowest = int8(math.MinInt8)
	case int16:
		lowest = int16(math.MinInt16)
	case int32:
		lowest = int32(math.MinInt32)
	case int64:
		lowest = int64(math.MinInt64)
	case int:
		lowest = int(math.MinInt)
	default:
		// Unsigned integers.
		return T(0)
	}
	return lowest.(T)
}

// Reshape only copies the flat values.
func Reshape[T Supported](input, output []T) {
	copy(output, input)
}

// Broadcast input, with dimensions inputDims, to output, with dimensions outputDims.
// broadcastAxes are the axes of the output not present in the input.
func Broadcast[T Supported](input []T, inputDims []int, output []T, outputDims []int, broadcastAxes []int) {
	if len(input) == 1 {
		for ii := range output {
			output[ii] = input[0]
		}
		return
	}
	// inputStrideForOutputAxis is 0 for the broadcast axes.
	inputStrides := shapes.Shape{Dimensions: inputDims}.Strides()
	inputStrideForOutputAxis := make([]int, len(outputDims))
	isBroadcast := make([]bool, len(outputDims))
	for _, axis := range broadcastAxes {
		isBroadcast[axis] = true
	}
	inputAxis := 0
	for axis := range outputDims {
		if !isBroadcast[axis] {
			inputStrideForOutputAxis[axis] = inputStrides[inputAxis]
			inputAxis++
		}
	}
	for flatIdx, indices := range (shapes.Shape{Dimensions: outputDims}).Iter() {
		inputIdx := 0
		for axis, idx := range indices {
			inputIdx += idx * inputStrideForOutputAxis[axis]
		}
		output[flatIdx] = input[inputIdx]
	}
}

// Transpose input, with dimensions inputDims, so output axis i is the input axis permutation[i].
func Transpose[T Supported](input []T, inputDims []int, output []T, permutation []int) {
	inputStrides := shapes.Shape{Dimensions: inputDims}.Strides()
	outputDims := make([]int, len(permutation))
	strides := make([]int, len(permutation))
	for outputAxis, inputAxis := range permutation {
		outputDims[outputAxis] = inputDims[inputAxis]
		strides[outputAxis] = inputStrides[inputAxis]
	}
	for flatIdx, indices := range (shapes.Shape{Dimensions: outputDims}).Iter() {
		inputIdx := 0
		for axis, idx := range indices {
			inputIdx += idx * strides[axis]
		}
		output[flatIdx] = input[inputIdx]
	}
}
