// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"math"
	"testing"

	. "github.com/gomlx/graphcore/graph"
	"github.com/gomlx/graphcore/graph/graphtest"
)

func TestElementWiseOps(t *testing.T) {
	graphtest.RunTestGraphFn(t, "unary", func() (inputs, outputs []*Node) {
		x := Const([]float64{-2, 0.5, 4})
		inputs = []*Node{x}
		outputs = []*Node{Neg(x), Abs(x), Sign(x), Exp(Abs(x)), Log(Abs(x)), Sqrt(Abs(x)), Tanh(x)}
		return
	}, []any{
		[]float64{2, -0.5, -4},
		[]float64{2, 0.5, 4},
		[]float64{-1, 1, 1},
		[]float64{math.Exp(2), math.Exp(0.5), math.Exp(4)},
		[]float64{math.Log(2), math.Log(0.5), math.Log(4)},
		[]float64{math.Sqrt2, math.Sqrt(0.5), 2},
		[]float64{math.Tanh(-2), math.Tanh(0.5), math.Tanh(4)},
	}, 1e-9)

	graphtest.RunTestGraphFn(t, "binary", func() (inputs, outputs []*Node) {
		x := Const([]int32{1, 6, -3})
		y := Const([]int32{2, 3, -3})
		inputs = []*Node{x, y}
		outputs = []*Node{Add(x, y), Sub(x, y), Mul(x, y), Div(x, y), Max(x, y), Min(x, y)}
		return
	}, []any{
		[]int32{3, 9, -6},
		[]int32{-1, 3, 0},
		[]int32{2, 18, 9},
		[]int32{0, 2, 1},
		[]int32{2, 6, -3},
		[]int32{1, 3, -3},
	}, 0)

	graphtest.RunTestGraphFn(t, "comparisons", func() (inputs, outputs []*Node) {
		x := Const([]float32{1, 2, 3})
		y := Const([]float32{2, 2, 2})
		inputs = []*Node{x, y}
		outputs = []*Node{
			Equal(x, y), Greater(x, y), GreaterOrEqual(x, y), Less(x, y), LessOrEqual(x, y),
			Select(Greater(x, y), x, y),
		}
		return
	}, []any{
		[]bool{false, true, false},
		[]bool{false, false, true},
		[]bool{false, true, true},
		[]bool{true, false, false},
		[]bool{true, true, false},
		[]float32{2, 2, 3},
	}, 0)

	graphtest.RunTestGraphFn(t, "Convert", func() (inputs, outputs []*Node) {
		x := Const([]float64{-1.5, 0, 2.7})
		inputs = []*Node{x}
		outputs = []*Node{Convert(x, I32), Convert(x, F32), Convert(Greater(x, ZerosLike(x)), F64)}
		return
	}, []any{[]int32{-1, 0, 2}, []float32{-1.5, 0, 2.7}, []float64{0, 0, 1}}, 1e-6)
}

func TestReduceOps(t *testing.T) {
	graphtest.RunTestGraphFn(t, "reductions", func() (inputs, outputs []*Node) {
		x := Const([][]float32{{1, 2, 3}, {4, 5, 6}})
		inputs = []*Node{x}
		outputs = []*Node{
			ReduceSum(x), ReduceSum(x, 0), ReduceSum(x, -1),
			ReduceProduct(x, 1), ReduceMax(x), ReduceMax(x, 0),
		}
		return
	}, []any{
		float32(21), []float32{5, 7, 9}, []float32{6, 15},
		[]float32{6, 120}, float32(6), []float32{4, 5, 6},
	}, 0)

	graphtest.RunTestGraphFn(t, "ReduceMax of negative values", func() (inputs, outputs []*Node) {
		x := Const([]int32{-7, -3, -5})
		inputs = []*Node{x}
		outputs = []*Node{ReduceMax(x)}
		return
	}, []any{int32(-3)}, 0)
}

func TestLayoutOps(t *testing.T) {
	graphtest.RunTestGraphFn(t, "Broadcast", func() (inputs, outputs []*Node) {
		x := Const([]float32{1, 2})
		inputs = []*Node{x}
		outputs = []*Node{
			Broadcast(x, []int{3, 2}, []int{0}),
			Broadcast(x, []int{2, 3}, []int{1}),
			Broadcast(Const(float32(7)), []int{2}, []int{0}),
		}
		return
	}, []any{
		[][]float32{{1, 2}, {1, 2}, {1, 2}},
		[][]float32{{1, 1, 1}, {2, 2, 2}},
		[]float32{7, 7},
	}, 0)

	graphtest.RunTestGraphFn(t, "Reshape and Transpose", func() (inputs, outputs []*Node) {
		x := Const([][]float32{{1, 2, 3}, {4, 5, 6}})
		inputs = []*Node{x}
		outputs = []*Node{Reshape(x, 3, 2), Transpose(x, 1, 0), Reshape(x, 6)}
		return
	}, []any{
		[][]float32{{1, 2}, {3, 4}, {5, 6}},
		[][]float32{{1, 4}, {2, 5}, {3, 6}},
		[]float32{1, 2, 3, 4, 5, 6},
	}, 0)

	graphtest.RunTestGraphFn(t, "Transpose rank-3", func() (inputs, outputs []*Node) {
		x := Const([][][]int32{{{1, 2}, {3, 4}}, {{5, 6}, {7, 8}}})
		inputs = []*Node{x}
		outputs = []*Node{Transpose(x, 2, 0, 1)}
		return
	}, []any{[][][]int32{{{1, 3}, {5, 7}}, {{2, 4}, {6, 8}}}}, 0)

	graphtest.RunTestGraphFn(t, "Dot", func() (inputs, outputs []*Node) {
		x := Const([][]float64{{1, 2}, {3, 4}})
		y := Const([][]float64{{5, 6, 7}, {8, 9, 10}})
		xi := Const([][]int32{{1, 2}})
		yi := Const([][]int32{{3}, {4}})
		inputs = []*Node{x, y}
		outputs = []*Node{Dot(x, y), Dot(xi, yi)}
		return
	}, []any{[][]float64{{21, 24, 27}, {47, 54, 61}}, [][]int32{{11}}}, 0)
}
