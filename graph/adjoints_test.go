// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	. "github.com/gomlx/graphcore/graph"
	"github.com/gomlx/graphcore/graph/graphtest"
	"github.com/gomlx/graphcore/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGradientMaxMin(t *testing.T) {
	graphtest.RunTestGraphFn(t, "Max(3, 5)", func() (inputs, outputs []*Node) {
		x, y := Const(3.0), Const(5.0)
		inputs = []*Node{x, y}
		outputs = Gradient(Max(x, y), x, y)
		return
	}, []any{0.0, 1.0}, 0)

	graphtest.RunTestGraphFn(t, "Max(4, 4): ties get no gradient", func() (inputs, outputs []*Node) {
		x, y := Const(4.0), Const(4.0)
		inputs = []*Node{x, y}
		outputs = Gradient(Max(x, y), x, y)
		return
	}, []any{0.0, 0.0}, 0)

	graphtest.RunTestGraphFn(t, "Min(3, 5)", func() (inputs, outputs []*Node) {
		x, y := Const(3.0), Const(5.0)
		inputs = []*Node{x, y}
		outputs = Gradient(Min(x, y), x, y)
		return
	}, []any{1.0, 0.0}, 0)

	graphtest.RunTestGraphFn(t, "Max(x, y) element-wise", func() (inputs, outputs []*Node) {
		x := Const([]float64{1, 7, 2})
		y := Const([]float64{4, 3, 2})
		inputs = []*Node{x, y}
		outputs = Gradient(ReduceSum(Max(x, y)), x, y)
		return
	}, []any{[]float64{0, 1, 0}, []float64{1, 0, 0}}, 0)
}

// TestGradientMaxRoundTrip checks that away from ties exactly one of the inputs of Max or Min receives
// the gradient.
func TestGradientMaxRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	for range 10 {
		a, b := rng.Float64()*10-5, rng.Float64()*10-5
		if a == b {
			continue
		}
		for _, op := range []func(x, y *Node) *Node{Max, Min} {
			x, y := Const(a), Const(b)
			grads := Gradient(op(x, y), x, y)
			results := graphtest.Exec(t, Add(grads[0], grads[1]), grads[0])
			assert.Equal(t, 1.0, results[0].Value())
			dx := results[1].Value().(float64)
			assert.True(t, dx == 0 || dx == 1)
		}
	}
}

func TestGradientAccumulation(t *testing.T) {
	// Diamond: x is used by both operands of the final Add, and directly.
	graphtest.RunTestGraphFn(t, "x*x+x", func() (inputs, outputs []*Node) {
		x := Const(3.0)
		inputs = []*Node{x}
		outputs = Gradient(Add(Mul(x, x), x), x)
		return
	}, []any{7.0}, 0)

	graphtest.RunTestGraphFn(t, "exp(x)*exp(x)", func() (inputs, outputs []*Node) {
		x := Const(0.5)
		a := Exp(x)
		inputs = []*Node{x}
		outputs = Gradient(Mul(a, a), x)
		return
	}, []any{2 * math.Exp(1)}, 1e-9)
}

func TestGradientElementWise(t *testing.T) {
	type testCase struct {
		name string
		x    float64
		fn   func(x *Node) *Node
		want float64
	}
	for _, tc := range []testCase{
		{"Neg", 2, Neg, -1},
		{"Abs", -2, Abs, -1},
		{"Sign", -2, Sign, 0},
		{"Exp", 0, Exp, 1},
		{"Log", 2, Log, 0.5},
		{"Sqrt", 4, Sqrt, 0.25},
		{"Tanh", 0, Tanh, 1},
		{"Tanh(1)", 1, Tanh, 1 - math.Tanh(1)*math.Tanh(1)},
		{"Sub", 2, func(x *Node) *Node { return Sub(Const(10.0), x) }, -1},
		{"Div numerator", 6, func(x *Node) *Node { return Div(x, Const(3.0)) }, 1.0 / 3},
		{"Div denominator", 3, func(x *Node) *Node { return Div(Const(6.0), x) }, -6.0 / 9},
		{"Convert", 2, func(x *Node) *Node { return Convert(Mul(Convert(x, F32), Const(float32(3))), F64) }, 3},
		{"Select true", 3, func(x *Node) *Node { return Select(Greater(x, ZerosLike(x)), Mul(x, x), Neg(x)) }, 6},
		{"Select false", -1, func(x *Node) *Node { return Select(Greater(x, ZerosLike(x)), Mul(x, x), Neg(x)) }, -1},
		{"Reshape", 2, func(x *Node) *Node { return ReduceSum(Mul(Reshape(x, 1, 1), Const([][]float64{{5}}))) }, 5},
	} {
		graphtest.RunTestGraphFn(t, tc.name, func() (inputs, outputs []*Node) {
			x := Const(tc.x)
			inputs = []*Node{x}
			outputs = Gradient(tc.fn(x), x)
			return
		}, []any{tc.want}, 1e-6)
	}
}

func TestGradientReductions(t *testing.T) {
	graphtest.RunTestGraphFn(t, "ReduceSum", func() (inputs, outputs []*Node) {
		x := Const([][]float64{{1, 2, 3}, {4, 5, 6}})
		inputs = []*Node{x}
		outputs = Gradient(ReduceSum(x), x)
		return
	}, []any{[][]float64{{1, 1, 1}, {1, 1, 1}}}, 0)

	graphtest.RunTestGraphFn(t, "ReduceSum one axis", func() (inputs, outputs []*Node) {
		x := Const([][]float64{{1, 2, 3}, {4, 5, 6}})
		inputs = []*Node{x}
		weights := Const([]float64{10, 20})
		outputs = Gradient(ReduceSum(Mul(ReduceSum(x, 1), weights)), x)
		return
	}, []any{[][]float64{{10, 10, 10}, {20, 20, 20}}}, 0)

	graphtest.RunTestGraphFn(t, "ReduceProduct", func() (inputs, outputs []*Node) {
		x := Const([]float64{1, 2, 3, 4})
		inputs = []*Node{x}
		outputs = Gradient(ReduceProduct(x), x)
		return
	}, []any{[]float64{24, 12, 8, 6}}, 1e-9)

	graphtest.RunTestGraphFn(t, "ReduceMax with ties", func() (inputs, outputs []*Node) {
		x := Const([]float64{1, 5, 3, 5})
		inputs = []*Node{x}
		outputs = Gradient(ReduceMax(x), x)
		return
	}, []any{[]float64{0, 1, 0, 1}}, 0)
}

func TestGradientLayout(t *testing.T) {
	graphtest.RunTestGraphFn(t, "Broadcast", func() (inputs, outputs []*Node) {
		x := Const([]float64{1, 2, 3})
		inputs = []*Node{x}
		outputs = Gradient(ReduceSum(Broadcast(x, []int{2, 3}, []int{0})), x)
		return
	}, []any{[]float64{2, 2, 2}}, 0)

	graphtest.RunTestGraphFn(t, "Broadcast of scalar", func() (inputs, outputs []*Node) {
		x := Const(1.0)
		inputs = []*Node{x}
		outputs = Gradient(ReduceSum(Broadcast(x, []int{2, 3}, []int{0, 1})), x)
		return
	}, []any{6.0}, 0)

	graphtest.RunTestGraphFn(t, "Transpose", func() (inputs, outputs []*Node) {
		x := Const([][]float64{{1, 2, 3}, {4, 5, 6}})
		c := Const([][]float64{{1, 2}, {3, 4}, {5, 6}})
		inputs = []*Node{x}
		outputs = Gradient(ReduceSum(Mul(Transpose(x, 1, 0), c)), x)
		return
	}, []any{[][]float64{{1, 3, 5}, {2, 4, 6}}}, 0)

	graphtest.RunTestGraphFn(t, "Dot", func() (inputs, outputs []*Node) {
		x := Const([][]float64{{1, 2}})
		w := Const([][]float64{{1, 2}, {3, 4}})
		inputs = []*Node{x, w}
		outputs = Gradient(ReduceSum(Dot(x, w)), x, w)
		return
	}, []any{[][]float64{{3, 7}}, [][]float64{{1, 1}, {2, 2}}}, 0)
}

func TestDifferentiate(t *testing.T) {
	x := Const([]float64{1, 2, 3})
	output := Mul(x, Const([]float64{2, 2, 2}))
	seed := Const([]float64{1, 2, 3})
	adjoints := Differentiate(output, seed)
	require.Equal(t, output, adjoints.Output())
	require.True(t, adjoints.Has(x))

	unrelated := Const([]float64{7, 7})
	require.False(t, adjoints.Has(unrelated))
	results := graphtest.Exec(t, adjoints.Get(x), adjoints.Get(unrelated))
	assert.True(t, tensors.FromAnyValue([]float64{2, 4, 6}).InDelta(results[0], 0))
	assert.True(t, tensors.FromAnyValue([]float64{0, 0}).InDelta(results[1], 0))

	// Invalid seeds and outputs.
	requireBuildError(t, ErrTypeMismatch, func() { Differentiate(output, Const([]float32{1, 2, 3})) })
	requireBuildError(t, ErrShapeInference, func() { Differentiate(output, Const([]float64{1, 2})) })
	requireBuildError(t, ErrShapeInference, func() { Gradient(output, x) })
	requireBuildError(t, ErrTypeMismatch, func() { Gradient(Const(int32(1)), x) })
}

func TestGradientConvolution(t *testing.T) {
	data := Parameter("data", MS(F32, 1, 1, 4))
	filters := Parameter("filters", MS(F32, 1, 1, 2))
	conv := Convolve(data, filters).Done()

	// Delta reaches the convolution.
	requireBuildError(t, ErrNoGradient, func() { Gradient(ReduceSum(conv), data) })

	// No delta flows through the comparison, so the convolution is never reached.
	var grads []*Node
	require.NoError(t, TryBuild(func() {
		mask := Convert(Greater(conv, ZerosLike(conv)), F32)
		grads = Gradient(Add(ReduceSum(mask), ReduceSum(data)), data, filters)
	}))
	require.Len(t, grads, 2)
	assert.True(t, grads[0].Shape().Equal(data.Shape()))
	assert.True(t, grads[1].Shape().Equal(filters.Shape()))
}

// TestGradientFiniteDifferences compares the gradients of randomly composed scalar functions with
// central finite differences.
func TestGradientFiniteDifferences(t *testing.T) {
	type unaryFn func(x *Node) *Node
	building := []unaryFn{
		Tanh,
		func(x *Node) *Node { return Mul(x, x) },
		func(x *Node) *Node { return Sqrt(Add(Mul(x, x), OnesLike(x))) },
		func(x *Node) *Node { return Exp(Neg(Mul(x, x))) },
		func(x *Node) *Node { return Max(x, Scalar(x.DType(), 0.1)) },
		func(x *Node) *Node { return Div(x, Add(Abs(x), Scalar(x.DType(), 2))) },
		func(x *Node) *Node { return Sub(Mul(x, Scalar(x.DType(), 3)), x) },
	}
	rng := rand.New(rand.NewPCG(1, 2))
	const h = 1e-5
	for trial := range 10 {
		// Build a random composition.
		var fns []unaryFn
		for range 1 + rng.IntN(4) {
			fns = append(fns, building[rng.IntN(len(building))])
		}
		apply := func(x *Node) *Node {
			y := x
			for _, fn := range fns {
				y = Add(fn(y), Mul(y, Scalar(y.DType(), 0.5)))
			}
			return y
		}
		x0 := rng.Float64()*2 - 1

		t.Run(fmt.Sprintf("trial-%d", trial), func(t *testing.T) {
			x := Const(x0)
			grad := Gradient(apply(x), x)[0]
			results := graphtest.Exec(t, grad, apply(Const(x0+h)), apply(Const(x0-h)))
			got := results[0].Value().(float64)
			want := (results[1].Value().(float64) - results[2].Value().(float64)) / (2 * h)
			assert.InDeltaf(t, want, got, 1e-4*math.Max(1, math.Abs(want)), "x0=%g", x0)
		})
	}
}
