// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/graphcore/types/shapes"
	"github.com/gomlx/graphcore/types/tensors"
)

// Parameter creates an input node of the computation, to be fed when executing it.
func Parameter(name string, shape shapes.Shape) *Node {
	return newNode(NodeTypeParameter, &parameterParams{name: name, shape: shape.Clone()}, nil)
}

// Constant creates a node that holds the value of the tensor t. The tensor must not be changed afterward.
func Constant(t *tensors.Tensor) *Node {
	if t == nil {
		panicf(ErrShapeInference, "Constant: nil tensor")
	}
	return newNode(NodeTypeConstant, &constantParams{tensor: t}, nil)
}

// Const creates a constant node from a Go value: a scalar or a (multidimensional) slice. See tensors.FromAnyValue.
func Const(value any) *Node {
	return Constant(tensors.FromAnyValue(value))
}

// Scalar returns a scalar constant of the given dtype, converted from value.
func Scalar(dtype dtypes.DType, value float64) *Node {
	return Constant(tensors.FromFloat64(dtype, value))
}

// Zeros creates a node filled with zeros, with the given shape.
func Zeros(shape shapes.Shape) *Node {
	return fill(shape, 0)
}

// Ones creates a node filled with ones, with the given shape.
func Ones(shape shapes.Shape) *Node {
	return fill(shape, 1)
}

// ZerosLike returns a node filled with zeros with the same shape as x.
func ZerosLike(x *Node) *Node {
	return Zeros(x.Shape())
}

// OnesLike returns a node filled with ones with the same shape as x.
func OnesLike(x *Node) *Node {
	return Ones(x.Shape())
}

func fill(shape shapes.Shape, value float64) *Node {
	scalar := Scalar(shape.DType, value)
	if shape.IsScalar() {
		return scalar
	}
	return Broadcast(scalar, shape.Dimensions, allAxes(shape.Rank()))
}

func allAxes(rank int) []int {
	axes := make([]int, rank)
	for ii := range axes {
		axes[ii] = ii
	}
	return axes
}

// Convert x to the given dtype.
func Convert(x *Node, dtype dtypes.DType) *Node {
	return newNode(NodeTypeConvert, &convertParams{dtype: dtype}, []*Node{x})
}

// Neg returns -x.
func Neg(x *Node) *Node { return newNode(NodeTypeNeg, nil, []*Node{x}) }

// Abs returns |x|.
func Abs(x *Node) *Node { return newNode(NodeTypeAbs, nil, []*Node{x}) }

// Sign returns -1, 0 or 1 depending on the sign of x.
func Sign(x *Node) *Node { return newNode(NodeTypeSign, nil, []*Node{x}) }

// Exp returns e^x. x must be a float.
func Exp(x *Node) *Node { return newNode(NodeTypeExp, nil, []*Node{x}) }

// Log returns the natural logarithm of x. x must be a float.
func Log(x *Node) *Node { return newNode(NodeTypeLog, nil, []*Node{x}) }

// Sqrt returns the square root of x. x must be a float.
func Sqrt(x *Node) *Node { return newNode(NodeTypeSqrt, nil, []*Node{x}) }

// Tanh returns the hyperbolic tangent of x. x must be a float.
func Tanh(x *Node) *Node { return newNode(NodeTypeTanh, nil, []*Node{x}) }

// Add returns x + y, elementwise.
//
// x and y must have the same shape: there is no implicit broadcasting.
func Add(x, y *Node) *Node { return newNode(NodeTypeAdd, nil, []*Node{x, y}) }

// Sub returns x - y, elementwise.
func Sub(x, y *Node) *Node { return newNode(NodeTypeSub, nil, []*Node{x, y}) }

// Mul returns x * y, elementwise.
func Mul(x, y *Node) *Node { return newNode(NodeTypeMul, nil, []*Node{x, y}) }

// Div returns x / y, elementwise.
func Div(x, y *Node) *Node { return newNode(NodeTypeDiv, nil, []*Node{x, y}) }

// Max returns the elementwise maximum of x and y.
func Max(x, y *Node) *Node { return newNode(NodeTypeMax, nil, []*Node{x, y}) }

// Min returns the elementwise minimum of x and y.
func Min(x, y *Node) *Node { return newNode(NodeTypeMin, nil, []*Node{x, y}) }

// Equal returns the elementwise x == y, as a Bool.
func Equal(x, y *Node) *Node { return newNode(NodeTypeEqual, nil, []*Node{x, y}) }

// Greater returns the elementwise x > y, as a Bool.
func Greater(x, y *Node) *Node { return newNode(NodeTypeGreater, nil, []*Node{x, y}) }

// GreaterOrEqual returns the elementwise x >= y, as a Bool.
func GreaterOrEqual(x, y *Node) *Node { return newNode(NodeTypeGreaterOrEqual, nil, []*Node{x, y}) }

// Less returns the elementwise x < y, as a Bool.
func Less(x, y *Node) *Node { return newNode(NodeTypeLess, nil, []*Node{x, y}) }

// LessOrEqual returns the elementwise x <= y, as a Bool.
func LessOrEqual(x, y *Node) *Node { return newNode(NodeTypeLessOrEqual, nil, []*Node{x, y}) }

// Select returns, elementwise, onTrue where condition is true, and onFalse otherwise.
func Select(condition, onTrue, onFalse *Node) *Node {
	return newNode(NodeTypeSelect, nil, []*Node{condition, onTrue, onFalse})
}

// ReduceSum sums x over the given axes. If no axes are given, it sums over all of them, returning a scalar.
// Negative axes are counted from the end.
func ReduceSum(x *Node, axes ...int) *Node {
	return newNode(NodeTypeReduceSum, &reduceParams{axes: reduceAxes(x, axes)}, []*Node{x})
}

// ReduceProduct multiplies x over the given axes. If no axes are given, it reduces over all of them.
func ReduceProduct(x *Node, axes ...int) *Node {
	return newNode(NodeTypeReduceProduct, &reduceParams{axes: reduceAxes(x, axes)}, []*Node{x})
}

// ReduceMax takes the maximum of x over the given axes. If no axes are given, it reduces over all of them.
func ReduceMax(x *Node, axes ...int) *Node {
	return newNode(NodeTypeReduceMax, &reduceParams{axes: reduceAxes(x, axes)}, []*Node{x})
}

func reduceAxes(x *Node, axes []int) []int {
	if x == nil {
		return nil
	}
	if len(axes) == 0 {
		return allAxes(x.Rank())
	}
	adjusted := make([]int, len(axes))
	for ii, axis := range axes {
		if axis < 0 {
			axis += x.Rank()
		}
		adjusted[ii] = axis
	}
	slices.Sort(adjusted)
	return adjusted
}

// Broadcast x to the given dimensions. broadcastAxes lists the axes of the output that are created:
// x is replicated along them. The remaining axes of the output must match x's dimensions, in order.
//
// Example: Broadcast(x, []int{2, 3}, []int{0}) with x shaped [3] returns x stacked twice.
func Broadcast(x *Node, dimensions []int, broadcastAxes []int) *Node {
	p := &broadcastParams{dimensions: slices.Clone(dimensions), axes: slices.Clone(broadcastAxes)}
	return newNode(NodeTypeBroadcast, p, []*Node{x})
}

// Reshape x to the given dimensions. The total size must remain the same.
func Reshape(x *Node, dimensions ...int) *Node {
	return newNode(NodeTypeReshape, &reshapeParams{dimensions: slices.Clone(dimensions)}, []*Node{x})
}

// Transpose permutes the axes of x: output axis i is x's axis permutation[i].
func Transpose(x *Node, permutation ...int) *Node {
	return newNode(NodeTypeTranspose, &transposeParams{permutation: slices.Clone(permutation)}, []*Node{x})
}

// Dot returns the matrix multiplication of x, shaped [m, k], and y, shaped [k, n].
func Dot(x, y *Node) *Node {
	return newNode(NodeTypeDot, nil, []*Node{x, y})
}
