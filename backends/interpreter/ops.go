// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/graphcore/backends/interpreter/kernels"
	"github.com/gomlx/graphcore/graph"
	"github.com/gomlx/graphcore/internal/workerspool"
	"github.com/gomlx/graphcore/types/shapes"
	"github.com/gomlx/graphcore/types/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// supportedDTypes by the interpreter. Float16 is computed in float32.
var supportedDTypes = map[dtypes.DType]bool{
	dtypes.Bool:    true,
	dtypes.Float16: true,
	dtypes.Float32: true,
	dtypes.Float64: true,
	dtypes.Int32:   true,
	dtypes.Int64:   true,
}

func checkSupported(node *graph.Node) error {
	for _, shape := range append([]shapes.Shape{node.Shape()}, inputShapes(node)...) {
		if !supportedDTypes[shape.DType] {
			return errors.Errorf("interpreter: dtype %s used by %s is not supported", shape.DType, node)
		}
	}
	return nil
}

func inputShapes(node *graph.Node) []shapes.Shape {
	inputs := node.Inputs()
	result := make([]shapes.Shape, len(inputs))
	for ii, input := range inputs {
		result[ii] = input.Shape()
	}
	return result
}

// evalNode computes the value of node given the values of its inputs.
func (b *Backend) evalNode(node *graph.Node, inputs []*tensors.Tensor) (*tensors.Tensor, error) {
	if node.Type() == graph.NodeTypeConstant {
		return node.ConstantValue(), nil
	}

	// Float16 values are computed in float32.
	for ii, input := range inputs {
		if input.DType() == dtypes.Float16 {
			inputs[ii] = float16ToFloat32(input)
		}
	}
	outputShape := node.Shape()
	computeShape := outputShape
	if outputShape.DType == dtypes.Float16 {
		computeShape = outputShape.WithDType(dtypes.Float32)
	}
	output := tensors.FromShape(computeShape)
	if err := b.compute(node, inputs, output); err != nil {
		return nil, err
	}
	if outputShape.DType == dtypes.Float16 {
		output = float32ToFloat16(output)
	}
	return output, nil
}

func float16ToFloat32(t *tensors.Tensor) *tensors.Tensor {
	flat := tensors.FlatData[float16.Float16](t)
	converted := make([]float32, len(flat))
	for ii, v := range flat {
		converted[ii] = v.Float32()
	}
	return tensors.FromFlatDataAndDimensions(converted, t.Shape().Dimensions...)
}

func float32ToFloat16(t *tensors.Tensor) *tensors.Tensor {
	flat := tensors.FlatData[float32](t)
	converted := make([]float16.Float16, len(flat))
	for ii, v := range flat {
		converted[ii] = float16.Fromfloat32(v)
	}
	return tensors.FromFlatDataAndDimensions(converted, t.Shape().Dimensions...)
}

func (b *Backend) compute(node *graph.Node, inputs []*tensors.Tensor, output *tensors.Tensor) error {
	pool := b.pool
	switch node.Type() {
	case graph.NodeTypeConvert:
		return convert(inputs[0], output)

	case graph.NodeTypeNeg, graph.NodeTypeAbs, graph.NodeTypeSign,
		graph.NodeTypeExp, graph.NodeTypeLog, graph.NodeTypeSqrt, graph.NodeTypeTanh:
		switch flat := inputs[0].Flat().(type) {
		case []float32:
			return unaryFloat(pool, node.Type(), flat, output.Flat().([]float32))
		case []float64:
			return unaryFloat(pool, node.Type(), flat, output.Flat().([]float64))
		case []int32:
			return unaryNumber(pool, node.Type(), flat, output.Flat().([]int32))
		case []int64:
			return unaryNumber(pool, node.Type(), flat, output.Flat().([]int64))
		}

	case graph.NodeTypeAdd, graph.NodeTypeSub, graph.NodeTypeMul, graph.NodeTypeDiv,
		graph.NodeTypeMax, graph.NodeTypeMin:
		switch lhs := inputs[0].Flat().(type) {
		case []float32:
			return binary(pool, node.Type(), lhs, inputs[1].Flat().([]float32), output.Flat().([]float32))
		case []float64:
			return binary(pool, node.Type(), lhs, inputs[1].Flat().([]float64), output.Flat().([]float64))
		case []int32:
			return binary(pool, node.Type(), lhs, inputs[1].Flat().([]int32), output.Flat().([]int32))
		case []int64:
			return binary(pool, node.Type(), lhs, inputs[1].Flat().([]int64), output.Flat().([]int64))
		}

	case graph.NodeTypeEqual, graph.NodeTypeGreater, graph.NodeTypeGreaterOrEqual,
		graph.NodeTypeLess, graph.NodeTypeLessOrEqual:
		out := output.Flat().([]bool)
		switch lhs := inputs[0].Flat().(type) {
		case []float32:
			return compare(pool, node.Type(), lhs, inputs[1].Flat().([]float32), out)
		case []float64:
			return compare(pool, node.Type(), lhs, inputs[1].Flat().([]float64), out)
		case []int32:
			return compare(pool, node.Type(), lhs, inputs[1].Flat().([]int32), out)
		case []int64:
			return compare(pool, node.Type(), lhs, inputs[1].Flat().([]int64), out)
		case []bool:
			kernels.Binary(pool, lhs, inputs[1].Flat().([]bool), out, kernels.Equal[bool])
			return nil
		}

	case graph.NodeTypeSelect:
		condition := inputs[0].Flat().([]bool)
		switch onTrue := inputs[1].Flat().(type) {
		case []float32:
			kernels.Select(pool, condition, onTrue, inputs[2].Flat().([]float32), output.Flat().([]float32))
		case []float64:
			kernels.Select(pool, condition, onTrue, inputs[2].Flat().([]float64), output.Flat().([]float64))
		case []int32:
			kernels.Select(pool, condition, onTrue, inputs[2].Flat().([]int32), output.Flat().([]int32))
		case []int64:
			kernels.Select(pool, condition, onTrue, inputs[2].Flat().([]int64), output.Flat().([]int64))
		case []bool:
			kernels.Select(pool, condition, onTrue, inputs[2].Flat().([]bool), output.Flat().([]bool))
		}
		return nil

	case graph.NodeTypeReduceSum, graph.NodeTypeReduceProduct, graph.NodeTypeReduceMax:
		dims, axes := inputs[0].Shape().Dimensions, node.ReduceAxes()
		switch flat := inputs[0].Flat().(type) {
		case []float32:
			return reduce(node.Type(), flat, dims, axes, output.Flat().([]float32))
		case []float64:
			return reduce(node.Type(), flat, dims, axes, output.Flat().([]float64))
		case []int32:
			return reduce(node.Type(), flat, dims, axes, output.Flat().([]int32))
		case []int64:
			return reduce(node.Type(), flat, dims, axes, output.Flat().([]int64))
		}

	case graph.NodeTypeBroadcast, graph.NodeTypeReshape, graph.NodeTypeTranspose:
		switch flat := inputs[0].Flat().(type) {
		case []float32:
			layout(node, flat, inputs[0].Shape().Dimensions, output.Flat().([]float32))
		case []float64:
			layout(node, flat, inputs[0].Shape().Dimensions, output.Flat().([]float64))
		case []int32:
			layout(node, flat, inputs[0].Shape().Dimensions, output.Flat().([]int32))
		case []int64:
			layout(node, flat, inputs[0].Shape().Dimensions, output.Flat().([]int64))
		case []bool:
			layout(node, flat, inputs[0].Shape().Dimensions, output.Flat().([]bool))
		}
		return nil

	case graph.NodeTypeDot:
		m, k := inputs[0].Shape().Dimensions[0], inputs[0].Shape().Dimensions[1]
		n := inputs[1].Shape().Dimensions[1]
		switch lhs := inputs[0].Flat().(type) {
		case []float32:
			kernels.Dot(lhs, inputs[1].Flat().([]float32), output.Flat().([]float32), m, k, n)
		case []float64:
			kernels.Dot(lhs, inputs[1].Flat().([]float64), output.Flat().([]float64), m, k, n)
		case []int32:
			kernels.Dot(lhs, inputs[1].Flat().([]int32), output.Flat().([]int32), m, k, n)
		case []int64:
			kernels.Dot(lhs, inputs[1].Flat().([]int64), output.Flat().([]int64), m, k, n)
		}
		return nil

	case graph.NodeTypeConvolution, graph.NodeTypeConvolutionBias,
		graph.NodeTypeConvolutionAdd, graph.NodeTypeConvolutionBiasAdd:
		return b.convolution(node, inputs, output)
	}
	return errors.Errorf("interpreter: operation %s not supported for dtype %s", node.Type(), inputs[0].DType())
}

func unaryNumber[T int32 | int64](pool *workerspool.Pool, nodeType graph.NodeType, input, output []T) error {
	var fn func(T) T
	switch nodeType {
	case graph.NodeTypeNeg:
		fn = kernels.Neg[T]
	case graph.NodeTypeAbs:
		fn = kernels.Abs[T]
	case graph.NodeTypeSign:
		fn = kernels.Sign[T]
	default:
		return errors.Errorf("interpreter: %s not supported for integers", nodeType)
	}
	kernels.Unary(pool, input, output, fn)
	return nil
}

func unaryFloat[T float32 | float64](pool *workerspool.Pool, nodeType graph.NodeType, input, output []T) error {
	var fn func(T) T
	switch nodeType {
	case graph.NodeTypeNeg:
		fn = kernels.Neg[T]
	case graph.NodeTypeAbs:
		fn = kernels.Abs[T]
	case graph.NodeTypeSign:
		fn = kernels.Sign[T]
	case graph.NodeTypeExp:
		fn = kernels.Exp[T]
	case graph.NodeTypeLog:
		fn = kernels.Log[T]
	case graph.NodeTypeSqrt:
		fn = kernels.Sqrt[T]
	case graph.NodeTypeTanh:
		fn = kernels.Tanh[T]
	}
	kernels.Unary(pool, input, output, fn)
	return nil
}

func binary[T float32 | float64 | int32 | int64](pool *workerspool.Pool, nodeType graph.NodeType, lhs, rhs, output []T) error {
	var fn func(x, y T) T
	switch nodeType {
	case graph.NodeTypeAdd:
		fn = kernels.Add[T]
	case graph.NodeTypeSub:
		fn = kernels.Sub[T]
	case graph.NodeTypeMul:
		fn = kernels.Mul[T]
	case graph.NodeTypeDiv:
		fn = kernels.Div[T]
	case graph.NodeTypeMax:
		fn = kernels.Max[T]
	case graph.NodeTypeMin:
		fn = kernels.Min[T]
	}
	if nodeType == graph.NodeTypeDiv && isInteger[T]() {
		for _, y := range rhs {
			if y == 0 {
				return errors.New("interpreter: integer division by zero")
			}
		}
	}
	kernels.Binary(pool, lhs, rhs, output, fn)
	return nil
}

func isInteger[T float32 | float64 | int32 | int64]() bool {
	switch any(T(0)).(type) {
	case int32, int64:
		return true
	}
	return false
}

func compare[T float32 | float64 | int32 | int64](pool *workerspool.Pool, nodeType graph.NodeType, lhs, rhs []T, output []bool) error {
	var fn func(x, y T) bool
	switch nodeType {
	case graph.NodeTypeEqual:
		fn = kernels.Equal[T]
	case graph.NodeTypeGreater:
		fn = kernels.Greater[T]
	case graph.NodeTypeGreaterOrEqual:
		fn = kernels.GreaterOrEqual[T]
	case graph.NodeTypeLess:
		fn = kernels.Less[T]
	case graph.NodeTypeLessOrEqual:
		fn = kernels.LessOrEqual[T]
	}
	kernels.Binary(pool, lhs, rhs, output, fn)
	return nil
}

func reduce[T float32 | float64 | int32 | int64](nodeType graph.NodeType, input []T, dims, axes []int, output []T) error {
	switch nodeType {
	case graph.NodeTypeReduceSum:
		kernels.ReduceSum(input, dims, axes, output)
	case graph.NodeTypeReduceProduct:
		kernels.ReduceProduct(input, dims, axes, output)
	case graph.NodeTypeReduceMax:
		kernels.ReduceMax(input, dims, axes, output)
	}
	return nil
}

func layout[T kernels.Supported](node *graph.Node, input []T, inputDims []int, output []T) {
	switch node.Type() {
	case graph.NodeTypeBroadcast:
		kernels.Broadcast(input, inputDims, output, node.Shape().Dimensions, node.BroadcastAxes())
	case graph.NodeTypeReshape:
		kernels.Reshape(input, output)
	case graph.NodeTypeTranspose:
		kernels.Transpose(input, inputDims, output, node.Permutation())
	}
}

// convert input to the dtype of output, which is never Float16 (computed in float32).
func convert(input, output *tensors.Tensor) error {
	switch out := output.Flat().(type) {
	case []float32:
		return convertTo(input, out)
	case []float64:
		return convertTo(input, out)
	case []int32:
		return convertTo(input, out)
	case []int64:
		return convertTo(input, out)
	case []bool:
		values := input.ToFloat64()
		for ii, v := range values {
			out[ii] = v != 0
		}
		return nil
	}
	return errors.Errorf("interpreter: Convert to %s not supported", output.DType())
}

func convertTo[Out float32 | float64 | int32 | int64](input *tensors.Tensor, output []Out) error {
	switch in := input.Flat().(type) {
	case []float32:
		kernels.Convert(in, output)
	case []float64:
		kernels.Convert(in, output)
	case []int32:
		kernels.Convert(in, output)
	case []int64:
		kernels.Convert(in, output)
	case []bool:
		for ii, v := range in {
			if v {
				output[ii] = 1
			} else {
				output[ii] = 0
			}
		}
	default:
		return errors.Errorf("interpreter: Convert from %s not supported", input.DType())
	}
	return nil
}

func (b *Backend) convolution(node *graph.Node, inputs []*tensors.Tensor, output *tensors.Tensor) error {
	config, _ := node.ConvolutionConfig()
	params := kernels.ConvolutionParams{
		DataDims:    inputs[0].Shape().Dimensions,
		FiltersDims: inputs[1].Shape().Dimensions,
		OutputDims:  output.Shape().Dimensions,
		Config:      config,
	}
	var bias, sum *tensors.Tensor
	switch node.Type() {
	case graph.NodeTypeConvolutionBias:
		bias = inputs[2]
	case graph.NodeTypeConvolutionAdd:
		sum = inputs[2]
	case graph.NodeTypeConvolutionBiasAdd:
		bias, sum = inputs[2], inputs[3]
	}
	switch out := output.Flat().(type) {
	case []float32:
		kernels.Convolution(b.pool, params, inputs[0].Flat().([]float32), inputs[1].Flat().([]float32),
			optionalFlat[float32](bias), optionalFlat[float32](sum), out)
	case []float64:
		kernels.Convolution(b.pool, params, inputs[0].Flat().([]float64), inputs[1].Flat().([]float64),
			optionalFlat[float64](bias), optionalFlat[float64](sum), out)
	default:
		return errors.Errorf("interpreter: %s not supported for dtype %s", node.Type(), output.DType())
	}
	return nil
}

func optionalFlat[T float32 | float64](t *tensors.Tensor) []T {
	if t == nil {
		return nil
	}
	return tensors.FlatData[T](t)
}
