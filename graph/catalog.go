// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/graphcore/backends/shapeinference"
	"github.com/gomlx/graphcore/types/shapes"
	"github.com/gomlx/graphcore/types/tensors"
	"github.com/pkg/errors"
)

// shapeFn infers the output shape of an operation from its parameters and the shapes of its inputs.
// The number of inputs is already validated.
type shapeFn func(params any, inputs []shapes.Shape) (shapes.Shape, error)

// opDef holds the catalog entry of a NodeType. The gradient rules are kept separately, in vjpRegistration.
type opDef struct {
	arity   int
	shapeFn shapeFn
}

var catalog = [NodeTypeLast]*opDef{
	NodeTypeParameter: {0, func(params any, _ []shapes.Shape) (shapes.Shape, error) {
		return params.(*parameterParams).shape.Clone(), nil
	}},
	NodeTypeConstant: {0, func(params any, _ []shapes.Shape) (shapes.Shape, error) {
		return params.(*constantParams).tensor.Shape().Clone(), nil
	}},
	NodeTypeConvert: {1, func(params any, inputs []shapes.Shape) (shapes.Shape, error) {
		return shapeinference.ConvertOp(inputs[0], params.(*convertParams).dtype)
	}},

	NodeTypeNeg:  {1, unaryShape("Neg", shapeinference.CheckSigned)},
	NodeTypeAbs:  {1, unaryShape("Abs", shapeinference.CheckNumber)},
	NodeTypeSign: {1, unaryShape("Sign", shapeinference.CheckNumber)},
	NodeTypeExp:  {1, unaryShape("Exp", shapeinference.CheckFloat)},
	NodeTypeLog:  {1, unaryShape("Log", shapeinference.CheckFloat)},
	NodeTypeSqrt: {1, unaryShape("Sqrt", shapeinference.CheckFloat)},
	NodeTypeTanh: {1, unaryShape("Tanh", shapeinference.CheckFloat)},

	NodeTypeAdd: {2, binaryShape("Add")},
	NodeTypeSub: {2, binaryShape("Sub")},
	NodeTypeMul: {2, binaryShape("Mul")},
	NodeTypeDiv: {2, binaryShape("Div")},
	NodeTypeMax: {2, binaryShape("Max")},
	NodeTypeMin: {2, binaryShape("Min")},

	NodeTypeEqual:          {2, comparisonShape("Equal", false)},
	NodeTypeGreater:        {2, comparisonShape("Greater", true)},
	NodeTypeGreaterOrEqual: {2, comparisonShape("GreaterOrEqual", true)},
	NodeTypeLess:           {2, comparisonShape("Less", true)},
	NodeTypeLessOrEqual:    {2, comparisonShape("LessOrEqual", true)},
	NodeTypeSelect: {3, func(_ any, inputs []shapes.Shape) (shapes.Shape, error) {
		return shapeinference.SelectOp(inputs[0], inputs[1], inputs[2])
	}},

	NodeTypeReduceSum:     {1, reduceShape("ReduceSum")},
	NodeTypeReduceProduct: {1, reduceShape("ReduceProduct")},
	NodeTypeReduceMax:     {1, reduceShape("ReduceMax")},

	NodeTypeBroadcast: {1, func(params any, inputs []shapes.Shape) (shapes.Shape, error) {
		p := params.(*broadcastParams)
		return shapeinference.BroadcastOp(inputs[0], p.dimensions, p.axes)
	}},
	NodeTypeReshape: {1, func(params any, inputs []shapes.Shape) (shapes.Shape, error) {
		return shapeinference.ReshapeOp(inputs[0], params.(*reshapeParams).dimensions)
	}},
	NodeTypeTranspose: {1, func(params any, inputs []shapes.Shape) (shapes.Shape, error) {
		return shapeinference.TransposeOp(inputs[0], params.(*transposeParams).permutation)
	}},
	NodeTypeDot: {2, func(_ any, inputs []shapes.Shape) (shapes.Shape, error) {
		output, err := shapeinference.DotOp(inputs[0], inputs[1])
		if err != nil {
			return output, err
		}
		return output, shapeinference.CheckNumber("Dot", output)
	}},

	NodeTypeConvolution:        {2, convolutionShape(false, false)},
	NodeTypeConvolutionBias:    {3, convolutionShape(true, false)},
	NodeTypeConvolutionAdd:     {3, convolutionShape(false, true)},
	NodeTypeConvolutionBiasAdd: {4, convolutionShape(true, true)},
}

func unaryShape(opName string, check func(string, shapes.Shape) error) shapeFn {
	return func(_ any, inputs []shapes.Shape) (shapes.Shape, error) {
		output, err := shapeinference.UnaryOp(opName, inputs[0])
		if err != nil {
			return output, err
		}
		if err = check(opName, output); err != nil {
			return shapes.Invalid(), err
		}
		return output, nil
	}
}

func binaryShape(opName string) shapeFn {
	return func(_ any, inputs []shapes.Shape) (shapes.Shape, error) {
		output, err := shapeinference.BinaryOp(opName, inputs[0], inputs[1])
		if err != nil {
			return output, err
		}
		if err = shapeinference.CheckNumber(opName, output); err != nil {
			return shapes.Invalid(), err
		}
		return output, nil
	}
}

func comparisonShape(opName string, numbersOnly bool) shapeFn {
	return func(_ any, inputs []shapes.Shape) (shapes.Shape, error) {
		output, err := shapeinference.ComparisonOp(opName, inputs[0], inputs[1])
		if err != nil {
			return output, err
		}
		if numbersOnly {
			if err = shapeinference.CheckNumber(opName, inputs[0]); err != nil {
				return shapes.Invalid(), err
			}
		}
		return output, nil
	}
}

func reduceShape(opName string) shapeFn {
	return func(params any, inputs []shapes.Shape) (shapes.Shape, error) {
		if err := shapeinference.CheckNumber(opName, inputs[0]); err != nil {
			return shapes.Invalid(), err
		}
		return shapeinference.ReduceOp(inputs[0], params.(*reduceParams).axes)
	}
}

// convolutionShape returns the shape function of the convolution family: inputs are data and filters,
// optionally followed by a bias (one value per output channel) and optionally by a sum (with the output shape).
func convolutionShape(withBias, withSum bool) shapeFn {
	return func(params any, inputs []shapes.Shape) (shapes.Shape, error) {
		p := params.(*convolutionParams)
		data, filters := inputs[0], inputs[1]
		if err := shapeinference.CheckFloat("Convolution", data); err != nil {
			return shapes.Invalid(), err
		}
		output, err := shapeinference.ConvolutionOp(data, filters, p.config, p.axes)
		if err != nil {
			return output, err
		}
		next := 2
		if withBias {
			bias := inputs[next]
			next++
			if bias.DType != output.DType {
				return shapes.Invalid(), errors.Wrapf(ErrTypeMismatch, "convolution bias %s must have the same dtype as the output %s", bias, output)
			}
			numChannels := output.Dimensions[p.axes.ResultOutputChannels]
			if bias.Rank() != 1 || bias.Dimensions[0] != numChannels {
				return shapes.Invalid(), errors.Wrapf(ErrShapeInference, "convolution bias %s must be shaped [%d] (one value per output channel)", bias, numChannels)
			}
		}
		if withSum {
			sum := inputs[next]
			if sum.DType != output.DType {
				return shapes.Invalid(), errors.Wrapf(ErrTypeMismatch, "convolution sum %s must have the same dtype as the output %s", sum, output)
			}
			if !sum.EqualDimensions(output) {
				return shapes.Invalid(), errors.Wrapf(ErrShapeInference, "convolution sum %s must have the output shape %s", sum, output)
			}
		}
		return output, nil
	}
}

// Parameters of the operations that have them.

type parameterParams struct {
	name  string
	shape shapes.Shape
}

func (p *parameterParams) String() string { return fmt.Sprintf("%q", p.name) }

type constantParams struct {
	tensor *tensors.Tensor
}

func (p *constantParams) String() string { return p.tensor.String() }

type convertParams struct {
	dtype dtypes.DType
}

func (p *convertParams) String() string { return p.dtype.String() }

type reduceParams struct {
	axes []int
}

func (p *reduceParams) String() string { return fmt.Sprintf("axes=%v", p.axes) }

type broadcastParams struct {
	dimensions, axes []int
}

func (p *broadcastParams) String() string {
	return fmt.Sprintf("dims=%v, broadcastAxes=%v", p.dimensions, p.axes)
}

type reshapeParams struct {
	dimensions []int
}

func (p *reshapeParams) String() string { return fmt.Sprintf("dims=%v", p.dimensions) }

type transposeParams struct {
	permutation []int
}

func (p *transposeParams) String() string { return fmt.Sprintf("permutation=%v", p.permutation) }

type convolutionParams struct {
	config shapeinference.ConvolutionConfig
	axes   shapeinference.ConvolutionAxes
}

func (p *convolutionParams) String() string {
	c := p.config
	return fmt.Sprintf("strides=%v, windowDilations=%v, padBelow=%v, padAbove=%v, dataDilations=%v",
		c.WindowMovementStrides, c.WindowDilationStrides, c.PaddingBelow, c.PaddingAbove, c.DataDilationStrides)
}
