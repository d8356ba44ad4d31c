// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import "fmt"

// NodeType identifies the operation performed by a Node. It is a closed set: the rules for each
// type (number of inputs, shape inference and gradient) are defined in the operation catalog.
type NodeType int

const (
	NodeTypeInvalid NodeType = iota
	NodeTypeParameter
	NodeTypeConstant
	NodeTypeConvert

	NodeTypeNeg
	NodeTypeAbs
	NodeTypeSign
	NodeTypeExp
	NodeTypeLog
	NodeTypeSqrt
	NodeTypeTanh

	NodeTypeAdd
	NodeTypeSub
	NodeTypeMul
	NodeTypeDiv
	NodeTypeMax
	NodeTypeMin

	NodeTypeEqual
	NodeTypeGreater
	NodeTypeGreaterOrEqual
	NodeTypeLess
	NodeTypeLessOrEqual
	NodeTypeSelect

	NodeTypeReduceSum
	NodeTypeReduceProduct
	NodeTypeReduceMax

	NodeTypeBroadcast
	NodeTypeReshape
	NodeTypeTranspose
	NodeTypeDot

	NodeTypeConvolution
	NodeTypeConvolutionBias
	NodeTypeConvolutionAdd
	NodeTypeConvolutionBiasAdd

	// NodeTypeLast is a marker for the number of node types.
	NodeTypeLast
)

var nodeTypeNames = [...]string{
	NodeTypeInvalid:            "Invalid",
	NodeTypeParameter:          "Parameter",
	NodeTypeConstant:           "Constant",
	NodeTypeConvert:            "Convert",
	NodeTypeNeg:                "Neg",
	NodeTypeAbs:                "Abs",
	NodeTypeSign:               "Sign",
	NodeTypeExp:                "Exp",
	NodeTypeLog:                "Log",
	NodeTypeSqrt:               "Sqrt",
	NodeTypeTanh:               "Tanh",
	NodeTypeAdd:                "Add",
	NodeTypeSub:                "Sub",
	NodeTypeMul:                "Mul",
	NodeTypeDiv:                "Div",
	NodeTypeMax:                "Max",
	NodeTypeMin:                "Min",
	NodeTypeEqual:              "Equal",
	NodeTypeGreater:            "Greater",
	NodeTypeGreaterOrEqual:     "GreaterOrEqual",
	NodeTypeLess:               "Less",
	NodeTypeLessOrEqual:        "LessOrEqual",
	NodeTypeSelect:             "Select",
	NodeTypeReduceSum:          "ReduceSum",
	NodeTypeReduceProduct:      "ReduceProduct",
	NodeTypeReduceMax:          "ReduceMax",
	NodeTypeBroadcast:          "Broadcast",
	NodeTypeReshape:            "Reshape",
	NodeTypeTranspose:          "Transpose",
	NodeTypeDot:                "Dot",
	NodeTypeConvolution:        "Convolution",
	NodeTypeConvolutionBias:    "ConvolutionBias",
	NodeTypeConvolutionAdd:     "ConvolutionAdd",
	NodeTypeConvolutionBiasAdd: "ConvolutionBiasAdd",
}

// String implements fmt.Stringer.
func (t NodeType) String() string {
	if t < 0 || t >= NodeTypeLast {
		return fmt.Sprintf("NodeType(%d)", int(t))
	}
	return nodeTypeNames[t]
}
