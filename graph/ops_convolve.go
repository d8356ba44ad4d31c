// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/gomlx/graphcore/backends/shapeinference"
)

// Convolution of data, shaped [batch, inputChannels, spatial...], with filters, shaped
// [outputChannels, inputChannels, spatial...]. The result is shaped [batch, outputChannels, spatial...].
//
// config holds the strides, dilations and paddings per spatial axis; nil fields take the default values.
// See shapeinference.ConvolutionOp for the output dimensions. Use Convolve for a builder interface.
func Convolution(data, filters *Node, config shapeinference.ConvolutionConfig) *Node {
	return newNode(NodeTypeConvolution, newConvolutionParams(config), []*Node{data, filters})
}

// ConvolutionBias is a Convolution followed by the addition of bias, shaped [outputChannels], to every
// output channel.
func ConvolutionBias(data, filters, bias *Node, config shapeinference.ConvolutionConfig) *Node {
	return newNode(NodeTypeConvolutionBias, newConvolutionParams(config), []*Node{data, filters, bias})
}

// ConvolutionAdd is a Convolution followed by the addition of sum, which must have the output shape.
func ConvolutionAdd(data, filters, sum *Node, config shapeinference.ConvolutionConfig) *Node {
	return newNode(NodeTypeConvolutionAdd, newConvolutionParams(config), []*Node{data, filters, sum})
}

// ConvolutionBiasAdd is a ConvolutionBias followed by the addition of sum, which must have the output shape.
func ConvolutionBiasAdd(data, filters, bias, sum *Node, config shapeinference.ConvolutionConfig) *Node {
	return newNode(NodeTypeConvolutionBiasAdd, newConvolutionParams(config), []*Node{data, filters, bias, sum})
}

// ConvolutionBiasFromConvolution creates a ConvolutionBias with the same inputs and configuration as
// the Convolution node conv, plus bias.
func ConvolutionBiasFromConvolution(conv, bias *Node) *Node {
	assertNodeType(conv, NodeTypeConvolution, "ConvolutionBiasFromConvolution")
	return newNode(NodeTypeConvolutionBias, conv.params, []*Node{conv.Input(0), conv.Input(1), bias})
}

// ConvolutionAddFromConvolution creates a ConvolutionAdd with the same inputs and configuration as
// the Convolution node conv, plus sum.
func ConvolutionAddFromConvolution(conv, sum *Node) *Node {
	assertNodeType(conv, NodeTypeConvolution, "ConvolutionAddFromConvolution")
	return newNode(NodeTypeConvolutionAdd, conv.params, []*Node{conv.Input(0), conv.Input(1), sum})
}

// ConvolutionBiasAddFromConvolutionBias creates a ConvolutionBiasAdd with the same inputs and configuration as
// the ConvolutionBias node convBias, plus sum.
func ConvolutionBiasAddFromConvolutionBias(convBias, sum *Node) *Node {
	assertNodeType(convBias, NodeTypeConvolutionBias, "ConvolutionBiasAddFromConvolutionBias")
	return newNode(NodeTypeConvolutionBiasAdd, convBias.params,
		[]*Node{convBias.Input(0), convBias.Input(1), convBias.Input(2), sum})
}

func assertNodeType(node *Node, nodeType NodeType, caller string) {
	if node == nil || node.Type() != nodeType {
		panicf(ErrArity, "%s requires a %s node, got %s", caller, nodeType, node)
	}
}

func newConvolutionParams(config shapeinference.ConvolutionConfig) *convolutionParams {
	return &convolutionParams{
		config: shapeinference.ConvolutionConfig{
			WindowMovementStrides: slices.Clone(config.WindowMovementStrides),
			WindowDilationStrides: slices.Clone(config.WindowDilationStrides),
			PaddingBelow:          slices.Clone(config.PaddingBelow),
			PaddingAbove:          slices.Clone(config.PaddingAbove),
			DataDilationStrides:   slices.Clone(config.DataDilationStrides),
		},
		axes: shapeinference.DefaultConvolutionAxes,
	}
}

// ConvolutionBuilder configures a convolution, see Convolve.
type ConvolutionBuilder struct {
	data, filters, bias *Node
	config              shapeinference.ConvolutionConfig
}

// Convolve prepares a convolution of data with filters, in the layout of Convolution.
// Configure it with the builder methods and call Done to create the node. Example:
//
//	output := Convolve(images, filters).Strides(2).PadSame().Done()
func Convolve(data, filters *Node) *ConvolutionBuilder {
	return &ConvolutionBuilder{data: data, filters: filters}
}

func (conv *ConvolutionBuilder) numSpatial() int {
	return max(conv.data.Rank()-2, 0)
}

func repeated(value, n int) []int {
	values := make([]int, n)
	for ii := range values {
		values[ii] = value
	}
	return values
}

// Strides sets the same window movement stride for all spatial axes.
func (conv *ConvolutionBuilder) Strides(stride int) *ConvolutionBuilder {
	conv.config.WindowMovementStrides = repeated(stride, conv.numSpatial())
	return conv
}

// StridePerAxis sets the window movement stride for each spatial axis.
func (conv *ConvolutionBuilder) StridePerAxis(strides ...int) *ConvolutionBuilder {
	conv.config.WindowMovementStrides = strides
	return conv
}

// Dilations sets the same window (filter) dilation for all spatial axes.
func (conv *ConvolutionBuilder) Dilations(dilation int) *ConvolutionBuilder {
	conv.config.WindowDilationStrides = repeated(dilation, conv.numSpatial())
	return conv
}

// DataDilations sets the same data (input) dilation for all spatial axes.
func (conv *ConvolutionBuilder) DataDilations(dilation int) *ConvolutionBuilder {
	conv.config.DataDilationStrides = repeated(dilation, conv.numSpatial())
	return conv
}

// Padding sets explicit padding below and above for each spatial axis. Negative values crop the data.
func (conv *ConvolutionBuilder) Padding(below, above []int) *ConvolutionBuilder {
	conv.config.PaddingBelow = below
	conv.config.PaddingAbove = above
	return conv
}

// NoPadding removes any padding. This is the default.
func (conv *ConvolutionBuilder) NoPadding() *ConvolutionBuilder {
	conv.config.PaddingBelow = nil
	conv.config.PaddingAbove = nil
	return conv
}

// PadSame pads the data so that, with stride 1, the output has the same spatial dimensions as the data.
// It uses the currently configured dilations, so call it after Dilations.
func (conv *ConvolutionBuilder) PadSame() *ConvolutionBuilder {
	numSpatial := conv.numSpatial()
	filterSpatial := shapeinference.SpatialAxes(conv.filters.Rank(),
		shapeinference.DefaultConvolutionAxes.FiltersInputChannels, shapeinference.DefaultConvolutionAxes.FiltersOutputChannels)
	if len(filterSpatial) != numSpatial ||
		(conv.config.WindowDilationStrides != nil && len(conv.config.WindowDilationStrides) != numSpatial) {
		// Invalid ranks are reported by Done.
		return conv
	}
	full := conv.config.WithDefaults(numSpatial)
	conv.config.PaddingBelow = make([]int, numSpatial)
	conv.config.PaddingAbove = make([]int, numSpatial)
	for ii := range numSpatial {
		window := (conv.filters.Shape().Dimensions[filterSpatial[ii]]-1)*full.WindowDilationStrides[ii] + 1
		total := window - 1
		conv.config.PaddingBelow[ii] = total / 2
		conv.config.PaddingAbove[ii] = total - total/2
	}
	return conv
}

// Bias adds bias, shaped [outputChannels], to the result of the convolution.
func (conv *ConvolutionBuilder) Bias(bias *Node) *ConvolutionBuilder {
	conv.bias = bias
	return conv
}

// Done creates the convolution node.
func (conv *ConvolutionBuilder) Done() *Node {
	if conv.bias != nil {
		return ConvolutionBias(conv.data, conv.filters, conv.bias, conv.config)
	}
	return Convolution(conv.data, conv.filters, conv.config)
}
