// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import "slices"

// RewriteFn is called by Transform for each node. original is the node in the graph being transformed,
// and current is the same node rebuilt over the already transformed inputs (or original itself, if none
// of its inputs changed). It returns the node to use in its place: returning current keeps it.
type RewriteFn func(original, current *Node) *Node

// Transform rewrites the graph ending in outputs, visiting the nodes in topological order, and returns
// the transformed outputs. Nodes whose inputs were replaced are rebuilt.
//
// The original graph is not changed.
func Transform(outputs []*Node, rewrite RewriteFn) []*Node {
	replacements := make(map[*Node]*Node)
	for _, node := range TopologicalSort(outputs...) {
		current := node
		if node.NumInputs() > 0 {
			newInputs := make([]*Node, node.NumInputs())
			changed := false
			for ii, edge := range node.inputs {
				newInputs[ii] = replacements[edge.Producer]
				if newInputs[ii] != edge.Producer {
					changed = true
				}
			}
			if changed {
				current = node.Rebuild(newInputs...)
			}
		}
		if rewritten := rewrite(node, current); rewritten != nil {
			current = rewritten
		}
		replacements[node] = current
	}
	transformed := make([]*Node, len(outputs))
	for ii, output := range outputs {
		transformed[ii] = replacements[output]
	}
	return transformed
}

// ConsumersCount returns the number of uses of each node in the graph ending in outputs. Being one of
// the outputs counts as one use.
func ConsumersCount(outputs ...*Node) map[*Node]int {
	counts := make(map[*Node]int)
	for _, node := range TopologicalSort(outputs...) {
		for _, edge := range node.inputs {
			counts[edge.Producer]++
		}
	}
	for _, output := range outputs {
		counts[output]++
	}
	return counts
}

// FuseConvolutions returns the outputs of a graph where additions to the results of convolutions are
// fused into the convolution ops:
//
//   - Add(Convolution, Broadcast(bias)), with bias broadcast over all axes but the output channels, becomes ConvolutionBias.
//   - Add(Convolution, sum) becomes ConvolutionAdd.
//   - Add(ConvolutionBias, sum) becomes ConvolutionBiasAdd.
//
// The operands of Add can be in either order. A convolution is only fused if the Add is its only consumer.
func FuseConvolutions(outputs ...*Node) []*Node {
	counts := ConsumersCount(outputs...)
	return Transform(outputs, func(original, current *Node) *Node {
		if current.Type() != NodeTypeAdd {
			return current
		}
		for convIdx := range 2 {
			otherIdx := 1 - convIdx
			if counts[original.Input(convIdx)] != 1 {
				continue
			}
			conv, other := current.Input(convIdx), current.Input(otherIdx)
			switch conv.Type() {
			case NodeTypeConvolution:
				if bias := convolutionBiasOperand(conv, other); bias != nil {
					return ConvolutionBiasFromConvolution(conv, bias)
				}
				return ConvolutionAddFromConvolution(conv, other)
			case NodeTypeConvolutionBias:
				return ConvolutionBiasAddFromConvolutionBias(conv, other)
			}
		}
		return current
	})
}

// convolutionBiasOperand returns the bias, if operand is a broadcast of a bias over all axes of conv's
// output except the output channels. Otherwise, it returns nil.
func convolutionBiasOperand(conv, operand *Node) *Node {
	if operand.Type() != NodeTypeBroadcast || operand.Input(0).Rank() != 1 {
		return nil
	}
	_, axes := conv.ConvolutionConfig()
	expected := make([]int, 0, conv.Rank()-1)
	for axis := range conv.Rank() {
		if axis != axes.ResultOutputChannels {
			expected = append(expected, axis)
		}
	}
	broadcastAxes := operand.BroadcastAxes()
	slices.Sort(broadcastAxes)
	if !slices.Equal(broadcastAxes, expected) {
		return nil
	}
	return operand.Input(0)
}
