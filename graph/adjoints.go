// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/gomlx/exceptions"
)

// This file implements reverse-mode automatic differentiation, using VJPs (Vector Jacobian Products).
//
// Conventions:
//
//   - output: the node being differentiated.
//   - delta (or adjoint, or v): the accumulated gradient of the output with respect to a node. It always
//     has the shape of the node. Deltas flow from the output back to the inputs.
//   - seed: the delta of the output with respect to itself, given by the caller. For a scalar output it is
//     usually 1.

// Adjoints holds the deltas (gradients) of one output with respect to every node that can reach it.
// It is created by Differentiate.
type Adjoints struct {
	output *Node
	deltas map[*Node]*Node
}

// Output returns the node that was differentiated.
func (a *Adjoints) Output() *Node {
	return a.output
}

// Get returns the accumulated delta of the output with respect to node.
//
// If no gradient flows from the output to node (including when node is not an input of the output at all)
// it returns zeros shaped like node.
func (a *Adjoints) Get(node *Node) *Node {
	if delta, found := a.deltas[node]; found {
		return delta
	}
	return ZerosLike(node)
}

// Has returns whether some gradient reached node.
func (a *Adjoints) Has(node *Node) bool {
	_, found := a.deltas[node]
	return found
}

// Differentiate back-propagates seed, the delta of output, to all nodes output depends on.
// seed must have the same shape and dtype as output.
//
// Nodes are visited in decreasing NodeId order, which is a reverse topological order: by the time a
// node is visited, all its consumers already contributed to its delta. Contributions from different
// consumers are summed up.
//
// It panics with ErrNoGradient if a delta reaches a node whose operation has no gradient defined
// (e.g. the convolutions).
func Differentiate(output, seed *Node) *Adjoints {
	if output == nil || seed == nil {
		panicf(ErrArity, "Differentiate requires non-nil output and seed")
	}
	if seed.DType() != output.DType() {
		panicf(ErrTypeMismatch, "Differentiate: seed %s must have the same dtype as output %s", seed.Shape(), output.Shape())
	}
	if !seed.Shape().EqualDimensions(output.Shape()) {
		panicf(ErrShapeInference, "Differentiate: seed %s must have the same shape as output %s", seed.Shape(), output.Shape())
	}

	adjoints := &Adjoints{
		output: output,
		deltas: map[*Node]*Node{output: seed},
	}
	nodes := TopologicalSort(output)
	for _, node := range slices.Backward(nodes) {
		v, found := adjoints.deltas[node]
		if !found || node.NumInputs() == 0 {
			continue
		}
		vjpFn, ok := vjpRegistration[node.Type()]
		if !ok {
			panicf(ErrNoGradient, "gradient reached node %s, for which no gradient is defined", node)
		}
		inputsVJPs := vjpFn(node, v)
		if len(inputsVJPs) != node.NumInputs() {
			exceptions.Panicf("VJP(%s) returned %d VJPs, but it has %d inputs, implementation of auto-differentiation for node failed",
				node, len(inputsVJPs), node.NumInputs())
		}
		for ii, input := range node.Inputs() {
			vjp := inputsVJPs[ii]
			if vjp == nil {
				// No gradient flows to this input.
				continue
			}
			if !vjp.Shape().Equal(input.Shape()) {
				exceptions.Panicf("invalid gradient calculation for node %s: VJP for input #%d has shape %s, wanted %s",
					node, ii, vjp.Shape(), input.Shape())
			}
			if previous, found := adjoints.deltas[input]; found {
				adjoints.deltas[input] = Add(previous, vjp)
			} else {
				adjoints.deltas[input] = vjp
			}
		}
	}
	return adjoints
}

// Gradient returns the gradient of output with respect to each of the wrt nodes.
// The output must be a float scalar: it is differentiated with a seed of 1.
func Gradient(output *Node, wrt ...*Node) []*Node {
	if !output.IsScalar() {
		panicf(ErrShapeInference, "Gradient requires a scalar output, got %s -- use Differentiate with a seed otherwise", output.Shape())
	}
	if !output.DType().IsFloat() {
		panicf(ErrTypeMismatch, "Gradient requires a float output, got %s", output.Shape())
	}
	adjoints := Differentiate(output, OnesLike(output))
	gradients := make([]*Node, len(wrt))
	for ii, node := range wrt {
		gradients[ii] = adjoints.Get(node)
	}
	return gradients
}

// vjpFn returns the contribution of v, the delta of node, to each of node's inputs.
// A nil contribution means no gradient flows to that input.
type vjpFn func(node, v *Node) []*Node

// vjpRegistration holds the gradient rule of each differentiable node type.
// Node types missing here are not differentiable.
var vjpRegistration = map[NodeType]vjpFn{
	NodeTypeConvert: convertVJP,
	NodeTypeNeg:     func(_, v *Node) []*Node { return []*Node{Neg(v)} },
	NodeTypeAbs:     func(node, v *Node) []*Node { return []*Node{Mul(v, Sign(node.Input(0)))} },
	NodeTypeSign:    noGradientVJP,
	NodeTypeExp:     func(node, v *Node) []*Node { return []*Node{Mul(v, node)} },
	NodeTypeLog:     func(node, v *Node) []*Node { return []*Node{Div(v, node.Input(0))} },
	NodeTypeSqrt:    func(node, v *Node) []*Node { return []*Node{Div(v, Add(node, node))} },
	NodeTypeTanh:    tanhVJP,

	NodeTypeAdd: func(_, v *Node) []*Node { return []*Node{v, v} },
	NodeTypeSub: func(_, v *Node) []*Node { return []*Node{v, Neg(v)} },
	NodeTypeMul: mulVJP,
	NodeTypeDiv: divVJP,
	NodeTypeMax: minMaxVJP,
	NodeTypeMin: minMaxVJP,

	NodeTypeEqual:          noGradientVJP,
	NodeTypeGreater:        noGradientVJP,
	NodeTypeGreaterOrEqual: noGradientVJP,
	NodeTypeLess:           noGradientVJP,
	NodeTypeLessOrEqual:    noGradientVJP,
	NodeTypeSelect:         selectVJP,

	NodeTypeReduceSum:     reduceSumVJP,
	NodeTypeReduceProduct: reduceProductVJP,
	NodeTypeReduceMax:     reduceMaxVJP,

	NodeTypeBroadcast: broadcastVJP,
	NodeTypeReshape:   func(node, v *Node) []*Node { return []*Node{Reshape(v, node.Input(0).Shape().Dimensions...)} },
	NodeTypeTranspose: transposeVJP,
	NodeTypeDot:       dotVJP,
}

// noGradientVJP is used by operations whose output is piecewise constant: no gradient flows.
func noGradientVJP(node, _ *Node) []*Node {
	return make([]*Node, node.NumInputs())
}

func convertVJP(node, v *Node) []*Node {
	x := node.Input(0)
	if !x.DType().IsFloat() || !node.DType().IsFloat() {
		return []*Node{nil}
	}
	return []*Node{Convert(v, x.DType())}
}

func tanhVJP(node, v *Node) []*Node {
	// d(tanh(x))/dx = 1 - tanh(x)^2
	return []*Node{Mul(v, Sub(OnesLike(node), Mul(node, node)))}
}

func mulVJP(node, v *Node) []*Node {
	x, y := node.Input(0), node.Input(1)
	return []*Node{Mul(v, y), Mul(v, x)}
}

func divVJP(node, v *Node) []*Node {
	x, y := node.Input(0), node.Input(1)
	return []*Node{
		Div(v, y),
		Neg(Div(Mul(v, x), Mul(y, y))),
	}
}

// minMaxVJP pushes the delta to the input that was selected, using strict comparisons:
// on ties neither input receives any gradient.
func minMaxVJP(node, v *Node) []*Node {
	x, y := node.Input(0), node.Input(1)
	compare := Greater
	if node.Type() == NodeTypeMin {
		compare = Less
	}
	dtype := node.DType()
	return []*Node{
		Mul(v, Convert(compare(x, y), dtype)),
		Mul(v, Convert(compare(y, x), dtype)),
	}
}

func selectVJP(node, v *Node) []*Node {
	condition := node.Input(0)
	zeros := ZerosLike(v)
	return []*Node{
		nil,
		Select(condition, v, zeros),
		Select(condition, zeros, v),
	}
}

// broadcastToInput broadcasts v, the delta of a reduction node, back to the shape of the reduction's input.
func broadcastToInput(node, v *Node) *Node {
	return Broadcast(v, node.Input(0).Shape().Dimensions, node.ReduceAxes())
}

func reduceSumVJP(node, v *Node) []*Node {
	return []*Node{broadcastToInput(node, v)}
}

func reduceProductVJP(node, v *Node) []*Node {
	// d(prod(x))/dx_i = prod(x) / x_i. Zeros in x yield non-finite gradients.
	x := node.Input(0)
	return []*Node{Div(Mul(broadcastToInput(node, v), broadcastToInput(node, node)), x)}
}

func reduceMaxVJP(node, v *Node) []*Node {
	// The delta goes to every element equal to the maximum.
	x := node.Input(0)
	isMax := Convert(Equal(x, broadcastToInput(node, node)), x.DType())
	return []*Node{Mul(broadcastToInput(node, v), isMax)}
}

func broadcastVJP(node, v *Node) []*Node {
	axes := node.BroadcastAxes()
	if len(axes) == 0 {
		return []*Node{v}
	}
	return []*Node{ReduceSum(v, axes...)}
}

func transposeVJP(node, v *Node) []*Node {
	permutation := node.Permutation()
	inverse := make([]int, len(permutation))
	for outputAxis, inputAxis := range permutation {
		inverse[inputAxis] = outputAxis
	}
	return []*Node{Transpose(v, inverse...)}
}

func dotVJP(node, v *Node) []*Node {
	x, y := node.Input(0), node.Input(1)
	return []*Node{
		Dot(v, Transpose(y, 1, 0)),
		Dot(Transpose(x, 1, 0), v),
	}
}
