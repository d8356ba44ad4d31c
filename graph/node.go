// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph implements the computation graph: immutable Nodes connected by edges to the nodes
// that produce their inputs, an operation catalog with the shape inference rules of each operation,
// graph rewriting and reverse-mode automatic differentiation (see Differentiate).
//
// There is no graph object: a graph is implicitly defined by a set of output nodes plus the transitive
// closure of their inputs. Nodes only reference their inputs (never their consumers), so they are
// released by the garbage collector once nothing references them.
//
// Operations are validated when they are built: the wrong number of inputs, incompatible data types
// or incompatible shapes panic with an error wrapping ErrArity, ErrTypeMismatch or ErrShapeInference.
// Use TryBuild to convert them back to errors.
package graph

import (
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/graphcore/backends/shapeinference"
	"github.com/gomlx/graphcore/types"
	"github.com/gomlx/graphcore/types/shapes"
	"github.com/gomlx/graphcore/types/tensors"
	"github.com/pkg/errors"
)

// NodeId is the process-wide unique id of a Node. Ids are assigned in construction order, so a node
// always has a larger id than any of its inputs.
type NodeId uint64

// nextNodeId is the id given to the last node created.
var nextNodeId atomic.Uint64

// Edge connects a node to the output of the node producing one of its inputs.
//
// All operations in the catalog have one output, so OutputIndex is always 0.
type Edge struct {
	Producer    *Node
	OutputIndex int
}

// Node is one operation in the computation graph. It is immutable: graph edits build new nodes,
// see Rebuild.
type Node struct {
	id     NodeId
	opType NodeType
	inputs []Edge
	params any
	shape  shapes.Shape
}

// newNode is the one path through which all nodes are created: it validates the inputs against
// the catalog and infers the output shape. It panics on error.
func newNode(opType NodeType, params any, inputs []*Node) *Node {
	if opType <= NodeTypeInvalid || opType >= NodeTypeLast || catalog[opType] == nil {
		exceptions.Panicf("invalid node type %s", opType)
	}
	def := catalog[opType]
	if len(inputs) != def.arity {
		panicf(ErrArity, "%s takes %d inputs, got %d", opType, def.arity, len(inputs))
	}
	inputShapes := make([]shapes.Shape, len(inputs))
	edges := make([]Edge, len(inputs))
	for ii, input := range inputs {
		if input == nil {
			panicf(ErrArity, "%s: input #%d is nil", opType, ii)
		}
		inputShapes[ii] = input.shape
		edges[ii] = Edge{Producer: input}
	}
	shape, err := def.shapeFn(params, inputShapes)
	if err != nil {
		panic(errors.WithMessagef(err, "building %s", opType))
	}
	return &Node{
		id:     NodeId(nextNodeId.Add(1)),
		opType: opType,
		inputs: edges,
		params: params,
		shape:  shape,
	}
}

// Id is the unique id of the node.
func (n *Node) Id() NodeId {
	return n.id
}

// Type identifies the operation performed by the node.
func (n *Node) Type() NodeType {
	if n == nil {
		return NodeTypeInvalid
	}
	return n.opType
}

// Shape of the node's output.
func (n *Node) Shape() shapes.Shape {
	if n == nil {
		return shapes.Invalid()
	}
	return n.shape
}

// DType returns the DType of the node's shape.
func (n *Node) DType() dtypes.DType {
	return n.shape.DType
}

// Rank returns the rank of the node's shape.
func (n *Node) Rank() int {
	return n.shape.Rank()
}

// IsScalar returns whether the node's shape is a scalar.
func (n *Node) IsScalar() bool {
	return n.shape.IsScalar()
}

// Edges returns the input edges of the node. The returned slice must not be modified.
func (n *Node) Edges() []Edge {
	return n.inputs
}

// Inputs returns the nodes producing the inputs of this node, in order.
func (n *Node) Inputs() []*Node {
	inputs := make([]*Node, len(n.inputs))
	for ii, edge := range n.inputs {
		inputs[ii] = edge.Producer
	}
	return inputs
}

// Input returns the node producing the ii-th input.
func (n *Node) Input(ii int) *Node {
	return n.inputs[ii].Producer
}

// NumInputs returns the number of inputs of the node.
func (n *Node) NumInputs() int {
	return len(n.inputs)
}

// Rebuild returns a new node with the same operation and parameters as n, but with the given inputs.
//
// The output shape is inferred again from the new inputs. It panics with ErrArity if the number of
// inputs doesn't match the operation.
func (n *Node) Rebuild(newInputs ...*Node) *Node {
	return newNode(n.opType, n.params, newInputs)
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	if n == nil {
		return "Node(nil)"
	}
	var parts []string
	for _, edge := range n.inputs {
		parts = append(parts, fmt.Sprintf("#%d", edge.Producer.id))
	}
	if s, ok := n.params.(fmt.Stringer); ok {
		parts = append(parts, s.String())
	}
	return fmt.Sprintf("#%d %s(%s) -> %s", n.id, n.opType, strings.Join(parts, ", "), n.shape)
}

// ParameterName returns the name of a Parameter node. It panics if n is not a Parameter.
func (n *Node) ParameterName() string {
	return mustParams[*parameterParams](n, "ParameterName").name
}

// ConstantValue returns the tensor held by a Constant node. It panics if n is not a Constant.
func (n *Node) ConstantValue() *tensors.Tensor {
	return mustParams[*constantParams](n, "ConstantValue").tensor
}

// ReduceAxes returns the axes reduced by a ReduceSum, ReduceProduct or ReduceMax node.
func (n *Node) ReduceAxes() []int {
	return slices.Clone(mustParams[*reduceParams](n, "ReduceAxes").axes)
}

// BroadcastAxes returns the new axes (of the output) created by a Broadcast node.
func (n *Node) BroadcastAxes() []int {
	return slices.Clone(mustParams[*broadcastParams](n, "BroadcastAxes").axes)
}

// Permutation returns the axes permutation of a Transpose node.
func (n *Node) Permutation() []int {
	return slices.Clone(mustParams[*transposeParams](n, "Permutation").permutation)
}

// ConvolutionConfig returns the window configuration, with all defaults filled, and the axes roles
// of any of the convolution nodes.
func (n *Node) ConvolutionConfig() (shapeinference.ConvolutionConfig, shapeinference.ConvolutionAxes) {
	p := mustParams[*convolutionParams](n, "ConvolutionConfig")
	return p.config.WithDefaults(n.Rank() - 2), p.axes
}

func mustParams[P any](n *Node, method string) P {
	p, ok := n.params.(P)
	if !ok {
		exceptions.Panicf("%s() not available for node %s", method, n)
	}
	return p
}

// TopologicalSort returns all nodes reachable from outputs (outputs included), ordered so that each
// node comes after all its inputs.
func TopologicalSort(outputs ...*Node) []*Node {
	visited := types.MakeSet[*Node]()
	var sorted []*Node
	worklist := make([]*Node, 0, len(outputs))
	for _, output := range outputs {
		if output != nil && !visited.Has(output) {
			visited.Insert(output)
			worklist = append(worklist, output)
		}
	}
	for len(worklist) > 0 {
		node := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		sorted = append(sorted, node)
		for _, edge := range node.inputs {
			if !visited.Has(edge.Producer) {
				visited.Insert(edge.Producer)
				worklist = append(worklist, edge.Producer)
			}
		}
	}
	// Inputs are always created before their consumers.
	slices.SortFunc(sorted, func(a, b *Node) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return sorted
}
