// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"github.com/gomlx/graphcore/backends"
	"github.com/gomlx/graphcore/graph"
	"github.com/gomlx/graphcore/types/tensors"
	"github.com/pkg/errors"
)

// Executable evaluates a graph, node by node, in topological order.
type Executable struct {
	backend *Backend

	// outputs as given to Compile, and the outputs actually evaluated, after fusion.
	outputs, fused []*graph.Node

	// nodes in topological order, and the position of each in nodes.
	nodes     []*graph.Node
	nodeIndex map[*graph.Node]int

	parameters []*graph.Node

	// numUses is the number of times each node is used as input or output: once it is reached
	// during an execution, the intermediary value can be released.
	numUses []int

	finalized bool
}

// Compile-time check.
var _ backends.Executable = (*Executable)(nil)

func newExecutable(backend *Backend, outputs, fused []*graph.Node) *Executable {
	e := &Executable{
		backend:   backend,
		outputs:   outputs,
		fused:     fused,
		nodes:     graph.TopologicalSort(fused...),
		nodeIndex: make(map[*graph.Node]int),
	}
	e.numUses = make([]int, len(e.nodes))
	for ii, node := range e.nodes {
		e.nodeIndex[node] = ii
		if node.Type() == graph.NodeTypeParameter {
			e.parameters = append(e.parameters, node)
		}
		for _, input := range node.Inputs() {
			e.numUses[e.nodeIndex[input]]++
		}
	}
	for _, output := range fused {
		e.numUses[e.nodeIndex[output]]++
	}
	return e
}

// Parameters returns the Parameter nodes, in the order their values must be given to Execute.
// They are sorted by creation order.
func (e *Executable) Parameters() []*graph.Node {
	return e.parameters
}

// Outputs returns the nodes whose values are returned by Execute, as given to Compile.
func (e *Executable) Outputs() []*graph.Node {
	return e.outputs
}

// Finalize releases the executable. Execute can no longer be called.
func (e *Executable) Finalize() {
	e.finalized = true
	e.nodes = nil
	e.nodeIndex = nil
}

// Execute the graph with the given values for the parameters, one tensor per output.
func (e *Executable) Execute(inputs ...*tensors.Tensor) ([]*tensors.Tensor, error) {
	if e.finalized {
		return nil, errors.New("interpreter: Execute called on a finalized executable")
	}
	if len(inputs) != len(e.parameters) {
		return nil, errors.Errorf("interpreter: Execute got %d inputs, but the computation has %d parameters", len(inputs), len(e.parameters))
	}
	values := make([]*tensors.Tensor, len(e.nodes))
	for ii, parameter := range e.parameters {
		input := inputs[ii]
		if input == nil {
			return nil, errors.Errorf("interpreter: input #%d for parameter %q is nil", ii, parameter.ParameterName())
		}
		if !input.Shape().Equal(parameter.Shape()) {
			return nil, errors.Errorf("interpreter: input #%d for parameter %q has shape %s, wanted %s",
				ii, parameter.ParameterName(), input.Shape(), parameter.Shape())
		}
		values[e.nodeIndex[parameter]] = input
	}

	pending := make([]int, len(e.numUses))
	copy(pending, e.numUses)
	for ii, node := range e.nodes {
		if node.Type() == graph.NodeTypeParameter {
			continue
		}
		nodeInputs := make([]*tensors.Tensor, node.NumInputs())
		for inputIdx, input := range node.Inputs() {
			nodeInputs[inputIdx] = values[e.nodeIndex[input]]
		}
		value, err := e.backend.evalNode(node, nodeInputs)
		if err != nil {
			return nil, errors.WithMessagef(err, "interpreter: failed to evaluate %s", node)
		}
		values[ii] = value

		// Release intermediary values no longer needed.
		for _, input := range node.Inputs() {
			inputIdx := e.nodeIndex[input]
			pending[inputIdx]--
			if pending[inputIdx] == 0 {
				values[inputIdx] = nil
			}
		}
	}

	results := make([]*tensors.Tensor, len(e.fused))
	for ii, output := range e.fused {
		value := values[e.nodeIndex[output]]
		if output.NumInputs() == 0 {
			// Don't hand out the caller's or the graph's own tensors.
			value = value.Clone()
		}
		results[ii] = value
	}
	return results, nil
}
