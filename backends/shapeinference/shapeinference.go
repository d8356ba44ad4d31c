// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapeinference calculates the shape resulting from operations and validates its inputs.
//
// All functions are pure: the output shape is a function only of the input shapes and the
// operation parameters. They are used by the graph op constructors, and can be used by backends
// to plan buffer space for temporary or output buffers.
//
// Errors wrap ErrTypeMismatch when operand element types are incompatible, and ErrShapeInference
// when the dimensions or the operation parameters are incompatible. Use errors.Is to tell them apart.
package shapeinference

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/graphcore/types"
	"github.com/gomlx/graphcore/types/shapes"
	"github.com/pkg/errors"
)

var (
	// ErrTypeMismatch is wrapped by errors due to incompatible element types (DType) of the operands.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrShapeInference is wrapped by errors due to invalid geometry: incompatible dimensions or
	// parameters that would yield an invalid output shape.
	ErrShapeInference = errors.New("shape inference error")
)

func typeMismatchf(format string, args ...any) error {
	return errors.Wrapf(ErrTypeMismatch, format, args...)
}

func shapeErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrShapeInference, format, args...)
}

// CheckValid returns an error if any of the shapes is invalid.
func CheckValid(opName string, operands ...shapes.Shape) error {
	for ii, operand := range operands {
		if !operand.Ok() {
			return typeMismatchf("%s: operand #%d has an invalid shape %s", opName, ii, operand)
		}
	}
	return nil
}

// CheckFloat returns an error if the operand is not a float.
func CheckFloat(opName string, operand shapes.Shape) error {
	if !operand.DType.IsFloat() {
		return typeMismatchf("%s must have a float (Float32, Float64, ...) data type as input, got %s", opName, operand)
	}
	return nil
}

// CheckNumber returns an error if the operand is not a number (integer or float).
func CheckNumber(opName string, operand shapes.Shape) error {
	if !(operand.DType.IsInt() || operand.DType.IsFloat()) {
		return typeMismatchf("%s must have a number (Int32, Float32, ...) data type as input, got %s", opName, operand)
	}
	return nil
}

// CheckSigned returns an error if the operand is not a signed number.
func CheckSigned(opName string, operand shapes.Shape) error {
	if err := CheckNumber(opName, operand); err != nil {
		return err
	}
	switch operand.DType {
	case dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64:
		return typeMismatchf("%s must have a signed data type as input, got %s", opName, operand)
	}
	return nil
}

// UnaryOp returns the output shape of elementwise unary operations: the same as the operand.
func UnaryOp(opName string, operand shapes.Shape) (shapes.Shape, error) {
	if err := CheckValid(opName, operand); err != nil {
		return shapes.Invalid(), err
	}
	return operand.Clone(), nil
}

// BinaryOp returns the output shape of elementwise binary operations (Add, Mul, Max, ...).
//
// Both operands must have the exact same shape: there is no implicit broadcasting, use an explicit
// Broadcast instead.
func BinaryOp(opName string, lhs, rhs shapes.Shape) (shapes.Shape, error) {
	if err := CheckValid(opName, lhs, rhs); err != nil {
		return shapes.Invalid(), err
	}
	if lhs.DType != rhs.DType {
		return shapes.Invalid(), typeMismatchf("data types (DType) for %s must match, got %s and %s", opName, lhs, rhs)
	}
	if !lhs.EqualDimensions(rhs) {
		return shapes.Invalid(), shapeErrorf("operands of %s must have the same dimensions, got %s and %s", opName, lhs, rhs)
	}
	return lhs.Clone(), nil
}

// ComparisonOp returns the output shape for comparison operations (Equal, Greater, ...): the same
// dimensions as the operands, with DType Bool.
func ComparisonOp(opName string, lhs, rhs shapes.Shape) (shapes.Shape, error) {
	output, err := BinaryOp(opName, lhs, rhs)
	if err != nil {
		return output, err
	}
	output.DType = dtypes.Bool
	return output, nil
}

// SelectOp returns the output shape of Select(condition, onTrue, onFalse).
//
// The condition must be a Bool, and all operands must have the same dimensions. onTrue and onFalse
// must share the DType.
func SelectOp(condition, onTrue, onFalse shapes.Shape) (shapes.Shape, error) {
	if err := CheckValid("Select", condition, onTrue, onFalse); err != nil {
		return shapes.Invalid(), err
	}
	if condition.DType != dtypes.Bool {
		return shapes.Invalid(), typeMismatchf("condition for Select must be a Bool, got %s", condition)
	}
	output, err := BinaryOp("Select", onTrue, onFalse)
	if err != nil {
		return output, err
	}
	if !condition.EqualDimensions(output) {
		return shapes.Invalid(), shapeErrorf("condition for Select must match the dimensions of the values, got condition=%s, onTrue=%s, onFalse=%s",
			condition, onTrue, onFalse)
	}
	return output, nil
}

// ConvertOp returns the operand shape with the new DType.
func ConvertOp(operand shapes.Shape, dtype dtypes.DType) (shapes.Shape, error) {
	if err := CheckValid("Convert", operand); err != nil {
		return shapes.Invalid(), err
	}
	if dtype == dtypes.InvalidDType {
		return shapes.Invalid(), typeMismatchf("cannot Convert %s to an invalid dtype", operand)
	}
	return operand.WithDType(dtype), nil
}

// ReduceOp returns the shape of a reduction of operand over the given axes: the reduced axes are dropped.
//
// An empty list of axes yields the operand shape unchanged.
func ReduceOp(operand shapes.Shape, axes []int) (shapes.Shape, error) {
	if err := CheckValid("Reduce", operand); err != nil {
		return shapes.Invalid(), err
	}
	if len(axes) == 0 {
		return operand.Clone(), nil
	}
	axesSet := types.MakeSet[int](len(axes))
	for _, axis := range axes {
		if axis < 0 || axis >= operand.Rank() {
			return shapes.Invalid(), shapeErrorf("Reduce operation requires each axis to be 0 <= axis < rank, but got invalid axis %d for shape %s", axis, operand)
		}
		if axesSet.Has(axis) {
			return shapes.Invalid(), shapeErrorf("Reduce operation got duplicate axis %d for shape %s", axis, operand)
		}
		axesSet.Insert(axis)
	}
	output := shapes.Make(operand.DType)
	output.Dimensions = make([]int, 0, operand.Rank()-len(axes))
	for axis, dim := range operand.Dimensions {
		if !axesSet.Has(axis) {
			output.Dimensions = append(output.Dimensions, dim)
		}
	}
	return output, nil
}

// BroadcastOp returns the shape of broadcasting operand to the given output dimensions.
//
// broadcastAxes are the axes of the output that are new, the values along them are replicated.
// The remaining output axes, in order, must match the operand's dimensions.
func BroadcastOp(operand shapes.Shape, dimensions []int, broadcastAxes []int) (shapes.Shape, error) {
	if err := CheckValid("Broadcast", operand); err != nil {
		return shapes.Invalid(), err
	}
	outputRank := len(dimensions)
	if operand.Rank()+len(broadcastAxes) != outputRank {
		return shapes.Invalid(), shapeErrorf("Broadcast of %s to dimensions %v: operand rank plus %d broadcast axes (%v) must equal the output rank %d",
			operand, dimensions, len(broadcastAxes), broadcastAxes, outputRank)
	}
	axesSet := types.MakeSet[int](len(broadcastAxes))
	for _, axis := range broadcastAxes {
		if axis < 0 || axis >= outputRank || axesSet.Has(axis) {
			return shapes.Invalid(), shapeErrorf("Broadcast of %s to dimensions %v: invalid or duplicate broadcast axis %d", operand, dimensions, axis)
		}
		axesSet.Insert(axis)
	}
	operandAxis := 0
	for axis, dim := range dimensions {
		if dim < 0 {
			return shapes.Invalid(), shapeErrorf("Broadcast to dimensions %v: negative dimension", dimensions)
		}
		if axesSet.Has(axis) {
			continue
		}
		if operand.Dimensions[operandAxis] != dim {
			return shapes.Invalid(), shapeErrorf("Broadcast of %s to dimensions %v: operand axis %d has dimension %d, but output axis %d has dimension %d",
				operand, dimensions, operandAxis, operand.Dimensions[operandAxis], axis, dim)
		}
		operandAxis++
	}
	return shapes.Make(operand.DType, dimensions...), nil
}

// ReshapeOp to the given dimensions: trivial output shape, but this function also checks
// that the sizes are the same.
func ReshapeOp(operand shapes.Shape, dimensions []int) (shapes.Shape, error) {
	if err := CheckValid("Reshape", operand); err != nil {
		return shapes.Invalid(), err
	}
	for _, dim := range dimensions {
		if dim < 0 {
			return shapes.Invalid(), shapeErrorf("Reshape of %s to dimensions %v: negative dimension", operand, dimensions)
		}
	}
	output := shapes.Make(operand.DType, dimensions...)
	if output.Size() != operand.Size() {
		return shapes.Invalid(), shapeErrorf("Reshape of %s (size %d) to dimensions %v (size %d): sizes don't match",
			operand, operand.Size(), dimensions, output.Size())
	}
	return output, nil
}

// TransposeOp returns the shape of operand with its axes permuted: output axis i is the operand axis permutation[i].
func TransposeOp(operand shapes.Shape, permutation []int) (shapes.Shape, error) {
	if err := CheckValid("Transpose", operand); err != nil {
		return shapes.Invalid(), err
	}
	rank := operand.Rank()
	if len(permutation) != rank {
		return shapes.Invalid(), shapeErrorf("Transpose of %s: permutation %v must have one entry per axis", operand, permutation)
	}
	used := make([]bool, rank)
	output := operand.Clone()
	for outputAxis, operandAxis := range permutation {
		if operandAxis < 0 || operandAxis >= rank || used[operandAxis] {
			return shapes.Invalid(), shapeErrorf("Transpose of %s: invalid permutation %v", operand, permutation)
		}
		used[operandAxis] = true
		output.Dimensions[outputAxis] = operand.Dimensions[operandAxis]
	}
	return output, nil
}

// DotOp returns the shape of the matrix product of lhs [m, k] and rhs [k, n], that is [m, n].
func DotOp(lhs, rhs shapes.Shape) (shapes.Shape, error) {
	if err := CheckValid("Dot", lhs, rhs); err != nil {
		return shapes.Invalid(), err
	}
	if lhs.DType != rhs.DType {
		return shapes.Invalid(), typeMismatchf("data types (DType) for Dot must match, got %s and %s", lhs, rhs)
	}
	if lhs.Rank() != 2 || rhs.Rank() != 2 {
		return shapes.Invalid(), shapeErrorf("Dot requires two matrices (rank-2), got %s and %s", lhs, rhs)
	}
	if lhs.Dimensions[1] != rhs.Dimensions[0] {
		return shapes.Invalid(), shapeErrorf("Dot contracting dimensions don't match, got %s and %s", lhs, rhs)
	}
	return shapes.Make(lhs.DType, lhs.Dimensions[0], rhs.Dimensions[1]), nil
}

// ConvolutionAxes assigns roles to the axes of the data batch, the filters and the result of a
// convolution. The axes not listed are the spatial axes, taken in increasing order.
type ConvolutionAxes struct {
	DataBatch, DataInputChannels                 int
	FiltersInputChannels, FiltersOutputChannels int
	ResultBatch, ResultOutputChannels            int
}

// DefaultConvolutionAxes is the "channels first" layout: data is [N, C_in, spatial...], filters are
// [C_out, C_in, spatial...] and the result is [N, C_out, spatial...].
var DefaultConvolutionAxes = ConvolutionAxes{
	DataBatch:             0,
	DataInputChannels:     1,
	FiltersInputChannels:  1,
	FiltersOutputChannels: 0,
	ResultBatch:           0,
	ResultOutputChannels:  1,
}

// ConvolutionConfig holds the window geometry of a convolution, one value per spatial axis.
//
// Nil slices take the default values: strides and dilations of 1 and paddings of 0.
// Paddings can be negative, in which case they crop the (dilated) data.
type ConvolutionConfig struct {
	WindowMovementStrides []int
	WindowDilationStrides []int
	PaddingBelow          []int
	PaddingAbove          []int
	DataDilationStrides   []int
}

// WithDefaults returns a copy of the configuration with all nil fields filled with their default values
// for the given number of spatial axes.
func (c ConvolutionConfig) WithDefaults(numSpatial int) ConvolutionConfig {
	fill := func(values []int, defaultValue int) []int {
		if values != nil {
			return slices.Clone(values)
		}
		values = make([]int, numSpatial)
		for ii := range values {
			values[ii] = defaultValue
		}
		return values
	}
	return ConvolutionConfig{
		WindowMovementStrides: fill(c.WindowMovementStrides, 1),
		WindowDilationStrides: fill(c.WindowDilationStrides, 1),
		PaddingBelow:          fill(c.PaddingBelow, 0),
		PaddingAbove:          fill(c.PaddingAbove, 0),
		DataDilationStrides:   fill(c.DataDilationStrides, 1),
	}
}

// Equal returns whether both configurations are the same, after defaults are filled.
func (c ConvolutionConfig) Equal(other ConvolutionConfig, numSpatial int) bool {
	a, b := c.WithDefaults(numSpatial), other.WithDefaults(numSpatial)
	return slices.Equal(a.WindowMovementStrides, b.WindowMovementStrides) &&
		slices.Equal(a.WindowDilationStrides, b.WindowDilationStrides) &&
		slices.Equal(a.PaddingBelow, b.PaddingBelow) &&
		slices.Equal(a.PaddingAbove, b.PaddingAbove) &&
		slices.Equal(a.DataDilationStrides, b.DataDilationStrides)
}

// SpatialAxes returns the axes of a tensor of the given rank that are not listed in roleAxes, in increasing order.
func SpatialAxes(rank int, roleAxes ...int) []int {
	roles := types.SetWith(roleAxes...)
	spatial := make([]int, 0, rank)
	for axis := range rank {
		if !roles.Has(axis) {
			spatial = append(spatial, axis)
		}
	}
	return spatial
}

// ConvolutionOp returns the output shape of a convolution of dataBatch with filters.
//
// For each spatial axis, with d the data dimension and f the filter dimension:
//
//	dilatedData = (d-1)*dataDilation + 1 + paddingBelow + paddingAbove
//	dilatedWindow = (f-1)*windowDilation + 1
//	output = (dilatedData - dilatedWindow) / windowMovementStride + 1
//
// It is an error if dilatedData <= 0, if dilatedWindow > dilatedData, or if any stride or dilation is < 1.
func ConvolutionOp(dataBatch, filters shapes.Shape, config ConvolutionConfig, axes ConvolutionAxes) (shapes.Shape, error) {
	errorf := func(format string, args ...any) (shapes.Shape, error) {
		return shapes.Invalid(), shapeErrorf("Convolution: "+format, args...)
	}
	if err := CheckValid("Convolution", dataBatch, filters); err != nil {
		return shapes.Invalid(), err
	}
	if dataBatch.DType != filters.DType {
		return shapes.Invalid(), typeMismatchf("Convolution data batch and filter element types do not match: %s and %s", dataBatch, filters)
	}

	rank := dataBatch.Rank()
	if rank < 3 {
		return errorf("data batch needs to be at least rank-3 with axes batch, channels and spatial -- data batch shape is %s", dataBatch)
	}
	if filters.Rank() != rank {
		return errorf("data batch and filters have different rank -- data batch shape is %s and filters shape is %s", dataBatch, filters)
	}
	checkRoles := func(what string, roleAxes ...int) error {
		seen := types.MakeSet[int]()
		for _, axis := range roleAxes {
			if axis < 0 || axis >= rank || seen.Has(axis) {
				return shapeErrorf("Convolution: invalid %s axes configuration %v for rank %d", what, roleAxes, rank)
			}
			seen.Insert(axis)
		}
		return nil
	}
	if err := checkRoles("data batch", axes.DataBatch, axes.DataInputChannels); err != nil {
		return shapes.Invalid(), err
	}
	if err := checkRoles("filters", axes.FiltersInputChannels, axes.FiltersOutputChannels); err != nil {
		return shapes.Invalid(), err
	}
	if err := checkRoles("result", axes.ResultBatch, axes.ResultOutputChannels); err != nil {
		return shapes.Invalid(), err
	}

	batchSize := dataBatch.Dimensions[axes.DataBatch]
	inputChannels := dataBatch.Dimensions[axes.DataInputChannels]
	outputChannels := filters.Dimensions[axes.FiltersOutputChannels]
	if batchSize == 0 {
		return errorf("data batch size is zero, data batch shape is %s", dataBatch)
	}
	if inputChannels == 0 {
		return errorf("input channel count is zero, data batch shape is %s", dataBatch)
	}
	if outputChannels == 0 {
		return errorf("output channel count is zero, filters shape is %s", filters)
	}
	if filters.Dimensions[axes.FiltersInputChannels] != inputChannels {
		return errorf("input channel count for filters (%d) does not match the data batch (%d) -- data batch shape is %s, filters shape is %s",
			filters.Dimensions[axes.FiltersInputChannels], inputChannels, dataBatch, filters)
	}

	numSpatial := rank - 2
	for _, field := range []struct {
		name   string
		values []int
	}{
		{"window movement strides", config.WindowMovementStrides},
		{"window dilation strides", config.WindowDilationStrides},
		{"padding below", config.PaddingBelow},
		{"padding above", config.PaddingAbove},
		{"data dilation strides", config.DataDilationStrides},
	} {
		if field.values != nil && len(field.values) != numSpatial {
			return errorf("%s (%v) must either be nil or provide one value for each spatial axis (%d)", field.name, field.values, numSpatial)
		}
	}
	config = config.WithDefaults(numSpatial)

	dataSpatial := SpatialAxes(rank, axes.DataBatch, axes.DataInputChannels)
	filtersSpatial := SpatialAxes(rank, axes.FiltersInputChannels, axes.FiltersOutputChannels)
	resultSpatial := SpatialAxes(rank, axes.ResultBatch, axes.ResultOutputChannels)

	output := shapes.Make(dataBatch.DType, make([]int, rank)...)
	output.Dimensions[axes.ResultBatch] = batchSize
	output.Dimensions[axes.ResultOutputChannels] = outputChannels
	for spatialIdx := range numSpatial {
		stride := config.WindowMovementStrides[spatialIdx]
		windowDilation := config.WindowDilationStrides[spatialIdx]
		dataDilation := config.DataDilationStrides[spatialIdx]
		if stride < 1 {
			return errorf("window movement stride for spatial axis #%d is %d, it must be >= 1", spatialIdx, stride)
		}
		if windowDilation < 1 {
			return errorf("window dilation stride for spatial axis #%d is %d, it must be >= 1", spatialIdx, windowDilation)
		}
		if dataDilation < 1 {
			return errorf("data dilation stride for spatial axis #%d is %d, it must be >= 1", spatialIdx, dataDilation)
		}

		dataDim := dataBatch.Dimensions[dataSpatial[spatialIdx]]
		filterDim := filters.Dimensions[filtersSpatial[spatialIdx]]
		dilatedData := config.PaddingBelow[spatialIdx] + config.PaddingAbove[spatialIdx]
		if dataDim > 0 {
			dilatedData += (dataDim-1)*dataDilation + 1
		}
		if dilatedData <= 0 {
			return errorf("data batch spatial axis #%d has dimension %d after padding and dilation -- data batch shape is %s, config %+v",
				spatialIdx, dilatedData, dataBatch, config)
		}
		if filterDim == 0 {
			return errorf("filters spatial axis #%d has dimension zero, filters shape is %s", spatialIdx, filters)
		}
		dilatedWindow := (filterDim-1)*windowDilation + 1
		if dilatedWindow > dilatedData {
			return errorf("dilated window dimension %d for spatial axis #%d is larger than the padded/dilated data dimension %d -- data batch shape is %s, filters shape is %s",
				dilatedWindow, spatialIdx, dilatedData, dataBatch, filters)
		}
		output.Dimensions[resultSpatial[spatialIdx]] = (dilatedData-dilatedWindow)/stride + 1
	}
	return output, nil
}
