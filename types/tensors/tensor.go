// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a host (local) Tensor: a shape plus a flat Go slice with the
// values in row-major order.
//
// Tensors are the values fed to and returned by a backends.Executable. They are also the
// payload of constant nodes in a graph.
package tensors

import (
	"fmt"
	"reflect"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/graphcore/types/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/floats"
)

// Tensor holds a multidimensional array of values of one DType, stored as a flat slice.
//
// The flat slice can be read with Flat or FlatData; tensors are treated as immutable once
// they are handed to a graph or a backend.
type Tensor struct {
	shape shapes.Shape
	flat  any
}

// FromShape returns a zero-initialized Tensor with the given shape.
func FromShape(shape shapes.Shape) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShape(%s): invalid shape", shape)
	}
	goType := shape.DType.GoType()
	if goType == nil {
		exceptions.Panicf("tensors.FromShape(%s): dtype not supported for host tensors", shape)
	}
	size := shape.Size()
	return &Tensor{
		shape: shape.Clone(),
		flat:  reflect.MakeSlice(reflect.SliceOf(goType), size, size).Interface(),
	}
}

// FromFlatDataAndDimensions creates a tensor with the given flat data (not copied) and dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if shape.Size() != len(data) {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions: len(data)=%d doesn't match shape %s (size %d)",
			len(data), shape, shape.Size())
	}
	return &Tensor{shape: shape, flat: data}
}

// FromScalar returns a scalar tensor holding value.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return FromFlatDataAndDimensions([]T{value})
}

// FromFloat64 returns a scalar tensor of the given dtype holding value converted from a float64.
// For Bool, any non-zero value is true.
func FromFloat64(dtype dtypes.DType, value float64) *Tensor {
	switch dtype {
	case dtypes.Bool:
		return FromScalar(value != 0)
	case dtypes.Float16:
		return FromScalar(float16.Fromfloat32(float32(value)))
	case dtypes.BFloat16:
		return FromScalar(bfloat16.FromFloat32(float32(value)))
	}
	t := FromShape(shapes.Make(dtype))
	flatV := reflect.ValueOf(t.flat)
	flatV.Index(0).Set(reflect.ValueOf(value).Convert(flatV.Type().Elem()))
	return t
}

// FromAnyValue converts a Go scalar or a (possibly multidimensional) regular slice to a Tensor.
// If value is already a *Tensor, it is returned as is.
//
// Slices must be regular (all sub-slices of the same length) and non-empty.
func FromAnyValue(value any) *Tensor {
	if t, ok := value.(*Tensor); ok {
		return t
	}
	shape, err := shapeForValue(value)
	if err != nil {
		panic(errors.Wrapf(err, "cannot create tensor from %T", value))
	}
	t := FromShape(shape)
	flatV := reflect.ValueOf(t.flat)
	valueV := reflect.ValueOf(value)
	if shape.IsScalar() {
		flatV.Index(0).Set(valueV.Convert(flatV.Type().Elem()))
		return t
	}
	copySlicesRecursively(flatV, valueV, shape.Strides())
	return t
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Rank of the tensor.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size is the number of elements in the tensor.
func (t *Tensor) Size() int { return t.shape.Size() }

// Flat returns the underlying flat slice (e.g. []float32), in row-major order.
func (t *Tensor) Flat() any { return t.flat }

// FlatData returns the flat slice of the tensor's values with the concrete Go type.
// It panics if T doesn't match the tensor's DType.
func FlatData[T dtypes.Supported](t *Tensor) []T {
	flat, ok := t.flat.([]T)
	if !ok {
		exceptions.Panicf("tensors.FlatData[%T]: tensor has shape %s", *new(T), t.shape)
	}
	return flat
}

// Value returns the tensor as a Go scalar (for rank 0) or a multidimensional slice
// (e.g. [][]float32 for a rank-2 float32 tensor).
//
// The returned slices share the tensor's storage.
func (t *Tensor) Value() any {
	flatV := reflect.ValueOf(t.flat)
	if t.shape.IsScalar() {
		return flatV.Index(0).Interface()
	}
	return convertDataToSlices(flatV, t.shape.Dimensions...).Interface()
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(nil)"
	}
	const maxSizeToPrint = 32
	if t.Size() > maxSizeToPrint {
		return fmt.Sprintf("Tensor%s", t.shape)
	}
	return fmt.Sprintf("Tensor%s: %v", t.shape, t.Value())
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	t2 := FromShape(t.shape)
	reflect.Copy(reflect.ValueOf(t2.flat), reflect.ValueOf(t.flat))
	return t2
}

// copySlicesRecursively copy values on a multi-dimension slice to a flat data slice
// assuming the strides for each dimension.
func copySlicesRecursively(data reflect.Value, mdSlice reflect.Value, strides []int) {
	if len(strides) == 1 {
		if data.Type() == mdSlice.Type() {
			reflect.Copy(data, mdSlice)
			return
		}
		// E.g.: Go's `int` stored as Int64.
		elemType := data.Type().Elem()
		for ii := range mdSlice.Len() {
			data.Index(ii).Set(mdSlice.Index(ii).Convert(elemType))
		}
		return
	}

	numElements := mdSlice.Len()
	subStrides := strides[1:]
	for ii := 0; ii < numElements; ii++ {
		start := ii * strides[0]
		end := (ii + 1) * strides[0]
		copySlicesRecursively(data.Slice(start, end), mdSlice.Index(ii), subStrides)
	}
}

// convertDataToSlices takes data as a flat slice, and creates a multidimensional slices with the given dimensions that
// points to the given data.
func convertDataToSlices(dataV reflect.Value, dimensions ...int) reflect.Value {
	if len(dimensions) <= 1 {
		return dataV
	}
	resultT := dataV.Type().Elem()
	for range dimensions {
		resultT = reflect.SliceOf(resultT)
	}
	strides := make([]int, len(dimensions))
	currentStride := 1
	for dim := len(dimensions) - 1; dim >= 0; dim-- {
		strides[dim] = currentStride
		currentStride *= dimensions[dim]
	}
	return createSlicesRecursively(resultT, dataV, dimensions, strides)
}

func createSlicesRecursively(resultT reflect.Type, data reflect.Value, dimensions []int, strides []int) reflect.Value {
	if len(strides) == 1 {
		return data
	}
	numElements := dimensions[0]
	slice := reflect.MakeSlice(resultT, numElements, numElements)
	subStrides := strides[1:]
	subDimensions := dimensions[1:]
	subResultT := resultT.Elem()
	for ii := 0; ii < numElements; ii++ {
		start := ii * strides[0]
		end := (ii + 1) * strides[0]
		subSlice := createSlicesRecursively(subResultT, data.Slice(start, end), subDimensions, subStrides)
		slice.Index(ii).Set(subSlice)
	}
	return slice
}

func shapeForValue(v any) (shape shapes.Shape, err error) {
	if v == nil {
		return shapes.Invalid(), errors.New("nil value")
	}
	err = shapeForValueRecursive(&shape, reflect.ValueOf(v), reflect.TypeOf(v))
	return
}

func shapeForValueRecursive(shape *shapes.Shape, v reflect.Value, t reflect.Type) error {
	switch t.Kind() {
	case reflect.Slice:
		t = t.Elem()
		shape.Dimensions = append(shape.Dimensions, v.Len())
		shapePrefix := shape.Clone()
		if v.Len() == 0 {
			return errors.Errorf("empty slice %T not valid for Tensor conversion, use FromShape for zero-sized tensors", v.Interface())
		}
		if err := shapeForValueRecursive(shape, v.Index(0), t); err != nil {
			return err
		}
		for ii := 1; ii < v.Len(); ii++ {
			shapeTest := shapePrefix.Clone()
			if err := shapeForValueRecursive(&shapeTest, v.Index(ii), t); err != nil {
				return err
			}
			if !shape.Equal(shapeTest) {
				return errors.Errorf("sub-slices have irregular shapes, found shapes %q, and %q", shape, shapeTest)
			}
		}
	case reflect.Pointer:
		return errors.Errorf("cannot convert Pointer (%s) to a concrete value for tensors", t)
	default:
		shape.DType = dtypes.FromGoType(t)
		if shape.DType == dtypes.InvalidDType {
			return errors.Errorf("cannot convert type %s to a tensor dtype", t)
		}
	}
	return nil
}

// ToFloat64 returns the values of the tensor converted to float64. Bool values are converted to 0 or 1.
func (t *Tensor) ToFloat64() []float64 {
	values := make([]float64, t.Size())
	switch flat := t.flat.(type) {
	case []bool:
		for ii, v := range flat {
			if v {
				values[ii] = 1
			}
		}
	case []float16.Float16:
		for ii, v := range flat {
			values[ii] = float64(v.Float32())
		}
	case []bfloat16.BFloat16:
		for ii, v := range flat {
			values[ii] = float64(v.Float32())
		}
	default:
		flatV := reflect.ValueOf(t.flat)
		float64T := reflect.TypeOf(float64(0))
		for ii := range values {
			values[ii] = flatV.Index(ii).Convert(float64T).Float()
		}
	}
	return values
}

// InDelta returns whether t and other have the same shape, and all their values differ by at most delta.
// With delta <= 0 only exact equality is accepted.
func (t *Tensor) InDelta(other *Tensor, delta float64) bool {
	if t == nil || other == nil {
		return t == other
	}
	if !t.shape.Equal(other.shape) {
		return false
	}
	return floats.EqualApprox(t.ToFloat64(), other.ToFloat64(), max(delta, 0))
}
