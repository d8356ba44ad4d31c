// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapeinference

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/graphcore/types/shapes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// Aliases
var (
	Bool = dtypes.Bool
	I32  = dtypes.Int32
	F32  = dtypes.Float32
	F64  = dtypes.Float64
	U64  = dtypes.Uint64

	MS = shapes.Make
)

// must1 panics if there is an error.
func must1[T any](value T, err error) T {
	if err != nil {
		panic(err)
	}
	return value
}

func TestBinaryOp(t *testing.T) {
	output, err := BinaryOp("Add", MS(F32, 2, 3), MS(F32, 2, 3))
	require.NoError(t, err)
	require.True(t, output.Equal(MS(F32, 2, 3)))

	output, err = BinaryOp("Max", MS(I32), MS(I32))
	require.NoError(t, err)
	require.True(t, output.Equal(MS(I32)))

	// No implicit broadcasting.
	_, err = BinaryOp("Add", MS(F32), MS(F32, 2, 3))
	require.ErrorIs(t, err, ErrShapeInference)
	_, err = BinaryOp("Add", MS(F32, 3, 2), MS(F32, 2, 3))
	require.ErrorIs(t, err, ErrShapeInference)

	_, err = BinaryOp("Mul", MS(F32, 2), MS(F64, 2))
	require.ErrorIs(t, err, ErrTypeMismatch)
	require.NotErrorIs(t, err, ErrShapeInference)

	_, err = BinaryOp("Sub", shapes.Invalid(), MS(F32))
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestComparisonAndSelectOp(t *testing.T) {
	output := must1(ComparisonOp("Greater", MS(F32, 4), MS(F32, 4)))
	require.True(t, output.Equal(MS(Bool, 4)))
	_, err := ComparisonOp("Less", MS(F32, 4), MS(I32, 4))
	require.ErrorIs(t, err, ErrTypeMismatch)

	output = must1(SelectOp(MS(Bool, 2, 2), MS(F64, 2, 2), MS(F64, 2, 2)))
	require.True(t, output.Equal(MS(F64, 2, 2)))
	_, err = SelectOp(MS(F32, 2, 2), MS(F64, 2, 2), MS(F64, 2, 2))
	require.ErrorIs(t, err, ErrTypeMismatch)
	_, err = SelectOp(MS(Bool, 2), MS(F64, 2, 2), MS(F64, 2, 2))
	require.ErrorIs(t, err, ErrShapeInference)
}

func TestConvertAndCategoryChecks(t *testing.T) {
	output := must1(ConvertOp(MS(I32, 3), F32))
	require.True(t, output.Equal(MS(F32, 3)))
	_, err := ConvertOp(MS(I32, 3), dtypes.InvalidDType)
	require.ErrorIs(t, err, ErrTypeMismatch)

	require.NoError(t, CheckFloat("Exp", MS(F64)))
	require.ErrorIs(t, CheckFloat("Exp", MS(I32)), ErrTypeMismatch)
	require.NoError(t, CheckNumber("Abs", MS(I32)))
	require.Error(t, CheckNumber("Abs", MS(Bool)))
	require.NoError(t, CheckSigned("Neg", MS(I32)))
	require.Error(t, CheckSigned("Neg", MS(U64)))
}

func TestReduceOp(t *testing.T) {
	output := must1(ReduceOp(MS(F32, 2, 3, 4), []int{0, 2}))
	require.True(t, output.Equal(MS(F32, 3)))

	output = must1(ReduceOp(MS(F32, 2, 3), []int{1, 0}))
	require.True(t, output.Equal(MS(F32)))

	// Empty axes: identity.
	output = must1(ReduceOp(MS(F32, 2, 3), nil))
	require.True(t, output.Equal(MS(F32, 2, 3)))

	_, err := ReduceOp(MS(F32, 2, 3), []int{2})
	require.ErrorIs(t, err, ErrShapeInference)
	_, err = ReduceOp(MS(F32, 2, 3), []int{1, 1})
	require.ErrorIs(t, err, ErrShapeInference)
}

func TestBroadcastOp(t *testing.T) {
	output := must1(BroadcastOp(MS(F32, 3), []int{2, 3}, []int{0}))
	require.True(t, output.Equal(MS(F32, 2, 3)))
	output = must1(BroadcastOp(MS(F32, 2), []int{2, 3}, []int{1}))
	require.True(t, output.Equal(MS(F32, 2, 3)))
	output = must1(BroadcastOp(MS(F32), []int{4, 5}, []int{0, 1}))
	require.True(t, output.Equal(MS(F32, 4, 5)))

	_, err := BroadcastOp(MS(F32, 2), []int{2, 3}, []int{0})
	require.ErrorIs(t, err, ErrShapeInference)
	_, err = BroadcastOp(MS(F32, 2), []int{2, 3}, []int{0, 1})
	require.ErrorIs(t, err, ErrShapeInference)
	_, err = BroadcastOp(MS(F32, 3), []int{2, 3}, []int{2})
	require.ErrorIs(t, err, ErrShapeInference)
}

func TestReshapeAndTransposeOp(t *testing.T) {
	output := must1(ReshapeOp(MS(F32, 2, 3), []int{3, 2}))
	require.True(t, output.Equal(MS(F32, 3, 2)))
	output = must1(ReshapeOp(MS(F32, 1, 1), nil))
	require.True(t, output.Equal(MS(F32)))
	_, err := ReshapeOp(MS(F32, 2, 3), []int{4})
	require.ErrorIs(t, err, ErrShapeInference)

	output = must1(TransposeOp(MS(F32, 2, 3, 4), []int{2, 0, 1}))
	require.True(t, output.Equal(MS(F32, 4, 2, 3)))
	_, err = TransposeOp(MS(F32, 2, 3), []int{0, 0})
	require.ErrorIs(t, err, ErrShapeInference)
	_, err = TransposeOp(MS(F32, 2, 3), []int{1})
	require.ErrorIs(t, err, ErrShapeInference)
}

func TestDotOp(t *testing.T) {
	output := must1(DotOp(MS(F32, 2, 3), MS(F32, 3, 5)))
	require.True(t, output.Equal(MS(F32, 2, 5)))
	_, err := DotOp(MS(F32, 2, 3), MS(F32, 2, 5))
	require.ErrorIs(t, err, ErrShapeInference)
	_, err = DotOp(MS(F32, 3), MS(F32, 3, 5))
	require.ErrorIs(t, err, ErrShapeInference)
	_, err = DotOp(MS(F32, 2, 3), MS(F64, 3, 5))
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestConvolutionOp(t *testing.T) {
	type testCase struct {
		name                string
		data, filters       shapes.Shape
		config              ConvolutionConfig
		axes                ConvolutionAxes
		expected            shapes.Shape
		expectedError       error
		expectedErrorSubstr string
	}
	testCases := []testCase{
		{
			name:     "1D no padding",
			data:     MS(F32, 1, 1, 5),
			filters:  MS(F32, 1, 1, 3),
			axes:     DefaultConvolutionAxes,
			expected: MS(F32, 1, 1, 3),
		},
		{
			name:    "2D with strides and padding",
			data:    MS(F32, 2, 3, 7, 7),
			filters: MS(F32, 8, 3, 3, 3),
			config: ConvolutionConfig{
				WindowMovementStrides: []int{2, 2},
				PaddingBelow:          []int{1, 1},
				PaddingAbove:          []int{1, 1},
			},
			axes:     DefaultConvolutionAxes,
			expected: MS(F32, 2, 8, 4, 4),
		},
		{
			name:    "window and data dilation",
			data:    MS(F64, 1, 2, 4),
			filters: MS(F64, 3, 2, 2),
			config: ConvolutionConfig{
				WindowDilationStrides: []int{2},
				DataDilationStrides:   []int{2},
			},
			axes: DefaultConvolutionAxes,
			// dilated data = 7, dilated window = 3 -> 5.
			expected: MS(F64, 1, 3, 5),
		},
		{
			name:    "negative padding crops",
			data:    MS(F32, 1, 1, 6),
			filters: MS(F32, 1, 1, 2),
			config: ConvolutionConfig{
				PaddingBelow: []int{-1},
				PaddingAbove: []int{-2},
			},
			axes:     DefaultConvolutionAxes,
			expected: MS(F32, 1, 1, 2),
		},
		{
			name:    "channels last",
			data:    MS(F32, 2, 5, 5, 3),
			filters: MS(F32, 3, 3, 3, 4),
			axes: ConvolutionAxes{
				DataBatch: 0, DataInputChannels: 3,
				FiltersInputChannels: 2, FiltersOutputChannels: 3,
				ResultBatch: 0, ResultOutputChannels: 3,
			},
			expected: MS(F32, 2, 3, 3, 4),
		},
		{
			name:          "dtype mismatch",
			data:          MS(F32, 1, 1, 5),
			filters:       MS(F64, 1, 1, 3),
			axes:          DefaultConvolutionAxes,
			expectedError: ErrTypeMismatch,
		},
		{
			name:                "zero batch",
			data:                MS(F32, 0, 1, 5),
			filters:             MS(F32, 1, 1, 3),
			axes:                DefaultConvolutionAxes,
			expectedError:       ErrShapeInference,
			expectedErrorSubstr: "batch size is zero",
		},
		{
			name:                "zero input channels",
			data:                MS(F32, 1, 0, 5),
			filters:             MS(F32, 1, 0, 3),
			axes:                DefaultConvolutionAxes,
			expectedError:       ErrShapeInference,
			expectedErrorSubstr: "input channel count is zero",
		},
		{
			name:                "channel mismatch",
			data:                MS(F32, 1, 2, 5),
			filters:             MS(F32, 1, 3, 3),
			axes:                DefaultConvolutionAxes,
			expectedError:       ErrShapeInference,
			expectedErrorSubstr: "does not match",
		},
		{
			name:                "window larger than data",
			data:                MS(F32, 1, 1, 3),
			filters:             MS(F32, 1, 1, 4),
			axes:                DefaultConvolutionAxes,
			expectedError:       ErrShapeInference,
			expectedErrorSubstr: "larger than",
		},
		{
			name:    "padding consumes data",
			data:    MS(F32, 1, 1, 3),
			filters: MS(F32, 1, 1, 1),
			config: ConvolutionConfig{
				PaddingBelow: []int{-2},
				PaddingAbove: []int{-1},
			},
			axes:          DefaultConvolutionAxes,
			expectedError: ErrShapeInference,
		},
		{
			name:    "zero stride",
			data:    MS(F32, 1, 1, 5),
			filters: MS(F32, 1, 1, 3),
			config: ConvolutionConfig{
				WindowMovementStrides: []int{0},
			},
			axes:                DefaultConvolutionAxes,
			expectedError:       ErrShapeInference,
			expectedErrorSubstr: "must be >= 1",
		},
		{
			name:    "wrong number of strides",
			data:    MS(F32, 1, 1, 5),
			filters: MS(F32, 1, 1, 3),
			config: ConvolutionConfig{
				WindowMovementStrides: []int{1, 1},
			},
			axes:          DefaultConvolutionAxes,
			expectedError: ErrShapeInference,
		},
		{
			name:          "rank too small",
			data:          MS(F32, 1, 5),
			filters:       MS(F32, 1, 3),
			axes:          DefaultConvolutionAxes,
			expectedError: ErrShapeInference,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			output, err := ConvolutionOp(tc.data, tc.filters, tc.config, tc.axes)
			if tc.expectedError != nil {
				require.Error(t, err)
				require.True(t, errors.Is(err, tc.expectedError), "expected error kind %v, got %v", tc.expectedError, err)
				if tc.expectedErrorSubstr != "" {
					require.ErrorContains(t, err, tc.expectedErrorSubstr)
				}
				return
			}
			require.NoError(t, err)
			require.Truef(t, tc.expected.Equal(output), "expected %s, got %s", tc.expected, output)
		})
	}
}

func TestConvolutionConfig(t *testing.T) {
	c := ConvolutionConfig{PaddingBelow: []int{1, 2}}
	full := c.WithDefaults(2)
	require.Equal(t, []int{1, 1}, full.WindowMovementStrides)
	require.Equal(t, []int{1, 2}, full.PaddingBelow)
	require.Equal(t, []int{0, 0}, full.PaddingAbove)
	require.True(t, c.Equal(full, 2))
	require.False(t, c.Equal(ConvolutionConfig{}, 2))
	require.Equal(t, []int{2, 3}, SpatialAxes(4, 0, 1))
	require.Equal(t, []int{1, 2}, SpatialAxes(4, 3, 0))
}
