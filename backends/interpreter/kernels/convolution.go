// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/graphcore/backends/shapeinference"
	"github.com/gomlx/graphcore/internal/workerspool"
	"github.com/gomlx/graphcore/types/shapes"
)

// ConvolutionParams holds the geometry of a convolution in the channels first layout:
// data is [batch, inputChannels, spatial...], filters are [outputChannels, inputChannels, spatial...]
// and the output is [batch, outputChannels, spatial...].
type ConvolutionParams struct {
	DataDims, FiltersDims, OutputDims []int

	// Config must have all its fields filled, see shapeinference.ConvolutionConfig.WithDefaults.
	Config shapeinference.ConvolutionConfig
}

// Convolution computes the convolution of data with filters into output.
//
// If bias is not nil, bias[c] is added to every element of output channel c.
// If sum is not nil, it is added elementwise to the output (it has the output shape).
// Work is split over the pool per (batch, output channel) pair.
func Convolution[T Number](pool *workerspool.Pool, params ConvolutionParams, data, filters, bias, sum, output []T) {
	batchSize, inputChannels := params.DataDims[0], params.DataDims[1]
	outputChannels := params.FiltersDims[0]
	dataSpatial := params.DataDims[2:]
	filterSpatial := params.FiltersDims[2:]
	outputSpatial := params.OutputDims[2:]
	numSpatial := len(dataSpatial)
	config := params.Config

	dataSpatialStrides := shapes.Shape{Dimensions: dataSpatial}.Strides()
	dataSpatialSize := shapes.Shape{Dimensions: dataSpatial}.Size()
	filterSpatialSize := shapes.Shape{Dimensions: filterSpatial}.Size()
	outputSpatialSize := shapes.Shape{Dimensions: outputSpatial}.Size()

	// dilatedDataDims is the extent of the data after dilation, before padding.
	dilatedDataDims := make([]int, numSpatial)
	for axis, dim := range dataSpatial {
		dilatedDataDims[axis] = (dim-1)*config.DataDilationStrides[axis] + 1
	}

	pool.ParallelFor(batchSize*outputChannels, 1, func(start, end int) {
		dataIndices := make([]int, numSpatial)
		for pair := start; pair < end; pair++ {
			batch, outChannel := pair/outputChannels, pair%outputChannels
			outBase := pair * outputSpatialSize
			for outFlat, outIndices := range (shapes.Shape{Dimensions: outputSpatial}).Iter() {
				var acc T
				for filterFlat, filterIndices := range (shapes.Shape{Dimensions: filterSpatial}).Iter() {
					// Find the position in the data, if not in the padding or in a dilation hole.
					valid := true
					for axis := range numSpatial {
						pos := outIndices[axis]*config.WindowMovementStrides[axis] +
							filterIndices[axis]*config.WindowDilationStrides[axis] -
							config.PaddingBelow[axis]
						if pos < 0 || pos >= dilatedDataDims[axis] || pos%config.DataDilationStrides[axis] != 0 {
							valid = false
							break
						}
						dataIndices[axis] = pos / config.DataDilationStrides[axis]
					}
					if !valid {
						continue
					}
					dataSpatialIdx := 0
					for axis, idx := range dataIndices {
						dataSpatialIdx += idx * dataSpatialStrides[axis]
					}
					for inChannel := range inputChannels {
						dataIdx := (batch*inputChannels+inChannel)*dataSpatialSize + dataSpatialIdx
						filterIdx := (outChannel*inputChannels+inChannel)*filterSpatialSize + filterFlat
						acc += data[dataIdx] * filters[filterIdx]
					}
				}
				if bias != nil {
					acc += bias[outChannel]
				}
				outIdx := outBase + outFlat
				if sum != nil {
					acc += sum[outIdx]
				}
				output[outIdx] = acc
			}
		}
	})
}
