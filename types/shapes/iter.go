// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import "iter"

// Iter iterates sequentially over all the indices of the shape, in row-major order (the last
// axis changes fastest). It yields the flat index and the per-axis indices.
//
// The indices slice is reused between iterations: clone it if it needs to be kept.
// Shapes with any dimension 0 yield nothing; scalars yield exactly once.
func (s Shape) Iter() iter.Seq2[int, []int] {
	return func(yield func(int, []int) bool) {
		rank := s.Rank()
		for _, dimSize := range s.Dimensions {
			if dimSize == 0 {
				return
			}
		}
		indices := make([]int, rank)
		for flatIdx := 0; ; flatIdx++ {
			if !yield(flatIdx, indices) {
				return
			}
			axis := rank - 1
			for ; axis >= 0; axis-- {
				indices[axis]++
				if indices[axis] < s.Dimensions[axis] {
					break
				}
				indices[axis] = 0
			}
			if axis < 0 {
				return
			}
		}
	}
}
