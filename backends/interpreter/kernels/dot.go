// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import "gonum.org/v1/gonum/mat"

// Dot multiplies the matrix lhs, shaped [m, k], by rhs, shaped [k, n], into output, shaped [m, n].
func Dot[T Number](lhs, rhs, output []T, m, k, n int) {
	if m == 0 || n == 0 {
		return
	}
	if k == 0 {
		for ii := range output {
			output[ii] = 0
		}
		return
	}
	if lhs64, ok := any(lhs).([]float64); ok {
		dotFloat64(lhs64, any(rhs).([]float64), any(output).([]float64), m, k, n)
		return
	}
	for row := range m {
		lhsRow := lhs[row*k : (row+1)*k]
		outRow := output[row*n : (row+1)*n]
		for col := range n {
			var acc T
			for ii, x := range lhsRow {
				acc += x * rhs[ii*n+col]
			}
			outRow[col] = acc
		}
	}
}

// dotFloat64 uses gonum's BLAS backed matrix multiplication, writing directly into output.
func dotFloat64(lhs, rhs, output []float64, m, k, n int) {
	a := mat.NewDense(m, k, lhs)
	b := mat.NewDense(k, n, rhs)
	c := mat.NewDense(m, n, output)
	c.Mul(a, b)
}
