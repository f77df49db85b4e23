// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package levmar

import "math"

// cholSolve solves the symmetric positive definite system 𝐀𝐱 = 𝐛
// by Cholesky factorization 𝐀 = 𝐋𝐋ᵀ.
//
// a is n×n row-major and is overwritten by the factor in its lower
// triangle. b is overwritten with the solution. It reports false when
// the matrix is not positive definite to working precision, leaving
// a and b in a partially factored state.
func cholSolve(n int, a, b []float64) bool {

	if n <= 0 || uint(n*n) > uint(len(a)) || uint(n) > uint(len(b)) {
		panic("bound check error")
	}

	for k := 0; k < n; k++ {
		d := a[k*n+k] - ddot(k, a[k*n:], 1, a[k*n:], 1)
		if d <= 0 || math.IsNaN(d) {
			return false
		}
		d = math.Sqrt(d)
		a[k*n+k] = d
		inv := 1 / d
		for i := k + 1; i < n; i++ {
			a[i*n+k] = (a[i*n+k] - ddot(k, a[i*n:], 1, a[k*n:], 1)) * inv
		}
	}

	// 𝐋𝐲 = 𝐛
	for i := 0; i < n; i++ {
		b[i] = (b[i] - ddot(i, a[i*n:], 1, b, 1)) / a[i*n+i]
	}
	// 𝐋ᵀ𝐱 = 𝐲
	for i := n - 1; i >= 0; i-- {
		s := b[i]
		for j := i + 1; j < n; j++ {
			s -= a[j*n+i] * b[j]
		}
		b[i] = s / a[i*n+i]
	}
	return true
}

// luSolve solves 𝐀𝐱 = 𝐛 by LU decomposition with partial pivoting.
//
// a is n×n row-major and is overwritten by the factors. b is
// overwritten with the solution. piv is n-length pivot scratch.
// It reports false when the matrix is singular to working precision.
func luSolve(n int, a, b []float64, piv []int) bool {

	if n <= 0 || uint(n*n) > uint(len(a)) || uint(n) > uint(len(b)) || uint(n) > uint(len(piv)) {
		panic("bound check error")
	}

	for i := range piv[:n] {
		piv[i] = i
	}

	for k := 0; k < n; k++ {
		// Find pivot.
		p := k
		maxV := math.Abs(a[k*n+k])
		for i := k + 1; i < n; i++ {
			if v := math.Abs(a[i*n+k]); v > maxV {
				maxV = v
				p = i
			}
		}
		if maxV == 0 || math.IsNaN(maxV) || math.IsInf(maxV, 0) {
			return false
		}
		if p != k {
			for j := 0; j < n; j++ {
				a[k*n+j], a[p*n+j] = a[p*n+j], a[k*n+j]
			}
			piv[k], piv[p] = piv[p], piv[k]
		}
		// Factorize the trailing submatrix.
		pivot := a[k*n+k]
		for i := k + 1; i < n; i++ {
			a[i*n+k] /= pivot
			lik := a[i*n+k]
			for j := k + 1; j < n; j++ {
				a[i*n+j] -= lik * a[k*n+j]
			}
		}
	}

	// Apply the permutation to b: row i of the factors came from row piv[i].
	x := make([]float64, n)
	for i, p := range piv[:n] {
		x[i] = b[p]
	}
	copy(b[:n], x)

	// 𝐋𝐲 = 𝐏𝐛
	for i := 1; i < n; i++ {
		b[i] -= ddot(i, a[i*n:], 1, b, 1)
	}
	// 𝐔𝐱 = 𝐲
	for i := n - 1; i >= 0; i-- {
		s := b[i]
		for j := i + 1; j < n; j++ {
			s -= a[i*n+j] * b[j]
		}
		b[i] = s / a[i*n+i]
	}
	return true
}
