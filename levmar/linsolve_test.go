// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package levmar

import (
	"math"
	"testing"
)

func almostEqual(want, got []float64, tol float64) bool {
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if math.Abs(want[i]-got[i]) > tol {
			return false
		}
	}
	return true
}

func TestCholSolve(t *testing.T) {
	a := []float64{
		4, 2,
		2, 3,
	}
	b := []float64{2, 5}

	switch {
	case !cholSolve(2, a, b):
		t.Fatal("TestCholSolve: Not Positive Definite")
	case !almostEqual([]float64{-0.5, 2}, b, 1e-14):
		t.Fatal("TestCholSolve: Wrong Solution")
	}
}

func TestCholNotPD(t *testing.T) {
	singular := []float64{
		0, 0,
		0, 1,
	}
	if cholSolve(2, singular, []float64{1, 1}) {
		t.Fatal("TestCholNotPD: Singular Accepted")
	}

	indefinite := []float64{
		1, 2,
		2, 1,
	}
	if cholSolve(2, indefinite, []float64{1, 1}) {
		t.Fatal("TestCholNotPD: Indefinite Accepted")
	}
}

func TestLUSolve(t *testing.T) {
	piv := make([]int, 2)

	// requires a row swap
	a := []float64{
		0, 2,
		1, 0,
	}
	b := []float64{2, 3}
	switch {
	case !luSolve(2, a, b, piv):
		t.Fatal("TestLUSolve: Singular Reported")
	case !almostEqual([]float64{3, 1}, b, 1e-14):
		t.Fatal("TestLUSolve: Wrong Solution")
	}

	// indefinite system rejected by Cholesky
	a = []float64{
		1, 2,
		2, 1,
	}
	b = []float64{3, 3}
	switch {
	case !luSolve(2, a, b, piv):
		t.Fatal("TestLUSolve: Singular Reported")
	case !almostEqual([]float64{1, 1}, b, 1e-14):
		t.Fatal("TestLUSolve: Wrong Solution")
	}
}

func TestLUPivotCycle(t *testing.T) {
	// Partial pivoting reorders the rows 1, 2, 0, a cycle of length 3.
	a := []float64{
		0.001, 1, 2,
		3, 4, 0.002,
		0.5, 5, 6,
	}
	orig := make([]float64, len(a))
	copy(orig, a)

	b := []float64{1, 2, 3}
	if !luSolve(3, a, b, make([]int, 3)) {
		t.Fatal("TestLUPivotCycle: Singular Reported")
	}

	// The solution must satisfy the original system, not a row permutation of it.
	for i := 0; i < 3; i++ {
		ax := orig[i*3]*b[0] + orig[i*3+1]*b[1] + orig[i*3+2]*b[2]
		if math.Abs(ax-float64(i+1)) > 1e-12 {
			t.Fatal("TestLUPivotCycle: Wrong Solution")
		}
	}
}

func TestLUSingular(t *testing.T) {
	a := []float64{
		1, 2,
		2, 4,
	}
	if luSolve(2, a, []float64{1, 1}, make([]int, 2)) {
		t.Fatal("TestLUSingular: Singular Accepted")
	}
}
