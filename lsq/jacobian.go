// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lsq

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"golang.org/x/sync/errgroup"
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)

// jacSlice is one unit of differentiation work:
// estimate the partials of 𝒇 with respect to variable vr
// and write them into column col of the Jacobian.
type jacSlice struct {
	vr  int // index of the perturbed variable in the full space
	col int // column index in the reduced space
}

// Jacobian approximates J ∈ ℝᵐˣⁿ at x by forward finite differences
//
//	J[:,k] = (𝒇(𝐱 + h·𝐞ᵥₖ) - 𝒇(𝐱)) / h
//
// where vₖ is the k-th active variable and y = 𝒇(x) is reused from the
// caller. jac is m×n row-major with n the active size.
//
// Columns are assigned round-robin to the configured worker count.
// Each worker owns an independent perturbed copy of x and writes only
// into its own columns; y is shared read-only. The call blocks until
// all workers complete and reports the first evaluation failure
// observed after join.
//
// When a sparsity pattern is attached, entries masked by a zero stay
// zero, and a column whose mask is all-zero is not evaluated at all.
func (p *LeastSquares) Jacobian(x, y, jac []float64) error {

	n := len(p.varIdx)
	if len(x) != p.vars || len(y) != p.conds || len(jac) != p.conds*n {
		panic("bound check error")
	}

	for i := range jac {
		jac[i] = 0
	}
	if n == 0 {
		return nil
	}

	threads := min(p.threads, n)
	batches := make([][]jacSlice, threads)
	for i, vr := range p.varIdx {
		k := i % threads
		batches[k] = append(batches[k], jacSlice{vr: vr, col: i})
	}

	var g errgroup.Group
	for _, batch := range batches {
		batch := batch
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errors.New(fmt.Sprint("residual not defined: ", r))
				}
			}()
			p.diffWorker(batch, x, y, jac)
			return
		})
	}
	return g.Wait()
}

// diffWorker evaluates the assigned Jacobian columns sequentially.
// The perturbed copy of x is reused across columns, restoring the
// perturbed coordinate after each evaluation.
func (p *LeastSquares) diffWorker(batch []jacSlice, x, y, jac []float64) {

	m, n := p.conds, len(p.varIdx)
	h := p.step
	d := 1.0 / h

	xp := slices.Clone(x)
	fx := make([]float64, m)

	masking := len(p.pattern) > 0
	for _, s := range batch {
		if masking && p.zeroColumn(s.vr) {
			continue
		}

		t := xp[s.vr]
		xp[s.vr] = t + h
		p.object(xp, fx)
		xp[s.vr] = t

		for j := 0; j < m; j++ {
			if masking && p.pattern[j*p.vars+s.vr] == 0 {
				continue
			}
			jac[s.col+j*n] = (fx[j] - y[j]) * d
		}
	}
}

// zeroColumn reports whether the pattern masks out variable vr entirely.
func (p *LeastSquares) zeroColumn(vr int) bool {
	for j := 0; j < p.conds; j++ {
		if p.pattern[j*p.vars+vr] != 0 {
			return false
		}
	}
	return true
}
