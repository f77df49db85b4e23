// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lsq

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
)

// Evaluation evaluates the residual 𝒇(𝐱) : ℝⁿ⁰ → ℝᵐ.
//
// The argument x passed to this function is an n₀-vector.
// The result is stored in an m-vector y.
//
// The function must be free of hidden shared mutable state:
// the Jacobian engine invokes it from multiple goroutines in parallel
// without synchronization. A panic signals an ill-defined residual.
type Evaluation func(x, y []float64)

// Problem is the capability set a residual provider exposes to a solver.
//
// The provider configuration (active set, sparsity pattern, difference
// step) must stay immutable for the duration of one solve.
type Problem interface {
	// Vars returns the declared parameter-space dimension n₀.
	Vars() int
	// Conds returns the residual dimension m.
	Conds() int
	// Active returns the ordered subset of {0..n₀-1} the solver may perturb.
	// The returned slice is read-only.
	Active() []int
	// SetActiveVars replaces the active set.
	// It reports false when any index is out of the parameter space.
	SetActiveVars(idx []int) bool
	// Evaluate computes y = 𝒇(x) with |x| = n₀ and |y| = m.
	// A non-nil error indicates an ill-defined residual.
	Evaluate(x, y []float64) error
	// ApplyUpdate produces a new parameter vector by adding delta
	// (of the active size) into the active positions of x0.
	ApplyUpdate(x0, delta []float64) []float64
	// Jacobian approximates J ∈ ℝᵐˣⁿ at x by forward differences,
	// reusing the known residual y = 𝒇(x). jac is m×n row-major.
	Jacobian(x, y, jac []float64) error
	// SetSolution installs the accepted parameters.
	// Invoked once by the solver on successful termination.
	SetSolution(x []float64) bool
}

// Spec specifies a least-squares problem over a vectorizable model.
type Spec struct {
	// The parameter-space dimension n₀.
	Vars int
	// The residual dimension m.
	Conds int
	// The residual function 𝒇(𝐱).
	Object Evaluation
	// Optional m × n₀ row-major mask where a zero entry means the
	// residual component is independent of the parameter. Masked
	// Jacobian entries are skipped during differentiation and left zero.
	Pattern []float64
	// The forward-difference perturbation h > 0.
	// When zero, √𝛆 of the machine precision is used.
	DiffStep float64
	// The number of differentiation workers.
	// When zero, the hardware concurrency is used.
	DiffThreads int
	// Optional sink restored with the accepted parameters on success.
	Solution Vectorizable
}

// New creates a least-squares problem for the given spec.
// All parameters are initially active.
func (s *Spec) New() (p *LeastSquares, err error) {

	vars, conds := s.Vars, s.Conds

	step := s.DiffStep
	if step == 0 {
		step = sqrtEps
	}

	threads := s.DiffThreads
	if threads == 0 {
		threads = runtime.NumCPU()
	}

	switch {
	case vars <= 0 || conds <= 0:
		err = errors.New("negative dimensions")
	case s.Object == nil:
		err = errors.New("object function is required")
	case s.Pattern != nil && len(s.Pattern) != conds*vars:
		err = errors.New("invalid pattern dimensions")
	case step < 0:
		err = errors.New("difference step must greater than 0")
	case threads < 0:
		err = errors.New("difference threads must greater than 0")
	case s.Solution != nil && s.Solution.Dim() != vars:
		err = errors.New("solution sink dimension not match spec")
	}

	if err != nil {
		return
	}

	varIdx := make([]int, vars)
	for i := range varIdx {
		varIdx[i] = i
	}

	p = &LeastSquares{
		vars: vars, conds: conds,
		varIdx:   varIdx,
		pattern:  slices.Clone(s.Pattern),
		step:     step,
		threads:  threads,
		object:   s.Object,
		solution: s.Solution,
	}
	return
}

// LeastSquares is the base residual provider for least-squares solvers.
//
// It owns the active-variable mask, the optional Jacobian sparsity
// pattern and the numerical differentiation scheme. Domain models plug
// in through the Evaluation function and the Vectorizable sink.
type LeastSquares struct {
	vars, conds int
	varIdx      []int
	pattern     []float64
	step        float64
	threads     int
	object      Evaluation
	solution    Vectorizable
	final       []float64
}

// Vars returns the declared parameter-space dimension n₀.
func (p *LeastSquares) Vars() int { return p.vars }

// Conds returns the residual dimension m.
func (p *LeastSquares) Conds() int { return p.conds }

// Active returns the ordered active-variable indices.
func (p *LeastSquares) Active() []int { return p.varIdx }

// SetActiveVars replaces the active set with idx.
// It reports false when any index is out of the parameter space.
func (p *LeastSquares) SetActiveVars(idx []int) bool {
	for _, v := range idx {
		if v < 0 || v >= p.vars {
			return false
		}
	}
	p.varIdx = slices.Clone(idx)
	return true
}

// Evaluate computes y = 𝒇(x).
// A panic raised by the residual function is recovered and reported
// as an ill-defined residual.
func (p *LeastSquares) Evaluate(x, y []float64) (err error) {
	if len(x) != p.vars || len(y) != p.conds {
		panic("bound check error")
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprint("residual not defined: ", r))
		}
	}()
	p.object(x, y)
	return
}

// EvaluateObject evaluates the residual of a domain object
// by storing it into its vector representation first.
func (p *LeastSquares) EvaluateObject(v Vectorizable) ([]float64, error) {
	x, ok := v.Store()
	if !ok || len(x) != p.vars {
		return nil, errors.New("vectorization failed")
	}
	y := make([]float64, p.conds)
	if err := p.Evaluate(x, y); err != nil {
		return nil, err
	}
	return y, nil
}

// ApplyUpdate produces a new parameter vector by adding delta into the
// active positions of x0. Non-active positions are copied unchanged.
func (p *LeastSquares) ApplyUpdate(x0, delta []float64) []float64 {
	if len(x0) != p.vars || len(delta) != len(p.varIdx) {
		panic("bound check error")
	}
	x := slices.Clone(x0)
	for i, v := range p.varIdx {
		x[v] += delta[i]
	}
	return x
}

// SetSolution installs the accepted parameters, restoring the solution
// sink when one is attached. It reports false when the sink refuses x.
func (p *LeastSquares) SetSolution(x []float64) bool {
	if len(x) != p.vars {
		return false
	}
	if p.solution != nil && !p.solution.Restore(x) {
		return false
	}
	p.final = slices.Clone(x)
	return true
}

// Solution returns the parameters accepted by the last successful
// solve, or nil when no solve has succeeded.
func (p *LeastSquares) Solution() []float64 { return p.final }
