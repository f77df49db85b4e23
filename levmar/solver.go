// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package levmar solves nonlinear least-squares problems with the
// Levenberg-Marquardt algorithm.
//
// Given a residual 𝒇 : ℝⁿ → ℝᵐ the solver minimizes 𝚛𝚖𝚜(𝒇(𝐱)) by a
// damped Gauss-Newton iteration. Each outer iteration forms the
// normal-equation approximation
//   - 𝐇 = 𝐉ᵀ𝐉 (Gauss-Newton Hessian)
//   - 𝐠 = 𝐉ᵀ𝐲 (error gradient)
//
// with 𝐉 obtained by parallel forward differences, then searches a
// damping λ such that the step solved from the augmented system
//
//	(𝐇 + λ·𝚍𝚒𝚊𝚐(𝐇)) 𝚫 = -𝐠
//
// improves the error. Scaling the damping by 𝚍𝚒𝚊𝚐(𝐇) keeps the
// iteration invariant to the relative magnitude of the parameters.
// The damping interpolates between Gauss-Newton (λ→0) and scaled
// gradient descent (λ→∞): it is divided by the gain η on acceptance
// and multiplied by η on rejection.
//
// The iteration stops when the accepted update count reaches the
// limit, when the ratio of the two latest accepted error drops or the
// relative step size falls below the threshold, or when a rejected
// step can make no further progress (λ = 0 or the trial cap).
// A parameter the residual does not respond to (a zero on 𝚍𝚒𝚊𝚐(𝐇))
// or a non-finite step aborts the solve as ill-posed.
//
// # Reference
//
// K. Madsen, H.B. Nielsen, O. Tingleff:
// "Methods for Non-Linear Least Squares Problems". IMM, DTU, 2004
package levmar

import (
	"math"
	"strings"
)

// lmSolver is the main driver for iterations in an optimization
// process, responsible for managing the flow of the optimization.
type lmSolver struct {
	optimizer *Optimizer
	workspace *Workspace
	location  *lmLoc
}

// mainLoop is the main execution loop of the iteration process:
// one Jacobian per outer iteration, a damping search per inner loop.
func (s *lmSolver) mainLoop() Status {

	o, w, loc := s.optimizer, s.workspace, s.location
	t, log := o.target, &o.logger

	m, n := w.m, w.n
	stop := o.stop

	if err := t.Evaluate(loc.x, loc.y); err != nil {
		if log.enable(LogLast) {
			log.log("%v\n", err)
		}
		return HaltEvalPanic
	}
	loc.e = rms(loc.y)

	// Nothing to optimize: succeed immediately with unchanged state.
	if n == 0 {
		if !t.SetSolution(loc.x) {
			return BadSolution
		}
		return Converged
	}

	lambda, eta := o.lambda, o.eta
	converged := false

	if log.enable(LogIter) {
		s.printHead()
		log.log("%6d %12.5e %16.5e\n", 0, loc.e, lambda)
	}

	for !converged {

		// J at the current best location
		if err := t.Jacobian(loc.x, loc.y, w.jac); err != nil {
			if log.enable(LogLast) {
				log.log("%v\n", err)
			}
			return HaltEvalPanic
		}

		// 𝐇 = 𝐉ᵀ𝐉 and 𝐠 = 𝐉ᵀ𝐲 from the column views of J
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				h := ddot(m, w.jac[i:], n, w.jac[j:], n)
				w.hes[i*n+j] = h
				w.hes[j*n+i] = h
			}
			w.grd[i] = ddot(m, w.jac[i:], n, loc.y, 1)
		}

		if lambda < 0 {
			mean := 0.0
			for i := 0; i < n; i++ {
				mean += w.hes[i*n+i]
			}
			lambda = mean / float64(n)
		}

		better := false
		trials := 0
		var derrRatio, stepRatio float64

		for !better && !converged {

			// augmented normal equations
			solved := s.solveStep(lambda)
			stepNorm := dnrm2(n, w.dlt, 1)

			xTry := t.ApplyUpdate(loc.x, w.dlt)
			if err := t.Evaluate(xTry, w.ytry); err != nil {
				if log.enable(LogLast) {
					log.log("%v\n", err)
				}
				return HaltEvalPanic
			}

			eTry := rms(w.ytry)
			de := loc.e - eTry

			better = de > 0
			trials++
			w.trials++

			if better { // accept the update
				lambda /= eta
				loc.x = xTry
				loc.y, w.ytry = w.ytry, loc.y
				loc.e = eTry
				w.derr = append(w.derr, de)
				w.updates++
			} else { // reject the update
				lambda *= eta
			}

			// convergence control
			derrRatio = 1.0
			if k := len(w.derr); k > 1 {
				derrRatio = w.derr[k-1] / w.derr[k-2]
			}
			stepRatio = stepNorm / dnrm2(len(loc.x), loc.x, 1)

			converged = converged || w.updates >= stop.MaxIterations
			converged = converged || (w.updates > 1 && derrRatio < stop.Epsilon)
			converged = converged || (w.updates > 1 && stepRatio < stop.Epsilon)
			converged = converged || (!better && (lambda == 0 || trials >= stop.MaxIterations))

			// Parameters the residual does not respond to make the
			// augmented system singular at any damping.
			ill := false
			for d := 0; d < n; d++ {
				if w.hes[d*n+d] == 0 {
					if log.enable(LogLast) {
						log.log("change of parameter %d not responsive\n", t.Active()[d])
					}
					ill = true
				}
			}
			ill = ill || !solved || math.IsInf(stepNorm, 0) || math.IsNaN(stepNorm)

			if ill {
				if log.enable(LogLast) {
					log.log("problem ill-posed\n")
				}
				return IllPosed
			}
		}

		if log.enable(LogIter) {
			log.log("%6d %12.5e %16.5e %16.5e %16.5e\n", w.updates, loc.e, lambda, stepRatio, derrRatio)
		}
		if o.observer != nil {
			o.observer(Record{
				Updates:   w.updates,
				RMSE:      loc.e,
				Lambda:    lambda,
				StepRatio: stepRatio,
				DerrRatio: derrRatio,
			})
		}
	}

	if !t.SetSolution(loc.x) {
		if log.enable(LogLast) {
			log.log("error setting solution\n")
		}
		return BadSolution
	}
	return Converged
}

// solveStep forms 𝐀 = 𝐇 + λ·𝚍𝚒𝚊𝚐(𝐇) and solves 𝐀𝚫 = -𝐠 into the
// workspace. Cholesky first; the augmented matrix loses positive
// definiteness only near singularity, where a pivoted LU still
// recovers a usable step.
func (s *lmSolver) solveStep(lambda float64) bool {
	w := s.workspace
	n := w.n

	augment := func() {
		copy(w.aug, w.hes)
		for i := 0; i < n; i++ {
			w.aug[i*n+i] += lambda * w.hes[i*n+i]
		}
		for i, g := range w.grd {
			w.dlt[i] = -g
		}
	}

	augment()
	if cholSolve(n, w.aug, w.dlt) {
		return true
	}
	augment()
	return luSolve(n, w.aug, w.dlt, w.piv)
}

func (s *lmSolver) printHead() {
	log := &s.optimizer.logger
	log.log("%s\n", strings.Repeat("=", 80))
	log.log("%6s %12s %16s %16s %16s\n", "Update", "RMSE", "lambda", "Rel. Step Size", "Rel. Error Drop")
	log.log("%s\n", strings.Repeat("=", 80))
}
