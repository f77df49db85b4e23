// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lsq provides the residual-problem abstraction for nonlinear
// least-squares solvers: a vectorizable parameter mapping, a polymorphic
// residual evaluator with an active-variable mask, and a parallel
// forward-difference Jacobian engine.
package lsq

// Vectorizable is an entity with a lossless vector representation
// suitable for numerical optimization.
//
// The representation must satisfy the round-trip law
// Restore(Store(o)) ≡ o for any in-domain o.
type Vectorizable interface {
	// Dim returns the length of the vector representation.
	Dim() int
	// Store serializes the entity into a Dim-vector.
	// It reports false when the entity cannot be linearized.
	Store() ([]float64, bool)
	// Restore installs the given vector into the entity.
	// It reports false when v is not a valid representation.
	Restore(v []float64) bool
}
