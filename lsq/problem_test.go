// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lsq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// circle is a sample vectorizable model: center and radius.
type circle struct {
	cx, cy, r float64
}

func (c *circle) Dim() int { return 3 }

func (c *circle) Store() ([]float64, bool) {
	if c.r < 0 {
		return nil, false
	}
	return []float64{c.cx, c.cy, c.r}, true
}

func (c *circle) Restore(v []float64) bool {
	if len(v) != 3 || v[2] < 0 {
		return false
	}
	c.cx, c.cy, c.r = v[0], v[1], v[2]
	return true
}

func TestVectorizableRoundTrip(t *testing.T) {
	want := circle{cx: 2, cy: -1, r: 3.5}

	v, ok := want.Store()
	require.True(t, ok)
	require.Len(t, v, want.Dim())

	var got circle
	require.True(t, got.Restore(v))
	require.Equal(t, want, got)

	bad := circle{r: -1}
	_, ok = bad.Store()
	require.False(t, ok)
}

func TestSpecValidation(t *testing.T) {
	object := func(x, y []float64) { y[0] = x[0] }

	tests := []struct {
		name string
		spec Spec
		want string
	}{
		{"no dims", Spec{Object: object}, "negative dimensions"},
		{"no object", Spec{Vars: 1, Conds: 1}, "object function is required"},
		{"bad pattern", Spec{Vars: 2, Conds: 3, Object: object, Pattern: make([]float64, 5)}, "invalid pattern dimensions"},
		{"bad step", Spec{Vars: 1, Conds: 1, Object: object, DiffStep: -1e-6}, "difference step must greater than 0"},
		{"bad threads", Spec{Vars: 1, Conds: 1, Object: object, DiffThreads: -1}, "difference threads must greater than 0"},
		{"bad sink", Spec{Vars: 2, Conds: 2, Object: object, Solution: &circle{}}, "solution sink dimension not match spec"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.spec.New()
			require.EqualError(t, err, tt.want)
		})
	}

	p, err := (&Spec{Vars: 3, Conds: 4, Object: object}).New()
	require.NoError(t, err)
	require.Equal(t, 3, p.Vars())
	require.Equal(t, 4, p.Conds())
	require.Equal(t, []int{0, 1, 2}, p.Active())
}

func TestSetActiveVars(t *testing.T) {
	p, err := (&Spec{Vars: 4, Conds: 5, Object: func(x, y []float64) {}}).New()
	require.NoError(t, err)

	require.False(t, p.SetActiveVars([]int{0, 4}))
	require.False(t, p.SetActiveVars([]int{-1}))
	require.Equal(t, []int{0, 1, 2, 3}, p.Active())

	require.True(t, p.SetActiveVars([]int{3, 1}))
	require.Equal(t, []int{3, 1}, p.Active())

	require.True(t, p.SetActiveVars(nil))
	require.Empty(t, p.Active())
}

func TestApplyUpdate(t *testing.T) {
	p, err := (&Spec{Vars: 5, Conds: 5, Object: func(x, y []float64) {}}).New()
	require.NoError(t, err)
	require.True(t, p.SetActiveVars([]int{1, 3}))

	x0 := []float64{10, 20, 30, 40, 50}
	x := p.ApplyUpdate(x0, []float64{0.5, -0.25})

	require.Equal(t, []float64{10, 20.5, 30, 39.75, 50}, x)
	require.Equal(t, []float64{10, 20, 30, 40, 50}, x0)
}

func TestEvaluatePanic(t *testing.T) {
	p, err := (&Spec{Vars: 1, Conds: 1, Object: func(x, y []float64) {
		panic("negative determinant")
	}}).New()
	require.NoError(t, err)

	err = p.Evaluate([]float64{1}, []float64{0})
	require.ErrorContains(t, err, "residual not defined")
}

func TestEvaluateObject(t *testing.T) {
	// squared distance of the unit-square corners to the center minus the squared radius
	points := [][2]float64{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	object := func(x, y []float64) {
		for i, pt := range points {
			dx, dy := pt[0]-x[0], pt[1]-x[1]
			y[i] = dx*dx + dy*dy - x[2]*x[2]
		}
	}

	p, err := (&Spec{Vars: 3, Conds: 4, Object: object}).New()
	require.NoError(t, err)

	y, err := p.EvaluateObject(&circle{cx: 0.5, cy: 0.5, r: 1})
	require.NoError(t, err)
	for _, v := range y {
		require.InDelta(t, -0.5, v, 1e-15)
	}

	_, err = p.EvaluateObject(&circle{r: -1})
	require.EqualError(t, err, "vectorization failed")
}

func TestSetSolution(t *testing.T) {
	sink := &circle{}
	p, err := (&Spec{Vars: 3, Conds: 3, Object: func(x, y []float64) {}, Solution: sink}).New()
	require.NoError(t, err)
	require.Nil(t, p.Solution())

	require.False(t, p.SetSolution([]float64{1, 2}))
	require.False(t, p.SetSolution([]float64{1, 2, -3})) // sink refuses a negative radius
	require.Nil(t, p.Solution())

	require.True(t, p.SetSolution([]float64{1, 2, 3}))
	require.Equal(t, &circle{cx: 1, cy: 2, r: 3}, sink)
	require.Equal(t, []float64{1, 2, 3}, p.Solution())
}
