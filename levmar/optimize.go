// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package levmar

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/curioloop/leastsq/lsq"
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated (level < 0)
	LogNoop LogLevel = -1
	// LogLast print only warnings and the exit state
	LogLast LogLevel = 0
	// LogIter print the iteration table with one row per outer iteration
	LogIter LogLevel = 1
)

// Logger handles logging output for the optimizer.
// Note the writer must be thread-safe.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}

// Status is the final task state after a solve.
type Status int

const (
	// Converged the solve terminated on one of the convergence criteria.
	Converged Status = iota
	// HaltEvalPanic the residual evaluation failed in the driver or a worker.
	HaltEvalPanic
	// IllPosed a parameter is non-responsive or the proposed step is non-finite.
	IllPosed
	// BadSolution the solution sink refused the final parameters.
	BadSolution
	// BadVector a vectorizable entity failed to serialize.
	BadVector
)

// Termination specifies the stopping criteria for the optimization algorithm.
type Termination struct {
	// The iteration stop when the number of accepted updates reaches limit.
	// The same limit caps consecutive rejected trials within one iteration.
	MaxIterations int
	// Relative threshold shared by the error-drop ratio check
	// and the step-size ratio check.
	Epsilon float64
}

// Record is one per-update diagnostic tuple emitted at an
// outer-loop boundary.
//
// StepRatio and DerrRatio refer to the most recent inner trial,
// which may be a rejected one.
type Record struct {
	Updates   int     // Accepted updates so far.
	RMSE      float64 // Root mean square of the current best residual.
	Lambda    float64 // Damping after the inner loop.
	StepRatio float64 // ‖Δ‖ / ‖x‖ of the last trial.
	DerrRatio float64 // Ratio of the last two accepted error drops.
}

// Observer receives diagnostic records during the solve.
// Rendering is the consumer's concern; a nil observer changes
// nothing but the emission.
type Observer func(Record)

// Problem specifies the problem for the Levenberg-Marquardt optimizer.
type Problem struct {
	// The residual provider.
	Target lsq.Problem
	// The damping seed λ₀. A negative value requests the
	// 𝚖𝚎𝚊𝚗(𝚍𝚒𝚊𝚐(𝐉ᵀ𝐉)) heuristic on the first iteration.
	Damping float64
	// The gain factor η > 1 applied to the damping:
	// divide on acceptance, multiply on rejection.
	// When zero, 10 is used.
	Gain float64
	// Stop condition.
	Stop Termination
	// Optional diagnostics sink.
	Observer Observer
}

// New creates a new Levenberg-Marquardt optimizer for given problem.
func (p *Problem) New(logger *Logger) (optimizer *Optimizer, err error) {

	if logger == nil {
		logger = new(Logger)
		logger.Level = LogNoop
	}
	if logger.Msg == nil {
		logger.Msg = os.Stdout
	}

	gain := p.Gain
	if gain == 0 {
		gain = 10
	}

	switch {
	case p.Target == nil:
		err = errors.New("residual target is required")
	case gain <= 1 || math.IsNaN(gain):
		err = errors.New("gain factor must greater than 1")
	case p.Stop.MaxIterations <= 0:
		err = errors.New("max iteration must greater than 0")
	case p.Stop.Epsilon < 0 || math.IsNaN(p.Stop.Epsilon):
		err = errors.New("epsilon must not less than 0")
	case p.Target.Conds() < len(p.Target.Active()):
		err = errors.New("problem is under-determined")
	}

	if err != nil {
		return
	}

	optimizer = &Optimizer{
		lmSpec{
			target:   p.Target,
			lambda:   p.Damping,
			eta:      gain,
			stop:     p.Stop,
			observer: p.Observer,
			logger:   *logger,
		},
	}
	return
}

type lmSpec struct {
	target   lsq.Problem
	lambda   float64
	eta      float64
	stop     Termination
	observer Observer
	logger   Logger
}

// Optimizer implemented using the Levenberg-Marquardt algorithm.
type Optimizer struct {
	lmSpec
}

// Workspace contains the state and context of the optimization process.
// Given residual dimension m and active size n,
// total work space is approximately float64[mn + 2n² + 4n + m].
type Workspace struct {
	m, n int
	lmCtx
}

type lmCtx struct {
	jac  []float64 // m×n Jacobian
	hes  []float64 // n×n Gauss-Newton Hessian 𝐉ᵀ𝐉
	aug  []float64 // n×n augmented normal matrix
	grd  []float64 // n error gradient 𝐉ᵀ𝐲
	dlt  []float64 // n proposed step
	ytry []float64 // m trial residual
	piv  []int     // n pivot scratch
	// History of accepted error drops. Grows only on acceptance, so the
	// ratio observed during a rejection streak compares the latest two
	// accepted drops, which may be stale.
	derr    []float64
	updates int // accepted steps
	trials  int // total inner trials
}

func (c *lmCtx) clear() {
	c.derr = c.derr[:0]
	c.updates = 0
	c.trials = 0
}

// Result contains the final result of the optimization process.
type Result struct {
	OK      bool      // Whether the optimization was converged.
	X       []float64 // Final parameters in the full space.
	E       float64   // Final root mean square error.
	Summary           // Optimization summary.
}

// Summary contains a summary of the optimization process.
type Summary struct {
	Status     Status // Final task status after optimization.
	NumUpdates int    // Number of accepted updates.
	NumTrials  int    // Number of inner damping trials.
}

// Init allocate the workspace for the Levenberg-Marquardt optimizer.
// To avoid race conditions, separate workspaces need to be created for
// each goroutine. But multiple workspaces could share one optimizer.
func (o *Optimizer) Init() *Workspace {
	m, n := o.target.Conds(), len(o.target.Active())
	w := new(Workspace)
	w.m, w.n = m, n
	w.jac = make([]float64, m*n)
	w.hes = make([]float64, n*n)
	w.aug = make([]float64, n*n)
	w.grd = make([]float64, n)
	w.dlt = make([]float64, n)
	w.ytry = make([]float64, m)
	w.piv = make([]int, n)
	w.derr = make([]float64, 0, o.stop.MaxIterations)
	return w
}

// lmLoc is the current best location of the solve.
type lmLoc struct {
	x []float64 // best parameters, full space
	y []float64 // residual at x
	e float64   // rms of y
}

// Fit runs the optimization process using the initial guess x and workspace w.
func (o *Optimizer) Fit(x []float64, w *Workspace) *Result {

	if len(x) != o.target.Vars() {
		panic("initial x dimension not match spec")
	}

	if w.m != o.target.Conds() || w.n != len(o.target.Active()) {
		panic("workspace dimension not match spec")
	}

	loc := lmLoc{
		x: slices.Clone(x),
		y: make([]float64, w.m),
	}

	solver := lmSolver{
		optimizer: o,
		workspace: w,
		location:  &loc,
	}

	w.clear()
	res := solver.mainLoop()
	return &Result{
		OK: res == Converged,
		X:  loc.x, E: loc.e,
		Summary: Summary{
			Status:     res,
			NumUpdates: w.updates,
			NumTrials:  w.trials,
		},
	}
}

// FitObject runs the optimization process from the stored vector of a
// domain object. The accepted solution reaches the object through the
// solution sink of the target problem.
func (o *Optimizer) FitObject(v lsq.Vectorizable, w *Workspace) *Result {
	x, ok := v.Store()
	if !ok || len(x) != o.target.Vars() {
		if o.logger.enable(LogLast) {
			o.logger.log("vectorisation failed\n")
		}
		return &Result{Summary: Summary{Status: BadVector}}
	}
	return o.Fit(x, w)
}
