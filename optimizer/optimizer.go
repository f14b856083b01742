// Package optimizer contains first-order methods over a flat position
// vector: plain Adam and the central-path Adam used with log-det barriers.
package optimizer

import (
	"errors"
	"fmt"
	"time"
)

// ErrNonConvergence marks a stage that used up its iteration budget. It is
// reported in StageReport.Err and never returned by Run.
var ErrNonConvergence = errors.New("optimizer: stage did not converge")

// Problems wrap ErrInfeasible when Evaluate or MaxStep is called outside the
// feasible region. A step that lands there is reverted and ends the stage.
var ErrInfeasible = errors.New("optimizer: infeasible position")

// ErrNoSafeStep is wrapped by Guard.MaxStep when no positive step along a
// direction is known to be safe. The step is treated as zero.
var ErrNoSafeStep = errors.New("optimizer: no safe step")

// Problem is an objective over a flat position.
type Problem interface {
	Dim() int
	// Evaluate overwrites grad with the gradient at x and returns the
	// objective. gamma weights the barrier term, if the problem has one.
	Evaluate(x []float64, gamma float64, grad []float64) (float64, error)
}

// Guard is implemented by problems with a feasible region. MaxStep returns
// the largest alpha with x - alpha·dir still feasible.
type Guard interface {
	MaxStep(x, dir []float64) (float64, error)
}

// Certifier is implemented by problems that can report the Lipschitz bound
// certified at a position.
type Certifier interface {
	CertifiedBound(x []float64) (float64, error)
}

// Optimizer minimises a problem from a start position. x0 is not modified.
type Optimizer interface {
	Run(p Problem, x0 []float64) (Result, error)
}

// StageReport summarises one central-path stage. Plain Adam reports a single
// stage.
type StageReport struct {
	Stage      int     `json:"stage"`
	Gamma      float64 `json:"gamma"`
	Alpha      float64 `json:"alpha"`
	Iterations int     `json:"iterations"`
	Objective  float64 `json:"objective"`
	GuardHits  int     `json:"guard_hits"`
	// Bound is the certified Lipschitz bound at the end of the stage, zero
	// when the problem is not a Certifier.
	Bound  float64 `json:"bound,omitempty"`
	Failed bool    `json:"failed"`
	Err    error   `json:"-"`
}

// Result is the final position of a run.
type Result struct {
	X          []float64
	Objective  float64
	Iterations int
	Stages     []StageReport
	Duration   time.Duration
}

func checkStart(p Problem, x0 []float64) error {
	if len(x0) != p.Dim() {
		return fmt.Errorf("optimizer: start position has %d entries, problem has %d", len(x0), p.Dim())
	}
	return nil
}
