package optimizer

import (
	"github.com/sirupsen/logrus"
)

// Observer receives progress from a run. iter is zero for the evaluation at
// the start of a stage.
type Observer interface {
	Iteration(stage, iter int, objective float64)
	StageDone(r StageReport)
}

// LogObserver logs every Every-th iteration and each finished stage.
type LogObserver struct {
	Logger logrus.FieldLogger
	Every  int
}

// Iteration logs the objective when iter is a multiple of Every.
func (o LogObserver) Iteration(stage, iter int, objective float64) {
	if o.Every <= 0 || iter%o.Every != 0 {
		return
	}
	o.Logger.WithFields(logrus.Fields{
		"stage": stage,
		"iter":  iter,
	}).Infof("objective %g", objective)
}

// StageDone logs the stage report, as a warning for failed or unconverged
// stages.
func (o LogObserver) StageDone(r StageReport) {
	entry := o.Logger.WithFields(logrus.Fields{
		"stage":      r.Stage,
		"gamma":      r.Gamma,
		"alpha":      r.Alpha,
		"iterations": r.Iterations,
		"guard_hits": r.GuardHits,
	})
	if r.Bound > 0 {
		entry = entry.WithField("bound", r.Bound)
	}
	switch {
	case r.Failed:
		entry.WithError(r.Err).Warn("stage aborted")
	case r.Err != nil:
		entry.WithError(r.Err).Warnf("stage finished with objective %g", r.Objective)
	default:
		entry.Infof("stage finished with objective %g", r.Objective)
	}
}

// Series records the objective at every iteration.
type Series struct {
	Values []float64
}

// Iteration appends objective.
func (s *Series) Iteration(_, _ int, objective float64) {
	s.Values = append(s.Values, objective)
}

func (s *Series) StageDone(StageReport) {}

// Observers fans out to several observers in order.
type Observers []Observer

// Iteration forwards to every observer.
func (obs Observers) Iteration(stage, iter int, objective float64) {
	for _, o := range obs {
		o.Iteration(stage, iter, objective)
	}
}

// StageDone forwards to every observer.
func (obs Observers) StageDone(r StageReport) {
	for _, o := range obs {
		o.StageDone(r)
	}
}

type nopObserver struct{}

func (nopObserver) Iteration(int, int, float64) {}
func (nopObserver) StageDone(StageReport)       {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
