package optimizer

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// box is ½‖x - c‖² - gamma·Σ log(1 - x_i²) on the open unit box.
type box struct{ c []float64 }

func (b *box) Dim() int { return len(b.c) }

func (b *box) feasible(x []float64) error {
	for i, v := range x {
		if math.Abs(v) >= 1 {
			return fmt.Errorf("x[%d] = %g: %w", i, v, ErrInfeasible)
		}
	}
	return nil
}

func (b *box) Evaluate(x []float64, gamma float64, grad []float64) (float64, error) {
	if err := b.feasible(x); err != nil {
		return 0, err
	}
	f := 0.0
	for i, v := range x {
		d := v - b.c[i]
		s := 1 - v*v
		f += 0.5*d*d - gamma*math.Log(s)
		grad[i] = d + gamma*2*v/s
	}
	return f, nil
}

func (b *box) MaxStep(x, dir []float64) (float64, error) {
	if err := b.feasible(x); err != nil {
		return 0, err
	}
	step := math.Inf(1)
	for i, d := range dir {
		switch {
		case d > 0:
			step = math.Min(step, (x[i]+1)/d)
		case d < 0:
			step = math.Min(step, (x[i]-1)/d)
		}
	}
	return step, nil
}

func (b *box) CertifiedBound(x []float64) (float64, error) {
	m := 0.0
	for _, v := range x {
		m = math.Max(m, math.Abs(v))
	}
	return m, nil
}

// wall is Σ x_i with a guard that always returns the same answer.
type wall struct {
	n    int
	step float64
	err  error
}

func (w *wall) Dim() int { return w.n }

func (w *wall) Evaluate(x []float64, _ float64, grad []float64) (float64, error) {
	f := 0.0
	for i, v := range x {
		f += v
		grad[i] = 1
	}
	return f, nil
}

func (w *wall) MaxStep(_, _ []float64) (float64, error) { return w.step, w.err }

// line is -x, infeasible from 1 on.
type line struct{}

func (line) Dim() int { return 1 }

func (line) Evaluate(x []float64, _ float64, grad []float64) (float64, error) {
	if x[0] >= 1 {
		return 0, fmt.Errorf("x = %g: %w", x[0], ErrInfeasible)
	}
	grad[0] = -1
	return -x[0], nil
}

func TestCentralPathGuardedRunStaysFeasible(t *testing.T) {
	s := DefaultSettings()
	s.Stages = 3
	s.MaxIter = 20000
	s.Guard = true
	cp, err := NewCentralPath(s)
	require.NoError(t, err)
	series := &Series{}
	cp.Observer = series

	res, err := cp.Run(&box{c: []float64{2, -2}}, []float64{0, 0})
	require.NoError(t, err)

	require.Len(t, res.Stages, 3)
	gamma := 1.0
	for _, r := range res.Stages {
		assert.False(t, r.Failed, "stage %d", r.Stage)
		assert.Equal(t, gamma, r.Gamma)
		assert.Greater(t, r.Bound, 0.0)
		assert.Less(t, r.Bound, 1.0)
		gamma /= 2
	}
	assert.Greater(t, res.X[0], 0.5)
	assert.Less(t, res.X[1], -0.5)
	assert.Less(t, math.Abs(res.X[0]), 1.0)
	assert.Len(t, series.Values, res.Iterations+3)
}

func TestCentralPathGuardShrinksStep(t *testing.T) {
	s := DefaultSettings()
	s.Stages = 1
	s.MaxIter = 10
	s.Guard = true
	cp, err := NewCentralPath(s)
	require.NoError(t, err)

	res, err := cp.Run(&wall{n: 2, step: 0.004}, []float64{0, 0})
	require.NoError(t, err)

	r := res.Stages[0]
	assert.Equal(t, 10, r.GuardHits)
	assert.Equal(t, 10, r.Iterations)
	assert.ErrorIs(t, r.Err, ErrNonConvergence)
	// Every hit resets the moments, so each step is a quarter of the guard.
	for _, v := range res.X {
		assert.InDelta(t, -0.01, v, 1e-9)
	}
}

func TestCentralPathNoSafeStep(t *testing.T) {
	s := DefaultSettings()
	s.Stages = 1
	s.Guard = true
	cp, err := NewCentralPath(s)
	require.NoError(t, err)

	res, err := cp.Run(&wall{n: 1, err: fmt.Errorf("wall: %w", ErrNoSafeStep)}, []float64{0.5})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, res.X)
	assert.Equal(t, 1, res.Stages[0].GuardHits)
	assert.Equal(t, 1, res.Stages[0].Iterations)
	assert.NoError(t, res.Stages[0].Err)
}

func TestCentralPathRevertsInfeasibleStep(t *testing.T) {
	s := DefaultSettings()
	s.Stages = 2
	cp, err := NewCentralPath(s)
	require.NoError(t, err)

	res, err := cp.Run(line{}, []float64{0.955})
	require.NoError(t, err)

	require.Len(t, res.Stages, 2)
	assert.Equal(t, 3, res.Stages[0].Iterations)
	assert.Equal(t, 1, res.Stages[1].Iterations)
	for _, r := range res.Stages {
		assert.True(t, r.Failed)
		assert.ErrorIs(t, r.Err, ErrInfeasible)
	}
	assert.InDelta(t, 0.995, res.X[0], 1e-6)
	assert.InDelta(t, -0.995, res.Objective, 1e-6)
}

func TestCentralPathRejectsBadStart(t *testing.T) {
	cp, err := NewCentralPath(DefaultSettings())
	require.NoError(t, err)

	_, err = cp.Run(line{}, []float64{1.5})
	assert.ErrorIs(t, err, ErrInfeasible)

	_, err = cp.Run(line{}, []float64{0, 0})
	assert.Error(t, err)

	s := DefaultSettings()
	s.Guard = true
	cp, err = NewCentralPath(s)
	require.NoError(t, err)
	_, err = cp.Run(line{}, []float64{0})
	assert.ErrorContains(t, err, "Guard")
}

func TestSettingsValidate(t *testing.T) {
	require.NoError(t, DefaultSettings().Validate())
	for _, mutate := range []func(*Settings){
		func(s *Settings) { s.Stages = 0 },
		func(s *Settings) { s.Window = 0 },
		func(s *Settings) { s.Gamma = 0 },
		func(s *Settings) { s.GammaDec = 1.5 },
		func(s *Settings) { s.AlphaDec = 0 },
		func(s *Settings) { s.Beta2 = 1 },
	} {
		s := DefaultSettings()
		mutate(&s)
		_, err := NewCentralPath(s)
		assert.Error(t, err, "%+v", s)
	}
}
