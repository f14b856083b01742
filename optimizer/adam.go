package optimizer

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// moments holds the Adam estimates and the bias-correction counter.
type moments struct {
	m, v []float64
	t    int
}

func newMoments(n int) *moments {
	return &moments{m: make([]float64, n), v: make([]float64, n)}
}

func (s *moments) reset() {
	clear(s.m)
	clear(s.v)
	s.t = 0
}

// direction folds g into the estimates and writes the bias-corrected step
// m̂/(eps+√v̂) into dst.
func (s *moments) direction(dst, g []float64, beta1, beta2, eps float64) {
	s.t++
	c1 := 1 - math.Pow(beta1, float64(s.t))
	c2 := 1 - math.Pow(beta2, float64(s.t))
	for i, gi := range g {
		s.m[i] = beta1*s.m[i] + (1-beta1)*gi
		s.v[i] = beta2*s.v[i] + (1-beta2)*gi*gi
		dst[i] = (s.m[i] / c1) / (eps + math.Sqrt(s.v[i]/c2))
	}
}

func validateAdam(alpha, beta1, beta2, eps float64) error {
	if !(alpha > 0) {
		return errors.New("alpha must be > 0")
	}
	if beta1 < 0 || beta1 >= 1 {
		return errors.New("beta1 must be in [0,1)")
	}
	if beta2 < 0 || beta2 >= 1 {
		return errors.New("beta2 must be in [0,1)")
	}
	if !(eps > 0) {
		return errors.New("eps must be > 0")
	}
	return nil
}

// AdamSettings are the hyperparameters of plain Adam.
type AdamSettings struct {
	MaxIter  int     `mapstructure:"max_iter" yaml:"max_iter"`
	Diff     float64 `mapstructure:"diff" yaml:"diff"`
	GradDiff float64 `mapstructure:"grad_diff" yaml:"grad_diff"`
	Alpha    float64 `mapstructure:"alpha" yaml:"alpha"`
	Beta1    float64 `mapstructure:"beta1" yaml:"beta1"`
	Beta2    float64 `mapstructure:"beta2" yaml:"beta2"`
	Eps      float64 `mapstructure:"eps" yaml:"eps"`
}

// DefaultAdamSettings returns the plain Adam defaults.
func DefaultAdamSettings() AdamSettings {
	return AdamSettings{
		MaxIter:  50000,
		Diff:     1e-10,
		GradDiff: 1e-4,
		Alpha:    0.02,
		Beta1:    0.9,
		Beta2:    0.999,
		Eps:      1e-8,
	}
}

// Validate checks the iteration limit and the Adam hyperparameters.
func (s AdamSettings) Validate() error {
	if s.MaxIter <= 0 {
		return errors.New("max_iter must be > 0")
	}
	return validateAdam(s.Alpha, s.Beta1, s.Beta2, s.Eps)
}

// Criterion is an extra stop rule for Adam: the run continues while it
// returns true.
type Criterion func(objective float64, x, grad []float64) bool

// Adam runs until the objective change drops below Diff, the gradient norm
// below GradDiff, MaxIter is reached or Criterion returns false.
type Adam struct {
	Settings  AdamSettings
	Criterion Criterion
	Observer  Observer
}

// NewAdam validates s.
func NewAdam(s AdamSettings) (*Adam, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid adam settings: %w", err)
	}
	return &Adam{Settings: s}, nil
}

// Run ignores the barrier weight: problems are evaluated with gamma = 0.
func (a *Adam) Run(p Problem, x0 []float64) (Result, error) {
	start := time.Now()
	if err := checkStart(p, x0); err != nil {
		return Result{}, err
	}
	s := a.Settings
	obs := observerOrNop(a.Observer)
	n := p.Dim()
	x := append([]float64(nil), x0...)
	g := make([]float64, n)
	d := make([]float64, n)
	mom := newMoments(n)

	fx, err := p.Evaluate(x, 0, g)
	if err != nil {
		return Result{}, fmt.Errorf("evaluating start position: %w", err)
	}
	obs.Iteration(0, 0, fx)

	fprev := math.Inf(1)
	i := 0
	for math.Abs(fprev-fx) > s.Diff && floats.Norm(g, 2) > s.GradDiff && i < s.MaxIter &&
		(a.Criterion == nil || a.Criterion(fx, x, g)) {
		i++
		mom.direction(d, g, s.Beta1, s.Beta2, s.Eps)
		floats.AddScaled(x, -s.Alpha, d)
		fprev = fx
		if fx, err = p.Evaluate(x, 0, g); err != nil {
			return Result{}, fmt.Errorf("iteration %d: %w", i, err)
		}
		obs.Iteration(0, i, fx)
	}

	report := StageReport{Alpha: s.Alpha, Iterations: i, Objective: fx}
	if i >= s.MaxIter && math.Abs(fprev-fx) > s.Diff && floats.Norm(g, 2) > s.GradDiff {
		report.Err = ErrNonConvergence
	}
	obs.StageDone(report)
	return Result{
		X:          x,
		Objective:  fx,
		Iterations: i,
		Stages:     []StageReport{report},
		Duration:   time.Since(start),
	}, nil
}
