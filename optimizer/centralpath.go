package optimizer

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Settings are the hyperparameters of the central-path method.
type Settings struct {
	MaxIter   int     `mapstructure:"max_iter" yaml:"max_iter"`
	Stages    int     `mapstructure:"stages" yaml:"stages"`
	Diff      float64 `mapstructure:"diff" yaml:"diff"`
	Threshold float64 `mapstructure:"threshold" yaml:"threshold"`
	Window    int     `mapstructure:"window" yaml:"window"`
	Gamma     float64 `mapstructure:"gamma" yaml:"gamma"`
	Alpha     float64 `mapstructure:"alpha" yaml:"alpha"`
	Beta1     float64 `mapstructure:"beta1" yaml:"beta1"`
	Beta2     float64 `mapstructure:"beta2" yaml:"beta2"`
	Beta3     float64 `mapstructure:"beta3" yaml:"beta3"`
	AlphaDec  float64 `mapstructure:"alpha_dec" yaml:"alpha_dec"`
	GammaDec  float64 `mapstructure:"gamma_dec" yaml:"gamma_dec"`
	Eps       float64 `mapstructure:"eps" yaml:"eps"`
	// Guard bounds every step by the problem's MaxStep.
	Guard bool `mapstructure:"guard" yaml:"guard"`
}

// DefaultSettings returns the central-path defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxIter:   500000,
		Stages:    5,
		Diff:      1e-10,
		Threshold: 1e-8,
		Window:    300,
		Gamma:     1,
		Alpha:     0.02,
		Beta1:     0.9,
		Beta2:     0.999,
		Beta3:     5,
		AlphaDec:  0.5,
		GammaDec:  0.5,
		Eps:       1e-8,
	}
}

// Validate checks stage counts, decay factors and the Adam hyperparameters.
func (s Settings) Validate() error {
	switch {
	case s.MaxIter <= 0:
		return errors.New("max_iter must be > 0")
	case s.Stages <= 0:
		return errors.New("stages must be > 0")
	case s.Window <= 0:
		return errors.New("window must be > 0")
	case !(s.Gamma > 0):
		return errors.New("gamma must be > 0")
	case !(s.Beta3 > 0):
		return errors.New("beta3 must be > 0")
	case !(s.AlphaDec > 0 && s.AlphaDec <= 1):
		return errors.New("alpha_dec must be in (0,1]")
	case !(s.GammaDec > 0 && s.GammaDec <= 1):
		return errors.New("gamma_dec must be in (0,1]")
	}
	return validateAdam(s.Alpha, s.Beta1, s.Beta2, s.Eps)
}

// CentralPath runs Adam through a decreasing sequence of barrier weights.
// Stage k stops once the objective change falls below Diff·Beta3^(S-k), the
// windowed average decrease rises above -Threshold·Beta3^(S-k) or MaxIter
// iterations are spent. Between stages gamma and alpha are scaled by
// GammaDec and AlphaDec.
type CentralPath struct {
	Settings Settings
	Observer Observer
}

// NewCentralPath validates s.
func NewCentralPath(s Settings) (*CentralPath, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid central path settings: %w", err)
	}
	return &CentralPath{Settings: s}, nil
}

// Run fails only for a dimension mismatch, an infeasible start or a
// problem error unrelated to feasibility. A step that leaves the feasible
// region is reverted and ends its stage, which is reported as failed.
func (c *CentralPath) Run(p Problem, x0 []float64) (Result, error) {
	start := time.Now()
	if err := checkStart(p, x0); err != nil {
		return Result{}, err
	}
	s := c.Settings
	var guard Guard
	if s.Guard {
		var ok bool
		if guard, ok = p.(Guard); !ok {
			return Result{}, errors.New("optimizer: guarded run needs a problem implementing Guard")
		}
	}
	certifier, _ := p.(Certifier)
	obs := observerOrNop(c.Observer)

	n := p.Dim()
	x := append([]float64(nil), x0...)
	prev := make([]float64, n)
	g := make([]float64, n)
	d := make([]float64, n)
	mom := newMoments(n)

	gamma, alpha := s.Gamma, s.Alpha
	w := float64(s.Window)
	var (
		fx     float64
		total  int
		stages []StageReport
	)
	for k := 0; k < s.Stages; k++ {
		scale := math.Pow(s.Beta3, float64(s.Stages-k))
		diff, threshold := s.Diff*scale, s.Threshold*scale
		report := StageReport{Stage: k, Gamma: gamma, Alpha: alpha}

		f, err := p.Evaluate(x, gamma, g)
		if err != nil {
			if k == 0 {
				return Result{}, fmt.Errorf("evaluating start position: %w", err)
			}
			return Result{}, fmt.Errorf("stage %d: %w", k, err)
		}
		fx = f
		obs.Iteration(k, 0, fx)
		mom.reset()

		fprev, avg := math.Inf(1), -10.0
		i := 0
		for math.Abs(fprev-fx) > diff && i < s.MaxIter && avg < -threshold {
			i++
			mom.direction(d, g, s.Beta1, s.Beta2, s.Eps)

			dalpha := 1.0
			if guard != nil {
				step, err := guard.MaxStep(x, d)
				switch {
				case errors.Is(err, ErrNoSafeStep):
					step = 0
				case errors.Is(err, ErrInfeasible):
					report.Failed, report.Err = true, err
				case err != nil:
					return Result{}, fmt.Errorf("stage %d iteration %d: %w", k, i, err)
				}
				if report.Failed {
					break
				}
				if step < alpha*dalpha {
					mom.reset()
					dalpha = step / alpha / 4
					report.GuardHits++
				}
			}

			copy(prev, x)
			floats.AddScaled(x, -alpha*dalpha, d)
			f, err := p.Evaluate(x, gamma, g)
			if errors.Is(err, ErrInfeasible) {
				copy(x, prev)
				report.Failed, report.Err = true, err
				break
			}
			if err != nil {
				return Result{}, fmt.Errorf("stage %d iteration %d: %w", k, i, err)
			}
			fprev, fx = fx, f
			avg = ((w-1)*avg + fx - fprev) / w
			obs.Iteration(k, i, fx)
		}

		if !report.Failed && i >= s.MaxIter && math.Abs(fprev-fx) > diff && avg < -threshold {
			report.Err = ErrNonConvergence
		}
		report.Iterations = i
		report.Objective = fx
		if certifier != nil {
			bound, err := certifier.CertifiedBound(x)
			if err != nil && report.Err == nil {
				report.Err = fmt.Errorf("certifying stage %d: %w", k, err)
			}
			report.Bound = bound
		}
		obs.StageDone(report)
		stages = append(stages, report)
		total += i

		gamma *= s.GammaDec
		alpha *= s.AlphaDec
	}

	return Result{
		X:          x,
		Objective:  fx,
		Iterations: total,
		Stages:     stages,
		Duration:   time.Since(start),
	}, nil
}
