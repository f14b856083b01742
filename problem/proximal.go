package problem

import (
	"fmt"

	"liptrain/optimizer"
)

// Proximal adds Rho/2·‖x - Center‖² to a problem, the subproblem form an
// augmented Lagrangian outer loop hands to the barrier optimizer. Guard and
// Certifier calls are forwarded to the wrapped problem.
type Proximal struct {
	Problem optimizer.Problem
	Center  []float64
	Rho     float64
}

func NewProximal(p optimizer.Problem, center []float64, rho float64) (*Proximal, error) {
	if len(center) != p.Dim() {
		return nil, fmt.Errorf("center has %d entries, problem has %d", len(center), p.Dim())
	}
	if rho < 0 {
		return nil, fmt.Errorf("rho must be non-negative, got %g", rho)
	}
	return &Proximal{Problem: p, Center: append([]float64(nil), center...), Rho: rho}, nil
}

func (p *Proximal) Dim() int { return p.Problem.Dim() }

// Evaluate adds Rho/2·‖x-Center‖² to the wrapped objective.
func (p *Proximal) Evaluate(x []float64, gamma float64, grad []float64) (float64, error) {
	f, err := p.Problem.Evaluate(x, gamma, grad)
	if err != nil {
		return 0, err
	}
	for i, v := range x {
		d := v - p.Center[i]
		f += 0.5 * p.Rho * d * d
		grad[i] += p.Rho * d
	}
	return f, nil
}

// MaxStep forwards to the wrapped problem's guard. The proximal term is
// defined everywhere and adds no constraint.
func (p *Proximal) MaxStep(x, dir []float64) (float64, error) {
	g, ok := p.Problem.(optimizer.Guard)
	if !ok {
		return 0, fmt.Errorf("wrapped %T has no feasibility guard", p.Problem)
	}
	return g.MaxStep(x, dir)
}

// CertifiedBound forwards to the wrapped problem.
func (p *Proximal) CertifiedBound(x []float64) (float64, error) {
	c, ok := p.Problem.(optimizer.Certifier)
	if !ok {
		return 0, fmt.Errorf("wrapped %T cannot certify a bound", p.Problem)
	}
	return c.CertifiedBound(x)
}
