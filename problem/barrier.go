package problem

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"liptrain/lipschitz"
	"liptrain/nn"
	"liptrain/optimizer"
)

// Barrier is loss(W, b) - gamma·log det chi(Psi, W, T). With a Layout that
// carries T the multipliers are trained with the weights; otherwise the
// fixed T field is used.
type Barrier struct {
	Layout    Layout
	Oracle    LossOracle
	Psi       float64
	Stability float64
	T         []*mat.VecDense
}

// NewBarrier trains W, b and T together.
func NewBarrier(topo lipschitz.Topology, oracle LossOracle, psi float64) (*Barrier, error) {
	if !(psi > 0) {
		return nil, fmt.Errorf("bound must be positive, got %g", psi)
	}
	return &Barrier{
		Layout:    NewLayout(topo, true),
		Oracle:    oracle,
		Psi:       psi,
		Stability: lipschitz.DefaultStability,
	}, nil
}

// NewFixedT trains W and b under fixed multipliers T.
func NewFixedT(topo lipschitz.Topology, oracle LossOracle, psi float64, T []*mat.VecDense) (*Barrier, error) {
	if !(psi > 0) {
		return nil, fmt.Errorf("bound must be positive, got %g", psi)
	}
	if err := topo.CheckT(T); err != nil {
		return nil, err
	}
	return &Barrier{
		Layout:    NewLayout(topo, false),
		Oracle:    oracle,
		Psi:       psi,
		Stability: lipschitz.DefaultStability,
		T:         T,
	}, nil
}

func (b *Barrier) Dim() int { return b.Layout.Dim() }

func (b *Barrier) split(x []float64) ([]nn.Layer, []*mat.VecDense, error) {
	layers, T, err := b.Layout.Split(x)
	if err != nil {
		return nil, nil, err
	}
	if !b.Layout.WithT {
		T = b.T
	}
	return layers, T, nil
}

// Evaluate overwrites grad with the gradient of the loss plus gamma times
// the barrier gradient. Positions outside the cone wrap
// optimizer.ErrInfeasible.
func (b *Barrier) Evaluate(x []float64, gamma float64, grad []float64) (float64, error) {
	layers, T, err := b.split(x)
	if err != nil {
		return 0, err
	}
	gl, gT, err := b.Layout.Split(grad)
	if err != nil {
		return 0, err
	}
	clear(grad)

	loss, err := b.Oracle.LossGrad(layers, gl)
	if err != nil {
		return 0, fmt.Errorf("loss oracle: %w", err)
	}
	bar := lipschitz.Barrier{Topology: b.Layout.Topology, Psi: b.Psi, Stability: b.Stability}
	negLogDet, _, err := bar.Evaluate(nn.Weights(layers), T, gamma, nn.Weights(gl), gT)
	if err != nil {
		return 0, infeasible(err)
	}
	return loss + gamma*negLogDet, nil
}

// MaxStep bounds a step against the exact certificate, without the
// stability shift.
func (b *Barrier) MaxStep(x, dir []float64) (float64, error) {
	layers, T, err := b.split(x)
	if err != nil {
		return 0, err
	}
	dl, dT, err := b.Layout.Split(dir)
	if err != nil {
		return 0, err
	}
	c, err := lipschitz.NewCertificate(b.Layout.Topology, b.Psi, nn.Weights(layers), T)
	if err != nil {
		return 0, err
	}
	f, err := lipschitz.Factorize(c, 0)
	if err != nil {
		return 0, infeasible(err)
	}

	var step float64
	if b.Layout.WithT {
		step, err = lipschitz.StepBoundT(f, c, nn.Weights(dl), dT)
	} else {
		step, err = lipschitz.StepBound(f, c, nn.Weights(dl))
	}
	if errors.Is(err, lipschitz.ErrInfeasibleDirection) {
		return 0, fmt.Errorf("%w: %w", optimizer.ErrNoSafeStep, err)
	}
	return step, err
}

// CertifiedBound returns the smallest bound the T at x certifies for the
// weights at x.
func (b *Barrier) CertifiedBound(x []float64) (float64, error) {
	layers, T, err := b.split(x)
	if err != nil {
		return 0, err
	}
	return lipschitz.CertifiedBound(b.Layout.Topology, nn.Weights(layers), T)
}

func infeasible(err error) error {
	if errors.Is(err, lipschitz.ErrNotPositiveDefinite) {
		return fmt.Errorf("%w: %w", optimizer.ErrInfeasible, err)
	}
	return err
}

// Nominal is loss(W, b) + Rho·Σ‖W_i‖²_F. It has no barrier and ignores
// gamma.
type Nominal struct {
	Layout Layout
	Oracle LossOracle
	Rho    float64
}

// NewNominal builds the unconstrained problem with weight decay rho.
func NewNominal(topo lipschitz.Topology, oracle LossOracle, rho float64) *Nominal {
	return &Nominal{Layout: NewLayout(topo, false), Oracle: oracle, Rho: rho}
}

func (n *Nominal) Dim() int { return n.Layout.Dim() }

// Evaluate returns the batch loss plus the weight penalty.
func (n *Nominal) Evaluate(x []float64, _ float64, grad []float64) (float64, error) {
	layers, _, err := n.Layout.Split(x)
	if err != nil {
		return 0, err
	}
	gl, _, err := n.Layout.Split(grad)
	if err != nil {
		return 0, err
	}
	clear(grad)
	loss, err := n.Oracle.LossGrad(layers, gl)
	if err != nil {
		return 0, fmt.Errorf("loss oracle: %w", err)
	}
	if n.Rho == 0 {
		return loss, nil
	}
	for i, l := range layers {
		loss += n.Rho * math.Pow(mat.Norm(l.W, 2), 2)
		gl[i].W.Add(gl[i].W, scaled(2*n.Rho, l.W))
	}
	return loss, nil
}

// CertifiedBound is the product of spectral norms, the only bound available
// without multipliers.
func (n *Nominal) CertifiedBound(x []float64) (float64, error) {
	layers, _, err := n.Layout.Split(x)
	if err != nil {
		return 0, err
	}
	return lipschitz.TrivialBound(nn.Weights(layers)), nil
}

func scaled(s float64, a mat.Matrix) *mat.Dense {
	var d mat.Dense
	d.Scale(s, a)
	return &d
}
