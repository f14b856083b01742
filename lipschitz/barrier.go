package lipschitz

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// BarrierGrad adds gamma·∇(-log det chi) to gradW and, when gradT is not nil,
// to gradT. With d(-log det chi) = -tr(chi⁻¹·dchi) only K_i and P_{i+1} are
// touched:
//
//	∂/∂W_i[a,b] = 2·T_i[a]·K_i[a,b]       (i < L-1)
//	∂/∂W_{L-1}  = 2·K_{L-1}
//	∂/∂T_i[a]   = 2·((K_i·W_iᵀ)[a,a] - P_{i+1}[a,a])
func BarrierGrad(c *Certificate, inv *Inverse, gamma float64, gradW []*mat.Dense, gradT []*mat.VecDense) error {
	topo := c.Topology
	if err := topo.CheckWeights(gradW); err != nil {
		return fmt.Errorf("weight gradient: %w", err)
	}
	if gradT != nil {
		if err := topo.CheckT(gradT); err != nil {
			return fmt.Errorf("T gradient: %w", err)
		}
	}

	nl := topo.Layers()
	for i := 0; i < nl; i++ {
		k, g := inv.K[i], gradW[i]
		t := c.tFor(i)
		g.Apply(func(a, b int, v float64) float64 {
			s := 2 * gamma
			if t != nil {
				s *= t.AtVec(a)
			}
			return v + s*k.At(a, b)
		}, g)
	}
	if gradT == nil {
		return nil
	}
	for i := 0; i < nl-1; i++ {
		k, w, p := inv.K[i], c.W[i], inv.P[i+1]
		g := gradT[i]
		for a := 0; a < g.Len(); a++ {
			kw := mat.Dot(k.RowView(a), w.RowView(a))
			g.SetVec(a, g.AtVec(a)+2*gamma*(kw-p.At(a, a)))
		}
	}
	return nil
}

// Barrier evaluates the barrier term -log det chi for a fixed bound Psi.
type Barrier struct {
	Topology Topology
	Psi      float64
	// Stability is the Schur complement shift, see DefaultStability.
	Stability float64
}

// Evaluate factors chi at (W, T), adds gamma times the barrier gradient into
// gradW and gradT (gradT may be nil) and returns -log det chi together with
// the factor.
func (b Barrier) Evaluate(W []*mat.Dense, T []*mat.VecDense, gamma float64, gradW []*mat.Dense, gradT []*mat.VecDense) (float64, *Factor, error) {
	c, err := NewCertificate(b.Topology, b.Psi, W, T)
	if err != nil {
		return 0, nil, err
	}
	f, err := Factorize(c, b.Stability)
	if err != nil {
		return 0, nil, err
	}
	inv, err := f.Inverse()
	if err != nil {
		return 0, nil, err
	}
	if err := BarrierGrad(c, inv, gamma, gradW, gradT); err != nil {
		return 0, nil, err
	}
	return -f.LogDet(), f, nil
}
