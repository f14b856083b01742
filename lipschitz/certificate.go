package lipschitz

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Certificate is the LipSDP matrix chi(Psi², W, T). It is block tridiagonal
// with diagonal blocks
//
//	B_0 = Psi²·I,  B_i = 2·diag(T_{i-1}) for hidden i,  B_L = I
//
// and sub-diagonal couplings
//
//	C_i = -diag(T_i)·W_i for i < L-1,  C_{L-1} = -W_{L-1}.
//
// chi ⪰ 0 for some T ≥ 0 certifies that the network is Psi-Lipschitz for any
// activation with slope in [0, 1].
type Certificate struct {
	Topology Topology
	Psi      float64
	W        []*mat.Dense
	T        []*mat.VecDense
}

// NewCertificate checks all shapes against topo before any factorization.
func NewCertificate(topo Topology, psi float64, W []*mat.Dense, T []*mat.VecDense) (*Certificate, error) {
	if psi <= 0 {
		return nil, fmt.Errorf("lipschitz: bound must be positive, got %g", psi)
	}
	if err := topo.CheckWeights(W); err != nil {
		return nil, err
	}
	if err := topo.CheckT(T); err != nil {
		return nil, err
	}
	return &Certificate{Topology: topo, Psi: psi, W: W, T: T}, nil
}

// Diag returns the diagonal block B_i.
func (c *Certificate) Diag(i int) *mat.SymDense {
	n := c.Topology.Width(i)
	b := mat.NewSymDense(n, nil)
	for k := 0; k < n; k++ {
		switch {
		case i == 0:
			b.SetSym(k, k, c.Psi*c.Psi)
		case i == c.Topology.Layers():
			b.SetSym(k, k, 1)
		default:
			b.SetSym(k, k, 2*c.T[i-1].AtVec(k))
		}
	}
	return b
}

// Coupling returns the block C_i at position (i+1, i).
func (c *Certificate) Coupling(i int) *mat.Dense {
	return coupling(c.W[i], c.tFor(i))
}

// tFor returns the multipliers of the layer fed by W_i, nil for the output.
func (c *Certificate) tFor(i int) *mat.VecDense {
	if i == c.Topology.Layers()-1 {
		return nil
	}
	return c.T[i]
}

// Dense materializes chi. Only tests and the line search need it.
func (c *Certificate) Dense() *mat.SymDense {
	return blockMatrix(c.Topology,
		func(i int) mat.Symmetric { return c.Diag(i) },
		func(i int) mat.Matrix { return c.Coupling(i) },
	)
}

// coupling computes -diag(t)·w, or -w when t is nil.
func coupling(w *mat.Dense, t *mat.VecDense) *mat.Dense {
	r, cols := w.Dims()
	out := mat.NewDense(r, cols, nil)
	out.Apply(func(i, j int, v float64) float64 {
		if t == nil {
			return -v
		}
		return -t.AtVec(i) * v
	}, w)
	return out
}

// blockMatrix assembles a symmetric block-tridiagonal matrix. Either callback
// may be nil or return nil for an all-zero block.
func blockMatrix(topo Topology, diag func(i int) mat.Symmetric, sub func(i int) mat.Matrix) *mat.SymDense {
	s := mat.NewSymDense(topo.Order(), nil)
	nl := topo.Layers()
	for i := 0; i <= nl; i++ {
		off := topo.Offset(i)
		if diag != nil {
			if b := diag(i); b != nil {
				n := b.SymmetricDim()
				for a := 0; a < n; a++ {
					for k := a; k < n; k++ {
						s.SetSym(off+a, off+k, b.At(a, k))
					}
				}
			}
		}
		if i == nl || sub == nil {
			continue
		}
		if cb := sub(i); cb != nil {
			row := topo.Offset(i + 1)
			r, cols := cb.Dims()
			for a := 0; a < r; a++ {
				for k := 0; k < cols; k++ {
					s.SetSym(row+a, off+k, cb.At(a, k))
				}
			}
		}
	}
	return s
}
