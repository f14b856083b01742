package lipschitz

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Inverse holds the diagonal blocks P_0..P_L and the sub-diagonal blocks
// K_0..K_{L-1} of chi⁻¹. No other block is ever computed.
type Inverse struct {
	P []*mat.SymDense
	K []*mat.Dense
}

// Inverse runs the backward sweep
//
//	P_L = D_L⁻ᵀ·D_L⁻¹
//	K_i = -P_{i+1}·L_i·D_i⁻¹
//	P_i = D_i⁻ᵀ·D_i⁻¹ - (L_i·D_i⁻¹)ᵀ·K_i
//
// at a cost of O(ΣN_i³).
func (f *Factor) Inverse() (*Inverse, error) {
	nl := f.Topology.Layers()
	inv := &Inverse{
		P: make([]*mat.SymDense, nl+1),
		K: make([]*mat.Dense, nl),
	}
	dinv, err := invertTri(f.D[nl])
	if err != nil {
		return nil, fmt.Errorf("block %d: %w", nl, err)
	}
	inv.P[nl] = gram(dinv)

	for i := nl - 1; i >= 0; i-- {
		dinv, err := invertTri(f.D[i])
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		var m mat.Dense
		m.Mul(f.L[i], dinv)

		k := &mat.Dense{}
		k.Mul(inv.P[i+1], &m)
		k.Scale(-1, k)
		inv.K[i] = k

		var mk mat.Dense
		mk.Mul(m.T(), k)
		p := gram(dinv)
		n := p.SymmetricDim()
		for a := 0; a < n; a++ {
			for b := a; b < n; b++ {
				p.SetSym(a, b, p.At(a, b)-0.5*(mk.At(a, b)+mk.At(b, a)))
			}
		}
		inv.P[i] = p
	}
	return inv, nil
}

// gram returns aᵀ·a.
func gram(a mat.Matrix) *mat.SymDense {
	_, n := a.Dims()
	s := mat.NewSymDense(n, nil)
	s.SymOuterK(1, a.T())
	return s
}
