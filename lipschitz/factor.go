package lipschitz

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultStability is the shift added to Schur complements 1..L during training.
const DefaultStability = 0.01

// Factor is the block Cholesky factor of chi. The block lower bidiagonal
// matrix with D on the diagonal and L_i at block (i+1, i) times its transpose
// equals chi, plus eps·I on blocks 1..L when factored with eps > 0.
type Factor struct {
	Topology Topology
	D        []*mat.TriDense
	L        []*mat.Dense
}

// Factorize runs the forward block elimination on c. It never forms chi.
func Factorize(c *Certificate, eps float64) (*Factor, error) {
	topo := c.Topology
	nl := topo.Layers()
	f := &Factor{
		Topology: topo,
		D:        make([]*mat.TriDense, nl+1),
		L:        make([]*mat.Dense, nl),
	}

	n0 := topo.Width(0)
	d0 := mat.NewTriDense(n0, mat.Lower, nil)
	for k := 0; k < n0; k++ {
		d0.SetTri(k, k, c.Psi)
	}
	f.D[0] = d0
	l0 := c.Coupling(0)
	l0.Scale(1/c.Psi, l0)
	f.L[0] = l0

	for i := 1; i <= nl; i++ {
		x := c.Diag(i)
		x.SymRankK(x, -1, f.L[i-1])
		if eps > 0 {
			for k := 0; k < x.SymmetricDim(); k++ {
				x.SetSym(k, k, x.At(k, k)+eps)
			}
		}
		var chol mat.Cholesky
		if ok := chol.Factorize(x); !ok {
			return nil, fmt.Errorf("block %d: %w", i, ErrNotPositiveDefinite)
		}
		d := &mat.TriDense{}
		chol.LTo(d)
		f.D[i] = d
		if i == nl {
			break
		}
		// L_i·D_iᵀ = C_i, solved as D_i·L_iᵀ = C_iᵀ.
		var lt mat.Dense
		if err := solveTri(&lt, d, false, c.Coupling(i).T()); err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		li := &mat.Dense{}
		li.CloneFrom(lt.T())
		f.L[i] = li
	}
	return f, nil
}

// LogDet returns log det of the factored matrix.
func (f *Factor) LogDet() float64 {
	s := 0.0
	for _, d := range f.D {
		n, _ := d.Triangle()
		for k := 0; k < n; k++ {
			s += math.Log(d.At(k, k))
		}
	}
	return 2 * s
}

// Lower materializes the full lower triangular factor.
func (f *Factor) Lower() *mat.TriDense {
	topo := f.Topology
	out := mat.NewTriDense(topo.Order(), mat.Lower, nil)
	for i, d := range f.D {
		off := topo.Offset(i)
		n, _ := d.Triangle()
		for a := 0; a < n; a++ {
			for b := 0; b <= a; b++ {
				out.SetTri(off+a, off+b, d.At(a, b))
			}
		}
	}
	for i, l := range f.L {
		row, col := topo.Offset(i+1), topo.Offset(i)
		r, c := l.Dims()
		for a := 0; a < r; a++ {
			for b := 0; b < c; b++ {
				out.SetTri(row+a, col+b, l.At(a, b))
			}
		}
	}
	return out
}

// solveTri solves t·X = b (or tᵀ·X = b) into dst. Ill-conditioning alone is
// not an error; the result is still usable.
func solveTri(dst *mat.Dense, t *mat.TriDense, trans bool, b mat.Matrix) error {
	err := t.SolveTo(dst, trans, b)
	var cond mat.Condition
	if errors.As(err, &cond) && !math.IsInf(float64(cond), 1) {
		return nil
	}
	return err
}

// invertTri returns t⁻¹ under the same policy as solveTri.
func invertTri(t *mat.TriDense) (*mat.TriDense, error) {
	inv := &mat.TriDense{}
	err := inv.InverseTri(t)
	var cond mat.Condition
	if errors.As(err, &cond) && !math.IsInf(float64(cond), 1) {
		err = nil
	}
	return inv, err
}
