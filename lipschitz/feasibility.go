package lipschitz

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// StepFloor caps the weights-only step bound at 1/StepFloor.
const StepFloor = 0.01

// realTol decides when an eigenvalue of the companion matrix counts as real.
const realTol = 1e-6

// StepBound returns the largest alpha with chi(W - alpha·dW, T) ⪰ 0, where f
// is the exact (eps = 0) factor of c. Along a weights-only direction
//
//	chi(W - alpha·dW) = chi - alpha·E(dW)
//
// so the crossing is 1/lambda_max of 𝓛⁻¹·E·𝓛⁻ᵀ.
func StepBound(f *Factor, c *Certificate, dW []*mat.Dense) (float64, error) {
	if err := c.Topology.CheckWeights(dW); err != nil {
		return 0, fmt.Errorf("direction: %w", err)
	}
	e := blockMatrix(c.Topology, nil, func(i int) mat.Matrix {
		return coupling(dW[i], c.tFor(i))
	})
	s, err := congruence(f.Lower(), e)
	if err != nil {
		return 0, err
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(s, false); !ok {
		return 0, errors.New("lipschitz: symmetric eigendecomposition failed")
	}
	vals := eig.Values(nil)
	return 1 / math.Max(vals[len(vals)-1], StepFloor), nil
}

// StepBoundT returns the largest alpha with chi(W - alpha·dW, T - alpha·dT) ⪰ 0.
// The dependence on alpha is quadratic,
//
//	chi - alpha·C1 + alpha²·C2,
//
// and with mu = 1/alpha the crossings are the eigenvalues of the companion
// matrix [[0, I], [-S2, S1]], S_k = 𝓛⁻¹·C_k·𝓛⁻ᵀ. The smallest positive alpha is
// one over the largest real positive mu. Without one, the bound is zero and
// ErrInfeasibleDirection is returned.
func StepBoundT(f *Factor, c *Certificate, dW []*mat.Dense, dT []*mat.VecDense) (float64, error) {
	topo := c.Topology
	if err := topo.CheckWeights(dW); err != nil {
		return 0, fmt.Errorf("direction: %w", err)
	}
	if err := topo.CheckT(dT); err != nil {
		return 0, fmt.Errorf("direction: %w", err)
	}
	nl := topo.Layers()

	c1 := blockMatrix(topo,
		func(i int) mat.Symmetric {
			if i == 0 || i == nl {
				return nil
			}
			d := dT[i-1]
			b := mat.NewSymDense(d.Len(), nil)
			for k := 0; k < d.Len(); k++ {
				b.SetSym(k, k, 2*d.AtVec(k))
			}
			return b
		},
		func(i int) mat.Matrix {
			if i == nl-1 {
				return coupling(dW[i], nil)
			}
			// -(diag(dT)·W + diag(T)·dW)
			out := coupling(c.W[i], dT[i])
			out.Add(out, coupling(dW[i], c.T[i]))
			return out
		},
	)
	c2 := blockMatrix(topo, nil, func(i int) mat.Matrix {
		if i == nl-1 {
			return nil
		}
		return coupling(dW[i], dT[i])
	})

	lower := f.Lower()
	s1, err := congruence(lower, c1)
	if err != nil {
		return 0, err
	}
	s2, err := congruence(lower, c2)
	if err != nil {
		return 0, err
	}

	n := topo.Order()
	a := mat.NewDense(2*n, 2*n, nil)
	for i := 0; i < n; i++ {
		a.Set(i, n+i, 1)
		for j := 0; j < n; j++ {
			a.Set(n+i, j, -s2.At(i, j))
			a.Set(n+i, n+j, s1.At(i, j))
		}
	}
	var eig mat.Eigen
	if ok := eig.Factorize(a, mat.EigenNone); !ok {
		return 0, errors.New("lipschitz: eigendecomposition failed")
	}
	best := 0.0
	for _, mu := range eig.Values(nil) {
		re := real(mu)
		if re <= 0 || math.Abs(imag(mu)) > realTol*math.Max(1, math.Abs(re)) {
			continue
		}
		best = math.Max(best, re)
	}
	if best == 0 {
		return 0, ErrInfeasibleDirection
	}
	return 1 / best, nil
}

// congruence returns lower⁻¹·a·lower⁻ᵀ.
func congruence(lower *mat.TriDense, a *mat.SymDense) (*mat.SymDense, error) {
	var y mat.Dense
	if err := solveTri(&y, lower, false, a); err != nil {
		return nil, err
	}
	var z mat.Dense
	if err := solveTri(&z, lower, false, y.T()); err != nil {
		return nil, err
	}
	n, _ := z.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(z.At(i, j)+z.At(j, i)))
		}
	}
	return s, nil
}
