package lipschitz

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	maxBound      = 1e12
	bisectRelTol  = 1e-12
	bisectMaxIter = 200
	minNorm       = 1e-8
)

// TrivialBound returns the product of the spectral norms of W. It bounds the
// Lipschitz constant for any 1-Lipschitz activation.
func TrivialBound(W []*mat.Dense) float64 {
	b := 1.0
	for _, w := range W {
		b *= spectralNorm(w)
	}
	return b
}

func spectralNorm(a mat.Matrix) float64 {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDNone); !ok {
		return math.Inf(1)
	}
	return svd.Values(nil)[0]
}

// CertifiedBound returns the smallest Psi for which chi(Psi, W, T) is
// positive definite, found by bisection. chi is monotone in Psi since only
// B_0 depends on it.
func CertifiedBound(topo Topology, W []*mat.Dense, T []*mat.VecDense) (float64, error) {
	if _, err := NewCertificate(topo, 1, W, T); err != nil {
		return 0, err
	}
	feasible := func(psi float64) bool {
		_, err := Factorize(&Certificate{Topology: topo, Psi: psi, W: W, T: T}, 0)
		return err == nil
	}

	hi := 1.0
	for !feasible(hi) {
		hi *= 2
		if hi > maxBound {
			return math.Inf(1), fmt.Errorf("no bound below %g: %w", maxBound, ErrNotPositiveDefinite)
		}
	}
	lo := 0.0
	for it := 0; it < bisectMaxIter && hi-lo > bisectRelTol*hi; it++ {
		mid := 0.5 * (lo + hi)
		if feasible(mid) {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi, nil
}

// NormT returns uniform multipliers T_k = c_k·1 with
//
//	c_1 = Psi²/‖W_0‖²,  c_{k+1} = c_k/‖W_k‖²
//
// Each Schur complement then dominates c_k·I, so chi is positive definite
// whenever Psi > TrivialBound(W).
func NormT(topo Topology, W []*mat.Dense, psi float64) ([]*mat.VecDense, error) {
	if err := topo.CheckWeights(W); err != nil {
		return nil, err
	}
	if psi <= 0 {
		return nil, fmt.Errorf("lipschitz: bound must be positive, got %g", psi)
	}
	T := make([]*mat.VecDense, topo.Layers()-1)
	c := psi * psi
	for k := range T {
		a := math.Max(spectralNorm(W[k]), minNorm)
		c /= a * a
		n := topo.Width(k + 1)
		data := make([]float64, n)
		for i := range data {
			data[i] = c
		}
		T[k] = mat.NewVecDense(n, data)
	}
	return T, nil
}
