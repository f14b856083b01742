package lipschitz

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

func randDense(src rand.Source, r, c int, sigma float64) *mat.Dense {
	dist := distuv.Normal{Mu: 0, Sigma: sigma, Src: src}
	data := make([]float64, r*c)
	for i := range data {
		data[i] = dist.Rand()
	}
	return mat.NewDense(r, c, data)
}

func randWeights(src rand.Source, topo Topology, sigma float64) []*mat.Dense {
	W := make([]*mat.Dense, topo.Layers())
	for i := range W {
		W[i] = randDense(src, topo.Width(i+1), topo.Width(i), sigma)
	}
	return W
}

// jitterT multiplies every entry of T by a factor in [0.8, 1.25].
func jitterT(src rand.Source, T []*mat.VecDense) {
	dist := distuv.Uniform{Min: math.Log(0.8), Max: math.Log(1.25), Src: src}
	for _, v := range T {
		for i := 0; i < v.Len(); i++ {
			v.SetVec(i, v.AtVec(i)*math.Exp(dist.Rand()))
		}
	}
}

// feasibleInstance builds a strictly feasible certificate with Psi at twice
// the trivial bound and jittered NormT multipliers.
func feasibleInstance(t *testing.T, seed uint64, widths ...int) *Certificate {
	t.Helper()
	src := rand.NewSource(seed)
	topo, err := NewTopology(widths...)
	require.NoError(t, err)
	W := randWeights(src, topo, 0.5)
	psi := 2 * TrivialBound(W)
	T, err := NormT(topo, W, psi)
	require.NoError(t, err)
	jitterT(src, T)
	c, err := NewCertificate(topo, psi, W, T)
	require.NoError(t, err)
	require.Greater(t, minEig(c.Dense()), 0.0, "fixture must be positive definite")
	return c
}

func minEig(s *mat.SymDense) float64 {
	var eig mat.EigenSym
	if ok := eig.Factorize(s, false); !ok {
		panic("eigendecomposition failed")
	}
	return eig.Values(nil)[0]
}

func denseLogDet(t *testing.T, s *mat.SymDense) float64 {
	t.Helper()
	var chol mat.Cholesky
	require.True(t, chol.Factorize(s), "matrix must be positive definite")
	return chol.LogDet()
}

func relErr(got, want mat.Matrix) float64 {
	var diff mat.Dense
	diff.Sub(got, want)
	return mat.Norm(&diff, 2) / math.Max(mat.Norm(want, 2), 1)
}

func scaleAll(W []*mat.Dense, s float64) []*mat.Dense {
	out := make([]*mat.Dense, len(W))
	for i, w := range W {
		out[i] = &mat.Dense{}
		out[i].Scale(s, w)
	}
	return out
}

var testTopologies = [][]int{
	{2, 3, 2},
	{2, 4, 4, 2},
	{3, 4, 5, 2},
	{1, 6, 3, 4, 2},
}
