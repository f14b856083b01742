package problem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"liptrain/lipschitz"
	"liptrain/nn"
	"liptrain/optimizer"
)

func TestBarrierGradientMatchesFiniteDifferences(t *testing.T) {
	topo, err := lipschitz.NewTopology(2, 3, 3, 2)
	require.NoError(t, err)
	layers, T, psi := feasibleStart(t, topo, 1)

	withT, err := NewBarrier(topo, fullBatch(t, topo, 2), psi)
	require.NoError(t, err)
	x, err := withT.Layout.Pack(layers, T)
	require.NoError(t, err)
	checkGradient(t, withT, x, 0.7)

	fixed, err := NewFixedT(topo, fullBatch(t, topo, 2), psi, T)
	require.NoError(t, err)
	x, err = fixed.Layout.Pack(layers, nil)
	require.NoError(t, err)
	checkGradient(t, fixed, x, 0.7)
}

func TestBarrierObjectiveCombinesLossAndBarrier(t *testing.T) {
	topo, err := lipschitz.NewTopology(2, 3, 2)
	require.NoError(t, err)
	layers, T, psi := feasibleStart(t, topo, 3)

	p, err := NewBarrier(topo, fullBatch(t, topo, 4), psi)
	require.NoError(t, err)
	x, err := p.Layout.Pack(layers, T)
	require.NoError(t, err)
	grad := make([]float64, p.Dim())

	lossOnly, err := p.Evaluate(x, 0, grad)
	require.NoError(t, err)
	full, err := p.Evaluate(x, 2, grad)
	require.NoError(t, err)

	bar := lipschitz.Barrier{Topology: topo, Psi: psi, Stability: lipschitz.DefaultStability}
	zeros := nn.ZeroLayers(topo.Widths())
	negLogDet, _, err := bar.Evaluate(nn.Weights(layers), T, 0, nn.Weights(zeros), nil)
	require.NoError(t, err)
	assert.InDelta(t, lossOnly+2*negLogDet, full, 1e-10)
}

func TestBarrierInfeasiblePosition(t *testing.T) {
	topo, err := lipschitz.NewTopology(2, 3, 2)
	require.NoError(t, err)
	layers, T, psi := feasibleStart(t, topo, 5)

	p, err := NewFixedT(topo, fullBatch(t, topo, 6), psi/10, T)
	require.NoError(t, err)
	x, err := p.Layout.Pack(layers, nil)
	require.NoError(t, err)

	_, err = p.Evaluate(x, 1, make([]float64, p.Dim()))
	assert.ErrorIs(t, err, optimizer.ErrInfeasible)
	assert.ErrorIs(t, err, lipschitz.ErrNotPositiveDefinite)

	_, err = p.MaxStep(x, make([]float64, p.Dim()))
	assert.ErrorIs(t, err, optimizer.ErrInfeasible)

	_, err = NewFixedT(topo, fullBatch(t, topo, 6), psi, T[:0])
	assert.ErrorIs(t, err, lipschitz.ErrDimensionMismatch)
	_, err = NewBarrier(topo, fullBatch(t, topo, 6), 0)
	assert.Error(t, err)
}

func TestBarrierMaxStepIsTight(t *testing.T) {
	topo, err := lipschitz.NewTopology(2, 4, 3, 2)
	require.NoError(t, err)
	layers, T, psi := feasibleStart(t, topo, 7)

	withT, err := NewBarrier(topo, fullBatch(t, topo, 8), psi)
	require.NoError(t, err)
	fixed, err := NewFixedT(topo, fullBatch(t, topo, 8), psi, T)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(9))
	for _, p := range []*Barrier{withT, fixed} {
		x, err := p.Layout.Pack(layers, T)
		require.NoError(t, err)
		dir := make([]float64, p.Dim())
		for i := range dir {
			dir[i] = 5 * rng.NormFloat64()
		}

		step, err := p.MaxStep(x, dir)
		require.NoError(t, err)
		require.Greater(t, step, 0.0)

		at := func(alpha float64) bool {
			y := append([]float64(nil), x...)
			floats.AddScaled(y, -alpha, dir)
			l, yT, err := p.split(y)
			require.NoError(t, err)
			return exactlyFeasible(topo, psi, l, yT)
		}
		assert.True(t, at(0.99*step), "with T %v", p.Layout.WithT)
		assert.False(t, at(1.01*step), "with T %v", p.Layout.WithT)
	}
}

func TestBarrierCertifiedBound(t *testing.T) {
	topo, err := lipschitz.NewTopology(2, 3, 2)
	require.NoError(t, err)
	layers, T, psi := feasibleStart(t, topo, 10)

	p, err := NewBarrier(topo, fullBatch(t, topo, 11), psi)
	require.NoError(t, err)
	x, err := p.Layout.Pack(layers, T)
	require.NoError(t, err)

	bound, err := p.CertifiedBound(x)
	require.NoError(t, err)
	assert.Less(t, bound, psi)
	// The linear network is in the certified class.
	var prod mat.Dense
	prod.Mul(layers[1].W, layers[0].W)
	assert.GreaterOrEqual(t, bound, lipschitz.TrivialBound([]*mat.Dense{&prod})*(1-1e-9))

	nominal := NewNominal(topo, fullBatch(t, topo, 11), 0)
	y, err := nominal.Layout.Pack(layers, nil)
	require.NoError(t, err)
	trivial, err := nominal.CertifiedBound(y)
	require.NoError(t, err)
	assert.Equal(t, lipschitz.TrivialBound(nn.Weights(layers)), trivial)
}

func TestNominalGradient(t *testing.T) {
	topo, err := lipschitz.NewTopology(2, 3, 2)
	require.NoError(t, err)
	layers, _, _ := feasibleStart(t, topo, 12)

	for _, rho := range []float64{0, 0.3} {
		p := NewNominal(topo, fullBatch(t, topo, 13), rho)
		x, err := p.Layout.Pack(layers, nil)
		require.NoError(t, err)
		checkGradient(t, p, x, 5)
	}
}
