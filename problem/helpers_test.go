package problem

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"liptrain/lipschitz"
	"liptrain/nn"
)

func testData(inputs, classes, n int, seed uint64) *nn.Dataset {
	rng := rand.New(rand.NewSource(seed))
	d := &nn.Dataset{
		Inputs:  mat.NewDense(inputs, n, nil),
		Targets: mat.NewDense(classes, n, nil),
		Labels:  make([]int, n),
	}
	d.Inputs.Apply(func(_, _ int, _ float64) float64 { return rng.NormFloat64() }, d.Inputs)
	for j := range d.Labels {
		d.Labels[j] = rng.Intn(classes)
		d.Targets.Set(d.Labels[j], j, 1)
	}
	return d
}

// fullBatch returns a deterministic oracle over all samples.
func fullBatch(t *testing.T, topo lipschitz.Topology, seed uint64) *nn.BatchOracle {
	t.Helper()
	data := testData(topo.Width(0), topo.Width(topo.Layers()), 8, seed)
	oracle, err := nn.NewBatchOracle(data, nn.Tanh{}, nn.CrossEntropyLoss{}, data.Len())
	require.NoError(t, err)
	return oracle
}

// feasibleStart returns random layers with Psi twice their trivial bound and
// jittered multipliers that certify it.
func feasibleStart(t *testing.T, topo lipschitz.Topology, seed uint64) ([]nn.Layer, []*mat.VecDense, float64) {
	t.Helper()
	src := rand.NewSource(seed)
	layers := nn.NewLayers(topo.Widths(), 0.6, src)
	rng := rand.New(src)
	for _, l := range layers {
		for i := 0; i < l.B.Len(); i++ {
			l.B.SetVec(i, 0.1*rng.NormFloat64())
		}
	}
	psi := 2 * lipschitz.TrivialBound(nn.Weights(layers))
	T, err := lipschitz.NormT(topo, nn.Weights(layers), psi)
	require.NoError(t, err)
	for _, v := range T {
		for i := 0; i < v.Len(); i++ {
			v.SetVec(i, v.AtVec(i)*(1+0.1*rng.Float64()))
		}
	}
	return layers, T, psi
}

func exactlyFeasible(topo lipschitz.Topology, psi float64, layers []nn.Layer, T []*mat.VecDense) bool {
	c, err := lipschitz.NewCertificate(topo, psi, nn.Weights(layers), T)
	if err != nil {
		return false
	}
	_, err = lipschitz.Factorize(c, 0)
	return err == nil
}

// checkGradient compares grad with central differences of p at x.
func checkGradient(t *testing.T, p interface {
	Evaluate(x []float64, gamma float64, grad []float64) (float64, error)
}, x []float64, gamma float64) {
	t.Helper()
	grad := make([]float64, len(x))
	_, err := p.Evaluate(x, gamma, grad)
	require.NoError(t, err)

	const h = 1e-6
	scratch := make([]float64, len(x))
	for i := range x {
		v := x[i]
		x[i] = v + h
		up, err := p.Evaluate(x, gamma, scratch)
		require.NoError(t, err)
		x[i] = v - h
		down, err := p.Evaluate(x, gamma, scratch)
		require.NoError(t, err)
		x[i] = v
		num := (up - down) / (2 * h)
		require.InDelta(t, num, grad[i], 1e-5+1e-4*math.Abs(num), "entry %d", i)
	}
}
