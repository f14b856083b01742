package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestSoftmaxSumsToOne(t *testing.T) {
	p := Softmax([]float64{1000, 1001, 999})
	sum := 0.0
	for _, v := range p {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-12)
	assert.Greater(t, p[1], p[0])
}

func lossGradientCheck(t *testing.T, loss Loss) {
	t.Helper()
	out := mat.NewDense(3, 2, []float64{0.2, -1, 1.5, 0.3, -0.7, 2})
	target := mat.NewDense(3, 2, []float64{1, 0, 0, 0, 0, 1})
	grad := mat.NewDense(3, 2, nil)
	loss.Forward(out, target, grad)

	const h = 1e-6
	scratch := mat.NewDense(3, 2, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 2; j++ {
			v := out.At(i, j)
			out.Set(i, j, v+h)
			up := loss.Forward(out, target, scratch)
			out.Set(i, j, v-h)
			down := loss.Forward(out, target, scratch)
			out.Set(i, j, v)
			assert.InDelta(t, (up-down)/(2*h), grad.At(i, j), 1e-6, "%s (%d,%d)", loss, i, j)
		}
	}
}

func TestLossGradients(t *testing.T) {
	for _, name := range []string{"crossentropy", "squared"} {
		loss, err := LossByName(name)
		require.NoError(t, err)
		lossGradientCheck(t, loss)
	}
	_, err := LossByName("hinge")
	assert.Error(t, err)
}

func TestCrossEntropyUniformLogits(t *testing.T) {
	out := mat.NewDense(4, 1, nil)
	target := mat.NewDense(4, 1, []float64{0, 0, 1, 0})
	got := CrossEntropyLoss{}.Forward(out, target, mat.NewDense(4, 1, nil))
	assert.InDelta(t, math.Log(4), got, 1e-12)
}

func TestActivatorSlopes(t *testing.T) {
	const h = 1e-6
	for name, act := range ActivatorLookup {
		for _, x := range []float64{-2, -0.3, 0.4, 1.7} {
			numeric := (act.Activate(0, 0, x+h) - act.Activate(0, 0, x-h)) / (2 * h)
			assert.InDelta(t, numeric, act.Derivative(0, 0, x), 1e-6, "%s at %g", name, x)
			slope := act.Derivative(0, 0, x)
			assert.True(t, slope >= 0 && slope <= 1, "%s slope %g outside [0,1]", name, slope)
		}
	}
	_, err := ActivatorByName("softplus")
	assert.Error(t, err)
}
