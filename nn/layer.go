package nn

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Layer holds the affine parameters of one dense layer.
type Layer struct {
	W *mat.Dense
	B *mat.VecDense
}

// NewLayers draws weights uniformly from [-scale, scale] for the widths
// N0..NL. Biases start at zero.
func NewLayers(widths []int, scale float64, src rand.Source) []Layer {
	dist := distuv.Uniform{Min: -scale, Max: scale, Src: src}
	layers := ZeroLayers(widths)
	for _, l := range layers {
		l.W.Apply(func(_, _ int, _ float64) float64 { return dist.Rand() }, l.W)
	}
	return layers
}

// ZeroLayers allocates zeroed layers for the widths N0..NL.
func ZeroLayers(widths []int) []Layer {
	layers := make([]Layer, len(widths)-1)
	for i := range layers {
		layers[i] = Layer{
			W: mat.NewDense(widths[i+1], widths[i], nil),
			B: mat.NewVecDense(widths[i+1], nil),
		}
	}
	return layers
}

// Weights returns the weight matrices of layers without copying.
func Weights(layers []Layer) []*mat.Dense {
	W := make([]*mat.Dense, len(layers))
	for i, l := range layers {
		W[i] = l.W
	}
	return W
}

// CheckLayers reports whether layers match the widths N0..NL.
func CheckLayers(layers []Layer, widths []int) error {
	if len(layers) != len(widths)-1 {
		return fmt.Errorf("got %d layers for widths %v", len(layers), widths)
	}
	for i, l := range layers {
		r, c := l.W.Dims()
		if r != widths[i+1] || c != widths[i] || l.B.Len() != widths[i+1] {
			return fmt.Errorf("layer %d is %dx%d with bias %d, want %dx%d", i, r, c, l.B.Len(), widths[i+1], widths[i])
		}
	}
	return nil
}
