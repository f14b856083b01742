package nn

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Network is a dense feed-forward network with one activator shared by all
// hidden layers and a linear output layer.
type Network struct {
	Widths    []int
	Activator Activator
	Layers    []Layer
}

// NewNetwork initialises weights uniformly in [-scale, scale].
func NewNetwork(widths []int, act Activator, scale float64, src rand.Source) *Network {
	return &Network{
		Widths:    append([]int(nil), widths...),
		Activator: act,
		Layers:    NewLayers(widths, scale, src),
	}
}

// Predict returns the network outputs for the columns of x.
func (n *Network) Predict(x *mat.Dense) (*mat.Dense, error) {
	return Build(n.Layers, n.Activator, nil).Forward(x)
}

// Score is the mean loss and the classification accuracy over a dataset.
type Score struct {
	Loss     float64
	Accuracy float64
}

// Evaluate scores the network on the whole dataset.
func (n *Network) Evaluate(data *Dataset, loss Loss) (Score, error) {
	if data.Len() == 0 {
		return Score{}, fmt.Errorf("empty dataset")
	}
	out, err := n.Predict(data.Inputs)
	if err != nil {
		return Score{}, err
	}
	r, c := out.Dims()
	grad := mat.NewDense(r, c, nil)
	s := Score{Loss: loss.Forward(out, data.Targets, grad)}
	correct := 0
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, out)
		if argmax(col) == data.Labels[j] {
			correct++
		}
	}
	s.Accuracy = float64(correct) / float64(c)
	return s, nil
}

func argmax(v []float64) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}
