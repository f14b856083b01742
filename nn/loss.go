package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Loss scores network outputs against targets, one sample per column.
type Loss interface {
	// Forward returns the mean loss over the columns and writes the
	// gradient of that mean with respect to out into grad.
	Forward(out, target mat.Matrix, grad *mat.Dense) float64
	fmt.Stringer
}

var LossLookup = map[string]Loss{
	"crossentropy": CrossEntropyLoss{},
	"squared":      SquaredErrorLoss{},
}

// LossByName resolves a name from LossLookup.
func LossByName(name string) (Loss, error) {
	l, ok := LossLookup[name]
	if !ok {
		return nil, fmt.Errorf("unknown loss %q", name)
	}
	return l, nil
}

// CrossEntropyLoss applies softmax to each column of the logits.
type CrossEntropyLoss struct{}

// Forward uses grad = (softmax_output - one_hot_label) / batch.
func (CrossEntropyLoss) Forward(out, target mat.Matrix, grad *mat.Dense) float64 {
	r, n := out.Dims()
	logits := make([]float64, r)
	total := 0.0
	for j := 0; j < n; j++ {
		mat.Col(logits, j, out)
		p := Softmax(logits)
		for i, pi := range p {
			y := target.At(i, j)
			if y != 0 {
				total -= y * math.Log(math.Max(pi, 1e-300))
			}
			grad.Set(i, j, (pi-y)/float64(n))
		}
	}
	return total / float64(n)
}

func (CrossEntropyLoss) String() string { return "crossentropy" }

// SquaredErrorLoss is half the squared Euclidean distance per sample.
type SquaredErrorLoss struct{}

func (SquaredErrorLoss) Forward(out, target mat.Matrix, grad *mat.Dense) float64 {
	r, n := out.Dims()
	total := 0.0
	for j := 0; j < n; j++ {
		for i := 0; i < r; i++ {
			d := out.At(i, j) - target.At(i, j)
			total += 0.5 * d * d
			grad.Set(i, j, d/float64(n))
		}
	}
	return total / float64(n)
}

func (SquaredErrorLoss) String() string { return "squared" }

// Softmax applies the softmax function to a vector of logits.
func Softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, v := range logits {
		if v > maxLogit {
			maxLogit = v
		}
	}
	expSum := 0.0
	exps := make([]float64, len(logits))
	for i, v := range logits {
		e := math.Exp(v - maxLogit)
		exps[i] = e
		expSum += e
	}
	for i := range exps {
		exps[i] /= expSum
	}
	return exps
}
