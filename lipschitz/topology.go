package lipschitz

import (
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Topology holds the layer widths N0..NL of a feed-forward network.
// Block i of the certificate has size N_i.
type Topology struct {
	widths []int
}

// NewTopology validates widths. At least one hidden layer is required.
func NewTopology(widths ...int) (Topology, error) {
	if len(widths) < 3 {
		return Topology{}, fmt.Errorf("%w: need input, hidden and output widths, got %v", ErrDimensionMismatch, widths)
	}
	for i, n := range widths {
		if n <= 0 {
			return Topology{}, fmt.Errorf("%w: layer %d has width %d", ErrDimensionMismatch, i, n)
		}
	}
	return Topology{widths: append([]int(nil), widths...)}, nil
}

// Layers returns L, the number of weight matrices.
func (t Topology) Layers() int { return len(t.widths) - 1 }

// Width returns N_i.
func (t Topology) Width(i int) int { return t.widths[i] }

// Widths returns a copy of N0..NL.
func (t Topology) Widths() []int { return append([]int(nil), t.widths...) }

// Hidden returns the hidden widths N1..N_{L-1}.
func (t Topology) Hidden() []int {
	return append([]int(nil), t.widths[1:len(t.widths)-1]...)
}

// Order is the side length of the certificate matrix.
func (t Topology) Order() int {
	n := 0
	for _, w := range t.widths {
		n += w
	}
	return n
}

// Offset returns the first row of block i in the certificate matrix.
func (t Topology) Offset(i int) int {
	n := 0
	for _, w := range t.widths[:i] {
		n += w
	}
	return n
}

// String lists the widths joined by dashes.
func (t Topology) String() string {
	parts := make([]string, len(t.widths))
	for i, w := range t.widths {
		parts[i] = strconv.Itoa(w)
	}
	return strings.Join(parts, "-")
}

// CheckWeights reports whether W_i is N_{i+1}×N_i for every layer.
func (t Topology) CheckWeights(W []*mat.Dense) error {
	if len(W) != t.Layers() {
		return fmt.Errorf("%w: %d weight matrices for %d layers", ErrDimensionMismatch, len(W), t.Layers())
	}
	for i, w := range W {
		r, c := w.Dims()
		if r != t.widths[i+1] || c != t.widths[i] {
			return fmt.Errorf("%w: W%d is %dx%d, want %dx%d", ErrDimensionMismatch, i, r, c, t.widths[i+1], t.widths[i])
		}
	}
	return nil
}

// CheckT reports whether there is one vector of length N_{k+1} per hidden layer.
func (t Topology) CheckT(T []*mat.VecDense) error {
	if len(T) != t.Layers()-1 {
		return fmt.Errorf("%w: %d T vectors for %d hidden layers", ErrDimensionMismatch, len(T), t.Layers()-1)
	}
	for k, v := range T {
		if v.Len() != t.widths[k+1] {
			return fmt.Errorf("%w: T%d has length %d, want %d", ErrDimensionMismatch, k, v.Len(), t.widths[k+1])
		}
	}
	return nil
}

// UniformT returns T vectors with every entry set to v.
func (t Topology) UniformT(v float64) []*mat.VecDense {
	T := make([]*mat.VecDense, t.Layers()-1)
	for k := range T {
		n := t.widths[k+1]
		data := make([]float64, n)
		for i := range data {
			data[i] = v
		}
		T[k] = mat.NewVecDense(n, data)
	}
	return T
}
