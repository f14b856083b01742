// Package problem composes a network loss oracle with the certificate
// barrier into objectives for the optimizer package.
package problem

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"liptrain/lipschitz"
	"liptrain/nn"
)

// LossOracle evaluates the training loss on its current mini-batch and adds
// the gradient into grads.
type LossOracle interface {
	LossGrad(layers, grads []nn.Layer) (float64, error)
}

// Layout maps a flat position onto layer weights, biases and, when WithT is
// set, the T vectors. Layer k occupies W_k row-major followed by b_k; the T
// vectors come after all layers.
type Layout struct {
	Topology lipschitz.Topology
	WithT    bool
}

// NewLayout describes positions for topo, with T appended when withT is set.
func NewLayout(topo lipschitz.Topology, withT bool) Layout {
	return Layout{Topology: topo, WithT: withT}
}

// Dim returns the length of a position.
func (l Layout) Dim() int {
	n := 0
	for i := 0; i < l.Topology.Layers(); i++ {
		out := l.Topology.Width(i + 1)
		n += out*l.Topology.Width(i) + out
	}
	if l.WithT {
		for _, h := range l.Topology.Hidden() {
			n += h
		}
	}
	return n
}

// Split returns views into x. Writes through the views change x. T is nil
// without WithT.
func (l Layout) Split(x []float64) ([]nn.Layer, []*mat.VecDense, error) {
	if len(x) != l.Dim() {
		return nil, nil, fmt.Errorf("%w: position has %d entries, layout %s needs %d",
			lipschitz.ErrDimensionMismatch, len(x), l.Topology, l.Dim())
	}
	layers := make([]nn.Layer, l.Topology.Layers())
	off := 0
	for i := range layers {
		in, out := l.Topology.Width(i), l.Topology.Width(i+1)
		layers[i].W = mat.NewDense(out, in, x[off:off+out*in:off+out*in])
		off += out * in
		layers[i].B = mat.NewVecDense(out, x[off:off+out:off+out])
		off += out
	}
	if !l.WithT {
		return layers, nil, nil
	}
	hidden := l.Topology.Hidden()
	T := make([]*mat.VecDense, len(hidden))
	for k, h := range hidden {
		T[k] = mat.NewVecDense(h, x[off:off+h:off+h])
		off += h
	}
	return layers, T, nil
}

// Pack copies layers and T into a new position. T is ignored without WithT.
func (l Layout) Pack(layers []nn.Layer, T []*mat.VecDense) ([]float64, error) {
	if err := nn.CheckLayers(layers, l.Topology.Widths()); err != nil {
		return nil, fmt.Errorf("%w: %v", lipschitz.ErrDimensionMismatch, err)
	}
	if l.WithT {
		if err := l.Topology.CheckT(T); err != nil {
			return nil, err
		}
	}
	x := make([]float64, l.Dim())
	dl, dT, _ := l.Split(x)
	for i := range layers {
		dl[i].W.Copy(layers[i].W)
		dl[i].B.CopyVec(layers[i].B)
	}
	for k := range dT {
		dT[k].CopyVec(T[k])
	}
	return x, nil
}
