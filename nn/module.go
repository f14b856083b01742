package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Module defines a single stage of the network. Samples are columns.
type Module interface {
	Forward(input *mat.Dense) (*mat.Dense, error)
	// Backward computes gradients and propagates them.
	// It takes the gradient of the loss with respect to the module's output,
	// and returns the gradient of the loss with respect to the module's input.
	Backward(gradOut *mat.Dense) (*mat.Dense, error)
}

// Sequential chains multiple Modules in order.
type Sequential struct {
	Layers []Module
}

// Forward applies each layer in sequence.
func (s *Sequential) Forward(x *mat.Dense) (*mat.Dense, error) {
	var err error
	out := x
	for _, layer := range s.Layers {
		out, err = layer.Forward(out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Backward applies Backward in reverse order.
func (s *Sequential) Backward(grad *mat.Dense) (*mat.Dense, error) {
	var err error
	out := grad
	for i := len(s.Layers) - 1; i >= 0; i-- {
		out, err = s.Layers[i].Backward(out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Linear computes W·x + b. When Grad is set, Backward accumulates into it.
type Linear struct {
	Layer
	Grad  *Layer
	input *mat.Dense
}

// Forward caches the input for Backward.
func (l *Linear) Forward(x *mat.Dense) (*mat.Dense, error) {
	r, c := l.W.Dims()
	xr, n := x.Dims()
	if xr != c {
		return nil, fmt.Errorf("linear %dx%d: input has %d rows", r, c, xr)
	}
	l.input = x
	out := mat.NewDense(r, n, nil)
	out.Mul(l.W, x)
	out.Apply(func(i, _ int, v float64) float64 { return v + l.B.AtVec(i) }, out)
	return out, nil
}

// Backward adds gradOut·xᵀ to Grad.W and the row sums of gradOut to Grad.B.
func (l *Linear) Backward(gradOut *mat.Dense) (*mat.Dense, error) {
	if l.input == nil {
		return nil, fmt.Errorf("linear: backward before forward")
	}
	if l.Grad != nil {
		var gw mat.Dense
		gw.Mul(gradOut, l.input.T())
		l.Grad.W.Add(l.Grad.W, &gw)
		r, n := gradOut.Dims()
		for i := 0; i < r; i++ {
			s := 0.0
			for j := 0; j < n; j++ {
				s += gradOut.At(i, j)
			}
			l.Grad.B.SetVec(i, l.Grad.B.AtVec(i)+s)
		}
	}
	var gx mat.Dense
	gx.Mul(l.W.T(), gradOut)
	return &gx, nil
}

// Activation applies an Activator element-wise.
type Activation struct {
	Activator Activator
	pre       *mat.Dense
}

// Forward caches the pre-activations for Backward.
func (a *Activation) Forward(x *mat.Dense) (*mat.Dense, error) {
	a.pre = x
	var out mat.Dense
	out.Apply(a.Activator.Activate, x)
	return &out, nil
}

// Backward multiplies gradOut by the activation slope.
func (a *Activation) Backward(gradOut *mat.Dense) (*mat.Dense, error) {
	if a.pre == nil {
		return nil, fmt.Errorf("%s: backward before forward", a.Activator)
	}
	var slope mat.Dense
	slope.Apply(a.Activator.Derivative, a.pre)
	slope.MulElem(&slope, gradOut)
	return &slope, nil
}

// Build chains Linear and Activation modules over layers. The last layer has
// no activation. grads may be nil for inference.
func Build(layers []Layer, act Activator, grads []Layer) *Sequential {
	seq := &Sequential{}
	for i := range layers {
		lin := &Linear{Layer: layers[i]}
		if grads != nil {
			lin.Grad = &grads[i]
		}
		seq.Layers = append(seq.Layers, lin)
		if i < len(layers)-1 {
			seq.Layers = append(seq.Layers, &Activation{Activator: act})
		}
	}
	return seq
}
