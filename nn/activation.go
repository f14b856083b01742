package nn

import (
	"fmt"
	"math"
)

// Activator is an element-wise nonlinearity usable with mat.Dense.Apply.
// The certificate covers any activator with slope in [0, 1].
type Activator interface {
	Activate(i, j int, sum float64) float64
	// Derivative is the slope at the pre-activation value sum.
	Derivative(i, j int, sum float64) float64
	fmt.Stringer
}

var ActivatorLookup = map[string]Activator{
	"sigmoid":  Sigmoid{},
	"tanh":     Tanh{},
	"relu":     ReLU{},
	"identity": Identity{},
}

// ActivatorByName resolves a name from ActivatorLookup.
func ActivatorByName(name string) (Activator, error) {
	act, ok := ActivatorLookup[name]
	if !ok {
		return nil, fmt.Errorf("unknown activation %q", name)
	}
	return act, nil
}

type Sigmoid struct{}

func (s Sigmoid) Activate(i, j int, sum float64) float64 {
	return 1.0 / (1.0 + math.Exp(-sum))
}

func (s Sigmoid) Derivative(i, j int, sum float64) float64 {
	v := s.Activate(i, j, sum)
	return v * (1 - v)
}

func (s Sigmoid) String() string {
	return "sigmoid"
}

type Tanh struct{}

func (t Tanh) Activate(i, j int, sum float64) float64 {
	return math.Tanh(sum)
}

func (t Tanh) Derivative(i, j int, sum float64) float64 {
	v := math.Tanh(sum)
	return 1.0 - v*v
}

func (t Tanh) String() string {
	return "tanh"
}

type ReLU struct{}

func (r ReLU) Activate(i, j int, sum float64) float64 {
	return math.Max(sum, 0)
}

func (r ReLU) Derivative(i, j int, sum float64) float64 {
	if sum < 0 {
		return 0
	}
	return 1
}

func (r ReLU) String() string {
	return "relu"
}

// Identity makes the network linear.
type Identity struct{}

func (Identity) Activate(i, j int, sum float64) float64   { return sum }
func (Identity) Derivative(i, j int, sum float64) float64 { return 1 }
func (Identity) String() string                           { return "identity" }
