package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a simple n-D array backed by a flat []float64.
type Tensor struct {
	Data  []float64
	Shape []int
}

// New allocates a Tensor of given shape (product of dims = len(Data)).
func New(shape ...int) *Tensor {
	// Compute total size
	total := 1
	for _, d := range shape {
		total *= d
	}
	return &Tensor{
		Data:  make([]float64, total),
		Shape: append([]int(nil), shape...),
	}
}

// FromMatrix copies a matrix into a row-major 2-D tensor.
func FromMatrix(m mat.Matrix) *Tensor {
	r, c := m.Dims()
	t := New(r, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			t.Data[i*c+j] = m.At(i, j)
		}
	}
	return t
}

// FromVector copies a vector into a 1-D tensor.
func FromVector(v mat.Vector) *Tensor {
	t := New(v.Len())
	for i := range t.Data {
		t.Data[i] = v.AtVec(i)
	}
	return t
}

// Size returns the number of elements the shape describes.
func (t *Tensor) Size() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

func (t *Tensor) check(dims int) error {
	if len(t.Shape) != dims {
		return fmt.Errorf("expected %d-D tensor, got shape %v", dims, t.Shape)
	}
	if t.Size() != len(t.Data) {
		return fmt.Errorf("shape %v needs %d values, got %d", t.Shape, t.Size(), len(t.Data))
	}
	return nil
}

// ToDense copies a 2-D tensor into a matrix.
func (t *Tensor) ToDense() (*mat.Dense, error) {
	if err := t.check(2); err != nil {
		return nil, err
	}
	return mat.NewDense(t.Shape[0], t.Shape[1], append([]float64(nil), t.Data...)), nil
}

// ToVecDense copies a 1-D tensor into a vector.
func (t *Tensor) ToVecDense() (*mat.VecDense, error) {
	if err := t.check(1); err != nil {
		return nil, err
	}
	return mat.NewVecDense(t.Shape[0], append([]float64(nil), t.Data...)), nil
}
