package tensor

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestNewShape(t *testing.T) {
	t1 := New(2, 3)
	if len(t1.Data) != 6 {
		t.Fatalf("expected 6 elements, got %d", len(t1.Data))
	}
	if len(t1.Shape) != 2 || t1.Shape[0] != 2 || t1.Shape[1] != 3 {
		t.Fatalf("unexpected shape: %v", t1.Shape)
	}
}

func TestFromMatrixRowMajor(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	ten := FromMatrix(m)
	if ten.Data[3] != 4 || ten.Data[2] != 3 {
		t.Fatalf("unexpected layout: %v", ten.Data)
	}

	back, err := ten.ToDense()
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(m, back) {
		t.Errorf("round trip changed matrix: %v", mat.Formatted(back))
	}
	ten.Data[0] = 9
	if back.At(0, 0) != 1 {
		t.Errorf("ToDense must copy the data")
	}
}

func TestFromMatrixTransposed(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	ten := FromMatrix(m.T())
	want := []float64{1, 4, 2, 5, 3, 6}
	for i := range want {
		if ten.Data[i] != want[i] {
			t.Errorf("at %d, got %f, want %f", i, ten.Data[i], want[i])
		}
	}
}

func TestVectorRoundTrip(t *testing.T) {
	v := mat.NewVecDense(3, []float64{-1, 0, 3})
	back, err := FromVector(v).ToVecDense()
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(v, back) {
		t.Errorf("round trip changed vector")
	}
}

func TestShapeErrors(t *testing.T) {
	if _, err := New(2, 2).ToVecDense(); err == nil {
		t.Errorf("expected error for 2-D tensor as vector")
	}
	bad := &Tensor{Data: []float64{1, 2, 3}, Shape: []int{2, 2}}
	if _, err := bad.ToDense(); err == nil {
		t.Errorf("expected error for short data")
	}
}
