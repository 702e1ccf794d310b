package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a simple n-D array backed by a flat []float64, row-major.
type Tensor struct {
	Data  []float64
	Shape []int
}

// New allocates a zeroed Tensor of given shape (product of dims = len(Data)).
func New(shape ...int) *Tensor {
	total := 1
	for _, d := range shape {
		total *= d
	}
	return &Tensor{
		Data:  make([]float64, total),
		Shape: append([]int(nil), shape...),
	}
}

// NewWithData creates a 1-D tensor from existing data slice.
func NewWithData(data []float64) *Tensor {
	return &Tensor{
		Data:  append([]float64(nil), data...),
		Shape: []int{len(data)},
	}
}

// Ones returns a tensor of the given shape with every element set to 1.
func Ones(shape ...int) *Tensor {
	return Full(1, shape...)
}

// Full returns a tensor of the given shape with every element set to v.
func Full(v float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// OnesLike returns a tensor of ones with the same shape as t.
func OnesLike(t *Tensor) *Tensor {
	return Ones(t.Shape...)
}

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Data:  append([]float64(nil), t.Data...),
		Shape: append([]int(nil), t.Shape...),
	}
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Tensor) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// Add returns a+b (same shape), or error if shapes differ.
func Add(a, b *Tensor) (*Tensor, error) {
	if !SameShape(a, b) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	out := New(a.Shape...)
	for i := range a.Data {
		out.Data[i] = a.Data[i] + b.Data[i]
	}
	return out, nil
}

// Sub returns a-b (same shape), or error if shapes differ.
func Sub(a, b *Tensor) (*Tensor, error) {
	if !SameShape(a, b) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	out := New(a.Shape...)
	for i := range a.Data {
		out.Data[i] = a.Data[i] - b.Data[i]
	}
	return out, nil
}

// Mul returns the element-wise (Hadamard) product a∘b, or error if shapes differ.
func Mul(a, b *Tensor) (*Tensor, error) {
	if !SameShape(a, b) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	out := New(a.Shape...)
	for i := range a.Data {
		out.Data[i] = a.Data[i] * b.Data[i]
	}
	return out, nil
}

// Scale returns s*a.
func Scale(s float64, a *Tensor) *Tensor {
	out := New(a.Shape...)
	for i := range a.Data {
		out.Data[i] = s * a.Data[i]
	}
	return out
}

// Square returns a∘a.
func Square(a *Tensor) *Tensor {
	out := New(a.Shape...)
	for i := range a.Data {
		out.Data[i] = a.Data[i] * a.Data[i]
	}
	return out
}

// MatMul returns a×b (2-D only), or error if dims mismatch.
// The product is delegated to gonum.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("MatMul requires 2-D tensors, got %v and %v", a.Shape, b.Shape)
	}
	r, k := a.Shape[0], a.Shape[1]
	k2, c := b.Shape[0], b.Shape[1]
	if k != k2 {
		return nil, fmt.Errorf("inner dimensions must match: %d vs %d", k, k2)
	}
	am := mat.NewDense(r, k, a.Data)
	bm := mat.NewDense(k2, c, b.Data)
	out := New(r, c)
	om := mat.NewDense(r, c, out.Data)
	om.Product(am, bm)
	return out, nil
}

// Transpose returns the transpose of a 2-D tensor.
func Transpose(a *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 {
		return nil, fmt.Errorf("Transpose requires a 2-D tensor, got %v", a.Shape)
	}
	r, c := a.Shape[0], a.Shape[1]
	out := New(c, r)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Data[j*r+i] = a.Data[i*c+j]
		}
	}
	return out, nil
}

// Sum returns the sum of all elements.
func (t *Tensor) Sum() float64 {
	s := 0.0
	for _, v := range t.Data {
		s += v
	}
	return s
}

// Mean returns the arithmetic mean of all elements (0 for an empty tensor).
func (t *Tensor) Mean() float64 {
	if len(t.Data) == 0 {
		return 0
	}
	return t.Sum() / float64(len(t.Data))
}

// Variance returns the population variance of all elements.
func (t *Tensor) Variance() float64 {
	if len(t.Data) == 0 {
		return 0
	}
	m := t.Mean()
	s := 0.0
	for _, v := range t.Data {
		d := v - m
		s += d * d
	}
	return s / float64(len(t.Data))
}

// MaxAbs returns the largest absolute element value.
func (t *Tensor) MaxAbs() float64 {
	m := 0.0
	for _, v := range t.Data {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}

// HasNaN reports whether any element is NaN.
func (t *Tensor) HasNaN() bool {
	for _, v := range t.Data {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// At returns the element at the given indices.
// For a 4D tensor [a, b, c, d], At(i, j, k, l) returns the element at position [i][j][k][l].
func (t *Tensor) At(indices ...int) float64 {
	return t.Data[t.index("At", indices)]
}

// Set sets the element at the given indices to the given value.
func (t *Tensor) Set(value float64, indices ...int) {
	t.Data[t.index("Set", indices)] = value
}

func (t *Tensor) index(op string, indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("%s: expected %d indices, got %d", op, len(t.Shape), len(indices)))
	}
	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.Shape[i] {
			panic(fmt.Sprintf("%s: index %d out of bounds for dimension %d (shape: %v)", op, indices[i], i, t.Shape))
		}
		idx += indices[i] * stride
		stride *= t.Shape[i]
	}
	return idx
}
