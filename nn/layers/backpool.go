package layers

import (
	"fmt"

	"github.com/dewenzeng/CIM-Second/tensor"
)

// BackPool is an identity on both forward streams whose backward scales the
// surrogate gradient by a fixed factor. It sits after a host pooling op to
// model the effect of the pooling window on the surrogate stream: averaging
// over a window of size p² shrinks the per-element variance by that factor,
// which the backward pass has to re-apply to the surrogate gradient.
type BackPool struct {
	Factor float64

	seen bool
}

// NewBackPool creates a BackPool for a pooling window of p×p elements.
func NewBackPool(p int) *BackPool {
	return &BackPool{Factor: 1.0 / float64(p*p)}
}

// Forward passes both streams through unchanged.
func (l *BackPool) Forward(x, xS *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if xS != nil && !tensor.SameShape(x, xS) {
		return nil, nil, fmt.Errorf("BackPool: surrogate shape %v does not match input shape %v", xS.Shape, x.Shape)
	}
	l.seen = true
	return x, xS, nil
}

// Backward passes the value gradient through and scales the surrogate
// gradient by Factor.
func (l *BackPool) Backward(gradY, gradYS *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if !l.seen {
		return nil, nil, fmt.Errorf("BackPool: no forward pass before backward")
	}
	if !tensor.SameShape(gradY, gradYS) {
		return nil, nil, fmt.Errorf("BackPool: surrogate gradient shape %v does not match %v", gradYS.Shape, gradY.Shape)
	}
	return gradY, tensor.Scale(l.Factor, gradYS), nil
}

// Times scales the value stream by a constant and re-seeds the surrogate
// output to ones. Its backward scales the value gradient by a and couples
// the surrogate gradient to the value gradient through a².
type Times struct {
	A float64

	seen bool
}

// NewTimes creates a scaling op with factor a.
func NewTimes(a float64) *Times {
	return &Times{A: a}
}

// Forward returns (a·x, 1).
func (l *Times) Forward(x, xS *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if xS != nil && !tensor.SameShape(x, xS) {
		return nil, nil, fmt.Errorf("Times: surrogate shape %v does not match input shape %v", xS.Shape, x.Shape)
	}
	l.seen = true
	y := tensor.Scale(l.A, x)
	return y, tensor.OnesLike(y), nil
}

// Backward returns (g·a, g·a²). The surrogate gradient is derived from the
// value gradient because Forward re-seeds the surrogate output.
func (l *Times) Backward(gradY, gradYS *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if !l.seen {
		return nil, nil, fmt.Errorf("Times: no forward pass before backward")
	}
	if !tensor.SameShape(gradY, gradYS) {
		return nil, nil, fmt.Errorf("Times: surrogate gradient shape %v does not match %v", gradYS.Shape, gradY.Shape)
	}
	return tensor.Scale(l.A, gradY), tensor.Scale(l.A*l.A, gradY), nil
}
