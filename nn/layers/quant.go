package layers

import (
	"fmt"
	"math"

	"github.com/dewenzeng/CIM-Second/tensor"
)

// Quantize rounds t onto a uniform symmetric grid with 2^bits steps spanning
// the tensor's dynamic range. An all-zero tensor is returned unchanged: the
// step size would be zero and the grid degenerate.
func Quantize(bits int, t *tensor.Tensor) *tensor.Tensor {
	det := t.MaxAbs() / math.Pow(2, float64(bits))
	if det == 0 {
		return t.Clone()
	}
	out := tensor.New(t.Shape...)
	for i, v := range t.Data {
		out.Data[i] = math.Round(v/det) * det
	}
	return out
}

// Quant quantizes the value stream with Quantize and passes the surrogate
// stream through. Its backward is the straight-through estimator: gradients
// pass unchanged on both streams.
type Quant struct {
	Bits int

	seen bool
}

// NewQuant creates a quantization op with the given bit width.
func NewQuant(bits int) *Quant {
	return &Quant{Bits: bits}
}

// Forward returns (Quantize(x), xS).
func (l *Quant) Forward(x, xS *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if xS != nil && !tensor.SameShape(x, xS) {
		return nil, nil, fmt.Errorf("Quant: surrogate shape %v does not match input shape %v", xS.Shape, x.Shape)
	}
	l.seen = true
	return Quantize(l.Bits, x), xS, nil
}

// Backward passes both gradients through unchanged (straight-through).
func (l *Quant) Backward(gradY, gradYS *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if !l.seen {
		return nil, nil, fmt.Errorf("Quant: no forward pass before backward")
	}
	return gradY, gradYS, nil
}
