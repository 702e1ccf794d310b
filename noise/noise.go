// Package noise provides perturbation sources that seed the surrogate stream
// of the variance-propagating operators. Each source perturbs a tensor under
// a concrete physical noise model and reports the per-element squared error,
// which is the natural initial value for S.
package noise

import (
	"github.com/dewenzeng/CIM-Second/nn/layers"
	"github.com/dewenzeng/CIM-Second/tensor"
)

// Source perturbs a tensor and reports the per-element squared error.
type Source interface {
	Perturb(t *tensor.Tensor) (noisy, sqErr *tensor.Tensor, err error)
}

// QuantSource models uniform symmetric quantization noise using the same
// grid as the Quant operator.
type QuantSource struct {
	Bits int
}

// Perturb rounds t onto the quantization grid.
func (s *QuantSource) Perturb(t *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	noisy := layers.Quantize(s.Bits, t)
	sqErr := tensor.New(t.Shape...)
	for i := range t.Data {
		d := noisy.Data[i] - t.Data[i]
		sqErr.Data[i] = d * d
	}
	return noisy, sqErr, nil
}
