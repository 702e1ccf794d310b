package nn

import (
	"github.com/dewenzeng/CIM-Second/tensor"
)

// Module defines a single variance-propagating operator.
//
// Every operator carries two streams: the ordinary value x and a surrogate S
// that tracks an error/variance estimate alongside it. Forward returns the
// pair (y, yS); Backward takes the pair of output gradients and returns the
// pair of input gradients. Operators cache whatever their own backward needs
// during their own forward, so they plug into any host differentiation graph
// that sequences the calls.
type Module interface {
	Forward(x, xS *tensor.Tensor) (y, yS *tensor.Tensor, err error)
	// Backward takes the gradient of the loss with respect to the module's
	// output pair and returns the gradient with respect to its input pair.
	Backward(gradY, gradYS *tensor.Tensor) (gradX, gradXS *tensor.Tensor, err error)
}

// ParamModule is a Module holding trainable parameters.
type ParamModule interface {
	Module
	// Update applies an SGD step using the gradients computed by the last
	// Backward call.
	Update(lr float64) error
}

// Sequential chains multiple Modules in order.
type Sequential struct {
	Layers []Module
}

// Forward applies each layer in sequence.
func (s *Sequential) Forward(x, xS *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	var err error
	for _, layer := range s.Layers {
		x, xS, err = layer.Forward(x, xS)
		if err != nil {
			return nil, nil, err
		}
	}
	return x, xS, nil
}

// Backward applies Backward in reverse order.
func (s *Sequential) Backward(gradY, gradYS *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	var err error
	for i := len(s.Layers) - 1; i >= 0; i-- {
		gradY, gradYS, err = s.Layers[i].Backward(gradY, gradYS)
		if err != nil {
			return nil, nil, err
		}
	}
	return gradY, gradYS, nil
}

// Update calls Update on every parameterized layer.
func (s *Sequential) Update(lr float64) error {
	for _, layer := range s.Layers {
		if p, ok := layer.(ParamModule); ok {
			if err := p.Update(lr); err != nil {
				return err
			}
		}
	}
	return nil
}
