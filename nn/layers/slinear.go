package layers

import (
	"fmt"

	"github.com/dewenzeng/CIM-Second/tensor"
)

// SLinear is a fully-connected layer that propagates a variance surrogate
// through both passes.
//
// Value stream:      y = x·Wᵀ + b
// Surrogate stream:  yS is re-seeded to 1; the surrogate information flows
// through the backward pass, where the squared weights take the place of the
// weights.
type SLinear struct {
	W  *tensor.Tensor // [outDim, inDim]
	WS *tensor.Tensor // [outDim, inDim] weight surrogate
	B  *tensor.Tensor // [outDim], nil when the layer has no bias

	// Gradients populated by Backward.
	GradW  *tensor.Tensor
	GradWS *tensor.Tensor
	GradB  *tensor.Tensor

	lastInput *tensor.Tensor
}

// NewSLinear creates an inDim→outDim layer. Weights start at zero; use
// utils.InitUniform for fan-in scaled initialization.
func NewSLinear(inDim, outDim int, bias bool) *SLinear {
	l := &SLinear{
		W:  tensor.New(outDim, inDim),
		WS: tensor.New(outDim, inDim),
	}
	if bias {
		l.B = tensor.New(outDim)
	}
	return l
}

// Forward computes y = x·Wᵀ + b for x of shape [batch, inDim] and re-seeds
// the surrogate output to ones.
func (l *SLinear) Forward(x, xS *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if len(x.Shape) != 2 {
		return nil, nil, fmt.Errorf("SLinear: expected [batch, inDim] input, got %v", x.Shape)
	}
	if x.Shape[1] != l.W.Shape[1] {
		return nil, nil, fmt.Errorf("SLinear: input dim %d does not match weight dim %d", x.Shape[1], l.W.Shape[1])
	}
	if xS != nil && !tensor.SameShape(x, xS) {
		return nil, nil, fmt.Errorf("SLinear: surrogate shape %v does not match input shape %v", xS.Shape, x.Shape)
	}
	l.lastInput = x.Clone()

	wT, err := tensor.Transpose(l.W)
	if err != nil {
		return nil, nil, err
	}
	y, err := tensor.MatMul(x, wT)
	if err != nil {
		return nil, nil, err
	}
	if l.B != nil {
		batch, outDim := y.Shape[0], y.Shape[1]
		for b := 0; b < batch; b++ {
			for j := 0; j < outDim; j++ {
				y.Data[b*outDim+j] += l.B.Data[j]
			}
		}
	}
	return y, tensor.OnesLike(y), nil
}

// Backward computes the input gradient pair and stores the parameter
// gradients:
//
//	gradX  = g · W           GradW  = gᵀ · x
//	gradXS = gS · (W∘W)      GradWS = gSᵀ · (x∘x)
//	GradB  = Σ_batch g
func (l *SLinear) Backward(gradY, gradYS *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if l.lastInput == nil {
		return nil, nil, fmt.Errorf("SLinear: no cached input for backward pass")
	}
	if len(gradY.Shape) != 2 || gradY.Shape[0] != l.lastInput.Shape[0] || gradY.Shape[1] != l.W.Shape[0] {
		return nil, nil, fmt.Errorf("SLinear: gradient shape %v does not match [batch=%d, outDim=%d]",
			gradY.Shape, l.lastInput.Shape[0], l.W.Shape[0])
	}
	if !tensor.SameShape(gradY, gradYS) {
		return nil, nil, fmt.Errorf("SLinear: surrogate gradient shape %v does not match %v", gradYS.Shape, gradY.Shape)
	}

	gradX, err := tensor.MatMul(gradY, l.W)
	if err != nil {
		return nil, nil, err
	}
	gradXS, err := tensor.MatMul(gradYS, tensor.Square(l.W))
	if err != nil {
		return nil, nil, err
	}

	gT, err := tensor.Transpose(gradY)
	if err != nil {
		return nil, nil, err
	}
	l.GradW, err = tensor.MatMul(gT, l.lastInput)
	if err != nil {
		return nil, nil, err
	}
	gST, err := tensor.Transpose(gradYS)
	if err != nil {
		return nil, nil, err
	}
	l.GradWS, err = tensor.MatMul(gST, tensor.Square(l.lastInput))
	if err != nil {
		return nil, nil, err
	}

	if l.B != nil {
		batch, outDim := gradY.Shape[0], gradY.Shape[1]
		l.GradB = tensor.New(outDim)
		for b := 0; b < batch; b++ {
			for j := 0; j < outDim; j++ {
				l.GradB.Data[j] += gradY.Data[b*outDim+j]
			}
		}
	}
	return gradX, gradXS, nil
}

// Update applies an SGD step to W and B using the last computed gradients.
// WS is a diagnostic buffer and is left to the caller.
func (l *SLinear) Update(lr float64) error {
	if l.GradW == nil {
		return fmt.Errorf("SLinear: no gradients to update")
	}
	for i := range l.W.Data {
		l.W.Data[i] -= lr * l.GradW.Data[i]
	}
	if l.B != nil && l.GradB != nil {
		for i := range l.B.Data {
			l.B.Data[i] -= lr * l.GradB.Data[i]
		}
	}
	return nil
}

func (l *SLinear) Tag() string {
	return fmt.Sprintf("SLinear_%d_%d", l.W.Shape[1], l.W.Shape[0])
}
