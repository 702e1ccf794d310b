package layers

import (
	"fmt"
	"math"

	"github.com/dewenzeng/CIM-Second/tensor"
)

// SBatchNorm2d normalizes [batch, C, H, W] inputs per channel using running
// statistics and propagates a variance surrogate through the backward pass.
//
// Normalization always uses the running buffers, which is the regime the
// surrogate calculus targets; when Training is set, Forward first folds the
// batch statistics into the buffers with the usual momentum rule.
type SBatchNorm2d struct {
	Gamma *tensor.Tensor // [C] scale
	Beta  *tensor.Tensor // [C] shift

	RunningMean *tensor.Tensor // [C]
	RunningVar  *tensor.Tensor // [C]

	Eps      float64
	Momentum float64
	Training bool

	GradGamma *tensor.Tensor
	GradBeta  *tensor.Tensor

	lastInput *tensor.Tensor
}

// NewSBatchNorm2d creates a batch-norm layer over numFeatures channels with
// gamma=1, beta=0, zero running mean and unit running variance.
func NewSBatchNorm2d(numFeatures int) *SBatchNorm2d {
	return &SBatchNorm2d{
		Gamma:       tensor.Ones(numFeatures),
		Beta:        tensor.New(numFeatures),
		RunningMean: tensor.New(numFeatures),
		RunningVar:  tensor.Ones(numFeatures),
		Eps:         1e-5,
		Momentum:    0.1,
	}
}

func (n *SBatchNorm2d) numFeatures() int { return n.Gamma.Shape[0] }

// Forward normalizes x per channel and re-seeds the surrogate output to ones.
func (n *SBatchNorm2d) Forward(x, xS *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, nil, fmt.Errorf("SBatchNorm2d: expected [batch, C, H, W] input, got %v", x.Shape)
	}
	ch := n.numFeatures()
	if x.Shape[1] != ch {
		return nil, nil, fmt.Errorf("SBatchNorm2d: expected %d channels, got %d", ch, x.Shape[1])
	}
	if xS != nil && !tensor.SameShape(x, xS) {
		return nil, nil, fmt.Errorf("SBatchNorm2d: surrogate shape %v does not match input shape %v", xS.Shape, x.Shape)
	}
	batch, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
	plane := h * w
	count := batch * plane

	if n.Training {
		for c := 0; c < ch; c++ {
			sum := 0.0
			for b := 0; b < batch; b++ {
				base := (b*ch + c) * plane
				for i := 0; i < plane; i++ {
					sum += x.Data[base+i]
				}
			}
			mean := sum / float64(count)
			sq := 0.0
			for b := 0; b < batch; b++ {
				base := (b*ch + c) * plane
				for i := 0; i < plane; i++ {
					d := x.Data[base+i] - mean
					sq += d * d
				}
			}
			// The running buffer takes the unbiased batch variance.
			variance := sq / float64(count)
			if count > 1 {
				variance = sq / float64(count-1)
			}
			n.RunningMean.Data[c] = (1-n.Momentum)*n.RunningMean.Data[c] + n.Momentum*mean
			n.RunningVar.Data[c] = (1-n.Momentum)*n.RunningVar.Data[c] + n.Momentum*variance
		}
	}

	n.lastInput = x.Clone()

	y := tensor.New(x.Shape...)
	for c := 0; c < ch; c++ {
		inv := 1.0 / math.Sqrt(n.RunningVar.Data[c]+n.Eps)
		gamma, beta := n.Gamma.Data[c], n.Beta.Data[c]
		mean := n.RunningMean.Data[c]
		for b := 0; b < batch; b++ {
			base := (b*ch + c) * plane
			for i := 0; i < plane; i++ {
				y.Data[base+i] = gamma*(x.Data[base+i]-mean)*inv + beta
			}
		}
	}
	return y, tensor.OnesLike(y), nil
}

// Backward computes, per channel with k = gamma/sqrt(var+eps):
//
//	gradX  = g · k        gradXS = gS · k²
//	GradGamma = Σ g·x̂    GradBeta = Σ g
func (n *SBatchNorm2d) Backward(gradY, gradYS *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if n.lastInput == nil {
		return nil, nil, fmt.Errorf("SBatchNorm2d: no cached input for backward pass")
	}
	if !tensor.SameShape(gradY, n.lastInput) {
		return nil, nil, fmt.Errorf("SBatchNorm2d: gradient shape %v does not match input shape %v", gradY.Shape, n.lastInput.Shape)
	}
	if !tensor.SameShape(gradY, gradYS) {
		return nil, nil, fmt.Errorf("SBatchNorm2d: surrogate gradient shape %v does not match %v", gradYS.Shape, gradY.Shape)
	}
	batch, ch := gradY.Shape[0], gradY.Shape[1]
	plane := gradY.Shape[2] * gradY.Shape[3]

	gradX := tensor.New(gradY.Shape...)
	gradXS := tensor.New(gradY.Shape...)
	n.GradGamma = tensor.New(ch)
	n.GradBeta = tensor.New(ch)

	for c := 0; c < ch; c++ {
		inv := 1.0 / math.Sqrt(n.RunningVar.Data[c]+n.Eps)
		k := n.Gamma.Data[c] * inv
		mean := n.RunningMean.Data[c]
		for b := 0; b < batch; b++ {
			base := (b*ch + c) * plane
			for i := 0; i < plane; i++ {
				g := gradY.Data[base+i]
				gradX.Data[base+i] = g * k
				gradXS.Data[base+i] = gradYS.Data[base+i] * k * k
				xhat := (n.lastInput.Data[base+i] - mean) * inv
				n.GradGamma.Data[c] += g * xhat
				n.GradBeta.Data[c] += g
			}
		}
	}
	return gradX, gradXS, nil
}

// Update applies an SGD step to gamma and beta.
func (n *SBatchNorm2d) Update(lr float64) error {
	if n.GradGamma == nil {
		return fmt.Errorf("SBatchNorm2d: no gradients to update")
	}
	for i := range n.Gamma.Data {
		n.Gamma.Data[i] -= lr * n.GradGamma.Data[i]
		n.Beta.Data[i] -= lr * n.GradBeta.Data[i]
	}
	return nil
}

func (n *SBatchNorm2d) Tag() string {
	return fmt.Sprintf("SBatchNorm2d_%d", n.numFeatures())
}
