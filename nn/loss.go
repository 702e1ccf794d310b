package nn

import (
	"fmt"
	"math"

	"github.com/dewenzeng/CIM-Second/tensor"
)

// Softmax applies the softmax function to a 1-D tensor.
func Softmax(logits *tensor.Tensor) *tensor.Tensor {
	maxLogit := logits.Data[0]
	for _, v := range logits.Data {
		if v > maxLogit {
			maxLogit = v
		}
	}
	expSum := 0.0
	exps := make([]float64, len(logits.Data))
	for i, v := range logits.Data {
		e := math.Exp(v - maxLogit)
		exps[i] = e
		expSum += e
	}
	softmax := tensor.New(len(logits.Data))
	for i, e := range exps {
		softmax.Data[i] = e / expSum
	}
	return softmax
}

// SoftmaxRows applies softmax to each row of a [batch, classes] tensor.
func SoftmaxRows(logits *tensor.Tensor) (*tensor.Tensor, error) {
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("SoftmaxRows expects [batch, classes], got %v", logits.Shape)
	}
	batch, classes := logits.Shape[0], logits.Shape[1]
	out := tensor.New(batch, classes)
	for b := 0; b < batch; b++ {
		row := logits.Data[b*classes : (b+1)*classes]
		maxLogit := row[0]
		for _, v := range row {
			if v > maxLogit {
				maxLogit = v
			}
		}
		expSum := 0.0
		for j, v := range row {
			e := math.Exp(v - maxLogit)
			out.Data[b*classes+j] = e
			expSum += e
		}
		for j := 0; j < classes; j++ {
			out.Data[b*classes+j] /= expSum
		}
	}
	return out, nil
}

// SMSE is a mean-squared-error loss with a surrogate gradient stream.
// Its backward seeds the surrogate gradient with the constant curvature 2.
type SMSE struct {
	// Reduction is "mean" (default) or "sum"; it affects the forward value
	// only. The backward gradient is 2(x-t) in both cases.
	Reduction string

	lastInput  *tensor.Tensor
	lastTarget *tensor.Tensor
}

// Forward computes the reduced squared error between input and target.
// The surrogate input is accepted for interface symmetry; the loss value
// does not depend on it.
func (l *SMSE) Forward(input, inputS, target *tensor.Tensor) (float64, error) {
	if !tensor.SameShape(input, target) {
		return 0, fmt.Errorf("SMSE: input shape %v does not match target shape %v", input.Shape, target.Shape)
	}
	l.lastInput = input.Clone()
	l.lastTarget = target.Clone()

	sum := 0.0
	for i := range input.Data {
		d := input.Data[i] - target.Data[i]
		sum += d * d
	}
	switch l.Reduction {
	case "", "mean":
		return sum / float64(len(input.Data)), nil
	case "sum":
		return sum, nil
	default:
		return 0, fmt.Errorf("SMSE: unknown reduction %q", l.Reduction)
	}
}

// Backward returns the gradient pair with respect to the input:
// gradIn = 2(x-t), gradInS = 2 everywhere.
func (l *SMSE) Backward() (gradIn, gradInS *tensor.Tensor, err error) {
	if l.lastInput == nil {
		return nil, nil, fmt.Errorf("SMSE: no cached input for backward pass")
	}
	gradIn = tensor.New(l.lastInput.Shape...)
	for i := range gradIn.Data {
		gradIn.Data[i] = 2 * (l.lastInput.Data[i] - l.lastTarget.Data[i])
	}
	gradInS = tensor.Full(2, l.lastInput.Shape...)
	return gradIn, gradInS, nil
}

// SCrossEntropy is a softmax cross-entropy loss over [batch, classes] logits
// with integer class targets. Its backward emits the ordinary softmax
// gradient on the value stream and the per-logit softmax variance p(1-p) on
// the surrogate stream.
type SCrossEntropy struct {
	lastInput   *tensor.Tensor
	lastTargets []int
}

// Forward computes the mean cross-entropy over the batch, log-sum-exp
// stabilized.
func (l *SCrossEntropy) Forward(input, inputS *tensor.Tensor, targets []int) (float64, error) {
	if len(input.Shape) != 2 {
		return 0, fmt.Errorf("SCrossEntropy: expected [batch, classes] logits, got %v", input.Shape)
	}
	batch, classes := input.Shape[0], input.Shape[1]
	if len(targets) != batch {
		return 0, fmt.Errorf("SCrossEntropy: %d targets for batch of %d", len(targets), batch)
	}
	for b, t := range targets {
		if t < 0 || t >= classes {
			return 0, fmt.Errorf("SCrossEntropy: target %d out of range [0,%d) at row %d", t, classes, b)
		}
	}
	l.lastInput = input.Clone()
	l.lastTargets = append([]int(nil), targets...)

	loss := 0.0
	for b := 0; b < batch; b++ {
		row := input.Data[b*classes : (b+1)*classes]
		maxLogit := row[0]
		for _, v := range row {
			if v > maxLogit {
				maxLogit = v
			}
		}
		expSum := 0.0
		for _, v := range row {
			expSum += math.Exp(v - maxLogit)
		}
		loss += math.Log(expSum) + maxLogit - row[targets[b]]
	}
	return loss / float64(batch), nil
}

// Backward returns the gradient pair with respect to the logits:
// gradIn = (softmax - onehot)/batch, gradInS = softmax*(1-softmax).
func (l *SCrossEntropy) Backward() (gradIn, gradInS *tensor.Tensor, err error) {
	if l.lastInput == nil {
		return nil, nil, fmt.Errorf("SCrossEntropy: no cached input for backward pass")
	}
	batch, classes := l.lastInput.Shape[0], l.lastInput.Shape[1]
	ratio, err := SoftmaxRows(l.lastInput)
	if err != nil {
		return nil, nil, err
	}

	gradIn = tensor.New(batch, classes)
	gradInS = tensor.New(batch, classes)
	for b := 0; b < batch; b++ {
		for j := 0; j < classes; j++ {
			p := ratio.Data[b*classes+j]
			g := p
			if j == l.lastTargets[b] {
				g -= 1
			}
			gradIn.Data[b*classes+j] = g / float64(batch)
			gradInS.Data[b*classes+j] = (1 - p) * p
		}
	}
	if gradIn.HasNaN() || gradInS.HasNaN() {
		return nil, nil, fmt.Errorf("SCrossEntropy: NaN in backward gradients")
	}
	return gradIn, gradInS, nil
}
