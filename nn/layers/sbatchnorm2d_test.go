package layers

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dewenzeng/CIM-Second/tensor"
)

func TestSBatchNorm2d_ForwardRunningStats(t *testing.T) {
	n := NewSBatchNorm2d(1)
	n.RunningMean.Data[0] = 2.0
	n.RunningVar.Data[0] = 4.0
	n.Gamma.Data[0] = 3.0
	n.Beta.Data[0] = 1.0

	x := tensor.New(1, 1, 1, 2)
	copy(x.Data, []float64{2, 4})

	y, yS, err := n.Forward(x, nil)
	require.NoError(t, err)

	inv := 1.0 / math.Sqrt(4.0+n.Eps)
	assert.InDelta(t, 1.0, y.Data[0], 1e-9)         // gamma*0 + beta
	assert.InDelta(t, 3*2*inv+1, y.Data[1], 1e-9)   // gamma*(4-2)*inv + beta
	assert.Equal(t, []float64{1, 1}, yS.Data)
}

func TestSBatchNorm2d_TrainingUpdatesBuffers(t *testing.T) {
	n := NewSBatchNorm2d(1)
	n.Training = true

	// Batch mean 2 over the four elements 0,2,2,4; Σ(x-mean)² = 8, so the
	// unbiased batch variance folded into the buffer is 8/3.
	x := tensor.New(1, 1, 2, 2)
	copy(x.Data, []float64{0, 2, 2, 4})
	_, _, err := n.Forward(x, nil)
	require.NoError(t, err)

	assert.InDelta(t, 0.9*0+0.1*2, n.RunningMean.Data[0], 1e-12)
	assert.InDelta(t, 0.9*1+0.1*8/3, n.RunningVar.Data[0], 1e-12)
}

func TestSBatchNorm2d_Backward(t *testing.T) {
	n := NewSBatchNorm2d(2)
	n.Gamma.Data[0] = 2.0
	n.Gamma.Data[1] = 0.5
	n.RunningVar.Data[0] = 1.0
	n.RunningVar.Data[1] = 4.0
	n.Eps = 0 // exact k values for the check

	x := tensor.New(1, 2, 1, 2)
	copy(x.Data, []float64{1, 2, 3, 4})
	_, _, err := n.Forward(x, nil)
	require.NoError(t, err)

	g := tensor.New(1, 2, 1, 2)
	copy(g.Data, []float64{1, 2, 3, 4})
	gS := tensor.Ones(1, 2, 1, 2)

	gradX, gradXS, err := n.Backward(g, gS)
	require.NoError(t, err)

	// k0 = 2/1 = 2, k1 = 0.5/2 = 0.25
	assert.InDelta(t, 2.0, gradX.Data[0], 1e-12)
	assert.InDelta(t, 4.0, gradX.Data[1], 1e-12)
	assert.InDelta(t, 0.75, gradX.Data[2], 1e-12)
	assert.InDelta(t, 1.0, gradX.Data[3], 1e-12)

	// gradXS = gS·k²
	assert.InDelta(t, 4.0, gradXS.Data[0], 1e-12)
	assert.InDelta(t, 4.0, gradXS.Data[1], 1e-12)
	assert.InDelta(t, 0.0625, gradXS.Data[2], 1e-12)
	assert.InDelta(t, 0.0625, gradXS.Data[3], 1e-12)

	// GradBeta = Σ g per channel.
	assert.InDelta(t, 3.0, n.GradBeta.Data[0], 1e-12)
	assert.InDelta(t, 7.0, n.GradBeta.Data[1], 1e-12)

	// GradGamma = Σ g·x̂ with x̂ = (x-mean)/sqrt(var): channel 0 mean 0 var 1,
	// channel 1 mean 0 var 4.
	assert.InDelta(t, 1*1+2*2, n.GradGamma.Data[0], 1e-12)
	assert.InDelta(t, 3*1.5+4*2, n.GradGamma.Data[1], 1e-12)
}

func TestSBatchNorm2d_Update(t *testing.T) {
	n := NewSBatchNorm2d(1)
	x := tensor.Ones(1, 1, 1, 1)
	_, _, err := n.Forward(x, nil)
	require.NoError(t, err)
	_, _, err = n.Backward(tensor.Ones(1, 1, 1, 1), tensor.Ones(1, 1, 1, 1))
	require.NoError(t, err)

	gamma, beta := n.Gamma.Data[0], n.Beta.Data[0]
	require.NoError(t, n.Update(0.1))
	assert.InDelta(t, gamma-0.1*n.GradGamma.Data[0], n.Gamma.Data[0], 1e-12)
	assert.InDelta(t, beta-0.1*n.GradBeta.Data[0], n.Beta.Data[0], 1e-12)
}

func TestSBatchNorm2d_Errors(t *testing.T) {
	n := NewSBatchNorm2d(2)

	_, _, err := n.Backward(tensor.Ones(1, 2, 1, 1), tensor.Ones(1, 2, 1, 1))
	assert.Error(t, err, "backward before forward must fail")

	_, _, err = n.Forward(tensor.New(2, 2), nil)
	assert.Error(t, err, "2-D input must fail")

	_, _, err = n.Forward(tensor.New(1, 3, 2, 2), nil)
	assert.Error(t, err, "channel mismatch must fail")

	_, _, err = n.Forward(tensor.New(1, 2, 2, 2), tensor.New(1, 2, 2, 2))
	require.NoError(t, err)
	_, _, err = n.Backward(tensor.Ones(1, 2, 2, 2), tensor.Ones(1, 2, 1, 2))
	assert.Error(t, err, "surrogate gradient shape mismatch must fail")
}
