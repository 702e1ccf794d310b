package layers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dewenzeng/CIM-Second/tensor"
)

func TestBackPool_ForwardIdentity(t *testing.T) {
	p := NewBackPool(2)
	assert.Equal(t, 0.25, p.Factor)

	x := tensor.New(2, 3)
	copy(x.Data, []float64{1, 2, 3, 4, 5, 6})
	xS := tensor.Ones(2, 3)

	y, yS, err := p.Forward(x, xS)
	require.NoError(t, err)
	assert.Same(t, x, y)
	assert.Same(t, xS, yS)
}

func TestBackPool_BackwardScalesSurrogate(t *testing.T) {
	p := NewBackPool(2)
	_, _, err := p.Forward(tensor.New(1, 4), tensor.New(1, 4))
	require.NoError(t, err)

	g := tensor.Ones(1, 4)
	gS := tensor.New(1, 4)
	copy(gS.Data, []float64{4, 8, 12, 16})

	gradX, gradXS, err := p.Backward(g, gS)
	require.NoError(t, err)
	assert.Same(t, g, gradX)
	assert.Equal(t, []float64{1, 2, 3, 4}, gradXS.Data)
}

func TestBackPool_Errors(t *testing.T) {
	p := NewBackPool(3)
	_, _, err := p.Backward(tensor.Ones(1, 1), tensor.Ones(1, 1))
	assert.Error(t, err, "backward before forward must fail")

	_, _, err = p.Forward(tensor.New(1, 2), tensor.New(2, 1))
	assert.Error(t, err, "surrogate shape mismatch must fail")
}

func TestTimes_Forward(t *testing.T) {
	s := NewTimes(3)
	x := tensor.New(1, 2)
	copy(x.Data, []float64{1, -2})

	y, yS, err := s.Forward(x, tensor.New(1, 2))
	require.NoError(t, err)
	assert.Equal(t, []float64{3, -6}, y.Data)
	assert.Equal(t, []float64{1, 1}, yS.Data)
}

func TestTimes_Backward(t *testing.T) {
	s := NewTimes(3)
	_, _, err := s.Forward(tensor.New(1, 2), nil)
	require.NoError(t, err)

	g := tensor.New(1, 2)
	copy(g.Data, []float64{1, 2})
	gS := tensor.Ones(1, 2)

	gradX, gradXS, err := s.Backward(g, gS)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 6}, gradX.Data)
	// Surrogate gradient couples to the value gradient through a².
	assert.Equal(t, []float64{9, 18}, gradXS.Data)
}

func TestTimes_BackwardBeforeForward(t *testing.T) {
	s := NewTimes(2)
	_, _, err := s.Backward(tensor.Ones(1, 1), tensor.Ones(1, 1))
	assert.Error(t, err)
}
