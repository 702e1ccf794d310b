package layers

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dewenzeng/CIM-Second/tensor"
)

func TestSLinear_Forward(t *testing.T) {
	l := NewSLinear(2, 2, true)
	// W = [[1 2],[3 4]], b = [0.5, -0.5]
	copy(l.W.Data, []float64{1, 2, 3, 4})
	copy(l.B.Data, []float64{0.5, -0.5})

	x := tensor.New(1, 2)
	copy(x.Data, []float64{1, 1})
	xS := tensor.New(1, 2)

	y, yS, err := l.Forward(x, xS)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, y.Shape)
	assert.InDelta(t, 3.5, y.Data[0], 1e-12) // 1+2+0.5
	assert.InDelta(t, 6.5, y.Data[1], 1e-12) // 3+4-0.5

	// Surrogate output is re-seeded to ones.
	assert.Equal(t, []float64{1, 1}, yS.Data)
}

func TestSLinear_Backward(t *testing.T) {
	l := NewSLinear(2, 2, true)
	copy(l.W.Data, []float64{1, 2, 3, 4})

	x := tensor.New(1, 2)
	copy(x.Data, []float64{2, 3})
	xS := tensor.New(1, 2)
	_, _, err := l.Forward(x, xS)
	require.NoError(t, err)

	g := tensor.New(1, 2)
	copy(g.Data, []float64{1, 1})
	gS := tensor.New(1, 2)
	copy(gS.Data, []float64{0.5, 0.25})

	gradX, gradXS, err := l.Backward(g, gS)
	require.NoError(t, err)

	// gradX = g·W = [1+3, 2+4]
	assert.InDelta(t, 4.0, gradX.Data[0], 1e-12)
	assert.InDelta(t, 6.0, gradX.Data[1], 1e-12)

	// gradXS = gS·W² = [0.5*1+0.25*9, 0.5*4+0.25*16]
	assert.InDelta(t, 2.75, gradXS.Data[0], 1e-12)
	assert.InDelta(t, 6.0, gradXS.Data[1], 1e-12)

	// GradW = gᵀ·x = [[2 3],[2 3]]
	assert.Equal(t, []float64{2, 3, 2, 3}, l.GradW.Data)

	// GradWS = gSᵀ·x² = [[0.5*4 0.5*9],[0.25*4 0.25*9]]
	assert.Equal(t, []float64{2, 4.5, 1, 2.25}, l.GradWS.Data)

	// GradB = column sums of g
	assert.Equal(t, []float64{1, 1}, l.GradB.Data)
}

func TestSLinear_BackwardMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	l := NewSLinear(3, 2, true)
	for i := range l.W.Data {
		l.W.Data[i] = rng.NormFloat64()
	}
	x := tensor.New(4, 3)
	for i := range x.Data {
		x.Data[i] = rng.NormFloat64()
	}
	g := tensor.New(4, 2)
	for i := range g.Data {
		g.Data[i] = rng.NormFloat64()
	}
	gS := tensor.New(4, 2)

	_, _, err := l.Forward(x, tensor.New(4, 3))
	require.NoError(t, err)
	gradX, _, err := l.Backward(g, gS)
	require.NoError(t, err)

	// Scalar objective L = Σ y∘g; dL/dx should match the analytic gradient.
	eval := func(xv *tensor.Tensor) float64 {
		y, _, err := l.Forward(xv, tensor.New(xv.Shape...))
		require.NoError(t, err)
		s := 0.0
		for i := range y.Data {
			s += y.Data[i] * g.Data[i]
		}
		return s
	}
	const h = 1e-6
	for i := range x.Data {
		xp := x.Clone()
		xp.Data[i] += h
		xm := x.Clone()
		xm.Data[i] -= h
		fd := (eval(xp) - eval(xm)) / (2 * h)
		assert.InDelta(t, fd, gradX.Data[i], 1e-5, "gradX[%d]", i)
	}
}

func TestSLinear_NoBias(t *testing.T) {
	l := NewSLinear(2, 1, false)
	copy(l.W.Data, []float64{1, 1})
	require.Nil(t, l.B)

	x := tensor.New(1, 2)
	copy(x.Data, []float64{3, 4})
	y, _, err := l.Forward(x, tensor.New(1, 2))
	require.NoError(t, err)
	assert.InDelta(t, 7.0, y.Data[0], 1e-12)

	_, _, err = l.Backward(tensor.Ones(1, 1), tensor.Ones(1, 1))
	require.NoError(t, err)
	assert.Nil(t, l.GradB)
}

func TestSLinear_Errors(t *testing.T) {
	l := NewSLinear(2, 2, true)

	_, _, err := l.Backward(tensor.Ones(1, 2), tensor.Ones(1, 2))
	assert.Error(t, err, "backward before forward must fail")

	_, _, err = l.Forward(tensor.New(3), nil)
	assert.Error(t, err, "1-D input must fail")

	_, _, err = l.Forward(tensor.New(1, 3), nil)
	assert.Error(t, err, "dimension mismatch must fail")

	_, _, err = l.Forward(tensor.New(1, 2), tensor.New(2, 2))
	assert.Error(t, err, "surrogate shape mismatch must fail")
}

func TestSLinear_Update(t *testing.T) {
	l := NewSLinear(1, 1, true)
	copy(l.W.Data, []float64{1})
	copy(l.B.Data, []float64{0.5})

	x := tensor.New(1, 1)
	copy(x.Data, []float64{2})
	_, _, err := l.Forward(x, tensor.New(1, 1))
	require.NoError(t, err)
	_, _, err = l.Backward(tensor.Ones(1, 1), tensor.Ones(1, 1))
	require.NoError(t, err)

	require.NoError(t, l.Update(0.1))
	assert.InDelta(t, 1.0-0.1*2, l.W.Data[0], 1e-12)
	assert.InDelta(t, 0.5-0.1*1, l.B.Data[0], 1e-12)
}
