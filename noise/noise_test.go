package noise

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dewenzeng/CIM-Second/tensor"
)

func TestQuantSource_Perturb(t *testing.T) {
	src := &QuantSource{Bits: 2}

	x := tensor.New(3)
	copy(x.Data, []float64{1.0, 0.3, -0.6})

	noisy, sqErr, err := src.Perturb(x)
	require.NoError(t, err)

	// Step 0.25 grid: 1.0 -> 1.0, 0.3 -> 0.25, -0.6 -> -0.5.
	assert.Equal(t, []float64{1.0, 0.25, -0.5}, noisy.Data)
	assert.InDelta(t, 0.0, sqErr.Data[0], 1e-15)
	assert.InDelta(t, 0.05*0.05, sqErr.Data[1], 1e-15)
	assert.InDelta(t, 0.1*0.1, sqErr.Data[2], 1e-15)
}

func TestQuantSource_SqErrShrinksWithBits(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := tensor.New(64)
	for i := range x.Data {
		x.Data[i] = rng.NormFloat64()
	}

	total := func(bits int) float64 {
		src := &QuantSource{Bits: bits}
		_, sqErr, err := src.Perturb(x)
		require.NoError(t, err)
		return sqErr.Sum()
	}
	assert.Less(t, total(8), total(2))
}

func TestCKKSSource_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping CKKS key generation in short mode")
	}
	src, err := NewCKKSSource()
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(5))
	x := tensor.New(2, 128)
	for i := range x.Data {
		x.Data[i] = rng.Float64()*2 - 1
	}

	noisy, sqErr, err := src.Perturb(x)
	require.NoError(t, err)
	require.Equal(t, x.Shape, noisy.Shape)

	for i := range x.Data {
		assert.InDelta(t, x.Data[i], noisy.Data[i], 1e-4, "slot %d", i)
		assert.GreaterOrEqual(t, sqErr.Data[i], 0.0)
		assert.Less(t, sqErr.Data[i], 1e-8)
	}
}
