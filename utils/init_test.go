package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dewenzeng/CIM-Second/tensor"
)

func TestInitUniform_Range(t *testing.T) {
	w := tensor.New(100, 16)
	InitUniform(w, 16)

	bound := 1 / math.Sqrt(16)
	for _, v := range w.Data {
		assert.LessOrEqual(t, math.Abs(v), bound)
	}
	// Not degenerate.
	assert.NotEqual(t, w.Data[0], w.Data[1])
}

func TestInitNormal_Spread(t *testing.T) {
	w := tensor.New(100, 100)
	InitNormal(w, 0.1)

	assert.InDelta(t, 0.0, w.Mean(), 0.01)
	assert.InDelta(t, 0.01, w.Variance(), 0.005)
}
