package utils

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/dewenzeng/CIM-Second/tensor"
)

// InitUniform fills t in place with values drawn uniformly from
// [-1/sqrt(fanIn), 1/sqrt(fanIn)].
func InitUniform(t *tensor.Tensor, fanIn int) {
	dist := distuv.Uniform{
		Min: -1 / math.Sqrt(float64(fanIn)),
		Max: 1 / math.Sqrt(float64(fanIn)),
	}
	for i := range t.Data {
		t.Data[i] = dist.Rand()
	}
}

// InitNormal fills t in place with values drawn from N(0, sigma²).
func InitNormal(t *tensor.Tensor, sigma float64) {
	dist := distuv.Normal{Mu: 0, Sigma: sigma}
	for i := range t.Data {
		t.Data[i] = dist.Rand()
	}
}
