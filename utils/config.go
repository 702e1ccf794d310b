package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// Config holds an experiment configuration.
type Config struct {
	Architecture []int  // layer widths, input first
	BatchSize    int
	Steps        int
	QuantBits    int    // bit width for the quantization ops
	NoiseModel   string // "none", "quant" or "ckks"
	LearningRate float64
}

// ParseArchitecture parses an architecture string ("784 128 10") into a
// slice of layer widths.
func ParseArchitecture(archStr string) ([]int, error) {
	archParts := strings.Fields(archStr)
	arch := make([]int, len(archParts))
	for i, s := range archParts {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, err
		}
		arch[i] = n
	}
	return arch, nil
}

// ValidateConfig validates an experiment configuration.
func ValidateConfig(config *Config) error {
	if len(config.Architecture) < 2 {
		return fmt.Errorf("architecture must have at least 2 layers (input and output)")
	}
	for i, w := range config.Architecture {
		if w <= 0 {
			return fmt.Errorf("layer %d width must be positive, got %d", i, w)
		}
	}
	if config.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if config.Steps <= 0 {
		return fmt.Errorf("steps must be positive")
	}
	if config.QuantBits < 0 {
		return fmt.Errorf("quant bits must be non-negative")
	}
	switch config.NoiseModel {
	case "none", "quant", "ckks":
	default:
		return fmt.Errorf("noise model must be 'none', 'quant' or 'ckks'")
	}
	if config.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive")
	}
	return nil
}
