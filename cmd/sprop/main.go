// sprop: surrogate-propagation probe for the variance-tracking operators
//
// Builds an MLP stack of SLinear layers from an architecture string, seeds
// the surrogate stream from the selected noise model, then runs
// forward/backward iterations on synthetic data and reports timing and the
// per-layer surrogate-gradient magnitude.
//
// Usage:
//
//	sprop --arch="64 32 10" --steps=10 --noise=quant --bits=8
package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/dewenzeng/CIM-Second/nn"
	"github.com/dewenzeng/CIM-Second/nn/layers"
	"github.com/dewenzeng/CIM-Second/noise"
	"github.com/dewenzeng/CIM-Second/tensor"
	"github.com/dewenzeng/CIM-Second/utils"
)

var (
	archStr      = flag.String("arch", "64 32 10", "Layer widths, input first")
	batchSize    = flag.Int("batch", 8, "Batch size")
	steps        = flag.Int("steps", 10, "Number of forward/backward iterations")
	quantBits    = flag.Int("bits", 8, "Quantizer bit width")
	noiseModel   = flag.String("noise", "quant", "Noise model: none, quant, ckks")
	learningRate = flag.Float64("lr", 0.01, "Learning rate")
	verbose      = flag.Bool("verbose", true, "Verbose output")
	seed         = flag.Int64("seed", 42, "Random seed")
	outputFile   = flag.String("output", "", "Output weights file (JSON)")
)

func meanAbs(t *tensor.Tensor) float64 {
	if len(t.Data) == 0 {
		return 0
	}
	s := 0.0
	for _, v := range t.Data {
		s += math.Abs(v)
	}
	return s / float64(len(t.Data))
}

func main() {
	flag.Parse()
	utils.Verbose = *verbose
	rng := rand.New(rand.NewSource(*seed))

	arch, err := utils.ParseArchitecture(*archStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad architecture: %v\n", err)
		os.Exit(1)
	}
	cfg := &utils.Config{
		Architecture: arch,
		BatchSize:    *batchSize,
		Steps:        *steps,
		QuantBits:    *quantBits,
		NoiseModel:   *noiseModel,
		LearningRate: *learningRate,
	}
	if err := utils.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "bad configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration:\n")
	fmt.Printf("  Architecture:  %v\n", cfg.Architecture)
	fmt.Printf("  Batch size:    %d\n", cfg.BatchSize)
	fmt.Printf("  Steps:         %d\n", cfg.Steps)
	fmt.Printf("  Noise model:   %s (bits=%d)\n", cfg.NoiseModel, cfg.QuantBits)
	fmt.Printf("  Learning rate: %.4f\n", cfg.LearningRate)
	fmt.Println()

	stats := &utils.TimingStats{}
	startAll := time.Now()

	// Build the stack: SLinear -> Quant between layers.
	start := time.Now()
	var linears []*layers.SLinear
	model := &nn.Sequential{}
	for i := 0; i+1 < len(arch); i++ {
		l := layers.NewSLinear(arch[i], arch[i+1], true)
		utils.InitUniform(l.W, arch[i])
		linears = append(linears, l)
		model.Layers = append(model.Layers, l)
		if i+2 < len(arch) {
			model.Layers = append(model.Layers, layers.NewQuant(cfg.QuantBits))
		}
	}
	stats.ModelInitTime = time.Since(start)

	var src noise.Source
	switch cfg.NoiseModel {
	case "quant":
		src = &noise.QuantSource{Bits: cfg.QuantBits}
	case "ckks":
		start = time.Now()
		src, err = noise.NewCKKSSource()
		if err != nil {
			fmt.Fprintf(os.Stderr, "ckks setup: %v\n", err)
			os.Exit(1)
		}
		stats.NoiseSeedTime += time.Since(start)
	}

	loss := &nn.SCrossEntropy{}
	classes := arch[len(arch)-1]

	for step := 0; step < cfg.Steps; step++ {
		x := tensor.New(cfg.BatchSize, arch[0])
		for i := range x.Data {
			x.Data[i] = rng.NormFloat64()
		}
		targets := make([]int, cfg.BatchSize)
		for i := range targets {
			targets[i] = rng.Intn(classes)
		}

		xS := tensor.New(x.Shape...)
		if src != nil {
			start = time.Now()
			var err error
			x, xS, err = src.Perturb(x)
			if err != nil {
				fmt.Fprintf(os.Stderr, "noise seed: %v\n", err)
				os.Exit(1)
			}
			stats.NoiseSeedTime += time.Since(start)
		}

		start = time.Now()
		y, yS, err := model.Forward(x, xS)
		if err != nil {
			fmt.Fprintf(os.Stderr, "forward: %v\n", err)
			os.Exit(1)
		}
		stats.ForwardPassTime += time.Since(start)

		start = time.Now()
		lossVal, err := loss.Forward(y, yS, targets)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loss: %v\n", err)
			os.Exit(1)
		}
		stats.LossComputationTime += time.Since(start)

		start = time.Now()
		g, gS, err := loss.Backward()
		if err != nil {
			fmt.Fprintf(os.Stderr, "loss backward: %v\n", err)
			os.Exit(1)
		}
		if _, _, err = model.Backward(g, gS); err != nil {
			fmt.Fprintf(os.Stderr, "backward: %v\n", err)
			os.Exit(1)
		}
		stats.BackwardPassTime += time.Since(start)

		start = time.Now()
		if err := model.Update(cfg.LearningRate); err != nil {
			fmt.Fprintf(os.Stderr, "update: %v\n", err)
			os.Exit(1)
		}
		stats.UpdateTime += time.Since(start)

		if utils.Verbose {
			fmt.Printf("step %3d  loss=%.6f\n", step, lossVal)
		}
	}
	stats.TotalTime = time.Since(startAll)

	fmt.Println("\nSurrogate-gradient magnitude per layer:")
	for _, l := range linears {
		if l.GradWS != nil {
			fmt.Printf("  %-16s mean|GradWS|=%.3e  var(GradW)=%.3e\n",
				l.Tag(), meanAbs(l.GradWS), l.GradW.Variance())
		}
	}
	utils.PrintTimingStats(stats, cfg.Steps)

	if *outputFile != "" {
		weights := &utils.ModelWeights{Version: "1", Layers: map[string]utils.LayerWeight{}}
		for _, l := range linears {
			lw := utils.LayerWeight{
				Weight:    utils.TensorToWeightData(l.Tag()+"_W", l.W),
				Surrogate: utils.TensorToWeightData(l.Tag()+"_WS", l.WS),
			}
			if l.B != nil {
				lw.Bias = utils.TensorToWeightData(l.Tag()+"_B", l.B)
			}
			weights.Layers[l.Tag()] = lw
		}
		if err := utils.SaveWeights(*outputFile, weights); err != nil {
			fmt.Fprintf(os.Stderr, "save weights: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nWeights written to %s\n", *outputFile)
	}
}
