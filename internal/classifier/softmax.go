package classifier

import (
	"fmt"
	"math"
	"strings"
)

// SoftmaxMode controls normalization of raw model output.
type SoftmaxMode string

const (
	// SoftmaxAuto normalizes only when the output does not already look like a distribution.
	SoftmaxAuto   SoftmaxMode = "auto"
	SoftmaxAlways SoftmaxMode = "always"
	SoftmaxNever  SoftmaxMode = "never"
)

// distributionTolerance is how far from 1.0 a sum may drift and still count as normalized.
const distributionTolerance = 0.01

// ParseSoftmaxMode maps a configuration string to a mode. Empty means auto.
func ParseSoftmaxMode(s string) (SoftmaxMode, error) {
	switch m := SoftmaxMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return SoftmaxAuto, nil
	case SoftmaxAuto, SoftmaxAlways, SoftmaxNever:
		return m, nil
	default:
		return "", fmt.Errorf("unknown softmax mode %q", s)
	}
}

func normalize(mode SoftmaxMode, values []float32) []float32 {
	switch mode {
	case SoftmaxNever:
		return values
	case SoftmaxAlways:
		return softmax(values)
	}
	if isDistribution(values) {
		return values
	}
	return softmax(values)
}

func isDistribution(values []float32) bool {
	var sum float64
	for _, v := range values {
		if v < 0 || v > 1 || math.IsNaN(float64(v)) {
			return false
		}
		sum += float64(v)
	}
	return math.Abs(sum-1) <= distributionTolerance
}

// softmax returns a new slice; the input is left untouched.
func softmax(values []float32) []float32 {
	out := make([]float32, len(values))
	if len(values) == 0 {
		return out
	}

	maxVal := values[0]
	for _, v := range values[1:] {
		maxVal = max(maxVal, v)
	}

	var sum float64
	exps := make([]float64, len(values))
	for i, v := range values {
		exps[i] = math.Exp(float64(v - maxVal))
		sum += exps[i]
	}
	for i := range exps {
		out[i] = float32(exps[i] / sum)
	}
	return out
}
