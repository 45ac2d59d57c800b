package postprocess

import "github.com/chewxy/math32"

// Softmax converts logits into probabilities summing to 1. The maximum is
// subtracted first so large logits do not overflow.
func Softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}

	maxLogit := logits[0]
	for _, v := range logits[1:] {
		maxLogit = math32.Max(maxLogit, v)
	}

	var sum float32
	for i, v := range logits {
		out[i] = math32.Exp(v - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Sigmoid is the logistic function.
func Sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// Argmax returns the index and value of the largest element, or (-1, -Inf)
// for an empty slice. The first maximum wins on ties.
func Argmax(xs []float32) (int, float32) {
	best, bestVal := -1, math32.Inf(-1)
	for i, v := range xs {
		if v > bestVal {
			best, bestVal = i, v
		}
	}
	return best, bestVal
}

// IsProbabilityVector reports whether xs already looks like a distribution:
// every value in [0,1] and the sum within tol of 1.
func IsProbabilityVector(xs []float32, tol float32) bool {
	if len(xs) == 0 {
		return false
	}
	var sum float32
	for _, v := range xs {
		if v < 0 || v > 1 {
			return false
		}
		sum += v
	}
	return math32.Abs(sum-1) <= tol
}
