package aggregate

import (
	"fmt"
	"math"
)

// #region position-weights
// PositionWeights returns the weight vector for m ordered chunks of one
// document. Chunk positions are normalized against the window midpoint
// (mid = floor(m/2)) and pushed through a standard normal density, so the
// first chunk gets the density peak and later chunks decay smoothly. The
// opening of a clinical note carries most of the diagnostic signal for
// the document label, and the smooth decay keeps the combination
// differentiable on the model side.
//
// For m = 1 the midpoint is zero and the weight vector is the scalar 1.
func PositionWeights(m int) []float64 {
	mid := float64(m / 2)
	if mid <= 0 {
		return []float64{1}
	}
	weights := make([]float64, m)
	for i := range weights {
		x := float64(i) / mid
		weights[i] = normalDensity(x, 0, 1)
	}
	return weights
}

// normalDensity computes the normal density at x for the given mean and
// standard deviation.
func normalDensity(x, mu, sigma float64) float64 {
	return math.Pow(2*math.Pi*sigma*sigma, -0.5) * math.Exp(-0.5*(x-mu)*(x-mu)/(sigma*sigma))
}
// #endregion position-weights

// #region combine
// Combine turns the model output for one unit into a single scalar loss
// and the logits backing the unit's decision, according to the run mode.
//
// WeightedWindow applies Gaussian positional weights to the stacked chunk
// logits. Single applies a ones vector through the same weighted-sum path,
// so several chunks presented without weighting still collapse to one row
// via the matrix product: a sum over rows, not a mean. Trained checkpoints
// assume that logit scale. FixedBatch passes the model's native batched
// loss and per-row logits through untouched.
func Combine(mode Mode, out ModelOutput, labels []int64) (CombineResult, error) {
	if len(out.Logits) == 0 {
		return CombineResult{}, ErrEmptyUnit
	}
	if len(out.Logits) != len(labels) {
		return CombineResult{}, fmt.Errorf("%w: %d rows, %d labels", ErrShapeMismatch, len(out.Logits), len(labels))
	}

	switch mode {
	case ModeFixedBatch:
		if out.Loss == nil {
			return CombineResult{}, ErrMissingLoss
		}
		return CombineResult{Loss: *out.Loss, Rows: out.Logits}, nil

	case ModeWeightedWindow:
		for _, lab := range labels[1:] {
			if lab != labels[0] {
				return CombineResult{}, fmt.Errorf("%w: %d vs %d", ErrLabelMismatch, labels[0], lab)
			}
		}
		return weightedCombine(PositionWeights(len(out.Logits)), out.Logits, labels[0])

	case ModeSingle:
		ones := make([]float64, len(out.Logits))
		for i := range ones {
			ones[i] = 1
		}
		return weightedCombine(ones, out.Logits, labels[0])

	default:
		return CombineResult{}, fmt.Errorf("unknown mode %q", mode)
	}
}

// weightedCombine multiplies the 1×M weight vector against the M×C logits
// matrix and takes cross-entropy against the document label.
func weightedCombine(weights []float64, logits [][]float64, label int64) (CombineResult, error) {
	combined := make([]float64, len(logits[0]))
	for i, row := range logits {
		if len(row) != len(combined) {
			return CombineResult{}, fmt.Errorf("%w: row %d has %d classes, expected %d", ErrShapeMismatch, i, len(row), len(combined))
		}
		for j, v := range row {
			combined[j] += weights[i] * v
		}
	}
	if int(label) < 0 || int(label) >= len(combined) {
		return CombineResult{}, fmt.Errorf("label %d out of range for %d classes", label, len(combined))
	}
	return CombineResult{
		Loss:     CrossEntropy(combined, label),
		Combined: combined,
		Weights:  weights,
	}, nil
}
// #endregion combine

// #region cross-entropy
// CrossEntropy computes the negative log-softmax of the label class from
// raw logits, using the max-shifted log-sum-exp for stability.
func CrossEntropy(logits []float64, label int64) float64 {
	maxv := logits[0]
	for _, v := range logits[1:] {
		if v > maxv {
			maxv = v
		}
	}
	var sum float64
	for _, v := range logits {
		sum += math.Exp(v - maxv)
	}
	return maxv + math.Log(sum) - logits[label]
}
// #endregion cross-entropy

// #region argmax
// Argmax returns the index of the largest logit. Ties resolve to the
// lowest index.
func Argmax(v []float64) int64 {
	best := 0
	for i, x := range v[1:] {
		if x > v[best] {
			best = i + 1
		}
	}
	return int64(best)
}
// #endregion argmax
