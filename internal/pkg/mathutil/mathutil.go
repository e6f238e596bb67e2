// Package mathutil provides small numeric helpers shared by the fusion
// and risk assessment code paths.
package mathutil

// Clamp bounds v to the [lo, hi] interval.
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampUnit bounds v to [-1, 1], the range used for directional bias.
func ClampUnit(v float64) float64 {
	return Clamp(v, -1, 1)
}

// ClampScore bounds v to [0, 100], the range used for scores and confidence.
func ClampScore(v float64) float64 {
	return Clamp(v, 0, 100)
}

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// WeightedMean returns the weight-normalized mean of values. Entries with
// non-positive weight are skipped. Returns 0 when no weight remains.
func WeightedMean(values, weights []float64) float64 {
	if len(values) == 0 || len(values) != len(weights) {
		return 0
	}
	var sum, total float64
	for i, v := range values {
		w := weights[i]
		if w <= 0 {
			continue
		}
		sum += v * w
		total += w
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

// NormalizeWeights returns a copy of weights scaled so the entries sum to 1.
// Negative entries are floored at 0 before scaling. The second result reports
// whether scaling changed anything beyond 1e-9, making repeated calls
// idempotent. An all-zero table is returned unscaled.
func NormalizeWeights(weights map[string]float64) (map[string]float64, bool) {
	out := make(map[string]float64, len(weights))
	var sum float64
	for k, w := range weights {
		if w < 0 {
			w = 0
		}
		out[k] = w
		sum += w
	}
	if sum == 0 {
		return out, false
	}
	if Abs(sum-1) <= 1e-9 {
		return out, false
	}
	for k := range out {
		out[k] /= sum
	}
	return out, true
}

// Sign returns -1, 0 or 1 depending on the sign of v.
func Sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// Abs returns the absolute value of v without importing math for one call.
func Abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
