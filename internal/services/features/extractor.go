package features

import "math"

// LogReturns computes r_t = ln(p_t / p_{t-1}).
// It returns a slice of length len(prices)-1, or nil if insufficient data.
// Non-positive prices yield a zero return for that step.
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev := prices[i-1]
		cur := prices[i]
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Pearson returns the correlation of the trailing common length of a and b.
// ok is false when fewer than two points overlap or either side is flat.
func Pearson(a, b []float64) (float64, bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0, false
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]
	ma, mb := Mean(a), Mean(b)
	var cov, va, vb float64
	for i := 0; i < n; i++ {
		da := a[i] - ma
		db := b[i] - mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0, false
	}
	r := cov / math.Sqrt(va*vb)
	if r > 1 {
		r = 1
	} else if r < -1 {
		r = -1
	}
	return r, true
}

// Drawdown returns (peak - last) / peak over the series, where peak is the
// running maximum. Series that never rise above zero return 0.
func Drawdown(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	peak := 0.0
	for _, v := range series {
		if v > peak {
			peak = v
		}
	}
	if peak <= 0 {
		return 0
	}
	return Clamp01((peak - series[len(series)-1]) / peak)
}

// Shares normalizes non-negative weights to fractions of their total.
// Keys with zero weight are kept with share 0; an all-zero input returns nil.
func Shares(weights map[string]float64) map[string]float64 {
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return nil
	}
	out := make(map[string]float64, len(weights))
	for k, w := range weights {
		if w < 0 {
			w = 0
		}
		out[k] = w / total
	}
	return out
}

// Herfindahl returns sum(share^2) over the given shares.
func Herfindahl(shares map[string]float64) float64 {
	h := 0.0
	for _, s := range shares {
		h += s * s
	}
	return h
}

// Clamp01 bounds v to [0,1] and maps NaN to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
