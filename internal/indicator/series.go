package indicator

import (
	"math"

	"predictor/internal/domain"
)

// Rolling-window helpers. Every function returns a slice the same length as
// its input, with NaN where the window is not yet full.

func closes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func sma(xs []float64, n int) []float64 {
	out := nanSlice(len(xs))
	if n <= 0 {
		return out
	}
	var sum float64
	valid := 0
	for i, x := range xs {
		if math.IsNaN(x) {
			sum, valid = 0, 0
			continue
		}
		sum += x
		valid++
		if valid > n {
			sum -= xs[i-n]
			valid = n
		}
		if valid == n {
			out[i] = sum / float64(n)
		}
	}
	return out
}

// ema is the recursive exponential average with alpha = 2/(n+1), seeded at
// the first finite value and reported once n values have been seen.
func ema(xs []float64, n int) []float64 {
	return ewm(xs, 2/float64(n+1), n)
}

// wilder is Wilder's smoothing, alpha = 1/n.
func wilder(xs []float64, n int) []float64 {
	return ewm(xs, 1/float64(n), n)
}

func ewm(xs []float64, alpha float64, minPeriods int) []float64 {
	out := nanSlice(len(xs))
	start := -1
	var prev float64
	for i, x := range xs {
		if math.IsNaN(x) {
			if start >= 0 {
				out[i] = math.NaN()
			}
			continue
		}
		if start < 0 {
			start = i
			prev = x
		} else {
			prev = alpha*x + (1-alpha)*prev
		}
		if i-start+1 >= minPeriods {
			out[i] = prev
		}
	}
	return out
}

// stddev is the rolling population standard deviation.
func stddev(xs []float64, n int) []float64 {
	out := nanSlice(len(xs))
	mean := sma(xs, n)
	for i := n - 1; i < len(xs); i++ {
		if math.IsNaN(mean[i]) {
			continue
		}
		var ss float64
		for j := i - n + 1; j <= i; j++ {
			d := xs[j] - mean[i]
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(n))
	}
	return out
}

// rsi computes the relative strength index with Wilder smoothing.
func rsi(xs []float64, n int) []float64 {
	gains := nanSlice(len(xs))
	losses := nanSlice(len(xs))
	for i := 1; i < len(xs); i++ {
		d := xs[i] - xs[i-1]
		gains[i] = math.Max(d, 0)
		losses[i] = math.Max(-d, 0)
	}
	avgGain := wilder(gains, n)
	avgLoss := wilder(losses, n)

	out := nanSlice(len(xs))
	for i := range xs {
		g, l := avgGain[i], avgLoss[i]
		if math.IsNaN(g) || math.IsNaN(l) {
			continue
		}
		switch {
		case l == 0 && g == 0:
			out[i] = 50
		case l == 0:
			out[i] = 100
		default:
			out[i] = 100 - 100/(1+g/l)
		}
	}
	return out
}

func last(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return xs[len(xs)-1]
}

func prev(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	return xs[len(xs)-2]
}

func anyNaN(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
