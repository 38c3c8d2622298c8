package backtest

import (
	"math"

	"predictor/internal/domain"
)

// ComputeMetrics summarizes a trade log and equity curve. It never fails:
// degenerate inputs produce defined sentinel values and are recorded in
// Metrics.Degenerate.
//
// An infinite profit factor (profits and no losing trades) is +Inf. A run with
// no trades has win rate, accuracy and profit factor 0.
func ComputeMetrics(trades []domain.Trade, equity []domain.EquityPoint, initialCapital, annualization float64) domain.Metrics {
	var m domain.Metrics
	flag := func(f string) { m.Degenerate = append(m.Degenerate, f) }

	// Trade statistics.
	var gains, losses float64
	var correct int
	for _, tr := range trades {
		switch {
		case tr.NetPnL > 0:
			m.WinningTrades++
			gains += tr.NetPnL
		case tr.NetPnL < 0:
			m.LosingTrades++
			losses += -tr.NetPnL
		}
		if tr.Correct {
			correct++
		}
	}
	m.TotalTrades = len(trades)

	if m.TotalTrades == 0 {
		flag(domain.DegenerateNoTrades)
	} else {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
		m.Accuracy = float64(correct) / float64(m.TotalTrades)
		if losses == 0 {
			flag(domain.DegenerateNoLosses)
			if gains > 0 {
				m.ProfitFactor = math.Inf(1)
			}
		} else {
			m.ProfitFactor = gains / losses
		}
	}

	// Equity statistics.
	final := initialCapital
	if len(equity) > 0 {
		final = equity[len(equity)-1].Value
	}
	if initialCapital != 0 {
		m.TotalReturn = (final - initialCapital) / initialCapital
	}

	dd, ok := MaxDrawdown(equity)
	if !ok {
		flag(domain.DegenerateZeroPeakValue)
	}
	m.MaxDrawdown = dd

	returns := PeriodReturns(equity)
	if len(equity) > 1 && len(returns) < len(equity)-1 {
		flag(domain.DegenerateNonPositiveEquity)
	}
	if len(returns) < 2 {
		flag(domain.DegenerateShortEquity)
		return m
	}
	sharpe, ok := Sharpe(returns, annualization)
	if !ok {
		flag(domain.DegenerateZeroVariance)
	}
	m.SharpeRatio = sharpe
	return m
}

// MaxDrawdown returns the largest peak-to-trough decline as a fraction of the
// running peak. The second result is false when a non-positive running peak
// was encountered; such points are skipped.
func MaxDrawdown(equity []domain.EquityPoint) (float64, bool) {
	ok := true
	peak := math.Inf(-1)
	var worst float64
	for _, p := range equity {
		if p.Value > peak {
			peak = p.Value
		}
		if peak <= 0 {
			ok = false
			continue
		}
		if dd := (peak - p.Value) / peak; dd > worst {
			worst = dd
		}
	}
	return worst, ok
}

// PeriodReturns returns the step-over-step fractional changes of the equity
// curve. Steps from a non-positive value are skipped; ComputeMetrics flags
// such curves with DegenerateNonPositiveEquity.
func PeriodReturns(equity []domain.EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Value
		if prev <= 0 {
			continue
		}
		out = append(out, (equity[i].Value-prev)/prev)
	}
	return out
}

// Sharpe returns mean/stdev*sqrt(annualization) using the population
// standard deviation. It returns (0, false) when the deviation is zero.
func Sharpe(returns []float64, annualization float64) (float64, bool) {
	if len(returns) == 0 {
		return 0, false
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))
	var ss float64
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	sd := math.Sqrt(ss / float64(len(returns)))
	if sd == 0 || math.IsNaN(sd) {
		return 0, false
	}
	return mean / sd * math.Sqrt(annualization), true
}
