package indicator

import (
	"fmt"
	"math"

	"predictor/internal/domain"
)

// Compile-time interface checks.
var (
	_ Indicator = (*RSI)(nil)
	_ Indicator = (*Stochastic)(nil)
)

// ---------------------------------------------------------------------------
// RSI
// ---------------------------------------------------------------------------

// RSI calls oversold readings BUY and overbought readings SELL, with
// confidence growing with the distance past the threshold.
type RSI struct {
	period     int
	oversold   float64
	overbought float64
}

// NewRSI creates an RSI indicator.
func NewRSI(period int, oversold, overbought float64) *RSI {
	return &RSI{period: period, oversold: oversold, overbought: overbought}
}

func (r *RSI) ID() string         { return IDRSI }
func (r *RSI) Category() Category { return CategoryMomentum }

// Lookback counts the extra bar needed for the first price change.
func (r *RSI) Lookback() int { return r.period + 1 }

// Read evaluates RSI at the last bar of history.
func (r *RSI) Read(history []domain.Bar) domain.IndicatorReading {
	if len(history) < r.Lookback() {
		return insufficient(IDRSI)
	}
	v := last(rsi(closes(history), r.period))
	if math.IsNaN(v) {
		return insufficient(IDRSI)
	}
	return r.classify(v)
}

func (r *RSI) classify(v float64) domain.IndicatorReading {
	switch {
	case v < r.oversold:
		return domain.NewReading(IDRSI, domain.DirectionBuy, (r.oversold-v)/r.oversold, v,
			fmt.Sprintf("oversold (RSI=%.1f)", v))
	case v > r.overbought:
		return domain.NewReading(IDRSI, domain.DirectionSell, (v-r.overbought)/(100-r.overbought), v,
			fmt.Sprintf("overbought (RSI=%.1f)", v))
	case v < 45:
		return domain.NewReading(IDRSI, domain.DirectionSell, 0.15, v, fmt.Sprintf("leaning bearish (RSI=%.1f)", v))
	case v > 55:
		return domain.NewReading(IDRSI, domain.DirectionBuy, 0.15, v, fmt.Sprintf("leaning bullish (RSI=%.1f)", v))
	}
	return domain.NewReading(IDRSI, domain.DirectionHold, 0, v, fmt.Sprintf("neutral (RSI=%.1f)", v))
}

// ---------------------------------------------------------------------------
// Stochastic oscillator
// ---------------------------------------------------------------------------

// Stochastic reads %K against its %D signal line within the oversold and
// overbought zones.
type Stochastic struct {
	k, d       int
	oversold   float64
	overbought float64
}

// NewStochastic creates a stochastic oscillator indicator.
func NewStochastic(k, d int, oversold, overbought float64) *Stochastic {
	return &Stochastic{k: k, d: d, oversold: oversold, overbought: overbought}
}

func (s *Stochastic) ID() string         { return IDStochastic }
func (s *Stochastic) Category() Category { return CategoryMomentum }
func (s *Stochastic) Lookback() int      { return s.k + s.d }

// Read evaluates the oscillator at the last bar of history.
func (s *Stochastic) Read(history []domain.Bar) domain.IndicatorReading {
	if len(history) < s.Lookback() {
		return insufficient(IDStochastic)
	}
	pctK := s.percentK(history)
	pctD := sma(pctK, s.d)
	k, d, pk, pd := last(pctK), last(pctD), prev(pctK), prev(pctD)
	if anyNaN(k, d, pk, pd) {
		return insufficient(IDStochastic)
	}

	switch {
	case k < s.oversold && pk <= pd && k > d:
		conf := math.Max(0.5, (s.oversold-k)/s.oversold)
		return domain.NewReading(IDStochastic, domain.DirectionBuy, conf, k,
			fmt.Sprintf("bullish crossover in oversold zone (%%K=%.1f, %%D=%.1f)", k, d))
	case k > s.overbought && pk >= pd && k < d:
		conf := math.Max(0.5, (k-s.overbought)/(100-s.overbought))
		return domain.NewReading(IDStochastic, domain.DirectionSell, conf, k,
			fmt.Sprintf("bearish crossover in overbought zone (%%K=%.1f, %%D=%.1f)", k, d))
	case k < s.oversold:
		return domain.NewReading(IDStochastic, domain.DirectionBuy, 0.3, k, fmt.Sprintf("oversold (%%K=%.1f)", k))
	case k > s.overbought:
		return domain.NewReading(IDStochastic, domain.DirectionSell, 0.3, k, fmt.Sprintf("overbought (%%K=%.1f)", k))
	}
	return domain.NewReading(IDStochastic, domain.DirectionHold, 0, k, fmt.Sprintf("neutral (%%K=%.1f, %%D=%.1f)", k, d))
}

func (s *Stochastic) percentK(bars []domain.Bar) []float64 {
	out := nanSlice(len(bars))
	for i := s.k - 1; i < len(bars); i++ {
		hh, ll := math.Inf(-1), math.Inf(1)
		for j := i - s.k + 1; j <= i; j++ {
			hh = math.Max(hh, bars[j].High)
			ll = math.Min(ll, bars[j].Low)
		}
		if hh == ll {
			out[i] = 50
			continue
		}
		out[i] = 100 * (bars[i].Close - ll) / (hh - ll)
	}
	return out
}
