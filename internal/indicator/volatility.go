package indicator

import (
	"fmt"
	"math"

	"predictor/internal/domain"
)

var _ Indicator = (*Bollinger)(nil)

// Bollinger treats a close at or beyond the lower band as oversold and at or
// beyond the upper band as overbought.
type Bollinger struct {
	period int
	width  float64
}

// NewBollinger creates a Bollinger Bands indicator with bands width standard
// deviations around a period-bar simple average.
func NewBollinger(period int, width float64) *Bollinger {
	return &Bollinger{period: period, width: width}
}

func (b *Bollinger) ID() string         { return IDBollinger }
func (b *Bollinger) Category() Category { return CategoryVolatility }
func (b *Bollinger) Lookback() int      { return b.period }

// Read evaluates the bands at the last bar of history.
func (b *Bollinger) Read(history []domain.Bar) domain.IndicatorReading {
	if len(history) < b.Lookback() {
		return insufficient(IDBollinger)
	}
	px := closes(history)
	mid, sd := last(sma(px, b.period)), last(stddev(px, b.period))
	if anyNaN(mid, sd) {
		return insufficient(IDBollinger)
	}
	upper, lower := mid+b.width*sd, mid-b.width*sd
	c := last(px)

	bandWidth := upper - lower
	pband := 0.5
	if bandWidth > 0 {
		pband = (c - lower) / bandWidth
	}
	beyond := func(dist float64) float64 {
		if bandWidth == 0 {
			return 0.5
		}
		return math.Min(1, math.Max(0.5, dist/bandWidth))
	}

	switch {
	case bandWidth > 0 && c <= lower:
		return domain.NewReading(IDBollinger, domain.DirectionBuy, beyond(lower-c), pband,
			fmt.Sprintf("price at lower band (%%B=%.2f)", pband))
	case bandWidth > 0 && c >= upper:
		return domain.NewReading(IDBollinger, domain.DirectionSell, beyond(c-upper), pband,
			fmt.Sprintf("price at upper band (%%B=%.2f)", pband))
	case pband < 0.2:
		return domain.NewReading(IDBollinger, domain.DirectionBuy, 0.3, pband, fmt.Sprintf("price near lower band (%%B=%.2f)", pband))
	case pband > 0.8:
		return domain.NewReading(IDBollinger, domain.DirectionSell, 0.3, pband, fmt.Sprintf("price near upper band (%%B=%.2f)", pband))
	}
	return domain.NewReading(IDBollinger, domain.DirectionHold, 0, pband, fmt.Sprintf("price within bands (%%B=%.2f)", pband))
}
