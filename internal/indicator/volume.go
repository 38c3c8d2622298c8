package indicator

import (
	"fmt"
	"math"

	"predictor/internal/domain"
)

// Compile-time interface checks.
var (
	_ Indicator = (*VWAP)(nil)
	_ Indicator = (*OBV)(nil)
)

// ---------------------------------------------------------------------------
// VWAP
// ---------------------------------------------------------------------------

// VWAP compares the close with the cumulative volume-weighted average of the
// typical price over the whole history.
type VWAP struct{}

// NewVWAP creates a cumulative VWAP indicator.
func NewVWAP() *VWAP { return &VWAP{} }

func (v *VWAP) ID() string         { return IDVWAP }
func (v *VWAP) Category() Category { return CategoryVolume }
func (v *VWAP) Lookback() int      { return 1 }

// Read evaluates the close against VWAP at the last bar of history.
func (v *VWAP) Read(history []domain.Bar) domain.IndicatorReading {
	if len(history) < v.Lookback() {
		return insufficient(IDVWAP)
	}
	var pv, vol float64
	for _, b := range history {
		typical := (b.High + b.Low + b.Close) / 3
		pv += typical * float64(b.Volume)
		vol += float64(b.Volume)
	}
	if vol == 0 {
		return insufficient(IDVWAP)
	}
	vwap := pv / vol
	if vwap == 0 {
		return insufficient(IDVWAP)
	}

	c := history[len(history)-1].Close
	diff := (c - vwap) / vwap
	conf := math.Min(0.8, math.Abs(diff)*10)
	switch {
	case c > vwap:
		return domain.NewReading(IDVWAP, domain.DirectionBuy, conf, vwap, fmt.Sprintf("price above VWAP (%+.2f%%)", diff*100))
	case c < vwap:
		return domain.NewReading(IDVWAP, domain.DirectionSell, conf, vwap, fmt.Sprintf("price below VWAP (%+.2f%%)", diff*100))
	}
	return domain.NewReading(IDVWAP, domain.DirectionHold, 0, vwap, "price at VWAP")
}

// ---------------------------------------------------------------------------
// OBV
// ---------------------------------------------------------------------------

// obvWindow is the number of bars over which price and OBV trends are compared
// for divergence.
const obvWindow = 10

// OBV looks for divergence between price and on-balance volume, falling back
// to OBV against its moving average.
type OBV struct {
	period int
}

// NewOBV creates an on-balance volume indicator whose moving average spans
// period bars.
func NewOBV(period int) *OBV {
	return &OBV{period: period}
}

func (o *OBV) ID() string         { return IDOBV }
func (o *OBV) Category() Category { return CategoryVolume }
func (o *OBV) Lookback() int      { return o.period }

// Read evaluates OBV at the last bar of history.
func (o *OBV) Read(history []domain.Bar) domain.IndicatorReading {
	if len(history) < o.Lookback() || len(history) < 3 {
		return insufficient(IDOBV)
	}
	obv := onBalanceVolume(history)
	avg := sma(obv, o.period)
	cur, curAvg := last(obv), last(avg)
	if anyNaN(cur, curAvg) {
		return insufficient(IDOBV)
	}

	window := obvWindow
	if window > len(history)-1 {
		window = len(history) - 1
	}
	end := len(history) - 1
	start := end - window

	priceChange := history[end].Close - history[start].Close
	obvChange := cur - obv[start]
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range obv[start:] {
		lo, hi = math.Min(lo, x), math.Max(hi, x)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	switch {
	case priceChange < 0 && obvChange > 0:
		return domain.NewReading(IDOBV, domain.DirectionBuy, math.Min(0.8, math.Abs(obvChange)/span), cur,
			"positive divergence (price down, OBV up)")
	case priceChange > 0 && obvChange < 0:
		return domain.NewReading(IDOBV, domain.DirectionSell, math.Min(0.8, math.Abs(obvChange)/span), cur,
			"negative divergence (price up, OBV down)")
	case cur > curAvg:
		return domain.NewReading(IDOBV, domain.DirectionBuy, 0.3, cur, "OBV above its moving average")
	case cur < curAvg:
		return domain.NewReading(IDOBV, domain.DirectionSell, 0.3, cur, "OBV below its moving average")
	}
	return domain.NewReading(IDOBV, domain.DirectionHold, 0, cur, "OBV neutral")
}

func onBalanceVolume(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		v := float64(bars[i].Volume)
		switch {
		case bars[i].Close > bars[i-1].Close:
			out[i] = out[i-1] + v
		case bars[i].Close < bars[i-1].Close:
			out[i] = out[i-1] - v
		default:
			out[i] = out[i-1]
		}
	}
	return out
}
