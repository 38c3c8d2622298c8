package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"predictor/internal/domain"
)

// makeBars builds a daily bar series from closes, with a 1% high/low range
// and constant volume.
func makeBars(closes []float64) []domain.Bar {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    "TEST",
			Timestamp: start.AddDate(0, 0, i),
			Open:      c,
			High:      c * 1.01,
			Low:       c * 0.99,
			Close:     c,
			Volume:    1_000_000,
		}
	}
	return bars
}

func linear(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func sameReading(a, b domain.IndicatorReading) bool {
	rawEq := a.RawValue == b.RawValue || (math.IsNaN(a.RawValue) && math.IsNaN(b.RawValue))
	return a.IndicatorID == b.IndicatorID && a.Direction == b.Direction &&
		a.Confidence == b.Confidence && rawEq && a.Metadata["detail"] == b.Metadata["detail"]
}

func TestBuiltinsInsufficientHistory(t *testing.T) {
	for _, ind := range Builtins(DefaultParams()) {
		short := makeBars(linear(ind.Lookback()-1, 100, 1))
		r := ind.Read(short)
		if !IsInsufficient(r) {
			t.Errorf("%s.Read(%d bars) = %+v, want insufficient-data HOLD", ind.ID(), len(short), r)
		}
		if r.IndicatorID != ind.ID() {
			t.Errorf("%s reading carries id %q", ind.ID(), r.IndicatorID)
		}
	}
}

func TestBuiltinsConfidenceInRange(t *testing.T) {
	px := make([]float64, 200)
	for i := range px {
		px[i] = 100 + 10*math.Sin(float64(i)/7) + float64(i)*0.05
	}
	bars := makeBars(px)
	for _, ind := range Builtins(DefaultParams()) {
		for end := 1; end <= len(bars); end++ {
			r := ind.Read(bars[:end])
			if r.Confidence < 0 || r.Confidence > 1 {
				t.Fatalf("%s confidence %v out of [0,1] at bar %d", ind.ID(), r.Confidence, end)
			}
			if !r.Direction.Valid() {
				t.Fatalf("%s produced invalid direction %q", ind.ID(), r.Direction)
			}
		}
	}
}

func TestBuiltinsNoLookAhead(t *testing.T) {
	px := make([]float64, 120)
	for i := range px {
		px[i] = 50 + 5*math.Cos(float64(i)/5)
	}
	a := makeBars(px)
	b := makeBars(px)
	const cut = 80
	for i := cut + 1; i < len(b); i++ {
		b[i].Close *= 3
		b[i].High *= 3
		b[i].Volume *= 7
	}
	for _, ind := range Builtins(DefaultParams()) {
		ra, rb := ind.Read(a[:cut+1]), ind.Read(b[:cut+1])
		if !sameReading(ra, rb) {
			t.Errorf("%s reading at bar %d depends on later bars: %+v vs %+v", ind.ID(), cut, ra, rb)
		}
	}
}

func TestReadDoesNotMutateHistory(t *testing.T) {
	bars := makeBars(linear(100, 10, 0.5))
	snapshot := make([]domain.Bar, len(bars))
	copy(snapshot, bars)
	for _, ind := range Builtins(DefaultParams()) {
		ind.Read(bars)
	}
	for i := range bars {
		if bars[i] != snapshot[i] {
			t.Fatalf("bar %d mutated by Read", i)
		}
	}
}

func TestCrossoverTrendDirection(t *testing.T) {
	up := makeBars(linear(80, 100, 1))
	down := makeBars(linear(80, 200, -1))
	for _, ind := range []Indicator{NewSMACrossover(20, 50), NewEMACrossover(12, 26)} {
		if r := ind.Read(up); r.Direction != domain.DirectionBuy {
			t.Errorf("%s on uptrend = %s, want BUY", ind.ID(), r.Direction)
		}
		if r := ind.Read(down); r.Direction != domain.DirectionSell {
			t.Errorf("%s on downtrend = %s, want SELL", ind.ID(), r.Direction)
		}
	}
}

func TestCrossoverFreshCross(t *testing.T) {
	// Flat, then a jump on the final bar pulls the short average above the long.
	px := linear(60, 100, 0)
	px[59] = 130
	r := NewSMACrossover(5, 20).Read(makeBars(px))
	if r.Direction != domain.DirectionBuy {
		t.Fatalf("direction = %s, want BUY", r.Direction)
	}
	if r.Metadata["detail"] != "SMA5 crossed above SMA20" {
		t.Errorf("detail = %q", r.Metadata["detail"])
	}
}

func TestRSIConfidenceMonotonic(t *testing.T) {
	r := NewRSI(14, 30, 70)
	deep, shallow := r.classify(20), r.classify(29)
	if deep.Direction != domain.DirectionBuy || shallow.Direction != domain.DirectionBuy {
		t.Fatalf("oversold readings should be BUY, got %s and %s", deep.Direction, shallow.Direction)
	}
	if deep.Confidence <= shallow.Confidence {
		t.Errorf("RSI=20 confidence %v should exceed RSI=29 confidence %v", deep.Confidence, shallow.Confidence)
	}

	prevConf := -1.0
	for v := 71.0; v <= 100; v += 3 {
		c := r.classify(v).Confidence
		if c < prevConf {
			t.Errorf("overbought confidence decreased at RSI=%v", v)
		}
		prevConf = c
	}
	if got := r.classify(50); got.Direction != domain.DirectionHold {
		t.Errorf("RSI=50 should be HOLD, got %s", got.Direction)
	}
}

func TestRSIOnRisingSeries(t *testing.T) {
	r := NewRSI(14, 30, 70).Read(makeBars(linear(40, 10, 1)))
	if r.Direction != domain.DirectionSell || r.RawValue != 100 {
		t.Errorf("monotonic rise should read RSI=100 SELL, got %+v", r)
	}
}

func TestStochasticOversold(t *testing.T) {
	r := NewStochastic(14, 3, 20, 80).Read(makeBars(linear(40, 200, -2)))
	if r.Direction != domain.DirectionBuy {
		t.Errorf("close at range lows should be BUY, got %+v", r)
	}
}

func TestBollingerFlatSeries(t *testing.T) {
	r := NewBollinger(20, 2).Read(makeBars(linear(30, 100, 0)))
	if r.Direction != domain.DirectionHold {
		t.Errorf("flat series should be HOLD, got %+v", r)
	}
}

func TestVWAPZeroVolume(t *testing.T) {
	bars := makeBars(linear(5, 100, 1))
	for i := range bars {
		bars[i].Volume = 0
	}
	if r := NewVWAP().Read(bars); !IsInsufficient(r) {
		t.Errorf("zero volume should be insufficient, got %+v", r)
	}
}

func TestOBVAboveAverage(t *testing.T) {
	r := NewOBV(20).Read(makeBars(linear(40, 100, 1)))
	if r.Direction != domain.DirectionBuy {
		t.Errorf("rising price with volume should be BUY, got %+v", r)
	}
}

func TestSeriesHelpers(t *testing.T) {
	got := sma([]float64{1, 2, 3, 4, 5}, 3)
	if !math.IsNaN(got[1]) || got[2] != 2 || got[4] != 4 {
		t.Errorf("sma = %v", got)
	}

	e := ema([]float64{1, 1, 1, 1}, 2)
	if !math.IsNaN(e[0]) || e[3] != 1 {
		t.Errorf("ema of constant = %v", e)
	}

	sd := stddev([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8)
	if sd[7] != 2 {
		t.Errorf("population stddev = %v, want 2", sd[7])
	}
}

func TestRegistry(t *testing.T) {
	r := NewDefaultRegistry(DefaultParams())

	ids := r.List()
	if len(ids) != 9 {
		t.Fatalf("List returned %d ids, want 9: %v", len(ids), ids)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i-1] >= ids[i] {
			t.Errorf("List not sorted: %v", ids)
		}
	}

	if ind, ok := r.Get(IDRSI); !ok || ind.Category() != CategoryMomentum {
		t.Errorf("Get(RSI) = %v, %v", ind, ok)
	}
	if _, ok := r.Get("nonexistent"); ok {
		t.Error("Get returned true for unregistered indicator")
	}

	mom := r.ByCategory(CategoryMomentum)
	if len(mom) != 2 || mom[0] != IDRSI || mom[1] != IDStochastic {
		t.Errorf("ByCategory(momentum) = %v", mom)
	}

	sel, err := r.Select([]string{IDMACD, IDRSI})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(sel) != 2 || sel[0].ID() != IDMACD {
		t.Errorf("Select returned %v", sel)
	}
	if MaxLookback(sel) != 35 {
		t.Errorf("MaxLookback = %d, want 35", MaxLookback(sel))
	}

	if _, err := r.Select([]string{"Ichimoku"}); !errors.Is(err, domain.ErrUnknownIndicator) {
		t.Errorf("Select unknown = %v, want ErrUnknownIndicator", err)
	}

	all, err := r.Select(nil)
	if err != nil || len(all) != 9 {
		t.Errorf("Select(nil) = %d indicators, %v", len(all), err)
	}
	if MaxLookback(all) != 50 {
		t.Errorf("MaxLookback(all) = %d, want 50", MaxLookback(all))
	}

	readings := ReadAll(all, makeBars(linear(10, 100, 1)))
	if len(readings) != 9 {
		t.Errorf("ReadAll returned %d readings", len(readings))
	}
}
