package indicator

import (
	"fmt"
	"math"

	"predictor/internal/domain"
)

// Compile-time interface checks.
var (
	_ Indicator = (*Crossover)(nil)
	_ Indicator = (*MACD)(nil)
	_ Indicator = (*ADX)(nil)
)

// ---------------------------------------------------------------------------
// Moving-average crossovers
// ---------------------------------------------------------------------------

// Crossover compares a short and a long moving average of the close. A fresh
// cross gives a strong call; an established gap gives a weak directional bias.
type Crossover struct {
	id          string
	label       string
	short, long int
	average     func([]float64, int) []float64
	crossScale  float64 // confidence per unit of relative spread on a cross
	biasScale   float64 // confidence per unit of relative spread otherwise
}

// NewSMACrossover creates a simple moving average crossover indicator.
func NewSMACrossover(short, long int) *Crossover {
	return &Crossover{
		id: IDSMA, label: "SMA", short: short, long: long,
		average: sma, crossScale: 20, biasScale: 10,
	}
}

// NewEMACrossover creates an exponential moving average crossover indicator.
func NewEMACrossover(short, long int) *Crossover {
	return &Crossover{
		id: IDEMA, label: "EMA", short: short, long: long,
		average: ema, crossScale: 25, biasScale: 12,
	}
}

func (c *Crossover) ID() string         { return c.id }
func (c *Crossover) Category() Category { return CategoryTrend }
func (c *Crossover) Lookback() int      { return c.long }

// Read evaluates the crossover at the last bar of history.
func (c *Crossover) Read(history []domain.Bar) domain.IndicatorReading {
	if len(history) < c.Lookback() {
		return insufficient(c.id)
	}
	px := closes(history)
	s, l := c.average(px, c.short), c.average(px, c.long)
	cs, cl, ps, pl := last(s), last(l), prev(s), prev(l)
	if anyNaN(cs, cl, ps, pl) || cl == 0 {
		return insufficient(c.id)
	}

	spread := (cs - cl) / cl
	name := func(n int) string { return fmt.Sprintf("%s%d", c.label, n) }

	switch {
	case ps <= pl && cs > cl:
		return domain.NewReading(c.id, domain.DirectionBuy, math.Min(1, math.Abs(spread)*c.crossScale), spread,
			fmt.Sprintf("%s crossed above %s", name(c.short), name(c.long)))
	case ps >= pl && cs < cl:
		return domain.NewReading(c.id, domain.DirectionSell, math.Min(1, math.Abs(spread)*c.crossScale), spread,
			fmt.Sprintf("%s crossed below %s", name(c.short), name(c.long)))
	case cs > cl:
		return domain.NewReading(c.id, domain.DirectionBuy, math.Min(0.4, spread*c.biasScale), spread,
			fmt.Sprintf("%s above %s", name(c.short), name(c.long)))
	case cs < cl:
		return domain.NewReading(c.id, domain.DirectionSell, math.Min(0.4, -spread*c.biasScale), spread,
			fmt.Sprintf("%s below %s", name(c.short), name(c.long)))
	}
	return domain.NewReading(c.id, domain.DirectionHold, 0, spread, "averages equal")
}

// ---------------------------------------------------------------------------
// MACD
// ---------------------------------------------------------------------------

// MACD reads the MACD line against its signal line.
type MACD struct {
	fast, slow, signal int
}

// NewMACD creates a MACD indicator.
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{fast: fast, slow: slow, signal: signal}
}

func (m *MACD) ID() string         { return IDMACD }
func (m *MACD) Category() Category { return CategoryTrend }
func (m *MACD) Lookback() int      { return m.slow + m.signal }

// Read evaluates MACD at the last bar of history.
func (m *MACD) Read(history []domain.Bar) domain.IndicatorReading {
	if len(history) < m.Lookback() {
		return insufficient(IDMACD)
	}
	px := closes(history)
	fast, slow := ema(px, m.fast), ema(px, m.slow)
	line := make([]float64, len(px))
	for i := range px {
		line[i] = fast[i] - slow[i]
	}
	sig := ema(line, m.signal)

	cm, cs, pm, ps := last(line), last(sig), prev(line), prev(sig)
	if anyNaN(cm, cs, pm, ps) {
		return insufficient(IDMACD)
	}
	hist := cm - cs

	switch {
	case pm <= ps && cm > cs:
		return domain.NewReading(IDMACD, domain.DirectionBuy, math.Min(1, math.Abs(hist)*50), hist,
			"MACD crossed above signal line")
	case pm >= ps && cm < cs:
		return domain.NewReading(IDMACD, domain.DirectionSell, math.Min(1, math.Abs(hist)*50), hist,
			"MACD crossed below signal line")
	case cm > cs:
		return domain.NewReading(IDMACD, domain.DirectionBuy, math.Min(0.5, math.Abs(hist)*30), hist,
			"MACD above signal line")
	case cm < cs:
		return domain.NewReading(IDMACD, domain.DirectionSell, math.Min(0.5, math.Abs(hist)*30), hist,
			"MACD below signal line")
	}
	return domain.NewReading(IDMACD, domain.DirectionHold, 0, hist, "MACD neutral")
}

// ---------------------------------------------------------------------------
// ADX
// ---------------------------------------------------------------------------

// adxTrendFloor is the ADX level below which a trend is considered weak.
const adxTrendFloor = 20

// ADX reads trend strength (ADX) and trend direction (+DI vs -DI).
type ADX struct {
	period int
}

// NewADX creates an ADX indicator.
func NewADX(period int) *ADX {
	return &ADX{period: period}
}

func (a *ADX) ID() string         { return IDADX }
func (a *ADX) Category() Category { return CategoryTrend }
func (a *ADX) Lookback() int      { return a.period * 2 }

// Read evaluates ADX at the last bar of history.
func (a *ADX) Read(history []domain.Bar) domain.IndicatorReading {
	if len(history) < a.Lookback() {
		return insufficient(IDADX)
	}
	adx, plus, minus := a.compute(history)
	v, pdi, mdi := last(adx), last(plus), last(minus)
	if anyNaN(v, pdi, mdi) {
		return insufficient(IDADX)
	}

	if v < adxTrendFloor {
		// Weak trend: no directional call.
		return domain.NewReading(IDADX, domain.DirectionHold, 0.2, v, fmt.Sprintf("weak trend (ADX=%.1f)", v))
	}
	strength := math.Min(1, (v-adxTrendFloor)/40)
	switch {
	case pdi > mdi:
		return domain.NewReading(IDADX, domain.DirectionBuy, strength, v,
			fmt.Sprintf("bullish trend (ADX=%.1f, +DI=%.1f > -DI=%.1f)", v, pdi, mdi))
	case mdi > pdi:
		return domain.NewReading(IDADX, domain.DirectionSell, strength, v,
			fmt.Sprintf("bearish trend (ADX=%.1f, -DI=%.1f > +DI=%.1f)", v, mdi, pdi))
	}
	return domain.NewReading(IDADX, domain.DirectionHold, 0.1, v, "directional indexes equal")
}

func (a *ADX) compute(bars []domain.Bar) (adx, plusDI, minusDI []float64) {
	n := len(bars)
	tr, pdm, mdm := nanSlice(n), nanSlice(n), nanSlice(n)
	for i := 1; i < n; i++ {
		h, l, pc := bars[i].High, bars[i].Low, bars[i-1].Close
		tr[i] = math.Max(h-l, math.Max(math.Abs(h-pc), math.Abs(l-pc)))
		up := bars[i].High - bars[i-1].High
		down := bars[i-1].Low - bars[i].Low
		pdm[i], mdm[i] = 0, 0
		if up > down && up > 0 {
			pdm[i] = up
		}
		if down > up && down > 0 {
			mdm[i] = down
		}
	}
	atr, spdm, smdm := wilder(tr, a.period), wilder(pdm, a.period), wilder(mdm, a.period)

	plusDI, minusDI = nanSlice(n), nanSlice(n)
	dx := nanSlice(n)
	for i := range bars {
		if anyNaN(atr[i], spdm[i], smdm[i]) || atr[i] == 0 {
			continue
		}
		plusDI[i] = 100 * spdm[i] / atr[i]
		minusDI[i] = 100 * smdm[i] / atr[i]
		if sum := plusDI[i] + minusDI[i]; sum > 0 {
			dx[i] = 100 * math.Abs(plusDI[i]-minusDI[i]) / sum
		} else {
			dx[i] = 0
		}
	}
	return wilder(dx, a.period), plusDI, minusDI
}
