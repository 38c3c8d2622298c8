// Package indicator defines the Indicator interface every technical indicator
// satisfies to take part in signal combination, the nine built-in
// implementations, and a static Registry for looking them up by id.
package indicator

import (
	"predictor/internal/domain"
)

// Category groups indicators by what they measure. Timescale adjustments are
// configured per category and expanded per indicator.
type Category string

const (
	CategoryTrend      Category = "trend"
	CategoryMomentum   Category = "momentum"
	CategoryVolatility Category = "volatility"
	CategoryVolume     Category = "volume"
)

// Indicator ids of the built-in implementations.
const (
	IDSMA        = "SMA"
	IDEMA        = "EMA"
	IDMACD       = "MACD"
	IDADX        = "ADX"
	IDRSI        = "RSI"
	IDStochastic = "Stochastic"
	IDBollinger  = "Bollinger"
	IDVWAP       = "VWAP"
	IDOBV        = "OBV"
)

// Indicator is the interface that all technical indicators must implement.
type Indicator interface {
	// ID returns the unique identifier used for weights and timescale lookup.
	ID() string

	// Category returns the indicator's category.
	Category() Category

	// Lookback returns the minimum number of bars needed for a valid reading.
	Lookback() int

	// Read returns the reading for the last bar of history. history holds
	// bars up to and including the evaluation timestamp, in ascending order,
	// and is never modified. When history is shorter than Lookback the
	// reading is HOLD with zero confidence.
	Read(history []domain.Bar) domain.IndicatorReading
}

const insufficientData = "insufficient data"

func insufficient(id string) domain.IndicatorReading {
	return domain.HoldReading(id, insufficientData)
}

// IsInsufficient reports whether r was produced because the indicator lacked
// enough history.
func IsInsufficient(r domain.IndicatorReading) bool {
	return r.Direction == domain.DirectionHold && r.Confidence == 0 && r.Metadata["detail"] == insufficientData
}

// Params holds the tunable periods and thresholds of the built-in indicators.
type Params struct {
	SMAShort        int
	SMALong         int
	EMAShort        int
	EMALong         int
	MACDFast        int
	MACDSlow        int
	MACDSignal      int
	ADXPeriod       int
	RSIPeriod       int
	RSIOversold     float64
	RSIOverbought   float64
	StochK          int
	StochD          int
	StochOversold   float64
	StochOverbought float64
	BBPeriod        int
	BBStdDev        float64
	OBVPeriod       int
}

// DefaultParams returns the standard published parameter set.
func DefaultParams() Params {
	return Params{
		SMAShort:        20,
		SMALong:         50,
		EMAShort:        12,
		EMALong:         26,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
		ADXPeriod:       14,
		RSIPeriod:       14,
		RSIOversold:     30,
		RSIOverbought:   70,
		StochK:          14,
		StochD:          3,
		StochOversold:   20,
		StochOverbought: 80,
		BBPeriod:        20,
		BBStdDev:        2,
		OBVPeriod:       20,
	}
}

// Builtins constructs the nine built-in indicators with the given parameters.
func Builtins(p Params) []Indicator {
	return []Indicator{
		NewSMACrossover(p.SMAShort, p.SMALong),
		NewEMACrossover(p.EMAShort, p.EMALong),
		NewMACD(p.MACDFast, p.MACDSlow, p.MACDSignal),
		NewADX(p.ADXPeriod),
		NewRSI(p.RSIPeriod, p.RSIOversold, p.RSIOverbought),
		NewStochastic(p.StochK, p.StochD, p.StochOversold, p.StochOverbought),
		NewBollinger(p.BBPeriod, p.BBStdDev),
		NewVWAP(),
		NewOBV(p.OBVPeriod),
	}
}
