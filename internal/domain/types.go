// Package domain defines the core value types shared across the predictor:
// price bars, indicator readings, combined signals, simulated positions and
// trades, and backtest reports.
package domain

import (
	"encoding/json"
	"math"
	"time"
)

// Market identifies the exchange group a symbol trades on.
type Market string

const (
	MarketUS     Market = "us"
	MarketCrypto Market = "crypto"
)

// Bar is a single OHLCV bar.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// Direction is a directional opinion about price.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// Valid reports whether d is one of BUY, SELL or HOLD.
func (d Direction) Valid() bool {
	switch d {
	case DirectionBuy, DirectionSell, DirectionHold:
		return true
	}
	return false
}

// Sign returns +1 for BUY, -1 for SELL and 0 for HOLD.
func (d Direction) Sign() float64 {
	switch d {
	case DirectionBuy:
		return 1
	case DirectionSell:
		return -1
	}
	return 0
}

// IndicatorReading is one indicator's opinion for a single (asset, timestamp).
type IndicatorReading struct {
	IndicatorID string            `json:"indicator_id"`
	Direction   Direction         `json:"direction"`
	Confidence  float64           `json:"confidence"`
	RawValue    float64           `json:"raw_value"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewReading builds a reading with confidence clamped to [0, 1]. A NaN
// confidence becomes 0.
func NewReading(id string, dir Direction, confidence, raw float64, detail string) IndicatorReading {
	r := IndicatorReading{
		IndicatorID: id,
		Direction:   dir,
		Confidence:  Clamp01(confidence),
		RawValue:    raw,
	}
	if detail != "" {
		r.Metadata = map[string]string{"detail": detail}
	}
	return r
}

// HoldReading returns a zero-confidence HOLD reading, used when an indicator
// cannot form an opinion.
func HoldReading(id, detail string) IndicatorReading {
	return NewReading(id, DirectionHold, 0, math.NaN(), detail)
}

// MarshalJSON encodes a NaN raw value as null.
func (r IndicatorReading) MarshalJSON() ([]byte, error) {
	type alias IndicatorReading
	out := struct {
		alias
		RawValue *float64 `json:"raw_value"`
	}{alias: alias(r)}
	if !math.IsNaN(r.RawValue) && !math.IsInf(r.RawValue, 0) {
		v := r.RawValue
		out.RawValue = &v
	}
	return json.Marshal(out)
}

// IndicatorScore is an indicator's contribution to a combined signal.
type IndicatorScore struct {
	Direction Direction `json:"direction"`
	Score     float64   `json:"weighted_score"`
}

// CombinedSignal is the fused decision for one (asset, timestamp, horizon).
type CombinedSignal struct {
	Direction  Direction                 `json:"direction"`
	Confidence float64                   `json:"confidence"`
	BuyTotal   float64                   `json:"buy_total"`
	SellTotal  float64                   `json:"sell_total"`
	Scores     map[string]IndicatorScore `json:"per_indicator_scores"`
	Reasoning  string                    `json:"reasoning,omitempty"`
}

// Signal is a persisted single-point prediction.
type Signal struct {
	ID        int64
	Symbol    string
	Horizon   int
	Direction Direction
	Strength  float64
	Price     float64
	AsOf      time.Time
	Reasoning string
	CreatedAt time.Time
}

// ---------------------------------------------------------------------------
// Simulation
// ---------------------------------------------------------------------------

// PositionSide is the exposure of a simulated position.
type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
	SideFlat  PositionSide = "FLAT"
)

// Sign returns +1 for LONG, -1 for SHORT and 0 for FLAT.
func (s PositionSide) Sign() float64 {
	switch s {
	case SideLong:
		return 1
	case SideShort:
		return -1
	}
	return 0
}

// SideFor maps a trading direction to the position it opens.
func SideFor(d Direction) PositionSide {
	switch d {
	case DirectionBuy:
		return SideLong
	case DirectionSell:
		return SideShort
	}
	return SideFlat
}

// Position is an open simulated position.
type Position struct {
	Side       PositionSide
	EntryPrice float64
	EntryTime  time.Time
	EntryIndex int
	Quantity   float64
}

// Notional is the position's value at entry.
func (p Position) Notional() float64 {
	return p.Quantity * p.EntryPrice
}

// UnrealizedPnL marks the position to the given price.
func (p Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * p.Side.Sign() * p.Quantity
}

// Trade is a closed simulated position.
type Trade struct {
	EntryTime  time.Time    `json:"entry_timestamp"`
	ExitTime   time.Time    `json:"exit_timestamp"`
	EntryPrice float64      `json:"entry_price"`
	ExitPrice  float64      `json:"exit_price"`
	Side       PositionSide `json:"direction"`
	Quantity   float64      `json:"quantity"`
	Notional   float64      `json:"notional"`
	GrossPnL   float64      `json:"gross_pnl"`
	NetPnL     float64      `json:"net_pnl"`
	Correct    bool         `json:"correct"`
	ForceClose bool         `json:"force_closed,omitempty"`
}

// EquityPoint is the marked-to-market portfolio value at one simulated step.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"portfolio_value"`
}

// ---------------------------------------------------------------------------
// Reports
// ---------------------------------------------------------------------------

// Degenerate metric flags.
const (
	DegenerateNoTrades          = "no_trades"
	DegenerateZeroVariance      = "zero_variance"
	DegenerateNoLosses          = "no_losing_trades"
	DegenerateShortEquity       = "short_equity_curve"
	DegenerateZeroPeakValue     = "non_positive_peak"
	DegenerateNonPositiveEquity = "non_positive_equity"
)

// Metrics summarizes a backtest.
type Metrics struct {
	TotalTrades   int      `json:"total_trades"`
	WinningTrades int      `json:"winning_trades"`
	LosingTrades  int      `json:"losing_trades"`
	WinRate       float64  `json:"win_rate"`
	Accuracy      float64  `json:"accuracy"`
	TotalReturn   float64  `json:"total_return"`
	MaxDrawdown   float64  `json:"max_drawdown"`
	SharpeRatio   float64  `json:"sharpe_ratio"`
	ProfitFactor  float64  `json:"profit_factor"`
	Degenerate    []string `json:"degenerate,omitempty"`
}

// HasFlag reports whether the named degenerate condition was recorded.
func (m Metrics) HasFlag(flag string) bool {
	for _, f := range m.Degenerate {
		if f == flag {
			return true
		}
	}
	return false
}

// MarshalJSON encodes an infinite profit factor as the string "inf".
func (m Metrics) MarshalJSON() ([]byte, error) {
	type alias Metrics
	out := struct {
		alias
		ProfitFactor any `json:"profit_factor"`
	}{alias: alias(m), ProfitFactor: m.ProfitFactor}
	if math.IsInf(m.ProfitFactor, 1) {
		out.ProfitFactor = "inf"
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the "inf" profit factor sentinel.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	type alias Metrics
	in := struct {
		*alias
		ProfitFactor any `json:"profit_factor"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch v := in.ProfitFactor.(type) {
	case float64:
		m.ProfitFactor = v
	case string:
		if v == "inf" {
			m.ProfitFactor = math.Inf(1)
		}
	}
	return nil
}

// BacktestReport is the immutable result of one backtest run.
type BacktestReport struct {
	RunID          string        `json:"run_id"`
	Symbol         string        `json:"symbol"`
	Horizon        int           `json:"horizon"`
	InitialCapital float64       `json:"initial_capital"`
	CostRate       float64       `json:"cost_rate"`
	Start          time.Time     `json:"start"`
	End            time.Time     `json:"end"`
	Trades         []Trade       `json:"trade_log"`
	EquityCurve    []EquityPoint `json:"equity_curve"`
	Metrics        Metrics       `json:"metrics"`
	CreatedAt      time.Time     `json:"created_at"`
}

// FinalEquity returns the last equity value, or the initial capital if the
// curve is empty.
func (r *BacktestReport) FinalEquity() float64 {
	if len(r.EquityCurve) == 0 {
		return r.InitialCapital
	}
	return r.EquityCurve[len(r.EquityCurve)-1].Value
}

// Clamp01 clamps v into [0, 1]; NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
