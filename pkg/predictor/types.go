package predictor

import (
	"time"

	"predictor/internal/domain"
)

// Re-exported domain types.
type (
	Direction        = domain.Direction
	IndicatorReading = domain.IndicatorReading
	CombinedSignal   = domain.CombinedSignal
	Trade            = domain.Trade
	EquityPoint      = domain.EquityPoint
	Metrics          = domain.Metrics
	BacktestReport   = domain.BacktestReport
)

// Prediction is the response of the predict endpoint.
type Prediction struct {
	Symbol    string                      `json:"symbol"`
	Horizon   int                         `json:"horizon"`
	AsOf      time.Time                   `json:"as_of"`
	LastClose float64                     `json:"last_close"`
	Signal    CombinedSignal              `json:"signal"`
	Readings  map[string]IndicatorReading `json:"readings"`
}

// BatchEntry is one symbol's outcome of a batch backtest.
type BatchEntry struct {
	Symbol string          `json:"symbol"`
	Report *BacktestReport `json:"report,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ReportSummary is a stored backtest without its trade log and equity curve.
type ReportSummary struct {
	RunID          string    `json:"run_id"`
	Symbol         string    `json:"symbol"`
	Horizon        int       `json:"horizon"`
	InitialCapital float64   `json:"initial_capital"`
	FinalEquity    float64   `json:"final_equity"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Metrics        Metrics   `json:"metrics"`
	CreatedAt      time.Time `json:"created_at"`
}

// Signal is a stored prediction.
type Signal struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	Horizon   int       `json:"horizon"`
	Direction Direction `json:"direction"`
	Strength  float64   `json:"strength"`
	Price     float64   `json:"price"`
	AsOf      time.Time `json:"as_of"`
	Reasoning string    `json:"reasoning,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Multipliers are an indicator's timescale multipliers per horizon bucket.
type Multipliers struct {
	Short  float64 `json:"short"`
	Medium float64 `json:"medium"`
	Long   float64 `json:"long"`
}

// IndicatorInfo describes an indicator enabled on the server.
type IndicatorInfo struct {
	ID        string      `json:"id"`
	Category  string      `json:"category"`
	Lookback  int         `json:"lookback"`
	Weight    float64     `json:"weight"`
	Timescale Multipliers `json:"timescale"`
}
