// Package store defines storage interfaces for persisting and retrieving
// price bars, backtest reports and predicted signals.
package store

import (
	"context"
	"time"

	"predictor/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars under the given market, merging with
	// bars already stored.
	WriteBars(ctx context.Context, market string, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end],
	// in ascending time order.
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)

	// UpdatedAt returns when bars for the symbol were last written, or the
	// zero time if none are stored.
	UpdatedAt(ctx context.Context, symbol string, market string) (time.Time, error)
}

// ReportSummary is the header and metrics of a stored backtest, without its
// trade log and equity curve.
type ReportSummary struct {
	RunID          string         `json:"run_id"`
	Symbol         string         `json:"symbol"`
	Horizon        int            `json:"horizon"`
	InitialCapital float64        `json:"initial_capital"`
	FinalEquity    float64        `json:"final_equity"`
	Start          time.Time      `json:"start"`
	End            time.Time      `json:"end"`
	Metrics        domain.Metrics `json:"metrics"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ReportStore persists and retrieves backtest reports.
type ReportStore interface {
	// SaveReport stores a complete report. RunID must be set.
	SaveReport(ctx context.Context, report *domain.BacktestReport) error

	// GetReport returns the report with the given run id, or an error
	// matching domain.ErrNotFound.
	GetReport(ctx context.Context, runID string) (*domain.BacktestReport, error)

	// ListReports returns the most recent report summaries, newest first,
	// optionally filtered by symbol, up to limit.
	ListReports(ctx context.Context, symbol string, limit int) ([]ReportSummary, error)
}

// SignalStore persists and retrieves predicted signals.
type SignalStore interface {
	// SaveSignal inserts a new signal and sets its ID.
	SaveSignal(ctx context.Context, signal *domain.Signal) error

	// ListSignals returns the most recent signals, newest first, optionally
	// filtered by symbol, up to limit.
	ListSignals(ctx context.Context, symbol string, limit int) ([]domain.Signal, error)
}
