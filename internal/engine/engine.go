// Package engine coordinates bar retrieval, indicator evaluation, signal
// combination and backtesting, and persists the results.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"predictor/internal/backtest"
	"predictor/internal/config"
	"predictor/internal/domain"
	"predictor/internal/feed"
	"predictor/internal/indicator"
	"predictor/internal/signal"
	"predictor/internal/store"
)

// Deps are the collaborators of an Engine. Reports and Signals may be nil,
// in which case results are not persisted.
type Deps struct {
	Source  feed.Source
	Reports store.ReportStore
	Signals store.SignalStore
	Logger  *slog.Logger
}

// Engine serves predictions and backtests for a fixed configuration.
type Engine struct {
	cfg        *config.Config
	indicators []indicator.Indicator
	weights    signal.WeightTable
	timescale  signal.TimescaleTable

	source  feed.Source
	reports store.ReportStore
	signals store.SignalStore

	now   func() time.Time
	newID func() string
	log   *slog.Logger
}

// Prediction is the outcome of a single-point prediction.
type Prediction struct {
	Signal    domain.Signal                      `json:"-"`
	Combined  domain.CombinedSignal              `json:"signal"`
	Readings  map[string]domain.IndicatorReading `json:"readings"`
	Symbol    string                             `json:"symbol"`
	Horizon   int                                `json:"horizon"`
	AsOf      time.Time                          `json:"as_of"`
	LastClose float64                            `json:"last_close"`
}

// IndicatorInfo describes a configured indicator.
type IndicatorInfo struct {
	ID        string             `json:"id"`
	Category  indicator.Category `json:"category"`
	Lookback  int                `json:"lookback"`
	Weight    float64            `json:"weight"`
	Timescale signal.Multipliers `json:"timescale"`
}

// NewEngine validates cfg and wires an Engine to deps.
func NewEngine(cfg *config.Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("engine: nil bar source")
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	reg := cfg.Registry()
	inds, err := reg.Select(cfg.Signal.Enabled)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:        cfg,
		indicators: inds,
		weights:    cfg.WeightTable(),
		timescale:  cfg.TimescaleTable(reg),
		source:     deps.Source,
		reports:    deps.Reports,
		signals:    deps.Signals,
		now:        time.Now,
		newID:      uuid.NewString,
		log:        log.With("component", "engine"),
	}, nil
}

// Indicators lists the enabled indicators with their weights and timescale
// multipliers.
func (e *Engine) Indicators() []IndicatorInfo {
	out := make([]IndicatorInfo, 0, len(e.indicators))
	for _, ind := range e.indicators {
		m, ok := e.timescale[ind.ID()]
		if !ok {
			m = signal.Neutral
		}
		out = append(out, IndicatorInfo{
			ID:        ind.ID(),
			Category:  ind.Category(),
			Lookback:  ind.Lookback(),
			Weight:    e.weights[ind.ID()],
			Timescale: m,
		})
	}
	return out
}

// ---------------------------------------------------------------------------
// Prediction
// ---------------------------------------------------------------------------

// Predict combines the indicator readings on the most recent bars of symbol
// into a signal for the given horizon. A zero horizon selects the configured
// default. The signal is persisted when a SignalStore is configured.
func (e *Engine) Predict(ctx context.Context, symbol string, horizon int) (*Prediction, error) {
	symbol, horizon, err := e.normalize(symbol, horizon)
	if err != nil {
		return nil, err
	}

	bars, err := e.loadBars(ctx, symbol)
	if err != nil {
		return nil, err
	}
	need := indicator.MaxLookback(e.indicators)
	if len(bars) < need {
		return nil, &domain.InsufficientDataError{Have: len(bars), Need: need}
	}

	readings := indicator.ReadAll(e.indicators, bars)
	combined, err := signal.Combine(readings, signal.Options{
		Horizon:            horizon,
		Weights:            e.weights,
		Timescale:          e.timescale,
		AmbiguityThreshold: e.cfg.Signal.AmbiguityThreshold,
	})
	if err != nil {
		return nil, err
	}

	last := bars[len(bars)-1]
	p := &Prediction{
		Signal: domain.Signal{
			Symbol:    symbol,
			Horizon:   horizon,
			Direction: combined.Direction,
			Strength:  combined.Confidence,
			Price:     last.Close,
			AsOf:      last.Timestamp,
			Reasoning: combined.Reasoning,
			CreatedAt: e.now().UTC(),
		},
		Combined:  combined,
		Readings:  readings,
		Symbol:    symbol,
		Horizon:   horizon,
		AsOf:      last.Timestamp,
		LastClose: last.Close,
	}

	if e.signals != nil {
		if err := e.signals.SaveSignal(ctx, &p.Signal); err != nil {
			return nil, fmt.Errorf("saving signal: %w", err)
		}
	}

	e.log.Info("prediction",
		"symbol", symbol,
		"horizon", horizon,
		"direction", combined.Direction,
		"confidence", combined.Confidence,
		"asOf", last.Timestamp.Format(time.DateOnly),
	)
	return p, nil
}

// ---------------------------------------------------------------------------
// Backtesting
// ---------------------------------------------------------------------------

// Backtest runs a walk-forward backtest of symbol over the configured history
// window and persists the report when a ReportStore is configured.
func (e *Engine) Backtest(ctx context.Context, symbol string, horizon int) (*domain.BacktestReport, error) {
	symbol, horizon, err := e.normalize(symbol, horizon)
	if err != nil {
		return nil, err
	}
	bars, err := e.loadBars(ctx, symbol)
	if err != nil {
		return nil, err
	}

	report, err := backtest.Run(bars, e.backtestConfig(horizon))
	if err != nil {
		return nil, err
	}
	if err := e.finish(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// BacktestMany loads and backtests several symbols concurrently on up to
// backtest.workers goroutines. Per-symbol failures, including bar retrieval
// errors, are reported in the results rather than aborting the batch.
func (e *Engine) BacktestMany(ctx context.Context, symbols []string, horizon int) ([]backtest.BatchResult, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols", domain.ErrInvalidSymbol)
	}
	if horizon == 0 {
		horizon = e.cfg.Signal.Horizon
	}
	if err := domain.ValidateHorizon(horizon); err != nil {
		return nil, err
	}

	cfg := e.backtestConfig(horizon)
	results := make([]backtest.BatchResult, len(symbols))
	var jobs []backtest.Job
	var slots []int
	for i, raw := range symbols {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		results[i].Name = symbol
		if symbol == "" {
			results[i].Err = fmt.Errorf("%w: empty", domain.ErrInvalidSymbol)
			continue
		}
		jobs = append(jobs, backtest.Job{
			Name: symbol,
			Load: func(ctx context.Context) ([]domain.Bar, error) {
				return e.loadBars(ctx, symbol)
			},
			Config: cfg,
		})
		slots = append(slots, i)
	}

	batch, err := backtest.RunBatch(ctx, jobs, e.cfg.Backtest.Workers)
	if err != nil {
		return nil, err
	}
	for j, r := range batch {
		if r.Err == nil {
			r.Err = e.finish(ctx, r.Report)
			if r.Err != nil {
				r.Report = nil
			}
		}
		results[slots[j]] = r
	}
	return results, nil
}

// finish stamps a report with its run id and creation time, persists it and
// logs the outcome.
func (e *Engine) finish(ctx context.Context, report *domain.BacktestReport) error {
	report.RunID = e.newID()
	report.CreatedAt = e.now().UTC()
	if e.reports != nil {
		if err := e.reports.SaveReport(ctx, report); err != nil {
			return fmt.Errorf("saving report %s: %w", report.RunID, err)
		}
	}
	e.log.Info("backtest complete",
		"runID", report.RunID,
		"symbol", report.Symbol,
		"horizon", report.Horizon,
		"trades", report.Metrics.TotalTrades,
		"totalReturn", report.Metrics.TotalReturn,
		"sharpe", report.Metrics.SharpeRatio,
	)
	return nil
}

func (e *Engine) backtestConfig(horizon int) backtest.Config {
	bt := e.cfg.Backtest
	return backtest.Config{
		Horizon:             horizon,
		Indicators:          e.indicators,
		Weights:             e.weights,
		Timescale:           e.timescale,
		AmbiguityThreshold:  e.cfg.Signal.AmbiguityThreshold,
		InitialCapital:      bt.InitialCapital,
		CostRate:            bt.CostRate,
		WarmupBuffer:        bt.WarmupBuffer,
		AnnualizationFactor: bt.AnnualizationFactor,
	}
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

// Report returns a stored backtest report.
func (e *Engine) Report(ctx context.Context, runID string) (*domain.BacktestReport, error) {
	if e.reports == nil {
		return nil, fmt.Errorf("report %s: %w", runID, domain.ErrNotFound)
	}
	return e.reports.GetReport(ctx, runID)
}

// Reports lists stored backtest summaries, newest first.
func (e *Engine) Reports(ctx context.Context, symbol string, limit int) ([]store.ReportSummary, error) {
	if e.reports == nil {
		return nil, nil
	}
	return e.reports.ListReports(ctx, symbol, limit)
}

// Signals lists stored predictions, newest first.
func (e *Engine) Signals(ctx context.Context, symbol string, limit int) ([]domain.Signal, error) {
	if e.signals == nil {
		return nil, nil
	}
	return e.signals.ListSignals(ctx, symbol, limit)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (e *Engine) normalize(symbol string, horizon int) (string, int, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", 0, fmt.Errorf("%w: empty", domain.ErrInvalidSymbol)
	}
	if horizon == 0 {
		horizon = e.cfg.Signal.Horizon
	}
	if err := domain.ValidateHorizon(horizon); err != nil {
		return "", 0, err
	}
	return symbol, horizon, nil
}

func (e *Engine) loadBars(ctx context.Context, symbol string) ([]domain.Bar, error) {
	r := feed.Lookback(e.now().UTC(), e.cfg.Fetch.HistoryDays)
	raw, err := e.source.Bars(ctx, symbol, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("loading %s bars: %w", symbol, err)
	}
	return feed.Validate(symbol, raw)
}
