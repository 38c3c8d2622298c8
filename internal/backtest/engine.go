// Package backtest replays the signal combiner over historical bars without
// look-ahead, simulating one position at a time under a transaction-cost
// model, and summarizes the run.
//
// Execution policy: a position opens at the close of the bar its decision was
// made on and closes at the close of the bar horizon steps later. The step
// after a close is the next decision point. A position still open on the final
// bar is force-closed at that bar's close.
package backtest

import (
	"fmt"

	"predictor/internal/domain"
	"predictor/internal/indicator"
	"predictor/internal/signal"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultInitialCapital      = 10000.0
	DefaultAnnualizationFactor = 252.0
)

// Config is the full parameter set of one backtest run.
type Config struct {
	Horizon            int
	Indicators         []indicator.Indicator
	Weights            signal.WeightTable
	Timescale          signal.TimescaleTable
	AmbiguityThreshold float64
	InitialCapital     float64
	CostRate           float64

	// WarmupBuffer is added to the longest indicator lookback before the
	// first decision.
	WarmupBuffer int

	// AnnualizationFactor scales the per-step Sharpe ratio.
	AnnualizationFactor float64
}

// Engine runs walk-forward backtests for a fixed configuration. An Engine
// holds no per-run state and may be shared between goroutines.
type Engine struct {
	cfg    Config
	warmup int
}

// NewEngine validates cfg and returns an Engine for it. A missing weight for
// any configured indicator is an AmbiguousConfigError; a non-positive
// timescale multiplier wraps ErrInvalidTimescale.
func NewEngine(cfg Config) (*Engine, error) {
	if err := domain.ValidateHorizon(cfg.Horizon); err != nil {
		return nil, err
	}
	if cfg.InitialCapital == 0 {
		cfg.InitialCapital = DefaultInitialCapital
	}
	if cfg.AnnualizationFactor == 0 {
		cfg.AnnualizationFactor = DefaultAnnualizationFactor
	}
	switch {
	case cfg.InitialCapital < 0:
		return nil, fmt.Errorf("backtest: initial capital must be positive, got %v", cfg.InitialCapital)
	case cfg.CostRate < 0:
		return nil, fmt.Errorf("backtest: cost rate must be non-negative, got %v", cfg.CostRate)
	case cfg.AmbiguityThreshold < 0 || cfg.AmbiguityThreshold >= 1:
		return nil, fmt.Errorf("backtest: ambiguity threshold must be in [0, 1), got %v", cfg.AmbiguityThreshold)
	case cfg.WarmupBuffer < 0:
		return nil, fmt.Errorf("backtest: warmup buffer must be non-negative, got %d", cfg.WarmupBuffer)
	case cfg.AnnualizationFactor < 0:
		return nil, fmt.Errorf("backtest: annualization factor must be positive, got %v", cfg.AnnualizationFactor)
	}

	ids := make([]string, len(cfg.Indicators))
	for i, ind := range cfg.Indicators {
		ids[i] = ind.ID()
	}
	if err := signal.CheckWeights(cfg.Weights, ids); err != nil {
		return nil, err
	}
	if err := signal.CheckTimescale(cfg.Timescale, ids); err != nil {
		return nil, err
	}

	return &Engine{
		cfg:    cfg,
		warmup: indicator.MaxLookback(cfg.Indicators) + cfg.WarmupBuffer,
	}, nil
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Warmup is the index of the first decision bar.
func (e *Engine) Warmup() int { return e.warmup }

// MinBars is the shortest history Run accepts.
func (e *Engine) MinBars() int { return e.warmup + e.cfg.Horizon + 1 }

// Run simulates the configured strategy over bars, which must be in strictly
// ascending time order. It fails with an InsufficientDataError before any
// step runs when bars is shorter than MinBars.
func (e *Engine) Run(bars []domain.Bar) (*domain.BacktestReport, error) {
	n := len(bars)
	if n < e.MinBars() {
		return nil, &domain.InsufficientDataError{Have: n, Need: e.MinBars()}
	}
	for i := 1; i < n; i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return nil, fmt.Errorf("backtest: bars not ascending at index %d (%s after %s)",
				i, bars[i].Timestamp.Format("2006-01-02"), bars[i-1].Timestamp.Format("2006-01-02"))
		}
	}

	cfg := e.cfg
	report := &domain.BacktestReport{
		Symbol:         bars[0].Symbol,
		Horizon:        cfg.Horizon,
		InitialCapital: cfg.InitialCapital,
		CostRate:       cfg.CostRate,
		Start:          bars[e.warmup].Timestamp,
		End:            bars[n-1].Timestamp,
		Trades:         []domain.Trade{},
		EquityCurve:    make([]domain.EquityPoint, 0, n-e.warmup),
	}

	cash := cfg.InitialCapital
	var pos *domain.Position

	for t := e.warmup; t < n; t++ {
		bar := bars[t]

		if pos != nil {
			held := t - pos.EntryIndex
			if held >= cfg.Horizon || t == n-1 {
				trade := closePosition(*pos, bar, cfg.CostRate, held < cfg.Horizon)
				cash += trade.NetPnL
				report.Trades = append(report.Trades, trade)
				pos = nil
				report.EquityCurve = append(report.EquityCurve, domain.EquityPoint{Timestamp: bar.Timestamp, Value: cash})
				continue
			}
			report.EquityCurve = append(report.EquityCurve, domain.EquityPoint{
				Timestamp: bar.Timestamp,
				Value:     cash + pos.UnrealizedPnL(bar.Close),
			})
			continue
		}

		// No entries on the final bar: there is no later step to hold through.
		if t < n-1 && cash > 0 && bar.Close > 0 {
			// Cap capacity so indicators cannot reach past bar t.
			end := t + 1
			sig, err := e.decide(bars[:end:end])
			if err != nil {
				return nil, fmt.Errorf("backtest: step %d: %w", t, err)
			}
			if side := domain.SideFor(sig.Direction); side != domain.SideFlat {
				pos = &domain.Position{
					Side:       side,
					EntryPrice: bar.Close,
					EntryTime:  bar.Timestamp,
					EntryIndex: t,
					Quantity:   cash / bar.Close,
				}
			}
		}
		report.EquityCurve = append(report.EquityCurve, domain.EquityPoint{Timestamp: bar.Timestamp, Value: cash})
	}

	report.Metrics = ComputeMetrics(report.Trades, report.EquityCurve, cfg.InitialCapital, cfg.AnnualizationFactor)
	return report, nil
}

// decide combines the indicator readings over history.
func (e *Engine) decide(history []domain.Bar) (domain.CombinedSignal, error) {
	readings := indicator.ReadAll(e.cfg.Indicators, history)
	return signal.Combine(readings, signal.Options{
		Horizon:            e.cfg.Horizon,
		Weights:            e.cfg.Weights,
		Timescale:          e.cfg.Timescale,
		AmbiguityThreshold: e.cfg.AmbiguityThreshold,
	})
}

// closePosition settles pos at bar's close.
func closePosition(pos domain.Position, bar domain.Bar, costRate float64, forced bool) domain.Trade {
	exit := bar.Close
	gross := pos.UnrealizedPnL(exit)
	notional := pos.Notional()

	// A flat move counts as a down move.
	realized := domain.DirectionSell
	if exit > pos.EntryPrice {
		realized = domain.DirectionBuy
	}
	predicted := domain.DirectionBuy
	if pos.Side == domain.SideShort {
		predicted = domain.DirectionSell
	}

	return domain.Trade{
		EntryTime:  pos.EntryTime,
		ExitTime:   bar.Timestamp,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exit,
		Side:       pos.Side,
		Quantity:   pos.Quantity,
		Notional:   notional,
		GrossPnL:   gross,
		NetPnL:     ApplyCost(gross, notional, costRate),
		Correct:    predicted == realized,
		ForceClose: forced,
	}
}

// Run is a convenience wrapper building an Engine for a single run.
func Run(bars []domain.Bar, cfg Config) (*domain.BacktestReport, error) {
	e, err := NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	return e.Run(bars)
}
