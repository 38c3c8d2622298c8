package main

import (
	"context"
	"errors"
	"log/slog"

	"predictor/internal/config"
	"predictor/internal/engine"
	"predictor/pkg/predictor"
)

// backend is what the commands need from either a local engine or a remote
// predictor-server.
type backend interface {
	Predict(ctx context.Context, symbol string, horizon int) (*predictor.Prediction, error)
	Backtest(ctx context.Context, symbols []string, horizon int) ([]predictor.BatchEntry, error)
	Reports(ctx context.Context, symbol string, limit int) ([]predictor.ReportSummary, error)
	Signals(ctx context.Context, symbol string, limit int) ([]predictor.Signal, error)
	Indicators(ctx context.Context) ([]predictor.IndicatorInfo, error)
	Close() error
}

// ---------------------------------------------------------------------------
// Local engine
// ---------------------------------------------------------------------------

type localBackend struct {
	rt *engine.Runtime
}

func openLocal(cfg *config.Config, log *slog.Logger) (*localBackend, error) {
	rt, err := engine.Open(cfg, log)
	if err != nil {
		return nil, err
	}
	return &localBackend{rt: rt}, nil
}

func (b *localBackend) Close() error { return b.rt.Close() }

func (b *localBackend) Predict(ctx context.Context, symbol string, horizon int) (*predictor.Prediction, error) {
	p, err := b.rt.Engine.Predict(ctx, symbol, horizon)
	if err != nil {
		return nil, err
	}
	return &predictor.Prediction{
		Symbol:    p.Symbol,
		Horizon:   p.Horizon,
		AsOf:      p.AsOf,
		LastClose: p.LastClose,
		Signal:    p.Combined,
		Readings:  p.Readings,
	}, nil
}

func (b *localBackend) Backtest(ctx context.Context, symbols []string, horizon int) ([]predictor.BatchEntry, error) {
	results, err := b.rt.Engine.BacktestMany(ctx, symbols, horizon)
	if err != nil {
		return nil, err
	}
	out := make([]predictor.BatchEntry, len(results))
	for i, r := range results {
		out[i] = predictor.BatchEntry{Symbol: r.Name, Report: r.Report}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	return out, nil
}

func (b *localBackend) Reports(ctx context.Context, symbol string, limit int) ([]predictor.ReportSummary, error) {
	sums, err := b.rt.Engine.Reports(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	out := make([]predictor.ReportSummary, len(sums))
	for i, s := range sums {
		out[i] = predictor.ReportSummary(s)
	}
	return out, nil
}

func (b *localBackend) Signals(ctx context.Context, symbol string, limit int) ([]predictor.Signal, error) {
	sigs, err := b.rt.Engine.Signals(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	out := make([]predictor.Signal, len(sigs))
	for i, s := range sigs {
		out[i] = predictor.Signal(s)
	}
	return out, nil
}

func (b *localBackend) Indicators(context.Context) ([]predictor.IndicatorInfo, error) {
	infos := b.rt.Engine.Indicators()
	out := make([]predictor.IndicatorInfo, len(infos))
	for i, info := range infos {
		out[i] = predictor.IndicatorInfo{
			ID:        info.ID,
			Category:  string(info.Category),
			Lookback:  info.Lookback,
			Weight:    info.Weight,
			Timescale: predictor.Multipliers(info.Timescale),
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Remote server
// ---------------------------------------------------------------------------

type remoteBackend struct {
	c *predictor.Client
}

func (b *remoteBackend) Close() error { return nil }

func (b *remoteBackend) Predict(ctx context.Context, symbol string, horizon int) (*predictor.Prediction, error) {
	return b.c.Predict(ctx, symbol, horizon)
}

func (b *remoteBackend) Backtest(ctx context.Context, symbols []string, horizon int) ([]predictor.BatchEntry, error) {
	if len(symbols) == 1 {
		r, err := b.c.Backtest(ctx, symbols[0], horizon)
		if err != nil {
			var apiErr *predictor.APIError
			if errors.As(err, &apiErr) {
				return []predictor.BatchEntry{{Symbol: symbols[0], Error: apiErr.Message}}, nil
			}
			return nil, err
		}
		return []predictor.BatchEntry{{Symbol: r.Symbol, Report: r}}, nil
	}
	return b.c.BacktestBatch(ctx, symbols, horizon)
}

func (b *remoteBackend) Reports(ctx context.Context, symbol string, limit int) ([]predictor.ReportSummary, error) {
	return b.c.ListBacktests(ctx, symbol, limit)
}

func (b *remoteBackend) Signals(ctx context.Context, symbol string, limit int) ([]predictor.Signal, error) {
	return b.c.ListSignals(ctx, symbol, limit)
}

func (b *remoteBackend) Indicators(ctx context.Context) ([]predictor.IndicatorInfo, error) {
	return b.c.Indicators(ctx)
}
