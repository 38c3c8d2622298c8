package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"predictor/internal/domain"
	"predictor/internal/store"
)

// Compile-time interface check.
var _ Source = (*CachedSource)(nil)

// CachedSource serves bars from a BarStore while the symbol's cache is younger
// than TTL, and otherwise refreshes it from the upstream Source.
type CachedSource struct {
	upstream Source
	store    store.BarStore
	market   string
	ttl      time.Duration
	now      func() time.Time
	log      *slog.Logger
}

// NewCachedSource wraps upstream with a bar cache in s. A non-positive ttl
// refreshes on every call.
func NewCachedSource(upstream Source, s store.BarStore, market string, ttl time.Duration, log *slog.Logger) *CachedSource {
	if log == nil {
		log = slog.Default()
	}
	return &CachedSource{
		upstream: upstream,
		store:    s,
		market:   market,
		ttl:      ttl,
		now:      time.Now,
		log:      log.With("component", "feed", "source", "cache"),
	}
}

// Bars returns validated bars for symbol within [start, end].
func (c *CachedSource) Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	symbol = strings.ToUpper(symbol)

	fresh, err := c.fresh(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if fresh {
		cached, err := c.store.ReadBars(ctx, symbol, c.market, start, end)
		if err != nil {
			return nil, fmt.Errorf("reading cached %s bars: %w", symbol, err)
		}
		if len(cached) >= 2 {
			c.log.Debug("cache hit", "symbol", symbol, "count", len(cached))
			return Validate(symbol, cached)
		}
	}

	return c.Refresh(ctx, symbol, start, end)
}

// Refresh fetches bars from upstream, validates them and writes them to the
// store regardless of cache age.
func (c *CachedSource) Refresh(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	symbol = strings.ToUpper(symbol)
	raw, err := c.upstream.Bars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	bars, err := Validate(symbol, raw)
	if err != nil {
		return nil, err
	}
	if err := c.store.WriteBars(ctx, c.market, bars); err != nil {
		return nil, fmt.Errorf("caching %s bars: %w", symbol, err)
	}
	c.log.Info("refreshed bars", "symbol", symbol, "count", len(bars),
		"first", bars[0].Timestamp.Format(time.DateOnly),
		"last", bars[len(bars)-1].Timestamp.Format(time.DateOnly))
	return bars, nil
}

func (c *CachedSource) fresh(ctx context.Context, symbol string) (bool, error) {
	if c.ttl <= 0 {
		return false, nil
	}
	updated, err := c.store.UpdatedAt(ctx, symbol, c.market)
	if err != nil {
		return false, fmt.Errorf("checking cache for %s: %w", symbol, err)
	}
	if updated.IsZero() {
		return false, nil
	}
	return c.now().Sub(updated) < c.ttl, nil
}
