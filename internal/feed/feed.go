// Package feed retrieves daily OHLCV bars for the predictor. Sources return
// bars in ascending time order; CachedSource keeps a parquet copy of each
// symbol so repeated predictions and backtests do not hit the upstream API.
package feed

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"predictor/internal/domain"
)

// Source supplies daily bars for a symbol over [start, end].
type Source interface {
	Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Lookback returns the range ending at now and reaching back the given number
// of calendar days.
func Lookback(now time.Time, days int) DateRange {
	return DateRange{Start: now.AddDate(0, 0, -days), End: now}
}

// Validate sorts bars by timestamp, drops duplicate timestamps (keeping the
// last occurrence) and rejects series shorter than two bars or containing
// non-positive closes.
func Validate(symbol string, bars []domain.Bar) ([]domain.Bar, error) {
	if len(bars) < 2 {
		return nil, &domain.InsufficientDataError{Have: len(bars), Need: 2}
	}

	out := make([]domain.Bar, len(bars))
	copy(out, bars)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	dedup := out[:0]
	for _, b := range out {
		if b.Close <= 0 {
			return nil, fmt.Errorf("%s: non-positive close %v at %s", symbol, b.Close, b.Timestamp.Format(time.DateOnly))
		}
		b.Symbol = strings.ToUpper(symbol)
		if n := len(dedup); n > 0 && dedup[n-1].Timestamp.Equal(b.Timestamp) {
			dedup[n-1] = b
			continue
		}
		dedup = append(dedup, b)
	}

	if len(dedup) < 2 {
		return nil, &domain.InsufficientDataError{Have: len(dedup), Need: 2}
	}
	return dedup, nil
}
