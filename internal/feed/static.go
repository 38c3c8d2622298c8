package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"predictor/internal/domain"
)

// Compile-time interface check.
var _ Source = (*StaticSource)(nil)

// StaticSource serves bars held in memory, keyed by upper-case symbol. It backs
// offline runs over preloaded data.
type StaticSource struct {
	bars map[string][]domain.Bar
}

// NewStaticSource creates a StaticSource from bars grouped by symbol.
func NewStaticSource(bars map[string][]domain.Bar) *StaticSource {
	s := &StaticSource{bars: make(map[string][]domain.Bar, len(bars))}
	for sym, bs := range bars {
		s.bars[strings.ToUpper(sym)] = bs
	}
	return s
}

// Bars returns the stored bars for symbol that fall within [start, end].
func (s *StaticSource) Bars(_ context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	all, ok := s.bars[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("symbol %s: %w", symbol, domain.ErrNotFound)
	}
	var out []domain.Bar
	for _, b := range all {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}
