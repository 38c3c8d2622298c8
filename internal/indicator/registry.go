package indicator

import (
	"fmt"
	"sort"

	"predictor/internal/domain"
)

// Registry holds a named collection of indicators for lookup and enumeration.
// It is built once at startup and read-only afterwards.
type Registry struct {
	indicators map[string]Indicator
}

// NewRegistry creates a Registry holding the given indicators.
func NewRegistry(inds ...Indicator) *Registry {
	r := &Registry{
		indicators: make(map[string]Indicator, len(inds)),
	}
	for _, ind := range inds {
		r.Register(ind)
	}
	return r
}

// NewDefaultRegistry creates a Registry with the nine built-in indicators.
func NewDefaultRegistry(p Params) *Registry {
	return NewRegistry(Builtins(p)...)
}

// Register adds an indicator to the registry, keyed by its ID(). A later
// registration with the same id replaces the earlier one.
func (r *Registry) Register(ind Indicator) {
	r.indicators[ind.ID()] = ind
}

// Get retrieves an indicator by id. The second return value indicates whether
// the indicator was found.
func (r *Registry) Get(id string) (Indicator, bool) {
	ind, ok := r.indicators[id]
	return ind, ok
}

// List returns a sorted slice of all registered indicator ids.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.indicators))
	for id := range r.indicators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ByCategory returns the ids of all indicators in the given category, sorted.
func (r *Registry) ByCategory(c Category) []string {
	var ids []string
	for id, ind := range r.indicators {
		if ind.Category() == c {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Select returns the indicators with the given ids in the order given. An
// empty ids slice selects every registered indicator in sorted order.
func (r *Registry) Select(ids []string) ([]Indicator, error) {
	if len(ids) == 0 {
		ids = r.List()
	}
	out := make([]Indicator, 0, len(ids))
	for _, id := range ids {
		ind, ok := r.indicators[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownIndicator, id)
		}
		out = append(out, ind)
	}
	return out, nil
}

// MaxLookback returns the longest lookback across inds, or 0 for none.
func MaxLookback(inds []Indicator) int {
	m := 0
	for _, ind := range inds {
		if lb := ind.Lookback(); lb > m {
			m = lb
		}
	}
	return m
}

// ReadAll evaluates every indicator on history and returns the readings keyed
// by indicator id.
func ReadAll(inds []Indicator, history []domain.Bar) map[string]domain.IndicatorReading {
	out := make(map[string]domain.IndicatorReading, len(inds))
	for _, ind := range inds {
		out[ind.ID()] = ind.Read(history)
	}
	return out
}
