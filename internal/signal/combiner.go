// Package signal fuses per-indicator readings into a single weighted-vote
// decision, adjusting each indicator's weight for the prediction horizon.
package signal

import (
	"fmt"
	"math"
	"sort"

	"predictor/internal/domain"
)

// DefaultAmbiguityThreshold is the minimum relative margin between the
// winning and losing direction below which the decision is HOLD.
const DefaultAmbiguityThreshold = 0.10

// epsilon guards the margin denominator.
const epsilon = 1e-12

// Bucket is a horizon band with its own timescale multipliers.
type Bucket int

const (
	BucketShort  Bucket = iota // 1-3 bars
	BucketMedium               // 4-10 bars
	BucketLong                 // 11+ bars
)

func (b Bucket) String() string {
	switch b {
	case BucketShort:
		return "short"
	case BucketMedium:
		return "medium"
	}
	return "long"
}

// BucketFor returns the bucket a horizon falls into.
func BucketFor(horizon int) Bucket {
	switch {
	case horizon <= 3:
		return BucketShort
	case horizon <= 10:
		return BucketMedium
	}
	return BucketLong
}

// WeightTable maps indicator id to its base weight.
type WeightTable map[string]float64

// Multipliers are an indicator's timescale multipliers per bucket.
type Multipliers struct {
	Short  float64 `yaml:"short" json:"short"`
	Medium float64 `yaml:"medium" json:"medium"`
	Long   float64 `yaml:"long" json:"long"`
}

// For returns the multiplier for bucket b.
func (m Multipliers) For(b Bucket) float64 {
	switch b {
	case BucketShort:
		return m.Short
	case BucketMedium:
		return m.Medium
	}
	return m.Long
}

// Check returns an ErrInvalidTimescale error naming key and the first bucket
// whose multiplier is not a positive finite number.
func (m Multipliers) Check(key string) error {
	for _, b := range []Bucket{BucketShort, BucketMedium, BucketLong} {
		if v := m.For(b); !(v > 0) || math.IsInf(v, 1) {
			return fmt.Errorf("%w: %s.%s = %v, must be positive", domain.ErrInvalidTimescale, key, b, v)
		}
	}
	return nil
}

// Neutral is the all-ones multiplier set.
var Neutral = Multipliers{Short: 1, Medium: 1, Long: 1}

// TimescaleTable maps indicator id to its timescale multipliers.
type TimescaleTable map[string]Multipliers

// Multiplier returns the multiplier for id at the given horizon. Indicators
// without an entry are not adjusted.
func (t TimescaleTable) Multiplier(id string, horizon int) float64 {
	m, ok := t[id]
	if !ok {
		return 1
	}
	return m.For(BucketFor(horizon))
}

// Options configures Combine.
type Options struct {
	Horizon            int
	Weights            WeightTable
	Timescale          TimescaleTable
	AmbiguityThreshold float64
}

// CheckWeights returns an AmbiguousConfigError for the first id, in sorted
// order, that has no positive weight.
func CheckWeights(w WeightTable, ids []string) error {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for _, id := range sorted {
		if v, ok := w[id]; !ok || v <= 0 || math.IsNaN(v) {
			return &domain.AmbiguousConfigError{Indicator: id}
		}
	}
	return nil
}

// CheckTimescale checks the table entries of ids, in sorted order. Ids
// without an entry are valid.
func CheckTimescale(t TimescaleTable, ids []string) error {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for _, id := range sorted {
		if m, ok := t[id]; ok {
			if err := m.Check(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Combine fuses readings into one CombinedSignal by confidence-weighted
// voting. It is a pure function: identical inputs yield identical output.
//
// Each non-HOLD reading scores confidence × base weight × timescale
// multiplier toward its direction. HOLD readings are recorded with a zero
// score and take no part in the vote. When both totals are zero the result is
// HOLD with zero confidence. Otherwise the relative margin between winner and
// loser must reach the ambiguity threshold, or the result is HOLD with the
// margin as its confidence; an exact tie is always HOLD.
func Combine(readings map[string]domain.IndicatorReading, opts Options) (domain.CombinedSignal, error) {
	if err := domain.ValidateHorizon(opts.Horizon); err != nil {
		return domain.CombinedSignal{}, err
	}
	ids := make([]string, 0, len(readings))
	for id := range readings {
		ids = append(ids, id)
	}
	if err := CheckWeights(opts.Weights, ids); err != nil {
		return domain.CombinedSignal{}, err
	}
	if err := CheckTimescale(opts.Timescale, ids); err != nil {
		return domain.CombinedSignal{}, err
	}
	sort.Strings(ids)

	out := domain.CombinedSignal{
		Scores: make(map[string]domain.IndicatorScore, len(readings)),
	}

	// Sum in sorted id order so floating-point totals are reproducible.
	for _, id := range ids {
		r := readings[id]
		if r.Direction != domain.DirectionBuy && r.Direction != domain.DirectionSell {
			out.Scores[id] = domain.IndicatorScore{Direction: domain.DirectionHold}
			continue
		}
		score := domain.Clamp01(r.Confidence) * opts.Weights[id] * opts.Timescale.Multiplier(id, opts.Horizon)
		out.Scores[id] = domain.IndicatorScore{Direction: r.Direction, Score: score}
		if r.Direction == domain.DirectionBuy {
			out.BuyTotal += score
		} else {
			out.SellTotal += score
		}
	}

	decide(&out, opts.AmbiguityThreshold)
	return out, nil
}

func decide(out *domain.CombinedSignal, threshold float64) {
	buy, sell := out.BuyTotal, out.SellTotal
	if buy == 0 && sell == 0 {
		out.Direction = domain.DirectionHold
		out.Confidence = 0
		out.Reasoning = "no directional votes"
		return
	}

	winner, loser := buy, sell
	winDir, loseDir := domain.DirectionBuy, domain.DirectionSell
	if sell > buy {
		winner, loser = sell, buy
		winDir, loseDir = domain.DirectionSell, domain.DirectionBuy
	}

	margin := (winner - loser) / math.Max(winner, math.Max(loser, epsilon))
	if margin < threshold || buy == sell {
		out.Direction = domain.DirectionHold
		out.Confidence = domain.Clamp01(margin)
		out.Reasoning = fmt.Sprintf("ambiguous: %s (%.2f) vs %s (%.2f), margin %.3f below %.3f",
			winDir, winner, loseDir, loser, margin, threshold)
		return
	}

	out.Direction = winDir
	out.Confidence = domain.Clamp01(winner / (buy + sell))
	out.Reasoning = fmt.Sprintf("%s wins with score %.2f/%.2f", winDir, winner, buy+sell)
}
