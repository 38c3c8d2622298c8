package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData is matched by InsufficientDataError.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrAmbiguousConfig is matched by AmbiguousConfigError.
	ErrAmbiguousConfig = errors.New("ambiguous config")

	// ErrInvalidHorizon is returned for horizons outside [MinHorizon, MaxHorizon].
	ErrInvalidHorizon = errors.New("invalid horizon")

	// ErrUnknownIndicator is returned when an indicator id is not registered.
	ErrUnknownIndicator = errors.New("unknown indicator")

	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidSymbol is returned for empty or malformed ticker symbols.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrInvalidTimescale is returned for timescale multipliers that are not
	// positive finite numbers.
	ErrInvalidTimescale = errors.New("invalid timescale multiplier")
)

// Prediction horizon bounds, in bars.
const (
	MinHorizon = 1
	MaxHorizon = 30
)

// ValidateHorizon returns ErrInvalidHorizon when h is out of range.
func ValidateHorizon(h int) error {
	if h < MinHorizon || h > MaxHorizon {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidHorizon, h, MinHorizon, MaxHorizon)
	}
	return nil
}

// InsufficientDataError reports a price history too short for the requested
// run.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: have %d bars, need at least %d", e.Have, e.Need)
}

// Is makes errors.Is(err, ErrInsufficientData) succeed.
func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// AmbiguousConfigError reports an indicator with no configured weight.
type AmbiguousConfigError struct {
	Indicator string
}

func (e *AmbiguousConfigError) Error() string {
	return fmt.Sprintf("ambiguous config: no weight configured for indicator %q", e.Indicator)
}

// Is makes errors.Is(err, ErrAmbiguousConfig) succeed.
func (e *AmbiguousConfigError) Is(target error) bool {
	return target == ErrAmbiguousConfig
}
