package backtest

// DefaultCostRate is the round-trip transaction cost, as a fraction of the
// trade's notional value (0.1%).
const DefaultCostRate = 0.001

// ApplyCost charges the round-trip cost once against a completed trade:
// net = gross - notional*rate.
func ApplyCost(gross, notional, rate float64) float64 {
	return gross - notional*rate
}
