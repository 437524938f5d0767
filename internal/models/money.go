package models

import "math"

// MicrosPerUSD is the fixed-point scale for all monetary amounts: balances,
// prices and on-chain conversions are carried as int64 micro-dollars so that
// ledger arithmetic is exact.
const MicrosPerUSD = 1_000_000

// MicrosFromUSD converts a decimal USD amount to micro-dollars, rounding to
// the nearest micro.
func MicrosFromUSD(usd float64) int64 {
	return int64(math.Round(usd * MicrosPerUSD))
}

// USD converts micro-dollars back to a decimal USD amount for display.
func USD(micros int64) float64 {
	return float64(micros) / MicrosPerUSD
}
