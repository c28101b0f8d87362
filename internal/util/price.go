// Package util provides common utility functions for price calculations
// and option symbol handling.
package util

import "math"

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	tick = math.Abs(tick)
	if tick == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return math.Round(x/tick) * tick
}

// RoundToCent rounds a dollar amount to two decimal places.
func RoundToCent(x float64) float64 {
	return RoundToTick(x, 0.01)
}
