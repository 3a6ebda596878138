// Package indicator provides streaming and batch technical indicators
// over price bars.
//
// Every indicator supports two modes that agree on overlapping output:
// a stateless batch Compute over a full series, and a stateful Update
// fed one bar at a time in timestamp order. Streaming updates are O(1)
// per bar; no indicator rescans its window on a tick. While an indicator
// is warming up, Update and Current report not-ready instead of a value.
package indicator

import (
	"time"

	"github.com/stratlab/backtest-backend/pkg/types"
)

// Point is one computed indicator value, stamped with the bar that
// completed it.
type Point struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Indicator is the contract shared by single-valued streaming indicators
// (SMA, EMA, RSI). Composite indicators (MACD, Bollinger Bands) follow
// the same Update/Reset shape but return richer value types.
type Indicator interface {
	// Update feeds one bar and returns the current value, or ok=false
	// while the indicator is still warming up.
	Update(bar types.PriceBar) (Point, bool)

	// Current returns the last computed value without advancing.
	Current() (float64, bool)

	// Reset clears all internal state; subsequent updates behave as if
	// the indicator were newly constructed.
	Reset()
}

func closeOf(bar types.PriceBar) float64 {
	return bar.Close.InexactFloat64()
}
