// Package types provides configuration types for the backtest backend.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyConfig selects a strategy variant and its parameters. Parameter
// names depend on the strategy type ("sma_crossover", "rsi_reversion").
type StrategyConfig struct {
	Type       string             `json:"type"`
	Parameters map[string]float64 `json:"parameters"`
}

// BacktestRequest is the externally supplied input for one backtest run.
// The caller is responsible for the shape of the bar series; the engine
// only requires it to be in timestamp order.
type BacktestRequest struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	InitialCapital decimal.Decimal `json:"initialCapital"`
	Strategy       StrategyConfig  `json:"strategy"`
	StartDate      time.Time       `json:"startDate"`
	EndDate        time.Time       `json:"endDate"`
	// AllocationFraction is the fraction of cash committed per buy before
	// scaling by signal confidence. Zero means the engine default (0.2).
	AllocationFraction float64 `json:"allocationFraction,omitempty"`
	// Bars may be supplied inline; when empty the server loads them from
	// the data store using Symbol and the date range.
	Bars []PriceBar `json:"bars,omitempty"`
}

// BacktestProgress reports the state of a running backtest to API clients.
type BacktestProgress struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"` // "running", "completed", "failed"
	BarsProcessed  int             `json:"barsProcessed"`
	TotalBars      int             `json:"totalBars"`
	CurrentDate    time.Time       `json:"currentDate"`
	TradesExecuted int             `json:"tradesExecuted"`
	CurrentEquity  decimal.Decimal `json:"currentEquity"`
}
