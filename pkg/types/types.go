// Package types provides shared type definitions for the backtest backend.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalAction represents the action a strategy requests for a bar.
type SignalAction string

const (
	ActionBuy  SignalAction = "BUY"
	ActionSell SignalAction = "SELL"
	ActionHold SignalAction = "HOLD"
)

// TradeKind represents the direction of an executed trade.
type TradeKind string

const (
	TradeBuy  TradeKind = "BUY"
	TradeSell TradeKind = "SELL"
)

// PositionSide represents long or short exposure.
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// PriceBar represents a single OHLCV observation. Bars are treated as
// immutable once produced.
type PriceBar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Signal is the output of a strategy for one bar. Reason is diagnostic
// only; execution keys off Action and Confidence.
type Signal struct {
	Action     SignalAction `json:"action"`
	Symbol     string       `json:"symbol"`
	Confidence float64      `json:"confidence"` // 0..1
	Reason     string       `json:"reason"`
	Timestamp  time.Time    `json:"timestamp"`
}

// Position represents an open holding in the ledger. Shares is always
// positive while the position exists; fully closed positions are removed
// rather than kept at zero.
type Position struct {
	Symbol  string          `json:"symbol"`
	Shares  decimal.Decimal `json:"shares"`
	AvgCost decimal.Decimal `json:"avgCost"`
	Side    PositionSide    `json:"side"`
}

// Trade is one executed buy or sell, immutable once recorded. The trade
// log is the source of truth for realized P&L classification.
type Trade struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Shares    decimal.Decimal `json:"shares"`
	Price     decimal.Decimal `json:"price"`
	Kind      TradeKind       `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
}

// EquityPoint is one point on the equity curve, recorded once per bar.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
}

// BacktestResult is the record handed to external collaborators (API,
// persistence). The equity curve keeps one point per bar so downstream
// statistics can be recomputed from it.
type BacktestResult struct {
	ID                 string          `json:"id"`
	Symbol             string          `json:"symbol"`
	Strategy           string          `json:"strategy"`
	StartDate          time.Time       `json:"startDate"`
	EndDate            time.Time       `json:"endDate"`
	InitialCapital     decimal.Decimal `json:"initialCapital"`
	FinalValue         decimal.Decimal `json:"finalValue"`
	TotalReturn        decimal.Decimal `json:"totalReturn"`
	TotalReturnPercent decimal.Decimal `json:"totalReturnPercent"`
	TradeCount         int             `json:"tradeCount"`
	WinningTrades      int             `json:"winningTrades"`
	LosingTrades       int             `json:"losingTrades"`
	WinRate            float64         `json:"winRate"`
	MaxDrawdown        decimal.Decimal `json:"maxDrawdown"`
	MaxDrawdownPercent decimal.Decimal `json:"maxDrawdownPercent"`
	SharpeRatio        float64         `json:"sharpeRatio"`
	EquityCurve        []EquityPoint   `json:"equityCurve"`
	Trades             []Trade         `json:"trades"`
	CreatedAt          time.Time       `json:"createdAt"`
}
