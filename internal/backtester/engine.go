// Package backtester provides the core bar-driven backtesting engine.
package backtester

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stratlab/backtest-backend/internal/portfolio"
	"github.com/stratlab/backtest-backend/internal/strategy"
	"github.com/stratlab/backtest-backend/pkg/types"
	"github.com/stratlab/backtest-backend/pkg/utils"
)

// DefaultAllocationFraction is the fraction of cash committed per buy
// before scaling by signal confidence.
const DefaultAllocationFraction = 0.2

const progressInterval = 250 // bars between progress callbacks

// Engine replays a historical bar series through a strategy, executes
// the resulting signals against the ledger, and records an equity point
// per bar. One engine drives one run at a time; independent backtests
// use independent Engine/Ledger/Strategy instances.
type Engine struct {
	logger     *zap.Logger
	symbol     string
	allocation decimal.Decimal
	ledger     *portfolio.Ledger
	strat      strategy.Strategy
	equity     []types.EquityPoint
	onProgress func(types.BacktestProgress)
}

// NewEngine creates an engine for one symbol. allocationFraction <= 0
// selects the default.
func NewEngine(logger *zap.Logger, symbol string, ledger *portfolio.Ledger, strat strategy.Strategy, allocationFraction float64) *Engine {
	if allocationFraction <= 0 {
		allocationFraction = DefaultAllocationFraction
	}
	return &Engine{
		logger:     logger,
		symbol:     symbol,
		allocation: decimal.NewFromFloat(allocationFraction),
		ledger:     ledger,
		strat:      strat,
	}
}

// SetProgressFunc registers a callback invoked periodically during Run.
func (e *Engine) SetProgressFunc(f func(types.BacktestProgress)) {
	e.onProgress = f
}

// Run executes a full backtest over a time-ordered bar series. The
// ledger, strategy, and equity history are reset first, so the same
// instances replay identically across repeated runs. An empty series
// yields an empty equity history.
func (e *Engine) Run(bars []types.PriceBar) {
	e.ledger.Reset()
	e.strat.Reset()
	e.equity = e.equity[:0]

	started := time.Now()
	e.logger.Info("Starting backtest",
		zap.String("symbol", e.symbol),
		zap.String("strategy", e.strat.Name()),
		zap.Int("bars", len(bars)),
	)

	for i, bar := range bars {
		signal := e.strat.OnBar(bar, e.ledger)
		e.execute(signal, bar)

		equity := e.ledger.TotalValue(map[string]decimal.Decimal{e.symbol: bar.Close})
		e.equity = append(e.equity, types.EquityPoint{
			Timestamp: bar.Timestamp,
			Equity:    equity,
		})

		if e.onProgress != nil && (i+1)%progressInterval == 0 {
			e.onProgress(types.BacktestProgress{
				Status:         "running",
				BarsProcessed:  i + 1,
				TotalBars:      len(bars),
				CurrentDate:    bar.Timestamp,
				TradesExecuted: len(e.ledger.Trades()),
				CurrentEquity:  equity,
			})
		}
	}

	e.logger.Info("Backtest completed",
		zap.String("symbol", e.symbol),
		zap.Duration("duration", time.Since(started)),
		zap.Int("trades", len(e.ledger.Trades())),
	)
}

// execute turns a signal into a ledger mutation. Rejected or unsized
// orders are silent no-ops; the trade log only records fills.
func (e *Engine) execute(signal types.Signal, bar types.PriceBar) {
	switch signal.Action {
	case types.ActionBuy:
		quantity := e.ledger.CashBalance().
			Mul(e.allocation).
			Mul(decimal.NewFromFloat(signal.Confidence)).
			Div(bar.Close).
			Floor()
		if quantity.LessThanOrEqual(decimal.Zero) {
			return
		}
		e.ledger.Buy(e.symbol, quantity, bar.Close, bar.Timestamp)

	case types.ActionSell:
		pos, ok := e.ledger.Position(e.symbol)
		if !ok {
			return
		}
		// Full exit; there is no partial-sell sizing.
		e.ledger.Sell(e.symbol, pos.Shares, bar.Close, bar.Timestamp)
	}
}

// EquityCurve returns the recorded equity history, one point per bar.
func (e *Engine) EquityCurve() []types.EquityPoint {
	out := make([]types.EquityPoint, len(e.equity))
	copy(out, e.equity)
	return out
}

// Trades returns the trade history of the last run.
func (e *Engine) Trades() []types.Trade {
	return e.ledger.Trades()
}

// FinalReturn is (last - first) / first over the equity history, zero
// when the history is empty.
func (e *Engine) FinalReturn() decimal.Decimal {
	if len(e.equity) == 0 {
		return decimal.Zero
	}
	first := e.equity[0].Equity
	if first.IsZero() {
		return decimal.Zero
	}
	last := e.equity[len(e.equity)-1].Equity
	return last.Sub(first).Div(first)
}

// Drawdown is the largest peak-to-trough decline over a run.
type Drawdown struct {
	Absolute decimal.Decimal `json:"absolute"`
	Percent  decimal.Decimal `json:"percent"`
}

// MaxDrawdown tracks the running peak and returns the deepest decline,
// in absolute terms and as a percentage of the peak it fell from.
func (e *Engine) MaxDrawdown() Drawdown {
	var dd Drawdown
	if len(e.equity) == 0 {
		return dd
	}

	peak := e.equity[0].Equity
	peakAtMax := peak
	for _, point := range e.equity {
		if point.Equity.GreaterThan(peak) {
			peak = point.Equity
		}
		decline := peak.Sub(point.Equity)
		if decline.GreaterThan(dd.Absolute) {
			dd.Absolute = decline
			peakAtMax = peak
		}
	}
	if peakAtMax.IsPositive() {
		dd.Percent = utils.Percent(dd.Absolute.Div(peakAtMax))
	}
	return dd
}

// WinLossCount classifies each SELL against the volume-weighted average
// cost of all BUY trades of the same symbol dated strictly before it.
// A sell at exactly that cost counts as neither.
func (e *Engine) WinLossCount() (wins, losses int) {
	trades := e.ledger.Trades()
	for _, sell := range trades {
		if sell.Kind != types.TradeSell {
			continue
		}

		var shares, cost decimal.Decimal
		for _, buy := range trades {
			if buy.Kind != types.TradeBuy || buy.Symbol != sell.Symbol {
				continue
			}
			if !buy.Timestamp.Before(sell.Timestamp) {
				continue
			}
			shares = shares.Add(buy.Shares)
			cost = cost.Add(buy.Shares.Mul(buy.Price))
		}
		if shares.IsZero() {
			continue
		}

		avgCost := cost.Div(shares)
		switch {
		case sell.Price.GreaterThan(avgCost):
			wins++
		case sell.Price.LessThan(avgCost):
			losses++
		}
	}
	return wins, losses
}
