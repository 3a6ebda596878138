// Package portfolio provides the cash-and-positions ledger used by the
// backtest engine.
package portfolio

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stratlab/backtest-backend/pkg/types"
	"github.com/stratlab/backtest-backend/pkg/utils"
)

// View is the read-only capability handed to strategies. Only the engine
// holds the full *Ledger and can execute trades.
type View interface {
	CashBalance() decimal.Decimal
	Position(symbol string) (types.Position, bool)
	Positions() map[string]types.Position
	TotalValue(currentPrices map[string]decimal.Decimal) decimal.Decimal
	UnrealizedPnL(symbol string, currentPrice decimal.Decimal) (decimal.Decimal, bool)
	Trades() []types.Trade
}

// Ledger owns cash, open positions, and the append-only trade log.
// Rejected operations return false and leave state untouched; cash never
// goes negative and a held position always has positive shares.
//
// The ledger is single-threaded: it is driven by one engine run at a
// time, with strategies restricted to the View interface.
type Ledger struct {
	cash        decimal.Decimal
	initialCash decimal.Decimal
	positions   map[string]*types.Position
	trades      []types.Trade
}

var _ View = (*Ledger)(nil)

// NewLedger creates a ledger holding initialCash.
func NewLedger(initialCash decimal.Decimal) *Ledger {
	return &Ledger{
		cash:        initialCash,
		initialCash: initialCash,
		positions:   make(map[string]*types.Position),
	}
}

// CashBalance returns available cash.
func (l *Ledger) CashBalance() decimal.Decimal {
	return l.cash
}

// InitialCash returns the capital fixed at construction.
func (l *Ledger) InitialCash() decimal.Decimal {
	return l.initialCash
}

// Position returns the open position for a symbol, if any.
func (l *Ledger) Position(symbol string) (types.Position, bool) {
	pos, ok := l.positions[symbol]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// Positions returns an independent snapshot of all open positions.
func (l *Ledger) Positions() map[string]types.Position {
	out := make(map[string]types.Position, len(l.positions))
	for symbol, pos := range l.positions {
		out[symbol] = *pos
	}
	return out
}

// Trades returns a copy of the trade history in execution order.
func (l *Ledger) Trades() []types.Trade {
	out := make([]types.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// Buy purchases shares at pricePerShare, stamped with at. It rejects
// non-positive quantities or prices, blank symbols, and purchases that
// would drive cash negative. A repeat buy folds into the existing
// position at a volume-weighted average cost.
func (l *Ledger) Buy(symbol string, shares, pricePerShare decimal.Decimal, at time.Time) bool {
	if shares.LessThanOrEqual(decimal.Zero) || pricePerShare.LessThanOrEqual(decimal.Zero) {
		return false
	}
	if utils.IsBlank(symbol) {
		return false
	}
	cost := shares.Mul(pricePerShare)
	if l.cash.LessThan(cost) {
		return false
	}

	l.cash = l.cash.Sub(cost)

	if pos, ok := l.positions[symbol]; ok {
		newShares := pos.Shares.Add(shares)
		totalCost := pos.AvgCost.Mul(pos.Shares).Add(pricePerShare.Mul(shares))
		pos.Shares = newShares
		pos.AvgCost = totalCost.Div(newShares)
	} else {
		l.positions[symbol] = &types.Position{
			Symbol:  symbol,
			Shares:  shares,
			AvgCost: pricePerShare,
			Side:    types.PositionSideLong,
		}
	}

	l.trades = append(l.trades, types.Trade{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Shares:    shares,
		Price:     pricePerShare,
		Kind:      types.TradeBuy,
		Timestamp: at,
	})
	return true
}

// Sell disposes shares at pricePerShare, stamped with at. It rejects
// non-positive quantities or prices, blank symbols, missing positions,
// and oversells. The cost basis is unchanged by a partial sell; a
// position sold down to exactly zero shares is removed.
func (l *Ledger) Sell(symbol string, shares, pricePerShare decimal.Decimal, at time.Time) bool {
	if shares.LessThanOrEqual(decimal.Zero) || pricePerShare.LessThanOrEqual(decimal.Zero) {
		return false
	}
	if utils.IsBlank(symbol) {
		return false
	}
	pos, ok := l.positions[symbol]
	if !ok {
		return false
	}
	if shares.GreaterThan(pos.Shares) {
		return false
	}

	l.cash = l.cash.Add(shares.Mul(pricePerShare))
	pos.Shares = pos.Shares.Sub(shares)
	if pos.Shares.IsZero() {
		delete(l.positions, symbol)
	}

	l.trades = append(l.trades, types.Trade{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Shares:    shares,
		Price:     pricePerShare,
		Kind:      types.TradeSell,
		Timestamp: at,
	})
	return true
}

// TotalValue is cash plus the market value of held positions at the
// supplied prices. The price map must cover every held symbol; a symbol
// missing from it contributes zero.
func (l *Ledger) TotalValue(currentPrices map[string]decimal.Decimal) decimal.Decimal {
	total := l.cash
	for symbol, pos := range l.positions {
		if price, ok := currentPrices[symbol]; ok {
			total = total.Add(pos.Shares.Mul(price))
		}
	}
	return total
}

// UnrealizedPnL returns (currentPrice - avgCost) * shares for a held
// symbol. It reports ok=false for a missing position or a non-positive
// price.
func (l *Ledger) UnrealizedPnL(symbol string, currentPrice decimal.Decimal) (decimal.Decimal, bool) {
	if currentPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Decimal{}, false
	}
	pos, ok := l.positions[symbol]
	if !ok {
		return decimal.Decimal{}, false
	}
	return currentPrice.Sub(pos.AvgCost).Mul(pos.Shares), true
}

// Reset restores the ledger to its post-construction state.
func (l *Ledger) Reset() {
	l.cash = l.initialCash
	l.positions = make(map[string]*types.Position)
	l.trades = nil
}
