package strategy

import (
	"fmt"
	"math"

	"github.com/stratlab/backtest-backend/internal/indicator"
	"github.com/stratlab/backtest-backend/internal/portfolio"
	"github.com/stratlab/backtest-backend/pkg/types"
	"github.com/stratlab/backtest-backend/pkg/utils"
)

// Default SMA crossover periods. The short leg uses the indicator's
// default window.
const (
	DefaultShortPeriod = indicator.DefaultSMAPeriod
	DefaultLongPeriod  = 50
)

// SMACrossover trades transitions of a short SMA across a long SMA.
// A signal requires an actual crossover between consecutive bars, not
// merely the current relative position: short moving from at-or-below
// to above the long SMA buys when flat; the reverse sells when holding.
type SMACrossover struct {
	symbol    string
	short     *indicator.SMA
	long      *indicator.SMA
	prevShort float64
	prevLong  float64
	hasPrev   bool
}

// NewSMACrossover creates the strategy. The short period must be below
// the long period.
func NewSMACrossover(symbol string, longPeriod, shortPeriod int) (*SMACrossover, error) {
	if utils.IsBlank(symbol) {
		return nil, fmt.Errorf("sma crossover: symbol is required")
	}
	if shortPeriod <= 0 || longPeriod <= 0 {
		return nil, fmt.Errorf("sma crossover: periods must be positive, got %d/%d",
			shortPeriod, longPeriod)
	}
	if shortPeriod >= longPeriod {
		return nil, fmt.Errorf("sma crossover: short period %d must be below long period %d",
			shortPeriod, longPeriod)
	}

	short, err := indicator.NewSMA(shortPeriod)
	if err != nil {
		return nil, err
	}
	long, err := indicator.NewSMA(longPeriod)
	if err != nil {
		return nil, err
	}
	return &SMACrossover{symbol: symbol, short: short, long: long}, nil
}

// Name returns the strategy type name.
func (s *SMACrossover) Name() string { return "sma_crossover" }

// OnBar updates both averages and emits a signal on a fresh crossover.
func (s *SMACrossover) OnBar(bar types.PriceBar, view portfolio.View) types.Signal {
	shortPt, shortOK := s.short.Update(bar)
	longPt, longOK := s.long.Update(bar)
	if !shortOK || !longOK {
		return hold(s.symbol, bar, "indicators not yet calculated")
	}

	shortV, longV := shortPt.Value, longPt.Value
	_, holding := view.Position(s.symbol)

	signal := hold(s.symbol, bar, "no crossover")
	if !s.hasPrev {
		// First bar with both averages ready: an initial-state check,
		// not a crossover.
		switch {
		case shortV > longV && !holding:
			signal = s.signalFor(types.ActionBuy, bar, shortV, longV, "short above long at start")
		case shortV < longV && holding:
			signal = s.signalFor(types.ActionSell, bar, shortV, longV, "short below long at start")
		}
	} else {
		crossedUp := s.prevShort <= s.prevLong && shortV > longV
		crossedDown := s.prevShort >= s.prevLong && shortV < longV
		switch {
		case crossedUp && !holding:
			signal = s.signalFor(types.ActionBuy, bar, shortV, longV, "bullish crossover")
		case crossedDown && holding:
			signal = s.signalFor(types.ActionSell, bar, shortV, longV, "bearish crossover")
		}
	}

	s.prevShort = shortV
	s.prevLong = longV
	s.hasPrev = true
	return signal
}

func (s *SMACrossover) signalFor(action types.SignalAction, bar types.PriceBar, shortV, longV float64, reason string) types.Signal {
	confidence := 0.0
	if longV != 0 {
		confidence = utils.ClampUnit(math.Abs(shortV-longV) / longV)
	}
	return types.Signal{
		Action:     action,
		Symbol:     s.symbol,
		Confidence: confidence,
		Reason:     reason,
		Timestamp:  bar.Timestamp,
	}
}

// Reset clears indicator windows and the previous-bar comparison state.
func (s *SMACrossover) Reset() {
	s.short.Reset()
	s.long.Reset()
	s.prevShort = 0
	s.prevLong = 0
	s.hasPrev = false
}
