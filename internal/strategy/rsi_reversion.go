package strategy

import (
	"fmt"

	"github.com/stratlab/backtest-backend/internal/indicator"
	"github.com/stratlab/backtest-backend/internal/portfolio"
	"github.com/stratlab/backtest-backend/pkg/types"
	"github.com/stratlab/backtest-backend/pkg/utils"
)

// Default RSI mean-reversion parameters.
const (
	DefaultRSIPeriod    = indicator.DefaultRSIPeriod
	DefaultOversold     = 30.0
	DefaultOverbought   = 70.0
	DefaultTimeStopBars = 5
)

// RSIMeanReversion buys oversold readings and exits on an overbought
// reading or a time stop. The bar on which a position is first detected
// arms the time stop without decrementing it, so the entry bar does not
// count against the stop.
type RSIMeanReversion struct {
	symbol       string
	rsi          *indicator.RSI
	oversold     float64
	overbought   float64
	timeStopBars int
	barsLeft     int
	wasHolding   bool
}

// NewRSIMeanReversion creates the strategy.
func NewRSIMeanReversion(symbol string, rsiPeriod int, oversold, overbought float64, timeStopBars int) (*RSIMeanReversion, error) {
	if utils.IsBlank(symbol) {
		return nil, fmt.Errorf("rsi reversion: symbol is required")
	}
	if oversold <= 0 || overbought >= 100 || oversold >= overbought {
		return nil, fmt.Errorf("rsi reversion: thresholds must satisfy 0 < oversold < overbought < 100, got %g/%g",
			oversold, overbought)
	}
	if timeStopBars <= 0 {
		return nil, fmt.Errorf("rsi reversion: time stop must be positive, got %d", timeStopBars)
	}

	rsi, err := indicator.NewRSI(rsiPeriod)
	if err != nil {
		return nil, err
	}
	return &RSIMeanReversion{
		symbol:       symbol,
		rsi:          rsi,
		oversold:     oversold,
		overbought:   overbought,
		timeStopBars: timeStopBars,
	}, nil
}

// Name returns the strategy type name.
func (s *RSIMeanReversion) Name() string { return "rsi_reversion" }

// OnBar updates the RSI and applies the entry/exit rules.
func (s *RSIMeanReversion) OnBar(bar types.PriceBar, view portfolio.View) types.Signal {
	point, ok := s.rsi.Update(bar)
	if !ok {
		return hold(s.symbol, bar, "rsi warming up")
	}
	rsi := point.Value

	_, holding := view.Position(s.symbol)
	if !holding {
		s.wasHolding = false
		if rsi < s.oversold {
			return types.Signal{
				Action:     types.ActionBuy,
				Symbol:     s.symbol,
				Confidence: utils.ClampUnit((s.oversold - rsi) / s.oversold),
				Reason:     "oversold",
				Timestamp:  bar.Timestamp,
			}
		}
		return hold(s.symbol, bar, "no entry")
	}

	if !s.wasHolding {
		// Entry bar: arm the time stop, no decrement, no exit checks.
		s.wasHolding = true
		s.barsLeft = s.timeStopBars
		return hold(s.symbol, bar, "position entered")
	}

	if rsi > s.overbought {
		s.barsLeft = s.timeStopBars
		return types.Signal{
			Action:     types.ActionSell,
			Symbol:     s.symbol,
			Confidence: utils.ClampUnit((rsi - s.overbought) / (100 - s.overbought)),
			Reason:     "overbought",
			Timestamp:  bar.Timestamp,
		}
	}

	s.barsLeft--
	if s.barsLeft <= 0 {
		s.barsLeft = s.timeStopBars
		return types.Signal{
			Action:     types.ActionSell,
			Symbol:     s.symbol,
			Confidence: 1,
			Reason:     "time stop",
			Timestamp:  bar.Timestamp,
		}
	}
	return hold(s.symbol, bar, "holding")
}

// Reset clears RSI state, the time-stop counter, and the holding flag.
func (s *RSIMeanReversion) Reset() {
	s.rsi.Reset()
	s.barsLeft = 0
	s.wasHolding = false
}
