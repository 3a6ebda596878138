package backtester

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stratlab/backtest-backend/pkg/types"
	"github.com/stratlab/backtest-backend/pkg/utils"
)

const tradingDaysPerYear = 252

// BuildResult assembles the full result record for the last run. The
// caller supplies the record identity and the capital the run started
// with; everything else comes from the engine's recorded history.
func (e *Engine) BuildResult(id string, initialCapital decimal.Decimal) types.BacktestResult {
	equity := e.EquityCurve()
	trades := e.Trades()
	wins, losses := e.WinLossCount()
	dd := e.MaxDrawdown()

	finalValue := initialCapital
	var startDate, endDate time.Time
	if len(equity) > 0 {
		finalValue = equity[len(equity)-1].Equity
		startDate = equity[0].Timestamp
		endDate = equity[len(equity)-1].Timestamp
	}

	totalReturn := finalValue.Sub(initialCapital)
	var returnPct decimal.Decimal
	if initialCapital.IsPositive() {
		returnPct = utils.Percent(totalReturn.Div(initialCapital))
	}

	// Break-even sells are classified as neither win nor loss and stay
	// out of the denominator.
	winRate := 0.0
	if wins+losses > 0 {
		winRate = float64(wins) / float64(wins+losses) * 100
	}

	return types.BacktestResult{
		ID:                 id,
		Symbol:             e.symbol,
		Strategy:           e.strat.Name(),
		StartDate:          startDate,
		EndDate:            endDate,
		InitialCapital:     initialCapital,
		FinalValue:         finalValue,
		TotalReturn:        totalReturn,
		TotalReturnPercent: returnPct,
		TradeCount:         len(trades),
		WinningTrades:      wins,
		LosingTrades:       losses,
		WinRate:            winRate,
		MaxDrawdown:        dd.Absolute,
		MaxDrawdownPercent: dd.Percent,
		SharpeRatio:        sharpeRatio(equity),
		EquityCurve:        equity,
		Trades:             trades,
		CreatedAt:          time.Now(),
	}
}

// sharpeRatio computes the annualized Sharpe ratio from per-bar equity
// returns, assuming daily bars and a zero risk-free rate. Fewer than
// two equity points, or a flat series, yields zero.
func sharpeRatio(equity []types.EquityPoint) float64 {
	if len(equity) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity.InexactFloat64()
		if prev == 0 {
			continue
		}
		curr := equity[i].Equity.InexactFloat64()
		returns = append(returns, (curr-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	sd := stdDev(returns)
	if sd == 0 {
		return 0
	}
	return mean(returns) / sd * math.Sqrt(tradingDaysPerYear)
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	m := mean(values)
	sumSq := 0.0
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}
