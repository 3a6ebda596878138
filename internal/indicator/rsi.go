package indicator

import (
	"fmt"

	"github.com/stratlab/backtest-backend/pkg/types"
)

// DefaultRSIPeriod is the conventional 14-bar lookback.
const DefaultRSIPeriod = 14

// RSI is the relative strength index with Wilder smoothing. It needs
// period price changes, so the first value appears on bar period+1.
//
// Boundary conventions: all-gain series read 100, all-loss series read 0,
// and a flat series (no gains, no losses) reads 100. The flat case is a
// compatibility convention carried over from the reference behavior.
type RSI struct {
	period    int
	hasPrev   bool
	prevClose float64
	changes   int
	sumGain   float64
	sumLoss   float64
	avgGain   float64
	avgLoss   float64
	seeded    bool
	last      Point
}

// NewRSI creates an RSI with the given period.
func NewRSI(period int) (*RSI, error) {
	if period <= 0 {
		return nil, fmt.Errorf("rsi: period must be positive, got %d", period)
	}
	return &RSI{period: period}, nil
}

// Period returns the configured period.
func (r *RSI) Period() int { return r.period }

// Compute is the stateless batch mode: it replays the streaming
// recurrence over the series without touching streaming state.
func (r *RSI) Compute(bars []types.PriceBar) []Point {
	if len(bars) < r.period+1 {
		return nil
	}
	fresh, _ := NewRSI(r.period)
	out := make([]Point, 0, len(bars)-r.period)
	for _, bar := range bars {
		if p, ok := fresh.Update(bar); ok {
			out = append(out, p)
		}
	}
	return out
}

// Update feeds one bar. Returns ok=false until period changes have been
// observed (period+1 bars).
func (r *RSI) Update(bar types.PriceBar) (Point, bool) {
	c := closeOf(bar)
	if !r.hasPrev {
		r.hasPrev = true
		r.prevClose = c
		return Point{}, false
	}

	change := c - r.prevClose
	r.prevClose = c
	var gain, loss float64
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	if !r.seeded {
		r.sumGain += gain
		r.sumLoss += loss
		r.changes++
		if r.changes < r.period {
			return Point{}, false
		}
		r.avgGain = r.sumGain / float64(r.period)
		r.avgLoss = r.sumLoss / float64(r.period)
		r.seeded = true
	} else {
		p := float64(r.period)
		r.avgGain = (r.avgGain*(p-1) + gain) / p
		r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	}

	r.last = Point{Value: r.value(), Timestamp: bar.Timestamp}
	return r.last, true
}

func (r *RSI) value() float64 {
	switch {
	case r.avgLoss == 0 && r.avgGain == 0:
		return 100
	case r.avgLoss == 0:
		return 100
	case r.avgGain == 0:
		return 0
	default:
		rs := r.avgGain / r.avgLoss
		return 100 - 100/(1+rs)
	}
}

// Current returns the last streaming value without advancing.
func (r *RSI) Current() (float64, bool) {
	if !r.seeded {
		return 0, false
	}
	return r.last.Value, true
}

// Reset clears all streaming state.
func (r *RSI) Reset() {
	r.hasPrev = false
	r.prevClose = 0
	r.changes = 0
	r.sumGain = 0
	r.sumLoss = 0
	r.avgGain = 0
	r.avgLoss = 0
	r.seeded = false
	r.last = Point{}
}
