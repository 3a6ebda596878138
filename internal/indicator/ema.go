package indicator

import (
	"fmt"

	"github.com/stratlab/backtest-backend/pkg/types"
)

// emaCore is the EMA recurrence over raw float values. It is shared by
// the exported EMA and by MACD, which runs the recurrence both over
// closes and over its own MACD line.
type emaCore struct {
	period    int
	k         float64
	warmCount int
	warmSum   float64
	prev      float64
	ready     bool
}

func newEMACore(period int) emaCore {
	return emaCore{period: period, k: 2.0 / float64(period+1)}
}

// update feeds one value. The first period values seed the average with
// their SMA; afterwards the standard recurrence applies.
func (e *emaCore) update(v float64) (float64, bool) {
	if !e.ready {
		e.warmSum += v
		e.warmCount++
		if e.warmCount < e.period {
			return 0, false
		}
		e.prev = e.warmSum / float64(e.period)
		e.ready = true
		return e.prev, true
	}
	e.prev = (v-e.prev)*e.k + e.prev
	return e.prev, true
}

func (e *emaCore) reset() {
	e.warmCount = 0
	e.warmSum = 0
	e.prev = 0
	e.ready = false
}

// EMA is an exponential moving average over closing prices, seeded with
// the SMA of the first period closes.
type EMA struct {
	core emaCore
	last Point
}

// NewEMA creates an EMA with the given period.
func NewEMA(period int) (*EMA, error) {
	if period <= 0 {
		return nil, fmt.Errorf("ema: period must be positive, got %d", period)
	}
	return &EMA{core: newEMACore(period)}, nil
}

// Period returns the configured period.
func (e *EMA) Period() int { return e.core.period }

// Compute is the stateless batch mode. The first point is the SMA of the
// first period closes, stamped with that bar; each later bar applies the
// recurrence.
func (e *EMA) Compute(bars []types.PriceBar) []Point {
	if len(bars) < e.core.period {
		return nil
	}
	out := make([]Point, 0, len(bars)-e.core.period+1)
	core := newEMACore(e.core.period)
	for _, bar := range bars {
		if v, ok := core.update(closeOf(bar)); ok {
			out = append(out, Point{Value: v, Timestamp: bar.Timestamp})
		}
	}
	return out
}

// Update feeds one bar. Returns ok=false until period bars have arrived.
func (e *EMA) Update(bar types.PriceBar) (Point, bool) {
	v, ok := e.core.update(closeOf(bar))
	if !ok {
		return Point{}, false
	}
	e.last = Point{Value: v, Timestamp: bar.Timestamp}
	return e.last, true
}

// Current returns the last streaming value without advancing.
func (e *EMA) Current() (float64, bool) {
	if !e.core.ready {
		return 0, false
	}
	return e.last.Value, true
}

// Reset clears all streaming state.
func (e *EMA) Reset() {
	e.core.reset()
	e.last = Point{}
}
