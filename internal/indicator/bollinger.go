package indicator

import (
	"fmt"
	"math"
	"time"

	"github.com/stratlab/backtest-backend/pkg/types"
)

// BollingerValue is one band observation: middle = SMA, upper/lower =
// middle +/- multiplier * population standard deviation of the window.
type BollingerValue struct {
	Timestamp time.Time `json:"timestamp"`
	Upper     float64   `json:"upper"`
	Middle    float64   `json:"middle"`
	Lower     float64   `json:"lower"`
}

// BollingerBands maintains running sum and sum-of-squares over a ring
// buffer so streaming updates stay O(1). Variance is clamped at zero to
// absorb negative rounding artifacts from E[x^2]-E[x]^2.
type BollingerBands struct {
	period     int
	multiplier float64
	window     []float64
	head       int
	count      int
	sum        float64
	sumSquares float64
	last       BollingerValue
	ready      bool
}

// NewBollingerBands creates bands over the given period and deviation
// multiplier (conventionally 20 and 2).
func NewBollingerBands(period int, multiplier float64) (*BollingerBands, error) {
	if period <= 0 {
		return nil, fmt.Errorf("bollinger: period must be positive, got %d", period)
	}
	if multiplier <= 0 {
		return nil, fmt.Errorf("bollinger: multiplier must be positive, got %g", multiplier)
	}
	return &BollingerBands{
		period:     period,
		multiplier: multiplier,
		window:     make([]float64, period),
	}, nil
}

// Period returns the configured window length.
func (b *BollingerBands) Period() int { return b.period }

// Compute is the stateless batch mode.
func (b *BollingerBands) Compute(bars []types.PriceBar) []BollingerValue {
	if len(bars) < b.period {
		return nil
	}
	out := make([]BollingerValue, 0, len(bars)-b.period+1)
	var sum, sumSquares float64
	for i, bar := range bars {
		c := closeOf(bar)
		sum += c
		sumSquares += c * c
		if i >= b.period {
			old := closeOf(bars[i-b.period])
			sum -= old
			sumSquares -= old * old
		}
		if i >= b.period-1 {
			out = append(out, b.bands(sum, sumSquares, bar.Timestamp))
		}
	}
	return out
}

// Update feeds one bar. Returns ok=false for the first period-1 bars.
func (b *BollingerBands) Update(bar types.PriceBar) (BollingerValue, bool) {
	c := closeOf(bar)
	old := b.window[b.head]
	b.sum += c - old
	b.sumSquares += c*c - old*old
	b.window[b.head] = c
	b.head = (b.head + 1) % b.period
	if b.count < b.period {
		b.count++
	}
	if b.count < b.period {
		return BollingerValue{}, false
	}
	b.last = b.bands(b.sum, b.sumSquares, bar.Timestamp)
	b.ready = true
	return b.last, true
}

func (b *BollingerBands) bands(sum, sumSquares float64, ts time.Time) BollingerValue {
	n := float64(b.period)
	mean := sum / n
	variance := sumSquares/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	dev := b.multiplier * math.Sqrt(variance)
	return BollingerValue{
		Timestamp: ts,
		Upper:     mean + dev,
		Middle:    mean,
		Lower:     mean - dev,
	}
}

// Current returns the last streaming value without advancing.
func (b *BollingerBands) Current() (BollingerValue, bool) {
	return b.last, b.ready
}

// Reset clears all streaming state.
func (b *BollingerBands) Reset() {
	for i := range b.window {
		b.window[i] = 0
	}
	b.head = 0
	b.count = 0
	b.sum = 0
	b.sumSquares = 0
	b.last = BollingerValue{}
	b.ready = false
}
