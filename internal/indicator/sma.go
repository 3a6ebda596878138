package indicator

import (
	"fmt"

	"github.com/stratlab/backtest-backend/pkg/types"
)

// DefaultSMAPeriod is the period used when callers do not configure one.
const DefaultSMAPeriod = 20

// SMA is a simple moving average over closing prices. Streaming updates
// maintain a running sum over a ring buffer of the last period closes.
type SMA struct {
	period int
	window []float64
	head   int
	count  int
	sum    float64
	last   Point
	ready  bool
}

// NewSMA creates an SMA with the given period.
func NewSMA(period int) (*SMA, error) {
	if period <= 0 {
		return nil, fmt.Errorf("sma: period must be positive, got %d", period)
	}
	return &SMA{
		period: period,
		window: make([]float64, period),
	}, nil
}

// Period returns the configured window length.
func (s *SMA) Period() int { return s.period }

// Compute is the stateless batch mode: one point per bar once the window
// is full, none before. It does not touch streaming state.
func (s *SMA) Compute(bars []types.PriceBar) []Point {
	if len(bars) < s.period {
		return nil
	}
	out := make([]Point, 0, len(bars)-s.period+1)
	var sum float64
	for i, bar := range bars {
		sum += closeOf(bar)
		if i >= s.period {
			sum -= closeOf(bars[i-s.period])
		}
		if i >= s.period-1 {
			out = append(out, Point{
				Value:     sum / float64(s.period),
				Timestamp: bar.Timestamp,
			})
		}
	}
	return out
}

// Update feeds one bar. Returns ok=false for the first period-1 bars.
func (s *SMA) Update(bar types.PriceBar) (Point, bool) {
	c := closeOf(bar)
	s.sum += c - s.window[s.head]
	s.window[s.head] = c
	s.head = (s.head + 1) % s.period
	if s.count < s.period {
		s.count++
	}
	if s.count < s.period {
		return Point{}, false
	}
	s.last = Point{Value: s.sum / float64(s.period), Timestamp: bar.Timestamp}
	s.ready = true
	return s.last, true
}

// Current returns the last streaming value without advancing.
func (s *SMA) Current() (float64, bool) {
	if !s.ready {
		return 0, false
	}
	return s.last.Value, true
}

// Reset clears all streaming state.
func (s *SMA) Reset() {
	for i := range s.window {
		s.window[i] = 0
	}
	s.head = 0
	s.count = 0
	s.sum = 0
	s.last = Point{}
	s.ready = false
}
