package indicator

import (
	"fmt"
	"time"

	"github.com/stratlab/backtest-backend/pkg/types"
)

// MACDValue is one MACD observation. The MACD line becomes available
// once the slow EMA is seeded; the signal line and histogram warm up on
// top of it and are valid only when HasSignal is set.
type MACDValue struct {
	Timestamp time.Time `json:"timestamp"`
	MACD      float64   `json:"macd"`
	Signal    float64   `json:"signal"`
	Histogram float64   `json:"histogram"`
	HasSignal bool      `json:"hasSignal"`
}

// MACDSeries is the batch output: the three lines, each starting at its
// own warm-up point.
type MACDSeries struct {
	MACDLine   []Point `json:"macdLine"`
	SignalLine []Point `json:"signalLine"`
	Histogram  []Point `json:"histogram"`
}

// MACD is moving average convergence/divergence: fast EMA minus slow EMA
// of closes, with a signal EMA applied to the MACD line itself.
type MACD struct {
	fast   emaCore
	slow   emaCore
	signal emaCore
	last   MACDValue
	ready  bool
}

// NewMACD creates a MACD with the given fast, slow, and signal periods
// (conventionally 12/26/9).
func NewMACD(fastPeriod, slowPeriod, signalPeriod int) (*MACD, error) {
	if fastPeriod <= 0 || slowPeriod <= 0 || signalPeriod <= 0 {
		return nil, fmt.Errorf("macd: periods must be positive, got %d/%d/%d",
			fastPeriod, slowPeriod, signalPeriod)
	}
	if fastPeriod >= slowPeriod {
		return nil, fmt.Errorf("macd: fast period %d must be below slow period %d",
			fastPeriod, slowPeriod)
	}
	return &MACD{
		fast:   newEMACore(fastPeriod),
		slow:   newEMACore(slowPeriod),
		signal: newEMACore(signalPeriod),
	}, nil
}

// Compute is the stateless batch mode.
func (m *MACD) Compute(bars []types.PriceBar) MACDSeries {
	var series MACDSeries
	fresh, _ := NewMACD(m.fast.period, m.slow.period, m.signal.period)
	for _, bar := range bars {
		v, ok := fresh.Update(bar)
		if !ok {
			continue
		}
		series.MACDLine = append(series.MACDLine, Point{Value: v.MACD, Timestamp: v.Timestamp})
		if v.HasSignal {
			series.SignalLine = append(series.SignalLine, Point{Value: v.Signal, Timestamp: v.Timestamp})
			series.Histogram = append(series.Histogram, Point{Value: v.Histogram, Timestamp: v.Timestamp})
		}
	}
	return series
}

// Update feeds one bar. Returns ok=false until the slow EMA is seeded.
func (m *MACD) Update(bar types.PriceBar) (MACDValue, bool) {
	c := closeOf(bar)
	fastV, fastOK := m.fast.update(c)
	slowV, slowOK := m.slow.update(c)
	if !fastOK || !slowOK {
		return MACDValue{}, false
	}

	v := MACDValue{Timestamp: bar.Timestamp, MACD: fastV - slowV}
	if sigV, ok := m.signal.update(v.MACD); ok {
		v.Signal = sigV
		v.Histogram = v.MACD - sigV
		v.HasSignal = true
	}
	m.last = v
	m.ready = true
	return v, true
}

// Current returns the last streaming value without advancing.
func (m *MACD) Current() (MACDValue, bool) {
	return m.last, m.ready
}

// Reset clears all streaming state.
func (m *MACD) Reset() {
	m.fast.reset()
	m.slow.reset()
	m.signal.reset()
	m.last = MACDValue{}
	m.ready = false
}
