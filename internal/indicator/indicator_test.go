package indicator_test

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stratlab/backtest-backend/internal/indicator"
	"github.com/stratlab/backtest-backend/pkg/types"
)

func bars(closes ...float64) []types.PriceBar {
	out := make([]types.PriceBar, len(closes))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		d := decimal.NewFromFloat(c)
		out[i] = types.PriceBar{
			Timestamp: base.AddDate(0, 0, i),
			Open:      d,
			High:      d,
			Low:       d,
			Close:     d,
			Volume:    decimal.NewFromInt(1000),
		}
	}
	return out
}

func closeEnough(a, b float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b) <= 1e-9*scale
}

func TestSMACompute(t *testing.T) {
	sma, err := indicator.NewSMA(3)
	if err != nil {
		t.Fatalf("NewSMA: %v", err)
	}

	if got := sma.Compute(nil); got != nil {
		t.Errorf("empty input should produce no points, got %v", got)
	}
	if got := sma.Compute(bars(10, 20)); got != nil {
		t.Errorf("insufficient input should produce no points, got %v", got)
	}

	points := sma.Compute(bars(10, 20, 30))
	if len(points) != 1 {
		t.Fatalf("expected exactly one point, got %d", len(points))
	}
	if points[0].Value != 20 {
		t.Errorf("SMA(3) over [10,20,30] = %v, want 20", points[0].Value)
	}
	wantTS := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	if !points[0].Timestamp.Equal(wantTS) {
		t.Errorf("point stamped %v, want %v", points[0].Timestamp, wantTS)
	}

	points = sma.Compute(bars(10, 20, 30, 40, 50))
	want := []float64{20, 30, 40}
	if len(points) != len(want) {
		t.Fatalf("expected %d points, got %d", len(want), len(points))
	}
	for i, w := range want {
		if !closeEnough(points[i].Value, w) {
			t.Errorf("point %d = %v, want %v", i, points[i].Value, w)
		}
	}
}

func TestSMAStreaming(t *testing.T) {
	sma, _ := indicator.NewSMA(3)

	if _, ok := sma.Current(); ok {
		t.Error("Current should not be ready before any update")
	}

	series := bars(10, 20, 30, 40)
	for i, bar := range series[:2] {
		if _, ok := sma.Update(bar); ok {
			t.Errorf("bar %d should still be warming up", i)
		}
	}
	p, ok := sma.Update(series[2])
	if !ok || p.Value != 20 {
		t.Errorf("third bar = (%v, %v), want (20, true)", p.Value, ok)
	}
	p, ok = sma.Update(series[3])
	if !ok || p.Value != 30 {
		t.Errorf("fourth bar = (%v, %v), want (30, true)", p.Value, ok)
	}
	if v, ok := sma.Current(); !ok || v != 30 {
		t.Errorf("Current = (%v, %v), want (30, true)", v, ok)
	}
}

func TestEMASeedAndRecurrence(t *testing.T) {
	ema, err := indicator.NewEMA(3)
	if err != nil {
		t.Fatalf("NewEMA: %v", err)
	}

	points := ema.Compute(bars(10, 20, 30))
	if len(points) != 1 || points[0].Value != 20 {
		t.Fatalf("EMA(3) seed over [10,20,30] = %v, want single point 20", points)
	}

	// k = 2/(3+1) = 0.5, so the next value is (40-20)*0.5 + 20 = 30.
	points = ema.Compute(bars(10, 20, 30, 40))
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if !closeEnough(points[1].Value, 30) {
		t.Errorf("second EMA value = %v, want 30", points[1].Value)
	}
}

func TestRSIBoundaries(t *testing.T) {
	cases := []struct {
		name   string
		closes []float64
		want   float64
	}{
		{"all gains", []float64{1, 2, 3, 4, 5, 6, 7}, 100},
		{"all losses", []float64{7, 6, 5, 4, 3, 2, 1}, 0},
		{"flat", []float64{5, 5, 5, 5, 5, 5, 5}, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rsi, err := indicator.NewRSI(5)
			if err != nil {
				t.Fatalf("NewRSI: %v", err)
			}
			points := rsi.Compute(bars(tc.closes...))
			if len(points) == 0 {
				t.Fatal("expected at least one point")
			}
			last := points[len(points)-1].Value
			if !closeEnough(last, tc.want) {
				t.Errorf("RSI = %v, want %v", last, tc.want)
			}
		})
	}
}

func TestRSIWarmup(t *testing.T) {
	rsi, _ := indicator.NewRSI(3)

	// Needs period changes, so period+1 bars for the first value.
	series := bars(10, 11, 12, 13)
	for i, bar := range series[:3] {
		if _, ok := rsi.Update(bar); ok {
			t.Errorf("bar %d should still be warming up", i)
		}
	}
	if _, ok := rsi.Update(series[3]); !ok {
		t.Error("fourth bar should produce the first RSI value")
	}
}

func TestRSIWilderSmoothing(t *testing.T) {
	// Period 2 over closes 10, 12, 11, 14:
	// changes +2, -1, +3. Seed: avgGain=1, avgLoss=0.5 -> RSI ~66.667.
	// Next: avgGain=(1*1+3)/2=2, avgLoss=(0.5*1+0)/2=0.25 -> RSI ~88.889.
	rsi, _ := indicator.NewRSI(2)
	points := rsi.Compute(bars(10, 12, 11, 14))
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if !closeEnough(points[0].Value, 100.0-100.0/(1.0+2.0)) {
		t.Errorf("seed RSI = %v, want %v", points[0].Value, 100.0-100.0/3.0)
	}
	if !closeEnough(points[1].Value, 100.0-100.0/(1.0+8.0)) {
		t.Errorf("smoothed RSI = %v, want %v", points[1].Value, 100.0-100.0/9.0)
	}
}

func TestMACDLines(t *testing.T) {
	macd, err := indicator.NewMACD(2, 3, 2)
	if err != nil {
		t.Fatalf("NewMACD: %v", err)
	}

	series := bars(10, 20, 30, 40, 50, 60)
	got := macd.Compute(series)

	fast, _ := indicator.NewEMA(2)
	slow, _ := indicator.NewEMA(3)
	fastPts := fast.Compute(series)
	slowPts := slow.Compute(series)

	// MACD line starts when the slow EMA is seeded.
	if len(got.MACDLine) != len(slowPts) {
		t.Fatalf("MACD line length %d, want %d", len(got.MACDLine), len(slowPts))
	}
	offset := len(fastPts) - len(slowPts)
	for i, p := range got.MACDLine {
		want := fastPts[i+offset].Value - slowPts[i].Value
		if !closeEnough(p.Value, want) {
			t.Errorf("MACD[%d] = %v, want %v", i, p.Value, want)
		}
	}

	// Histogram = MACD - signal wherever the signal line exists.
	if len(got.SignalLine) != len(got.Histogram) {
		t.Fatalf("signal and histogram lengths differ: %d vs %d",
			len(got.SignalLine), len(got.Histogram))
	}
	macdOffset := len(got.MACDLine) - len(got.SignalLine)
	for i := range got.SignalLine {
		want := got.MACDLine[i+macdOffset].Value - got.SignalLine[i].Value
		if !closeEnough(got.Histogram[i].Value, want) {
			t.Errorf("histogram[%d] = %v, want %v", i, got.Histogram[i].Value, want)
		}
	}
}

func TestBollingerBands(t *testing.T) {
	bb, err := indicator.NewBollingerBands(3, 2)
	if err != nil {
		t.Fatalf("NewBollingerBands: %v", err)
	}

	// Flat series: zero deviation, all bands equal.
	vals := bb.Compute(bars(50, 50, 50, 50))
	if len(vals) != 2 {
		t.Fatalf("expected 2 values, got %d", len(vals))
	}
	for _, v := range vals {
		if v.Upper != 50 || v.Middle != 50 || v.Lower != 50 {
			t.Errorf("flat series bands = %+v, want all 50", v)
		}
	}

	// [10,20,30]: mean 20, population stddev sqrt(200/3).
	vals = bb.Compute(bars(10, 20, 30))
	if len(vals) != 1 {
		t.Fatalf("expected 1 value, got %d", len(vals))
	}
	dev := 2 * math.Sqrt(200.0/3.0)
	if !closeEnough(vals[0].Middle, 20) {
		t.Errorf("middle = %v, want 20", vals[0].Middle)
	}
	if !closeEnough(vals[0].Upper, 20+dev) {
		t.Errorf("upper = %v, want %v", vals[0].Upper, 20+dev)
	}
	if !closeEnough(vals[0].Lower, 20-dev) {
		t.Errorf("lower = %v, want %v", vals[0].Lower, 20-dev)
	}
}

// Batch and streaming modes must agree on overlapping output for every
// indicator.
func TestBatchStreamingAgreement(t *testing.T) {
	closes := []float64{
		100, 101.5, 99.2, 103.7, 104.1, 102.8, 106.3, 105.0, 107.9, 103.2,
		101.1, 108.6, 110.2, 109.4, 111.0, 108.8, 112.5, 114.1, 113.3, 116.0,
		115.2, 117.8, 116.4, 119.0, 118.1,
	}
	series := bars(closes...)

	t.Run("sma", func(t *testing.T) {
		sma, _ := indicator.NewSMA(5)
		batch := sma.Compute(series)
		var stream []indicator.Point
		for _, bar := range series {
			if p, ok := sma.Update(bar); ok {
				stream = append(stream, p)
			}
		}
		comparePoints(t, batch, stream)
	})

	t.Run("ema", func(t *testing.T) {
		ema, _ := indicator.NewEMA(5)
		batch := ema.Compute(series)
		var stream []indicator.Point
		for _, bar := range series {
			if p, ok := ema.Update(bar); ok {
				stream = append(stream, p)
			}
		}
		comparePoints(t, batch, stream)
	})

	t.Run("rsi", func(t *testing.T) {
		rsi, _ := indicator.NewRSI(5)
		batch := rsi.Compute(series)
		var stream []indicator.Point
		for _, bar := range series {
			if p, ok := rsi.Update(bar); ok {
				stream = append(stream, p)
			}
		}
		comparePoints(t, batch, stream)
	})

	t.Run("macd", func(t *testing.T) {
		macd, _ := indicator.NewMACD(3, 7, 4)
		batch := macd.Compute(series)
		var line, hist []indicator.Point
		for _, bar := range series {
			v, ok := macd.Update(bar)
			if !ok {
				continue
			}
			line = append(line, indicator.Point{Value: v.MACD, Timestamp: v.Timestamp})
			if v.HasSignal {
				hist = append(hist, indicator.Point{Value: v.Histogram, Timestamp: v.Timestamp})
			}
		}
		comparePoints(t, batch.MACDLine, line)
		comparePoints(t, batch.Histogram, hist)
	})

	t.Run("bollinger", func(t *testing.T) {
		bb, _ := indicator.NewBollingerBands(5, 2)
		batch := bb.Compute(series)
		var stream []indicator.BollingerValue
		for _, bar := range series {
			if v, ok := bb.Update(bar); ok {
				stream = append(stream, v)
			}
		}
		if len(batch) != len(stream) {
			t.Fatalf("batch %d values, stream %d", len(batch), len(stream))
		}
		for i := range batch {
			if !closeEnough(batch[i].Upper, stream[i].Upper) ||
				!closeEnough(batch[i].Middle, stream[i].Middle) ||
				!closeEnough(batch[i].Lower, stream[i].Lower) {
				t.Errorf("value %d: batch %+v, stream %+v", i, batch[i], stream[i])
			}
		}
	})
}

func comparePoints(t *testing.T, batch, stream []indicator.Point) {
	t.Helper()
	if len(batch) != len(stream) {
		t.Fatalf("batch %d points, stream %d", len(batch), len(stream))
	}
	for i := range batch {
		if !closeEnough(batch[i].Value, stream[i].Value) {
			t.Errorf("point %d: batch %v, stream %v", i, batch[i].Value, stream[i].Value)
		}
		if !batch[i].Timestamp.Equal(stream[i].Timestamp) {
			t.Errorf("point %d: batch stamped %v, stream %v", i, batch[i].Timestamp, stream[i].Timestamp)
		}
	}
}

// Reset must make an instance behave identically to a fresh one.
func TestResetBehavesLikeNew(t *testing.T) {
	series := bars(10, 20, 30, 40, 50, 45, 55, 60, 52, 58)

	run := func(ind indicator.Indicator) []indicator.Point {
		var out []indicator.Point
		for _, bar := range series {
			if p, ok := ind.Update(bar); ok {
				out = append(out, p)
			}
		}
		return out
	}

	indicators := map[string]indicator.Indicator{}
	sma, _ := indicator.NewSMA(4)
	ema, _ := indicator.NewEMA(4)
	rsi, _ := indicator.NewRSI(4)
	indicators["sma"] = sma
	indicators["ema"] = ema
	indicators["rsi"] = rsi

	for name, ind := range indicators {
		t.Run(name, func(t *testing.T) {
			first := run(ind)
			ind.Reset()
			if _, ok := ind.Current(); ok {
				t.Error("Current should not be ready after Reset")
			}
			second := run(ind)
			comparePoints(t, first, second)
		})
	}
}

func TestConstructorValidation(t *testing.T) {
	if _, err := indicator.NewSMA(0); err == nil {
		t.Error("NewSMA(0) should fail")
	}
	if _, err := indicator.NewEMA(-1); err == nil {
		t.Error("NewEMA(-1) should fail")
	}
	if _, err := indicator.NewRSI(0); err == nil {
		t.Error("NewRSI(0) should fail")
	}
	if _, err := indicator.NewMACD(26, 12, 9); err == nil {
		t.Error("NewMACD with fast >= slow should fail")
	}
	if _, err := indicator.NewBollingerBands(20, 0); err == nil {
		t.Error("NewBollingerBands with zero multiplier should fail")
	}
}
