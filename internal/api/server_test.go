package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stratlab/backtest-backend/internal/config"
	"github.com/stratlab/backtest-backend/internal/data"
	"github.com/stratlab/backtest-backend/internal/store"
	"github.com/stratlab/backtest-backend/internal/strategy"
	"github.com/stratlab/backtest-backend/internal/workers"
	"github.com/stratlab/backtest-backend/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	logger := zap.NewNop()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}

	dataStore, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	results, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { results.Close() })

	pool := workers.NewPool(logger, 2, 16)
	pool.Start()
	t.Cleanup(func() { pool.Stop(time.Second) })

	server := NewServer(logger, cfg, dataStore, results, strategy.NewRegistry(logger), pool)
	go server.hub.Run()
	t.Cleanup(server.hub.Stop)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return server, ts
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return body
}

func requestBars(n int, startPrice, step float64) []types.PriceBar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.PriceBar, n)
	price := startPrice
	for i := range bars {
		p := decimal.NewFromFloat(price)
		bars[i] = types.PriceBar{
			Timestamp: start.AddDate(0, 0, i),
			Open:      p, High: p, Low: p, Close: p,
			Volume: decimal.NewFromInt(1000),
		}
		price += step
	}
	return bars
}

func postBacktest(t *testing.T, ts *httptest.Server, req types.BacktestRequest) *http.Response {
	t.Helper()
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(ts.URL+"/api/v1/backtest/run", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func waitForStatus(t *testing.T, ts *httptest.Server, id, want string) map[string]any {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/api/v1/backtest/" + id)
		if err != nil {
			t.Fatal(err)
		}
		body := decodeBody(t, resp)
		if body["status"] == want {
			return body
		}
		select {
		case <-deadline:
			t.Fatalf("backtest %s never reached %q, last: %v", id, want, body)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "healthy" {
		t.Errorf("body = %v", body)
	}
}

func TestListStrategies(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/strategies")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	strategies, ok := body["strategies"].([]any)
	if !ok || len(strategies) != 2 {
		t.Fatalf("strategies = %v, want the two built-ins", body["strategies"])
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	_, ts := newTestServer(t)

	bars := requestBars(5, 100, 1)
	payload, _ := json.Marshal(bars)
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/data/history/aapl", bytes.NewReader(payload))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	get, err := http.Get(ts.URL + "/api/v1/data/history/AAPL?start=2024-01-01T00:00:00Z&end=2024-01-03T00:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, get)
	if body["count"].(float64) != 3 {
		t.Errorf("count = %v, want 3", body["count"])
	}

	symbols, err := http.Get(ts.URL + "/api/v1/data/symbols")
	if err != nil {
		t.Fatal(err)
	}
	symBody := decodeBody(t, symbols)
	list, _ := symBody["symbols"].([]any)
	if len(list) != 1 || list[0] != "AAPL" {
		t.Errorf("symbols = %v, want [AAPL]", symBody["symbols"])
	}
}

func TestHistoryBadDates(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/data/history/AAPL?start=notadate")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRunBacktestEndToEnd(t *testing.T) {
	_, ts := newTestServer(t)

	req := types.BacktestRequest{
		ID:             "bt-e2e",
		Symbol:         "AAPL",
		InitialCapital: decimal.NewFromInt(10000),
		Strategy: types.StrategyConfig{
			Type:       "sma_crossover",
			Parameters: map[string]float64{"shortPeriod": 2, "longPeriod": 4},
		},
		// Steep rise so the confidence-scaled order size is at least one
		// whole share.
		Bars: requestBars(30, 100, 10),
	}
	resp := postBacktest(t, ts, req)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	accepted := decodeBody(t, resp)
	if accepted["id"] != "bt-e2e" || accepted["status"] != "running" {
		t.Fatalf("accepted = %v", accepted)
	}

	body := waitForStatus(t, ts, "bt-e2e", "completed")
	result, ok := body["result"].(map[string]any)
	if !ok {
		t.Fatalf("completed body missing result: %v", body)
	}
	if result["symbol"] != "AAPL" || result["strategy"] != "sma_crossover" {
		t.Errorf("result identity = %v / %v", result["symbol"], result["strategy"])
	}

	trades, err := http.Get(ts.URL + "/api/v1/backtest/bt-e2e/trades")
	if err != nil {
		t.Fatal(err)
	}
	tradesBody := decodeBody(t, trades)
	if tradesBody["count"].(float64) < 1 {
		t.Errorf("expected at least one trade on a rising series, got %v", tradesBody["count"])
	}
}

func TestRunBacktestValidation(t *testing.T) {
	_, ts := newTestServer(t)

	cases := []struct {
		name string
		req  types.BacktestRequest
		want int
	}{
		{
			name: "missing symbol",
			req: types.BacktestRequest{
				InitialCapital: decimal.NewFromInt(10000),
				Strategy:       types.StrategyConfig{Type: "sma_crossover"},
			},
			want: http.StatusBadRequest,
		},
		{
			name: "non-positive capital",
			req: types.BacktestRequest{
				Symbol:   "AAPL",
				Strategy: types.StrategyConfig{Type: "sma_crossover"},
			},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown strategy",
			req: types.BacktestRequest{
				Symbol:         "AAPL",
				InitialCapital: decimal.NewFromInt(10000),
				Strategy:       types.StrategyConfig{Type: "nope"},
			},
			want: http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postBacktest(t, ts, tc.req)
			defer resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestRunBacktestDuplicateID(t *testing.T) {
	_, ts := newTestServer(t)

	req := types.BacktestRequest{
		ID:             "bt-dup",
		Symbol:         "AAPL",
		InitialCapital: decimal.NewFromInt(10000),
		Strategy:       types.StrategyConfig{Type: "rsi_reversion"},
		Bars:           requestBars(10, 100, -1),
	}
	first := postBacktest(t, ts, req)
	first.Body.Close()
	if first.StatusCode != http.StatusAccepted {
		t.Fatalf("first status = %d", first.StatusCode)
	}

	second := postBacktest(t, ts, req)
	defer second.Body.Close()
	if second.StatusCode != http.StatusConflict {
		t.Errorf("second status = %d, want 409", second.StatusCode)
	}
}

func TestGetBacktestNotFound(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/backtest/missing")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListAndDeleteResults(t *testing.T) {
	_, ts := newTestServer(t)

	for i := 0; i < 2; i++ {
		req := types.BacktestRequest{
			ID:             fmt.Sprintf("bt-%d", i),
			Symbol:         "MSFT",
			InitialCapital: decimal.NewFromInt(10000),
			Strategy:       types.StrategyConfig{Type: "rsi_reversion"},
			Bars:           requestBars(20, 100, 1),
		}
		resp := postBacktest(t, ts, req)
		resp.Body.Close()
		waitForStatus(t, ts, req.ID, "completed")
	}

	list, err := http.Get(ts.URL + "/api/v1/results?symbol=MSFT")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, list)
	if body["count"].(float64) != 2 {
		t.Fatalf("count = %v, want 2", body["count"])
	}

	del, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/results/bt-0", nil)
	resp, err := http.DefaultClient.Do(del)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	list, err = http.Get(ts.URL + "/api/v1/results?symbol=MSFT")
	if err != nil {
		t.Fatal(err)
	}
	body = decodeBody(t, list)
	if body["count"].(float64) != 1 {
		t.Errorf("count after delete = %v, want 1", body["count"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
