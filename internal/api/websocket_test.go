package api

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/stratlab/backtest-backend/pkg/types"
)

func TestWebSocketReceivesCompletionEvent(t *testing.T) {
	_, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	req := types.BacktestRequest{
		ID:             "bt-ws",
		Symbol:         "AAPL",
		InitialCapital: decimal.NewFromInt(10000),
		Strategy:       types.StrategyConfig{Type: "rsi_reversion"},
		Bars:           requestBars(10, 100, 1),
	}
	resp := postBacktest(t, ts, req)
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("no completion event received: %v", err)
		}
		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type != MsgTypeComplete {
			continue
		}
		if msg.Channel != "bt-ws" {
			t.Errorf("channel = %s, want bt-ws", msg.Channel)
		}
		var result types.BacktestResult
		if err := json.Unmarshal(msg.Data, &result); err != nil {
			t.Fatal(err)
		}
		if result.ID != "bt-ws" || result.Symbol != "AAPL" {
			t.Errorf("result = %s/%s", result.ID, result.Symbol)
		}
		return
	}
}

func TestWebSocketSubscriptionFiltersEvents(t *testing.T) {
	_, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(WSMessage{Type: MsgTypeSubscribe, Channel: "bt-sub-target"}); err != nil {
		t.Fatal(err)
	}
	// Give the read pump a moment to register the subscription before
	// any events are broadcast.
	time.Sleep(100 * time.Millisecond)

	other := types.BacktestRequest{
		ID:             "bt-sub-other",
		Symbol:         "AAPL",
		InitialCapital: decimal.NewFromInt(10000),
		Strategy:       types.StrategyConfig{Type: "rsi_reversion"},
		Bars:           requestBars(10, 100, 1),
	}
	resp := postBacktest(t, ts, other)
	resp.Body.Close()
	waitForStatus(t, ts, "bt-sub-other", "completed")

	target := other
	target.ID = "bt-sub-target"
	resp = postBacktest(t, ts, target)
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("no event for subscribed channel: %v", err)
		}
		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Channel != "bt-sub-target" {
			t.Fatalf("received event for channel %q, want only bt-sub-target", msg.Channel)
		}
		if msg.Type == MsgTypeComplete {
			return
		}
	}
}

func TestWebSocketProgressEvents(t *testing.T) {
	_, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// 600 bars crosses the progress reporting interval at least twice.
	req := types.BacktestRequest{
		ID:             "bt-progress",
		Symbol:         "AAPL",
		InitialCapital: decimal.NewFromInt(10000),
		Strategy:       types.StrategyConfig{Type: "rsi_reversion"},
		Bars:           requestBars(600, 100, 0.1),
	}
	resp := postBacktest(t, ts, req)
	resp.Body.Close()

	sawProgress := false
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed before completion: %v", err)
		}
		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatal(err)
		}
		switch msg.Type {
		case MsgTypeProgress:
			var progress types.BacktestProgress
			if err := json.Unmarshal(msg.Data, &progress); err != nil {
				t.Fatal(err)
			}
			if progress.ID != "bt-progress" || progress.TotalBars != 600 {
				t.Errorf("progress = %+v", progress)
			}
			sawProgress = true
		case MsgTypeComplete:
			if !sawProgress {
				t.Error("expected progress events before completion")
			}
			return
		}
	}
}
