// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/stratlab/backtest-backend/internal/backtester"
	"github.com/stratlab/backtest-backend/internal/config"
	"github.com/stratlab/backtest-backend/internal/data"
	"github.com/stratlab/backtest-backend/internal/portfolio"
	"github.com/stratlab/backtest-backend/internal/store"
	"github.com/stratlab/backtest-backend/internal/strategy"
	"github.com/stratlab/backtest-backend/internal/workers"
	"github.com/stratlab/backtest-backend/pkg/types"
	"github.com/stratlab/backtest-backend/pkg/utils"
)

// Server is the HTTP/WebSocket API server.
type Server struct {
	logger     *zap.Logger
	cfg        *config.Config
	router     *mux.Router
	httpServer *http.Server
	hub        *Hub
	metrics    *Metrics

	dataStore *data.Store
	results   store.ResultStore
	registry  *strategy.Registry
	pool      *workers.Pool

	mu   sync.RWMutex
	runs map[string]*runState
}

// runState tracks an accepted backtest across its lifetime. Completed
// runs keep only the status here; the result lives in the result store.
type runState struct {
	ID       string    `json:"id"`
	Symbol   string    `json:"symbol"`
	Strategy string    `json:"strategy"`
	Status   string    `json:"status"` // "running", "completed", "failed"
	Started  time.Time `json:"started"`
	Error    string    `json:"error,omitempty"`
}

// NewServer creates the API server and wires its routes.
func NewServer(logger *zap.Logger, cfg *config.Config, dataStore *data.Store, results store.ResultStore, registry *strategy.Registry, pool *workers.Pool) *Server {
	metrics := NewMetrics()
	s := &Server{
		logger:    logger,
		cfg:       cfg,
		router:    mux.NewRouter(),
		hub:       NewHub(logger, metrics),
		metrics:   metrics,
		dataStore: dataStore,
		results:   results,
		registry:  registry,
		pool:      pool,
		runs:      make(map[string]*runState),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/strategies", s.handleListStrategies).Methods("GET")

	s.router.HandleFunc("/api/v1/data/symbols", s.handleGetSymbols).Methods("GET")
	s.router.HandleFunc("/api/v1/data/history/{symbol}", s.handleGetHistory).Methods("GET")
	s.router.HandleFunc("/api/v1/data/history/{symbol}", s.handleSaveHistory).Methods("PUT")

	s.router.HandleFunc("/api/v1/backtest/run", s.handleRunBacktest).Methods("POST")
	s.router.HandleFunc("/api/v1/backtest/{id}", s.handleGetBacktest).Methods("GET")
	s.router.HandleFunc("/api/v1/backtest/{id}/trades", s.handleGetBacktestTrades).Methods("GET")

	s.router.HandleFunc("/api/v1/results", s.handleListResults).Methods("GET")
	s.router.HandleFunc("/api/v1/results/{id}", s.handleDeleteResult).Methods("DELETE")

	s.router.Handle("/metrics", s.metrics.Handler())
	s.router.HandleFunc("/ws", s.hub.ServeWS)
}

// Handler returns the full middleware-wrapped handler, exposed for
// tests.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Start runs the hub and blocks serving HTTP until Stop or a listener
// error.
func (s *Server) Start() error {
	go s.hub.Run()

	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", s.cfg.Addr()))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server and closes all WebSocket
// connections.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) countRequest(route, method string, status int) {
	s.metrics.HTTPRequests.WithLabelValues(route, method, fmt.Sprintf("%dxx", status/100)).Inc()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.countRequest("health", r.Method, http.StatusOK)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
		"pool":   s.pool.Stats(),
	})
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	s.countRequest("strategies", r.Method, http.StatusOK)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"strategies": s.registry.List(),
	})
}

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	s.countRequest("symbols", r.Method, http.StatusOK)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbols": s.dataStore.AvailableSymbols(),
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	start := time.Now().AddDate(-1, 0, 0)
	end := time.Now()
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.countRequest("history", r.Method, http.StatusBadRequest)
			s.writeError(w, http.StatusBadRequest, "invalid start date")
			return
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.countRequest("history", r.Method, http.StatusBadRequest)
			s.writeError(w, http.StatusBadRequest, "invalid end date")
			return
		}
		end = t
	}

	bars, err := s.dataStore.LoadBars(r.Context(), symbol, start, end)
	if err != nil {
		s.countRequest("history", r.Method, http.StatusInternalServerError)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.countRequest("history", r.Method, http.StatusOK)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol": utils.FormatSymbol(symbol),
		"bars":   bars,
		"count":  len(bars),
	})
}

func (s *Server) handleSaveHistory(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	var bars []types.PriceBar
	if err := json.NewDecoder(r.Body).Decode(&bars); err != nil {
		s.countRequest("history", r.Method, http.StatusBadRequest)
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.dataStore.SaveBars(symbol, bars); err != nil {
		s.countRequest("history", r.Method, http.StatusInternalServerError)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.countRequest("history", r.Method, http.StatusOK)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbol": utils.FormatSymbol(symbol),
		"count":  len(bars),
	})
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req types.BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.countRequest("backtest_run", r.Method, http.StatusBadRequest)
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Symbol = utils.FormatSymbol(req.Symbol)
	if req.Symbol == "" {
		s.countRequest("backtest_run", r.Method, http.StatusBadRequest)
		s.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if !req.InitialCapital.IsPositive() {
		s.countRequest("backtest_run", r.Method, http.StatusBadRequest)
		s.writeError(w, http.StatusBadRequest, "initial capital must be positive")
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	strat, err := s.registry.Create(req.Symbol, req.Strategy)
	if err != nil {
		s.countRequest("backtest_run", r.Method, http.StatusBadRequest)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	state := &runState{
		ID:       req.ID,
		Symbol:   req.Symbol,
		Strategy: strat.Name(),
		Status:   "running",
		Started:  time.Now(),
	}
	s.mu.Lock()
	if _, exists := s.runs[req.ID]; exists {
		s.mu.Unlock()
		s.countRequest("backtest_run", r.Method, http.StatusConflict)
		s.writeError(w, http.StatusConflict, "backtest already exists")
		return
	}
	s.runs[req.ID] = state
	s.mu.Unlock()

	if err := s.pool.SubmitFunc(func() error { return s.runBacktest(&req, strat) }); err != nil {
		s.mu.Lock()
		delete(s.runs, req.ID)
		s.mu.Unlock()
		s.countRequest("backtest_run", r.Method, http.StatusServiceUnavailable)
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.metrics.BacktestsStarted.Inc()
	s.countRequest("backtest_run", r.Method, http.StatusAccepted)
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"id":      req.ID,
		"status":  "running",
		"started": state.Started.Unix(),
	})
}

// runBacktest executes one accepted request on a pool worker.
func (s *Server) runBacktest(req *types.BacktestRequest, strat strategy.Strategy) error {
	started := time.Now()

	bars := req.Bars
	if len(bars) == 0 {
		loaded, err := s.dataStore.LoadBars(context.Background(), req.Symbol, req.StartDate, req.EndDate)
		if err != nil {
			s.finishRun(req.ID, fmt.Errorf("failed to load bars: %w", err))
			return err
		}
		bars = loaded
	}

	allocation := req.AllocationFraction
	if allocation <= 0 {
		allocation = s.cfg.Backtest.AllocationFraction
	}

	ledger := portfolio.NewLedger(req.InitialCapital)
	engine := backtester.NewEngine(s.logger, req.Symbol, ledger, strat, allocation)
	engine.SetProgressFunc(func(p types.BacktestProgress) {
		p.ID = req.ID
		s.hub.Broadcast(MsgTypeProgress, req.ID, p)
	})

	engine.Run(bars)
	result := engine.BuildResult(req.ID, req.InitialCapital)

	if err := s.results.SaveResult(context.Background(), &result); err != nil {
		s.finishRun(req.ID, fmt.Errorf("failed to save result: %w", err))
		return err
	}

	s.metrics.BacktestsCompleted.Inc()
	s.metrics.BacktestDuration.Observe(time.Since(started).Seconds())
	s.metrics.BarsProcessed.Add(float64(len(bars)))
	s.finishRun(req.ID, nil)
	s.hub.Broadcast(MsgTypeComplete, req.ID, result)
	return nil
}

func (s *Server) finishRun(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.runs[id]
	if !ok {
		return
	}
	if err != nil {
		state.Status = "failed"
		state.Error = err.Error()
		s.metrics.BacktestsFailed.Inc()
		s.logger.Error("Backtest failed", zap.String("id", id), zap.Error(err))
		s.hub.Broadcast(MsgTypeError, id, map[string]string{"id": id, "error": err.Error()})
		return
	}
	state.Status = "completed"
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	state, tracked := s.runs[id]
	var snapshot runState
	if tracked {
		snapshot = *state
	}
	s.mu.RUnlock()

	result, err := s.results.GetResult(r.Context(), id)
	if err != nil {
		s.countRequest("backtest_get", r.Method, http.StatusInternalServerError)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !tracked && result == nil {
		s.countRequest("backtest_get", r.Method, http.StatusNotFound)
		s.writeError(w, http.StatusNotFound, "backtest not found")
		return
	}

	response := map[string]any{"id": id}
	if tracked {
		response["status"] = snapshot.Status
		response["started"] = snapshot.Started.Unix()
		if snapshot.Error != "" {
			response["error"] = snapshot.Error
		}
	} else {
		response["status"] = "completed"
	}
	if result != nil {
		response["result"] = result
	}

	s.countRequest("backtest_get", r.Method, http.StatusOK)
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetBacktestTrades(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	result, err := s.results.GetResult(r.Context(), id)
	if err != nil {
		s.countRequest("backtest_trades", r.Method, http.StatusInternalServerError)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if result == nil {
		s.countRequest("backtest_trades", r.Method, http.StatusNotFound)
		s.writeError(w, http.StatusNotFound, "backtest not complete")
		return
	}

	s.countRequest("backtest_trades", r.Method, http.StatusOK)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"trades": result.Trades,
		"count":  len(result.Trades),
	})
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	symbol := utils.FormatSymbol(r.URL.Query().Get("symbol"))
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.countRequest("results", r.Method, http.StatusBadRequest)
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	results, err := s.results.ListResults(r.Context(), symbol, limit)
	if err != nil {
		s.countRequest("results", r.Method, http.StatusInternalServerError)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.countRequest("results", r.Method, http.StatusOK)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleDeleteResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.results.DeleteResult(r.Context(), id); err != nil {
		s.countRequest("results", r.Method, http.StatusInternalServerError)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.mu.Lock()
	delete(s.runs, id)
	s.mu.Unlock()

	s.countRequest("results", r.Method, http.StatusOK)
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}
