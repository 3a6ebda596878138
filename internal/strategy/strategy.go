// Package strategy provides rule-based trading strategies for the
// backtest engine.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/stratlab/backtest-backend/internal/portfolio"
	"github.com/stratlab/backtest-backend/pkg/types"
)

// Strategy reacts to one bar at a time, with read-only visibility into
// the ledger, and produces a trading signal. OnBar must not execute
// trades; only the engine mutates the ledger.
type Strategy interface {
	Name() string
	OnBar(bar types.PriceBar, view portfolio.View) types.Signal
	Reset()
}

// Factory builds a strategy for a symbol from its configuration.
// Parameter validation happens here, not inside the bar loop.
type Factory func(symbol string, cfg types.StrategyConfig) (Strategy, error)

// Registry manages available strategy variants.
type Registry struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in strategies registered.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger:    logger,
		factories: make(map[string]Factory),
	}

	r.Register("sma_crossover", func(symbol string, cfg types.StrategyConfig) (Strategy, error) {
		return NewSMACrossover(symbol,
			intParam(cfg, "longPeriod", DefaultLongPeriod),
			intParam(cfg, "shortPeriod", DefaultShortPeriod),
		)
	})
	r.Register("rsi_reversion", func(symbol string, cfg types.StrategyConfig) (Strategy, error) {
		return NewRSIMeanReversion(symbol,
			intParam(cfg, "rsiPeriod", DefaultRSIPeriod),
			floatParam(cfg, "oversold", DefaultOversold),
			floatParam(cfg, "overbought", DefaultOverbought),
			intParam(cfg, "timeStopBars", DefaultTimeStopBars),
		)
	})

	return r
}

// Register adds a strategy factory under a type name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create builds a strategy instance for the given symbol and config.
func (r *Registry) Create(symbol string, cfg types.StrategyConfig) (Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown strategy type %q", cfg.Type)
	}
	return factory(symbol, cfg)
}

// List returns all registered strategy type names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func intParam(cfg types.StrategyConfig, key string, def int) int {
	if v, ok := cfg.Parameters[key]; ok {
		return int(v)
	}
	return def
}

func floatParam(cfg types.StrategyConfig, key string, def float64) float64 {
	if v, ok := cfg.Parameters[key]; ok {
		return v
	}
	return def
}

func hold(symbol string, bar types.PriceBar, reason string) types.Signal {
	return types.Signal{
		Action:    types.ActionHold,
		Symbol:    symbol,
		Reason:    reason,
		Timestamp: bar.Timestamp,
	}
}
