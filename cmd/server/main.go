// Package main provides the entry point for the backtest backend
// server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stratlab/backtest-backend/internal/api"
	"github.com/stratlab/backtest-backend/internal/config"
	"github.com/stratlab/backtest-backend/internal/data"
	"github.com/stratlab/backtest-backend/internal/store"
	"github.com/stratlab/backtest-backend/internal/strategy"
	"github.com/stratlab/backtest-backend/internal/workers"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger := setupLogger(cfg.Logging.Level)
	defer logger.Sync()

	logger.Info("Starting backtest backend",
		zap.String("addr", cfg.Addr()),
		zap.String("dataDir", cfg.Storage.DataDir),
		zap.String("db", cfg.Storage.SQLitePath),
	)

	dataStore, err := data.NewStore(logger, cfg.Storage.DataDir)
	if err != nil {
		logger.Fatal("Failed to initialize data store", zap.Error(err))
	}

	results, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		logger.Fatal("Failed to open result store", zap.Error(err))
	}
	defer results.Close()

	registry := strategy.NewRegistry(logger)
	logger.Info("Registered strategies", zap.Strings("strategies", registry.List()))

	pool := workers.NewPool(logger, cfg.Backtest.Workers, cfg.Backtest.QueueSize)
	pool.Start()

	server := api.NewServer(logger, cfg, dataStore, results, registry, pool)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", zap.Error(err))
			sigChan <- syscall.SIGTERM
		}
	}()

	logger.Info("Server started",
		zap.String("http", fmt.Sprintf("http://%s/api/v1", cfg.Addr())),
		zap.String("ws", fmt.Sprintf("ws://%s/ws", cfg.Addr())),
	)

	<-sigChan
	logger.Info("Shutdown signal received")

	if err := pool.Stop(10 * time.Second); err != nil {
		logger.Error("Error stopping worker pool", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
