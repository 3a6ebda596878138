package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instrumentation for the server.
type Metrics struct {
	registry *prometheus.Registry

	BacktestsStarted   prometheus.Counter
	BacktestsCompleted prometheus.Counter
	BacktestsFailed    prometheus.Counter
	BacktestDuration   prometheus.Histogram
	BarsProcessed      prometheus.Counter
	ConnectedClients   prometheus.Gauge
	HTTPRequests       *prometheus.CounterVec
}

// NewMetrics creates and registers the server metrics on a private
// registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		BacktestsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "backtest_runs_started_total",
			Help: "Number of backtest runs accepted by the API.",
		}),
		BacktestsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "backtest_runs_completed_total",
			Help: "Number of backtest runs that finished successfully.",
		}),
		BacktestsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "backtest_runs_failed_total",
			Help: "Number of backtest runs that failed.",
		}),
		BacktestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_run_duration_seconds",
			Help:    "Wall-clock duration of backtest runs.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		BarsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "backtest_bars_processed_total",
			Help: "Total price bars replayed across all runs.",
		}),
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "websocket_connected_clients",
			Help: "Currently connected WebSocket clients.",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status class.",
		}, []string{"route", "method", "status"}),
	}
}

// Handler returns the /metrics scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
