package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the API server. Each Metrics has
// its own registry so several servers can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP and gRPC request counts and latency by route and status.
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Domain outcomes.
	Predictions     *prometheus.CounterVec
	Backtests       *prometheus.CounterVec
	BacktestTrades  prometheus.Histogram
	BacktestReturns prometheus.Histogram
}

// NewMetrics creates and registers all collectors, including the Go runtime
// and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictor_requests_total",
				Help: "Total API requests by transport, route and status",
			},
			[]string{"transport", "route", "status"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "predictor_request_duration_seconds",
				Help:    "API request latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"transport", "route"},
		),

		Predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictor_predictions_total",
				Help: "Predictions served by combined direction",
			},
			[]string{"direction"},
		),

		Backtests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictor_backtests_total",
				Help: "Backtest runs by result",
			},
			[]string{"result"},
		),

		BacktestTrades: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "predictor_backtest_trades",
				Help:    "Number of trades per completed backtest",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),

		BacktestReturns: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "predictor_backtest_total_return",
				Help:    "Total return per completed backtest",
				Buckets: []float64{-0.5, -0.25, -0.1, -0.05, 0, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Requests,
		m.RequestDuration,
		m.Predictions,
		m.Backtests,
		m.BacktestTrades,
		m.BacktestReturns,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
