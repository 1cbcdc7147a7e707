// Package metrics exposes Prometheus collectors for the forecasting
// pipeline and trading simulation: one struct holding every *Vec collector,
// a constructor that registers them all against a private registry, and
// thin Record*/Update* helper methods so call sites never touch a
// prometheus type directly. Session/order/trade IDs are never used as label
// values (unbounded cardinality); labels are restricted to small fixed
// vocabularies (phase, forecaster_class, side, status, trader_type,
// error_type).
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects every counter/histogram/gauge this service exposes.
type Metrics struct {
	registry *prometheus.Registry

	// Forecasting pipeline
	AgentLogsTotal     *prometheus.CounterVec
	AgentLatency       *prometheus.HistogramVec
	LLMErrorsTotal     *prometheus.CounterVec
	LLMRetries         *prometheus.CounterVec
	ForecastsTotal     *prometheus.CounterVec
	ForecastConfidence *prometheus.HistogramVec
	SessionsTotal      *prometheus.CounterVec
	SessionDuration    *prometheus.HistogramVec

	// Trading simulation
	OrdersTotal       *prometheus.CounterVec
	TradesTotal       *prometheus.CounterVec
	TradeVolume       *prometheus.CounterVec
	MatchDuration     prometheus.Histogram
	SchedulerRounds   *prometheus.CounterVec
	TraderSkipsTotal  *prometheus.CounterVec
	ActiveTradingRuns prometheus.Gauge
}

// New constructs a Metrics instance with every collector registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		AgentLogsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_agent_logs_total",
				Help: "Total worker completions by phase and terminal status.",
			},
			[]string{"phase", "status"},
		),
		AgentLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forecastmarket_agent_latency_seconds",
				Help:    "Worker wall-clock time from dispatch to terminal state.",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 12), // 250ms to ~512s
			},
			[]string{"phase"},
		),
		LLMErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_llm_errors_total",
				Help: "LLM completion failures by phase and error class.",
			},
			[]string{"phase", "error_type"},
		),
		LLMRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_llm_retries_total",
				Help: "Backoff retry attempts by phase.",
			},
			[]string{"phase"},
		),
		ForecastsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_forecasts_total",
				Help: "Completed ForecasterResponse rows by forecaster_class.",
			},
			[]string{"forecaster_class"},
		),
		ForecastConfidence: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forecastmarket_forecast_confidence",
				Help:    "Synthesis confidence (0-1) by forecaster_class.",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
			[]string{"forecaster_class"},
		),
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_sessions_total",
				Help: "Sessions reaching a terminal status.",
			},
			[]string{"status"},
		),
		SessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forecastmarket_session_duration_seconds",
				Help:    "Session wall-clock time from started_at to completed_at.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~2048s
			},
			[]string{"status"},
		),

		OrdersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_orders_total",
				Help: "Orders inserted by side.",
			},
			[]string{"side"},
		),
		TradesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_trades_total",
				Help: "Trades produced by the matching engine.",
			},
			[]string{},
		),
		TradeVolume: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_trade_volume_contracts",
				Help: "Total matched quantity in contracts.",
			},
			[]string{},
		),
		MatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "forecastmarket_match_duration_seconds",
				Help:    "Time to walk the book to fixpoint in one Match/PlaceMMQuotes call.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
			},
		),
		SchedulerRounds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_scheduler_rounds_total",
				Help: "Round scheduler ticks completed.",
			},
			[]string{},
		),
		TraderSkipsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forecastmarket_trader_skips_total",
				Help: "Rounds skipped by a trader due to an in-flight previous-round quote (spec back-pressure rule).",
			},
			[]string{"trader_type"},
		),
		ActiveTradingRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "forecastmarket_active_trading_runs",
				Help: "Number of sessions currently running the round scheduler.",
			},
		),
	}

	registry.MustRegister(
		m.AgentLogsTotal,
		m.AgentLatency,
		m.LLMErrorsTotal,
		m.LLMRetries,
		m.ForecastsTotal,
		m.ForecastConfidence,
		m.SessionsTotal,
		m.SessionDuration,
		m.OrdersTotal,
		m.TradesTotal,
		m.TradeVolume,
		m.MatchDuration,
		m.SchedulerRounds,
		m.TraderSkipsTotal,
		m.ActiveTradingRuns,
	)

	return m
}

// Registry returns the collector registry backing /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAgentLog records one worker's terminal transition.
func (m *Metrics) RecordAgentLog(phase, status string, durationSec float64) {
	m.AgentLogsTotal.WithLabelValues(phase, status).Inc()
	if durationSec > 0 {
		m.AgentLatency.WithLabelValues(phase).Observe(durationSec)
	}
}

// RecordLLMError records an LLM completion failure.
func (m *Metrics) RecordLLMError(phase, errorType string) {
	m.LLMErrorsTotal.WithLabelValues(phase, errorType).Inc()
}

// RecordLLMRetry records one backoff retry attempt.
func (m *Metrics) RecordLLMRetry(phase string) {
	m.LLMRetries.WithLabelValues(phase).Inc()
}

// RecordForecast records a completed synthesis response.
func (m *Metrics) RecordForecast(class string, confidence float64) {
	m.ForecastsTotal.WithLabelValues(class).Inc()
	if confidence >= 0 {
		m.ForecastConfidence.WithLabelValues(class).Observe(confidence)
	}
}

// RecordSession records a session reaching a terminal status.
func (m *Metrics) RecordSession(status string, durationSec float64) {
	m.SessionsTotal.WithLabelValues(status).Inc()
	if durationSec > 0 {
		m.SessionDuration.WithLabelValues(status).Observe(durationSec)
	}
}

// RecordOrder records one order insertion.
func (m *Metrics) RecordOrder(side string) {
	m.OrdersTotal.WithLabelValues(side).Inc()
}

// RecordMatch records one Match/PlaceMMQuotes call's outcome.
func (m *Metrics) RecordMatch(tradesCount, volume int, durationSec float64) {
	if tradesCount > 0 {
		m.TradesTotal.WithLabelValues().Add(float64(tradesCount))
		m.TradeVolume.WithLabelValues().Add(float64(volume))
	}
	m.MatchDuration.Observe(durationSec)
}

// RecordRound records one completed scheduler round.
func (m *Metrics) RecordRound() {
	m.SchedulerRounds.WithLabelValues().Inc()
}

// RecordTraderSkip records a trader skipped by the back-pressure rule.
func (m *Metrics) RecordTraderSkip(traderType string) {
	m.TraderSkipsTotal.WithLabelValues(traderType).Inc()
}

// SetActiveTradingRuns sets the current count of running schedulers.
func (m *Metrics) SetActiveTradingRuns(n int) {
	m.ActiveTradingRuns.Set(float64(n))
}

// Default returns the process-wide Metrics instance, built once via
// sync.Once for callers that don't already have one threaded through as a
// constructor argument.
var (
	defaultMetrics *Metrics
	once           sync.Once
)

func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}
