package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgateway_turns_total",
			Help: "Total number of chat turns by outcome",
		},
		[]string{"provider", "model", "status"},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatgateway_turn_duration_seconds",
			Help:    "Chat turn duration in seconds, from request to end of stream",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider", "model"},
	)

	TimeToFirstToken = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatgateway_time_to_first_token_seconds",
			Help:    "Time from request to the first streamed delta",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
		[]string{"provider", "model"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgateway_tokens_total",
			Help: "Total number of tokens reconciled",
		},
		[]string{"provider", "model", "type"},
	)

	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgateway_cost_total",
			Help: "Total reconciled cost in account currency units",
		},
		[]string{"provider", "model"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgateway_provider_errors_total",
			Help: "Total number of provider errors",
		},
		[]string{"provider", "error_type"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgateway_rate_limit_hits_total",
			Help: "Total number of gateway rate limit rejections",
		},
		[]string{"endpoint"},
	)

	BudgetRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgateway_budget_rejections_total",
			Help: "Total number of turns rejected by the budget guard",
		},
		[]string{"reason"},
	)

	BudgetWarnings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatgateway_budget_warnings_total",
			Help: "Total number of turns allowed with a project budget warning",
		},
	)

	DialectDetections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgateway_dialect_detections_total",
			Help: "Dialect detections on auto turns",
		},
		[]string{"dialect", "confidence"},
	)

	ModelSubstitutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgateway_model_substitutions_total",
			Help: "Turns served by a different model than requested",
		},
		[]string{"requested", "substituted"},
	)

	MemoryFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgateway_memory_faults_total",
			Help: "Memory tier fetch failures",
		},
		[]string{"tier"},
	)

	StreamLinesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgateway_stream_lines_dropped_total",
			Help: "Provider stream lines dropped because they did not parse",
		},
		[]string{"format"},
	)

	UsageWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgateway_usage_write_failures_total",
			Help: "Usage reconciliation writes that failed",
		},
		[]string{"stage"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatgateway_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatgateway_active_streams",
			Help: "Number of active streaming turns",
		},
	)
)

func RecordTurn(provider, model, status string, durationSec float64) {
	TurnsTotal.WithLabelValues(provider, model, status).Inc()
	if provider != "" {
		TurnDuration.WithLabelValues(provider, model).Observe(durationSec)
	}
}

func RecordFirstToken(provider, model string, sec float64) {
	TimeToFirstToken.WithLabelValues(provider, model).Observe(sec)
}

func RecordTokens(provider, model string, inputTokens, outputTokens int) {
	TokensTotal.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	TokensTotal.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
}

func RecordCost(provider, model string, cost float64) {
	CostTotal.WithLabelValues(provider, model).Add(cost)
}

func RecordProviderError(provider, errorType string) {
	ProviderErrors.WithLabelValues(provider, errorType).Inc()
}

func RecordRateLimitHit(endpoint string) {
	RateLimitHits.WithLabelValues(endpoint).Inc()
}

func RecordBudgetRejection(reason string) {
	BudgetRejections.WithLabelValues(reason).Inc()
}

func RecordBudgetWarning() {
	BudgetWarnings.Inc()
}

func RecordDialect(dialect, confidence string) {
	DialectDetections.WithLabelValues(dialect, confidence).Inc()
}

func RecordModelSubstitution(requested, substituted string) {
	ModelSubstitutions.WithLabelValues(requested, substituted).Inc()
}

func RecordMemoryFault(tier string) {
	MemoryFaults.WithLabelValues(tier).Inc()
}

func RecordStreamLineDropped(format string) {
	StreamLinesDropped.WithLabelValues(format).Inc()
}

func RecordUsageWriteFailure(stage string) {
	UsageWriteFailures.WithLabelValues(stage).Inc()
}

func SetCircuitBreakerState(provider string, state int) {
	CircuitBreakerState.WithLabelValues(provider).Set(float64(state))
}

func IncrementActiveStreams() {
	ActiveStreams.Inc()
}

func DecrementActiveStreams() {
	ActiveStreams.Dec()
}
