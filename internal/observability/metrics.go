package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts requests to each binary's own /healthz and
	// /metrics endpoints.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// PollerCyclesTotal counts completed poll cycles per recruiter.
	PollerCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_cycles_total",
			Help: "Total poll cycles run per recruiter",
		},
		[]string{"recruiter_id", "outcome"},
	)
	// NewResponsesFetched counts new candidate responses discovered by the poller.
	NewResponsesFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_new_responses_total",
			Help: "Total new responses fetched from the job board",
		},
		[]string{"recruiter_id"},
	)

	// DialogueTurnsTotal counts processed dialogue turns by outcome.
	DialogueTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processor_turns_total",
			Help: "Total dialogue turns processed",
		},
		[]string{"outcome"},
	)
	// DialogueTurnDuration records turn processing latency.
	DialogueTurnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "processor_turn_duration_seconds",
			Help:    "Dialogue turn processing duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		},
	)
	// DialoguesClaimed tracks the size of each SELECT ... FOR UPDATE SKIP LOCKED batch.
	DialoguesClaimed = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "processor_claim_batch_size",
			Help:    "Number of dialogues claimed per processor batch",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 40},
		},
	)

	// LLMRequestsTotal counts LLM chat completions by outcome.
	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total LLM chat completion requests",
		},
		[]string{"outcome"},
	)
	LLMRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
	)
	// LLMTokensTotal tracks token consumption by kind (input/cached/output).
	LLMTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens consumed",
		},
		[]string{"kind"},
	)
	// LLMCostTotal accumulates estimated spend in the ledger's currency units.
	LLMCostTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "llm_cost_total",
			Help: "Total estimated LLM spend debited from the balance ledger",
		},
	)
	// BalanceRemaining tracks the AppSettings single-row balance gauge.
	BalanceRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledger_balance_remaining",
			Help: "Remaining balance in the AppSettings ledger",
		},
	)

	// JobBoardRequestsTotal counts job board HTTP calls by endpoint and outcome.
	JobBoardRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobboard_requests_total",
			Help: "Total job board HTTP requests",
		},
		[]string{"endpoint", "outcome"},
	)
	// TokenRefreshTotal counts OAuth2 refresh attempts per recruiter.
	TokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobboard_token_refresh_total",
			Help: "Total OAuth2 token refresh attempts",
		},
		[]string{"recruiter_id", "outcome"},
	)

	// ReminderSentTotal counts dojim and interview reminders sent.
	ReminderSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_sent_total",
			Help: "Total reminders sent",
		},
		[]string{"kind"},
	)

	// NotificationsDeliveredTotal counts messenger notifications sent to reviewers.
	NotificationsDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_delivered_total",
			Help: "Total notifications delivered to the reviewer channel",
		},
		[]string{"queue", "outcome"},
	)
	// WatchdogRestartsTotal counts supervisor-triggered loop restarts.
	WatchdogRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_watchdog_restarts_total",
			Help: "Total times the watchdog restarted a stalled loop",
		},
		[]string{"loop"},
	)

	// CircuitBreakerStatus tracks circuit breaker state (0=closed, 1=open, 2=half-open).
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status",
		},
		[]string{"service", "operation"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
// Each binary calls it once at startup before serving /metrics.
func InitMetrics() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PollerCyclesTotal,
		NewResponsesFetched,
		DialogueTurnsTotal,
		DialogueTurnDuration,
		DialoguesClaimed,
		LLMRequestsTotal,
		LLMRequestDuration,
		LLMTokensTotal,
		LLMCostTotal,
		BalanceRemaining,
		JobBoardRequestsTotal,
		TokenRefreshTotal,
		ReminderSentTotal,
		NotificationsDeliveredTotal,
		WatchdogRestartsTotal,
		CircuitBreakerStatus,
	)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request to a
// binary's own healthz/metrics HTTP server.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// RecordCircuitBreakerStatus records circuit breaker state for a named service/operation pair.
func RecordCircuitBreakerStatus(service, operation string, status int) {
	CircuitBreakerStatus.WithLabelValues(service, operation).Set(float64(status))
}
