package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/studypilot/backend/pkg/circuitbreaker"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studypilot_query_duration_seconds",
			Help:    "End-to-end query duration in seconds, including thinking delay",
			Buckets: []float64{0.1, 0.5, 1, 1.5, 2, 3, 5, 10},
		},
		[]string{"stage"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studypilot_query_total",
			Help: "Total number of queries answered, by resolving stage",
		},
		[]string{"stage"},
	)

	ConfidenceScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studypilot_confidence_score",
			Help:    "Response confidence scores",
			Buckets: []float64{0.5, 0.6, 0.65, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1.0},
		},
		[]string{"stage"},
	)

	ThinkingDelay = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "studypilot_thinking_delay_seconds",
			Help:    "Simulated thinking delay applied to local answers",
			Buckets: []float64{0, 0.5, 0.8, 1, 1.25, 1.5, 1.75, 2, 3},
		},
	)

	PendingCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studypilot_pending_cancelled_total",
			Help: "Responses cancelled before their thinking delay elapsed",
		},
	)

	ResponsesDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studypilot_responses_discarded_total",
			Help: "Responses dropped because the conversation was reset while pending",
		},
	)

	CloudRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studypilot_cloud_requests_total",
			Help: "Cloud answerer requests",
		},
		[]string{"status"},
	)

	StatsWriteFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studypilot_stats_write_failures_total",
			Help: "Failed match statistics writes",
		},
		[]string{"backend"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "studypilot_active_sessions",
			Help: "Conversation sessions currently held in memory",
		},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "studypilot_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studypilot_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	initOnce sync.Once
)

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(QueryDuration)
		prometheus.MustRegister(QueryTotal)
		prometheus.MustRegister(ConfidenceScore)
		prometheus.MustRegister(ThinkingDelay)
		prometheus.MustRegister(PendingCancelled)
		prometheus.MustRegister(ResponsesDiscarded)
		prometheus.MustRegister(CloudRequests)
		prometheus.MustRegister(StatsWriteFailures)
		prometheus.MustRegister(ActiveSessions)
		prometheus.MustRegister(RateLimited)
		prometheus.MustRegister(BreakerState)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// ObserveBreaker is a circuitbreaker.Config.OnStateChange hook.
func ObserveBreaker(name string, _, to circuitbreaker.State) {
	BreakerState.WithLabelValues(name).Set(float64(to))
}
