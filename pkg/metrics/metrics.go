package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CoalescerEditsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coalescer_edits_total",
			Help: "Total number of edits handed to a coalescer, by outcome (scheduled, coalesced) (count)",
		},
		[]string{"coalescer", "outcome"},
	)

	CoalescerCommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coalescer_commits_total",
			Help: "Total number of commits fired by a coalescer, by trigger and status (count)",
		},
		[]string{"coalescer", "trigger", "status"},
	)

	CoalescerCancelledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coalescer_cancelled_total",
			Help: "Total number of pending commits dropped without firing (count)",
		},
		[]string{"coalescer"},
	)

	CoalescerPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coalescer_pending",
			Help: "Number of identities with a scheduled commit (count)",
		},
		[]string{"coalescer"},
	)

	CoalescerCommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coalescer_commit_duration_ms",
			Help:    "Duration of coalesced commits in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"coalescer", "status"},
	)

	FilterDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filter_duration_ms",
			Help:    "Duration of in-memory filter passes in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100},
		},
		[]string{"collection"},
	)

	CollectionSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "collection_size",
			Help: "Number of records held in memory per collection (count)",
		},
		[]string{"collection"},
	)

	BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_requests_total",
			Help: "Total number of requests sent to the platform backend (count)",
		},
		[]string{"operation", "status"},
	)

	BackendRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_request_duration_ms",
			Help:    "Duration of platform backend requests in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"operation"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"component", "operation"},
	)

	ReviewEditsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_edits_total",
			Help: "Total number of organizer edits applied locally (count)",
		},
		[]string{"field"},
	)

	ReviewRollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "review_rollbacks_total",
			Help: "Total number of optimistic edits rolled back after a failed commit (count)",
		},
	)

	NoticesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notices_total",
			Help: "Total number of notices reported to the user (count)",
		},
		[]string{"severity"},
	)

	BrokerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_total",
			Help: "Total number of broker messages by direction and status (count)",
		},
		[]string{"topic", "direction", "status"},
	)

	DeduplicateMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deduplicate_messages_total",
			Help: "Total number of consumed messages checked for redelivery (count)",
		},
		[]string{"status"},
	)

	DedupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dedup_duration_ms",
			Help:    "Duration of the redelivery check (milliseconds)",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times a fallback decision was taken (count)",
		},
		[]string{"component", "fallback"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)
)

// Register adds every collector to the default registry. Collectors that
// are already registered are skipped, so Register is safe to call twice.
func Register() error {
	collectors := []prometheus.Collector{
		CoalescerEditsTotal,
		CoalescerCommitsTotal,
		CoalescerCancelledTotal,
		CoalescerPending,
		CoalescerCommitDuration,
		FilterDuration,
		CollectionSize,
		BackendRequestsTotal,
		BackendRequestDuration,
		RetryAttemptsTotal,
		ReviewEditsTotal,
		ReviewRollbacksTotal,
		NoticesTotal,
		BrokerMessagesTotal,
		DeduplicateMessagesTotal,
		DedupDuration,
		FallbackUsageTotal,
		CircuitBreakerState,
		CircuitBreakerRequests,
		CircuitBreakerFailures,
		RateLimitRequestsTotal,
	}

	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func ObserveFilterDuration(collection string, d time.Duration) {
	FilterDuration.WithLabelValues(collection).Observe(milliseconds(d))
}

func SetCollectionSize(collection string, n int) {
	CollectionSize.WithLabelValues(collection).Set(float64(n))
}

func ObserveBackendRequest(operation, status string, d time.Duration) {
	BackendRequestsTotal.WithLabelValues(operation, status).Inc()
	BackendRequestDuration.WithLabelValues(operation).Observe(milliseconds(d))
}

func ObserveCommit(coalescer, trigger, status string, d time.Duration) {
	CoalescerCommitsTotal.WithLabelValues(coalescer, trigger, status).Inc()
	CoalescerCommitDuration.WithLabelValues(coalescer, status).Observe(milliseconds(d))
}

func IncBrokerMessage(topic, direction, status string) {
	BrokerMessagesTotal.WithLabelValues(topic, direction, status).Inc()
}

func ObserveDedup(status string, d time.Duration) {
	DeduplicateMessagesTotal.WithLabelValues(status).Inc()
	DedupDuration.WithLabelValues(status).Observe(milliseconds(d))
}
