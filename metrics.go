package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "learnauth"

var (
	tokenVerifyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "token_verify_failures_total",
			Help:      "Session credentials rejected during verification",
		},
		[]string{"reason"},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "webhook_events_total",
			Help:      "Membership webhook events by outcome",
		},
		[]string{"outcome"},
	)

	webhookDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "webhook_duration_seconds",
			Help:      "Time spent processing a membership webhook",
			Buckets:   prometheus.DefBuckets,
		},
	)

	auditAppendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "audit_append_failures_total",
			Help:      "Audit entries that could not be recorded",
		},
	)

	sessionsEstablished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_established_total",
			Help:      "Sessions written to the client",
		},
		[]string{"via"},
	)

	rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)
)

func recordWebhook(outcome AuditOutcome, elapsed time.Duration) {
	if elapsed < 0 {
		elapsed = 0
	}
	webhookEvents.WithLabelValues(string(outcome)).Inc()
	webhookDuration.Observe(elapsed.Seconds())
}
