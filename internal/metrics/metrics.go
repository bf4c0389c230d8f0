// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signdesk",
		Subsystem: "sessions",
		Name:      "created_total",
		Help:      "Signing sessions created",
	})

	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signdesk",
		Subsystem: "sessions",
		Name:      "transitions_total",
		Help:      "Session status transitions applied, by target status and source",
	}, []string{"status", "source"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signdesk",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Inbound provider webhook events by type and outcome",
	}, []string{"type", "outcome"})

	OTPIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signdesk",
		Subsystem: "otp",
		Name:      "issued_total",
		Help:      "One-time passcodes issued",
	})

	OTPVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signdesk",
		Subsystem: "otp",
		Name:      "verifications_total",
		Help:      "OTP verification attempts by result",
	}, []string{"result"})

	GatewayRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "signdesk",
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Latency of signing provider calls",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"operation", "result"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "signdesk",
		Subsystem: "sweeper",
		Name:      "run_duration_seconds",
		Help:      "Duration of expiration sweeps",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	SweepExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signdesk",
		Subsystem: "sweeper",
		Name:      "expired_total",
		Help:      "Sessions moved to expired by the sweeper",
	})

	SweepCancelFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "signdesk",
		Subsystem: "sweeper",
		Name:      "cancel_failures_total",
		Help:      "Remote envelope cancellations that failed during a sweep",
	})
)

// Result labels
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultInvalid = "invalid"
	ResultLocked  = "locked"
	ResultExpired = "expired"
)
