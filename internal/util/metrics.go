package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentsInitiatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_initiated_total",
		Help: "Total number of payments initiated with the gateway",
	})

	PaymentCallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Gateway callbacks received, by kind and outcome",
	}, []string{"kind", "outcome"})

	PaymentTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transitions_total",
		Help: "Payment status transitions, by target status and whether they were applied or replayed",
	}, []string{"status", "result"})

	PaymentProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_processing_latency_seconds",
		Help:    "Latency of applying a gateway outcome to a payment",
		Buckets: prometheus.DefBuckets,
	})

	StalePendingPayments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payments_stale_pending",
		Help: "PENDING payments older than the configured threshold",
	})

	EnrollmentsActivatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enrollments_activated_total",
		Help: "Total number of enrollments activated",
	})

	EnrollmentsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enrollments_completed_total",
		Help: "Total number of enrollments completed",
	})

	EnrollmentsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enrollments_cancelled_total",
		Help: "Total number of enrollments cancelled",
	})

	CertificatesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certificates_issued_total",
		Help: "Total number of certificates issued",
	})

	NotificationsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_created_total",
		Help: "Notifications persisted, by type",
	}, []string{"type"})

	EmailsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notification_emails_sent_total",
		Help: "Notification emails delivered",
	})

	EmailsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_emails_failed_total",
		Help: "Notification email delivery failures, by whether the row was retried or given up",
	}, []string{"result"})

	LeaderboardCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leaderboard_cache_requests_total",
		Help: "Leaderboard cache lookups, by hit or miss",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
