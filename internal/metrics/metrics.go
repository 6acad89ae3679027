package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PaymentCaptures counts capture attempts by outcome.
	PaymentCaptures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "joynous",
			Subsystem: "payment",
			Name:      "captures_total",
			Help:      "The total number of payment capture attempts by outcome",
		},
		[]string{"outcome"},
	)

	PendingExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "joynous",
			Subsystem: "payment",
			Name:      "pending_expired_total",
			Help:      "The total number of pending registrations failed after the payment window",
		},
	)

	CouponsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "joynous",
			Subsystem: "pricing",
			Name:      "coupons_applied_total",
			Help:      "The total number of coupons applied to drafts",
		},
		[]string{"code"},
	)

	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "joynous",
			Subsystem: "messages",
			Name:      "processed_total",
			Help:      "The total number of processed messages",
		},
		[]string{"topic", "handler"},
	)

	MessagesProcessingFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "joynous",
			Subsystem: "messages",
			Name:      "processing_failed_total",
			Help:      "The total number of message processing failures",
		},
		[]string{"topic", "handler"},
	)

	MessagesProcessingDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace:  "joynous",
			Subsystem:  "messages",
			Name:       "processing_duration_seconds",
			Help:       "The total time spent processing messages",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"topic", "handler"},
	)
)

const (
	OutcomeCaptured = "captured"
	OutcomeNoSeats  = "no_seats"
	OutcomeDeclined = "declined"
	OutcomeUnknown  = "unknown"
	OutcomeReplayed = "replayed"
	OutcomeFree     = "free"
	OutcomeInvalid  = "invalid"
)
