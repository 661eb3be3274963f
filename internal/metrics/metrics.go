package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeliveriesTotal tracks delivery attempts per platform and outcome (published, retry, failed)
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publisher_deliveries_total",
			Help: "Total number of delivery attempts",
		},
		[]string{"platform", "outcome", "error_kind"},
	)

	// DeliveryDuration tracks how long a single delivery attempt takes
	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "publisher_delivery_duration_seconds",
			Help:    "Delivery attempt latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"platform"},
	)

	// SkippedUnauthorized counts due posts left scheduled because their session is not authorized
	SkippedUnauthorized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publisher_skipped_unauthorized_total",
			Help: "Due posts skipped because the platform session is not authorized",
		},
		[]string{"platform"},
	)

	// DeadLetterOps tracks dead letter recovery operations (retry, delete) and their result
	DeadLetterOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publisher_dead_letter_operations_total",
			Help: "Dead letter queue recovery operations",
		},
		[]string{"operation", "result"},
	)

	// LoginsTotal tracks login attempts per platform and outcome
	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publisher_session_logins_total",
			Help: "Platform login attempts by outcome",
		},
		[]string{"platform", "outcome"},
	)

	// ChallengesTotal tracks challenge resolutions per platform and outcome
	ChallengesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publisher_session_challenges_total",
			Help: "Challenge resolution attempts by outcome",
		},
		[]string{"platform", "outcome"},
	)

	// PurchasesTotal tracks credit purchases per payment method and final status
	PurchasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publisher_credit_purchases_total",
			Help: "Credit purchases by payment method and status",
		},
		[]string{"method", "status"},
	)

	// CreditsCharged tracks credits consumed per operation
	CreditsCharged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publisher_credits_charged_total",
			Help: "Credits consumed by metered operations",
		},
		[]string{"operation"},
	)

	// ActiveConfirmers tracks running payment confirmation loops
	ActiveConfirmers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "publisher_payment_confirmers_active",
			Help: "Number of running payment confirmation loops",
		},
	)
)
