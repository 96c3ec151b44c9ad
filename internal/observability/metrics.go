package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "venue_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	DBTxRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "venue_db_tx_retries_total",
			Help: "Transactions retried after a serialization failure",
		},
	)

	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_booking_transitions_total",
			Help: "Committed booking state transitions",
		},
		[]string{"from", "to"},
	)

	HoldConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "venue_hold_conflicts_total",
			Help: "Inquiries rejected because a requested date was already held",
		},
	)

	BookingsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "venue_bookings_expired_total",
			Help: "Bookings expired by the deadline sweep or timers",
		},
	)

	LatePayments = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "venue_late_payments_total",
			Help: "Verified payments that arrived after the booking left pending_payment",
		},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_notification_failures_total",
			Help: "Notification deliveries that exhausted their retries",
		},
		[]string{"sink"},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "venue_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "venue_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "venue_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
