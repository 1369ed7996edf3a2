package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitstack_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fitstack_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitstack_bookings_total",
			Help: "Total number of bookings",
		},
		[]string{"status"},
	)

	BookingCancellationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fitstack_booking_cancellations_total",
			Help: "Total number of booking cancellations",
		},
	)

	WaitlistPromotionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitstack_waitlist_promotions_total",
			Help: "Waitlist promotion attempts by result",
		},
		[]string{"result"},
	)

	EmailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitstack_emails_sent_total",
			Help: "Total number of emails sent",
		},
		[]string{"type", "status"},
	)

	EmailQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fitstack_email_queue_length",
			Help: "Current length of email queue",
		},
	)

	WalletOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitstack_wallet_operations_total",
			Help: "Wallet ledger operations by type and result",
		},
		[]string{"type", "result"},
	)

	SubscriptionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitstack_subscription_transitions_total",
			Help: "Member subscription lifecycle transitions",
		},
		[]string{"action"},
	)

	LockAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitstack_lock_attempts_total",
			Help: "Distributed lock attempts by result",
		},
		[]string{"result"},
	)

	TenantScopeConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitstack_tenant_scope_conflicts_total",
			Help: "Caller supplied tenant ids overwritten by the scoped gateway",
		},
		[]string{"table"},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitstack_webhook_events_total",
			Help: "Payment webhook deliveries by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	OutboxDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitstack_outbox_dispatched_total",
			Help: "Outbox events handed to the publisher",
		},
		[]string{"status"},
	)

	UsageUnitsSyncedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fitstack_usage_units_synced_total",
			Help: "Usage units pushed to the billing provider",
		},
		[]string{"metric"},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordBooking(status string) {
	BookingsTotal.WithLabelValues(status).Inc()
}

func RecordBookingCancellation() {
	BookingCancellationsTotal.Inc()
}

func RecordWaitlistPromotion(result string) {
	WaitlistPromotionsTotal.WithLabelValues(result).Inc()
}

func RecordEmail(emailType, status string) {
	EmailsSentTotal.WithLabelValues(emailType, status).Inc()
}

func RecordWalletOperation(opType, result string) {
	WalletOperationsTotal.WithLabelValues(opType, result).Inc()
}

func RecordSubscriptionTransition(action string) {
	SubscriptionTransitionsTotal.WithLabelValues(action).Inc()
}

func RecordLockAttempt(result string) {
	LockAttemptsTotal.WithLabelValues(result).Inc()
}

func RecordTenantScopeConflict(table string) {
	TenantScopeConflictsTotal.WithLabelValues(table).Inc()
}

func RecordWebhookEvent(provider, outcome string) {
	WebhookEventsTotal.WithLabelValues(provider, outcome).Inc()
}

func RecordOutboxDispatch(status string, n int) {
	OutboxDispatchedTotal.WithLabelValues(status).Add(float64(n))
}

func RecordUsageSynced(metric string, units int64) {
	UsageUnitsSyncedTotal.WithLabelValues(metric).Add(float64(units))
}
