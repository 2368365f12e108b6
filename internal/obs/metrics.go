package obs

import (
	"errors"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
)

// Domain metric collectors shared by the reconcile and dispatch packages. They
// are nil until MustRegisterDomainMetrics runs so library code can guard with
// nil checks in tests.
var (
	WebhookDeliveriesTotal *prometheus.CounterVec
	WebhookAttemptLatency  *prometheus.HistogramVec
	WebhookTriggerEvents   *prometheus.CounterVec

	ReconcileTransactionsTotal *prometheus.CounterVec
	ReconcileMemoInvalidTotal  prometheus.Counter
	ReconcileDuplicatesTotal   prometheus.Counter
	LedgerStreamErrorsTotal    prometheus.Counter
)

// MustRegisterDomainMetrics registers payment and webhook collectors on the
// provided registerer (default registerer when nil). Safe to call once per
// process.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	WebhookDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_deliveries_total",
		Help:      "Webhook logical delivery outcomes.",
	}, []string{"outcome"})
	WebhookAttemptLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "webhook_delivery_duration_ms",
		Help:      "Wall-clock duration of logical webhook deliveries in milliseconds.",
		Buckets:   defaultBuckets(),
	}, []string{"outcome"})
	WebhookTriggerEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_trigger_events_total",
		Help:      "Trigger invocations by event type.",
	}, []string{"event_type"})
	ReconcileTransactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_transactions_total",
		Help:      "Ledger transactions processed by outcome.",
	}, []string{"outcome"})
	ReconcileMemoInvalidTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_memo_invalid_total",
		Help:      "Streamed transactions skipped due to absent or malformed memos.",
	})
	ReconcileDuplicatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_duplicates_total",
		Help:      "Redelivered transactions suppressed by the idempotency guard.",
	})
	LedgerStreamErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_stream_errors_total",
		Help:      "Errors surfaced by the ledger transaction stream.",
	})

	mustRegister(reg,
		WebhookDeliveriesTotal,
		WebhookAttemptLatency,
		WebhookTriggerEvents,
		ReconcileTransactionsTotal,
		ReconcileMemoInvalidTotal,
		ReconcileDuplicatesTotal,
		LedgerStreamErrorsTotal,
	)
}

func defaultBuckets() []float64 {
	buckets := []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}
	sort.Float64s(buckets)
	return buckets
}

func mustRegister(reg prometheus.Registerer, collectors ...prometheus.Collector) {
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			panic(err)
		}
	}
}
