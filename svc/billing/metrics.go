package billing

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the billing counters exported on /metrics. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	webhooks   *prometheus.CounterVec
	reconciled *prometheus.CounterVec
	duration   prometheus.Histogram
	checkouts  *prometheus.CounterVec
	grants     prometheus.Counter
}

// NewMetrics creates and registers the billing collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "webhooks_total",
			Help:      "Webhook deliveries by provider and HTTP outcome.",
		}, []string{"provider", "outcome"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "reconciliations_total",
			Help:      "Reconciled payments by provider and status.",
		}, []string{"provider", "status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "billing",
			Name:      "reconcile_duration_seconds",
			Help:      "Time spent reconciling one payment confirmation.",
			Buckets:   prometheus.DefBuckets,
		}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "checkouts_total",
			Help:      "Checkout sessions by provider and result.",
		}, []string{"provider", "result"}),
		grants: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "entitlements_granted_total",
			Help:      "Newly created entitlement rows.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.webhooks, m.reconciled, m.duration, m.checkouts, m.grants)
	}
	return m
}

func (m *Metrics) Webhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) reconcile(provider string, status OutcomeStatus, took time.Duration) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(provider, string(status)).Inc()
	m.duration.Observe(took.Seconds())
}

func (m *Metrics) checkout(provider, result string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) granted(n int) {
	if m == nil || n == 0 {
		return
	}
	m.grants.Add(float64(n))
}
