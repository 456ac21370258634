package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	assignments    *prometheus.CounterVec
	assignRetries  prometheus.Counter
	depositEntries *prometheus.CounterVec
	credited       *prometheus.CounterVec
	sweeps         *prometheus.CounterVec
	sweepLatency   *prometheus.HistogramVec
	sweepQueue     prometheus.Gauge
	fundedAddrs    *prometheus.GaugeVec
	httpLatency    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deposit",
			Subsystem: "wallet",
			Name:      "assignments_total",
			Help:      "Address assignment attempts segmented by outcome.",
		}, []string{"outcome"}),
		assignRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deposit",
			Subsystem: "wallet",
			Name:      "assignment_retries_total",
			Help:      "Assignment transactions rerun after a write conflict.",
		}),
		depositEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deposit",
			Subsystem: "webhook",
			Name:      "entries_total",
			Help:      "Notification entries processed segmented by kind and outcome.",
		}, []string{"kind", "outcome"}),
		credited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deposit",
			Subsystem: "ledger",
			Name:      "credited_local_total",
			Help:      "Local-currency value credited to user balances.",
		}, []string{"chain", "asset"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deposit",
			Subsystem: "sweep",
			Name:      "attempts_total",
			Help:      "Sweep attempts segmented by chain, asset kind and result.",
		}, []string{"chain", "kind", "result"}),
		sweepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deposit",
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Time from sweep start to broadcast or abort.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain"}),
		sweepQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deposit",
			Subsystem: "sweep",
			Name:      "queue_depth",
			Help:      "Sweep jobs waiting for a worker.",
		}),
		fundedAddrs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "deposit",
			Subsystem: "audit",
			Name:      "funded_addresses",
			Help:      "Deposit addresses holding a non-zero balance at the last audit.",
		}, []string{"chain", "asset"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deposit",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP handler latency segmented by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
	reg.MustRegister(
		m.assignments,
		m.assignRetries,
		m.depositEntries,
		m.credited,
		m.sweeps,
		m.sweepLatency,
		m.sweepQueue,
		m.fundedAddrs,
		m.httpLatency,
	)
	return m
}

func (m *Metrics) ObserveAssignment(outcome string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAssignRetry() {
	if m == nil {
		return
	}
	m.assignRetries.Inc()
}

func (m *Metrics) ObserveDepositEntry(kind, outcome string) {
	if m == nil {
		return
	}
	m.depositEntries.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveCredit(chain, asset string, amountLocal float64) {
	if m == nil || amountLocal <= 0 {
		return
	}
	m.credited.WithLabelValues(chain, asset).Add(amountLocal)
}

func (m *Metrics) ObserveSweep(chain, kind, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(chain, kind, result).Inc()
	m.sweepLatency.WithLabelValues(chain).Observe(took.Seconds())
}

func (m *Metrics) SetSweepQueueDepth(n int) {
	if m == nil {
		return
	}
	m.sweepQueue.Set(float64(n))
}

func (m *Metrics) SetFundedAddresses(chain, asset string, n int) {
	if m == nil {
		return
	}
	m.fundedAddrs.WithLabelValues(chain, asset).Set(float64(n))
}

func (m *Metrics) ObserveHTTP(route, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.httpLatency.WithLabelValues(route, status).Observe(took.Seconds())
}
