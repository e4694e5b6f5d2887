package ratelimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeAllowed        = "allowed"
	outcomeDenied         = "denied"
	outcomeExempt         = "exempt"
	outcomeFailOpen       = "fail_open"
	outcomeFallbackDenied = "fallback_denied"
)

// Metrics expõe contadores Prometheus das decisões do middleware.
// Um *Metrics nil é válido e não registra nada.
type Metrics struct {
	decisions     *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec

	inFlight            prometheus.Gauge
	concurrencyRejected prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limit decisions by outcome.",
		}, []string{"outcome"}),
		storeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ratelimit",
			Name:      "store_duration_seconds",
			Help:      "Latency of the counter store increment round-trip.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .2, .5},
		}, []string{"result"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ratelimit",
			Name:      "inflight_requests",
			Help:      "Requests holding a concurrency slot on this instance.",
		}),
		concurrencyRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ratelimit",
			Name:      "concurrency_rejected_total",
			Help:      "Requests rejected because no concurrency slot was free in time.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.decisions, m.storeDuration, m.inFlight, m.concurrencyRejected)
	}
	return m
}

func (m *Metrics) observeDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeStore(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) slotAcquired() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) slotReleased() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

func (m *Metrics) slotRejected() {
	if m == nil {
		return
	}
	m.concurrencyRejected.Inc()
}
