package verify

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the verification collectors. A nil *Metrics records nothing.
type Metrics struct {
	probes    *prometheus.CounterVec
	duration  prometheus.Histogram
	inFlight  prometheus.Gauge
	cacheHits prometheus.Counter
	cancelled prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "m3u_curator",
			Subsystem: "verify",
			Name:      "probes_total",
			Help:      "Stream probes by outcome status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "m3u_curator",
			Subsystem: "verify",
			Name:      "probe_duration_seconds",
			Help:      "Wall time of one stream probe.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "m3u_curator",
			Subsystem: "verify",
			Name:      "probes_in_flight",
			Help:      "Probes currently running.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "m3u_curator",
			Subsystem: "verify",
			Name:      "cache_hits_total",
			Help:      "Probes answered from the result cache.",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "m3u_curator",
			Subsystem: "verify",
			Name:      "batches_cancelled_total",
			Help:      "Verification batches stopped by Cancel or context.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.probes, m.duration, m.inFlight, m.cacheHits, m.cancelled)
	}
	return m
}

func (m *Metrics) probeStarted() func(Record) {
	if m == nil {
		return func(Record) {}
	}
	start := time.Now()
	m.inFlight.Inc()
	return func(r Record) {
		m.inFlight.Dec()
		m.duration.Observe(time.Since(start).Seconds())
		m.probes.WithLabelValues(string(r.Status)).Inc()
	}
}

func (m *Metrics) cacheHit(r Record) {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
	m.probes.WithLabelValues(string(r.Status)).Inc()
}

func (m *Metrics) batchCancelled() {
	if m == nil {
		return
	}
	m.cancelled.Inc()
}
