// Package metrics exposes the engine's Prometheus collectors. A nil
// *Metrics is a valid no-op receiver so callers never guard call sites.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the engine collectors.
type Metrics struct {
	verifications *prometheus.CounterVec
	smtpProbes    *prometheus.CounterVec
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	verifyTime    prometheus.Histogram
	batchEmails   *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
}

// New registers the engine collectors on the given registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verify",
			Name:      "verifications_total",
			Help:      "Verification results by outcome.",
		}, []string{"outcome"}),
		smtpProbes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verify",
			Name:      "smtp_probes_total",
			Help:      "SMTP probe verdicts.",
		}, []string{"verdict"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "verify",
			Name:      "result_cache_hits_total",
			Help:      "Verification results served from cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "verify",
			Name:      "result_cache_misses_total",
			Help:      "Verification cache lookups that missed.",
		}),
		verifyTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "verify",
			Name:      "verification_seconds",
			Help:      "Wall time of single verifications.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		batchEmails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verify",
			Name:      "batch_emails_total",
			Help:      "Batch-processed emails by result.",
		}, []string{"result"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "verify",
			Name:      "batch_queue_depth",
			Help:      "Jobs waiting on each batch queue.",
		}, []string{"queue"}),
	}
	reg.MustRegister(m.verifications, m.smtpProbes, m.cacheHits, m.cacheMisses, m.verifyTime, m.batchEmails, m.queueDepth)
	return m
}

// ObserveVerification records one finished verification.
func (m *Metrics) ObserveVerification(valid bool, seconds float64) {
	if m == nil {
		return
	}
	outcome := "invalid"
	if valid {
		outcome = "valid"
	}
	m.verifications.WithLabelValues(outcome).Inc()
	m.verifyTime.Observe(seconds)
}

// ObserveProbe records one SMTP probe verdict.
func (m *Metrics) ObserveProbe(verdict string) {
	if m == nil {
		return
	}
	m.smtpProbes.WithLabelValues(verdict).Inc()
}

// ObserveCache records one result-cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// ObserveQueueDepth records the backlog of one batch queue.
func (m *Metrics) ObserveQueueDepth(queue string, depth int64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// ObserveBatchEmail records one batch-processed email.
func (m *Metrics) ObserveBatchEmail(valid bool) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.batchEmails.WithLabelValues(result).Inc()
}
