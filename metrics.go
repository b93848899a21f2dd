package goGate

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricResolveVerified MetricID = iota
	MetricResolveSignedOut
	MetricResolveRetry
	MetricSignInSuccess
	MetricSignInFailure
	MetricSignInRateLimited
	MetricSignInLockedLocally
	MetricSignUp
	MetricSignOut
	MetricPasswordResetRequest
	MetricMFAEnrolled
	MetricMFAVerified
	MetricMFAFailure
	MetricProfileWriteFailed
	MetricPrivilegeMismatch
	MetricEventsProcessed
	MetricEventsSuperseded
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricResolveVerified:      "resolve_verified_total",
	MetricResolveSignedOut:     "resolve_signed_out_total",
	MetricResolveRetry:         "resolve_retry_total",
	MetricSignInSuccess:        "sign_in_success_total",
	MetricSignInFailure:        "sign_in_failure_total",
	MetricSignInRateLimited:    "sign_in_rate_limited_total",
	MetricSignInLockedLocally:  "sign_in_locked_locally_total",
	MetricSignUp:               "sign_up_total",
	MetricSignOut:              "sign_out_total",
	MetricPasswordResetRequest: "password_reset_request_total",
	MetricMFAEnrolled:          "mfa_enrolled_total",
	MetricMFAVerified:          "mfa_verified_total",
	MetricMFAFailure:           "mfa_failure_total",
	MetricProfileWriteFailed:   "profile_write_failed_total",
	MetricPrivilegeMismatch:    "privilege_mismatch_total",
	MetricEventsProcessed:      "auth_events_processed_total",
	MetricEventsSuperseded:     "auth_events_superseded_total",
}

func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters and exposes them as a prometheus
// collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	enabled        bool
	counters       [metricIDCount]paddedCounter
	descs          [metricIDCount]*prometheus.Desc
	resolveLatency prometheus.Histogram
}

// NewMetrics builds the counters described by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	m := &Metrics{enabled: cfg.Enabled}
	for id := MetricID(0); id < metricIDCount; id++ {
		m.descs[id] = prometheus.NewDesc(
			prometheus.BuildFQName(cfg.Namespace, "", metricNames[id]),
			"Count of "+metricNames[id]+" events.",
			nil, nil,
		)
	}
	m.resolveLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Name:      "resolve_duration_seconds",
		Help:      "Duration of live session resolution including retries.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})
	return m
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// ObserveResolve records one resolution duration.
func (m *Metrics) ObserveResolve(d time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	m.resolveLatency.Observe(d.Seconds())
}

// Value returns the current count for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Register adds the collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if m == nil || reg == nil {
		return nil
	}
	return reg.Register(m)
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range m.descs {
		ch <- d
	}
	m.resolveLatency.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for id := MetricID(0); id < metricIDCount; id++ {
		ch <- prometheus.MustNewConstMetric(m.descs[id], prometheus.CounterValue, float64(m.Value(id)))
	}
	m.resolveLatency.Collect(ch)
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// AllMetrics returns every MetricID in declaration order.
func AllMetrics() []MetricID {
	out := make([]MetricID, 0, metricIDCount)
	for id := MetricID(0); id < metricIDCount; id++ {
		out = append(out, id)
	}
	return out
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	out := MetricsSnapshot{Counters: make(map[MetricID]uint64, metricIDCount)}
	for id := MetricID(0); id < metricIDCount; id++ {
		out.Counters[id] = m.Value(id)
	}
	return out
}
