// Package metrics implements the Observability component (C6): a sliding
// window of per-request performance samples with on-demand percentiles,
// threshold-based alerting, and a Prometheus-scrapeable mirror of the same
// data. Grounded on the teacher's pkg/timing metrics shape, extended with
// windowing, percentiles, and alerting per §4.6.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// RequestPerformance is one sampled request outcome (§4.6).
type RequestPerformance struct {
	Host       string
	EndTime    time.Time
	Duration   time.Duration
	BytesIn    int64
	Success    bool
	TimedOut   bool
	ConnFailed bool
}

// Snapshot is the on-demand aggregate computed over the current window.
type Snapshot struct {
	Count        int
	SuccessRate  float64
	ErrorRate    float64
	Min          time.Duration
	Avg          time.Duration
	Max          time.Duration
	P95          time.Duration
	P99          time.Duration
	TotalBytes   int64
	ThroughputBps float64
}

// AlertKind is one of the five §4.6 alert conditions.
type AlertKind string

const (
	AlertHighResponseTime AlertKind = "highResponseTime"
	AlertRequestTimeout   AlertKind = "requestTimeout"
	AlertConnectionFailure AlertKind = "connectionFailure"
	AlertLowThroughput    AlertKind = "lowThroughput"
	AlertHighErrorRate    AlertKind = "highErrorRate"
)

// Severity is warning below 2x threshold, critical beyond.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is emitted when a threshold breaches on a new entry or on the
// freshly recomputed aggregate.
type Alert struct {
	Kind      AlertKind
	Severity  Severity
	Value     float64
	Threshold float64
	At        time.Time
}

// Thresholds configures four of the five alert conditions (§4.6). Zero
// value disables the corresponding check. AlertConnectionFailure has no
// threshold and fires whenever alerts are evaluated for a sample with
// ConnFailed set.
type Thresholds struct {
	HighResponseTime time.Duration
	RequestTimeout   time.Duration
	LowThroughputBps float64
	HighErrorRate    float64 // fraction, e.g. 0.5
}

// Monitor is the sliding-window aggregator. Safe for concurrent use; the
// window is exclusive state protected by mu, matching §5's "performance
// monitor is an isolation unit with exclusive interior state."
type Monitor struct {
	WindowSize       time.Duration
	MaxStoredMetrics int
	SampleRate       float64 // [0,1]; 1 samples every request
	Thresholds       Thresholds
	OnAlert          func(Alert)

	Log *logrus.Entry

	mu      sync.Mutex
	entries []RequestPerformance
	rngSeed uint64

	reqDuration *prometheus.HistogramVec
	reqTotal    *prometheus.CounterVec
	alertTotal  *prometheus.CounterVec
}

// New builds a Monitor with §4.6 defaults (5 minute window, 10000 max
// stored entries, full sampling) and registers its Prometheus instruments
// against reg (pass prometheus.NewRegistry() for an isolated registry, or
// nil to use the default global one).
func New(reg prometheus.Registerer, log *logrus.Entry) *Monitor {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	m := &Monitor{
		WindowSize:       5 * time.Minute,
		MaxStoredMetrics: 10000,
		SampleRate:       1.0,
		Log:              log.WithField("component", "metrics"),
		rngSeed:          0x9e3779b97f4a7c15,

		reqDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "netcore_request_duration_seconds",
			Help:    "Observed request durations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"host"}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netcore_requests_total",
			Help: "Total requests by outcome.",
		}, []string{"outcome"}),
		alertTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netcore_alert_total",
			Help: "Total alerts fired by kind.",
		}, []string{"kind", "severity"}),
	}

	registerer := reg
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	registerer.MustRegister(m.reqDuration, m.reqTotal, m.alertTotal)

	return m
}

// nextSample is a small xorshift PRNG so Monitor has no dependency on
// math/rand's global lock under high request volume; it only needs to
// clamp sampling eligibility, not produce cryptographic randomness.
func (m *Monitor) nextSample() float64 {
	x := m.rngSeed
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	m.rngSeed = x
	return float64(x%1000000) / 1000000.0
}

// Record adds one sample to the window, subject to SampleRate, evaluates
// alert thresholds against the new entry and the refreshed aggregate, and
// updates the Prometheus instruments.
func (m *Monitor) Record(p RequestPerformance) {
	if p.EndTime.IsZero() {
		p.EndTime = time.Now()
	}

	outcome := "success"
	switch {
	case p.ConnFailed:
		outcome = "connection_failure"
	case p.TimedOut:
		outcome = "timeout"
	case !p.Success:
		outcome = "error"
	}
	m.reqTotal.WithLabelValues(outcome).Inc()
	m.reqDuration.WithLabelValues(p.Host).Observe(p.Duration.Seconds())

	m.mu.Lock()
	if m.sampleRateLocked() < 1.0 && m.nextSample() > m.sampleRateLocked() {
		m.mu.Unlock()
		return
	}

	m.entries = append(m.entries, p)
	if len(m.entries) > m.maxStoredLocked() {
		m.entries = m.entries[len(m.entries)-m.maxStoredLocked():]
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.evaluateAlerts(p, snap)
}

func (m *Monitor) sampleRateLocked() float64 {
	if m.SampleRate <= 0 {
		return 1.0
	}
	return m.SampleRate
}

func (m *Monitor) maxStoredLocked() int {
	if m.MaxStoredMetrics <= 0 {
		return 10000
	}
	return m.MaxStoredMetrics
}

func (m *Monitor) windowLocked() time.Duration {
	if m.WindowSize <= 0 {
		return 5 * time.Minute
	}
	return m.WindowSize
}

// Snapshot computes the on-demand aggregate over the last WindowSize
// interval (§4.6).
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() Snapshot {
	cutoff := time.Now().Add(-m.windowLocked())
	var durations []time.Duration
	var totalBytes int64
	var successes int
	var minD, maxD time.Duration
	var sumD time.Duration
	var earliestInWindow, latestInWindow time.Time

	for _, e := range m.entries {
		if e.EndTime.Before(cutoff) {
			continue
		}
		durations = append(durations, e.Duration)
		totalBytes += e.BytesIn
		if e.Success {
			successes++
		}
		sumD += e.Duration
		if minD == 0 || e.Duration < minD {
			minD = e.Duration
		}
		if e.Duration > maxD {
			maxD = e.Duration
		}
		if earliestInWindow.IsZero() || e.EndTime.Before(earliestInWindow) {
			earliestInWindow = e.EndTime
		}
		if e.EndTime.After(latestInWindow) {
			latestInWindow = e.EndTime
		}
	}

	count := len(durations)
	if count == 0 {
		return Snapshot{}
	}

	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	snap := Snapshot{
		Count:       count,
		SuccessRate: float64(successes) / float64(count),
		ErrorRate:   1 - float64(successes)/float64(count),
		Min:         minD,
		Max:         maxD,
		Avg:         sumD / time.Duration(count),
		P95:         percentile(sorted, 0.95),
		P99:         percentile(sorted, 0.99),
		TotalBytes:  totalBytes,
	}

	span := latestInWindow.Sub(earliestInWindow)
	if span > 0 {
		snap.ThroughputBps = float64(totalBytes) / span.Seconds()
	}
	return snap
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (m *Monitor) evaluateAlerts(p RequestPerformance, snap Snapshot) {
	now := p.EndTime
	fire := func(kind AlertKind, value, threshold float64) {
		if threshold <= 0 {
			return
		}
		sev := SeverityWarning
		if value >= 2*threshold {
			sev = SeverityCritical
		}
		alert := Alert{Kind: kind, Severity: sev, Value: value, Threshold: threshold, At: now}
		m.alertTotal.WithLabelValues(string(kind), string(sev)).Inc()
		m.Log.WithFields(logrus.Fields{
			"alert": kind, "severity": sev, "value": value, "threshold": threshold,
		}).Warn("metrics alert")
		if m.OnAlert != nil {
			m.OnAlert(alert)
		}
	}

	if m.Thresholds.HighResponseTime > 0 && p.Duration > m.Thresholds.HighResponseTime {
		fire(AlertHighResponseTime, float64(p.Duration), float64(m.Thresholds.HighResponseTime))
	}
	if p.TimedOut && m.Thresholds.RequestTimeout > 0 && p.Duration > m.Thresholds.RequestTimeout {
		fire(AlertRequestTimeout, float64(p.Duration), float64(m.Thresholds.RequestTimeout))
	}
	if p.ConnFailed {
		fire(AlertConnectionFailure, 1, 1)
	}
	if m.Thresholds.LowThroughputBps > 0 && snap.ThroughputBps > 0 && snap.ThroughputBps < m.Thresholds.LowThroughputBps {
		fire(AlertLowThroughput, m.Thresholds.LowThroughputBps-snap.ThroughputBps, m.Thresholds.LowThroughputBps)
	}
	if m.Thresholds.HighErrorRate > 0 && snap.ErrorRate > m.Thresholds.HighErrorRate {
		fire(AlertHighErrorRate, snap.ErrorRate, m.Thresholds.HighErrorRate)
	}
}

// StartCleanup launches the §4.6 background task that removes entries
// older than 2x the window once per minute, returning a stop function.
// Mirrors the teacher's pattern of an explicit stop channel rather than a
// bare goroutine leak.
func (m *Monitor) StartCleanup() (stop func()) {
	done := make(chan struct{})
	ticker := time.NewTicker(time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.cleanup()
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func (m *Monitor) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-2 * m.windowLocked())
	kept := m.entries[:0]
	for _, e := range m.entries {
		if !e.EndTime.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	m.entries = kept
}
