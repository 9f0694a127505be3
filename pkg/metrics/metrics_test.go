package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor() *Monitor {
	m := New(prometheus.NewRegistry(), nil)
	m.WindowSize = time.Hour
	return m
}

func TestMonitor_SnapshotComputesBasicAggregate(t *testing.T) {
	m := newTestMonitor()
	now := time.Now()
	for _, d := range []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond} {
		m.Record(RequestPerformance{Host: "example.com", EndTime: now, Duration: d, BytesIn: 100, Success: true})
	}

	snap := m.Snapshot()
	assert.Equal(t, 3, snap.Count)
	assert.Equal(t, 1.0, snap.SuccessRate)
	assert.Equal(t, 0.0, snap.ErrorRate)
	assert.Equal(t, 10*time.Millisecond, snap.Min)
	assert.Equal(t, 30*time.Millisecond, snap.Max)
	assert.Equal(t, int64(300), snap.TotalBytes)
}

func TestMonitor_ErrorRateReflectsFailures(t *testing.T) {
	m := newTestMonitor()
	now := time.Now()
	m.Record(RequestPerformance{EndTime: now, Duration: time.Millisecond, Success: true})
	m.Record(RequestPerformance{EndTime: now, Duration: time.Millisecond, Success: false})

	snap := m.Snapshot()
	require.Equal(t, 2, snap.Count)
	assert.Equal(t, 0.5, snap.SuccessRate)
	assert.Equal(t, 0.5, snap.ErrorRate)
}

func TestMonitor_PercentilesAreMonotone(t *testing.T) {
	m := newTestMonitor()
	now := time.Now()
	for i := 1; i <= 100; i++ {
		m.Record(RequestPerformance{EndTime: now, Duration: time.Duration(i) * time.Millisecond, Success: true})
	}

	snap := m.Snapshot()
	assert.LessOrEqual(t, snap.P95, snap.P99)
	assert.LessOrEqual(t, snap.Max, 100*time.Millisecond)
	assert.GreaterOrEqual(t, snap.P99, snap.P95)
}

func TestMonitor_HighResponseTimeAlertSeverity(t *testing.T) {
	m := newTestMonitor()
	m.Thresholds.HighResponseTime = 100 * time.Millisecond

	var alerts []Alert
	m.OnAlert = func(a Alert) { alerts = append(alerts, a) }

	m.Record(RequestPerformance{EndTime: time.Now(), Duration: 150 * time.Millisecond, Success: true})
	m.Record(RequestPerformance{EndTime: time.Now(), Duration: 300 * time.Millisecond, Success: true})

	require.Len(t, alerts, 2)
	assert.Equal(t, AlertHighResponseTime, alerts[0].Kind)
	assert.Equal(t, SeverityWarning, alerts[0].Severity)
	assert.Equal(t, SeverityCritical, alerts[1].Severity)
}

func TestMonitor_ConnectionFailureAndTimeoutAlerts(t *testing.T) {
	m := newTestMonitor()
	m.Thresholds.RequestTimeout = 5 * time.Second
	var kinds []AlertKind
	m.OnAlert = func(a Alert) { kinds = append(kinds, a.Kind) }

	m.Record(RequestPerformance{EndTime: time.Now(), ConnFailed: true})
	m.Record(RequestPerformance{EndTime: time.Now(), TimedOut: true, Duration: 10 * time.Second})

	require.Len(t, kinds, 2)
	assert.Equal(t, AlertConnectionFailure, kinds[0])
	assert.Equal(t, AlertRequestTimeout, kinds[1])
}

func TestMonitor_RequestTimeoutAlertRequiresThreshold(t *testing.T) {
	m := newTestMonitor()
	var kinds []AlertKind
	m.OnAlert = func(a Alert) { kinds = append(kinds, a.Kind) }

	m.Record(RequestPerformance{EndTime: time.Now(), TimedOut: true, Duration: 10 * time.Second})

	assert.Empty(t, kinds, "RequestTimeout alert must not fire when Thresholds.RequestTimeout is unset")
}

func TestMonitor_HighErrorRateAlertFiresOnAggregate(t *testing.T) {
	m := newTestMonitor()
	m.Thresholds.HighErrorRate = 0.4

	var fired bool
	m.OnAlert = func(a Alert) {
		if a.Kind == AlertHighErrorRate {
			fired = true
		}
	}

	now := time.Now()
	m.Record(RequestPerformance{EndTime: now, Success: true})
	m.Record(RequestPerformance{EndTime: now, Success: false})
	m.Record(RequestPerformance{EndTime: now, Success: false})

	assert.True(t, fired)
}

func TestMonitor_CleanupRemovesStaleEntries(t *testing.T) {
	m := newTestMonitor()
	m.WindowSize = time.Minute
	old := time.Now().Add(-10 * time.Minute)
	m.Record(RequestPerformance{EndTime: old, Duration: time.Millisecond, Success: true})
	m.Record(RequestPerformance{EndTime: time.Now(), Duration: time.Millisecond, Success: true})

	m.cleanup()

	m.mu.Lock()
	count := len(m.entries)
	m.mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestMonitor_MaxStoredMetricsCaps(t *testing.T) {
	m := newTestMonitor()
	m.MaxStoredMetrics = 5
	for i := 0; i < 20; i++ {
		m.Record(RequestPerformance{EndTime: time.Now(), Duration: time.Millisecond, Success: true})
	}

	m.mu.Lock()
	count := len(m.entries)
	m.mu.Unlock()
	assert.Equal(t, 5, count)
}
