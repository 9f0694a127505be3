// Package timing captures per-attempt wire timings for the request pipeline.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures the wire timings for a single pipeline attempt, matching
// §3's Response invariant: "wire timings (request sent, first byte, last
// byte)" plus the connection-establishment breakdown used by Observability.
type Metrics struct {
	DNSLookup    time.Duration `json:"dns_lookup"`
	TCPConnect   time.Duration `json:"tcp_connect"`
	TLSHandshake time.Duration `json:"tls_handshake"`
	RequestSent  time.Duration `json:"request_sent"`
	FirstByte    time.Duration `json:"first_byte"`
	LastByte     time.Duration `json:"last_byte"`
	TotalTime    time.Duration `json:"total_time"`
}

// Timer accumulates the marks that make up Metrics over the life of one
// attempt. It is not safe for concurrent use; each attempt owns its Timer.
type Timer struct {
	start time.Time

	dnsStart, dnsEnd   time.Time
	tcpStart, tcpEnd   time.Time
	tlsStart, tlsEnd   time.Time
	sentAt             time.Time
	firstByteAt        time.Time
	lastByteAt         time.Time
}

// NewTimer starts a new timing session.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) StartDNS() { t.dnsStart = time.Now() }
func (t *Timer) EndDNS()   { t.dnsEnd = time.Now() }
func (t *Timer) StartTCP() { t.tcpStart = time.Now() }
func (t *Timer) EndTCP()   { t.tcpEnd = time.Now() }
func (t *Timer) StartTLS() { t.tlsStart = time.Now() }
func (t *Timer) EndTLS()   { t.tlsEnd = time.Now() }

// MarkSent records when the request was fully written to the wire.
func (t *Timer) MarkSent() { t.sentAt = time.Now() }

// MarkFirstByte records when the first response byte arrived.
func (t *Timer) MarkFirstByte() { t.firstByteAt = time.Now() }

// MarkLastByte records when the last response byte arrived.
func (t *Timer) MarkLastByte() { t.lastByteAt = time.Now() }

// Metrics snapshots the timer into a Metrics value. Unset marks yield zero
// durations rather than negative values.
func (t *Timer) Metrics() Metrics {
	m := Metrics{TotalTime: time.Since(t.start)}
	if !t.dnsStart.IsZero() && !t.dnsEnd.IsZero() {
		m.DNSLookup = t.dnsEnd.Sub(t.dnsStart)
	}
	if !t.tcpStart.IsZero() && !t.tcpEnd.IsZero() {
		m.TCPConnect = t.tcpEnd.Sub(t.tcpStart)
	}
	if !t.tlsStart.IsZero() && !t.tlsEnd.IsZero() {
		m.TLSHandshake = t.tlsEnd.Sub(t.tlsStart)
	}
	if !t.sentAt.IsZero() {
		m.RequestSent = t.sentAt.Sub(t.start)
	}
	if !t.firstByteAt.IsZero() {
		m.FirstByte = t.firstByteAt.Sub(t.start)
	}
	if !t.lastByteAt.IsZero() {
		m.LastByte = t.lastByteAt.Sub(t.start)
	}
	return m
}

// ConnectionTime returns DNS + TCP + TLS.
func (m Metrics) ConnectionTime() time.Duration {
	return m.DNSLookup + m.TCPConnect + m.TLSHandshake
}

// ServerTime approximates time-to-first-byte minus the time spent sending.
func (m Metrics) ServerTime() time.Duration {
	return m.FirstByte - m.RequestSent
}

func (m Metrics) String() string {
	return fmt.Sprintf("dns=%v tcp=%v tls=%v sent=%v ttfb=%v total=%v",
		m.DNSLookup, m.TCPConnect, m.TLSHandshake, m.RequestSent, m.FirstByte, m.TotalTime)
}
