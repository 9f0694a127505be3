package transport

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptrace"
	"sync"

	"github.com/harborlink/netcore/pkg/errors"
	"github.com/harborlink/netcore/pkg/pipeline"
	"github.com/harborlink/netcore/pkg/timing"
)

// http1Sender sends over net/http's own connection-pooled Transport,
// one per target host (so pinned hosts get their own and
// VerifyPeerCertificate closures don't leak across hosts with different
// pin configurations).
type http1Sender struct {
	router *Router

	mu      sync.Mutex
	clients map[string]*http.Client // keyed by target host
}

func newHTTP1Sender(r *Router) *http1Sender {
	return &http1Sender{router: r, clients: make(map[string]*http.Client)}
}

func (s *http1Sender) clientFor(host string) *http.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[host]; ok {
		return c
	}
	tlsCfg := s.router.tlsConfigFor(host)
	tlsCfg.NextProtos = []string{"http/1.1"}
	c := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: tlsCfg,
		},
	}
	s.clients[host] = c
	return c
}

func (s *http1Sender) RoundTrip(ctx context.Context, req *http.Request) (*pipeline.RawResponse, error) {
	client := s.clientFor(req.URL.Hostname())

	timer := timing.NewTimer()
	ctx = httptrace.WithClientTrace(ctx, traceFor(timer))

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("http1_round_trip")
		}
		return nil, errors.NewCannotConnect(req.URL.Host, err)
	}
	raw, err := rawResponseFromHTTP(resp)
	if err != nil {
		return nil, err
	}
	timer.MarkLastByte()
	raw.Metrics = timer.Metrics()
	return raw, nil
}

// traceFor builds an httptrace.ClientTrace recording DNS, connect, TLS, and
// first-byte marks into timer, the way net/http's own tooling instruments a
// round trip without the sender having to thread timing through the
// transport itself.
func traceFor(timer *timing.Timer) *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart:             func(httptrace.DNSStartInfo) { timer.StartDNS() },
		DNSDone:              func(httptrace.DNSDoneInfo) { timer.EndDNS() },
		ConnectStart:         func(string, string) { timer.StartTCP() },
		ConnectDone:          func(string, string, error) { timer.EndTCP() },
		TLSHandshakeStart:    func() { timer.StartTLS() },
		TLSHandshakeDone:     func(tls.ConnectionState, error) { timer.EndTLS() },
		WroteRequest:         func(httptrace.WroteRequestInfo) { timer.MarkSent() },
		GotFirstResponseByte: func() { timer.MarkFirstByte() },
	}
}
