// Package transport implements the wire-level sender selection the
// pipeline's Transport seam delegates to: HTTP/1.1 over net/http, HTTP/2
// over pkg/http2's own framer, and WebSocket upgrades over
// gorilla/websocket, chosen per request the way the teacher's rawhttp.go
// picks between its HTTP/1.1 and HTTP/2 senders.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/harborlink/netcore/pkg/errors"
	"github.com/harborlink/netcore/pkg/pin"
	"github.com/harborlink/netcore/pkg/pipeline"
)

// Protocol names a sender, either forced via Router.ForceProtocol or
// discovered by negotiate.
type Protocol string

const (
	ProtocolHTTP1     Protocol = "http/1.1"
	ProtocolHTTP2     Protocol = "http/2"
	ProtocolWebSocket Protocol = "websocket"
)

// Router implements pipeline.Transport, picking among the three senders
// per request the way rawhttp.go's detectProtocol/Do pair does.
type Router struct {
	// ForceProtocol overrides negotiation when set, except for ws/wss
	// requests, which always go to the WebSocket sender.
	ForceProtocol Protocol

	PinValidator *pin.Validator // nil disables pinning
	TLSConfig    *tls.Config    // base TLS config, cloned per connection

	http1 *http1Sender
	http2 *http2Sender
	ws    *websocketSender
}

// NewRouter builds a Router with all three senders wired. pinValidator may
// be nil to disable pinning; baseTLS may be nil to use Go's defaults.
func NewRouter(pinValidator *pin.Validator, baseTLS *tls.Config) *Router {
	r := &Router{PinValidator: pinValidator, TLSConfig: baseTLS}
	r.http1 = newHTTP1Sender(r)
	r.http2 = newHTTP2Sender(r)
	r.ws = newWebSocketSender(r)
	return r
}

// RoundTrip implements pipeline.Transport.
func (r *Router) RoundTrip(ctx context.Context, req *http.Request) (*pipeline.RawResponse, error) {
	switch r.negotiate(req) {
	case ProtocolWebSocket:
		return r.ws.RoundTrip(ctx, req)
	case ProtocolHTTP2:
		return r.http2.RoundTrip(ctx, req)
	default:
		return r.http1.RoundTrip(ctx, req)
	}
}

// negotiate implements the §1 transport-negotiation rule: explicit
// ws/wss scheme always wins, then ForceProtocol, then scheme-based ALPN
// preference (the h2 sender itself falls back to HTTP/1.1 when the peer
// doesn't negotiate h2).
func (r *Router) negotiate(req *http.Request) Protocol {
	switch strings.ToLower(req.URL.Scheme) {
	case "ws", "wss":
		return ProtocolWebSocket
	}
	if r.ForceProtocol != "" {
		return r.ForceProtocol
	}
	if strings.EqualFold(req.URL.Scheme, "https") {
		return ProtocolHTTP2
	}
	return ProtocolHTTP1
}

// tlsConfigFor clones the router's base TLS config (or builds a default
// one) for host, wiring VerifyPeerCertificate to the pin Validator when
// one is configured. InsecureSkipVerify is left to the caller-supplied
// base config; this never turns verification off on its own.
func (r *Router) tlsConfigFor(host string) *tls.Config {
	var cfg *tls.Config
	if r.TLSConfig != nil {
		cfg = r.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	if r.PinValidator != nil {
		cfg.VerifyPeerCertificate = pinVerifier(r.PinValidator, host)
	}
	return cfg
}

// pinVerifier adapts pin.Validator to crypto/tls's VerifyPeerCertificate
// hook, run after the platform's own chain verification against the chain
// the peer actually presented (§4.1 step ordering: platform trust first,
// pin comparison second).
func pinVerifier(v *pin.Validator, host string) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		chain := make([]*x509.Certificate, 0, len(rawCerts))
		for _, der := range rawCerts {
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return errors.New(errors.KindSslCertificateError, "pin_verify", "malformed peer certificate", err)
			}
			chain = append(chain, cert)
		}
		result := v.Validate(chain, host)
		if result.Success || result.NoPin {
			return nil
		}
		return errors.NewTlsPinFailure(host, result.Reason)
	}
}

// rawResponseFromHTTP adapts a completed net/http response into the
// pipeline's RawResponse, draining and closing the body.
func rawResponseFromHTTP(resp *http.Response) (*pipeline.RawResponse, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(errors.KindInvalidResponse, "transport", "failed reading response body", err)
	}
	return &pipeline.RawResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

// resolveAddr returns host:port for a request URL, applying scheme
// defaults the way the raw URL leaves unset.
func resolveAddr(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		return u.Hostname() + ":443"
	default:
		return u.Hostname() + ":80"
	}
}
