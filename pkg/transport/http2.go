package transport

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/harborlink/netcore/pkg/errors"
	"github.com/harborlink/netcore/pkg/http2"
	"github.com/harborlink/netcore/pkg/pipeline"
	"github.com/harborlink/netcore/pkg/timing"
)

// http2Sender sends over pkg/http2's own framer, caching one multiplexed
// Connection per address the way a real h2 client amortizes the TLS
// handshake and SETTINGS exchange across many streams. A connection that
// fails to negotiate "h2" via ALPN falls back to the sibling HTTP/1.1
// sender, mirroring rawhttp.go's Do fallback on "does not support HTTP/2".
type http2Sender struct {
	router *Router
	opts   *http2.Options

	mu    sync.Mutex
	conns map[string]*http2.Connection
}

func newHTTP2Sender(r *Router) *http2Sender {
	return &http2Sender{router: r, opts: http2.DefaultOptions(), conns: make(map[string]*http2.Connection)}
}

func (s *http2Sender) connFor(ctx context.Context, addr, host string) (*http2.Connection, error) {
	s.mu.Lock()
	if c, ok := s.conns[addr]; ok {
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	tlsCfg := s.router.tlsConfigFor(host)
	conn, err := http2.DialTLS(ctx, addr, tlsCfg, s.opts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.conns[addr] = conn
	s.mu.Unlock()
	return conn, nil
}

func (s *http2Sender) RoundTrip(ctx context.Context, req *http.Request) (*pipeline.RawResponse, error) {
	timer := timing.NewTimer()

	addr := resolveAddr(req.URL)
	timer.StartTCP()
	conn, err := s.connFor(ctx, addr, req.URL.Hostname())
	timer.EndTCP()
	if err != nil {
		var herr *errors.Error
		if asHarborlinkError(err, &herr) && herr.Kind == errors.KindProtocolError &&
			strings.Contains(herr.Message, "did not negotiate h2") {
			return s.router.http1.RoundTrip(ctx, req)
		}
		return nil, err
	}

	h2req, err := toHTTP2Request(req)
	if err != nil {
		return nil, err
	}
	timer.MarkSent()

	resp, err := conn.RoundTrip(ctx, h2req)
	if err != nil {
		return nil, err
	}
	timer.MarkFirstByte()
	timer.MarkLastByte()

	raw := fromHTTP2Response(resp)
	raw.Metrics = timer.Metrics()
	return raw, nil
}

func toHTTP2Request(req *http.Request) (*http2.Request, error) {
	var body []byte
	if req.Body != nil {
		defer req.Body.Close()
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, errors.New(errors.KindEncodingFailed, "http2_transport", "failed reading request body", err)
		}
		body = b
	}

	headers := make([]http2.Header, 0, len(req.Header))
	for name, values := range req.Header {
		for _, v := range values {
			headers = append(headers, http2.Header{Name: strings.ToLower(name), Value: v})
		}
	}

	path := req.URL.Path
	if path == "" {
		path = "/"
	}
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}

	return &http2.Request{
		Method:    req.Method,
		Path:      path,
		Authority: req.URL.Host,
		Scheme:    "https",
		Headers:   headers,
		Body:      body,
	}, nil
}

func fromHTTP2Response(resp *http2.Response) *pipeline.RawResponse {
	h := make(http.Header, len(resp.Headers))
	for _, hd := range resp.Headers {
		h.Add(hd.Name, hd.Value)
	}
	return &pipeline.RawResponse{
		StatusCode: resp.Status,
		Headers:    h,
		Body:       resp.Body,
	}
}

// asHarborlinkError unwraps err into *errors.Error, the way callers that
// need to branch on Kind do across this module.
func asHarborlinkError(err error, target **errors.Error) bool {
	he, ok := err.(*errors.Error)
	if !ok {
		return false
	}
	*target = he
	return true
}
