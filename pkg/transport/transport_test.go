package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_NegotiatesHTTP1ForPlainScheme(t *testing.T) {
	r := NewRouter(nil, nil)
	req := &http.Request{URL: &url.URL{Scheme: "http"}}
	assert.Equal(t, ProtocolHTTP1, r.negotiate(req))
}

func TestRouter_NegotiatesHTTP2ForHTTPS(t *testing.T) {
	r := NewRouter(nil, nil)
	req := &http.Request{URL: &url.URL{Scheme: "https"}}
	assert.Equal(t, ProtocolHTTP2, r.negotiate(req))
}

func TestRouter_NegotiatesWebSocketForWSScheme(t *testing.T) {
	r := NewRouter(nil, nil)
	req := &http.Request{URL: &url.URL{Scheme: "wss"}}
	assert.Equal(t, ProtocolWebSocket, r.negotiate(req))

	req2 := &http.Request{URL: &url.URL{Scheme: "ws"}}
	assert.Equal(t, ProtocolWebSocket, r.negotiate(req2))
}

func TestRouter_ForceProtocolOverridesScheme(t *testing.T) {
	r := NewRouter(nil, nil)
	r.ForceProtocol = ProtocolHTTP1
	req := &http.Request{URL: &url.URL{Scheme: "https"}}
	assert.Equal(t, ProtocolHTTP1, r.negotiate(req))
}

func TestHTTP1Sender_RoundTripsPlainServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	r := NewRouter(nil, nil)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	httpReq, err := http.NewRequest(http.MethodGet, u.String(), nil)
	require.NoError(t, err)

	resp, err := r.RoundTrip(context.Background(), httpReq)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "ok", string(resp.Body))
}

func TestHTTP1Sender_PopulatesTimingMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	r := NewRouter(nil, nil)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	httpReq, err := http.NewRequest(http.MethodGet, u.String(), nil)
	require.NoError(t, err)

	resp, err := r.RoundTrip(context.Background(), httpReq)
	require.NoError(t, err)
	assert.Greater(t, resp.Metrics.TotalTime.Nanoseconds(), int64(0))
}

func TestResolveAddr_AppliesSchemeDefaultPorts(t *testing.T) {
	https, _ := url.Parse("https://example.com/foo")
	assert.Equal(t, "example.com:443", resolveAddr(https))

	withPort, _ := url.Parse("http://example.com:8080/foo")
	assert.Equal(t, "example.com:8080", resolveAddr(withPort))

	plain, _ := url.Parse("http://example.com/foo")
	assert.Equal(t, "example.com:80", resolveAddr(plain))
}
