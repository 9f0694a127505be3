// Package pipeline implements the Request Execution Pipeline (C4): the
// single entry point that takes a typed request and runs it through
// resolution, header assembly, interceptors, auth injection, transport,
// response processing, validation, and decoding, with retry and
// cancellation woven through every suspension point.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/harborlink/netcore/pkg/errors"
	"github.com/harborlink/netcore/pkg/timing"
)

// idempotentMethods is the default set of methods eligible for automatic
// retry (§4.4 "Retry is allowed only for idempotent methods by default").
var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
	http.MethodTrace:   true,
}

// Request is the pipeline's input contract (§4.4).
type Request struct {
	Method       string
	Endpoint     string
	Parameters   url.Values
	Body         interface{}
	Headers      map[string]string
	RetryPolicy  *RetryPolicy // overrides the pipeline default when set
	Timeout      time.Duration
	CorrelationID uuid.UUID
}

// RawResponse is what the transport seam and response processors operate
// on before decoding.
type RawResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Metrics    timing.Metrics
}

// Interceptor may replace or reject a request before it reaches the
// transport (§4.4 step 3).
type Interceptor interface {
	Intercept(ctx context.Context, req *Request) (*Request, error)
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc func(ctx context.Context, req *Request) (*Request, error)

func (f InterceptorFunc) Intercept(ctx context.Context, req *Request) (*Request, error) {
	return f(ctx, req)
}

// ResponseProcessor transforms response body bytes (§4.4 step 6).
type ResponseProcessor interface {
	Process(ctx context.Context, body []byte) ([]byte, error)
}

// ResponseProcessorFunc adapts a function to ResponseProcessor.
type ResponseProcessorFunc func(ctx context.Context, body []byte) ([]byte, error)

func (f ResponseProcessorFunc) Process(ctx context.Context, body []byte) ([]byte, error) {
	return f(ctx, body)
}

// Authenticator yields headers to inject, possibly suspending to refresh
// a token (§4.4 step 4). pkg/auth.Manager satisfies this.
type Authenticator interface {
	AuthHeaders(ctx context.Context) (map[string]string, error)
}

// Transport submits a fully-resolved *http.Request and returns the raw
// response. pkg/transport implements this across HTTP/1.1, HTTP/2, and
// WebSocket upgrade requests.
type Transport interface {
	RoundTrip(ctx context.Context, req *http.Request) (*RawResponse, error)
}

// AttemptOutcome summarizes one transport attempt (successful or not) for
// an observer, without the pipeline needing to import pkg/metrics itself.
type AttemptOutcome struct {
	Host       string
	Duration   time.Duration
	BytesIn    int
	Success    bool
	TimedOut   bool
	ConnFailed bool
}

// AttemptObserver is notified once per transport attempt. pkg/metrics.Monitor
// hooks in here via netcore.Client to build its sliding window.
type AttemptObserver func(AttemptOutcome)

// Pipeline is the C4 Request Execution Pipeline.
type Pipeline struct {
	BaseURL        string
	DefaultHeaders map[string]string
	DefaultRetry   RetryPolicy
	DefaultTimeout time.Duration

	Transport     Transport
	Auth          Authenticator // nil disables auth injection
	Interceptors  []Interceptor
	Processors    []ResponseProcessor

	// Observer, when set, is called once per transport attempt (§4.6
	// Observability). Nil disables the hook entirely.
	Observer AttemptObserver

	Log *logrus.Entry

	mu        sync.Mutex
	cancelers map[uuid.UUID]context.CancelFunc
}

// New builds a Pipeline. log may be nil.
func New(transport Transport, log *logrus.Entry) *Pipeline {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Pipeline{
		Transport:      transport,
		DefaultRetry:   RetryPolicy{MaxAttempts: 1, Strategy: StrategyImmediate, Condition: ConditionNever},
		DefaultTimeout: 30 * time.Second,
		Log:            log.WithField("component", "pipeline"),
		cancelers:      make(map[uuid.UUID]context.CancelFunc),
	}
}

// Execute runs req through the full pipeline and decodes the result into
// out (a pointer), per the §4.4 contract. Passing a nil out skips
// decoding (step 8) and leaves the caller with only the raw response via
// ExecuteRaw.
func (p *Pipeline) Execute(ctx context.Context, req *Request, out interface{}) error {
	raw, err := p.ExecuteRaw(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw.Body, out); err != nil {
		return errors.NewDecodingFailed(err)
	}
	return nil
}

// ExecuteRaw runs steps 1-7 of §4.4 and returns the raw response without
// decoding (step 8), for callers that want the body bytes or streaming
// consumers like pkg/download.
func (p *Pipeline) ExecuteRaw(ctx context.Context, req *Request) (*RawResponse, error) {
	if req.CorrelationID == uuid.Nil {
		req.CorrelationID = uuid.New()
	}
	log := p.Log.WithField("correlation_id", req.CorrelationID.String())

	timeout := req.Timeout
	if timeout == 0 {
		timeout = p.DefaultTimeout
	}
	ctx, cancel := context.WithCancel(ctx)
	p.registerCancel(req.CorrelationID, cancel)
	defer p.unregisterCancel(req.CorrelationID)
	defer cancel()

	policy := p.DefaultRetry
	if req.RetryPolicy != nil {
		policy = *req.RetryPolicy
	}

	resolved, err := p.resolve(req)
	if err != nil {
		return nil, err
	}

	resolved, err = p.runInterceptors(ctx, resolved)
	if err != nil {
		return nil, err
	}

	return p.attemptWithRetry(ctx, resolved, policy, timeout, log)
}

// resolve implements §4.4 step 1: absolute endpoints pass through,
// relative ones are joined to BaseURL; GET/HEAD/DELETE parameters merge
// into the URL query, everything else is body-encoded.
func (p *Pipeline) resolve(req *Request) (*Request, error) {
	clone := *req
	if clone.Headers == nil {
		clone.Headers = map[string]string{}
	} else {
		h := make(map[string]string, len(req.Headers))
		for k, v := range req.Headers {
			h[k] = v
		}
		clone.Headers = h
	}

	u, err := resolveURL(p.BaseURL, req.Endpoint)
	if err != nil {
		return nil, errors.NewInvalidURL(req.Endpoint, err)
	}

	mergesIntoQuery := req.Method == "" || req.Method == http.MethodGet ||
		req.Method == http.MethodHead || req.Method == http.MethodDelete
	if mergesIntoQuery && len(req.Parameters) > 0 {
		q := u.Query()
		for k, vs := range req.Parameters {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	clone.Endpoint = u.String()

	for k, v := range p.DefaultHeaders {
		if _, overridden := clone.Headers[k]; !overridden {
			clone.Headers[k] = v
		}
	}
	return &clone, nil
}

func resolveURL(base, endpoint string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	if u.IsAbs() {
		return u, nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	return b.ResolveReference(&url.URL{Path: normalizePath(b.Path, endpoint)}), nil
}

func normalizePath(basePath, endpoint string) string {
	return strings.TrimRight(basePath, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

// runInterceptors implements §4.4 step 3.
func (p *Pipeline) runInterceptors(ctx context.Context, req *Request) (*Request, error) {
	cur := req
	for _, ic := range p.Interceptors {
		select {
		case <-ctx.Done():
			return nil, errors.NewCancelled("interceptor_chain")
		default:
		}
		next, err := ic.Intercept(ctx, cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// buildHTTPRequest implements §4.4 step 2/body-encoding and folds in auth
// injection (step 4), run last so earlier interceptors observe a
// deterministic request.
func (p *Pipeline) buildHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	var bodyReader io.Reader
	contentType := ""

	if req.Body != nil {
		switch b := req.Body.(type) {
		case []byte:
			bodyReader = bytes.NewReader(b)
		case string:
			bodyReader = strings.NewReader(b)
		default:
			encoded, err := json.Marshal(req.Body)
			if err != nil {
				return nil, errors.NewEncodingFailed(err)
			}
			bodyReader = bytes.NewReader(encoded)
			contentType = "application/json"
		}
	} else if len(req.Parameters) > 0 && req.Method != http.MethodGet &&
		req.Method != http.MethodHead && req.Method != http.MethodDelete {
		bodyReader = strings.NewReader(req.Parameters.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.Endpoint, bodyReader)
	if err != nil {
		return nil, errors.NewInvalidURL(req.Endpoint, err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	if p.Auth != nil {
		authHeaders, err := p.Auth.AuthHeaders(ctx)
		if err != nil {
			return nil, err
		}
		for k, v := range authHeaders {
			httpReq.Header.Set(k, v)
		}
	}

	return httpReq, nil
}

func (p *Pipeline) registerCancel(id uuid.UUID, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelers[id] = cancel
}

func (p *Pipeline) unregisterCancel(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cancelers, id)
}

// CancelRequest cancels one in-flight request by correlation id.
func (p *Pipeline) CancelRequest(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cancel, ok := p.cancelers[id]
	if ok {
		cancel()
	}
	return ok
}

// CancelAll cancels every in-flight request (§9 "cancelAll").
func (p *Pipeline) CancelAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.cancelers {
		cancel()
	}
}

// validate maps a raw HTTP status to a terminal error per §7, or nil for
// a successful outcome.
func validate(resp *RawResponse) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return errors.NewTooManyRequests(retryAfter(resp.Headers))
	case resp.StatusCode == http.StatusRequestTimeout:
		return errors.New(errors.KindConnectionTimeout, "validate", "request timed out", nil)
	case resp.StatusCode == http.StatusServiceUnavailable:
		return errors.NewServiceUnavailable(retryAfter(resp.Headers))
	case resp.StatusCode == http.StatusGatewayTimeout:
		return errors.NewGatewayTimeout()
	case resp.StatusCode >= 500:
		return errors.NewServerError(resp.StatusCode, string(resp.Body))
	case resp.StatusCode >= 400:
		return errors.NewInvalidStatusCode(resp.StatusCode, resp.Body)
	default:
		return nil
	}
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil {
		return secs
	}
	if when, err := http.ParseTime(v); err == nil {
		return time.Until(when)
	}
	return 0
}

func isIdempotent(method string) bool {
	if method == "" {
		return true // default method is GET
	}
	return idempotentMethods[strings.ToUpper(method)]
}
