package pipeline

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlink/netcore/pkg/errors"
)

type fakeTransport struct {
	calls    int32
	handler  func(call int32, req *http.Request) (*RawResponse, error)
}

func (f *fakeTransport) RoundTrip(ctx context.Context, req *http.Request) (*RawResponse, error) {
	call := atomic.AddInt32(&f.calls, 1)
	return f.handler(call, req)
}

// TestPipeline_RetriesServiceUnavailable models S1: a request that
// returns 503 twice then 200 succeeds on the third attempt under
// exponential backoff, with the onRetryableError condition default.
func TestPipeline_RetriesServiceUnavailable(t *testing.T) {
	ft := &fakeTransport{handler: func(call int32, req *http.Request) (*RawResponse, error) {
		if call < 3 {
			return &RawResponse{StatusCode: http.StatusServiceUnavailable, Headers: http.Header{}}, nil
		}
		return &RawResponse{StatusCode: 200, Headers: http.Header{}, Body: []byte(`{"ok":true}`)}, nil
	}}

	p := New(ft, nil)
	p.BaseURL = "https://api.example.com"
	p.DefaultRetry = RetryPolicy{
		MaxAttempts: 5,
		Strategy:    StrategyExponentialBackoff,
		Base:        time.Millisecond,
		Max:         10 * time.Millisecond,
		Condition:   ConditionOnRetryableError,
	}

	var out struct {
		OK bool `json:"ok"`
	}
	err := p.Execute(context.Background(), &Request{Method: http.MethodGet, Endpoint: "/items"}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), atomic.LoadInt32(&ft.calls))
}

// TestRetryPolicy_ZeroValueDefaultsToRetryableErrorOnly confirms a bare
// RetryPolicy{} (Condition left at its zero value) follows the §4.4
// default of retrying only idempotent methods on a retryable error,
// rather than retrying unconditionally.
func TestRetryPolicy_ZeroValueDefaultsToRetryableErrorOnly(t *testing.T) {
	var p RetryPolicy
	assert.Equal(t, ConditionOnRetryableError, p.Condition)

	retryable := errors.NewServiceUnavailable(0)
	notRetryable := errors.NewInvalidStatusCode(http.StatusNotFound, nil)

	assert.True(t, p.shouldRetry(http.MethodGet, nil, retryable))
	assert.False(t, p.shouldRetry(http.MethodPost, nil, retryable))
	assert.False(t, p.shouldRetry(http.MethodGet, nil, notRetryable))
}

func TestPipeline_NonRetryable4xxFailsImmediately(t *testing.T) {
	ft := &fakeTransport{handler: func(call int32, req *http.Request) (*RawResponse, error) {
		return &RawResponse{StatusCode: http.StatusNotFound, Headers: http.Header{}, Body: []byte("nope")}, nil
	}}
	p := New(ft, nil)
	p.BaseURL = "https://api.example.com"
	p.DefaultRetry = RetryPolicy{MaxAttempts: 5, Strategy: StrategyConstant, Base: time.Millisecond, Condition: ConditionOnRetryableError}

	err := p.Execute(context.Background(), &Request{Method: http.MethodGet, Endpoint: "/missing"}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ft.calls))
}

func TestPipeline_ResolvesRelativeEndpointAgainstBaseURL(t *testing.T) {
	var capturedURL string
	ft := &fakeTransport{handler: func(call int32, req *http.Request) (*RawResponse, error) {
		capturedURL = req.URL.String()
		return &RawResponse{StatusCode: 200, Headers: http.Header{}, Body: []byte("{}")}, nil
	}}
	p := New(ft, nil)
	p.BaseURL = "https://api.example.com/v1"

	err := p.Execute(context.Background(), &Request{
		Method:   http.MethodGet,
		Endpoint: "widgets",
		Parameters: map[string][]string{"page": {"2"}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1/widgets?page=2", capturedURL)
}

func TestPipeline_InterceptorCanRejectRequest(t *testing.T) {
	ft := &fakeTransport{handler: func(call int32, req *http.Request) (*RawResponse, error) {
		t.Fatal("transport should not be reached")
		return nil, nil
	}}
	p := New(ft, nil)
	p.BaseURL = "https://api.example.com"
	p.Interceptors = []Interceptor{
		InterceptorFunc(func(ctx context.Context, req *Request) (*Request, error) {
			return nil, assert.AnError
		}),
	}

	err := p.Execute(context.Background(), &Request{Method: http.MethodGet, Endpoint: "/x"}, nil)
	require.Error(t, err)
}

func TestPipeline_ObserverSeesSuccessAndFailureAttempts(t *testing.T) {
	ft := &fakeTransport{handler: func(call int32, req *http.Request) (*RawResponse, error) {
		if call == 1 {
			return &RawResponse{StatusCode: http.StatusInternalServerError, Headers: http.Header{}}, nil
		}
		return &RawResponse{StatusCode: 200, Headers: http.Header{}, Body: []byte(`{"ok":true}`)}, nil
	}}

	p := New(ft, nil)
	p.BaseURL = "https://api.example.com"
	p.DefaultRetry = RetryPolicy{MaxAttempts: 2, Strategy: StrategyImmediate, Condition: ConditionOnRetryableError}

	var outcomes []AttemptOutcome
	p.Observer = func(o AttemptOutcome) { outcomes = append(outcomes, o) }

	err := p.Execute(context.Background(), &Request{Method: http.MethodGet, Endpoint: "/flaky"}, nil)
	require.NoError(t, err)

	require.Len(t, outcomes, 2)
	assert.Equal(t, "api.example.com", outcomes[0].Host)
	assert.False(t, outcomes[0].Success)
	assert.True(t, outcomes[1].Success)
}

func TestPipeline_CancelRequestStopsInFlightAttempt(t *testing.T) {
	ft := &fakeTransport{handler: func(call int32, req *http.Request) (*RawResponse, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}}

	p := New(ft, nil)
	p.BaseURL = "https://api.example.com"

	req := &Request{Method: http.MethodGet, Endpoint: "/slow", CorrelationID: uuid.New()}
	done := make(chan error, 1)
	go func() {
		done <- p.Execute(context.Background(), req, nil)
	}()

	// give ExecuteRaw time to register the canceler before we fire it
	time.Sleep(10 * time.Millisecond)
	p.CancelRequest(req.CorrelationID)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not unblock the request")
	}
}
