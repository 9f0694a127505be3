package batch

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlink/netcore/pkg/pipeline"
)

type fakeTransport struct {
	handler func(req *http.Request) (*pipeline.RawResponse, error)
}

func (f *fakeTransport) RoundTrip(ctx context.Context, req *http.Request) (*pipeline.RawResponse, error) {
	return f.handler(req)
}

func newTestPipeline(handler func(req *http.Request) (*pipeline.RawResponse, error)) *pipeline.Pipeline {
	p := pipeline.New(&fakeTransport{handler: handler}, nil)
	p.BaseURL = "https://api.example.com"
	return p
}

func TestExecutor_RunsAllItemsAndAggregatesStats(t *testing.T) {
	p := newTestPipeline(func(req *http.Request) (*pipeline.RawResponse, error) {
		return &pipeline.RawResponse{StatusCode: 200, Headers: http.Header{}, Body: []byte("{}")}, nil
	})

	e := New(p)
	items := []Item{
		{ID: "a", Request: &pipeline.Request{Method: http.MethodGet, Endpoint: "/a"}},
		{ID: "b", Request: &pipeline.Request{Method: http.MethodGet, Endpoint: "/b"}},
		{ID: "c", Request: &pipeline.Request{Method: http.MethodGet, Endpoint: "/c"}},
	}

	results, stats, err := e.Run(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, StatusSucceeded, r.Status)
	}
	assert.Equal(t, 3, stats.Successes)
	assert.Equal(t, 0, stats.Failures)
}

// TestExecutor_PriorityAndContinueOnErrorFalse models S4: items
// [A(p=0), B(p=9), C(p=5)] at concurrency 1; B fails non-retryably.
// Expected: B runs first, A and C are cancelled without being sent, and
// the submission-order result array is [Cancelled, Failed, Cancelled].
func TestExecutor_PriorityAndContinueOnErrorFalse(t *testing.T) {
	var order []string
	var mu sync.Mutex

	p := newTestPipeline(func(req *http.Request) (*pipeline.RawResponse, error) {
		mu.Lock()
		order = append(order, req.URL.Path)
		mu.Unlock()
		if req.URL.Path == "/b" {
			return &pipeline.RawResponse{StatusCode: 400, Headers: http.Header{}, Body: []byte("bad")}, nil
		}
		return &pipeline.RawResponse{StatusCode: 200, Headers: http.Header{}, Body: []byte("{}")}, nil
	})

	e := New(p)
	e.MaxConcurrent = 1
	e.PriorityQueue = true
	e.ContinueOnError = false
	e.DefaultRetry = &pipeline.RetryPolicy{MaxAttempts: 1, Condition: pipeline.ConditionNever}

	items := []Item{
		{ID: "A", Priority: 0, Request: &pipeline.Request{Method: http.MethodGet, Endpoint: "/a"}},
		{ID: "B", Priority: 9, Request: &pipeline.Request{Method: http.MethodGet, Endpoint: "/b"}},
		{ID: "C", Priority: 5, Request: &pipeline.Request{Method: http.MethodGet, Endpoint: "/c"}},
	}

	results, stats, err := e.Run(context.Background(), items)
	require.Error(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, StatusCancelled, results[0].Status) // A
	assert.Equal(t, StatusFailed, results[1].Status)     // B
	assert.Equal(t, StatusCancelled, results[2].Status)  // C
	assert.Equal(t, 1, stats.Failures)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 1)
	assert.Equal(t, "/b", order[0])
}

func TestExecutor_ContinueOnErrorTrueRunsEveryItem(t *testing.T) {
	p := newTestPipeline(func(req *http.Request) (*pipeline.RawResponse, error) {
		if req.URL.Path == "/bad" {
			return &pipeline.RawResponse{StatusCode: 500, Headers: http.Header{}, Body: []byte("err")}, nil
		}
		return &pipeline.RawResponse{StatusCode: 200, Headers: http.Header{}, Body: []byte("{}")}, nil
	})

	e := New(p)
	e.DefaultRetry = &pipeline.RetryPolicy{MaxAttempts: 1, Condition: pipeline.ConditionNever}
	items := []Item{
		{ID: "ok1", Request: &pipeline.Request{Method: http.MethodGet, Endpoint: "/ok1"}},
		{ID: "bad", Request: &pipeline.Request{Method: http.MethodGet, Endpoint: "/bad"}},
		{ID: "ok2", Request: &pipeline.Request{Method: http.MethodGet, Endpoint: "/ok2"}},
	}

	results, stats, err := e.Run(context.Background(), items)
	require.Error(t, err)
	assert.Equal(t, StatusSucceeded, results[0].Status)
	assert.Equal(t, StatusFailed, results[1].Status)
	assert.Equal(t, StatusSucceeded, results[2].Status)
	assert.Equal(t, 2, stats.Successes)
	assert.Equal(t, 1, stats.Failures)
}

func TestExecutor_BoundsConcurrency(t *testing.T) {
	var active int32
	var maxActive int32

	p := newTestPipeline(func(req *http.Request) (*pipeline.RawResponse, error) {
		cur := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if cur <= m || atomic.CompareAndSwapInt32(&maxActive, m, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return &pipeline.RawResponse{StatusCode: 200, Headers: http.Header{}, Body: []byte("{}")}, nil
	})

	e := New(p)
	e.MaxConcurrent = 2
	items := make([]Item, 8)
	for i := range items {
		items[i] = Item{ID: string(rune('a' + i)), Request: &pipeline.Request{Method: http.MethodGet, Endpoint: "/x"}}
	}

	_, _, err := e.Run(context.Background(), items)
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxActive), int32(2))
}

func TestExecutor_ProgressIsMonotoneInCompleted(t *testing.T) {
	p := newTestPipeline(func(req *http.Request) (*pipeline.RawResponse, error) {
		return &pipeline.RawResponse{StatusCode: 200, Headers: http.Header{}, Body: []byte("{}")}, nil
	})

	e := New(p)
	var mu sync.Mutex
	var seen []int
	e.OnProgress = func(p Progress) {
		mu.Lock()
		seen = append(seen, p.Completed)
		mu.Unlock()
	}

	items := make([]Item, 5)
	for i := range items {
		items[i] = Item{ID: string(rune('a' + i)), Request: &pipeline.Request{Method: http.MethodGet, Endpoint: "/x"}}
	}
	_, _, err := e.Run(context.Background(), items)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
	assert.Equal(t, 5, seen[len(seen)-1])
}
