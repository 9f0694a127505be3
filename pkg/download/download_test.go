package download

import (
	"bytes"
	"context"
	"net/http"
	"testing"

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

func TestManager_DownloadStreamsFullBody(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 100)
	p := pipeline.New(&fakeTransport{handler: func(req *http.Request) (*pipeline.RawResponse, error) {
		h := http.Header{}
		h.Set("Content-Length", "100")
		return &pipeline.RawResponse{StatusCode: 200, Headers: h, Body: body}, nil
	}}, nil)
	p.BaseURL = "https://example.com"

	m := New(p)
	m.ChunkSize = 10

	var dst bytes.Buffer
	var progressCalls int
	var lastTotal int64
	err := m.Download(context.Background(), &pipeline.Request{Method: http.MethodGet, Endpoint: "/f"}, &dst, func(pr Progress) {
		progressCalls++
		lastTotal = pr.TotalBytes
	})

	require.NoError(t, err)
	assert.Equal(t, body, dst.Bytes())
	assert.Equal(t, 10, progressCalls)
	assert.Equal(t, int64(100), lastTotal)
}

func TestManager_ResumeRequiresPartialContent(t *testing.T) {
	p := pipeline.New(&fakeTransport{handler: func(req *http.Request) (*pipeline.RawResponse, error) {
		assert.Equal(t, "bytes=50-", req.Header.Get("Range"))
		return &pipeline.RawResponse{StatusCode: 200, Headers: http.Header{}, Body: []byte("ignored range")}, nil
	}}, nil)
	p.BaseURL = "https://example.com"

	m := New(p)
	var dst bytes.Buffer
	err := m.Resume(context.Background(), &pipeline.Request{Method: http.MethodGet, Endpoint: "/f"}, 50, &dst, nil)
	require.Error(t, err)
}

func TestManager_ResumeAppendsFromOffset(t *testing.T) {
	p := pipeline.New(&fakeTransport{handler: func(req *http.Request) (*pipeline.RawResponse, error) {
		h := http.Header{}
		h.Set("Content-Range", "bytes 50-99/100")
		return &pipeline.RawResponse{StatusCode: http.StatusPartialContent, Headers: h, Body: bytes.Repeat([]byte("y"), 50)}, nil
	}}, nil)
	p.BaseURL = "https://example.com"

	m := New(p)
	var dst bytes.Buffer
	var lastRead int64
	err := m.Resume(context.Background(), &pipeline.Request{Method: http.MethodGet, Endpoint: "/f"}, 50, &dst, func(pr Progress) {
		lastRead = pr.BytesRead
	})

	require.NoError(t, err)
	assert.Equal(t, 50, dst.Len())
	assert.Equal(t, int64(100), lastRead)
}
