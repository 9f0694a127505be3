// Package download implements the download manager named in §1 as an
// external collaborator and specified under the ancillary-subsystems
// [EXPANSION] of SPEC_FULL.md: streaming large
// GET responses into a caller-supplied io.Writer with resumable Range
// requests and progress callbacks. Grounded on the teacher's buffer/timing
// packages for progress plumbing, built atop pkg/pipeline rather than
// dialing the transport directly.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/harborlink/netcore/pkg/errors"
	"github.com/harborlink/netcore/pkg/pipeline"
)

// Progress reports transfer state after every chunk write.
type Progress struct {
	BytesRead  int64
	TotalBytes int64 // 0 if unknown (no Content-Length / Content-Range)
	ETA        time.Duration
}

// Manager wraps a Pipeline for large-response downloads.
type Manager struct {
	Pipeline *pipeline.Pipeline

	// ChunkSize bounds how much is read from the response body between
	// progress callbacks. Defaults to 32KB.
	ChunkSize int
}

// New builds a Manager over an existing Pipeline.
func New(p *pipeline.Pipeline) *Manager {
	return &Manager{Pipeline: p, ChunkSize: 32 * 1024}
}

// Download issues req, streaming the response body into dst in ChunkSize
// increments and invoking onProgress after each write. Chunk placement
// within dst stays the caller's responsibility: Manager only sequences
// reads and writes, it does not seek or pre-size dst.
func (m *Manager) Download(ctx context.Context, req *pipeline.Request, dst io.Writer, onProgress func(Progress)) error {
	raw, err := m.Pipeline.ExecuteRaw(ctx, req)
	if err != nil {
		return err
	}
	return m.stream(raw, dst, 0, onProgress)
}

// Resume continues a previously interrupted download by requesting the
// byte range starting at offset (via a "Range: bytes=offset-" header,
// §6's HTTP semantics) and appending to dst. The server's acceptance of
// the range is judged by the status code alone: anything other than 206
// Partial Content (a 200 means the server ignored the range) is an error
// and the caller must restart from zero. The Content-Range start offset is
// not compared against offset; the header is read only for the total size.
func (m *Manager) Resume(ctx context.Context, req *pipeline.Request, offset int64, dst io.Writer, onProgress func(Progress)) error {
	resumeReq := *req
	if resumeReq.Headers == nil {
		resumeReq.Headers = map[string]string{}
	} else {
		headers := make(map[string]string, len(req.Headers)+1)
		for k, v := range req.Headers {
			headers[k] = v
		}
		resumeReq.Headers = headers
	}
	resumeReq.Headers["Range"] = fmt.Sprintf("bytes=%d-", offset)

	raw, err := m.Pipeline.ExecuteRaw(ctx, &resumeReq)
	if err != nil {
		return err
	}
	if raw.StatusCode != http.StatusPartialContent {
		return errors.New(errors.KindInvalidResponse, "download_resume",
			"server did not honor range request, restart required", nil)
	}
	return m.stream(raw, dst, offset, onProgress)
}

func (m *Manager) stream(raw *pipeline.RawResponse, dst io.Writer, startOffset int64, onProgress func(Progress)) error {
	chunkSize := m.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}

	total := parseContentLength(raw)
	start := time.Now()
	var written int64

	body := raw.Body
	for len(body) > 0 {
		n := chunkSize
		if n > len(body) {
			n = len(body)
		}
		if _, err := dst.Write(body[:n]); err != nil {
			return errors.New(errors.KindEncodingFailed, "download_stream", "writing response chunk", err)
		}
		written += int64(n)
		body = body[n:]

		if onProgress != nil {
			onProgress(Progress{
				BytesRead:  startOffset + written,
				TotalBytes: total,
				ETA:        estimateETA(start, written, total),
			})
		}
	}
	return nil
}

func parseContentLength(raw *pipeline.RawResponse) int64 {
	if cl := raw.Headers.Get("Content-Length"); cl != "" {
		var n int64
		if _, err := fmt.Sscanf(cl, "%d", &n); err == nil {
			return n
		}
	}
	if cr := raw.Headers.Get("Content-Range"); cr != "" {
		var start, end, size int64
		if _, err := fmt.Sscanf(cr, "bytes %d-%d/%d", &start, &end, &size); err == nil {
			return size
		}
	}
	return 0
}

func estimateETA(start time.Time, written, total int64) time.Duration {
	if total <= 0 || written <= 0 {
		return 0
	}
	elapsed := time.Since(start)
	rate := float64(written) / elapsed.Seconds()
	if rate <= 0 {
		return 0
	}
	remaining := total - written
	return time.Duration(float64(remaining) / rate * float64(time.Second))
}
