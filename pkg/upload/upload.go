// Package upload implements the upload manager named in §1 as an external
// collaborator and specified under the ancillary-subsystems [EXPANSION] of
// SPEC_FULL.md: sending a caller-supplied io.Reader as a request body with
// progress callbacks and the pipeline's retry/cancellation semantics.
// Grounded on the teacher's buffer/timing packages; the source is drained
// once into a pkg/buffer.Buffer, and every attempt, retries included, sends
// the same payload read back out of it.
package upload

import (
	"context"
	"io"
	"time"

	"github.com/harborlink/netcore/pkg/buffer"
	"github.com/harborlink/netcore/pkg/errors"
	"github.com/harborlink/netcore/pkg/pipeline"
)

// Progress reports how much of the source has been read into the upload
// buffer; it is reported before the request is sent.
type Progress struct {
	BytesWritten int64
	TotalBytes   int64 // 0 if unknown
	ETA          time.Duration
}

// Manager wraps a Pipeline for request bodies sourced from an io.Reader.
type Manager struct {
	Pipeline *pipeline.Pipeline
}

// New builds a Manager over an existing Pipeline.
func New(p *pipeline.Pipeline) *Manager {
	return &Manager{Pipeline: p}
}

// Upload buffers src (spilling to disk past pkg/buffer's memory limit),
// then reads the buffered payload back into one []byte and executes req
// with it as the body, so the whole body is held in memory for the request
// even when the buffer spilled. totalBytes, if known ahead of time (0 if
// not), is reported back via onProgress. The pipeline retries that []byte
// body directly — no reseek of src is required since src is read only once.
func (m *Manager) Upload(ctx context.Context, req *pipeline.Request, src io.Reader, totalBytes int64, onProgress func(Progress)) (*pipeline.RawResponse, error) {
	buf := buffer.New(buffer.DefaultMemoryLimit)
	defer buf.Close()

	start := time.Now()
	var written int64
	chunk := make([]byte, 32*1024)
	for {
		n, rerr := src.Read(chunk)
		if n > 0 {
			if _, werr := buf.Write(chunk[:n]); werr != nil {
				return nil, werr
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(Progress{
					BytesWritten: written,
					TotalBytes:   totalBytes,
					ETA:          estimateETA(start, written, totalBytes),
				})
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, errors.New(errors.KindEncodingFailed, "upload_read", "reading upload source", rerr)
		}
	}

	body, err := bodyFor(buf)
	if err != nil {
		return nil, err
	}

	cloned := *req
	cloned.Body = body
	return m.Pipeline.ExecuteRaw(ctx, &cloned)
}

// bodyFor extracts the buffered payload as a single []byte, re-reading
// from disk via the buffer's ReaderAt seam when it spilled. This keeps the
// request body type uniform ([]byte, passed straight through by
// pipeline.buildHTTPRequest) regardless of whether the upload stayed in
// memory or spilled.
func bodyFor(buf *buffer.Buffer) ([]byte, error) {
	if data := buf.Bytes(); data != nil {
		return data, nil
	}
	r, closeFn, err := buf.ReaderAt()
	if err != nil {
		return nil, err
	}
	defer closeFn()

	data := make([]byte, buf.Size())
	if _, err := io.ReadFull(io.NewSectionReader(r, 0, buf.Size()), data); err != nil {
		return nil, errors.New(errors.KindEncodingFailed, "upload_read", "reading spilled upload buffer", err)
	}
	return data, nil
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
