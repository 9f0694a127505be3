// Package buffer provides memory-efficient data storage with disk spilling
// for request/response bodies, including the upload manager's need to
// reseek a body on retry.
package buffer

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/harborlink/netcore/pkg/errors"
)

// DefaultMemoryLimit is the default in-memory threshold before spilling.
const DefaultMemoryLimit = 4 * 1024 * 1024 // 4MB

// Buffer stores data in memory and spills to a temp file once the payload
// exceeds the configured limit, so neither large downloads nor large
// uploads force the whole body to live in the heap.
type Buffer struct {
	buf    bytes.Buffer
	file   *os.File
	path   string
	size   int64
	limit  int64
	mu     sync.Mutex
	closed bool
}

// New creates a Buffer with the given memory limit (DefaultMemoryLimit if <= 0).
func New(limit int64) *Buffer {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &Buffer{limit: limit}
}

// NewWithData wraps existing bytes in a Buffer without copying semantics
// beyond what bytes.Buffer already performs.
func NewWithData(data []byte) *Buffer {
	b := &Buffer{limit: DefaultMemoryLimit, size: int64(len(data))}
	b.buf.Write(data)
	return b
}

// Write appends p, spilling to a temp file once the memory limit is crossed.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, errors.New(errors.KindEncodingFailed, "write", "buffer is closed", nil)
	}
	b.size += int64(len(p))

	if b.file == nil && int64(b.buf.Len()+len(p)) <= b.limit {
		return b.buf.Write(p)
	}

	if b.file == nil {
		tmp, err := os.CreateTemp("", "netcore-buffer-*.tmp")
		if err != nil {
			return 0, errors.New(errors.KindEncodingFailed, "write", "creating temp file", err)
		}
		b.file = tmp
		b.path = tmp.Name()
		if b.buf.Len() > 0 {
			if _, werr := tmp.Write(b.buf.Bytes()); werr != nil {
				b.closeLocked()
				return 0, errors.New(errors.KindEncodingFailed, "write", "writing to temp file", werr)
			}
		}
		b.buf.Reset()
	}

	n, err := b.file.Write(p)
	if err != nil {
		return n, errors.New(errors.KindEncodingFailed, "write", "writing to temp file", err)
	}
	return n, nil
}

// Bytes returns the in-memory payload; nil if the buffer has spilled.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file != nil {
		return nil
	}
	return b.buf.Bytes()
}

// Path returns the backing temp file path, empty if unspilled.
func (b *Buffer) Path() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.path
}

// Size returns the number of bytes written so far.
func (b *Buffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// IsSpilled reports whether the payload moved to disk.
func (b *Buffer) IsSpilled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file != nil
}

// Reader returns a fresh reader positioned at the start of the payload.
func (b *Buffer) Reader() (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.New(errors.KindDecodingFailed, "read", "buffer is closed", nil)
	}
	if b.file != nil {
		if err := b.file.Sync(); err != nil {
			return nil, errors.New(errors.KindDecodingFailed, "read", "syncing temp file", err)
		}
		f, err := os.Open(b.path)
		if err != nil {
			return nil, errors.New(errors.KindDecodingFailed, "read", "opening temp file", err)
		}
		return f, nil
	}
	return io.NopCloser(bytes.NewReader(b.buf.Bytes())), nil
}

// ReaderAt returns a random-access reader over the payload: the temp file
// when it has spilled to disk, otherwise a copy of the in-memory bytes.
// pkg/upload uses it to read a spilled payload back out in one piece.
func (b *Buffer) ReaderAt() (io.ReaderAt, func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, errors.New(errors.KindDecodingFailed, "read", "buffer is closed", nil)
	}
	if b.file == nil {
		data := append([]byte(nil), b.buf.Bytes()...)
		return bytes.NewReader(data), func() error { return nil }, nil
	}
	if err := b.file.Sync(); err != nil {
		return nil, nil, errors.New(errors.KindDecodingFailed, "read", "syncing temp file", err)
	}
	f, err := os.Open(b.path)
	if err != nil {
		return nil, nil, errors.New(errors.KindDecodingFailed, "read", "opening temp file", err)
	}
	return f, f.Close, nil
}

func (b *Buffer) closeLocked() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.file != nil {
		err := b.file.Close()
		if removeErr := os.Remove(b.path); removeErr != nil && err == nil {
			err = removeErr
		}
		b.file = nil
		b.path = ""
		if err != nil {
			return errors.New(errors.KindEncodingFailed, "close", "closing temp file", err)
		}
	}
	return nil
}

// Close releases the backing temp file, if any. Idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked()
}

// Reset clears the buffer for reuse.
func (b *Buffer) Reset() error {
	b.mu.Lock()
	err := b.closeLocked()
	b.buf.Reset()
	b.size = 0
	b.closed = false
	b.mu.Unlock()
	return err
}
