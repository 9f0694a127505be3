package http2

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/harborlink/netcore/pkg/errors"
)

// Connection owns one HTTP/2 connection's stream arena and flow-control
// state (§5: "HTTP/2 connection: a single writer task serializes frame
// egress; multiple reader consumers are fed by a single demultiplexer keyed
// on stream id"). Streams are addressed by id through this type; nothing
// outside holds a cyclic reference back to the Connection (§9).
type Connection struct {
	conn net.Conn

	mu            sync.RWMutex
	streams       map[uint32]*Stream
	headerBlocks  map[uint32][]byte // accumulates CONTINUATION fragments keyed by stream id
	rejectedPush  map[uint32]bool   // promised stream ids rejected via S5
	local         ConnectionSettings
	remote        ConnectionSettings
	remoteApplied bool
	goneAway      bool
	lastStreamID  uint32
	closed        bool
	closeErr      error

	nextStreamID atomic.Uint32
	sendWindow   atomic.Int64
	recvWindow   atomic.Int64

	windowCond *sync.Cond

	writeCh chan *RawFrame
	closeCh chan struct{}
	done    chan struct{}

	decoder *HeaderDecoder
	encMu   sync.Mutex
	encoder *HeaderCodec

	// There is no separate waiter table for §9's open question about
	// "waitForResponse": each Stream in streams carries its own
	// responseDone channel, which the reader goroutine closes through
	// Stream.complete and RoundTrip's caller waits on via Stream.Wait.
}

// Dial opens a TCP+TLS connection already handed to it (conn must already
// have completed the TLS handshake with ALPN "h2" negotiated, matching
// §4.2's preface requirement: "sent immediately after TLS"), writes the
// preface and initial SETTINGS, and starts the connection's egress/ingress
// goroutines.
func Dial(conn net.Conn, opts *Options) (*Connection, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	c := &Connection{
		conn:         conn,
		streams:      make(map[uint32]*Stream),
		headerBlocks: make(map[uint32][]byte),
		rejectedPush: make(map[uint32]bool),
		local:        opts.Settings,
		remote:       DefaultConnectionSettings(),
		writeCh:      make(chan *RawFrame, 64),
		closeCh:      make(chan struct{}),
		done:         make(chan struct{}),
		decoder:      NewHeaderDecoder(opts.Settings.HeaderTableSize),
		encoder:      NewHeaderCodec(),
	}
	c.windowCond = sync.NewCond(&c.mu)
	c.sendWindow.Store(int64(DefaultConnectionSettings().InitialWindowSize))
	c.recvWindow.Store(int64(opts.Settings.InitialWindowSize))
	// client-initiated stream ids are odd and monotonically increasing (§3).
	c.nextStreamID.Store(1)

	if _, err := conn.Write([]byte(Preface)); err != nil {
		return nil, errors.New(errors.KindConnectionLost, "preface", "writing client preface", err)
	}

	go c.writeLoop()

	settingsPayload := map[SettingID]uint32{
		SettingHeaderTableSize:      c.local.HeaderTableSize,
		SettingMaxConcurrentStreams: c.local.MaxConcurrentStreams,
		SettingInitialWindowSize:    c.local.InitialWindowSize,
		SettingMaxFrameSize:         c.local.MaxFrameSize,
		SettingMaxHeaderListSize:    c.local.MaxHeaderListSize,
	}
	if c.local.EnablePush {
		settingsPayload[SettingEnablePush] = 1
	} else {
		settingsPayload[SettingEnablePush] = 0
	}
	c.writeCh <- BuildSettingsFrame(settingsPayload, false)

	go c.readLoop()
	return c, nil
}

func (c *Connection) writeLoop() {
	for {
		select {
		case f, ok := <-c.writeCh:
			if !ok {
				return
			}
			if _, err := c.conn.Write(f.Serialize()); err != nil {
				c.fail(errors.New(errors.KindConnectionLost, "write", "writing frame", err))
				return
			}
		case <-c.closeCh:
			return
		}
	}
}

func (c *Connection) readLoop() {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	firstFrame := true

	for {
		n, err := c.conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			c.fail(errors.New(errors.KindConnectionLost, "read", "connection read failed", err))
			return
		}
		for {
			maxFrame := c.localMaxFrameSize()
			frame, consumed, perr := ParseFrame(buf, maxFrame)
			if perr != nil {
				if errors.GetKind(perr) != errors.KindFrameSizeError {
					break // incomplete frame, read more
				}
				c.goAway(ErrCodeFrameSize)
				c.fail(perr)
				return
			}
			buf = buf[consumed:]

			if firstFrame {
				firstFrame = false
				if frame.Header.Type != FrameSettings {
					c.goAway(ErrCodeProtocol)
					c.fail(errors.NewProtocolError("first frame from peer was not SETTINGS"))
					return
				}
			}

			if err := c.handleFrame(frame); err != nil {
				c.fail(err)
				return
			}
			select {
			case <-c.done:
				return
			default:
			}
		}
	}
}

func (c *Connection) localMaxFrameSize() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.local.MaxFrameSize == 0 {
		return DefaultMaxFrameSize
	}
	return c.local.MaxFrameSize
}

func (c *Connection) handleFrame(f *RawFrame) error {
	switch f.Header.Type {
	case FrameSettings:
		return c.handleSettings(f)
	case FrameHeaders:
		return c.handleHeaders(f)
	case FrameContinuation:
		return c.handleContinuation(f)
	case FrameData:
		return c.handleData(f)
	case FrameWindowUpdate:
		return c.handleWindowUpdate(f)
	case FrameRSTStream:
		return c.handleRST(f)
	case FrameGoAway:
		return c.handleGoAway(f)
	case FramePushPromise:
		return c.handlePushPromise(f)
	case FramePing:
		return c.handlePing(f)
	case FramePriority:
		return nil // priority reprioritization is accepted but not enforced
	default:
		return nil
	}
}

// handleSettings applies received SETTINGS in order, then ACKs (§4.2).
//
// A SETTINGS_INITIAL_WINDOW_SIZE change does not retroactively adjust the
// SendWindow of streams already open (RFC 7540 §6.9.2 requires this); it
// only affects streams opened after the change. Revisit if a peer that
// changes its initial window mid-connection needs to be supported.
func (c *Connection) handleSettings(f *RawFrame) error {
	pairs, err := ParseSettingsFrame(f)
	if err != nil {
		return err
	}
	if f.Header.Flags&FlagAck != 0 {
		return nil // peer ACKed our settings; nothing to apply
	}
	c.mu.Lock()
	for _, p := range pairs {
		switch p.ID {
		case SettingHeaderTableSize:
			c.remote.HeaderTableSize = p.Value
		case SettingEnablePush:
			c.remote.EnablePush = p.Value == 1
		case SettingMaxConcurrentStreams:
			c.remote.MaxConcurrentStreams = p.Value
		case SettingInitialWindowSize:
			c.remote.InitialWindowSize = p.Value
		case SettingMaxFrameSize:
			c.remote.MaxFrameSize = p.Value
		case SettingMaxHeaderListSize:
			c.remote.MaxHeaderListSize = p.Value
		}
	}
	c.remoteApplied = true
	c.windowCond.Broadcast()
	c.mu.Unlock()

	c.writeCh <- BuildSettingsFrame(nil, true)
	return nil
}

func (c *Connection) getStream(id uint32) *Stream {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streams[id]
}

func (c *Connection) handleHeaders(f *RawFrame) error {
	block := f.Payload
	endHeaders := f.Header.Flags&FlagEndHeaders != 0
	if !endHeaders {
		c.mu.Lock()
		c.headerBlocks[f.Header.StreamID] = append(c.headerBlocks[f.Header.StreamID], block...)
		c.mu.Unlock()
		return nil
	}
	return c.finishHeaders(f.Header.StreamID, block, f.Header.Flags&FlagEndStream != 0)
}

func (c *Connection) handleContinuation(f *RawFrame) error {
	c.mu.Lock()
	c.headerBlocks[f.Header.StreamID] = append(c.headerBlocks[f.Header.StreamID], f.Payload...)
	c.mu.Unlock()
	if f.Header.Flags&FlagEndHeaders == 0 {
		return nil
	}
	c.mu.Lock()
	block := c.headerBlocks[f.Header.StreamID]
	delete(c.headerBlocks, f.Header.StreamID)
	c.mu.Unlock()
	return c.finishHeaders(f.Header.StreamID, block, false)
}

func (c *Connection) finishHeaders(streamID uint32, block []byte, endStream bool) error {
	stream := c.getStream(streamID)
	if stream == nil {
		return nil // response for an unknown/already-closed stream; ignore
	}
	if stream.IsClosed() {
		return errors.NewProtocolError("HEADERS received on closed stream")
	}
	statusCode, headers, err := c.decoder.DecodeResponse(block)
	if err != nil {
		return err
	}

	if endStream {
		if err := stream.transition(eventRecvHeadersEndStream); err != nil {
			return err
		}
	} else {
		if err := stream.transition(eventRecvHeaders); err != nil {
			return err
		}
	}

	stream.mu.Lock()
	if stream.response == nil {
		stream.response = &Response{StreamID: streamID}
	}
	stream.response.Status = statusCode
	stream.response.Headers = headers
	stream.mu.Unlock()

	if endStream {
		stream.complete(stream.response, nil)
		c.removeStream(streamID)
	}
	return nil
}

func (c *Connection) handleData(f *RawFrame) error {
	stream := c.getStream(f.Header.StreamID)
	if stream == nil {
		return nil
	}
	if stream.IsClosed() {
		return errors.NewProtocolError("DATA received on closed stream")
	}

	c.recvWindow.Add(-int64(len(f.Payload)))
	stream.mu.Lock()
	stream.bodyBuf = append(stream.bodyBuf, f.Payload...)
	stream.RecvWindow -= int64(len(f.Payload))
	stream.mu.Unlock()

	endStream := f.Header.Flags&FlagEndStream != 0
	if endStream {
		if err := stream.transition(eventRecvEndStream); err != nil {
			return err
		}
		stream.mu.Lock()
		if stream.response == nil {
			stream.response = &Response{StreamID: f.Header.StreamID}
		}
		stream.response.Body = stream.bodyBuf
		resp := stream.response
		stream.mu.Unlock()
		stream.complete(resp, nil)
		c.removeStream(f.Header.StreamID)
	}
	return nil
}

func (c *Connection) handleWindowUpdate(f *RawFrame) error {
	inc, err := ParseWindowUpdateFrame(f)
	if err != nil {
		return err
	}
	if f.Header.StreamID == 0 {
		cur := c.sendWindow.Load()
		if cur+int64(inc) > MaxWindowIncrement {
			return errors.NewFlowControlError("connection send window overflow")
		}
		c.sendWindow.Add(int64(inc))
	} else {
		stream := c.getStream(f.Header.StreamID)
		if stream == nil {
			return nil
		}
		stream.mu.Lock()
		if stream.SendWindow+int64(inc) > MaxWindowIncrement {
			stream.mu.Unlock()
			return errors.NewFlowControlError("stream send window overflow")
		}
		stream.SendWindow += int64(inc)
		stream.mu.Unlock()
	}
	c.mu.Lock()
	c.windowCond.Broadcast()
	c.mu.Unlock()
	return nil
}

func (c *Connection) handleRST(f *RawFrame) error {
	code, err := ParseRSTStreamFrame(f)
	if err != nil {
		return err
	}
	stream := c.getStream(f.Header.StreamID)
	if stream != nil {
		stream.transition(eventRST)
		stream.complete(nil, errors.New(errors.KindStreamClosed, "http2",
			fmt.Sprintf("stream %d reset by peer (error code %d)", f.Header.StreamID, code), nil))
		c.removeStream(f.Header.StreamID)
	}
	return nil
}

func (c *Connection) handleGoAway(f *RawFrame) error {
	lastID, code, _, err := ParseGoAwayFrame(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.goneAway = true
	c.lastStreamID = lastID
	var toFail []*Stream
	for id, s := range c.streams {
		if id > lastID {
			toFail = append(toFail, s)
		}
	}
	c.mu.Unlock()
	for _, s := range toFail {
		s.complete(nil, errors.NewGoaway(lastID, uint32(code)))
	}
	return nil
}

// handlePushPromise implements §4.2 + S5: if local enablePush=false,
// reject with RST_STREAM(CANCEL) on the promised stream and keep the
// connection open, rather than tearing the whole connection down.
func (c *Connection) handlePushPromise(f *RawFrame) error {
	promisedID, _, err := ParsePushPromiseFrame(f)
	if err != nil {
		return err
	}
	c.mu.RLock()
	pushEnabled := c.local.EnablePush
	c.mu.RUnlock()

	if !pushEnabled {
		c.mu.Lock()
		c.rejectedPush[promisedID] = true
		c.mu.Unlock()
		c.writeCh <- BuildRSTStreamFrame(promisedID, ErrCodeCancel)
		return nil
	}
	// Push accepted: reserve the promised stream for the caller to act on.
	c.mu.Lock()
	c.streams[promisedID] = newStream(promisedID, int64(c.remote.InitialWindowSize), int64(c.local.InitialWindowSize))
	c.streams[promisedID].transition(eventReserveRemote)
	c.mu.Unlock()
	return nil
}

func (c *Connection) handlePing(f *RawFrame) error {
	if f.Header.Flags&FlagAck != 0 {
		return nil
	}
	var data [8]byte
	copy(data[:], f.Payload)
	c.writeCh <- BuildPingFrame(data, true)
	return nil
}

func (c *Connection) removeStream(id uint32) {
	c.mu.Lock()
	delete(c.streams, id)
	c.windowCond.Broadcast()
	c.mu.Unlock()
}

func (c *Connection) goAway(code ErrCode) {
	select {
	case c.writeCh <- BuildGoAwayFrame(c.lastClientStreamID(), code, nil):
	default:
	}
}

func (c *Connection) lastClientStreamID() uint32 {
	return c.nextStreamID.Load()
}

func (c *Connection) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = err
	streams := make([]*Stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	c.mu.Unlock()

	for _, s := range streams {
		s.complete(nil, err)
	}
	close(c.done)
	close(c.closeCh)
}

// Close tears the connection down gracefully with GOAWAY(NO_ERROR).
func (c *Connection) Close() error {
	select {
	case c.writeCh <- BuildGoAwayFrame(c.lastClientStreamID(), ErrCodeNo, nil):
	default:
	}
	c.fail(errors.New(errors.KindConnectionLost, "close", "connection closed locally", nil))
	return c.conn.Close()
}

// waitForSlot blocks until fewer than remoteSettings.maxConcurrentStreams
// streams are open, implementing §5's back-pressure rule (FIFO via
// sync.Cond.Wait's native wakeup ordering is not guaranteed FIFO, but
// admission is re-checked by every waiter on every broadcast so no waiter
// starves indefinitely while slots free up).
func (c *Connection) waitForSlot(done <-chan struct{}) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-done:
			c.mu.Lock()
			c.windowCond.Broadcast()
			c.mu.Unlock()
		case <-stop:
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		select {
		case <-done:
			return errors.NewCancelled("http2_open_stream")
		default:
		}
		if c.closed {
			return c.closeErr
		}
		max := c.remote.MaxConcurrentStreams
		if max == 0 {
			max = DefaultConnectionSettings().MaxConcurrentStreams
		}
		if uint32(len(c.streams)) < max {
			return nil
		}
		c.windowCond.Wait()
	}
}
