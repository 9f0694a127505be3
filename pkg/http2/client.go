package http2

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/harborlink/netcore/pkg/errors"
)

// DialTLS dials addr, completes a TLS handshake negotiating ALPN "h2", and
// starts an HTTP/2 Connection over it. tlsConfig should already carry the
// pinning/cipher policy from pkg/tlsconfig and pkg/pin; DialTLS itself only
// enforces the h2 protocol negotiation §4.2 requires.
func DialTLS(ctx context.Context, addr string, tlsConfig *tls.Config, opts *Options) (*Connection, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	cfg := tlsConfig.Clone()
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{"h2"}
	}

	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.NewCannotConnect(addr, err)
	}

	tlsConn := tls.Client(rawConn, cfg)
	hsCtx := ctx
	if opts.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hsCtx, cancel = context.WithTimeout(ctx, opts.HandshakeTimeout)
		defer cancel()
	}
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		rawConn.Close()
		return nil, errors.New(errors.KindSslCertificateError, "tls_handshake", "TLS handshake failed", err)
	}
	if tlsConn.ConnectionState().NegotiatedProtocol != "h2" {
		tlsConn.Close()
		return nil, errors.NewProtocolError("server did not negotiate h2 via ALPN")
	}

	return Dial(tlsConn, opts)
}

// Open allocates the next client-initiated stream id, sends HEADERS (and
// DATA, respecting flow control) for req, and returns the stream. The
// caller retrieves the eventual Response via Stream.Wait.
func (c *Connection) Open(ctx context.Context, req *Request) (*Stream, error) {
	if err := c.waitForSlot(ctx.Done()); err != nil {
		return nil, err
	}

	id := c.nextStreamID.Add(2) - 2

	c.mu.RLock()
	remoteWindow := int64(c.remote.InitialWindowSize)
	localWindow := int64(c.local.InitialWindowSize)
	c.mu.RUnlock()

	stream := newStream(id, remoteWindow, localWindow)
	stream.Request = req
	c.mu.Lock()
	c.streams[id] = stream
	c.mu.Unlock()

	c.encMu.Lock()
	block, err := c.encoder.Encode(req)
	c.encMu.Unlock()
	if err != nil {
		c.removeStream(id)
		return nil, err
	}

	endStream := len(req.Body) == 0
	event := eventSendHeaders
	if endStream {
		event = eventSendHeadersEndStream
	}
	if err := stream.transition(event); err != nil {
		c.removeStream(id)
		return nil, err
	}

	c.writeCh <- BuildHeadersFrame(id, block, endStream, true)

	if !endStream {
		if err := c.sendData(ctx, stream, req.Body, true); err != nil {
			return nil, err
		}
	}

	return stream, nil
}

// sendData chunks data across DATA frames respecting both the connection
// and stream send windows (§4.2 flow control; S6 models the case where the
// window starts at zero and frames are withheld until WINDOW_UPDATE).
func (c *Connection) sendData(ctx context.Context, stream *Stream, data []byte, endStream bool) error {
	maxFrame := c.remoteMaxFrameSize()

	for len(data) > 0 {
		n, err := c.acquireSendWindow(ctx, stream, int64(len(data)), maxFrame)
		if err != nil {
			return err
		}
		chunk := data[:n]
		data = data[n:]
		last := len(data) == 0
		c.writeCh <- BuildDataFrame(stream.ID, chunk, last && endStream)
	}
	if len(data) == 0 && endStream {
		if err := stream.transition(eventSendEndStream); err != nil {
			return err
		}
	}
	return nil
}

// acquireSendWindow blocks until at least one byte of connection+stream
// send window is available, then atomically reserves up to want bytes
// (capped at maxFrame) and returns how many bytes the caller may send.
func (c *Connection) acquireSendWindow(ctx context.Context, stream *Stream, want int64, maxFrame uint32) (int64, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
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
		case <-ctx.Done():
			return 0, errors.NewCancelled("http2_send_data")
		default:
		}
		if c.closed {
			return 0, c.closeErr
		}
		connWindow := c.sendWindow.Load()
		stream.mu.Lock()
		streamWindow := stream.SendWindow
		stream.mu.Unlock()

		avail := connWindow
		if streamWindow < avail {
			avail = streamWindow
		}
		if avail > 0 {
			n := want
			if n > avail {
				n = avail
			}
			if n > int64(maxFrame) {
				n = int64(maxFrame)
			}
			c.sendWindow.Add(-n)
			stream.mu.Lock()
			stream.SendWindow -= n
			stream.mu.Unlock()
			return n, nil
		}
		c.windowCond.Wait()
	}
}

func (c *Connection) remoteMaxFrameSize() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.remote.MaxFrameSize == 0 {
		return DefaultMaxFrameSize
	}
	return c.remote.MaxFrameSize
}

// RoundTrip opens a stream for req and blocks for its Response, the C2
// entry point pkg/transport calls into for an h2 connection.
func (c *Connection) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	stream, err := c.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream.Wait(ctx.Done())
}
