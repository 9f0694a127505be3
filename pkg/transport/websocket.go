package transport

import (
	"context"
	"io"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/harborlink/netcore/pkg/errors"
	"github.com/harborlink/netcore/pkg/pipeline"
	"github.com/harborlink/netcore/pkg/timing"
)

// websocketSender handles ws/wss endpoints as a single request/response
// exchange: dial, write the request body (if any) as one text message,
// read one reply message back, close. Long-lived duplex streaming is a
// surface-layer concern left to the application (§1 non-goals scope this
// library to typed request/response semantics, not a general duplex API).
type websocketSender struct {
	router *Router
	dialer *websocket.Dialer
}

func newWebSocketSender(r *Router) *websocketSender {
	return &websocketSender{
		router: r,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
		},
	}
}

func (s *websocketSender) RoundTrip(ctx context.Context, req *http.Request) (*pipeline.RawResponse, error) {
	timer := timing.NewTimer()

	dialer := *s.dialer
	if req.URL.Scheme == "wss" {
		dialer.TLSClientConfig = s.router.tlsConfigFor(req.URL.Hostname())
	}

	timer.StartTCP()
	conn, httpResp, err := dialer.DialContext(ctx, req.URL.String(), req.Header)
	timer.EndTCP()
	if err != nil {
		if httpResp != nil {
			httpResp.Body.Close()
		}
		return nil, errors.New(errors.KindCannotConnectToHost, "websocket_dial", "websocket handshake failed", err)
	}
	defer conn.Close()

	if req.Body != nil {
		body, rerr := io.ReadAll(req.Body)
		req.Body.Close()
		if rerr != nil {
			return nil, errors.New(errors.KindEncodingFailed, "websocket_transport", "failed reading request body", rerr)
		}
		if len(body) > 0 {
			if werr := conn.WriteMessage(websocket.TextMessage, body); werr != nil {
				return nil, errors.New(errors.KindConnectionLost, "websocket_transport", "failed writing request message", werr)
			}
		}
	}
	timer.MarkSent()

	_, message, err := conn.ReadMessage()
	if err != nil {
		return nil, errors.New(errors.KindConnectionLost, "websocket_transport", "failed reading response message", err)
	}
	timer.MarkFirstByte()
	timer.MarkLastByte()

	return &pipeline.RawResponse{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       message,
		Metrics:    timer.Metrics(),
	}, nil
}
