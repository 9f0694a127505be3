// Package errors provides the structured error taxonomy used across netcore.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Kind categorizes a failure the way the pipeline, framer, and auth manager
// need to branch on it: retry, surface, or treat as fatal.
type Kind string

const (
	// Connection kinds.
	KindNoConnection        Kind = "no_connection"
	KindConnectionTimeout   Kind = "connection_timeout"
	KindConnectionLost      Kind = "connection_lost"
	KindCannotConnectToHost Kind = "cannot_connect_to_host"

	// Request kinds.
	KindInvalidURL      Kind = "invalid_url"
	KindInvalidRequest  Kind = "invalid_request"
	KindCancelled       Kind = "cancelled"
	KindTooManyRequests Kind = "too_many_requests"
	KindPayloadTooLarge Kind = "payload_too_large"

	// Response kinds.
	KindInvalidResponse   Kind = "invalid_response"
	KindNoData            Kind = "no_data"
	KindDecodingFailed    Kind = "decoding_failed"
	KindEncodingFailed    Kind = "encoding_failed"
	KindInvalidStatusCode Kind = "invalid_status_code"

	// Server kinds.
	KindServerError        Kind = "server_error"
	KindServiceUnavailable Kind = "service_unavailable"
	KindGatewayTimeout     Kind = "gateway_timeout"

	// Auth kinds.
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindTokenExpired       Kind = "token_expired"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindMissingRefresh     Kind = "missing_refresh_token"
	KindAuthorizationPending Kind = "authorization_pending"
	KindSlowDown           Kind = "slow_down"
	KindDeviceCodeExpired  Kind = "device_code_expired"
	KindStateMismatch      Kind = "state_mismatch"
	KindUnsupportedGrant   Kind = "unsupported_grant_type"
	KindJwtSigningFailed   Kind = "jwt_signing_failed"

	// Security kinds.
	KindSslCertificateError Kind = "ssl_certificate_error"
	KindInsecureConnection  Kind = "insecure_connection"
	KindTlsPinFailure       Kind = "tls_pin_failure"

	// HTTP/2 kinds.
	KindProtocolError   Kind = "protocol_error"
	KindFrameSizeError  Kind = "frame_size_error"
	KindFlowControlError Kind = "flow_control_error"
	KindStreamClosed    Kind = "stream_closed"
	KindGoaway          Kind = "goaway"
)

// Error is the single structured error type used across the module. Every
// Kind above is surfaced through it so callers can type-switch on Kind
// instead of on concrete Go types.
type Error struct {
	Kind      Kind
	Op        string
	Message   string
	Cause     error
	Timestamp time.Time

	// Kind-specific payload. Only the fields relevant to Kind are set.
	RetryAfter   time.Duration // TooManyRequests, ServiceUnavailable
	MaxSize      int64         // PayloadTooLarge
	StatusCode   int           // InvalidStatusCode, ServerError
	BodyBytes    []byte        // InvalidStatusCode
	LastStreamID uint32        // Goaway
	GoawayCode   uint32        // Goaway
	Host         string
	URL          string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Kind)
	if e.Op != "" {
		b.WriteByte(' ')
		b.WriteString(e.Op)
	}
	if e.Host != "" {
		b.WriteByte(' ')
		b.WriteString(e.Host)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a structured error of the given kind.
func New(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause, Timestamp: time.Now()}
}

// IsRetryable implements the §7 propagation policy: network failures, 408,
// 429, 5xx, connection timeouts and service-unavailable are retryable
// locally; everything else must surface immediately.
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindNoConnection, KindConnectionTimeout, KindConnectionLost,
		KindCannotConnectToHost, KindTooManyRequests, KindServerError,
		KindServiceUnavailable, KindGatewayTimeout:
		return true
	default:
		return false
	}
}

// RecoverySuggestion returns a short, human-readable recovery hint, or "" if
// none applies. Nullable by contract (§7 "a nullable recovery suggestion").
func (e *Error) RecoverySuggestion() string {
	switch e.Kind {
	case KindTokenExpired, KindUnauthorized:
		return "re-authenticate or refresh the access token"
	case KindTooManyRequests, KindServiceUnavailable:
		return "retry after the indicated delay"
	case KindTlsPinFailure:
		return "verify the server's certificate chain and update configured pins"
	case KindInvalidURL:
		return "check the endpoint and base URL configuration"
	case KindPayloadTooLarge:
		return "reduce the request body size or raise the configured limit"
	case KindCancelled:
		return ""
	default:
		return ""
	}
}

// NewConnectionTimeout creates a ConnectionTimeout(d) error.
func NewConnectionTimeout(host string, d time.Duration) *Error {
	return &Error{
		Kind: KindConnectionTimeout, Op: "dial",
		Message: fmt.Sprintf("connection timed out after %v", d),
		Host:    host, Timestamp: time.Now(),
	}
}

// NewCannotConnect creates a CannotConnectToHost(host) error.
func NewCannotConnect(host string, cause error) *Error {
	return &Error{
		Kind: KindCannotConnectToHost, Op: "dial",
		Message: fmt.Sprintf("cannot connect to %s", host),
		Cause:   cause, Host: host, Timestamp: time.Now(),
	}
}

// NewInvalidURL creates an InvalidURL(u) error.
func NewInvalidURL(u string, cause error) *Error {
	return &Error{Kind: KindInvalidURL, Op: "resolve", Message: "invalid URL", Cause: cause, URL: u, Timestamp: time.Now()}
}

// NewCancelled creates a Cancelled error.
func NewCancelled(op string) *Error {
	return &Error{Kind: KindCancelled, Op: op, Message: "operation cancelled", Timestamp: time.Now()}
}

// NewTooManyRequests creates a TooManyRequests(retryAfter?) error.
func NewTooManyRequests(retryAfter time.Duration) *Error {
	return &Error{Kind: KindTooManyRequests, Op: "validate", Message: "rate limited", RetryAfter: retryAfter, Timestamp: time.Now()}
}

// NewPayloadTooLarge creates a PayloadTooLarge(maxSize) error.
func NewPayloadTooLarge(maxSize int64) *Error {
	return &Error{Kind: KindPayloadTooLarge, Op: "validate", Message: "payload exceeds limit", MaxSize: maxSize, Timestamp: time.Now()}
}

// NewDecodingFailed creates a DecodingFailed(cause) error.
func NewDecodingFailed(cause error) *Error {
	return &Error{Kind: KindDecodingFailed, Op: "decode", Message: "failed to decode response body", Cause: cause, Timestamp: time.Now()}
}

// NewEncodingFailed creates an EncodingFailed(cause) error.
func NewEncodingFailed(cause error) *Error {
	return &Error{Kind: KindEncodingFailed, Op: "encode", Message: "failed to encode request body", Cause: cause, Timestamp: time.Now()}
}

// NewInvalidStatusCode creates an InvalidStatusCode(code, bodyBytes?) error.
func NewInvalidStatusCode(code int, body []byte) *Error {
	return &Error{Kind: KindInvalidStatusCode, Op: "validate", Message: fmt.Sprintf("unexpected status code %d", code), StatusCode: code, BodyBytes: body, Timestamp: time.Now()}
}

// NewServerError creates a ServerError(code, message?) error.
func NewServerError(code int, message string) *Error {
	return &Error{Kind: KindServerError, Op: "validate", Message: message, StatusCode: code, Timestamp: time.Now()}
}

// NewServiceUnavailable creates a ServiceUnavailable(retryAfter?) error.
func NewServiceUnavailable(retryAfter time.Duration) *Error {
	return &Error{Kind: KindServiceUnavailable, Op: "validate", Message: "service unavailable", RetryAfter: retryAfter, Timestamp: time.Now()}
}

// NewGatewayTimeout creates a GatewayTimeout error.
func NewGatewayTimeout() *Error {
	return &Error{Kind: KindGatewayTimeout, Op: "validate", Message: "gateway timeout", Timestamp: time.Now()}
}

// NewUnauthorized creates an Unauthorized(reason?) error.
func NewUnauthorized(reason string) *Error {
	return &Error{Kind: KindUnauthorized, Op: "auth", Message: reason, Timestamp: time.Now()}
}

// NewStateMismatch creates a StateMismatch error for an authorization_code
// callback whose state parameter does not match the value sent with the
// authorization request.
func NewStateMismatch() *Error {
	return &Error{Kind: KindStateMismatch, Op: "authenticate", Message: "callback state does not match the value sent with the authorization request", Timestamp: time.Now()}
}

// NewTlsPinFailure creates a TlsPinFailure error for the given host.
func NewTlsPinFailure(host, reason string) *Error {
	return &Error{Kind: KindTlsPinFailure, Op: "pin_validate", Message: reason, Host: host, Timestamp: time.Now()}
}

// NewGoaway creates a Goaway(lastStreamId, code) error.
func NewGoaway(lastStreamID uint32, code uint32) *Error {
	return &Error{Kind: KindGoaway, Op: "http2", Message: "connection closing", LastStreamID: lastStreamID, GoawayCode: code, Timestamp: time.Now()}
}

// NewProtocolError creates a ProtocolError.
func NewProtocolError(message string) *Error {
	return &Error{Kind: KindProtocolError, Op: "http2", Message: message, Timestamp: time.Now()}
}

// NewFrameSizeError creates a FrameSizeError.
func NewFrameSizeError(message string) *Error {
	return &Error{Kind: KindFrameSizeError, Op: "http2", Message: message, Timestamp: time.Now()}
}

// NewFlowControlError creates a FlowControlError.
func NewFlowControlError(message string) *Error {
	return &Error{Kind: KindFlowControlError, Op: "http2", Message: message, Timestamp: time.Now()}
}

// NewStreamClosed creates a StreamClosed error.
func NewStreamClosed(streamID uint32) *Error {
	return &Error{Kind: KindStreamClosed, Op: "http2", Message: fmt.Sprintf("stream %d is closed", streamID), Timestamp: time.Now()}
}

// IsTimeoutError reports whether err represents a timeout, structured or not.
func IsTimeoutError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindConnectionTimeout || e.Kind == KindGatewayTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsRetryable reports whether err is retryable per §7, judged by the Kind
// of the *Error it wraps; an error with no *Error in its chain is reported
// as not retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.IsRetryable()
	}
	return false
}

// IsCancelled reports whether err represents cancellation.
func IsCancelled(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindCancelled
	}
	return errors.Is(err, context.Canceled)
}

// GetKind returns the Kind of a structured error, or "" otherwise.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
