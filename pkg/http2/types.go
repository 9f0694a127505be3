// Package http2 implements the HTTP/2 framing layer (§4.2, C2): frame
// (de)serialization, the per-stream state machine, settings negotiation,
// and flow control. It builds on golang.org/x/net/http2's frame types and
// HPACK codec the way the teacher library does, but owns the stream state
// machine and connection bookkeeping itself rather than delegating to
// net/http's own HTTP/2 transport.
package http2

import (
	"time"

	"golang.org/x/net/http2"
)

// Preface is the exact 24-byte client connection preface (§6).
const Preface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// SettingID re-exports the six identifiers defined in §6.
type SettingID = http2.SettingID

const (
	SettingHeaderTableSize      = http2.SettingHeaderTableSize
	SettingEnablePush           = http2.SettingEnablePush
	SettingMaxConcurrentStreams = http2.SettingMaxConcurrentStreams
	SettingInitialWindowSize    = http2.SettingInitialWindowSize
	SettingMaxFrameSize         = http2.SettingMaxFrameSize
	SettingMaxHeaderListSize    = http2.SettingMaxHeaderListSize
)

// FrameType re-exports the ten supported frame types (§4.2).
type FrameType = http2.FrameType

const (
	FrameData         = http2.FrameData
	FrameHeaders      = http2.FrameHeaders
	FramePriority     = http2.FramePriority
	FrameRSTStream    = http2.FrameRSTStream
	FrameSettings     = http2.FrameSettings
	FramePushPromise  = http2.FramePushPromise
	FramePing         = http2.FramePing
	FrameGoAway       = http2.FrameGoAway
	FrameWindowUpdate = http2.FrameWindowUpdate
	FrameContinuation = http2.FrameContinuation
)

// ErrCode re-exports RST_STREAM/GOAWAY error codes.
type ErrCode = http2.ErrCode

const (
	ErrCodeNo                 = http2.ErrCodeNo
	ErrCodeProtocol           = http2.ErrCodeProtocol
	ErrCodeInternal           = http2.ErrCodeInternal
	ErrCodeFlowControl        = http2.ErrCodeFlowControl
	ErrCodeSettingsTimeout    = http2.ErrCodeSettingsTimeout
	ErrCodeStreamClosed       = http2.ErrCodeStreamClosed
	ErrCodeFrameSize          = http2.ErrCodeFrameSize
	ErrCodeRefusedStream      = http2.ErrCodeRefusedStream
	ErrCodeCancel             = http2.ErrCodeCancel
	ErrCodeCompression        = http2.ErrCodeCompression
	ErrCodeConnect            = http2.ErrCodeConnect
	ErrCodeEnhanceYourCalm    = http2.ErrCodeEnhanceYourCalm
	ErrCodeInadequateSecurity = http2.ErrCodeInadequateSecurity
	ErrCodeHTTP11Required     = http2.ErrCodeHTTP11Required
)

// DefaultMaxFrameSize is the §4.2 default payload cap before SETTINGS raises it.
const DefaultMaxFrameSize = 16384

// MaxMaxFrameSize is the largest value a peer may advertise via SETTINGS (2^24-1).
const MaxMaxFrameSize = 1<<24 - 1

// MaxWindowIncrement is the largest legal WINDOW_UPDATE increment (2^31-1).
const MaxWindowIncrement = 1<<31 - 1

// ConnectionSettings mirrors §3's ConnectionSettings data model, tracked
// independently for the local and remote peer of one connection.
type ConnectionSettings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32
}

// DefaultConnectionSettings returns the §3 defaults.
func DefaultConnectionSettings() ConnectionSettings {
	return ConnectionSettings{
		HeaderTableSize:      4096,
		EnablePush:           false,
		MaxConcurrentStreams: 100,
		InitialWindowSize:    65535,
		MaxFrameSize:         DefaultMaxFrameSize,
		MaxHeaderListSize:    8192,
	}
}

// Options configures a Client's connection-level behavior.
type Options struct {
	Settings        ConnectionSettings
	DialTimeout     time.Duration
	HandshakeTimeout time.Duration
	PingInterval    time.Duration
}

// DefaultOptions returns sensible defaults for a Client.
func DefaultOptions() *Options {
	return &Options{
		Settings:         DefaultConnectionSettings(),
		DialTimeout:      10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     0,
	}
}

// Request is the wire shape handed to a stream: method/path/authority come
// from pseudo-headers (§4.2 "Header encoding"), ordinary headers follow.
type Request struct {
	Method    string
	Path      string
	Authority string
	Scheme    string
	Headers   []Header // ordered, case-insensitive names lowercased on the wire
	Body      []byte
	Priority  *PriorityParam
}

// Header is one name/value pair; duplicates are permitted (§3 Request).
type Header struct {
	Name  string
	Value string
}

// PriorityParam carries HEADERS/PRIORITY frame priority fields.
type PriorityParam struct {
	StreamDependency uint32
	Exclusive        bool
	Weight           uint8
}

// Response is what a completed stream yields to the caller.
type Response struct {
	StreamID    uint32
	Status      int
	Headers     []Header
	Body        []byte
	ServerPush  []*PushPromise
	FrameStats  FrameStats
}

// PushPromise represents an accepted or pending PUSH_PROMISE (§4.2).
type PushPromise struct {
	PromisedStreamID uint32
	Headers          []Header
}

// FrameStats holds frame/byte counters for one stream's lifetime. Connection
// does not fill it in, so Response.FrameStats is always zero.
type FrameStats struct {
	FramesSent     int
	FramesReceived int
	BytesSent      int64
	BytesReceived  int64
}
