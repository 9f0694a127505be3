package http2

import (
	"encoding/binary"
	"fmt"

	"github.com/harborlink/netcore/pkg/errors"
)

// FrameHeader is the bit-exact 9-octet header preceding every frame (§4.2):
// length:u24, type:u8, flags:u8, reserved:1 bit, streamId:u31.
type FrameHeader struct {
	Length   uint32 // 24 bits
	Type     FrameType
	Flags    byte
	StreamID uint32 // 31 bits; top bit (R) always reads/writes as 0
}

// RawFrame is a fully self-contained frame: header plus payload bytes. It
// exists so that Serialize/Parse form an exact round trip independent of any
// higher-level frame interpretation (invariant 2).
type RawFrame struct {
	Header  FrameHeader
	Payload []byte
}

// Serialize encodes f into its exact wire representation.
func (f *RawFrame) Serialize() []byte {
	out := make([]byte, 9+len(f.Payload))
	length := uint32(len(f.Payload))
	out[0] = byte(length >> 16)
	out[1] = byte(length >> 8)
	out[2] = byte(length)
	out[3] = byte(f.Header.Type)
	out[4] = f.Header.Flags
	binary.BigEndian.PutUint32(out[5:9], f.Header.StreamID&0x7fffffff)
	copy(out[9:], f.Payload)
	return out
}

// ParseFrame decodes one frame from data, returning the frame and the
// number of bytes consumed. maxFrameSize enforces §4.2's FRAME_SIZE_ERROR
// for oversized payloads.
func ParseFrame(data []byte, maxFrameSize uint32) (*RawFrame, int, error) {
	if len(data) < 9 {
		return nil, 0, fmt.Errorf("http2: short frame header: %d bytes", len(data))
	}
	length := uint32(data[0])<<16 | uint32(data[1])<<8 | uint32(data[2])
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	if length > maxFrameSize {
		return nil, 0, errors.NewFrameSizeError(fmt.Sprintf("frame length %d exceeds max %d", length, maxFrameSize))
	}
	if len(data) < int(9+length) {
		return nil, 0, fmt.Errorf("http2: incomplete frame: need %d bytes, have %d", 9+length, len(data))
	}
	hdr := FrameHeader{
		Length:   length,
		Type:     FrameType(data[3]),
		Flags:    data[4],
		StreamID: binary.BigEndian.Uint32(data[5:9]) & 0x7fffffff,
	}
	payload := make([]byte, length)
	copy(payload, data[9:9+length])
	return &RawFrame{Header: hdr, Payload: payload}, int(9 + length), nil
}

// Flag bit values used across frame types (subset needed by §4.2).
const (
	FlagEndStream  byte = 0x1
	FlagAck        byte = 0x1
	FlagEndHeaders byte = 0x4
	FlagPadded     byte = 0x8
	FlagPriority   byte = 0x20
)

// BuildDataFrame constructs a DATA frame (§4.2).
func BuildDataFrame(streamID uint32, data []byte, endStream bool) *RawFrame {
	var flags byte
	if endStream {
		flags |= FlagEndStream
	}
	return &RawFrame{Header: FrameHeader{Type: FrameData, Flags: flags, StreamID: streamID, Length: uint32(len(data))}, Payload: data}
}

// BuildHeadersFrame constructs a HEADERS frame whose payload is the
// caller-supplied HPACK-encoded header block (see Encoder.Encode).
func BuildHeadersFrame(streamID uint32, headerBlock []byte, endStream, endHeaders bool) *RawFrame {
	var flags byte
	if endStream {
		flags |= FlagEndStream
	}
	if endHeaders {
		flags |= FlagEndHeaders
	}
	return &RawFrame{Header: FrameHeader{Type: FrameHeaders, Flags: flags, StreamID: streamID, Length: uint32(len(headerBlock))}, Payload: headerBlock}
}

// BuildSettingsFrame encodes a SETTINGS frame. ack must carry an empty
// payload per §4.2 ("An ACK that is not empty is FRAME_SIZE_ERROR").
func BuildSettingsFrame(settings map[SettingID]uint32, ack bool) *RawFrame {
	if ack {
		return &RawFrame{Header: FrameHeader{Type: FrameSettings, Flags: FlagAck, StreamID: 0}}
	}
	payload := make([]byte, 0, len(settings)*6)
	for id, val := range settings {
		b := make([]byte, 6)
		binary.BigEndian.PutUint16(b[0:2], uint16(id))
		binary.BigEndian.PutUint32(b[2:6], val)
		payload = append(payload, b...)
	}
	return &RawFrame{Header: FrameHeader{Type: FrameSettings, StreamID: 0, Length: uint32(len(payload))}, Payload: payload}
}

// ParseSettingsFrame decodes a SETTINGS payload into an ordered slice of
// (id, value) pairs; §4.2 requires applying them in order.
func ParseSettingsFrame(f *RawFrame) ([]SettingPair, error) {
	if f.Header.Flags&FlagAck != 0 {
		if len(f.Payload) != 0 {
			return nil, errors.NewFrameSizeError("SETTINGS ACK must have empty payload")
		}
		return nil, nil
	}
	if len(f.Payload)%6 != 0 {
		return nil, errors.NewFrameSizeError("SETTINGS payload not a multiple of 6")
	}
	var pairs []SettingPair
	for i := 0; i < len(f.Payload); i += 6 {
		id := SettingID(binary.BigEndian.Uint16(f.Payload[i : i+2]))
		val := binary.BigEndian.Uint32(f.Payload[i+2 : i+6])
		pairs = append(pairs, SettingPair{ID: id, Value: val})
	}
	return pairs, nil
}

// SettingPair is one (identifier, value) entry from a SETTINGS frame.
type SettingPair struct {
	ID    SettingID
	Value uint32
}

// BuildPingFrame encodes a PING frame carrying 8 bytes of opaque data.
func BuildPingFrame(data [8]byte, ack bool) *RawFrame {
	var flags byte
	if ack {
		flags = FlagAck
	}
	return &RawFrame{Header: FrameHeader{Type: FramePing, Flags: flags, StreamID: 0, Length: 8}, Payload: data[:]}
}

// BuildWindowUpdateFrame encodes a WINDOW_UPDATE frame. Per §4.2, increment
// must be non-zero and must not overflow 2^31-1 when applied by the caller.
func BuildWindowUpdateFrame(streamID, increment uint32) (*RawFrame, error) {
	if increment == 0 {
		return nil, errors.NewProtocolError("WINDOW_UPDATE increment of 0 is a protocol error")
	}
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, increment&0x7fffffff)
	return &RawFrame{Header: FrameHeader{Type: FrameWindowUpdate, StreamID: streamID, Length: 4}, Payload: payload}, nil
}

// ParseWindowUpdateFrame extracts the increment from a WINDOW_UPDATE frame.
func ParseWindowUpdateFrame(f *RawFrame) (uint32, error) {
	if len(f.Payload) != 4 {
		return 0, errors.NewFrameSizeError("WINDOW_UPDATE payload must be 4 bytes")
	}
	inc := binary.BigEndian.Uint32(f.Payload) & 0x7fffffff
	if inc == 0 {
		return 0, errors.NewProtocolError("WINDOW_UPDATE increment of 0 is a protocol error")
	}
	return inc, nil
}

// BuildRSTStreamFrame encodes a RST_STREAM frame.
func BuildRSTStreamFrame(streamID uint32, code ErrCode) *RawFrame {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(code))
	return &RawFrame{Header: FrameHeader{Type: FrameRSTStream, StreamID: streamID, Length: 4}, Payload: payload}
}

// ParseRSTStreamFrame extracts the error code from a RST_STREAM frame.
func ParseRSTStreamFrame(f *RawFrame) (ErrCode, error) {
	if len(f.Payload) != 4 {
		return 0, errors.NewFrameSizeError("RST_STREAM payload must be 4 bytes")
	}
	return ErrCode(binary.BigEndian.Uint32(f.Payload)), nil
}

// BuildGoAwayFrame encodes a GOAWAY frame.
func BuildGoAwayFrame(lastStreamID uint32, code ErrCode, debug []byte) *RawFrame {
	payload := make([]byte, 8+len(debug))
	binary.BigEndian.PutUint32(payload[0:4], lastStreamID&0x7fffffff)
	binary.BigEndian.PutUint32(payload[4:8], uint32(code))
	copy(payload[8:], debug)
	return &RawFrame{Header: FrameHeader{Type: FrameGoAway, StreamID: 0, Length: uint32(len(payload))}, Payload: payload}
}

// ParseGoAwayFrame extracts lastStreamId/code/debug from a GOAWAY frame.
func ParseGoAwayFrame(f *RawFrame) (lastStreamID uint32, code ErrCode, debug []byte, err error) {
	if len(f.Payload) < 8 {
		return 0, 0, nil, errors.NewFrameSizeError("GOAWAY payload too short")
	}
	lastStreamID = binary.BigEndian.Uint32(f.Payload[0:4]) & 0x7fffffff
	code = ErrCode(binary.BigEndian.Uint32(f.Payload[4:8]))
	debug = f.Payload[8:]
	return lastStreamID, code, debug, nil
}

// BuildPushPromiseFrame encodes a PUSH_PROMISE frame.
func BuildPushPromiseFrame(streamID, promisedStreamID uint32, headerBlock []byte, endHeaders bool) *RawFrame {
	payload := make([]byte, 4+len(headerBlock))
	binary.BigEndian.PutUint32(payload[0:4], promisedStreamID&0x7fffffff)
	copy(payload[4:], headerBlock)
	var flags byte
	if endHeaders {
		flags |= FlagEndHeaders
	}
	return &RawFrame{Header: FrameHeader{Type: FramePushPromise, Flags: flags, StreamID: streamID, Length: uint32(len(payload))}, Payload: payload}
}

// ParsePushPromiseFrame extracts the promised stream id and header block.
func ParsePushPromiseFrame(f *RawFrame) (promisedStreamID uint32, headerBlock []byte, err error) {
	if len(f.Payload) < 4 {
		return 0, nil, errors.NewFrameSizeError("PUSH_PROMISE payload too short")
	}
	promisedStreamID = binary.BigEndian.Uint32(f.Payload[0:4]) & 0x7fffffff
	return promisedStreamID, f.Payload[4:], nil
}
