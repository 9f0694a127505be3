package http2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFrameRoundTrip covers invariant 2: parse(serialize(f)) = f for all
// well-formed frames with length <= maxFrameSize.
func TestFrameRoundTrip(t *testing.T) {
	cases := []*RawFrame{
		BuildDataFrame(1, []byte("hello world"), true),
		BuildSettingsFrame(map[SettingID]uint32{SettingInitialWindowSize: 65535}, false),
		BuildSettingsFrame(nil, true),
		BuildPingFrame([8]byte{1, 2, 3, 4, 5, 6, 7, 8}, false),
		BuildRSTStreamFrame(3, ErrCodeCancel),
		BuildGoAwayFrame(7, ErrCodeProtocol, []byte("bye")),
	}
	wu, err := BuildWindowUpdateFrame(5, 64)
	require.NoError(t, err)
	cases = append(cases, wu)

	for _, f := range cases {
		serialized := f.Serialize()
		got, n, err := ParseFrame(serialized, MaxMaxFrameSize)
		require.NoError(t, err)
		assert.Equal(t, len(serialized), n)
		assert.Equal(t, f.Header, got.Header)
		assert.Equal(t, f.Payload, got.Payload)
	}
}

func TestParseFrame_ExceedsMaxFrameSize(t *testing.T) {
	f := BuildDataFrame(1, make([]byte, 100), false)
	serialized := f.Serialize()
	_, _, err := ParseFrame(serialized, 50)
	require.Error(t, err)
}

func TestWindowUpdate_ZeroIncrementIsProtocolError(t *testing.T) {
	_, err := BuildWindowUpdateFrame(1, 0)
	require.Error(t, err)
}

func TestSettingsAck_NonEmptyPayloadIsFrameSizeError(t *testing.T) {
	f := &RawFrame{Header: FrameHeader{Type: FrameSettings, Flags: FlagAck, StreamID: 0}, Payload: []byte{1}}
	_, err := ParseSettingsFrame(f)
	require.Error(t, err)
}

func TestSettingsOrderPreserved(t *testing.T) {
	payload := []byte{
		0x00, 0x04, 0x00, 0x00, 0xff, 0xff, // INITIAL_WINDOW_SIZE = 65535
		0x00, 0x01, 0x00, 0x00, 0x10, 0x00, // HEADER_TABLE_SIZE = 4096
	}
	f := &RawFrame{Header: FrameHeader{Type: FrameSettings, StreamID: 0, Length: uint32(len(payload))}, Payload: payload}
	pairs, err := ParseSettingsFrame(f)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, SettingInitialWindowSize, pairs[0].ID)
	assert.Equal(t, SettingHeaderTableSize, pairs[1].ID)
}
