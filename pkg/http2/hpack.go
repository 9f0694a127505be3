package http2

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/harborlink/netcore/pkg/errors"
	"golang.org/x/net/http2/hpack"
)

// HeaderCodec encodes/decodes HEADERS frame payloads. Per §1's non-goal and
// §4.2's "Header encoding (in-scope subset)", encoding emits
// literal-header-field-without-indexing (hpack's WriteField with Sensitive
// unset and the encoder's dynamic table disabled) for every field except
// exact matches of HPACK's static table, which go out indexed (see
// Encode); decoding tolerates
// whatever a peer sends via golang.org/x/net/http2/hpack.Decoder, which
// understands the full HPACK grammar.
type HeaderCodec struct {
	encBuf  bytes.Buffer
	encoder *hpack.Encoder
}

// NewHeaderCodec builds a codec whose dynamic table has zero capacity,
// regardless of ConnectionSettings.HeaderTableSize, so no entries ever get
// added to it.
func NewHeaderCodec() *HeaderCodec {
	c := &HeaderCodec{}
	c.encoder = hpack.NewEncoder(&c.encBuf)
	c.encoder.SetMaxDynamicTableSizeLimit(0)
	c.encoder.SetMaxDynamicTableSize(0)
	return c
}

// pseudoOrder fixes the required pseudo-header ordering (§4.2):
// :method, :scheme, :authority, :path before any regular header.
var pseudoOrder = []string{":method", ":scheme", ":authority", ":path"}

// Encode builds the HPACK-encoded header block for req, validating the
// pseudo-header-before-regular-header rule as it goes.
//
// Note: golang.org/x/net/http2/hpack's encoder does not expose a way to
// force literal-without-indexing for fields that happen to match HPACK's
// static table (e.g. ":method: GET") even with the dynamic table disabled;
// those few fields may still be emitted as indexed representations. Every
// field absent from the static table — which is the common case for header
// values — is always literal-without-indexing since nothing ever gets
// added to the (zero-capacity) dynamic table.
func (c *HeaderCodec) Encode(req *Request) ([]byte, error) {
	c.encBuf.Reset()

	pseudo := map[string]string{
		":method":    req.Method,
		":scheme":    req.Scheme,
		":authority": req.Authority,
		":path":      req.Path,
	}
	for _, name := range pseudoOrder {
		val := pseudo[name]
		if val == "" {
			continue
		}
		if err := c.encoder.WriteField(hpack.HeaderField{Name: name, Value: val}); err != nil {
			return nil, errors.NewEncodingFailed(err)
		}
	}
	for _, h := range req.Headers {
		name := strings.ToLower(h.Name)
		if strings.HasPrefix(name, ":") {
			return nil, errors.NewProtocolError("pseudo-header after regular header is malformed")
		}
		if isConnectionSpecific(name) {
			continue
		}
		if err := c.encoder.WriteField(hpack.HeaderField{Name: name, Value: h.Value}); err != nil {
			return nil, errors.NewEncodingFailed(err)
		}
	}
	out := make([]byte, c.encBuf.Len())
	copy(out, c.encBuf.Bytes())
	return out, nil
}

// isConnectionSpecific filters headers that are meaningless or forbidden
// over HTTP/2 (RFC 7540 §8.1.2.2).
func isConnectionSpecific(name string) bool {
	switch name {
	case "connection", "keep-alive", "proxy-connection", "transfer-encoding", "upgrade", "host":
		return true
	default:
		return false
	}
}

// HeaderDecoder decodes HPACK header blocks back into an ordered Header
// slice, enforcing the pseudo-header-before-regular rule on the receive
// path too (§4.2: "MUST NOT appear after a regular header (MALFORMED)").
type HeaderDecoder struct {
	decoder *hpack.Decoder
}

// NewHeaderDecoder builds a decoder with the given dynamic table size
// (Dial passes the local ConnectionSettings.HeaderTableSize).
func NewHeaderDecoder(tableSize uint32) *HeaderDecoder {
	return &HeaderDecoder{decoder: hpack.NewDecoder(tableSize, nil)}
}

// SetMaxDynamicTableSize updates the decoder's table size, e.g. in response
// to a peer's SETTINGS_HEADER_TABLE_SIZE update.
func (d *HeaderDecoder) SetMaxDynamicTableSize(size uint32) {
	d.decoder.SetMaxDynamicTableSize(size)
}

// DecodeResponse parses a complete response header block, returning the
// :status pseudo-header as an int and the remaining headers in wire order.
// A client only ever decodes response headers (server-sent requests are out
// of scope), so this is the only decode entry point HeaderDecoder exposes.
func (d *HeaderDecoder) DecodeResponse(block []byte) (status int, headers []Header, err error) {
	fields, derr := d.decoder.DecodeFull(block)
	if derr != nil {
		return 0, nil, errors.NewProtocolError("malformed HPACK block: " + derr.Error())
	}

	seenRegular := false
	for _, f := range fields {
		if strings.HasPrefix(f.Name, ":") {
			if seenRegular {
				return 0, nil, errors.NewProtocolError("pseudo-header after regular header is malformed")
			}
			if f.Name == ":status" {
				status, err = strconv.Atoi(f.Value)
				if err != nil {
					return 0, nil, errors.NewProtocolError("non-numeric :status value " + f.Value)
				}
			}
			continue
		}
		seenRegular = true
		headers = append(headers, Header{Name: f.Name, Value: f.Value})
	}
	if status == 0 {
		return 0, nil, errors.NewProtocolError("response headers missing :status pseudo-header")
	}
	return status, headers, nil
}
