package pin

import (
	"bytes"
	"io"
)

func newByteReader(b []byte) *bytes.Reader { return bytes.NewReader(b) }

func readAll(r io.Reader) []byte {
	b, _ := io.ReadAll(r)
	return b
}
