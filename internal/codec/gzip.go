package codec

import (
	"bytes"
	"compress/gzip"
	"io"
)

// GZip shrinks snapshots before they land in the outbox column. Moment
// payloads are repetitive JSON, so the default level already cuts the
// row size substantially.
type GZip struct {
}

func NewGZip() GZip {
	return GZip{}
}

func (g GZip) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	// Close flushes the trailing checksum, without it the stream is
	// truncated
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g GZip) Decode(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
