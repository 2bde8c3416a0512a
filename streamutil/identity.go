package streamutil

import (
	"bytes"
	"io"
)

// IdentityFilter passes data through unchanged. It is mostly useful
// as a no-op default where a Filter is required, and as the simplest
// worked example of the Filter contract.
type IdentityFilter struct {
	buf   bytes.Buffer
	ended bool
}

var _ Filter = (*IdentityFilter)(nil)

func (f *IdentityFilter) Write(p []byte) (int, error) {
	if f.ended {
		return 0, io.ErrClosedPipe
	}
	return f.buf.Write(p)
}

func (f *IdentityFilter) Read(p []byte) (int, error) {
	n, err := f.buf.Read(p)
	if err == io.EOF && !f.ended {
		return n, nil
	}
	return n, err
}

func (f *IdentityFilter) End() error {
	f.ended = true
	return nil
}

func (f *IdentityFilter) Convert(n int, forward bool) int { return n }

// LengthReader caps the number of bytes read from src at n,
// returning io.EOF once that many bytes have been delivered even if
// src has more to give. This is the Go equivalent of a
// multipart/form-data part body once its Content-Length is known.
type LengthReader struct {
	src       io.Reader
	remaining int64
}

// NewLengthReader returns a reader that yields at most n bytes from
// src before reporting EOF.
func NewLengthReader(src io.Reader, n int64) *LengthReader {
	return &LengthReader{src: src, remaining: n}
}

func (r *LengthReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.src.Read(p)
	r.remaining -= int64(n)
	return n, err
}
