package streamutil

import (
	"io"
	"mime/multipart"
)

// MultipartReader walks a multipart/form-data body boundary by
// boundary, exposing each part as a plain io.Reader the caller drains
// before moving to the next one. It is a thin adapter over
// mime/multipart.Reader, the stdlib's own boundary-delimited reader,
// kept here so callers of this package never need to import
// mime/multipart directly alongside the rest of the filter chain.
type MultipartReader struct {
	r *multipart.Reader
}

// NewMultipartReader returns a reader over the parts in body,
// delimited by boundary (the value from the request's Content-Type
// "boundary" parameter, without surrounding quotes).
func NewMultipartReader(body io.Reader, boundary string) *MultipartReader {
	return &MultipartReader{r: multipart.NewReader(body, boundary)}
}

// Part is one section of the body: its form field name, optional
// file name, and a reader bounded to just that section's content.
type Part struct {
	Name     string
	FileName string
	Body     io.Reader
}

// Next advances to the following part, returning io.EOF once the
// closing boundary has been consumed.
func (m *MultipartReader) Next() (*Part, error) {
	p, err := m.r.NextPart()
	if err != nil {
		return nil, err
	}
	return &Part{Name: p.FormName(), FileName: p.FileName(), Body: p}, nil
}
