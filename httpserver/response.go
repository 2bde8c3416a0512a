package httpserver

import (
	"bufio"
	"bytes"
	"net/http"
)

// Response buffers the entire body in memory so its length is known
// before any bytes reach the wire — required to emit a correct
// Content-Length on a connection the caller may keep alive for a
// second request. Nothing reaches the wire until Flush; header and
// status mutations up to that point all take effect.
type Response struct {
	w             *bufio.Writer
	header        http.Header
	status        int
	body          bytes.Buffer
	headerWritten bool
}

func newResponse(w *bufio.Writer) *Response {
	return &Response{w: w, header: make(http.Header), status: http.StatusOK}
}

// Header returns the header map; mutating it after Flush has run is a
// no-op from the wire's perspective (the headers were already sent).
func (r *Response) Header() http.Header { return r.header }

// WriteHeader sets the status code. Calling it after Flush has run
// has no effect.
func (r *Response) WriteHeader(status int) {
	if r.headerWritten {
		return
	}
	r.status = status
}

// Write buffers body bytes; they reach the wire only once Flush
// computes the final Content-Length and sends the header.
func (r *Response) Write(b []byte) (int, error) {
	if r.headerWritten {
		return 0, nil
	}
	return r.body.Write(b)
}

func (r *Response) flushHeader() {
	r.headerWritten = true
	resp := &http.Response{
		StatusCode:    r.status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        r.header,
		Body:          nil,
		ContentLength: int64(r.body.Len()),
	}
	_ = resp.Write(flushWriterAdapter{r.w})
}

type flushWriterAdapter struct{ w *bufio.Writer }

func (a flushWriterAdapter) Write(b []byte) (int, error) { return a.w.Write(b) }

// Flush sends the header (with its now-final Content-Length) followed
// by the buffered body, then flushes the underlying bufio.Writer.
func (r *Response) Flush() error {
	if !r.headerWritten {
		r.flushHeader()
		if _, err := r.w.Write(r.body.Bytes()); err != nil {
			return err
		}
	}
	return r.w.Flush()
}
