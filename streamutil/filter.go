// Package streamutil provides io.Reader/io.Writer filter chains
// (base64, length-bounded, multipart boundary-delimited) and a
// non-blocking-friendly TLS stream wrapper.
package streamutil

import "io"

// Filter sits between a caller and an underlying stream, encoding or
// decoding data as it passes through. Unlike a plain io.Writer, a
// filter may buffer: Write can consume less than len(p) if internal
// buffer space is exhausted, and produced output is drained with
// Read. End signals that no more input is coming so the filter can
// flush any final bytes (e.g. base64 padding).
type Filter interface {
	io.Reader
	io.Writer
	// End signals no more data will be written. Subsequent calls to
	// Write return io.ErrClosedPipe. Read continues to drain any
	// buffered output until it returns io.EOF.
	End() error
}

// Convert reports an upper bound on output bytes for n bytes of
// input (forward=true) or on input bytes needed to produce n bytes
// of output (forward=false). Filters that need it implement this
// optional interface; callers fall back to 1:1 sizing otherwise.
type Converter interface {
	Convert(n int, forward bool) int
}

// Process runs all of input through filter and returns the result.
// It always calls filter.End before draining the last of the output,
// so the filter accepts no further input afterwards.
func Process(filter Filter, input []byte) ([]byte, error) {
	out := make([]byte, 0, estimateOutputSize(filter, len(input)))
	buf := make([]byte, 4096)

	write := func(p []byte) error {
		for len(p) > 0 {
			n, err := filter.Write(p)
			if err != nil {
				return err
			}
			p = p[n:]
			if n == 0 {
				// Filter is full; drain before writing more.
				if err := drain(filter, &out, buf); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for len(input) > 0 {
		chunk := input
		if len(chunk) > 1024 {
			chunk = chunk[:1024]
		}
		if err := write(chunk); err != nil {
			return nil, err
		}
		if err := drain(filter, &out, buf); err != nil {
			return nil, err
		}
		input = input[len(chunk):]
	}
	if err := filter.End(); err != nil {
		return nil, err
	}
	if err := drainToEOF(filter, &out, buf); err != nil {
		return nil, err
	}
	return out, nil
}

// estimateOutputSize sizes Process's output buffer up front using the
// filter's own Converter hint when it has one, mirroring
// filter_process's "olen = filter_convert(filter, ilen, 1) + 10"
// allocation sizing; filters without a meaningful input:output ratio
// just get a 1:1 estimate.
func estimateOutputSize(filter Filter, inputLen int) int {
	if c, ok := filter.(Converter); ok {
		return c.Convert(inputLen, true) + 10
	}
	return inputLen + 10
}

func drain(filter Filter, out *[]byte, buf []byte) error {
	for {
		n, err := filter.Read(buf)
		*out = append(*out, buf[:n]...)
		if n == 0 {
			return nil
		}
		if err != nil && err != io.EOF {
			return err
		}
	}
}

func drainToEOF(filter Filter, out *[]byte, buf []byte) error {
	for {
		n, err := filter.Read(buf)
		*out = append(*out, buf[:n]...)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// NewReader wraps src so that reads pass through filter before being
// returned to the caller: bytes are pulled from src, written into
// filter, and the filter's output is what Read yields.
func NewReader(filter Filter, src io.Reader) io.Reader {
	return &filterReader{filter: filter, src: src}
}

type filterReader struct {
	filter Filter
	src    io.Reader
	srcEOF bool
}

func (r *filterReader) Read(p []byte) (int, error) {
	for {
		n, rerr := r.filter.Read(p)
		if n > 0 {
			return n, nil
		}
		if rerr != nil && rerr != io.EOF {
			return 0, rerr
		}
		if rerr == io.EOF {
			return 0, io.EOF
		}
		if r.srcEOF {
			return 0, io.EOF
		}

		buf := make([]byte, 1024)
		nr, err := r.src.Read(buf)
		if nr > 0 {
			if _, werr := r.filter.Write(buf[:nr]); werr != nil {
				return 0, werr
			}
		}
		if err != nil {
			if err != io.EOF {
				return 0, err
			}
			r.srcEOF = true
			if err := r.filter.End(); err != nil {
				return 0, err
			}
		}
	}
}

// NewWriter wraps dst so that writes pass through filter before
// landing on dst: bytes are written into filter and its output is
// flushed to dst immediately.
func NewWriter(filter Filter, dst io.Writer) io.WriteCloser {
	return &filterWriter{filter: filter, dst: dst}
}

type filterWriter struct {
	filter Filter
	dst    io.Writer
	buf    []byte
}

func (w *filterWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n, err := w.filter.Write(p)
		if err != nil {
			return total, err
		}
		total += n
		p = p[n:]
		if err := w.flush(); err != nil {
			return total, err
		}
		if n == 0 && len(p) > 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

func (w *filterWriter) flush() error {
	if w.buf == nil {
		w.buf = make([]byte, 4096)
	}
	for {
		n, err := w.filter.Read(w.buf)
		if n > 0 {
			if _, werr := w.dst.Write(w.buf[:n]); werr != nil {
				return werr
			}
		}
		if n == 0 {
			return nil
		}
		if err != nil && err != io.EOF {
			return err
		}
	}
}

func (w *filterWriter) Close() error {
	if err := w.filter.End(); err != nil {
		return err
	}
	return w.flush()
}
