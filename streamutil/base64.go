package streamutil

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
)

// DefaultBase64Charset is the RFC 2045 alphabet plus its pad
// character, the default used when an encoder or decoder is created
// with an empty charset.
const DefaultBase64Charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/="

func base64Encoding(charset string) (*base64.Encoding, error) {
	if charset == "" {
		charset = DefaultBase64Charset
	}
	if len(charset) != 65 {
		return nil, fmt.Errorf("streamutil: base64 charset must have exactly 65 characters (64 symbols + 1 pad), got %d", len(charset))
	}
	seen := make(map[byte]bool, 65)
	for i := 0; i < len(charset); i++ {
		c := charset[i]
		if c >= 0x80 {
			return nil, fmt.Errorf("streamutil: base64 charset must be ASCII")
		}
		if seen[c] {
			return nil, fmt.Errorf("streamutil: base64 charset character %q is not unique", c)
		}
		seen[c] = true
	}
	return base64.NewEncoding(charset[:64]).WithPadding(rune(charset[64])), nil
}

// Base64Encoder is a Filter that base64-encodes whatever is written
// to it, using charset as the 65-character alphabet (64 symbols plus
// a pad character); an empty charset means DefaultBase64Charset.
type Base64Encoder struct {
	enc   *base64.Encoding
	in    bytes.Buffer
	out   bytes.Buffer
	ended bool
}

// NewBase64Encoder builds an encoder filter for charset.
func NewBase64Encoder(charset string) (*Base64Encoder, error) {
	enc, err := base64Encoding(charset)
	if err != nil {
		return nil, err
	}
	return &Base64Encoder{enc: enc}, nil
}

func (e *Base64Encoder) Write(p []byte) (int, error) {
	if e.ended {
		return 0, io.ErrClosedPipe
	}
	n, _ := e.in.Write(p)
	e.encodeFullGroups()
	return n, nil
}

func (e *Base64Encoder) encodeFullGroups() {
	buf := e.in.Bytes()
	full := (len(buf) / 3) * 3
	if full == 0 {
		return
	}
	e.out.Grow(e.enc.EncodedLen(full))
	dst := make([]byte, e.enc.EncodedLen(full))
	e.enc.Encode(dst, buf[:full])
	e.out.Write(dst)
	e.in.Next(full)
}

func (e *Base64Encoder) Read(p []byte) (int, error) {
	n, err := e.out.Read(p)
	if err == io.EOF && !e.ended {
		return n, nil
	}
	return n, err
}

func (e *Base64Encoder) End() error {
	if e.ended {
		return nil
	}
	e.ended = true
	if rem := e.in.Bytes(); len(rem) > 0 {
		dst := make([]byte, e.enc.EncodedLen(len(rem)))
		e.enc.Encode(dst, rem)
		e.out.Write(dst)
		e.in.Reset()
	}
	return nil
}

func (e *Base64Encoder) Convert(n int, forward bool) int {
	if forward {
		return e.enc.EncodedLen(n) + 3
	}
	return e.enc.DecodedLen(n) + 3
}

// Base64Decoder is a Filter that base64-decodes whatever is written
// to it. In strict mode, any byte outside the charset, whitespace
// included, is an error; otherwise such bytes are silently
// discarded, matching loose-mode parsers that tolerate line wrapping.
type Base64Decoder struct {
	enc    *base64.Encoding
	strict bool
	valid  [256]bool
	in     bytes.Buffer
	out    bytes.Buffer
	ended  bool
	failed error
}

// NewBase64Decoder builds a decoder filter for charset. If strict is
// false, bytes that aren't part of the alphabet are skipped instead
// of causing an error.
func NewBase64Decoder(charset string, strict bool) (*Base64Decoder, error) {
	enc, err := base64Encoding(charset)
	if err != nil {
		return nil, err
	}
	if charset == "" {
		charset = DefaultBase64Charset
	}
	d := &Base64Decoder{enc: enc, strict: strict}
	for i := 0; i < 65; i++ {
		d.valid[charset[i]] = true
	}
	return d, nil
}

func (d *Base64Decoder) Write(p []byte) (int, error) {
	if d.ended {
		return 0, io.ErrClosedPipe
	}
	if d.failed != nil {
		return 0, d.failed
	}
	for _, c := range p {
		if !d.valid[c] {
			if d.strict {
				d.failed = fmt.Errorf("streamutil: invalid base64 character %q", c)
				return 0, d.failed
			}
			continue
		}
		d.in.WriteByte(c)
	}
	d.decodeFullGroups()
	if d.failed != nil {
		return 0, d.failed
	}
	return len(p), nil
}

func (d *Base64Decoder) decodeFullGroups() {
	buf := d.in.Bytes()
	full := (len(buf) / 4) * 4
	if full == 0 {
		return
	}
	dst := make([]byte, d.enc.DecodedLen(full))
	n, err := d.enc.Decode(dst, buf[:full])
	if err != nil {
		d.failed = fmt.Errorf("streamutil: base64 decode: %w", err)
		return
	}
	d.out.Write(dst[:n])
	d.in.Next(full)
}

func (d *Base64Decoder) Read(p []byte) (int, error) {
	if d.failed != nil {
		return 0, d.failed
	}
	n, err := d.out.Read(p)
	if err == io.EOF && !d.ended {
		return n, nil
	}
	return n, err
}

func (d *Base64Decoder) End() error {
	if d.ended {
		return d.failed
	}
	d.ended = true
	if d.failed != nil {
		return d.failed
	}
	if rem := d.in.Bytes(); len(rem) > 0 {
		dst := make([]byte, d.enc.DecodedLen(len(rem)))
		n, err := d.enc.Decode(dst, rem)
		if err != nil {
			d.failed = fmt.Errorf("streamutil: base64 decode: %w", err)
			return d.failed
		}
		d.out.Write(dst[:n])
		d.in.Reset()
	}
	return nil
}

func (d *Base64Decoder) Convert(n int, forward bool) int {
	if forward {
		return d.enc.DecodedLen(n) + 3
	}
	return d.enc.EncodedLen(n) + 3
}
