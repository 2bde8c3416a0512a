package streamutil

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// TLSStream wraps a net.Conn with a *tls.Conn, driving the handshake
// and graceful shutdown against an idle timeout the way the original
// poll(2)-on-WANT_READ/WANT_WRITE loop did: crypto/tls already retries
// its internal Read/Write against the raw fd exactly as that loop did,
// so the Go equivalent is a deadline set before the blocking call
// rather than a hand-rolled poll loop. The timeout bounds only the
// handshake and the close_notify write in Close; Read and Write are
// the embedded tls.Conn's own and set no deadline.
type TLSStream struct {
	*tls.Conn
	timeout time.Duration
	closed  bool
}

// DialTLSStream performs the client side of the handshake.
func DialTLSStream(ctx context.Context, conn net.Conn, cfg *tls.Config, timeout time.Duration) (*TLSStream, error) {
	s := &TLSStream{Conn: tls.Client(conn, cfg), timeout: timeout}
	if err := s.handshake(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// AcceptTLSStream performs the server side of the handshake.
func AcceptTLSStream(ctx context.Context, conn net.Conn, cfg *tls.Config, timeout time.Duration) (*TLSStream, error) {
	s := &TLSStream{Conn: tls.Server(conn, cfg), timeout: timeout}
	if err := s.handshake(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TLSStream) handshake(ctx context.Context) error {
	if s.timeout > 0 {
		deadline := time.Now().Add(s.timeout)
		if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
			deadline = dl
		}
		if err := s.Conn.SetDeadline(deadline); err != nil {
			return err
		}
		defer s.Conn.SetDeadline(time.Time{})
	}
	if err := s.Conn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("streamutil: TLS handshake: %w", err)
	}
	return nil
}

// Close performs a graceful TLS shutdown (send close_notify, as
// SSL_shutdown did in a loop against WANT_READ/WANT_WRITE) before
// closing the underlying connection. It is idempotent: a second call
// does nothing and returns nil.
func (s *TLSStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.timeout > 0 {
		_ = s.Conn.SetWriteDeadline(time.Now().Add(s.timeout))
	}
	closeErr := s.Conn.CloseWrite()
	if err := s.Conn.NetConn().Close(); err != nil {
		return err
	}
	return closeErr
}
