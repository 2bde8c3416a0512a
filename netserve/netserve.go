// Package netserve is a bounded-concurrency TCP/UNIX listener: accept
// a connection, hand it to a setup/handler/teardown worker contract,
// and apply cheap timer-based backpressure against accept storms.
package netserve

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pires/go-proxyproto"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/archiecobbs/pdel-go/pdelerr"
	"github.com/archiecobbs/pdel-go/pevent"
)

// Setup is invoked once per accepted connection before Handler; its
// return value becomes the Conn's Cookie for the lifetime of the
// connection.
type Setup func(c *Conn) (any, error)

// Handler does the connection's actual work; the worker calls
// Teardown after Handler returns, even if Handler panics.
type Handler func(c *Conn)

// Teardown runs last, unconditionally, once per accepted connection.
type Teardown func(c *Conn)

// Conn is the handle passed through Setup/Handler/Teardown.
type Conn struct {
	net.Conn
	Cookie any

	server *Server
}

// PeerAddr is the remote address, PROXY-protocol-unwrapped if the
// listener was built with Config.ProxyProtocol set.
func (c *Conn) PeerAddr() net.Addr { return c.RemoteAddr() }

// Server listens on a single TCP or UNIX address and dispatches
// accepted connections to workers, bounded by MaxConn.
type Server struct {
	logger      *zap.Logger
	pc          *pevent.Context
	listener    net.Listener
	maxConn     int
	connTimeout time.Duration
	setup       Setup
	handler     Handler
	teardown    Teardown

	mu        sync.Mutex
	numConn   int
	stopping  bool
	backpress *pevent.Slot

	wg sync.WaitGroup
}

// Config bundles Start's parameters.
type Config struct {
	// Network is "tcp" or "unix".
	Network string
	// Address is the bind spec: "host:port" for tcp, a path for unix.
	Address string
	// MaxConn bounds concurrently-open connections; 0 means unbounded.
	MaxConn int
	// ConnTimeout applies independently to each read and write.
	ConnTimeout time.Duration
	// ProxyProtocol accepts a leading PROXY protocol v1/v2 header and
	// uses it to rewrite the connection's apparent remote address.
	ProxyProtocol bool

	Setup    Setup
	Handler  Handler
	Teardown Teardown
}

// backpressureDelay is how long a listener pauses accepting new
// connections once MaxConn is reached, per the spec's "cheap
// backpressure against accept storms" rule.
const backpressureDelay = 250 * time.Millisecond

// Start binds cfg.Address and begins accepting connections on a
// background goroutine. Call Stop to shut it down.
func Start(pc *pevent.Context, logger *zap.Logger, cfg Config) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("%w: Handler is required", pdelerr.ErrInvalidArgument)
	}
	ln, err := net.Listen(cfg.Network, cfg.Address)
	if err != nil {
		return nil, err
	}
	if cfg.ProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln}
	}
	s := &Server{
		logger:      logger,
		pc:          pc,
		listener:    ln,
		maxConn:     cfg.MaxConn,
		connTimeout: cfg.ConnTimeout,
		setup:       cfg.Setup,
		handler:     cfg.Handler,
		teardown:    cfg.Teardown,
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr is the bound local address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopping := s.stopping
			s.mu.Unlock()
			if stopping {
				return
			}
			s.logger.Warn("netserve: accept failed", zap.Error(err))
			continue
		}

		s.mu.Lock()
		if s.maxConn > 0 && s.numConn >= s.maxConn {
			s.mu.Unlock()
			conn.Close()
			s.pauseAccepting()
			continue
		}
		s.numConn++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

// pauseAccepting is a best-effort accept-storm brake: it stops the
// accept loop from spinning on immediate Close-and-retry by sleeping
// out the window on the same goroutine, mirroring the spec's
// one-shot 250ms timer that re-arms listening.
func (s *Server) pauseAccepting() {
	done := make(chan struct{})
	s.pc.RegisterTimer(backpressureDelay, 0, nil, func(context.Context, any) {
		close(done)
	}, nil)
	<-done
}

func (s *Server) serve(raw net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.numConn--
		s.mu.Unlock()
	}()

	c := &Conn{Conn: &timeoutConn{Conn: raw, timeout: s.connTimeout}, server: s}
	defer func() {
		if s.teardown != nil {
			s.teardown(c)
		}
	}()
	defer raw.Close()
	// a panicking handler still runs the deferred teardown/close above
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("netserve: handler panicked", zap.Any("panic", r))
		}
	}()

	if s.setup != nil {
		cookie, err := s.setup(c)
		if err != nil {
			s.logger.Debug("netserve: setup failed", zap.Error(err))
			return
		}
		c.Cookie = cookie
	}
	s.handler(c)
}

// Stop cancels the accept loop, closes the listener, and waits for
// every in-flight worker to drain. Idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.mu.Unlock()

	s.listener.Close()
	s.wg.Wait()
}

// NumConn reports the current live connection count.
func (s *Server) NumConn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numConn
}

var numConnDesc = prometheus.NewDesc(
	"pdel_netserve_connections", "Currently open connections.", []string{"addr"}, nil)

// Describe implements prometheus.Collector.
func (s *Server) Describe(ch chan<- *prometheus.Desc) { ch <- numConnDesc }

// Collect implements prometheus.Collector, exporting the live
// connection count gauge for this listener.
func (s *Server) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(numConnDesc, prometheus.GaugeValue, float64(s.NumConn()), s.Addr().String())
}

// timeoutConn applies a fixed deadline to every individual Read/Write
// rather than one deadline for the whole connection lifetime.
type timeoutConn struct {
	net.Conn
	timeout time.Duration
}

func (c *timeoutConn) Read(b []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Read(b)
}

func (c *timeoutConn) Write(b []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Write(b)
}
