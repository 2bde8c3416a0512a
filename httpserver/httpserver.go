// Package httpserver is an HTTP/1.x server built directly on a
// netserve listener: per-connection request parsing, a
// priority-ordered virtual-host+path routing table, and a small set
// of servlets (file, redirect, basic-auth, cookie-auth, xml, xmlrpc).
package httpserver

import (
	"bufio"
	"crypto/tls"
	"net/http"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/archiecobbs/pdel-go/netserve"
	"github.com/archiecobbs/pdel-go/pevent"
)

// Status is a servlet's verdict: keep trying routes, or stop here.
type Status int

const (
	// Continue tells the router to try the next matching route.
	Continue Status = iota
	// Handled means this servlet committed the response.
	Handled
)

// Servlet is the unit of request handling the router dispatches to.
type Servlet interface {
	// Run handles req, writing to resp as needed.
	Run(resp *Response, req *http.Request) (Status, error)
	// Destroy releases any resources the servlet owns.
	Destroy()
}

// Route binds a servlet to a (virtual host, path) pattern with a
// priority used to break ties when more than one route matches.
type Route struct {
	// VirtualHost matches the request's Host header; nil matches any.
	VirtualHost *regexp.Regexp
	// Path matches the request's URL path.
	Path *regexp.Regexp
	// Priority: higher tries first.
	Priority int
	Servlet  Servlet
}

// Server owns a netserve listener and a routing table.
type Server struct {
	logger    *zap.Logger
	netSrv    *netserve.Server
	routes    []Route
	idleTimer time.Duration
	tlsConfig *tls.Config
}

// Config bundles Start's parameters.
type Config struct {
	Network     string
	Address     string
	MaxConn     int
	ConnTimeout time.Duration
	IdleTimeout time.Duration
	TLSConfig   *tls.Config
	Routes      []Route
}

// Start binds cfg.Address and begins serving HTTP requests.
func Start(pc *pevent.Context, logger *zap.Logger, cfg Config) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger:    logger,
		routes:    sortedRoutes(cfg.Routes),
		idleTimer: cfg.IdleTimeout,
		tlsConfig: cfg.TLSConfig,
	}

	netSrv, err := netserve.Start(pc, logger, netserve.Config{
		Network:     cfg.Network,
		Address:     cfg.Address,
		MaxConn:     cfg.MaxConn,
		ConnTimeout: cfg.ConnTimeout,
		Handler:     s.handleConn,
	})
	if err != nil {
		return nil, err
	}
	s.netSrv = netSrv
	return s, nil
}

func sortedRoutes(routes []Route) []Route {
	out := append([]Route(nil), routes...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Addr is the bound local address.
func (s *Server) Addr() string { return s.netSrv.Addr().String() }

// Stop closes the listener, waits for every in-flight connection to
// finish on its own (it does not close them), then destroys each
// route's servlet.
func (s *Server) Stop() {
	s.netSrv.Stop()
	for _, r := range s.routes {
		r.Servlet.Destroy()
	}
}

func (s *Server) handleConn(c *netserve.Conn) {
	conn := c.Conn
	if s.tlsConfig != nil {
		tlsConn := tls.Server(conn, s.tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			s.logger.Debug("httpserver: TLS handshake failed", zap.Error(err))
			return
		}
		conn = tlsConn
	}

	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)
	for {
		if s.idleTimer > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.idleTimer))
		}
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}

		reqID := uuid.NewString()
		resp := newResponse(bw)
		resp.Header().Set("X-Request-Id", reqID)
		s.logger.Debug("httpserver: request", zap.String("request_id", reqID), zap.String("method", req.Method), zap.String("path", req.URL.Path))
		s.serve(resp, req)
		if err := resp.Flush(); err != nil {
			return
		}
		req.Body.Close()

		if req.Close || (req.ProtoAtLeast(1, 0) && !req.ProtoAtLeast(1, 1) && req.Header.Get("Connection") != "keep-alive") {
			return
		}
	}
}

func (s *Server) serve(resp *Response, req *http.Request) {
	host := req.Host
	path := req.URL.Path

	for _, route := range s.routes {
		if route.VirtualHost != nil && !route.VirtualHost.MatchString(host) {
			continue
		}
		if route.Path != nil && !route.Path.MatchString(path) {
			continue
		}
		status, err := route.Servlet.Run(resp, req)
		if err != nil {
			s.logger.Warn("httpserver: servlet error", zap.Error(err))
			resp.WriteHeader(http.StatusInternalServerError)
			_, _ = resp.Write([]byte(err.Error()))
			return
		}
		if status == Handled {
			return
		}
	}
	resp.WriteHeader(http.StatusNotFound)
	_, _ = resp.Write([]byte("404 not found\n"))
}
