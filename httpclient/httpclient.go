// Package httpclient is an HTTP client over a bounded, cached pool of
// TCP connections: at most maxConn may be open at once, and up to
// maxCache idle ones are kept warm for reuse instead of closed.
package httpclient

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/archiecobbs/pdel-go/pdelerr"
	"github.com/archiecobbs/pdel-go/pevent"
)

// Client bounds concurrently-open connections to peers and caches
// idle ones, keyed by (ip, port, https).
type Client struct {
	userAgent string
	maxConn   int
	logger    *zap.Logger

	sem        *semaphore.Weighted
	cache      *socketCache
	checkedOut int64 // atomic: sockets counted against maxConn (active + idle-cached)
}

// New builds a Client. maxConn must exceed maxCache: the cache can
// only ever hold idle connections carved out of the live pool.
//
// maxConn bounds total sockets, active or idle-cached: a socket
// counts against it from the moment it's dialed until the moment it's
// actually closed, whether that's an explicit Close or the cache's own
// idle-expiry sweep.
func New(pc *pevent.Context, userAgent string, maxConn, maxCache int, maxIdle time.Duration, logger *zap.Logger) (*Client, error) {
	if maxConn <= maxCache {
		return nil, fmt.Errorf("%w: maxConn (%d) must exceed maxCache (%d)", pdelerr.ErrInvalidArgument, maxConn, maxCache)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		userAgent: userAgent,
		maxConn:   maxConn,
		logger:    logger,
		sem:       semaphore.NewWeighted(int64(maxConn)),
	}
	c.cache = newSocketCache(pc, maxCache, maxIdle, logger, c.releaseSlot)
	return c, nil
}

// acquireSlot blocks until a socket slot is available.
func (c *Client) acquireSlot(ctx context.Context) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	atomic.AddInt64(&c.checkedOut, 1)
	return nil
}

// releaseSlot frees a socket slot, whether the socket just closed
// outright or was swept out of the idle cache.
func (c *Client) releaseSlot() {
	atomic.AddInt64(&c.checkedOut, -1)
	c.sem.Release(1)
}

var checkedOutDesc = prometheus.NewDesc(
	"pdel_httpclient_sockets", "Sockets counted against maxConn (active or idle-cached).", nil, nil)

// Describe implements prometheus.Collector.
func (c *Client) Describe(ch chan<- *prometheus.Desc) { ch <- checkedOutDesc }

// Collect implements prometheus.Collector.
func (c *Client) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(checkedOutDesc, prometheus.GaugeValue, float64(atomic.LoadInt64(&c.checkedOut)))
}

type cacheKey struct {
	ip    string
	port  int
	https bool
}

// ClientConn is one connection checked out of the Client's pool.
type ClientConn struct {
	client *Client
	key    cacheKey
	conn   net.Conn
	br     *bufio.Reader

	mu         sync.Mutex
	reqBuf     bytes.Buffer
	resp       *http.Response
	respErr    error
	respReason string
	haveResp   bool
	returned   bool
}

// Connect checks out a connection to (ip, port), reusing a cached
// socket if one is available and still alive, or dialing (and
// blocking on the semaphore if the pool is already at maxConn).
func (c *Client) Connect(ctx context.Context, ip string, port int, https bool) (*ClientConn, error) {
	key := cacheKey{ip: ip, port: port, https: https}

	// a cache hit is already counted against maxConn (it never stopped
	// being counted while sitting idle) so it needs no new Acquire
	if conn := c.cache.take(key); conn != nil {
		return &ClientConn{client: c, key: key, conn: conn, br: bufio.NewReader(conn)}, nil
	}

	if err := c.acquireSlot(ctx); err != nil {
		return nil, err
	}
	conn, err := c.dial(ctx, key)
	if err != nil {
		c.releaseSlot()
		return nil, err
	}
	return &ClientConn{client: c, key: key, conn: conn, br: bufio.NewReader(conn)}, nil
}

func (c *Client) dial(ctx context.Context, key cacheKey) (net.Conn, error) {
	addr := net.JoinHostPort(key.ip, strconv.Itoa(key.port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if key.https {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: key.ip})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		return tlsConn, nil
	}
	return conn, nil
}

// SendRequest writes req's request line, headers, and body (a
// *bytes.Buffer or similarly bounded body is assumed; streaming
// request bodies are out of scope here) to the wire.
func (cc *ClientConn) SendRequest(req *http.Request) error {
	if cc.client.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", cc.client.userAgent)
	}
	return req.Write(cc.conn)
}

// GetResponse reads (on first call) or returns the cached (on any
// later call) response; a caller is free to call it more than once.
func (cc *ClientConn) GetResponse() (*http.Response, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.haveResp {
		return cc.resp, cc.respErr
	}
	resp, err := http.ReadResponse(cc.br, nil)
	cc.haveResp = true
	if err != nil {
		cc.respErr = err
		cc.respReason = err.Error()
		return nil, err
	}
	cc.resp = resp
	return resp, nil
}

// Reason is the human-readable explanation recorded if GetResponse
// failed; empty otherwise.
func (cc *ClientConn) Reason() string { return cc.respReason }

// Close releases the connection: if the response advertised
// keep-alive and the cache has room, the socket is returned to the
// cache instead of being closed outright.
func (cc *ClientConn) Close() error {
	cc.mu.Lock()
	already := cc.returned
	cc.returned = true
	cc.mu.Unlock()
	if already {
		return nil
	}

	keepAlive := cc.haveResp && cc.resp != nil && !cc.resp.Close &&
		(cc.resp.ProtoAtLeast(1, 1) || cc.resp.Header.Get("Connection") == "keep-alive")

	// a socket handed to the cache stays counted against maxConn while
	// idle; releaseSlot only happens when it's actually closed, whether
	// that's here or later via the cache's own eviction sweep
	if keepAlive && isIdleReadable(cc.conn) && cc.client.cache.offer(cc.key, cc.conn) {
		return nil
	}
	defer cc.client.releaseSlot()
	return cc.conn.Close()
}

// isIdleReadable peeks at conn without consuming data; a connection
// with data already waiting is considered poisoned (the peer sent
// something unsolicited) and must not be reused from the cache.
func isIdleReadable(conn net.Conn) bool {
	sc, ok := conn.(interface {
		SetReadDeadline(time.Time) error
	})
	if !ok {
		return false
	}
	_ = sc.SetReadDeadline(time.Now().Add(time.Millisecond))
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	_ = sc.SetReadDeadline(time.Time{})
	if n > 0 {
		return false
	}
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
