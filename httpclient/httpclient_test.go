package httpclient

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/archiecobbs/pdel-go/pevent"
)

func startEchoServer(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				req, err := http.ReadRequest(bufio.NewReader(conn))
				if err != nil {
					return
				}
				_ = req.Body.Close()
				resp := &http.Response{
					StatusCode:    200,
					ProtoMajor:    1,
					ProtoMinor:    1,
					Header:        http.Header{"Connection": {"keep-alive"}},
					Body:          io.NopCloser(bytes.NewReader(nil)),
					ContentLength: 0,
				}
				_ = resp.Write(conn)
			}()
		}
	}()
	return ln
}

func TestConnectSendReceive(t *testing.T) {
	ln := startEchoServer(t)
	defer ln.Close()
	addr := ln.Addr().(*net.TCPAddr)

	pc := pevent.NewContext(zap.NewNop())
	client, err := New(pc, "test-agent/1.0", 4, 2, time.Minute, zap.NewNop())
	require.NoError(t, err)

	cc, err := client.Connect(context.Background(), addr.IP.String(), addr.Port, false)
	require.NoError(t, err)

	req, err := http.NewRequest("GET", "/", nil)
	require.NoError(t, err)
	require.NoError(t, cc.SendRequest(req))

	resp, err := cc.GetResponse()
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	// idempotent
	resp2, err := cc.GetResponse()
	require.NoError(t, err)
	require.Same(t, resp, resp2)

	require.NoError(t, cc.Close())
}

func TestMaxConnExceedsMaxCacheRequired(t *testing.T) {
	pc := pevent.NewContext(zap.NewNop())
	_, err := New(pc, "", 2, 2, time.Minute, zap.NewNop())
	require.Error(t, err)
}

func TestCacheReusesConnection(t *testing.T) {
	ln := startEchoServer(t)
	defer ln.Close()
	addr := ln.Addr().(*net.TCPAddr)

	pc := pevent.NewContext(zap.NewNop())
	client, err := New(pc, "", 4, 2, time.Minute, zap.NewNop())
	require.NoError(t, err)

	cc, err := client.Connect(context.Background(), addr.IP.String(), addr.Port, false)
	require.NoError(t, err)
	req, _ := http.NewRequest("GET", "/", nil)
	require.NoError(t, cc.SendRequest(req))
	_, err = cc.GetResponse()
	require.NoError(t, err)
	firstConn := cc.conn
	require.NoError(t, cc.Close())

	require.Eventually(t, func() bool {
		return client.cache.take(cacheKey{ip: addr.IP.String(), port: addr.Port}) != nil
	}, time.Second, 5*time.Millisecond, "closed connection should have been cached")

	_ = firstConn
}
