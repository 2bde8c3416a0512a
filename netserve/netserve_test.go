package netserve

import (
	"bufio"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/archiecobbs/pdel-go/pevent"
)

func TestEchoesOneLine(t *testing.T) {
	pc := pevent.NewContext(zap.NewNop())
	srv, err := Start(pc, zap.NewNop(), Config{
		Network: "tcp",
		Address: "127.0.0.1:0",
		Handler: func(c *Conn) {
			line, err := bufio.NewReader(c).ReadString('\n')
			if err != nil {
				return
			}
			_, _ = c.Write([]byte(line))
		},
	})
	require.NoError(t, err)
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "hello\n", line)
}

func TestSetupCookiePropagates(t *testing.T) {
	pc := pevent.NewContext(zap.NewNop())
	var gotCookie int32
	srv, err := Start(pc, zap.NewNop(), Config{
		Network: "tcp",
		Address: "127.0.0.1:0",
		Setup: func(c *Conn) (any, error) {
			return 42, nil
		},
		Handler: func(c *Conn) {
			atomic.StoreInt32(&gotCookie, int32(c.Cookie.(int)))
		},
	})
	require.NoError(t, err)
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&gotCookie) == 42
	}, time.Second, 5*time.Millisecond)
}

func TestTeardownAlwaysRuns(t *testing.T) {
	pc := pevent.NewContext(zap.NewNop())
	torn := make(chan struct{}, 1)
	srv, err := Start(pc, zap.NewNop(), Config{
		Network: "tcp",
		Address: "127.0.0.1:0",
		Handler: func(c *Conn) {
			panic("boom")
		},
		Teardown: func(c *Conn) {
			torn <- struct{}{}
		},
	})
	require.NoError(t, err)
	defer srv.Stop()

	func() {
		defer func() { recover() }()
		conn, err := net.Dial("tcp", srv.Addr().String())
		require.NoError(t, err)
		defer conn.Close()
	}()

	select {
	case <-torn:
	case <-time.After(time.Second):
		t.Fatal("teardown never ran")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	pc := pevent.NewContext(zap.NewNop())
	srv, err := Start(pc, zap.NewNop(), Config{
		Network: "tcp",
		Address: "127.0.0.1:0",
		Handler: func(c *Conn) {},
	})
	require.NoError(t, err)
	srv.Stop()
	srv.Stop()
}

func TestMaxConnRejectsOverflow(t *testing.T) {
	pc := pevent.NewContext(zap.NewNop())
	release := make(chan struct{})
	srv, err := Start(pc, zap.NewNop(), Config{
		Network: "tcp",
		Address: "127.0.0.1:0",
		MaxConn: 1,
		Handler: func(c *Conn) {
			<-release
		},
	})
	require.NoError(t, err)
	defer func() {
		close(release)
		srv.Stop()
	}()

	conn1, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn1.Close()

	require.Eventually(t, func() bool { return srv.NumConn() == 1 }, time.Second, 5*time.Millisecond)

	conn2, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn2.Close()
	require.Never(t, func() bool { return srv.NumConn() > 1 }, 100*time.Millisecond, 5*time.Millisecond)
}
