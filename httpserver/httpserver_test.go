package httpserver

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	structs "github.com/archiecobbs/pdel-go"
	"github.com/archiecobbs/pdel-go/pevent"
	"github.com/archiecobbs/pdel-go/xmlrpc"
)

type stubServlet struct {
	status Status
	body   string
}

func (s *stubServlet) Run(resp *Response, req *http.Request) (Status, error) {
	if s.status == Handled {
		resp.WriteHeader(http.StatusOK)
		_, _ = resp.Write([]byte(s.body))
	}
	return s.status, nil
}

func (s *stubServlet) Destroy() {}

func doRequest(t *testing.T, addr, path string) *http.Response {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	req, err := http.NewRequest("GET", "http://"+addr+path, nil)
	require.NoError(t, err)
	req.Close = true
	require.NoError(t, req.Write(conn))
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	require.NoError(t, err)
	return resp
}

func TestRoutingPriorityAndContinue(t *testing.T) {
	pc := pevent.NewContext(zap.NewNop())
	low := &stubServlet{status: Handled, body: "low"}
	high := &stubServlet{status: Continue}
	srv, err := Start(pc, zap.NewNop(), Config{
		Network: "tcp",
		Address: "127.0.0.1:0",
		Routes: []Route{
			{Path: regexp.MustCompile(".*"), Priority: 10, Servlet: high},
			{Path: regexp.MustCompile(".*"), Priority: 1, Servlet: low},
		},
	})
	require.NoError(t, err)
	defer srv.Stop()

	resp := doRequest(t, srv.Addr(), "/anything")
	require.Equal(t, 200, resp.StatusCode)
	buf := make([]byte, 3)
	_, _ = resp.Body.Read(buf)
	require.Equal(t, "low", string(buf))
}

func TestKeepAliveServesTwoRequestsOnOneConnection(t *testing.T) {
	pc := pevent.NewContext(zap.NewNop())
	srv, err := Start(pc, zap.NewNop(), Config{
		Network: "tcp",
		Address: "127.0.0.1:0",
		Routes: []Route{
			{Path: regexp.MustCompile(".*"), Servlet: &stubServlet{status: Handled, body: "hello world"}},
		},
	})
	require.NoError(t, err)
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()
	br := bufio.NewReader(conn)

	for i := 0; i < 2; i++ {
		req, err := http.NewRequest("GET", "http://"+srv.Addr()+"/", nil)
		require.NoError(t, err)
		require.NoError(t, req.Write(conn))

		resp, err := http.ReadResponse(br, req)
		require.NoError(t, err)
		require.Equal(t, 200, resp.StatusCode)
		require.Equal(t, "11", resp.Header.Get("Content-Length"))
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, "hello world", string(body))
	}
}

func TestFileServlet(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi there"), 0o644))

	pc := pevent.NewContext(zap.NewNop())
	srv, err := Start(pc, zap.NewNop(), Config{
		Network: "tcp",
		Address: "127.0.0.1:0",
		Routes: []Route{
			{Path: regexp.MustCompile(".*"), Servlet: &FileServlet{DocRoot: dir}},
		},
	})
	require.NoError(t, err)
	defer srv.Stop()

	resp := doRequest(t, srv.Addr(), "/hello.txt")
	require.Equal(t, 200, resp.StatusCode)
}

func TestRedirectServlet(t *testing.T) {
	pc := pevent.NewContext(zap.NewNop())
	srv, err := Start(pc, zap.NewNop(), Config{
		Network: "tcp",
		Address: "127.0.0.1:0",
		Routes: []Route{
			{Path: regexp.MustCompile(".*"), Servlet: &RedirectServlet{BaseURL: "https://example.com/login", AppendAsParam: "from"}},
		},
	})
	require.NoError(t, err)
	defer srv.Stop()

	resp := doRequest(t, srv.Addr(), "/secret")
	require.Equal(t, 302, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Location"), "from=")
}

func TestBasicAuthServlet(t *testing.T) {
	pc := pevent.NewContext(zap.NewNop())
	gate := &BasicAuthServlet{Check: func(user, pass string) (string, bool) {
		if user == "bob" && pass == "secret" {
			return "", true
		}
		return "realm", false
	}}
	srv, err := Start(pc, zap.NewNop(), Config{
		Network: "tcp",
		Address: "127.0.0.1:0",
		Routes: []Route{
			{Path: regexp.MustCompile(".*"), Priority: 10, Servlet: gate},
			{Path: regexp.MustCompile(".*"), Priority: 1, Servlet: &stubServlet{status: Handled, body: "ok"}},
		},
	})
	require.NoError(t, err)
	defer srv.Stop()

	resp := doRequest(t, srv.Addr(), "/")
	require.Equal(t, 401, resp.StatusCode)
}

func TestCookieAuthSignVerifyRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	servlet := &CookieAuthServlet{
		Name:       "auth",
		SystemID:   "sys1",
		PrivateKey: key,
		PublicKey:  &key.PublicKey,
	}

	value, err := servlet.issue("bob", time.Now())
	require.NoError(t, err)

	info, ok := servlet.decode(value)
	require.True(t, ok)
	require.Equal(t, "bob", info.Username)
	require.True(t, servlet.valid(info, time.Now()))

	// tamper with the payload: signature must no longer verify
	info.Username = "mallory"
	require.False(t, servlet.verify(info))
}

func TestCookieAuthRedirectsWithoutCookie(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	pc := pevent.NewContext(zap.NewNop())
	gate := &CookieAuthServlet{
		Name:       "auth",
		SystemID:   "sys1",
		LoginURL:   "/login",
		PrivateKey: key,
		PublicKey:  &key.PublicKey,
	}
	srv, err := Start(pc, zap.NewNop(), Config{
		Network: "tcp",
		Address: "127.0.0.1:0",
		Routes: []Route{
			{Path: regexp.MustCompile(".*"), Priority: 10, Servlet: gate},
			{Path: regexp.MustCompile(".*"), Priority: 1, Servlet: &stubServlet{status: Handled, body: "ok"}},
		},
	})
	require.NoError(t, err)
	defer srv.Stop()

	resp := doRequest(t, srv.Addr(), "/private")
	require.Equal(t, 302, resp.StatusCode)
	require.Equal(t, "/login", resp.Header.Get("Location"))
}

type echoRequest struct {
	Text string
}

type echoReply struct {
	Text string
}

func TestXMLServlet(t *testing.T) {
	reqType := structs.NewStructureType(reflect.TypeOf(echoRequest{}), []structs.Field{
		{Name: "text", GoField: "Text", Type: structs.String},
	})
	replyType := structs.NewStructureType(reflect.TypeOf(echoReply{}), []structs.Field{
		{Name: "text", GoField: "Text", Type: structs.String},
	})

	pc := pevent.NewContext(zap.NewNop())
	srv, err := Start(pc, zap.NewNop(), Config{
		Network: "tcp",
		Address: "127.0.0.1:0",
		Routes: []Route{
			{Path: regexp.MustCompile(".*"), Servlet: &XMLServlet{
				RequestType: reqType,
				RequestTag:  "request",
				ReplyType:   replyType,
				ReplyTag:    "reply",
				Handler: func(req reflect.Value) (reflect.Value, error) {
					r := req.Interface().(echoRequest)
					return reflect.ValueOf(echoReply{Text: r.Text + "!"}), nil
				},
			}},
		},
	})
	require.NoError(t, err)
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	body := `<request><text>hi</text></request>`
	req, err := http.NewRequest("POST", "http://"+srv.Addr()+"/", strings.NewReader(body))
	require.NoError(t, err)
	req.Close = true
	require.NoError(t, req.Write(conn))

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
}

func TestXMLRPCServletArgCountFault(t *testing.T) {
	d := xmlrpc.NewDispatcher()
	RegisterXMLRPCMethod(d, "add", 2, 2, func(args []structs.UnionValue) (structs.UnionValue, error) {
		return structs.UnionValue{}, nil
	})

	pc := pevent.NewContext(zap.NewNop())
	srv, err := Start(pc, zap.NewNop(), Config{
		Network: "tcp",
		Address: "127.0.0.1:0",
		Routes: []Route{
			{Path: regexp.MustCompile(".*"), Servlet: &XMLRPCServlet{Dispatcher: d}},
		},
	})
	require.NoError(t, err)
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	body := `<?xml version="1.0"?><methodCall><methodName>add</methodName><params>` +
		`<param><value><int>1</int></value></param></params></methodCall>`
	req, err := http.NewRequest("POST", "http://"+srv.Addr()+"/", strings.NewReader(body))
	require.NoError(t, err)
	req.Close = true
	require.NoError(t, req.Write(conn))

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
}
