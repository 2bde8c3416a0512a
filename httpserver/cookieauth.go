package httpserver

import (
	"crypto"
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"net/http"
	"reflect"
	"time"

	structs "github.com/archiecobbs/pdel-go"
)

// CookieInfo is the payload signed into a cookie-auth cookie. Signature
// is computed over the encoding of this struct with Signature itself
// zeroed.
type CookieInfo struct {
	Username    string
	Path        string
	Domain      string
	Secure      bool
	SessionOnly bool
	Timestamp   int64
	Expire      int64
	Linger      int64
	SystemID    string
	Signature   []byte
}

var cookieInfoType = structs.NewStructureType(reflect.TypeOf(CookieInfo{}), []structs.Field{
	{Name: "username", GoField: "Username", Type: structs.String},
	{Name: "path", GoField: "Path", Type: structs.String},
	{Name: "domain", GoField: "Domain", Type: structs.String},
	{Name: "secure", GoField: "Secure", Type: structs.Bool},
	{Name: "session_only", GoField: "SessionOnly", Type: structs.Bool},
	{Name: "timestamp", GoField: "Timestamp", Type: structs.Int64},
	{Name: "expire", GoField: "Expire", Type: structs.Int64},
	{Name: "linger", GoField: "Linger", Type: structs.Int64},
	{Name: "system_id", GoField: "SystemID", Type: structs.String},
	{Name: "signature", GoField: "Signature", Type: structs.NewBase64Binary()},
})

// CookieAuthServlet is a gate: it validates a signed cookie and lets
// the request Continue, or dispatches to a login redirect.
//
// Login issues a fresh cookie for a username; Logout clears one.
type CookieAuthServlet struct {
	// Name is the cookie's name on the wire.
	Name string
	// CookiePath and CookieDomain are stamped into issued cookies;
	// validation does not compare them with the request.
	CookiePath   string
	CookieDomain string
	// Secure and SessionOnly control the issued cookie's flags.
	Secure      bool
	SessionOnly bool
	// Linger is how long, after Timestamp, the cookie remains valid
	// with no further activity; zero means no linger limit.
	Linger time.Duration
	// SystemID must match the cookie's embedded system id; it
	// scopes cookies to the system that issued them.
	SystemID string
	// LoginURL is where an absent or invalid cookie gets redirected,
	// with the original URL appended under LoginURLParam if set.
	LoginURL      string
	LoginURLParam string
	// PrivateKey signs issued cookies; PublicKey verifies them.
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

func (c *CookieAuthServlet) sign(info *CookieInfo) error {
	info.Signature = nil
	enc, err := cookieInfoType.Encode(reflect.ValueOf(*info))
	if err != nil {
		return fmt.Errorf("encoding cookie: %w", err)
	}
	digest := md5.Sum(enc)
	sig, err := rsa.SignPKCS1v15(rand.Reader, c.PrivateKey, crypto.MD5, digest[:])
	if err != nil {
		return fmt.Errorf("signing cookie: %w", err)
	}
	info.Signature = sig
	return nil
}

func (c *CookieAuthServlet) verify(info *CookieInfo) bool {
	sig := info.Signature
	info.Signature = nil
	enc, err := cookieInfoType.Encode(reflect.ValueOf(*info))
	info.Signature = sig
	if err != nil {
		return false
	}
	digest := md5.Sum(enc)
	return rsa.VerifyPKCS1v15(c.PublicKey, crypto.MD5, digest[:], sig) == nil
}

// issue builds the Set-Cookie header value for username.
func (c *CookieAuthServlet) issue(username string, now time.Time) (string, error) {
	info := &CookieInfo{
		Username:    username,
		Path:        c.CookiePath,
		Domain:      c.CookieDomain,
		Secure:      c.Secure,
		SessionOnly: c.SessionOnly,
		Timestamp:   now.Unix(),
		SystemID:    c.SystemID,
	}
	if c.Linger > 0 {
		info.Linger = int64(c.Linger / time.Second)
	}
	if err := c.sign(info); err != nil {
		return "", err
	}
	return c.encodeCookie(info), nil
}

func (c *CookieAuthServlet) encodeCookie(info *CookieInfo) string {
	enc, _ := cookieInfoType.Encode(reflect.ValueOf(*info))
	return base64.URLEncoding.EncodeToString(enc)
}

// Login issues a fresh cookie for username and sets it on resp.
func (c *CookieAuthServlet) Login(resp *Response, username string) error {
	value, err := c.issue(username, time.Now())
	if err != nil {
		return err
	}
	c.setCookie(resp, value, time.Time{})
	return nil
}

// Logout clears the cookie by setting one that is already expired.
func (c *CookieAuthServlet) Logout(resp *Response) {
	c.setCookie(resp, "", time.Unix(0, 0))
}

func (c *CookieAuthServlet) setCookie(resp *Response, value string, expires time.Time) {
	cookie := &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     c.CookiePath,
		Domain:   c.CookieDomain,
		Secure:   c.Secure,
		HttpOnly: true,
	}
	if !c.SessionOnly && !expires.IsZero() {
		cookie.Expires = expires
	}
	if !expires.IsZero() {
		cookie.MaxAge = -1
	}
	resp.Header().Add("Set-Cookie", cookie.String())
}

func (c *CookieAuthServlet) decode(value string) (*CookieInfo, bool) {
	raw, err := base64.URLEncoding.DecodeString(value)
	if err != nil {
		return nil, false
	}
	info := &CookieInfo{}
	if _, err := cookieInfoType.Decode(raw, reflect.ValueOf(info).Elem()); err != nil {
		return nil, false
	}
	return info, true
}

func (c *CookieAuthServlet) valid(info *CookieInfo, now time.Time) bool {
	if info.SystemID != c.SystemID {
		return false
	}
	n := now.Unix()
	if info.Timestamp > n {
		return false
	}
	if info.Expire != 0 && n >= info.Expire {
		return false
	}
	if info.Linger != 0 && n >= info.Timestamp+info.Linger {
		return false
	}
	return c.verify(info)
}

func (c *CookieAuthServlet) redirectToLogin(resp *Response, req *http.Request) (Status, error) {
	target := c.LoginURL
	if c.LoginURLParam != "" {
		sep := "?"
		if containsQuery(target) {
			sep = "&"
		}
		target += sep + c.LoginURLParam + "=" + req.URL.String()
	}
	resp.Header().Set("Location", target)
	resp.WriteHeader(http.StatusFound)
	return Handled, nil
}

func containsQuery(url string) bool {
	for i := range url {
		if url[i] == '?' {
			return true
		}
	}
	return false
}

func (c *CookieAuthServlet) Run(resp *Response, req *http.Request) (Status, error) {
	cookie, err := req.Cookie(c.Name)
	if err != nil || cookie.Value == "" {
		return c.redirectToLogin(resp, req)
	}
	info, ok := c.decode(cookie.Value)
	if !ok || !c.valid(info, time.Now()) {
		return c.redirectToLogin(resp, req)
	}
	if c.Linger > 0 {
		if value, err := c.issue(info.Username, time.Now()); err == nil {
			c.setCookie(resp, value, time.Time{})
		}
	}
	req.Header.Set("X-Authenticated-User", info.Username)
	return Continue, nil
}

func (c *CookieAuthServlet) Destroy() {}
