package httpserver

import (
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileServlet serves files rooted at DocRoot, after stripping
// StripPrefix from the request path. ".." components are cleaned away
// so the path stays under DocRoot; a path that escapes DocRoot through
// a symlink is rejected unless AllowSymlinks is set.
type FileServlet struct {
	DocRoot       string
	StripPrefix   string
	AllowSymlinks bool
}

func safeJoin(root, reqPath string) string {
	reqPath = strings.ReplaceAll(reqPath, "\x00", "")
	if root == "" {
		root = "."
	}
	return filepath.Join(root, filepath.FromSlash(path.Clean("/"+reqPath)))
}

func (f *FileServlet) Run(resp *Response, req *http.Request) (Status, error) {
	reqPath := strings.TrimPrefix(req.URL.Path, f.StripPrefix)
	full := safeJoin(f.DocRoot, reqPath)

	if !f.AllowSymlinks {
		if resolved, err := filepath.EvalSymlinks(full); err == nil {
			rootResolved, _ := filepath.EvalSymlinks(f.DocRoot)
			if rootResolved != "" && !strings.HasPrefix(resolved, rootResolved) {
				resp.WriteHeader(http.StatusForbidden)
				return Handled, nil
			}
		}
	}

	data, err := os.ReadFile(full)
	if err != nil {
		resp.WriteHeader(http.StatusNotFound)
		return Handled, nil
	}

	if ct := mime.TypeByExtension(filepath.Ext(full)); ct != "" {
		resp.Header().Set("Content-Type", ct)
	}
	_, err = resp.Write(data)
	return Handled, err
}

func (f *FileServlet) Destroy() {}

// RedirectServlet replies 302 to BaseURL, optionally appending the
// original request URL as a query parameter named by AppendAsParam.
type RedirectServlet struct {
	BaseURL       string
	AppendAsParam string
}

func (r *RedirectServlet) Run(resp *Response, req *http.Request) (Status, error) {
	target := r.BaseURL
	if r.AppendAsParam != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + r.AppendAsParam + "=" + url.QueryEscape(req.URL.String())
	}
	resp.Header().Set("Location", target)
	resp.WriteHeader(http.StatusFound)
	return Handled, nil
}

func (r *RedirectServlet) Destroy() {}

// BasicAuthChecker validates credentials, returning ("", true) to
// allow the request through, or (realm, false) to deny it with the
// given realm.
type BasicAuthChecker func(user, pass string) (realm string, ok bool)

// BasicAuthServlet is a gate: Continue on valid credentials, else
// reply 401 with the checker's realm.
type BasicAuthServlet struct {
	Check BasicAuthChecker
}

func (b *BasicAuthServlet) Run(resp *Response, req *http.Request) (Status, error) {
	user, pass, hasAuth := req.BasicAuth()
	realm, ok := "", false
	if hasAuth {
		realm, ok = b.Check(user, pass)
	} else {
		realm, ok = b.Check("", "")
	}
	if ok {
		return Continue, nil
	}
	if realm == "" {
		realm = "restricted"
	}
	resp.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
	resp.WriteHeader(http.StatusUnauthorized)
	return Handled, nil
}

func (b *BasicAuthServlet) Destroy() {}
