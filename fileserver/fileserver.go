// Package fileserver serves a directory tree over HTTP with the usual
// static-server precedence: file, index.html, index.htm, then a listing.
package fileserver

import (
	"fmt"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// extra content types that are missing from some system mime tables
var contentTypes = map[string]string{
	".wasm":        "application/wasm",
	".mjs":         "text/javascript; charset=utf-8",
	".map":         "application/json",
	".webmanifest": "application/manifest+json",
}

func init() {
	for ext, typ := range contentTypes {
		_ = mime.AddExtensionType(ext, typ)
	}
}

var indexFiles = []string{"index.html", "index.htm"}

// RootFs returns a read-only filesystem whose root is the directory root.
// A relative root is resolved against the working directory.
func RootFs(root string) (afero.Fs, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", root, err)
	}
	return afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), abs)), nil
}

// Handler serves files from an afero filesystem.
type Handler struct {
	fs      afero.Fs
	files   http.Handler
	listing bool
}

// New creates a Handler serving fsys. With listing disabled a directory
// without an index file answers 403.
func New(fsys afero.Fs, listing bool) *Handler {
	return &Handler{
		fs:      fsys,
		files:   http.FileServer(afero.NewHttpFs(fsys).Dir("/")),
		listing: listing,
	}
}

func (h *Handler) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		rw.Header().Set("Allow", "GET, HEAD")
		http.Error(rw, "Only GET and HEAD requests are supported", http.StatusMethodNotAllowed)
		return
	}

	if containsDotDot(req.URL.Path) {
		http.Error(rw, "Bad Request: invalid URL path", http.StatusBadRequest)
		return
	}

	// directories without a trailing slash are redirected by http.FileServer
	if strings.HasSuffix(req.URL.Path, "/") {
		dir := path.Clean("/" + req.URL.Path)
		if info, err := h.fs.Stat(dir); err == nil && info.IsDir() {
			if !h.serveIndex(rw, req, dir) {
				return
			}
		}
	}

	h.files.ServeHTTP(rw, req)
}

// serveIndex handles a directory request and reports whether the request
// should still go to the file server.
func (h *Handler) serveIndex(rw http.ResponseWriter, req *http.Request, dir string) bool {
	for _, name := range indexFiles {
		info, err := h.fs.Stat(path.Join(dir, name))
		if err != nil || info.IsDir() {
			continue
		}
		if name == "index.html" {
			// http.FileServer already prefers index.html
			return true
		}
		r := req.Clone(req.Context())
		r.URL.Path = path.Join(dir, name)
		r.URL.RawPath = ""
		h.files.ServeHTTP(rw, r)
		return false
	}

	if !h.listing {
		http.Error(rw, "Forbidden: directory listing is disabled", http.StatusForbidden)
		return false
	}
	return true
}

func containsDotDot(v string) bool {
	if !strings.Contains(v, "..") {
		return false
	}
	for _, ent := range strings.FieldsFunc(v, isSlashRune) {
		if ent == ".." {
			return true
		}
	}
	return false
}

func isSlashRune(r rune) bool { return r == '/' || r == '\\' }
