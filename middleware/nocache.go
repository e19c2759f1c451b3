// Package middleware contains the http.Handler wrappers every response of
// the server passes through.
package middleware

import (
	"bufio"
	"io"
	"net"
	"net/http"
)

// NoCacheHeaders is the header set that tells browsers, proxies and CDNs never
// to store or reuse a response.
var NoCacheHeaders = map[string]string{
	"Cache-Control": "no-cache, no-store, must-revalidate",
	"Pragma":        "no-cache",
	"Expires":       "0",
}

// NoCache sets NoCacheHeaders on every response of next.
//
// The headers are set before next runs and set again at the moment the
// response header is flushed, so a handler that deletes or overwrites them
// (http.FileServer drops Cache-Control on its error path) still sends them.
func NoCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		setNoCacheHeaders(rw.Header())
		next.ServeHTTP(&noCacheWriter{ResponseWriter: rw}, req)
	})
}

func setNoCacheHeaders(h http.Header) {
	for key, value := range NoCacheHeaders {
		h[key] = []string{value}
	}
}

type noCacheWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *noCacheWriter) finalize() {
	if w.wroteHeader {
		return
	}
	setNoCacheHeaders(w.ResponseWriter.Header())
}

// WriteHeader applies the headers to informational responses as well;
// only a final status closes the header.
func (w *noCacheWriter) WriteHeader(code int) {
	w.finalize()
	if code >= http.StatusOK || code == http.StatusSwitchingProtocols {
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *noCacheWriter) Write(b []byte) (int, error) {
	w.finalize()
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// ReadFrom keeps the sendfile path of the underlying writer available.
func (w *noCacheWriter) ReadFrom(r io.Reader) (int64, error) {
	w.finalize()
	w.wroteHeader = true
	if rf, ok := w.ResponseWriter.(io.ReaderFrom); ok {
		return rf.ReadFrom(r)
	}
	return io.Copy(w.ResponseWriter, r)
}

func (w *noCacheWriter) Flush() {
	w.finalize()
	w.wroteHeader = true
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *noCacheWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (w *noCacheWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
