package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertNoCacheHeaders(t *testing.T, h http.Header) {
	t.Helper()
	for key, value := range NoCacheHeaders {
		assert.Equal(t, []string{value}, h.Values(key), key)
	}
}

func TestNoCache(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name   string
		inner  http.Handler
		status int
	}{
		{
			name:   "implicit status",
			inner:  http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {}),
			status: http.StatusOK,
		},
		{
			name: "body only",
			inner: http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
				_, _ = rw.Write([]byte("hello"))
			}),
			status: http.StatusOK,
		},
		{
			name: "handler overrides cache headers",
			inner: http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
				rw.Header().Set("Cache-Control", "public, max-age=3600")
				rw.Header().Add("Pragma", "cache")
				rw.Header().Set("Expires", "Thu, 01 Dec 2094 16:00:00 GMT")
				rw.WriteHeader(http.StatusCreated)
			}),
			status: http.StatusCreated,
		},
		{
			name: "handler deletes cache headers",
			inner: http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
				for key := range NoCacheHeaders {
					rw.Header().Del(key)
				}
				_, _ = rw.Write([]byte("gone"))
			}),
			status: http.StatusOK,
		},
		{
			name: "http.Error",
			inner: http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
				http.Error(rw, "boom", http.StatusInternalServerError)
			}),
			status: http.StatusInternalServerError,
		},
		{
			name: "redirect",
			inner: http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
				http.Redirect(rw, req, "/elsewhere", http.StatusMovedPermanently)
			}),
			status: http.StatusMovedPermanently,
		},
		{
			name: "not modified",
			inner: http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
				rw.WriteHeader(http.StatusNotModified)
			}),
			status: http.StatusNotModified,
		},
		{
			name: "copy through ReadFrom",
			inner: http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
				_, _ = io.Copy(rw, strings.NewReader("streamed"))
			}),
			status: http.StatusOK,
		},
		{
			name: "flush before body",
			inner: http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
				rw.Header().Del("Cache-Control")
				rw.(http.Flusher).Flush()
			}),
			status: http.StatusOK,
		},
		{
			name:   "file server not found",
			inner:  http.FileServer(http.Dir(root)),
			status: http.StatusNotFound,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/missing.txt", nil)
			rec := httptest.NewRecorder()

			NoCache(test.inner).ServeHTTP(rec, req)

			resp := rec.Result()
			defer resp.Body.Close()
			assert.Equal(t, test.status, resp.StatusCode)
			assertNoCacheHeaders(t, resp.Header)
		})
	}
}

func TestNoCacheOverNetwork(t *testing.T) {
	srv := httptest.NewServer(NoCache(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Del("Expires")
		http.NotFound(rw, req)
	})))
	defer srv.Close()

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			req, err := http.NewRequest(method, srv.URL+"/any", nil)
			require.NoError(t, err)

			resp, err := srv.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			assertNoCacheHeaders(t, resp.Header)
		})
	}
}

func TestNoCacheUnwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	NoCache(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		require.NoError(t, http.NewResponseController(rw).Flush())
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, rec.Flushed)
	assertNoCacheHeaders(t, rec.Result().Header)
}
