package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestMakeRequestTimeTracker(t *testing.T) {
	var got []RequestTime
	handler := MakeRequestTimeTracker(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/missing" {
			http.NotFound(rw, req)
			return
		}
		_, _ = rw.Write([]byte("twelve bytes"))
	}), func(rt RequestTime) {
		got = append(got, rt)
	})

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/index.html", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodHead, "/missing", nil))

	if assert.Len(t, got, 2) {
		assert.Equal(t, http.MethodGet, got[0].Method)
		assert.Equal(t, "/index.html", got[0].Path)
		assert.Equal(t, http.StatusOK, got[0].Status)
		assert.EqualValues(t, 12, got[0].Size)
		assert.GreaterOrEqual(t, got[0].Duration.Nanoseconds(), int64(0))

		assert.Equal(t, http.MethodHead, got[1].Method)
		assert.Equal(t, http.StatusNotFound, got[1].Status)
	}
}

func TestLogRequestTime(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf)
	logger.SetLevel(log.DebugLevel)

	LogRequestTime(logger)(RequestTime{Method: http.MethodGet, Path: "/app.js", Status: http.StatusOK})

	assert.Contains(t, buf.String(), "served")
	assert.Contains(t, buf.String(), "/app.js")
}
