package middleware

import (
	"net/http"
	"path"

	"github.com/charmbracelet/log"
)

// HitRecorder persists successful requests per path.
type HitRecorder interface {
	RecordHit(path string, status int) error
}

// RecordHits stores a hit for every 2xx and 3xx response of next. A failing
// recorder is logged and never affects the response.
func RecordHits(next http.Handler, recorder HitRecorder, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rec := newStatusRecorder(rw)
		next.ServeHTTP(rec, req)

		status := rec.Status()
		if status < http.StatusOK || status >= http.StatusBadRequest {
			return
		}

		p := path.Clean("/" + req.URL.Path)
		if err := recorder.RecordHit(p, status); err != nil {
			logger.Error("Failed to record hit", "path", p, "err", err)
		}
	})
}
