package middleware

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
)

// RequestTime is what MakeRequestTimeTracker measured for one request.
type RequestTime struct {
	Method   string
	Path     string
	Status   int
	Size     int64
	Duration time.Duration
}

// MakeRequestTimeTracker measures the time next spends on every request and
// passes the result to saver once the response is written.
func MakeRequestTimeTracker(next http.Handler, saver func(RequestTime)) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := newStatusRecorder(rw)

		next.ServeHTTP(rec, req)

		saver(RequestTime{
			Method:   req.Method,
			Path:     req.URL.Path,
			Status:   rec.Status(),
			Size:     rec.size,
			Duration: time.Since(start),
		})
	})
}

// LogRequestTime writes each measurement to logger at debug level.
func LogRequestTime(logger *log.Logger) func(RequestTime) {
	return func(t RequestTime) {
		logger.Debug("served",
			"method", t.Method,
			"path", t.Path,
			"status", t.Status,
			"bytes", t.Size,
			"time", t.Duration,
		)
	}
}
