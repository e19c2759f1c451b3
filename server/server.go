// Package server runs the no-cache static file server.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/pelageech/nocache/config"
	"github.com/pelageech/nocache/fileserver"
	"github.com/pelageech/nocache/metrics"
	"github.com/pelageech/nocache/middleware"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// BindError is returned when a listener cannot be bound, e.g. the port is
// taken or privileged.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Server is a struct that contains all the configuration
// of the file server.
type Server struct {
	config  *config.ServerConfig
	fs      afero.Fs
	logger  *log.Logger
	out     io.Writer
	metrics *metrics.Metrics
	hits    middleware.HitRecorder

	ln        net.Listener
	metricsLn net.Listener
}

// NewServer is the constructor of the file server. fsys is the serving root.
func NewServer(cfg *config.ServerConfig, fsys afero.Fs, logger *log.Logger) *Server {
	return &Server{
		config: cfg,
		fs:     fsys,
		logger: logger,
		out:    os.Stdout,
	}
}

// SetOutput sets where the startup banner is written to.
func (s *Server) SetOutput(w io.Writer) {
	s.out = w
}

// SetMetrics enables request instrumentation. The metrics are exposed when
// the config has a metrics address.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetHitRecorder enables hit counting.
func (s *Server) SetHitRecorder(r middleware.HitRecorder) {
	s.hits = r
}

// Handler builds the middleware chain around the file server. Every
// response is written inside middleware.NoCache.
func (s *Server) Handler() http.Handler {
	var h http.Handler = fileserver.New(s.fs, s.config.DirectoryListing)
	h = middleware.NoCache(h)
	if s.hits != nil {
		h = middleware.RecordHits(h, s.hits, s.logger)
	}
	if s.metrics != nil {
		h = s.metrics.Instrument(h)
	}
	return middleware.MakeRequestTimeTracker(h, middleware.LogRequestTime(s.logger))
}

// Listen binds the file server listener and, if configured, the metrics
// listener. Calling it again is a no-op.
func (s *Server) Listen() error {
	if s.ln != nil {
		return nil
	}

	addr := s.config.Address()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}

	if s.metrics != nil && s.config.MetricsAddress != "" {
		mln, err := net.Listen("tcp", s.config.MetricsAddress)
		if err != nil {
			_ = ln.Close()
			return &BindError{Addr: s.config.MetricsAddress, Err: err}
		}
		s.metricsLn = mln
	}

	s.ln = ln
	return nil
}

// Addr is the bound address of the file server, nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// MetricsAddr is the bound address of the metrics listener, nil when
// metrics are not served.
func (s *Server) MetricsAddr() net.Addr {
	if s.metricsLn == nil {
		return nil
	}
	return s.metricsLn.Addr()
}

// URL is the address announced at startup.
func (s *Server) URL() string {
	port := s.config.Port
	if tcp, ok := s.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}
	return "http://localhost:" + strconv.Itoa(port)
}

// Start binds the listeners, announces the URL and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.out, "Server running at %s\n", s.URL()); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(s.out, "Press Ctrl+C to stop"); err != nil {
		return err
	}

	return s.Serve(ctx)
}

func (s *Server) newHTTPServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		ErrorLog:          s.logger.StandardLog(log.StandardLogOptions{ForceLevel: log.ErrorLevel}),
	}
}

// Serve accepts connections on the bound listeners until ctx is done, then
// shuts down within the configured timeout. Listen must be called first.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("server is not listening")
	}

	g, ctx := errgroup.WithContext(ctx)

	servers := []*http.Server{s.newHTTPServer(s.Handler())}
	listeners := []net.Listener{s.ln}
	if s.metricsLn != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		servers = append(servers, s.newHTTPServer(middleware.NoCache(mux)))
		listeners = append(listeners, s.metricsLn)

		g.Go(func() error {
			s.metrics.Observe(ctx, metrics.DefaultObservePeriod)
			return nil
		})
		s.logger.Info("Serving metrics", "addr", s.metricsLn.Addr().String())
	}

	for i := range servers {
		srv, ln := servers[i], listeners[i]
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Info("Shutting down", "timeout", s.config.ShutdownTimeout)

		return s.shutdown(servers)
	})

	s.logger.Info("Serving files", "root", s.config.Root, "addr", s.ln.Addr().String())
	return g.Wait()
}

// shutdown waits up to ShutdownTimeout for in-flight requests, a zero
// timeout drops them.
func (s *Server) shutdown(servers []*http.Server) error {
	if s.config.ShutdownTimeout <= 0 {
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Close())
		}
		return errors.Join(errs...)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	var errs []error
	for _, srv := range servers {
		errs = append(errs, srv.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
