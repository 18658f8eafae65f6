// Package httpserver wraps http.Server with background start and graceful shutdown.
package httpserver

import (
	"context"
	"net/http"
	"time"
)

const (
	defaultAddr              = ":80"
	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 2 * time.Minute
	defaultShutdownTimeout   = 3 * time.Second
)

// Server is an http.Server started in its own goroutine.
type Server struct {
	server          *http.Server
	errCh           chan error
	shutdownTimeout time.Duration
}

// Options configures the server.
type Options struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	// WriteTimeout stays zero unless set: download responses stream for as long as the file takes.
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// New creates the server and starts listening immediately.
func New(handler http.Handler, opt Options) *Server {
	if opt.Addr == "" {
		opt.Addr = defaultAddr
	}

	if opt.ReadHeaderTimeout <= 0 {
		opt.ReadHeaderTimeout = defaultReadHeaderTimeout
	}

	if opt.ShutdownTimeout <= 0 {
		opt.ShutdownTimeout = defaultShutdownTimeout
	}

	srv := &Server{
		server: &http.Server{
			Handler:           handler,
			Addr:              opt.Addr,
			ReadHeaderTimeout: opt.ReadHeaderTimeout,
			WriteTimeout:      opt.WriteTimeout,
			IdleTimeout:       defaultIdleTimeout,
		},
		errCh:           make(chan error, 1),
		shutdownTimeout: opt.ShutdownTimeout,
	}

	go srv.start()

	return srv
}

func (s *Server) start() {
	s.errCh <- s.server.ListenAndServe()
	close(s.errCh)
}

// Notify reports the listener error, http.ErrServerClosed after Shutdown.
func (s *Server) Notify() <-chan error {
	return s.errCh
}

// Shutdown stops accepting connections and waits for in-flight requests up to the shutdown timeout.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	return s.server.Shutdown(ctx)
}
