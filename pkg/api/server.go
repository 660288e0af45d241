package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/dicomul/internal/logger"
)

// stopTimeout bounds the graceful shutdown Start performs when its context
// is cancelled.
const stopTimeout = 5 * time.Second

// Server serves the status API. Routes are documented on NewRouter.
type Server struct {
	http   *http.Server
	config APIConfig

	bound chan struct{}
	addr  string // set before bound is closed

	stopOnce sync.Once
	stopErr  error
}

// NewServer creates a stopped server. Defaults are applied to config so a
// zero APIConfig works.
func NewServer(config APIConfig, deps Deps) *Server {
	config.ApplyDefaults()
	return &Server{
		config: config,
		bound:  make(chan struct{}),
		http: &http.Server{
			Addr:              net.JoinHostPort(config.BindAddress, strconv.Itoa(config.Port)),
			Handler:           NewRouter(config, deps),
			ReadTimeout:       config.ReadTimeout,
			ReadHeaderTimeout: config.ReadTimeout,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       config.IdleTimeout,
		},
	}
}

// Start listens and serves until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("API server failed: %w", err)
	}
	s.addr = ln.Addr().String()
	close(s.bound)
	logger.Info("API server listening", "address", s.addr)

	served := make(chan error, 1)
	go func() { served <- s.http.Serve(ln) }()

	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		return s.Stop(stopCtx)
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop shuts the server down. Later calls return the first call's result.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		if err := s.http.Shutdown(ctx); err != nil {
			s.stopErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", logger.Err(err))
			return
		}
		logger.Info("API server stopped")
	})
	return s.stopErr
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.config.Port
}

// Addr blocks until the listener is bound and returns its address.
func (s *Server) Addr() string {
	<-s.bound
	return s.addr
}
