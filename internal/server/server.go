// Package server owns the HTTP listener lifecycle: bind, serve, and a
// single-shot graceful shutdown that stops background components before
// draining in-flight requests.
package server

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultMaxHeaderBytes    = 1 << 20
	defaultGracefulTimeout   = 10 * time.Second
)

// Stopper is a background component with a bounded stop. Stoppers run
// before the HTTP server drains so no new work arrives while they wind
// down.
type Stopper interface {
	Stop(ctx context.Context) error
}

type StopFunc func(ctx context.Context) error

func (s StopFunc) Stop(ctx context.Context) error {
	return s(ctx)
}

type Options struct {
	GracefulTimeout time.Duration
	Stoppers        []Stopper
	CloseIdle       []func()
}

type Server struct {
	Addr string

	httpServer      *http.Server
	listener        net.Listener
	gracefulTimeout time.Duration
	stoppers        []Stopper
	closeIdle       []func()
	shutdownOnce    sync.Once
	shutdownErr     error
}

// Start binds the address and begins serving in a background goroutine.
// WriteTimeout stays unset so long-lived event streams are not cut off.
func Start(handler http.Handler, addr string, options Options) (*Server, error) {
	if handler == nil {
		return nil, errors.New("handler is nil")
	}

	gracefulTimeout := options.GracefulTimeout
	if gracefulTimeout <= 0 {
		gracefulTimeout = defaultGracefulTimeout
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:           handler,
		MaxHeaderBytes:    defaultMaxHeaderBytes,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
	go serve(srv, ln)

	return &Server{
		Addr:            ln.Addr().String(),
		httpServer:      srv,
		listener:        ln,
		gracefulTimeout: gracefulTimeout,
		stoppers:        options.Stoppers,
		closeIdle:       options.CloseIdle,
	}, nil
}

func serve(server *http.Server, ln net.Listener) {
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("ERROR server: %v", err)
	}
}

func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	return s.Shutdown()
}

// Shutdown runs the shutdown sequence exactly once: stop accepting, stop
// background components, drain in-flight requests, close idle connections.
func (s *Server) Shutdown() error {
	if s == nil {
		return nil
	}
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdownSequence()
	})
	return s.shutdownErr
}

func (s *Server) shutdownSequence() error {
	_ = s.listener.Close()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), s.gracefulTimeout)
	for _, stopper := range s.stoppers {
		if stopper == nil {
			continue
		}
		if err := stopper.Stop(stopCtx); err != nil {
			log.Printf("WARN shutdown stopper: %v", err)
		}
	}
	stopCancel()

	gracefulCtx, gracefulCancel := context.WithTimeout(context.Background(), s.gracefulTimeout)
	defer gracefulCancel()
	err := s.httpServer.Shutdown(gracefulCtx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		_ = s.httpServer.Close()
	}

	for _, closeIdle := range s.closeIdle {
		if closeIdle != nil {
			closeIdle()
		}
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
