// Package server owns the transport: it accepts connections, pipes
// their bytes into the request parser, drives the router for each parsed
// request, and translates parse and dispatch failures into HTTP error
// responses or a teardown.
package server

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"httpkit/internal/router"
)

// Server accepts connections on one or more listeners and serves each on
// its own goroutine.
type Server struct {
	router      *router.Router
	log         *zap.Logger
	serverIdent string

	state     atomic.Bool
	listeners []net.Listener
	group     errgroup.Group
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger. The default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithServerIdent overrides the Server response header.
func WithServerIdent(ident string) Option {
	return func(s *Server) { s.serverIdent = ident }
}

// New returns a server dispatching through r.
func New(r *router.Router, opts ...Option) *Server {
	s := &Server{
		router: r,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(true)
	return s
}

// Listen starts accepting plaintext connections on addr.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	s.serveListener(ln)
	return nil
}

// ListenTLS starts accepting TLS connections on addr. Certificate and
// key live on disk; the engine itself never sees them.
func (s *Server) ListenTLS(addr, certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("failed to load key pair: %w", err)
	}
	ln, err := tls.Listen("tcp", addr, &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		return fmt.Errorf("failed to start TLS listener: %w", err)
	}
	s.serveListener(ln)
	return nil
}

// Serve accepts connections from an externally created listener.
func (s *Server) Serve(ln net.Listener) {
	s.serveListener(ln)
}

func (s *Server) serveListener(ln net.Listener) {
	s.listeners = append(s.listeners, ln)
	s.group.Go(func() error {
		s.accept(ln)
		return nil
	})
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))
}

func (s *Server) accept(ln net.Listener) {
	for s.state.Load() {
		conn, err := ln.Accept()
		if err != nil {
			if !s.state.Load() {
				return
			}
			s.log.Error("accept failed", zap.Error(err))
			continue
		}
		go s.handle(conn)
	}
}

// Close stops the accept loops and closes every listener. Connections
// already being served run to completion.
func (s *Server) Close() error {
	s.state.Store(false)
	var err error
	for _, ln := range s.listeners {
		err = multierr.Append(err, ln.Close())
	}
	gerr := s.group.Wait()
	return multierr.Append(err, gerr)
}
