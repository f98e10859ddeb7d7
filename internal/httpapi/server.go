package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	logx "marketpulse/pkg/logx"
)

const shutdownGrace = 5 * time.Second

// Server runs the API until its context is canceled.
type Server struct {
	cfg     Config
	handler http.Handler
	log     logx.Logger

	// ready receives the bound address once listening; tests use it with ":0".
	ready chan string
}

func NewServer(cfg Config, handler http.Handler, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, handler: handler, log: log, ready: make(chan string, 1)}
}

// Ready yields the listen address after Serve bound its socket.
func (s *Server) Ready() <-chan string { return s.ready }

// Serve listens on cfg.Addr and blocks until ctx is done, then shuts the
// server down gracefully. An empty address disables the server.
func (s *Server) Serve(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		s.log.Info("http server disabled")
		<-ctx.Done()
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	bound := ln.Addr().String()
	s.ready <- bound
	s.log.Info("http server started", logx.String("addr", bound))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http shutdown incomplete; closing", logx.Err(err))
		_ = srv.Close()
	}
	<-errc
	s.log.Info("http server stopped")
	return nil
}
