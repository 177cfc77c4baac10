package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"streamcast/internal/api"
	"streamcast/internal/observability/logging"
	"streamcast/internal/observability/metrics"
)

// TLSConfig points at the certificate pair used to serve HTTPS. Both fields
// must be set for TLS to be enabled.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

func (c TLSConfig) enabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// Config carries the HTTP server settings.
type Config struct {
	Addr            string
	TLS             TLSConfig
	Logger          *slog.Logger
	Metrics         *metrics.Recorder
	Auth            *api.TokenAuth
	ShutdownTimeout time.Duration
}

// Server wraps the orchestrator API behind the shared middleware chain.
type Server struct {
	cfg     Config
	handler http.Handler
	logger  *slog.Logger
}

// New assembles the route table and middleware chain around the API handler.
func New(h *api.Handler, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.Health)
	mux.Handle("/metrics", cfg.Metrics.Handler())
	mux.HandleFunc("/api/sessions", h.Sessions)
	mux.HandleFunc("/api/sessions/schedule", h.ScheduleSession)
	mux.HandleFunc("/api/sessions/", h.SessionByID)

	var handler http.Handler = mux
	if cfg.Auth != nil && cfg.Auth.Enabled() {
		handler = cfg.Auth.Middleware(handler)
	}
	handler = metrics.HTTPMiddleware(cfg.Metrics, handler)
	handler = logging.RequestLogger(logging.RequestLoggerConfig{Logger: cfg.Logger})(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logging.WithComponent(cfg.Logger, "server"),
	}
}

// Handler exposes the fully wrapped handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves HTTP until ctx is cancelled or the listener fails, then shuts
// down gracefully within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}

	scheme := "http"
	if s.cfg.TLS.enabled() {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		if err != nil {
			listener.Close()
			return fmt.Errorf("load tls keypair: %w", err)
		}
		listener = tls.NewListener(listener, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		scheme = "https"
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(listener)
	}()
	s.logger.Info("server listening", "addr", listener.Addr().String(), "scheme", scheme)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown incomplete", "error", err)
		srv.Close()
		return err
	}
	<-serveErr
	return nil
}
