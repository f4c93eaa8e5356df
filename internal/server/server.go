package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/seslattery/hostgate/internal/allowlist"
	"github.com/seslattery/hostgate/internal/config"
)

const shutdownTimeout = 5 * time.Second

// Server is an HTTP server whose every request passes through a Gate.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	gate       *Gate
	downstream http.Handler

	mu        sync.Mutex
	listeners []net.Listener
}

// New creates a Server. When cfg.Hosts.Allowed is empty the allow-list is
// taken from the addresses the server binds to.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	downstream, err := newDownstream(cfg.Server.Upstream)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		downstream: downstream,
	}
	s.gate = NewGate(
		allowlist.NewLazy(cfg.Hosts.Allowed, s.Addresses),
		GateOptions{
			AllowEmptyHosts:       cfg.Hosts.AllowEmptyHosts,
			IncludeFailureMessage: cfg.Hosts.IncludeFailureMessage,
			ExemptPaths:           cfg.Server.ExemptPaths,
		},
		logger,
	)
	return s, nil
}

func newDownstream(upstream string) (http.Handler, error) {
	if upstream == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Write([]byte("ok\n"))
		}), nil
	}
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream: %w", err)
	}
	return httputil.NewSingleHostReverseProxy(target), nil
}

// Handler returns the routed, gated handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.gate.Middleware)

	r.Get("/healthz", healthzHandler)
	r.Handle("/*", s.downstream)

	return r
}

// Gate returns the server's gate.
func (s *Server) Gate() *Gate { return s.gate }

// Listen binds every configured address. It is a no-op once bound.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.listeners) > 0 {
		return nil
	}

	for _, addr := range s.cfg.Server.Listen {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, l := range s.listeners {
				l.Close()
			}
			s.listeners = nil
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		s.listeners = append(s.listeners, ln)
	}
	return nil
}

// Addresses returns the bound addresses as URLs, e.g. "http://127.0.0.1:8080".
func (s *Server) Addresses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	addrs := make([]string, 0, len(s.listeners))
	for _, ln := range s.listeners {
		addrs = append(addrs, "http://"+ln.Addr().String())
	}
	return addrs
}

// Run binds, resolves the allow-list and serves until ctx is cancelled.
// A failure to resolve any allowed host aborts startup.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	if _, err := s.gate.Policy(); err != nil {
		s.closeListeners()
		return fmt.Errorf("resolving allowed hosts: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	s.mu.Lock()
	listeners := s.listeners
	s.mu.Unlock()

	errc := make(chan error, len(listeners))
	for _, ln := range listeners {
		go func(ln net.Listener) {
			errc <- srv.Serve(ln)
		}(ln)
	}
	s.logger.Info("server started", "addresses", s.Addresses(), "upstream", s.cfg.Server.Upstream)

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	s.logger.Info("server stopped")
	return serveErr
}

func (s *Server) closeListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ln := range s.listeners {
		ln.Close()
	}
	s.listeners = nil
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
