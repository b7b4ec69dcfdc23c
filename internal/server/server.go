// Package server owns the HTTP surface of DataGate: the proxy routes, the
// management API, health probes, and graceful shutdown across one or more
// listeners.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/datagate-io/datagate/internal/auth"
	"github.com/datagate-io/datagate/internal/handler"
	"github.com/datagate-io/datagate/internal/model"
	"github.com/datagate-io/datagate/internal/openapi"
	"github.com/datagate-io/datagate/internal/proxy"
	"github.com/datagate-io/datagate/internal/registry"
	"github.com/datagate-io/datagate/internal/server/middleware"
	"github.com/datagate-io/datagate/internal/vault"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	RateLimitPerMin int
	// Listeners maps connector families to dedicated extra ports. Each
	// dedicated listener serves only its own family.
	Listeners map[model.ProxyType]int
	// Version is the build version reported by /info.
	Version string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		RateLimitPerMin: 600,
		Version:         "dev",
	}
}

// Server is the top-level HTTP server for DataGate. It owns the main Chi
// router plus any dedicated per-family listeners, all sharing one
// dispatcher.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *registry.Store
	dispatcher *proxy.Dispatcher
	logger     *slog.Logger
	servers    []*http.Server
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, store *registry.Store, v *vault.Vault, authSvc *auth.Service, dispatcher *proxy.Dispatcher, logger *slog.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
	}
	s.router = s.buildRouter(handler.NewDispatchHandler(dispatcher), v, authSvc)
	return s
}

// buildRouter assembles the full route tree. Dedicated listeners reuse it
// with a pinned dispatch handler and without the management API.
func (s *Server) buildRouter(dispatch *handler.DispatchHandler, v *vault.Vault, authSvc *auth.Service) chi.Router {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if s.cfg.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(s.cfg.RateLimitPerMin))
	}

	// --- Health checks and gateway metadata (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/info", s.handleInfo)

	// --- OpenAPI spec (no auth required) ---
	r.Get("/openapi.json", openapi.NewHandler().ServeSpec)

	// --- Management API (admin JWT only) ---
	if v != nil && authSvc != nil {
		r.Route("/api/v1/system", func(r chi.Router) {
			sysHandler := handler.NewSystemHandler(s.store, v, authSvc, s.dispatcher)

			r.Post("/admin/session", sysHandler.Login)
			r.Delete("/admin/session", sysHandler.Logout)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin(authSvc))

				r.Get("/connector", sysHandler.ListConnectors)
				r.Post("/connector", sysHandler.CreateConnector)
				r.Get("/connector/{connectorId}", sysHandler.GetConnector)
				r.Put("/connector/{connectorId}", sysHandler.UpdateConnector)
				r.Delete("/connector/{connectorId}", sysHandler.DeleteConnector)
				r.Post("/connector/{connectorId}/test", sysHandler.TestConnector)

				r.Get("/token", sysHandler.ListTokens)
				r.Post("/token", sysHandler.CreateToken)
				r.Delete("/token/{tokenId}", sysHandler.RevokeToken)

				r.Get("/share", sysHandler.ListShareLinks)
				r.Post("/share", sysHandler.CreateShareLink)
				r.Delete("/share/{shareId}", sysHandler.RevokeShareLink)
			})
		})
	}

	// --- Proxy surface ---
	// /shared must be registered before the {proxyType} wildcard would
	// swallow it; chi prefers the static route, but keeping it explicit
	// here documents the intent.
	r.Get("/shared/{shareId}", dispatch.DispatchShared)
	r.Post("/shared/{shareId}", dispatch.DispatchShared)

	r.Get("/{proxyType}/{resource}", dispatch.Dispatch)
	r.Post("/{proxyType}/{resource}", dispatch.Dispatch)

	return r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the registry answers
// and reports per-connector test status; it does not dial backends on every
// probe, that is what the test endpoint is for.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	conns, err := s.store.ListConnectors(r.Context())
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded","error":"registry unavailable"}`))
		return
	}

	checks := make(map[string]string, len(conns))
	for i := range conns {
		if !conns[i].IsActive {
			continue
		}
		checks[conns[i].Name] = conns[i].TestStatus
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"checks": checks,
	})
}

// handleInfo reports non-secret gateway metadata: build version, the
// connector families this build can dispatch, and the externally visible
// address. Connector names, configs, and credentials never appear here.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	listeners := make(map[string]int, len(s.cfg.Listeners))
	for family, port := range s.cfg.Listeners {
		listeners[string(family)] = port
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"name":        "datagate",
		"version":     s.cfg.Version,
		"proxy_types": model.ConnectorTypes(),
		"proxy_host":  s.cfg.Host,
		"proxy_port":  s.cfg.Port,
		"listeners":   listeners,
	})
}

// ListenAndServe starts the main listener plus any dedicated per-family
// listeners and blocks until a SIGINT or SIGTERM is received. It then
// drains in-flight requests on every listener before returning.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1+len(s.cfg.Listeners))

	s.servers = append(s.servers, s.newHTTPServer(s.cfg.Port, s.router))
	for family, port := range s.cfg.Listeners {
		pinned := handler.NewPinnedDispatchHandler(s.dispatcher, family)
		// Dedicated listeners expose only the proxy surface.
		s.servers = append(s.servers, s.newHTTPServer(port, s.buildRouter(pinned, nil, nil)))
		s.logger.Info("dedicated listener", "proxy_type", family, "port", port)
	}

	for _, srv := range s.servers {
		srv := srv
		go func() {
			s.logger.Info("server starting", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, srv := range s.servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("listener shutdown", "addr", srv.Addr, "error", err)
			}
		}(srv)
	}
	wg.Wait()

	s.logger.Info("server stopped")
	return nil
}

func (s *Server) newHTTPServer(port int, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// Router returns the main Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the main router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
