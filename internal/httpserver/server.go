// Package httpserver assembles the HTTP surface: gated resource routes,
// protocol discovery, health, and metrics.
package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/gatecharge/server/internal/gate"
	"github.com/gatecharge/server/internal/logger"
)

// Config holds the HTTP server configuration.
type Config struct {
	Address            string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	CORSAllowedOrigins []string
	RoutePrefix        string
	AdminMetricsAPIKey string

	RateLimitEnabled bool
	RateLimit        int
	RateLimitWindow  time.Duration

	Version string
}

// Server wraps the HTTP server with its router and lifecycle.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// New builds the server. handlers maps resource identifiers to the content
// served once payment is granted; resources without an entry get a default
// JSON handler so every configured policy is reachable out of the box.
func New(cfg Config, svc *gate.Service, handlers map[string]http.Handler, registry *prometheus.Registry, log zerolog.Logger) *Server {
	router := buildRouter(cfg, svc, handlers, registry, log)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Address,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

func buildRouter(cfg Config, svc *gate.Service, handlers map[string]http.Handler, registry *prometheus.Registry, log zerolog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(logger.Middleware(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeaders)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", "X-PAYMENT"},
			ExposedHeaders: []string{"X-Request-ID", "X-PAYMENT-RESPONSE"},
			MaxAge:         300,
		}))
	}

	if cfg.RateLimitEnabled {
		r.Use(httprate.LimitByIP(cfg.RateLimit, cfg.RateLimitWindow))
	}

	api := newAPI(svc, cfg.Version)

	mount := func(r chi.Router) {
		r.Get("/health", api.health)
		r.Get("/.well-known/x402", api.discovery)

		r.Method(http.MethodGet, "/metrics", metricsHandler(cfg.AdminMetricsAPIKey, registry))

		for resource := range svc.Policies() {
			handler, ok := handlers[resource]
			if !ok {
				handler = api.defaultContent(resource)
			}
			r.Method(http.MethodGet, resourcePath(resource), gate.Protect(svc, resource, handler))
		}
	}

	if cfg.RoutePrefix != "" {
		r.Route(cfg.RoutePrefix, mount)
	} else {
		mount(r)
	}

	return r
}

// resourcePath maps a resource identifier to its route pattern. Identifiers
// are already path-shaped ("/premium/report"); bare names get a leading slash.
func resourcePath(resource string) string {
	if strings.HasPrefix(resource, "/") {
		return resource
	}
	return "/" + resource
}

// metricsHandler optionally protects the Prometheus endpoint with an API key.
func metricsHandler(apiKey string, registry *prometheus.Registry) http.Handler {
	var inner http.Handler
	if registry != nil {
		inner = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	} else {
		inner = promhttp.Handler()
	}
	if apiKey == "" {
		return inner
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != apiKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		inner.ServeHTTP(w, r)
	})
}

// Start begins serving HTTP requests. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("address", s.httpServer.Addr).Msg("server.starting")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("server.shutting_down")
	return s.httpServer.Shutdown(ctx)
}
