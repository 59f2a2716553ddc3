// Package gatecharge wires the payment gate into a runnable application. It
// is the composition root used by cmd/server and by programs embedding the
// gate behind their own routes.
package gatecharge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/gatecharge/server/internal/circuitbreaker"
	"github.com/gatecharge/server/internal/config"
	"github.com/gatecharge/server/internal/facilitator"
	"github.com/gatecharge/server/internal/gate"
	"github.com/gatecharge/server/internal/httpserver"
	"github.com/gatecharge/server/internal/lifecycle"
	"github.com/gatecharge/server/internal/logger"
	"github.com/gatecharge/server/internal/metrics"
	"github.com/gatecharge/server/internal/storage"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// App is the assembled payment gate application.
type App struct {
	cfg       *config.Config
	log       zerolog.Logger
	store     storage.Store
	settler   gate.Settler
	gate      *gate.Service
	server    *httpserver.Server
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	handlers  map[string]http.Handler
	lifecycle *lifecycle.Manager
}

// Option customizes application assembly, mainly for embedding and tests.
type Option func(*App)

// WithStore overrides the storage backend built from configuration.
func WithStore(store storage.Store) Option {
	return func(a *App) { a.store = store }
}

// WithSettler overrides the facilitator client, used by tests to stub
// settlement verdicts.
func WithSettler(settler gate.Settler) Option {
	return func(a *App) { a.settler = settler }
}

// WithHandler installs the content handler served for a resource once payment
// is granted. Resources without a handler get a default JSON body.
func WithHandler(resource string, handler http.Handler) Option {
	return func(a *App) {
		if a.handlers == nil {
			a.handlers = make(map[string]http.Handler)
		}
		a.handlers[resource] = handler
	}
}

// WithLogger overrides the logger built from configuration.
func WithLogger(log zerolog.Logger) Option {
	return func(a *App) { a.log = log }
}

// New assembles the application from configuration. Construction fails on any
// invalid policy, so a misconfigured gate never starts serving.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	app := &App{
		cfg: cfg,
		log: logger.New(logger.Config{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			Service:     "gatecharge",
			Version:     Version,
			Environment: cfg.Logging.Environment,
		}),
		lifecycle: lifecycle.NewManager(),
	}
	for _, opt := range opts {
		opt(app)
	}

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(collectors.NewGoCollector())
	app.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(app.registry)
	app.metrics = m

	if app.store == nil {
		store, err := storage.New(storage.Config{
			Backend:         cfg.Storage.Backend,
			PostgresURL:     cfg.Storage.PostgresURL,
			MongoDBURL:      cfg.Storage.MongoDBURL,
			MongoDBDatabase: cfg.Storage.MongoDBDatabase,
			FilePath:        cfg.Storage.FilePath,
			CleanupInterval: cfg.Storage.CleanupInterval.Duration,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize storage: %w", err)
		}
		app.store = store
		app.lifecycle.Register("storage", store)
	}

	if app.settler == nil {
		breaker := circuitbreaker.New("facilitator", circuitbreaker.Config{
			Enabled:             cfg.CircuitBreaker.Enabled,
			MaxRequests:         cfg.CircuitBreaker.MaxRequests,
			Interval:            cfg.CircuitBreaker.Interval.Duration,
			Timeout:             cfg.CircuitBreaker.Timeout.Duration,
			ConsecutiveFailures: cfg.CircuitBreaker.ConsecutiveFailures,
			FailureRatio:        cfg.CircuitBreaker.FailureRatio,
			MinRequests:         cfg.CircuitBreaker.MinRequests,
		})
		app.settler = facilitator.New(facilitator.Config{
			BaseURL:   cfg.Facilitator.URL,
			Timeout:   cfg.Facilitator.Timeout.Duration,
			AuthToken: cfg.Facilitator.AuthToken,
			Retry: facilitator.RetryPolicy{
				MaxRetries: cfg.Facilitator.MaxRetries,
				Backoff:    cfg.Facilitator.RetryBackoff.Duration,
			},
		}, breaker, m)
	}

	svc, err := gate.NewService(policiesFromConfig(cfg.Gate), app.store, app.settler, m)
	if err != nil {
		_ = app.lifecycle.Close()
		return nil, err
	}
	app.gate = svc

	app.server = httpserver.New(httpserver.Config{
		Address:            cfg.Server.Address,
		ReadTimeout:        cfg.Server.ReadTimeout.Duration,
		WriteTimeout:       cfg.Server.WriteTimeout.Duration,
		IdleTimeout:        cfg.Server.IdleTimeout.Duration,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		RoutePrefix:        cfg.Server.RoutePrefix,
		AdminMetricsAPIKey: cfg.Server.AdminMetricsAPIKey,
		RateLimitEnabled:   cfg.RateLimit.Enabled,
		RateLimit:          cfg.RateLimit.Limit,
		RateLimitWindow:    cfg.RateLimit.Window.Duration,
		Version:            Version,
	}, svc, app.handlers, app.registry, app.log)

	return app, nil
}

// Gate exposes the gate service for embedding applications that mount
// gate.Protect on their own routers.
func (a *App) Gate() *gate.Service {
	return a.gate
}

// Logger returns the application logger.
func (a *App) Logger() zerolog.Logger {
	return a.log
}

// Run starts the HTTP server and blocks until ctx is cancelled, then drains
// in-flight requests and closes all resources in reverse order.
func (a *App) Run(ctx context.Context) error {
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go a.evictExpiredNonces(janitorCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	select {
	case err := <-errCh:
		closeErr := a.lifecycle.Close()
		if err != nil {
			return err
		}
		return closeErr
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	shutdownErr := a.server.Shutdown(shutdownCtx)
	closeErr := a.lifecycle.Close()
	if shutdownErr != nil {
		return shutdownErr
	}
	return closeErr
}

// evictExpiredNonces periodically removes expired nonce records. Database
// backends have no internal eviction loop, so this keeps their tables
// bounded; for the in-process backends it only adds metrics visibility.
func (a *App) evictExpiredNonces(ctx context.Context) {
	interval := a.cfg.Storage.CleanupInterval.Duration
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.store.CleanupExpiredNonces(ctx)
			if err != nil {
				a.log.Warn().Err(err).Msg("gatecharge.nonce_eviction_failed")
				continue
			}
			a.metrics.RecordNonceEvictions(n)
			if n > 0 {
				a.log.Debug().Int64("evicted", n).Msg("gatecharge.nonces_evicted")
			}
		}
	}
}

// policiesFromConfig flattens the gate configuration into resource policies,
// applying the gate-wide defaults to each resource.
func policiesFromConfig(cfg config.GateConfig) []gate.Policy {
	policies := make([]gate.Policy, 0, len(cfg.Resources))
	for resource, rp := range cfg.Resources {
		payTo := rp.PayTo
		if payTo == "" {
			payTo = cfg.PayTo
		}
		asset := rp.Asset
		if asset == "" {
			asset = cfg.Asset
		}
		policies = append(policies, gate.Policy{
			Resource:    resource,
			Amount:      rp.Amount,
			Description: rp.Description,
			Asset:       asset,
			PayTo:       payTo,
			Network:     cfg.Network,
			Schemes:     cfg.AcceptedSchemes,
			ProofTTL:    cfg.ProofTTL.Duration,
		})
	}
	return policies
}
