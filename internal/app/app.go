// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the PII shield gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"piishield/config"
	"piishield/internal/auditlog"
	"piishield/internal/cache"
	"piishield/internal/guardrails"
	"piishield/internal/observability"
	"piishield/internal/pipeline"
	"piishield/internal/providers"
	"piishield/internal/server"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config   *config.Config
	logger   *slog.Logger
	audit    *auditlog.Result
	counter  cache.Counter
	adapter  providers.Adapter
	pipeline *pipeline.Pipeline
	server   *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig is the loaded application configuration.
	AppConfig *config.Config

	// Factory provides the ProviderFactory used to construct the upstream adapter.
	Factory *providers.ProviderFactory

	// Registry receives the gateway metrics. Nil creates a private registry
	// with the Go and process collectors.
	Registry *prometheus.Registry

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("factory is required")
	}

	appCfg := cfg.AppConfig
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	app := &App{
		config: appCfg,
		logger: logger,
	}

	redactor, err := guardrails.BuildRedactor(guardrails.Config{
		Detectors: appCfg.Guardrails.Detectors,
		RulesFile: appCfg.Guardrails.RulesFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build redactor: %w", err)
	}

	adapter, err := cfg.Factory.Create(providers.Config{
		Type:       appCfg.Upstream.Provider,
		BaseURL:    appCfg.Upstream.OllamaBaseURL,
		Endpoint:   appCfg.Upstream.AzureEndpoint,
		Deployment: appCfg.Upstream.AzureDeployment,
		Timeout:    appCfg.Upstream.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize upstream provider: %w", err)
	}
	app.adapter = adapter

	// Initialize audit storage
	auditResult, err := auditlog.New(ctx, auditlog.Config{
		Storage:       appCfg.Storage.StorageSettings(),
		RetentionDays: appCfg.Storage.RetentionDays,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}
	app.audit = auditResult

	policy := guardrails.PolicyConfig{
		AllowedModels: appCfg.Policy.AllowedModels,
		RateLimit: guardrails.RateLimitConfig{
			Requests: appCfg.Policy.RateLimitRequests,
			Window:   appCfg.Policy.RateLimitWindow,
		},
	}
	if policy.RateLimit.Enabled() {
		counter, err := newCounter(appCfg.Policy.RedisURL)
		if err != nil {
			closeErr := app.audit.Close()
			if closeErr != nil {
				return nil, fmt.Errorf("failed to initialize rate limit counter: %w (also: audit close error: %v)", err, closeErr)
			}
			return nil, fmt.Errorf("failed to initialize rate limit counter: %w", err)
		}
		app.counter = counter
	}
	var gateCounter guardrails.Counter
	if app.counter != nil {
		gateCounter = app.counter
	}
	gate := guardrails.BuildGate(policy, gateCounter)

	p, err := pipeline.New(pipeline.Options{
		Redactor:        redactor,
		Gate:            gate,
		Adapter:         adapter,
		Audit:           auditResult.Sink,
		Metrics:         observability.NewMetrics(registry),
		Logger:          logger,
		RedactAssistant: appCfg.Guardrails.RedactAssistant,
	})
	if err != nil {
		closeErr := app.closeStores()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to build pipeline: %w (also: close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	app.pipeline = p

	app.logStartupInfo(redactor, gate)

	app.server = server.New(p, auditResult.Sink, &server.Config{
		AdminAPIKey:    appCfg.Admin.APIKey,
		MetricsEnabled: appCfg.Metrics.Enabled,
		Gatherer:       registry,
		BodySizeLimit:  appCfg.Server.BodySizeLimit,
		UIEnabled:      appCfg.UI.Enabled,
		UIDir:          appCfg.UI.Dir,
		Logger:         logger,
	})

	return app, nil
}

// newCounter picks the shared Redis counter when a URL is configured.
func newCounter(redisURL string) (cache.Counter, error) {
	if strings.TrimSpace(redisURL) == "" {
		return cache.NewLocalCounter(), nil
	}
	return cache.NewRedisCounter(cache.RedisConfig{URL: redisURL})
}

// Pipeline returns the request pipeline.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// Handler returns the HTTP handler, for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	a.logger.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			a.logger.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order:
// the HTTP server first, then the rate limit counter, then the audit store.
//
// Shutdown is idempotent; after the first call, subsequent calls are no-ops.
// It attempts every step and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	a.logger.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}
	if err := a.closeStores(); err != nil {
		a.logger.Error("store close error", "error", err)
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	a.logger.Info("application shutdown complete")
	return nil
}

func (a *App) closeStores() error {
	var errs []error
	if a.counter != nil {
		if err := a.counter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("counter close: %w", err))
		}
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit close: %w", err))
		}
	}
	return errors.Join(errs...)
}

// logStartupInfo logs the effective configuration. Secrets are reported
// only as set or unset.
func (a *App) logStartupInfo(redactor *guardrails.Redactor, gate *guardrails.Gate) {
	cfg := a.config

	a.logger.Info("upstream configured",
		"provider", a.adapter.Name(),
		"timeout", cfg.Upstream.Timeout.String(),
	)
	a.logger.Info("storage configured",
		"type", cfg.Storage.Type,
		"retention_days", cfg.Storage.RetentionDays,
	)
	a.logger.Info("redaction configured",
		"rules", redactor.RuleNames(),
		"redact_assistant", cfg.Guardrails.RedactAssistant,
	)
	a.logger.Info("policy configured", "rules", gate.Rules())

	if cfg.Admin.APIKey == "" {
		a.logger.Warn("admin stats disabled", "recommendation", "set ADMIN_API_KEY to enable /admin/stats")
	} else {
		a.logger.Info("admin stats enabled", "path", "/admin/stats")
	}
	if cfg.Metrics.Enabled {
		a.logger.Info("prometheus metrics enabled", "endpoint", "/metrics")
	} else {
		a.logger.Info("prometheus metrics disabled")
	}
	if cfg.UI.Enabled {
		a.logger.Info("static UI enabled", "dir", cfg.UI.Dir, "path", "/ui/")
	}
}
