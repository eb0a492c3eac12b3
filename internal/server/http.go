package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"piishield/internal/auditlog"
	"piishield/internal/pipeline"
)

// DefaultBodySizeLimit caps inbound request bodies.
const DefaultBodySizeLimit = "1M"

// DevOrigins are the local development origins allowed by CORS.
var DevOrigins = []string{
	"http://localhost:30081", "http://127.0.0.1:30081",
	"http://localhost:30080", "http://127.0.0.1:30080",
	"http://localhost:8080", "http://127.0.0.1:8080",
	"http://localhost:8000", "http://127.0.0.1:8000",
	"http://localhost:5173", "http://127.0.0.1:5173",
}

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	AdminAPIKey    string              // Empty disables /admin/stats
	MetricsEnabled bool                // Whether to expose /metrics
	Gatherer       prometheus.Gatherer // Source for /metrics; defaults to the global registry
	BodySizeLimit  string              // echo size string such as "1M"
	UIEnabled      bool                // Serve static files under /ui
	UIDir          string
	Logger         *slog.Logger
}

// New creates a new HTTP server. stats may be nil, in which case the admin
// endpoint reports itself as disabled.
func New(p *pipeline.Pipeline, stats auditlog.Reader, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = echo.ExtractIPDirect()
	e.HTTPErrorHandler = errorHandler(logger)

	handler := NewHandler(p, stats, cfg.AdminAPIKey)

	bodySizeLimit := strings.TrimSpace(cfg.BodySizeLimit)
	if bodySizeLimit == "" {
		bodySizeLimit = DefaultBodySizeLimit
	}

	// Global middleware stack (order matters)
	e.Use(middleware.RequestLoggerWithConfig(requestLoggerConfig(logger)))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     DevOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, HeaderAdminKey},
		ExposeHeaders:    exposedHeaders,
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(bodySizeLimit))

	// Public routes
	e.GET("/healthz", handler.Healthz)
	if cfg.MetricsEnabled {
		gatherer := cfg.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// API routes
	e.POST("/v1/chat/completions", handler.ChatCompletion)
	e.GET("/admin/stats", handler.AdminStats)

	if cfg.UIEnabled && cfg.UIDir != "" {
		e.Group("/ui").Use(middleware.StaticWithConfig(middleware.StaticConfig{
			Root:  cfg.UIDir,
			Index: "index.html",
			HTML5: true,
		}))
		e.GET("/", func(c echo.Context) error {
			return c.Redirect(http.StatusTemporaryRedirect, "/ui/")
		})
	}

	return &Server{
		echo:    e,
		handler: handler,
	}
}

var exposedHeaders = []string{
	pipeline.HeaderRequestID,
	pipeline.HeaderPIIRedacted,
	pipeline.HeaderOriginalLength,
	pipeline.HeaderMaskedLength,
	pipeline.HeaderLatency,
}

// requestLoggerConfig logs one access line per request. Query strings and
// bodies are left out.
func requestLoggerConfig(logger *slog.Logger) middleware.RequestLoggerConfig {
	return middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURIPath:  true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"duration_ms", v.Latency.Milliseconds(),
				"remote_ip", v.RemoteIP,
			}
			if id := c.Response().Header().Get(pipeline.HeaderRequestID); id != "" {
				attrs = append(attrs, "request_id", id)
			}
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(c.Request().Context(), level, "http.request", attrs...)
			return nil
		},
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
