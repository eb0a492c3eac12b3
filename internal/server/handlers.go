// Package server provides the HTTP surface of the PII shield gateway.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"piishield/internal/auditlog"
	"piishield/internal/core"
	"piishield/internal/pipeline"
)

// Handler holds the HTTP handlers
type Handler struct {
	pipeline *pipeline.Pipeline
	stats    auditlog.Reader
	adminKey string
}

// NewHandler creates a new handler
func NewHandler(p *pipeline.Pipeline, stats auditlog.Reader, adminKey string) *Handler {
	return &Handler{
		pipeline: p,
		stats:    stats,
		adminKey: adminKey,
	}
}

// ChatCompletion handles POST /v1/chat/completions
func (h *Handler) ChatCompletion(c echo.Context) error {
	var req core.ChatRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	res, err := h.pipeline.Handle(c.Request().Context(), &req, c.RealIP())
	if err != nil {
		return err
	}

	header := c.Response().Header()
	for name, values := range res.Headers() {
		header[name] = values
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, res.Body)
}

// decodeBody decodes exactly one JSON value from the request body.
// Anything but whitespace after it is rejected.
func decodeBody(c echo.Context, v any) error {
	dec := json.NewDecoder(c.Request().Body)
	err := dec.Decode(v)
	if err == nil {
		if extra := dec.Decode(&json.RawMessage{}); !errors.Is(extra, io.EOF) {
			err = extra
			if err == nil {
				err = errors.New("unexpected data after JSON value")
			}
		}
	}
	if err == nil {
		return nil
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	return core.NewInvalidRequestError("invalid request body: "+err.Error(), err)
}

// Healthz handles GET /healthz
func (h *Handler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// AdminStats handles GET /admin/stats
func (h *Handler) AdminStats(c echo.Context) error {
	if err := requireAdminKey(c, h.adminKey); err != nil {
		return err
	}
	if h.stats == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, msgAdminDisabled)
	}

	limit := auditlog.DefaultStatsLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return core.NewInvalidRequestError("limit must be an integer", err)
		}
		limit = max(1, min(n, auditlog.MaxStatsLimit))
	}

	stats, err := h.stats.Stats(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// errorHandler renders every failure as {"detail": message}.
func errorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		detail := "Internal server error."

		var gatewayErr *core.GatewayError
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &gatewayErr):
			status = gatewayErr.HTTPStatusCode()
			detail = gatewayErr.Message
		case errors.As(err, &httpErr):
			status = httpErr.Code
			if msg, ok := httpErr.Message.(string); ok {
				detail = msg
			} else {
				detail = http.StatusText(status)
			}
		default:
			logger.ErrorContext(c.Request().Context(), "http.unhandled_error", "error", err)
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, map[string]string{"detail": detail})
		}
		if writeErr != nil {
			logger.ErrorContext(c.Request().Context(), "http.error_write_failed", "error", writeErr)
		}
	}
}
