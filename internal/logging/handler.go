// Package logging builds the process-wide slog handler.
// JSON is the default; "text" selects a tint handler that is colorized
// only when writing to a terminal.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config selects the level and output format.
type Config struct {
	Level  string
	Format string
}

// ParseLevel maps LOG_LEVEL values (DEBUG, INFO, WARN/WARNING, ERROR) to slog levels.
// Empty means INFO.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "INFO":
		return slog.LevelInfo, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR", "CRITICAL":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level: %q", s)
}

// ValidFormat reports whether f names a supported output format.
func ValidFormat(f string) bool {
	switch strings.ToLower(strings.TrimSpace(f)) {
	case "", FormatJSON, FormatText:
		return true
	}
	return false
}

// NewHandler returns the handler for cfg writing to w. An invalid level
// falls back to INFO; callers validate configuration up front.
func NewHandler(w io.Writer, cfg Config) slog.Handler {
	level, _ := ParseLevel(cfg.Level) //nolint:errcheck // validated by config.Load

	if strings.EqualFold(strings.TrimSpace(cfg.Format), FormatText) {
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(w),
		})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// New returns a logger over NewHandler.
func New(w io.Writer, cfg Config) *slog.Logger {
	return slog.New(NewHandler(w, cfg))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
