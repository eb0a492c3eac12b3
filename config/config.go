// Package config loads the gateway configuration.
//
// Sources, lowest precedence first: built-in defaults, an optional YAML file
// (CONFIG_FILE, or ./config.yaml when present) whose string values may use
// ${VAR} and ${VAR:-default} placeholders, an optional .env file, and the
// process environment. Keys are the environment variable names; in YAML they
// may be written in lower case.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"piishield/internal/logging"
	"piishield/internal/server"
	"piishield/internal/storage"
)

// Config holds the application configuration. It is built once by Load and
// treated as read-only afterwards.
type Config struct {
	Server     ServerConfig
	Upstream   UpstreamConfig
	Storage    StorageConfig
	Logging    LogConfig
	Guardrails GuardrailsConfig
	Policy     PolicyConfig
	Admin      AdminConfig
	Metrics    MetricsConfig
	UI         UIConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	// BodySizeLimit is an echo body limit such as "1M" or "512K".
	BodySizeLimit string
}

// UpstreamConfig selects and configures the LLM provider.
type UpstreamConfig struct {
	Provider        string
	OllamaBaseURL   string
	AzureEndpoint   string
	AzureDeployment string
	Timeout         time.Duration
}

// StorageConfig selects the audit store backend.
type StorageConfig struct {
	Type             string
	SQLitePath       string
	PostgresURL      string
	PostgresMaxConns int
	MongoURL         string
	MongoDatabase    string
	RetentionDays    int
}

// LogConfig controls process logging.
type LogConfig struct {
	Level  string
	Format string
}

// GuardrailsConfig controls the redaction ruleset.
type GuardrailsConfig struct {
	RedactAssistant bool
	Detectors       []string
	RulesFile       string
}

// PolicyConfig controls the policy gate.
type PolicyConfig struct {
	// AllowedModels is nil when every model is allowed.
	AllowedModels     []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// RedisURL backs the rate limit counter; empty uses an in-process counter.
	RedisURL string
}

// AdminConfig protects the admin endpoints. An empty APIKey disables them.
type AdminConfig struct {
	APIKey string
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
}

// UIConfig controls static UI hosting under /ui.
type UIConfig struct {
	Enabled bool
	Dir     string
}

// StorageSettings converts the audit store configuration for the storage package.
func (c StorageConfig) StorageSettings() storage.Config {
	return storage.Config{
		Type:       c.Type,
		SQLite:     storage.SQLiteConfig{Path: c.SQLitePath},
		PostgreSQL: storage.PostgreSQLConfig{URL: c.PostgresURL, MaxConns: c.PostgresMaxConns},
		MongoDB:    storage.MongoDBConfig{URL: c.MongoURL, Database: c.MongoDatabase},
	}
}

var defaults = map[string]any{
	"PORT":                    "8000",
	"BODY_SIZE_LIMIT":         server.DefaultBodySizeLimit,
	"LLM_PROVIDER":            "ollama",
	"OLLAMA_BASE_URL":         "http://host.docker.internal:11434",
	"AZURE_OPENAI_ENDPOINT":   "",
	"AZURE_OPENAI_DEPLOYMENT": "",
	"UPSTREAM_TIMEOUT":        "60s",
	"STORAGE_TYPE":            storage.TypeSQLite,
	"DATABASE_PATH":           storage.DefaultSQLitePath,
	"POSTGRES_URL":            "",
	"POSTGRES_MAX_CONNS":      storage.DefaultPostgresMaxConns,
	"MONGODB_URL":             "",
	"MONGODB_DATABASE":        storage.DefaultMongoDatabase,
	"AUDIT_RETENTION_DAYS":    0,
	"LOG_LEVEL":               "INFO",
	"LOG_FORMAT":              logging.FormatJSON,
	"REDACT_ASSISTANT":        "false",
	"ADMIN_API_KEY":           "",
	"ALLOWED_MODELS":          "",
	"PII_DETECTORS":           "",
	"PII_RULES_FILE":          "",
	"RATE_LIMIT_REQUESTS":     0,
	"RATE_LIMIT_WINDOW":       "60s",
	"REDIS_URL":               "",
	"METRICS_ENABLED":         "true",
	"SERVE_UI":                "false",
	"UI_DIR":                  "./ui",
}

// Load reads configuration from ./.env, the optional YAML file and the environment.
func Load() (*Config, error) {
	return load(".env", os.Getenv("CONFIG_FILE"))
}

func load(envFile, configFile string) (*Config, error) {
	if envFile != "" {
		// Existing environment variables win over .env entries.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if err := readConfigFile(v, configFile); err != nil {
		return nil, err
	}

	cfg, err := build(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readConfigFile merges a YAML file into v. An empty path reads ./config.yaml
// when it exists.
func readConfigFile(v *viper.Viper, path string) error {
	explicit := path != ""
	if !explicit {
		path = "config.yaml"
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader([]byte(expandString(string(raw))))); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func build(v *viper.Viper) (*Config, error) {
	timeout, err := parseDuration(v.GetString("UPSTREAM_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("invalid UPSTREAM_TIMEOUT: %w", err)
	}
	window, err := parseDuration(v.GetString("RATE_LIMIT_WINDOW"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
	}

	ints := map[string]int{}
	for _, key := range []string{"POSTGRES_MAX_CONNS", "AUDIT_RETENTION_DAYS", "RATE_LIMIT_REQUESTS"} {
		n, err := parseInt(v.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		ints[key] = n
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:          strings.TrimSpace(v.GetString("PORT")),
			BodySizeLimit: strings.TrimSpace(v.GetString("BODY_SIZE_LIMIT")),
		},
		Upstream: UpstreamConfig{
			Provider:        strings.ToLower(strings.TrimSpace(v.GetString("LLM_PROVIDER"))),
			OllamaBaseURL:   strings.TrimSpace(v.GetString("OLLAMA_BASE_URL")),
			AzureEndpoint:   strings.TrimSpace(v.GetString("AZURE_OPENAI_ENDPOINT")),
			AzureDeployment: strings.TrimSpace(v.GetString("AZURE_OPENAI_DEPLOYMENT")),
			Timeout:         timeout,
		},
		Storage: StorageConfig{
			Type:             strings.ToLower(strings.TrimSpace(v.GetString("STORAGE_TYPE"))),
			SQLitePath:       strings.TrimSpace(v.GetString("DATABASE_PATH")),
			PostgresURL:      strings.TrimSpace(v.GetString("POSTGRES_URL")),
			PostgresMaxConns: ints["POSTGRES_MAX_CONNS"],
			MongoURL:         strings.TrimSpace(v.GetString("MONGODB_URL")),
			MongoDatabase:    strings.TrimSpace(v.GetString("MONGODB_DATABASE")),
			RetentionDays:    ints["AUDIT_RETENTION_DAYS"],
		},
		Logging: LogConfig{
			Level:  strings.ToUpper(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
			Format: strings.ToLower(strings.TrimSpace(v.GetString("LOG_FORMAT"))),
		},
		Guardrails: GuardrailsConfig{
			RedactAssistant: parseBool(v.GetString("REDACT_ASSISTANT"), false),
			Detectors:       splitList(v.GetString("PII_DETECTORS")),
			RulesFile:       strings.TrimSpace(v.GetString("PII_RULES_FILE")),
		},
		Policy: PolicyConfig{
			AllowedModels:     splitList(v.GetString("ALLOWED_MODELS")),
			RateLimitRequests: ints["RATE_LIMIT_REQUESTS"],
			RateLimitWindow:   window,
			RedisURL:          strings.TrimSpace(v.GetString("REDIS_URL")),
		},
		Admin: AdminConfig{
			APIKey: v.GetString("ADMIN_API_KEY"),
		},
		Metrics: MetricsConfig{
			Enabled: parseBool(v.GetString("METRICS_ENABLED"), true),
		},
		UI: UIConfig{
			Enabled: parseBool(v.GetString("SERVE_UI"), false),
			Dir:     strings.TrimSpace(v.GetString("UI_DIR")),
		},
	}
	return cfg, nil
}

var bodyLimitPattern = regexp.MustCompile(`^\d+[KMGTP]?$`)

// Validate checks values that would otherwise fail at first use.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Server.Port)
	}
	if !bodyLimitPattern.MatchString(strings.ToUpper(c.Server.BodySizeLimit)) {
		return fmt.Errorf("invalid BODY_SIZE_LIMIT: %q (expected e.g. 1M, 512K)", c.Server.BodySizeLimit)
	}
	if c.Upstream.Provider == "" {
		return errors.New("LLM_PROVIDER must not be empty")
	}
	if c.Upstream.Timeout <= 0 {
		return errors.New("UPSTREAM_TIMEOUT must be positive")
	}

	switch c.Storage.Type {
	case storage.TypeSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("DATABASE_PATH must not be empty")
		}
	case storage.TypePostgreSQL:
		if c.Storage.PostgresURL == "" {
			return errors.New("POSTGRES_URL is required when STORAGE_TYPE=postgresql")
		}
	case storage.TypeMongoDB:
		if c.Storage.MongoURL == "" {
			return errors.New("MONGODB_URL is required when STORAGE_TYPE=mongodb")
		}
	default:
		return fmt.Errorf("invalid STORAGE_TYPE: %q (valid: sqlite, postgresql, mongodb)", c.Storage.Type)
	}
	if c.Storage.RetentionDays < 0 {
		return errors.New("AUDIT_RETENTION_DAYS must not be negative")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if !logging.ValidFormat(c.Logging.Format) {
		return fmt.Errorf("invalid LOG_FORMAT: %q (valid: json, text)", c.Logging.Format)
	}

	if c.Policy.RateLimitRequests < 0 {
		return errors.New("RATE_LIMIT_REQUESTS must not be negative")
	}
	if c.Policy.RateLimitRequests > 0 && c.Policy.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT_WINDOW must be positive when RATE_LIMIT_REQUESTS is set")
	}
	return nil
}

// parseBool accepts 1/true/yes/on (case-insensitive) as true. Empty yields def.
func parseBool(s string, def bool) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return def
	}
	switch s {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// parseDuration accepts Go duration strings; a bare integer is seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func parseInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// splitList splits a comma-separated value, trimming blanks. It returns nil
// when no entries remain.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString resolves ${VAR} and ${VAR:-default}. An empty or unset variable
// takes the default; without a default the placeholder is left as written.
func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholderPattern.FindStringSubmatch(match)
		name, hasDefault, def := parts[1], parts[2] != "", parts[3]
		if val := os.Getenv(name); val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		return match
	})
}
