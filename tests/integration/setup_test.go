//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"piishield/config"
	"piishield/internal/app"
	"piishield/internal/providers"
	"piishield/internal/providers/azure"
	"piishield/internal/providers/ollama"
	"piishield/internal/storage"
)

const adminKey = "integration-admin-key"

// TestServerConfig configures how the test server is set up.
type TestServerConfig struct {
	// DBType is either "postgresql" or "mongodb"
	DBType string

	// RedisURL enables the shared rate limit counter
	RedisURL string

	RateLimitRequests int
	AllowedModels     []string
}

// TestServerFixture holds test server resources.
type TestServerFixture struct {
	// ServerURL is the base URL of the test server
	ServerURL string

	// App is the running application
	App *app.App

	// MockLLM is the fake Ollama backend
	MockLLM *MockOllama

	// PgPool points at this test's private database (for DB assertions)
	PgPool *pgxpool.Pool

	// MongoDB is this test's private database (for DB assertions)
	MongoDB *mongo.Database

	server *httptest.Server
	once   sync.Once
}

// MockOllama records chat payloads and answers like /api/chat.
type MockOllama struct {
	mu       sync.Mutex
	payloads []string
	server   *httptest.Server
}

func newMockOllama() *MockOllama {
	m := &MockOllama{}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		m.mu.Lock()
		m.payloads = append(m.payloads, string(body))
		m.mu.Unlock()

		if r.URL.Path != "/api/chat" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3.1:8b","message":{"role":"assistant","content":"ok"},"done":true,"done_reason":"stop"}`))
	}))
	return m
}

// Payloads returns every body the backend received.
func (m *MockOllama) Payloads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.payloads...)
}

// SetupTestServer creates a test server backed by a fresh database.
func SetupTestServer(t *testing.T, cfg TestServerConfig) *TestServerFixture {
	t.Helper()

	mock := newMockOllama()
	t.Cleanup(mock.server.Close)

	fixture := &TestServerFixture{MockLLM: mock}

	appCfg := &config.Config{
		Server: config.ServerConfig{BodySizeLimit: "1M"},
		Upstream: config.UpstreamConfig{
			Provider:      "ollama",
			OllamaBaseURL: mock.server.URL,
			Timeout:       10 * time.Second,
		},
		Storage: config.StorageConfig{Type: cfg.DBType},
		Policy: config.PolicyConfig{
			AllowedModels:     cfg.AllowedModels,
			RateLimitRequests: cfg.RateLimitRequests,
			RateLimitWindow:   time.Minute,
			RedisURL:          cfg.RedisURL,
		},
		Admin:   config.AdminConfig{APIKey: adminKey},
		Metrics: config.MetricsConfig{Enabled: true},
	}

	switch cfg.DBType {
	case storage.TypePostgreSQL:
		dbURL := createPostgresDatabase(t)
		appCfg.Storage.PostgresURL = dbURL
		appCfg.Storage.PostgresMaxConns = 4
		pool, err := pgxpool.New(testCtx, dbURL)
		require.NoError(t, err)
		t.Cleanup(pool.Close)
		fixture.PgPool = pool
	case storage.TypeMongoDB:
		name := "piishield_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		appCfg.Storage.MongoURL = mongoURL
		appCfg.Storage.MongoDatabase = name
		fixture.MongoDB = mongoClient.Database(name)
		t.Cleanup(func() { _ = fixture.MongoDB.Drop(context.Background()) })
	default:
		t.Fatalf("unsupported DBType %q", cfg.DBType)
	}

	factory := providers.NewProviderFactory()
	factory.Add(ollama.Registration)
	factory.Add(azure.Registration)

	application, err := app.New(testCtx, app.Config{
		AppConfig: appCfg,
		Factory:   factory,
		Logger:    slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	require.NoError(t, err, "failed to create app")
	fixture.App = application

	fixture.server = httptest.NewServer(application.Handler())
	fixture.ServerURL = fixture.server.URL
	t.Cleanup(fixture.Close)

	return fixture
}

// Close stops the HTTP server and releases the app's stores.
func (f *TestServerFixture) Close() {
	f.once.Do(func() {
		f.server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = f.App.Shutdown(ctx)
	})
}

// createPostgresDatabase creates an isolated database and returns its URL.
func createPostgresDatabase(t *testing.T) string {
	t.Helper()
	name := "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	_, err := pgPool.Exec(testCtx, fmt.Sprintf("CREATE DATABASE %s", name))
	require.NoError(t, err)

	u, err := url.Parse(pgURL)
	require.NoError(t, err)
	u.Path = "/" + name
	return u.String()
}

// chatResponse is a decoded gateway reply.
type chatResponse struct {
	StatusCode int
	Header     http.Header
	Body       map[string]any
}

// sendChat posts a single-message chat completion.
func sendChat(t *testing.T, serverURL, model, content string) chatResponse {
	t.Helper()

	payload, err := json.Marshal(map[string]any{
		"model":    model,
		"messages": []map[string]string{{"role": "user", "content": content}},
	})
	require.NoError(t, err)

	resp, err := http.Post(serverURL+"/v1/chat/completions", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	out := chatResponse{StatusCode: resp.StatusCode, Header: resp.Header}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out.Body))
	return out
}

// adminStats is the /admin/stats body.
type adminStats struct {
	TotalRequests int64            `json:"total_requests"`
	PIICounts     map[string]int64 `json:"pii_counts"`
	RecentEvents  []struct {
		ID        string   `json:"id"`
		PIITypes  []string `json:"pii_types"`
		Status    string   `json:"status"`
		ErrorType string   `json:"error_type"`
	} `json:"recent_events"`
}

func fetchStats(t *testing.T, serverURL string, limit int) adminStats {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/admin/stats?limit=%d", serverURL, limit), nil)
	require.NoError(t, err)
	req.Header.Set("X-Admin-Key", adminKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats adminStats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	return stats
}
