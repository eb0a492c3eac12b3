package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piishield/internal/core"
	"piishield/internal/llmclient"
	"piishield/internal/providers"
)

func TestNew_Defaults(t *testing.T) {
	p := New(providers.Config{})
	require.NotNil(t, p.client)
	assert.Equal(t, defaultBaseURL, p.client.BaseURL())
	assert.Equal(t, "ollama", p.Name())
}

func TestRegistration(t *testing.T) {
	factory := providers.NewProviderFactory()
	factory.Add(Registration)

	a, err := factory.Create(providers.Config{Type: "ollama", BaseURL: "http://example.invalid"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", a.Name())
}

func TestSubmit(t *testing.T) {
	tests := []struct {
		name         string
		statusCode   int
		responseBody string
		wantKind     providers.OutcomeKind
		wantStatus   int
	}{
		{
			name:         "successful request",
			statusCode:   http.StatusOK,
			responseBody: `{"model":"llama3.1:8b","message":{"role":"assistant","content":"hi"},"done":true}`,
			wantKind:     providers.OutcomeSuccess,
			wantStatus:   http.StatusOK,
		},
		{
			name:         "upstream error status",
			statusCode:   http.StatusBadGateway,
			responseBody: "upstream bad",
			wantKind:     providers.OutcomeHTTPError,
			wantStatus:   http.StatusBadGateway,
		},
		{
			name:         "model not found",
			statusCode:   http.StatusNotFound,
			responseBody: `{"error":"model 'x' not found"}`,
			wantKind:     providers.OutcomeHTTPError,
			wantStatus:   http.StatusNotFound,
		},
		{
			name:         "invalid json",
			statusCode:   http.StatusOK,
			responseBody: "not-json",
			wantKind:     providers.OutcomeInvalidBody,
			wantStatus:   http.StatusOK,
		},
		{
			name:         "empty body",
			statusCode:   http.StatusOK,
			responseBody: "",
			wantKind:     providers.OutcomeInvalidBody,
			wantStatus:   http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.responseBody))
			}))
			defer server.Close()

			p := NewWithHTTPClient(server.URL, server.Client())
			out := p.Submit(context.Background(), []byte(`{"model":"m","messages":[],"stream":false}`))

			assert.Equal(t, tt.wantKind, out.Kind)
			assert.Equal(t, tt.wantStatus, out.StatusCode)
			if tt.wantKind == providers.OutcomeSuccess || tt.wantKind == providers.OutcomeHTTPError {
				assert.Equal(t, tt.responseBody, string(out.Body))
			}
		})
	}
}

func TestSubmit_Request(t *testing.T) {
	var gotPath, gotMethod, gotRequestID, gotContentType string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotRequestID = r.Header.Get("X-Request-ID")
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	p := NewWithHTTPClient(server.URL, server.Client())
	ctx := core.WithRequestID(context.Background(), "req-123")
	out := p.Submit(ctx, []byte(`{"model":"m","messages":[{"role":"user","content":"[REDACTED_EMAIL]"}],"stream":false}`))

	require.True(t, out.OK())
	assert.Equal(t, "/api/chat", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "req-123", gotRequestID)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, false, gotBody["stream"])
}

func TestSubmit_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	p := New(providers.Config{BaseURL: url})
	out := p.Submit(context.Background(), []byte(`{}`))

	assert.Equal(t, providers.OutcomeUnreachable, out.Kind)
	require.Error(t, out.Err)

	gwErr := out.GatewayError()
	assert.Equal(t, http.StatusBadGateway, gwErr.HTTPStatusCode())
	assert.Contains(t, gwErr.Message, "Upstream unreachable: ")
}

func TestSubmit_OversizedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":{"content":"`))
		_, _ = w.Write(bytes.Repeat([]byte("a"), 32<<20))
		_, _ = w.Write([]byte(`"}}`))
	}))
	defer server.Close()

	p := New(providers.Config{BaseURL: server.URL})
	out := p.Submit(context.Background(), []byte(`{}`))

	assert.Equal(t, providers.OutcomeInvalidBody, out.Kind)
	require.ErrorIs(t, out.Err, llmclient.ErrResponseTooLarge)
	assert.Contains(t, out.Err.Error(), "response too large")
}
