// Package ollama provides Ollama API integration for the PII shield gateway.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"piishield/internal/core"
	"piishield/internal/llmclient"
	"piishield/internal/providers"
)

// Registration provides factory registration for the Ollama provider.
var Registration = providers.Registration{
	Type: "ollama",
	New: func(cfg providers.Config) (providers.Adapter, error) {
		return New(cfg), nil
	},
}

const (
	defaultBaseURL = "http://localhost:11434"
	chatEndpoint   = "/api/chat"
)

// Provider submits chat payloads to Ollama's native chat endpoint.
type Provider struct {
	client *llmclient.Client
}

// New creates a new Ollama provider.
func New(cfg providers.Config) *Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	clientCfg := llmclient.DefaultConfig("ollama", baseURL)
	if cfg.Timeout > 0 {
		clientCfg.Timeout = cfg.Timeout
	}
	return &Provider{client: llmclient.New(clientCfg, nil)}
}

// NewWithHTTPClient creates a new Ollama provider with a custom HTTP client.
// If httpClient is nil, http.DefaultClient is used.
func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	cfg := llmclient.DefaultConfig("ollama", baseURL)
	return &Provider{client: llmclient.NewWithHTTPClient(httpClient, cfg, nil)}
}

// Name implements providers.Adapter.
func (p *Provider) Name() string { return "ollama" }

// Submit posts the payload to /api/chat once.
func (p *Provider) Submit(ctx context.Context, payload []byte) providers.Outcome {
	req := llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: chatEndpoint,
		Body:     payload,
	}
	if id := core.GetRequestID(ctx); id != "" {
		req.Headers = map[string]string{"X-Request-ID": id}
	}

	resp, err := p.client.Do(ctx, req)
	if err != nil {
		if errors.Is(err, llmclient.ErrResponseTooLarge) {
			return providers.InvalidBody(err)
		}
		var tErr *llmclient.TransportError
		if errors.As(err, &tErr) {
			return providers.Unreachable(tErr.Err)
		}
		return providers.Unreachable(err)
	}

	if resp.StatusCode != http.StatusOK {
		return providers.HTTPError(resp.StatusCode, resp.Body)
	}
	if len(resp.Body) == 0 {
		return providers.InvalidBody(errors.New("empty response body"))
	}
	if !gjson.ValidBytes(resp.Body) {
		return providers.InvalidBody(fmt.Errorf("malformed JSON in %d byte response", len(resp.Body)))
	}
	return providers.Success(resp.Body)
}
