// Package llmclient provides the HTTP client provider adapters use to reach
// their backend. Every request is a single attempt bounded by the client timeout;
// a failed attempt is reported to the caller, never retried.
package llmclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"piishield/internal/core"
	"piishield/internal/httpclient"
)

// Config holds configuration for the LLM client
type Config struct {
	// ProviderName identifies the provider for error messages
	ProviderName string

	// BaseURL is the API base URL
	BaseURL string

	// Timeout bounds the whole exchange (default: 60s)
	Timeout time.Duration
}

// DefaultConfig returns default client configuration
func DefaultConfig(providerName, baseURL string) Config {
	return Config{
		ProviderName: providerName,
		BaseURL:      baseURL,
		Timeout:      httpclient.DefaultTimeout,
	}
}

// HeaderSetter is a function that sets headers on an HTTP request
type HeaderSetter func(req *http.Request)

// Client is a base HTTP client for LLM providers
type Client struct {
	httpClient   *http.Client
	config       Config
	headerSetter HeaderSetter
}

// New creates a new LLM client with the given configuration
func New(config Config, headerSetter HeaderSetter) *Client {
	httpCfg := httpclient.DefaultConfig(config.Timeout)
	return &Client{
		httpClient:   httpclient.NewHTTPClient(&httpCfg),
		config:       config,
		headerSetter: headerSetter,
	}
}

// NewWithHTTPClient creates a new LLM client with a custom HTTP client
func NewWithHTTPClient(httpClient *http.Client, config Config, headerSetter HeaderSetter) *Client {
	return &Client{
		httpClient:   httpClient,
		config:       config,
		headerSetter: headerSetter,
	}
}

// BaseURL returns the current base URL
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Request represents an HTTP request to be made
type Request struct {
	Method   string
	Endpoint string
	Body     []byte // Sent as application/json when not nil
	Headers  map[string]string
}

// Response represents an HTTP response of any status.
type Response struct {
	StatusCode int
	Body       []byte
}

// TransportError reports that no HTTP response was obtained.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Do executes a single request. Non-200 responses are returned, not turned into errors;
// the returned error is a *TransportError, a request-building error, or wraps
// ErrResponseTooLarge when the body exceeds the size cap.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Provider: c.config.ProviderName, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := readLimited(resp.Body)
	if errors.Is(err, ErrResponseTooLarge) {
		return nil, fmt.Errorf("%s: %w", c.config.ProviderName, err)
	}
	if err != nil {
		return nil, &TransportError{Provider: c.config.ProviderName, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	decoded, err := decodeBody(body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.config.ProviderName, err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       decoded,
	}, nil
}

// buildRequest creates an HTTP request from a Request
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	url := strings.TrimRight(c.config.BaseURL, "/") + req.Endpoint

	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create upstream request", err)
	}

	httpReq.Header.Set("Accept-Encoding", acceptEncoding)

	// Set default content type for requests with body
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	// Apply provider-specific headers
	if c.headerSetter != nil {
		c.headerSetter(httpReq)
	}

	// Apply request-specific headers
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}
