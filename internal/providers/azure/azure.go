// Package azure holds the Azure OpenAI adapter. Only its configuration is
// wired today; every submission reports the provider as unsupported.
package azure

import (
	"context"

	"piishield/internal/providers"
)

// UnsupportedReason is returned for every submission.
const UnsupportedReason = "Azure OpenAI adapter is a placeholder. Set LLM_PROVIDER=ollama for now."

// Registration provides factory registration for the Azure OpenAI provider.
var Registration = providers.Registration{
	Type:    "azure",
	Aliases: []string{"azure_openai"},
	New: func(cfg providers.Config) (providers.Adapter, error) {
		return New(cfg), nil
	},
}

// Provider is the Azure OpenAI placeholder.
type Provider struct {
	endpoint   string
	deployment string
}

// New creates the placeholder provider.
func New(cfg providers.Config) *Provider {
	return &Provider{endpoint: cfg.Endpoint, deployment: cfg.Deployment}
}

// Name implements providers.Adapter.
func (p *Provider) Name() string { return "azure_openai" }

// Submit never contacts Azure.
func (p *Provider) Submit(_ context.Context, _ []byte) providers.Outcome {
	return providers.Unsupported(UnsupportedReason)
}
