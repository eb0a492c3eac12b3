package azure

import (
	"context"
	"net/http"
	"testing"

	"piishield/internal/core"
	"piishield/internal/providers"
)

func TestSubmit_Unsupported(t *testing.T) {
	factory := providers.NewProviderFactory()
	factory.Add(Registration)

	for _, typ := range []string{"azure", "azure_openai"} {
		a, err := factory.Create(providers.Config{Type: typ, Endpoint: "https://example.openai.azure.com", Deployment: "gpt"})
		if err != nil {
			t.Fatalf("Create(%q) error: %v", typ, err)
		}

		out := a.Submit(context.Background(), []byte(`{}`))
		if out.Kind != providers.OutcomeUnsupported {
			t.Fatalf("expected unsupported outcome, got %v", out.Kind)
		}

		gwErr := out.GatewayError()
		if gwErr.Type != core.ErrorTypeUnsupportedProvider {
			t.Errorf("Type = %v", gwErr.Type)
		}
		if gwErr.HTTPStatusCode() != http.StatusNotImplemented {
			t.Errorf("status = %d, want 501", gwErr.HTTPStatusCode())
		}
		if gwErr.Message != UnsupportedReason {
			t.Errorf("Message = %q", gwErr.Message)
		}
	}
}
