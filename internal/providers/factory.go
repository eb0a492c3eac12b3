package providers

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Config is what an adapter builder receives.
type Config struct {
	Type string

	// BaseURL is the backend root (ollama).
	BaseURL string

	// Endpoint and Deployment identify an Azure OpenAI deployment.
	Endpoint   string
	Deployment string

	// Timeout bounds each upstream call.
	Timeout time.Duration
}

// Builder creates an adapter from configuration.
type Builder func(cfg Config) (Adapter, error)

// Registration describes a provider package to the factory.
type Registration struct {
	Type    string
	Aliases []string
	New     Builder
}

// ProviderFactory maps provider type names to builders.
type ProviderFactory struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewProviderFactory creates an empty factory.
func NewProviderFactory() *ProviderFactory {
	return &ProviderFactory{builders: make(map[string]Builder)}
}

// Add registers a provider under its type and aliases.
func (f *ProviderFactory) Add(reg Registration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[normalizeType(reg.Type)] = reg.New
	for _, alias := range reg.Aliases {
		f.builders[normalizeType(alias)] = reg.New
	}
}

// Create builds the adapter selected by cfg.Type.
func (f *ProviderFactory) Create(cfg Config) (Adapter, error) {
	f.mu.RLock()
	builder, ok := f.builders[normalizeType(cfg.Type)]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported LLM_PROVIDER: %s", cfg.Type)
	}
	return builder(cfg)
}

// ListRegistered returns the registered type names, sorted.
func (f *ProviderFactory) ListRegistered() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func normalizeType(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
