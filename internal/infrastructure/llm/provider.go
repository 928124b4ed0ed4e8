// Package llm hosts provider adapters behind the run loop's LLMClient
// contract. Wire formats are per-provider; only the normalized request and
// response shapes are visible to the core.
package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/vtcode/vtcode/internal/domain/service"
	"go.uber.org/zap"
)

// Provider is the infrastructure-layer LLM provider interface.
type Provider interface {
	service.LLMClient

	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// SupportsModel checks whether a model identifier is served here.
	SupportsModel(model string) bool

	// IsAvailable checks whether the provider is usable (credentials set).
	IsAvailable(ctx context.Context) bool
}

// ProviderConfig configures one provider.
type ProviderConfig struct {
	Name    string   `mapstructure:"name"`
	Type    string   `mapstructure:"type"` // "openai" (default; OpenAI-compatible HTTP)
	BaseURL string   `mapstructure:"base_url"`
	APIKey  string   `mapstructure:"api_key"`
	Models  []string `mapstructure:"models"`
}

// ProviderFactory creates a Provider from config.
type ProviderFactory func(cfg ProviderConfig, logger *zap.Logger) Provider

var (
	factoryMu sync.RWMutex
	factories = map[string]ProviderFactory{}
)

// RegisterFactory registers a provider factory for a type name. Called from
// init() in each provider file.
func RegisterFactory(typeName string, factory ProviderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// CreateProvider builds a Provider for cfg.Type, defaulting to "openai".
func CreateProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	t := cfg.Type
	if t == "" {
		t = "openai"
	}

	factoryMu.RLock()
	factory, ok := factories[t]
	factoryMu.RUnlock()

	if !ok {
		factoryMu.RLock()
		available := make([]string, 0, len(factories))
		for k := range factories {
			available = append(available, k)
		}
		factoryMu.RUnlock()
		return nil, fmt.Errorf("unknown provider type %q (available: %v)", t, available)
	}
	return factory(cfg, logger), nil
}
