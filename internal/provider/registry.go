package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/crosstalk-ai/crosstalk/internal/logging"
	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

// Registry manages all available providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider to the registry.
func (r *Registry) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.ID()] = provider
}

// Get retrieves a provider by ID.
func (r *Registry) Get(providerID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", providerID)
	}
	return provider, nil
}

// List returns all registered providers sorted by id.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool {
		return providers[i].ID() < providers[j].ID()
	})
	return providers
}

// InitializeProviders builds a registry from configuration. Providers whose
// credentials are missing are skipped with a log line rather than failing
// startup; a session that names them fails at submit time instead.
func InitializeProviders(ctx context.Context, cfg *types.Config) (*Registry, error) {
	registry := NewRegistry()

	for id, pc := range cfg.Provider {
		if pc.Disable {
			continue
		}

		var (
			p   Provider
			err error
		)
		switch id {
		case "anthropic":
			p, err = NewAnthropicProvider(ctx, &AnthropicConfig{
				APIKey:  pc.APIKey,
				BaseURL: pc.BaseURL,
				Model:   pc.Model,
			})
		case "openai":
			p, err = NewOpenAIProvider(ctx, &OpenAIConfig{
				APIKey:  pc.APIKey,
				BaseURL: pc.BaseURL,
				Model:   pc.Model,
			})
		default:
			logging.Warn().Str("provider", id).Msg("unknown provider id in config, skipping")
			continue
		}

		if err != nil {
			logging.Warn().Err(err).Str("provider", id).Msg("provider unavailable")
			continue
		}
		registry.Register(p)
	}

	return registry, nil
}

// ParseModelString parses "provider/model" format.
func ParseModelString(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}
