package registry

import (
	"strings"
	"sync"

	"github.com/nulzo/llm-gateway-api/internal/core/domain"
)

// Registry holds one ProviderConfig per provider name and owns the
// per-provider rotation state. Provider configs are validated once at
// load time; a bad config fails startup, never a request.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.ProviderConfig
	rotators  map[string]*rotator
}

func New() *Registry {
	return &Registry{
		providers: make(map[string]domain.ProviderConfig),
		rotators:  make(map[string]*rotator),
	}
}

// Load validates and installs a full provider set, replacing whatever
// was registered before. Rotation cursors for providers that survive
// the reload are preserved.
func (r *Registry) Load(configs []domain.ProviderConfig) error {
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	providers := make(map[string]domain.ProviderConfig, len(configs))
	rotators := make(map[string]*rotator, len(configs))
	for i, cfg := range configs {
		name := strings.ToLower(cfg.Name)
		cfg.Order = i
		providers[name] = cfg
		if prev, ok := r.rotators[name]; ok && prev.size() == len(cfg.APIKeys) {
			rotators[name] = prev
		} else if len(cfg.APIKeys) > 0 {
			rotators[name] = newRotator(cfg.APIKeys)
		}
	}
	r.providers = providers
	r.rotators = rotators
	return nil
}

// Get returns the config for a provider.
func (r *Registry) Get(name string) (domain.ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return domain.ProviderConfig{}, &domain.ProviderNotConfiguredError{Provider: name}
	}
	return cfg, nil
}

// List returns all configured providers in declaration order.
func (r *Registry) List() []domain.ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ProviderConfig, 0, len(r.providers))
	for _, cfg := range r.providers {
		out = append(out, cfg)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Order < out[j-1].Order; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// AuthParams carries the credential to use for one upstream attempt and,
// for rotation-capable providers, a Next function that advances the
// shared cursor past an exclusion set.
type AuthParams struct {
	APIKey string

	// Next is nil for passthrough providers. The exclude set accumulates
	// keys that failed during the current logical request.
	Next func(exclude map[string]struct{}) (string, error)
}

// ClientAuth resolves the credential for a request. Passthrough
// providers forward the client-supplied key and expose no rotation;
// everything else gets the provider's current rotation credential plus
// a rotation function closed over the full key list.
func (r *Registry) ClientAuth(provider, clientKey string) (AuthParams, error) {
	cfg, err := r.Get(provider)
	if err != nil {
		return AuthParams{}, err
	}

	if cfg.Passthrough {
		if clientKey == "" {
			return AuthParams{}, &domain.MissingClientKeyError{Provider: provider}
		}
		return AuthParams{APIKey: clientKey}, nil
	}

	r.mu.RLock()
	rot := r.rotators[strings.ToLower(provider)]
	r.mu.RUnlock()

	return AuthParams{
		APIKey: rot.current(),
		Next: func(exclude map[string]struct{}) (string, error) {
			return rot.next(provider, exclude)
		},
	}, nil
}
