package domain

import (
	"fmt"
	"strings"
	"time"
)

// WireFormat identifies the protocol dialect a provider speaks natively.
type WireFormat string

const (
	FormatOpenAI    WireFormat = "openai"
	FormatAnthropic WireFormat = "anthropic"
)

// ProviderConfig represents the static configuration for a single
// upstream provider. Constructed once at startup (or on reload) and
// read-only afterwards.
type ProviderConfig struct {
	Name        string     `json:"name" yaml:"name" mapstructure:"name"`
	APIKeys     []string   `json:"api_keys" yaml:"api_keys" mapstructure:"api_keys"`
	BaseURL     string     `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	Format      WireFormat `json:"format" yaml:"format" mapstructure:"format"`
	TimeoutSecs int        `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	Passthrough bool       `json:"passthrough" yaml:"passthrough" mapstructure:"passthrough"`

	// Order is the zero-based position the provider was declared at in
	// the configuration source. Substring-match tie-breaking depends on
	// it, so it is part of the config rather than derived at runtime.
	Order int `json:"-" yaml:"-" mapstructure:"-"`
}

func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSecs <= 0 {
		return 120 * time.Second
	}
	return time.Duration(p.TimeoutSecs) * time.Second
}

// Validate enforces the static invariants. Exactly one of {non-empty
// key list, passthrough} must hold, and no configured key may be blank.
func (p ProviderConfig) Validate() error {
	if p.Name == "" {
		return &ConfigurationError{Detail: "provider with empty name"}
	}
	if p.BaseURL == "" {
		return &ConfigurationError{Provider: p.Name, Detail: "missing base_url"}
	}
	switch p.Format {
	case FormatOpenAI, FormatAnthropic:
	default:
		return &ConfigurationError{
			Provider: p.Name,
			Detail:   fmt.Sprintf("unknown wire format %q", p.Format),
		}
	}
	if p.Passthrough && len(p.APIKeys) > 0 {
		return &ConfigurationError{
			Provider: p.Name,
			Detail:   "passthrough cannot be combined with static api_keys",
		}
	}
	if !p.Passthrough && len(p.APIKeys) == 0 {
		return &ConfigurationError{
			Provider: p.Name,
			Detail:   "no api_keys configured and passthrough disabled",
		}
	}
	for i, k := range p.APIKeys {
		if strings.TrimSpace(k) == "" {
			return &ConfigurationError{
				Provider: p.Name,
				Detail:   fmt.Sprintf("api_keys[%d] is empty", i),
			}
		}
	}
	return nil
}
