package domain

import "strings"

// AliasTable is an immutable snapshot of all alias definitions. It is
// built wholesale from configuration and replaced atomically on reload;
// readers never observe a partially updated table.
type AliasTable struct {
	byProvider      map[string]map[string]string
	defaultProvider string
	fallbacks       map[string]string
	providerOrder   []string
}

// NewAliasTable normalizes alias names to lowercase and freezes the
// result. providerOrder must list providers in configuration
// declaration order; it drives substring-match tie-breaking.
func NewAliasTable(aliases map[string]map[string]string, defaultProvider string, fallbacks map[string]string, providerOrder []string) *AliasTable {
	byProvider := make(map[string]map[string]string, len(aliases))
	for provider, m := range aliases {
		normalized := make(map[string]string, len(m))
		for alias, target := range m {
			normalized[strings.ToLower(alias)] = target
		}
		byProvider[strings.ToLower(provider)] = normalized
	}

	fb := make(map[string]string, len(fallbacks))
	for alias, target := range fallbacks {
		fb[strings.ToLower(alias)] = target
	}

	order := make([]string, len(providerOrder))
	for i, p := range providerOrder {
		order[i] = strings.ToLower(p)
	}

	return &AliasTable{
		byProvider:      byProvider,
		defaultProvider: strings.ToLower(defaultProvider),
		fallbacks:       fb,
		providerOrder:   order,
	}
}

func (t *AliasTable) DefaultProvider() string {
	return t.defaultProvider
}

// Lookup returns the target for an alias within one provider's table.
func (t *AliasTable) Lookup(provider, alias string) (string, bool) {
	m, ok := t.byProvider[strings.ToLower(provider)]
	if !ok {
		return "", false
	}
	target, ok := m[strings.ToLower(alias)]
	return target, ok
}

// Aliases returns the alias map for one provider. Callers must treat
// the returned map as read-only.
func (t *AliasTable) Aliases(provider string) map[string]string {
	return t.byProvider[strings.ToLower(provider)]
}

func (t *AliasTable) HasProvider(provider string) bool {
	_, ok := t.byProvider[strings.ToLower(provider)]
	return ok
}

// Fallback returns the fallback target for an alias, if any.
func (t *AliasTable) Fallback(alias string) (string, bool) {
	target, ok := t.fallbacks[strings.ToLower(alias)]
	return target, ok
}

// ProviderOrder returns providers in configuration declaration order.
func (t *AliasTable) ProviderOrder() []string {
	return t.providerOrder
}

// OrderOf returns the declaration index of a provider, or a large
// sentinel when the provider is unknown so it ranks last.
func (t *AliasTable) OrderOf(provider string) int {
	provider = strings.ToLower(provider)
	for i, p := range t.providerOrder {
		if p == provider {
			return i
		}
	}
	return len(t.providerOrder)
}
