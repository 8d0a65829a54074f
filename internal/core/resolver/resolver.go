package resolver

import (
	"sort"
	"strings"

	"github.com/nulzo/llm-gateway-api/internal/core/domain"
	"github.com/nulzo/llm-gateway-api/internal/platform/logger"
	"go.uber.org/zap"
)

// LiteralPrefix bypasses alias resolution entirely.
const LiteralPrefix = "!"

// ProviderSeparator splits a provider prefix from a model name.
const ProviderSeparator = ":"

// DefaultMaxChainHops bounds chained alias resolution.
const DefaultMaxChainHops = 8

// Context is the immutable input to one resolution attempt.
type Context struct {
	Model           string
	Provider        string // explicit provider scope, may be empty
	DefaultProvider string
	Table           *domain.AliasTable
}

// Result is the output of resolution.
type Result struct {
	Provider    string
	Model       string
	WasResolved bool
	Path        []string
}

// Match is one candidate alias hit, used transiently during ranking.
type Match struct {
	Provider string
	Alias    string
	Target   string
	Length   int
	Exact    bool
}

// Chain turns a raw model string into a (provider, model) pair by
// running the resolution strategies in order: literal bypass, chained
// alias follow, substring matching, ranking.
type Chain struct {
	maxHops int
}

func NewChain(maxHops int) *Chain {
	if maxHops <= 0 {
		maxHops = DefaultMaxChainHops
	}
	return &Chain{maxHops: maxHops}
}

// Resolve runs the strategy chain. It returns a CircularAliasError when
// chained resolution cycles or exceeds the hop bound; when no alias
// applies the literal input passes through with WasResolved=false.
func (c *Chain) Resolve(ctx Context) (Result, error) {
	// Literal bypass: strip the marker and skip the alias table.
	if strings.HasPrefix(ctx.Model, LiteralPrefix) {
		return c.resolveLiteral(ctx), nil
	}

	scope, model := c.splitScope(ctx)

	// Direct alias hit: follow the chain.
	if _, ok := ctx.Table.Lookup(scope, model); ok {
		return c.followChain(ctx, scope, model)
	}

	// Substring matching within scope, then ranking.
	matches := c.findMatches(ctx, scope, model)
	if len(matches) > 0 {
		best := c.rank(matches, ctx.Table)
		logger.Debug("alias substring match",
			zap.String("input", ctx.Model),
			zap.String("alias", best.Provider+ProviderSeparator+best.Alias),
			zap.Bool("exact", best.Exact),
		)
		return c.followTarget(ctx, best.Provider, best.Alias, best.Target)
	}

	// Fallback aliases apply only when nothing else matched.
	if target, ok := ctx.Table.Fallback(model); ok {
		return c.followTarget(ctx, scope, model, target)
	}

	return Result{Provider: scope, Model: model, WasResolved: false}, nil
}

// resolveLiteral handles the "!provider:model" form. Alias lookup is
// skipped entirely for literal inputs.
func (c *Chain) resolveLiteral(ctx Context) Result {
	literal := strings.TrimPrefix(ctx.Model, LiteralPrefix)

	if strings.Contains(literal, ProviderSeparator) {
		parts := strings.SplitN(literal, ProviderSeparator, 2)
		return Result{
			Provider:    strings.ToLower(parts[0]),
			Model:       parts[1],
			WasResolved: false,
		}
	}

	provider := ctx.Provider
	if provider == "" {
		provider = ctx.DefaultProvider
	}
	return Result{Provider: strings.ToLower(provider), Model: literal, WasResolved: false}
}

// splitScope extracts the provider scope: an inline "provider:" prefix
// wins, then the explicit provider, then the default provider.
func (c *Chain) splitScope(ctx Context) (scope, model string) {
	model = ctx.Model
	if strings.Contains(model, ProviderSeparator) {
		parts := strings.SplitN(model, ProviderSeparator, 2)
		if ctx.Table.HasProvider(parts[0]) {
			return strings.ToLower(parts[0]), parts[1]
		}
	}
	if ctx.Provider != "" {
		return strings.ToLower(ctx.Provider), model
	}
	return ctx.DefaultProvider, model
}

// followChain walks alias targets until a non-alias is reached. A
// revisited target or more than maxHops steps is a cycle.
func (c *Chain) followChain(ctx Context, provider, alias string) (Result, error) {
	seen := make(map[string]struct{})
	path := make([]string, 0, 4)

	current := strings.ToLower(alias)
	for hop := 0; ; hop++ {
		target, ok := ctx.Table.Lookup(provider, current)
		if !ok {
			return Result{Provider: provider, Model: current, WasResolved: len(path) > 0, Path: path}, nil
		}

		key := provider + ProviderSeparator + current
		if _, dup := seen[key]; dup {
			return Result{}, &domain.CircularAliasError{Model: ctx.Model, Path: append(path, current)}
		}
		if hop >= c.maxHops {
			return Result{}, &domain.CircularAliasError{Model: ctx.Model, Path: path}
		}
		seen[key] = struct{}{}
		path = append(path, current)

		// Targets may carry a provider prefix and hop across tables.
		if strings.Contains(target, ProviderSeparator) {
			parts := strings.SplitN(target, ProviderSeparator, 2)
			if ctx.Table.HasProvider(parts[0]) {
				provider = strings.ToLower(parts[0])
				current = strings.ToLower(parts[1])
				continue
			}
			// A ":" inside a plain model name, not a provider prefix.
			return Result{Provider: provider, Model: target, WasResolved: true, Path: path}, nil
		}
		current = strings.ToLower(target)
	}
}

// followTarget resolves a matched alias target, following any further
// chain behind it.
func (c *Chain) followTarget(ctx Context, provider, alias, target string) (Result, error) {
	if strings.Contains(target, ProviderSeparator) {
		parts := strings.SplitN(target, ProviderSeparator, 2)
		if ctx.Table.HasProvider(parts[0]) {
			res, err := c.followChain(ctx, strings.ToLower(parts[0]), parts[1])
			if err != nil {
				return Result{}, err
			}
			res.WasResolved = true
			res.Path = append([]string{alias}, res.Path...)
			return res, nil
		}
		return Result{Provider: provider, Model: target, WasResolved: true, Path: []string{alias}}, nil
	}

	if _, ok := ctx.Table.Lookup(provider, target); ok {
		res, err := c.followChain(ctx, provider, target)
		if err != nil {
			return Result{}, err
		}
		res.WasResolved = true
		res.Path = append([]string{alias}, res.Path...)
		return res, nil
	}

	return Result{Provider: provider, Model: target, WasResolved: true, Path: []string{alias}}, nil
}

// findMatches scans alias names for case-insensitive substring hits.
// Hyphens and underscores are treated as equivalent. Matching is scoped
// to a single provider; only when no scope can be determined (no inline
// prefix, no explicit provider, no default) does the scan fall open to
// every provider in declaration order.
func (c *Chain) findMatches(ctx Context, scope, model string) []Match {
	lower := strings.ToLower(model)
	variations := []string{
		lower,
		strings.ReplaceAll(lower, "_", "-"),
		strings.ReplaceAll(lower, "-", "_"),
	}

	providers := []string{scope}
	if scope == "" {
		providers = ctx.Table.ProviderOrder()
	}

	var matches []Match
	for _, provider := range providers {
		for alias, target := range ctx.Table.Aliases(provider) {
			for _, variation := range variations {
				if strings.Contains(variation, alias) {
					matches = append(matches, Match{
						Provider: provider,
						Alias:    alias,
						Target:   target,
						Length:   len(alias),
						Exact:    alias == variation,
					})
					break
				}
			}
		}
	}
	return matches
}

// rank selects a single winner: exact beats substring, longer matched
// substring wins, then provider declaration order, then alias name.
func (c *Chain) rank(matches []Match, table *domain.AliasTable) Match {
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Exact != b.Exact {
			return a.Exact
		}
		if a.Length != b.Length {
			return a.Length > b.Length
		}
		if ai, bi := table.OrderOf(a.Provider), table.OrderOf(b.Provider); ai != bi {
			return ai < bi
		}
		return a.Alias < b.Alias
	})
	return matches[0]
}
