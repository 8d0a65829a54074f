package resolver

import (
	"testing"
	"time"

	"github.com/nulzo/llm-gateway-api/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable() *domain.AliasTable {
	aliases := map[string]map[string]string{
		"openai": {
			"turbo":   "gpt-3.5-turbo",
			"gpt4":    "gpt-4o",
			"fast":    "turbo",
			"best":    "anthropic:sonnet",
			"claude":  "anthropic:sonnet",
			"gpt-4o":  "gpt-4o-2024-08-06",
			"gpt-4":   "gpt-4-turbo",
			"loop-a":  "loop-b",
			"loop-b":  "loop-a",
			"self":    "self",
			"colonic": "org/model:latest",
		},
		"anthropic": {
			"sonnet": "claude-sonnet-4",
			"opus":   "claude-opus-4",
			"turbo":  "claude-sonnet-4",
		},
	}
	fallbacks := map[string]string{
		"default": "gpt-4o-mini",
	}
	return domain.NewAliasTable(aliases, "openai", fallbacks, []string{"openai", "anthropic"})
}

func resolve(t *testing.T, model, provider string) Result {
	t.Helper()
	res, err := NewChain(8).Resolve(Context{
		Model:           model,
		Provider:        provider,
		DefaultProvider: "openai",
		Table:           testTable(),
	})
	require.NoError(t, err)
	return res
}

func TestResolveDirectAlias(t *testing.T) {
	res := resolve(t, "turbo", "")
	assert.Equal(t, "openai", res.Provider)
	assert.Equal(t, "gpt-3.5-turbo", res.Model)
	assert.True(t, res.WasResolved)
}

func TestResolveChainedAlias(t *testing.T) {
	// fast -> turbo -> gpt-3.5-turbo
	res := resolve(t, "fast", "")
	assert.Equal(t, "gpt-3.5-turbo", res.Model)
	assert.Equal(t, []string{"fast", "turbo"}, res.Path)
}

func TestResolveCrossProviderTarget(t *testing.T) {
	// best -> anthropic:sonnet -> claude-sonnet-4
	res := resolve(t, "best", "")
	assert.Equal(t, "anthropic", res.Provider)
	assert.Equal(t, "claude-sonnet-4", res.Model)
	assert.True(t, res.WasResolved)
}

func TestResolveInlineProviderPrefix(t *testing.T) {
	res := resolve(t, "anthropic:opus", "")
	assert.Equal(t, "anthropic", res.Provider)
	assert.Equal(t, "claude-opus-4", res.Model)
}

func TestResolveExplicitProviderScopesLookup(t *testing.T) {
	// "turbo" exists in both tables; the explicit provider wins.
	res := resolve(t, "turbo", "anthropic")
	assert.Equal(t, "anthropic", res.Provider)
	assert.Equal(t, "claude-sonnet-4", res.Model)
}

func TestResolveLiteralBypass(t *testing.T) {
	res := resolve(t, "!openai:gpt-4o", "")
	assert.Equal(t, "openai", res.Provider)
	assert.Equal(t, "gpt-4o", res.Model)
	assert.False(t, res.WasResolved, "literal input must skip the alias table")
}

func TestResolveLiteralWithoutProvider(t *testing.T) {
	res := resolve(t, "!turbo", "")
	assert.Equal(t, "openai", res.Provider)
	assert.Equal(t, "turbo", res.Model, "literal must not be treated as an alias")
	assert.False(t, res.WasResolved)
}

func TestResolvePassthroughUnknownModel(t *testing.T) {
	res := resolve(t, "some-model-nobody-aliased-xyz", "")
	assert.Equal(t, "some-model-nobody-aliased-xyz", res.Model)
	assert.False(t, res.WasResolved)
}

func TestResolveCaseInsensitive(t *testing.T) {
	res := resolve(t, "TURBO", "")
	assert.Equal(t, "gpt-3.5-turbo", res.Model)

	res = resolve(t, "Anthropic:OPUS", "")
	assert.Equal(t, "claude-opus-4", res.Model)
}

func TestResolveCycleDetection(t *testing.T) {
	chain := NewChain(8)
	_, err := chain.Resolve(Context{
		Model:           "loop-a",
		DefaultProvider: "openai",
		Table:           testTable(),
	})
	var circular *domain.CircularAliasError
	require.ErrorAs(t, err, &circular)
	assert.Equal(t, "loop-a", circular.Model)

	_, err = chain.Resolve(Context{
		Model:           "self",
		DefaultProvider: "openai",
		Table:           testTable(),
	})
	require.ErrorAs(t, err, &circular)
}

func TestResolveHopBound(t *testing.T) {
	aliases := map[string]map[string]string{"openai": {}}
	for i := 0; i < 20; i++ {
		aliases["openai"][alias(i)] = alias(i + 1)
	}
	table := domain.NewAliasTable(aliases, "openai", nil, []string{"openai"})

	_, err := NewChain(8).Resolve(Context{
		Model:           alias(0),
		DefaultProvider: "openai",
		Table:           table,
	})
	var circular *domain.CircularAliasError
	require.ErrorAs(t, err, &circular)
}

func alias(i int) string {
	return "hop" + string(rune('a'+i))
}

func TestResolveColonInsideTarget(t *testing.T) {
	// "org/model:latest" is not a provider prefix, it stays a model name.
	res := resolve(t, "colonic", "")
	assert.Equal(t, "openai", res.Provider)
	assert.Equal(t, "org/model:latest", res.Model)
	assert.True(t, res.WasResolved)
}

func TestResolveSubstringMatch(t *testing.T) {
	// No exact alias "gpt4-preview", but "gpt4" is a substring. Its
	// target "gpt-4o" is itself an alias and gets followed.
	res := resolve(t, "gpt4-preview", "")
	assert.Equal(t, "gpt-4o-2024-08-06", res.Model)
	assert.True(t, res.WasResolved)
}

func TestResolveSubstringHyphenUnderscoreEquivalence(t *testing.T) {
	res := resolve(t, "gpt_4o", "")
	assert.Equal(t, "gpt-4o-2024-08-06", res.Model)
}

func TestResolveRankingLongerWins(t *testing.T) {
	// "gpt-4o-anything" contains both "gpt-4" and "gpt-4o"; the longer
	// alias wins.
	res := resolve(t, "gpt-4o-anything", "")
	assert.Equal(t, "gpt-4o-2024-08-06", res.Model)
}

func TestResolveDirectHitBeatsSubstring(t *testing.T) {
	table := domain.NewAliasTable(map[string]map[string]string{
		"openai": {
			"son":        "short-target",
			"sonnet-max": "long-target",
		},
	}, "openai", nil, []string{"openai"})

	// "son" is a direct alias hit, so the longer alias never competes.
	res, err := NewChain(8).Resolve(Context{
		Model:           "son",
		DefaultProvider: "openai",
		Table:           table,
	})
	require.NoError(t, err)
	assert.Equal(t, "short-target", res.Model)
}

func TestResolveRankingProviderOrderBreaksTies(t *testing.T) {
	table := domain.NewAliasTable(map[string]map[string]string{
		"beta":  {"tie": "beta-model"},
		"alpha": {"tie": "alpha-model"},
	}, "", nil, []string{"beta", "alpha"})

	// No scope at all, so the scan falls open to declaration order.
	res, err := NewChain(8).Resolve(Context{
		Model: "tie-something",
		Table: table,
	})
	require.NoError(t, err)
	assert.Equal(t, "beta", res.Provider)
	assert.Equal(t, "beta-model", res.Model)
}

func TestResolveFallback(t *testing.T) {
	res := resolve(t, "default", "")
	assert.Equal(t, "gpt-4o-mini", res.Model)
	assert.True(t, res.WasResolved)
}

func TestEngineCachesResults(t *testing.T) {
	engine := NewEngine(testTable(), 8, 16, time.Minute)

	first, err := engine.Resolve("turbo", "")
	require.NoError(t, err)
	assert.Equal(t, "gpt-3.5-turbo", first.Model)

	// Second lookup is served from cache.
	second, err := engine.Resolve("turbo", "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, engine.cache.Len())
}

func TestEngineCacheKeyIncludesProvider(t *testing.T) {
	engine := NewEngine(testTable(), 8, 16, time.Minute)

	a, err := engine.Resolve("turbo", "")
	require.NoError(t, err)
	b, err := engine.Resolve("turbo", "anthropic")
	require.NoError(t, err)

	assert.Equal(t, "gpt-3.5-turbo", a.Model)
	assert.Equal(t, "claude-sonnet-4", b.Model)
}

func TestEngineSwapInvalidates(t *testing.T) {
	engine := NewEngine(testTable(), 8, 16, time.Minute)

	res, err := engine.Resolve("turbo", "")
	require.NoError(t, err)
	assert.Equal(t, "gpt-3.5-turbo", res.Model)

	engine.Swap(domain.NewAliasTable(map[string]map[string]string{
		"openai": {"turbo": "gpt-4o"},
	}, "openai", nil, []string{"openai"}))

	res, err = engine.Resolve("turbo", "")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", res.Model, "stale cache entry must not survive a table swap")
}

func TestCacheTTLExpiry(t *testing.T) {
	cache := NewCache(4, 10*time.Millisecond)
	cache.Put("k", Result{Model: "m"})

	_, ok := cache.Get("k")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = cache.Get("k")
	assert.False(t, ok, "entry must expire after its TTL")
}

func TestCacheGenerationInvalidation(t *testing.T) {
	cache := NewCache(4, time.Minute)
	cache.Put("k", Result{Model: "m"})

	gen := cache.Generation()
	cache.InvalidateAll()
	assert.Equal(t, gen+1, cache.Generation())

	_, ok := cache.Get("k")
	assert.False(t, ok)
}

func TestCacheBounded(t *testing.T) {
	cache := NewCache(2, time.Minute)
	cache.Put("a", Result{Model: "a"})
	cache.Put("b", Result{Model: "b"})
	cache.Put("c", Result{Model: "c"})
	assert.LessOrEqual(t, cache.Len(), 2)
}
