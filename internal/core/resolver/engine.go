package resolver

import (
	"sync/atomic"
	"time"

	"github.com/nulzo/llm-gateway-api/internal/core/domain"
	"github.com/nulzo/llm-gateway-api/internal/platform/logger"
	"go.uber.org/zap"
)

// Engine fronts the resolver chain with the resolution cache and owns
// the current alias-table snapshot. The snapshot is published through an
// atomic pointer so readers never see a torn table; Swap installs a
// whole new table and invalidates the cache.
type Engine struct {
	chain *Chain
	cache *Cache
	table atomic.Pointer[domain.AliasTable]
}

func NewEngine(table *domain.AliasTable, maxHops, cacheSize int, cacheTTL time.Duration) *Engine {
	e := &Engine{
		chain: NewChain(maxHops),
		cache: NewCache(cacheSize, cacheTTL),
	}
	e.table.Store(table)
	return e
}

// Resolve turns a raw model string into a (provider, model) pair.
// explicitProvider scopes resolution when the input carries no inline
// provider prefix; pass "" to use the default provider.
func (e *Engine) Resolve(rawModel, explicitProvider string) (Result, error) {
	key := rawModel + "\x00" + explicitProvider
	if result, ok := e.cache.Get(key); ok {
		return result, nil
	}

	table := e.table.Load()
	result, err := e.chain.Resolve(Context{
		Model:           rawModel,
		Provider:        explicitProvider,
		DefaultProvider: table.DefaultProvider(),
		Table:           table,
	})
	if err != nil {
		return Result{}, err
	}

	e.cache.Put(key, result)
	return result, nil
}

// Swap publishes a new alias-table snapshot and invalidates the cache.
// Requests already in flight keep using the snapshot they loaded.
func (e *Engine) Swap(table *domain.AliasTable) {
	e.table.Store(table)
	e.cache.InvalidateAll()
	logger.Info("alias table reloaded",
		zap.Int("providers", len(table.ProviderOrder())),
		zap.Uint64("cache_generation", e.cache.Generation()),
	)
}

// Table returns the current snapshot.
func (e *Engine) Table() *domain.AliasTable {
	return e.table.Load()
}
