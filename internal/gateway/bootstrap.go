package gateway

import (
	"context"
	"time"

	"github.com/nulzo/llm-gateway-api/internal/analytics"
	"github.com/nulzo/llm-gateway-api/internal/config"
	"github.com/nulzo/llm-gateway-api/internal/core/pipeline"
	"github.com/nulzo/llm-gateway-api/internal/core/registry"
	"github.com/nulzo/llm-gateway-api/internal/core/resolver"
	"github.com/nulzo/llm-gateway-api/internal/store"
	"github.com/nulzo/llm-gateway-api/internal/store/cache"
	"github.com/nulzo/llm-gateway-api/internal/store/sqlite"
	"go.uber.org/zap"
)

// App wires the dispatch core together from configuration and owns the
// pieces that need a lifecycle: the middleware chain, the analytics
// worker, and the cache connection.
type App struct {
	Service   Service
	Engine    *resolver.Engine
	Registry  *registry.Registry
	Chain     *pipeline.Chain
	Cache     cache.CacheService
	Repo      store.Repository
	Ingestor  analytics.Ingestor
	Analytics analytics.Service

	logger *zap.Logger
}

func Bootstrap(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	reg := registry.New()
	if err := reg.Load(cfg.Providers); err != nil {
		return nil, err
	}

	engine := resolver.NewEngine(
		cfg.AliasTable(),
		cfg.Resolver.MaxChainHops,
		cfg.Resolver.CacheSize,
		time.Duration(cfg.Resolver.CacheTTLSecs)*time.Second,
	)

	var cacheService cache.CacheService
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("redis unavailable, falling back to in-memory cache", zap.Error(err))
			cacheService = cache.NewMemoryCache()
		} else {
			cacheService = redisCache
		}
	} else {
		cacheService = cache.NewMemoryCache()
	}

	app := &App{
		Engine:   engine,
		Registry: reg,
		Cache:    cacheService,
		logger:   log,
	}

	if cfg.Analytics.Enabled {
		repo, err := sqlite.NewSQLiteStorage(cfg.Analytics.DSN)
		if err != nil {
			return nil, err
		}
		app.Repo = repo
		app.Ingestor = analytics.NewIngestor(log, repo)
		app.Ingestor.Start(ctx)
		app.Analytics = analytics.NewService(repo)
	}

	chain := pipeline.NewChain(
		pipeline.NewLoggingMiddleware(),
		pipeline.NewReasoningMiddleware(),
		pipeline.NewConversationMiddleware(cacheService, time.Duration(cfg.Conversation.TTLMinutes)*time.Minute),
	)
	if err := chain.Initialize(ctx); err != nil {
		return nil, err
	}
	app.Chain = chain

	app.Service = NewService(log, engine, reg, chain, app.Ingestor, nil)
	return app, nil
}

// Reload installs a changed provider set and alias table. In-flight
// requests keep the snapshot they resolved against.
func (a *App) Reload(cfg *config.Config) error {
	if err := a.Registry.Load(cfg.Providers); err != nil {
		return err
	}
	a.Engine.Swap(cfg.AliasTable())
	return nil
}

func (a *App) Shutdown(ctx context.Context) {
	a.Chain.Cleanup(ctx)
	if a.Ingestor != nil {
		a.Ingestor.Stop()
	}
	if a.Repo != nil {
		if err := a.Repo.Close(); err != nil {
			a.logger.Error("closing analytics store failed", zap.Error(err))
		}
	}
	if closer, ok := a.Cache.(*cache.RedisCache); ok {
		if err := closer.Close(); err != nil {
			a.logger.Error("closing redis failed", zap.Error(err))
		}
	}
}
