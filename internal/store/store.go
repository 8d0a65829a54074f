package store

import (
	"context"

	"github.com/nulzo/llm-gateway-api/internal/store/model"
)

// Repository is the main contract for the data layer.
type Repository interface {
	APIKeys() APIKeyRepository
	Requests() RequestRepository

	// transaction support
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	Close() error
}

type APIKeyRepository interface {
	// GetByHash retrieves an active key by its hashed value (for auth).
	GetByHash(ctx context.Context, hash string) (*model.APIKey, error)
	// Create issues a new gateway key.
	Create(ctx context.Context, key *model.APIKey) error
	// Touch records that the key was just used.
	Touch(ctx context.Context, id string) error
	// List returns all issued keys.
	List(ctx context.Context) ([]model.APIKey, error)
}

type RequestRepository interface {
	// Log stores a completed request.
	Log(ctx context.Context, log *model.RequestLog) error
	// GetRecent returns the last N logs.
	GetRecent(ctx context.Context, limit int) ([]model.RequestLog, error)
	// GetDailyStats returns aggregated stats grouped by day.
	GetDailyStats(ctx context.Context, days int) ([]model.DailyStats, error)
	// GetProviderStats returns aggregated stats grouped by provider.
	GetProviderStats(ctx context.Context, days int) ([]model.ProviderStats, error)
}
