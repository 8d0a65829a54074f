package analytics

import (
	"context"

	"github.com/nulzo/llm-gateway-api/internal/store"
	"github.com/nulzo/llm-gateway-api/internal/store/model"
)

type Service interface {
	GetUsageOverview(ctx context.Context, days int) ([]model.DailyStats, error)
	GetProviderOverview(ctx context.Context, days int) ([]model.ProviderStats, error)
}

type service struct {
	repo store.Repository
}

func NewService(repo store.Repository) Service {
	return &service{
		repo: repo,
	}
}

func (s *service) GetUsageOverview(ctx context.Context, days int) ([]model.DailyStats, error) {
	if days <= 0 {
		days = 7 // default to last week
	}
	return s.repo.Requests().GetDailyStats(ctx, days)
}

func (s *service) GetProviderOverview(ctx context.Context, days int) ([]model.ProviderStats, error) {
	if days <= 0 {
		days = 7
	}
	return s.repo.Requests().GetProviderStats(ctx, days)
}
