package server

import (
	"github.com/nulzo/llm-gateway-api/internal/server/middleware"
	v1 "github.com/nulzo/llm-gateway-api/internal/server/v1"
)

func (s *Server) SetupRoutes() {
	// 1. Global Middleware
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.Identity())
	s.router.Use(middleware.ErrorHandler())

	rl := middleware.NewRateLimiter(s.config.RateLimit.RequestsPerSecond, s.config.RateLimit.Burst, s.logger)

	// 2. Health Check (Public)
	healthHandler := v1.NewHealthHandler()
	s.router.GET("/health", healthHandler.Health)

	// 3. API V1 Group
	api := s.router.Group("/v1")
	api.Use(rl.Middleware())
	api.Use(middleware.Auth(s.config.Server.APIKeys, s.app.Repo))
	{
		chatHandler := v1.NewChatHandler(s.app.Service)
		api.POST("/chat/completions", chatHandler.CreateCompletion)

		messagesHandler := v1.NewMessagesHandler(s.app.Service)
		api.POST("/messages", messagesHandler.CreateMessage)

		modelsHandler := v1.NewModelHandler(s.app.Service)
		api.GET("/models", modelsHandler.ListModels)

		if s.app.Analytics != nil {
			analyticsHandler := v1.NewAnalyticsHandler(s.app.Analytics)
			api.GET("/analytics/usage", analyticsHandler.GetUsage)
			api.GET("/analytics/providers", analyticsHandler.GetProviders)
		}
	}
}
