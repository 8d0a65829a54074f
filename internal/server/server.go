package server

import (
	"net/http"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/nulzo/llm-gateway-api/internal/config"
	"github.com/nulzo/llm-gateway-api/internal/gateway"
	"github.com/nulzo/llm-gateway-api/internal/server/middleware"
	"github.com/nulzo/llm-gateway-api/internal/server/validator"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

type Server struct {
	router *gin.Engine
	config *config.Config
	logger *zap.Logger
	app    *gateway.App
}

func New(cfg *config.Config, logger *zap.Logger, app *gateway.App) *Server {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	validator.InitValidator()

	engine := gin.New()

	engine.Use(ginzap.RecoveryWithZap(logger, true))
	engine.Use(middleware.Logger(logger))
	engine.Use(otelgin.Middleware("llm-gateway"))

	s := &Server{
		router: engine,
		config: cfg,
		logger: logger,
		app:    app,
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}
