package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nulzo/llm-gateway-api/internal/config"
	"github.com/nulzo/llm-gateway-api/internal/gateway"
	"github.com/nulzo/llm-gateway-api/internal/platform/logger"
	"github.com/nulzo/llm-gateway-api/internal/platform/otel"
	"github.com/nulzo/llm-gateway-api/internal/server"
	"go.uber.org/zap"
)

func main() {
	logger.Initialize(logger.DefaultConfig())
	defer logger.Sync()
	log := logger.Get()

	go CheckForUpdates()

	loader := config.NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := gateway.Bootstrap(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to bootstrap gateway", zap.Error(err))
	}
	defer app.Shutdown(context.Background())

	if cfg.Server.Env != "production" {
		shutdownTracer, err := otel.InitTracer("llm-gateway", log, os.Stdout)
		if err != nil {
			log.Warn("tracing disabled", zap.Error(err))
		} else {
			defer func() {
				_ = shutdownTracer(context.Background())
			}()
		}
	}

	// Hot reload: provider set and alias table follow the config file.
	loader.Watch(func(next *config.Config) {
		if err := app.Reload(next); err != nil {
			log.Error("config reload rejected", zap.Error(err))
			return
		}
		log.Info("configuration reloaded", zap.Int("providers", len(next.Providers)))
	}, func(err error) {
		log.Error("config reload failed to parse", zap.Error(err))
	})

	srv := server.New(cfg, log, app)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("gateway listening", zap.String("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
