package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"predictor/internal/api"
	"predictor/internal/config"
	"predictor/internal/engine"
	"predictor/internal/util"
)

func main() {
	cfg, err := config.LoadOptional(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if err := engine.RequireCredentials(cfg); err != nil {
		logger.Warn("bars will be served from cache only", "error", err)
	}

	rt, err := engine.Open(cfg, logger)
	if err != nil {
		log.Fatalf("initializing engine: %v", err)
	}
	defer rt.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := api.NewServer(rt.Engine, cfg.Server, logger)
	logger.Info("predictor-server starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"grpcPort", cfg.Server.GRPCPort,
		"horizon", cfg.Signal.Horizon,
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server error", "error", err)
		rt.Close()
		cancel()
		log.Fatal(err)
	}
	logger.Info("predictor-server stopped")
}
