package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mythcraft/api/internal/app/workerapp"
	"github.com/mythcraft/api/internal/config"
	"github.com/mythcraft/api/internal/infra/logger"
)

func main() {
	cfgPath := os.Getenv("APP_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log.Level, "mythcraft-moderator")
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := workerapp.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("create moderation worker", zap.Error(err))
	}
	defer func() {
		if err := app.Shutdown(); err != nil {
			log.Warn("shutdown moderation worker", zap.Error(err))
		}
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal("moderation worker failed", zap.Error(err))
	}
}
