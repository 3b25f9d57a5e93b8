package main

import (
	"os"

	"go.uber.org/zap"

	"github.com/mythcraft/api/internal/config"
	"github.com/mythcraft/api/internal/infra/logger"
	pgrepo "github.com/mythcraft/api/internal/repo/postgres"
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

	log, err := logger.New(cfg.Log.Level, "mythcraft-migrate")
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = log.Sync()
	}()

	if err := pgrepo.Migrate(cfg.Postgres.DSN); err != nil {
		log.Fatal("apply migrations", zap.Error(err))
	}
	log.Info("migrations applied")
}
