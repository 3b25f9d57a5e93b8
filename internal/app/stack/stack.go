// Package stack builds the clients and services shared by the API server and
// the moderation worker. Every external dependency except the classifier is
// optional: a failed connection is logged and the stack runs degraded.
package stack

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mythcraft/api/internal/config"
	"github.com/mythcraft/api/internal/domain/enums"
	"github.com/mythcraft/api/internal/infra/httpclient"
	"github.com/mythcraft/api/internal/infra/messaging"
	s3infra "github.com/mythcraft/api/internal/infra/s3"
	pgrepo "github.com/mythcraft/api/internal/repo/postgres"
	redrepo "github.com/mythcraft/api/internal/repo/redis"
	classifiersvc "github.com/mythcraft/api/internal/services/classifier"
	evidencesvc "github.com/mythcraft/api/internal/services/evidence"
	modsvc "github.com/mythcraft/api/internal/services/moderation"
	ratesvc "github.com/mythcraft/api/internal/services/rate"
)

type Stack struct {
	Postgres *pgxpool.Pool
	Redis    *goredis.Client
	S3       *minio.Client
	NATS     *messaging.Client

	ModerationRepo *pgrepo.ModerationRepo
	Evidence       *evidencesvc.Archiver
	Moderation     *modsvc.Service
	Tables         map[enums.ContentType]string
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*Stack, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	tables, err := modsvc.TablesFromConfig(cfg.Moderation.ContentTables)
	if err != nil {
		return nil, err
	}

	s := &Stack{Tables: tables}

	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		s.Postgres = p
		s.ModerationRepo = pgrepo.NewModerationRepo(p)
	}

	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		s.Redis = redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	} else {
		log.Warn("redis address is empty, cache and rate limits disabled")
	}

	if c, err := s3infra.NewClient(s3infra.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		UseSSL:    cfg.S3.UseSSL,
	}); err != nil {
		log.Warn("s3 init failed, evidence archive disabled", zap.Error(err))
	} else {
		s.S3 = c
		s.Evidence = evidencesvc.NewArchiver(evidencesvc.NewS3Storage(c, cfg.S3.Bucket), 0)
	}

	if strings.TrimSpace(cfg.NATS.URL) != "" {
		nc, err := messaging.Connect(messaging.Config{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			ReconnectWait: cfg.NATS.ReconnectWait,
			MaxReconnects: cfg.NATS.MaxReconnects,
		}, log)
		if err != nil {
			log.Warn("nats init failed, continuing without events", zap.Error(err))
		} else {
			s.NATS = nc
		}
	}

	classifier := classifiersvc.NewClient(httpclient.New(cfg.Classifier.Timeout), classifiersvc.Config{
		BaseURL:          cfg.Classifier.BaseURL,
		APIKey:           cfg.Classifier.APIKey,
		Model:            cfg.Classifier.Model,
		Timeout:          cfg.Classifier.Timeout,
		MaxRetries:       cfg.Classifier.MaxRetries,
		BatchConcurrency: cfg.Classifier.BatchConcurrency,
		BreakerFailures:  cfg.Classifier.Breaker.ConsecutiveFailures,
		BreakerTimeout:   cfg.Classifier.Breaker.OpenTimeout,
	}, log)
	if strings.TrimSpace(cfg.Classifier.APIKey) == "" {
		log.Warn("classifier api key is empty, every submission will be blocked by the fail-safe")
	}

	deps := modsvc.Dependencies{
		Classifier: classifier,
		Logger:     log,
	}
	if s.ModerationRepo != nil {
		deps.Store = s.ModerationRepo
	}
	if s.Redis != nil {
		deps.Classifier = classifiersvc.NewCachedClassifier(classifier, redrepo.NewCacheRepo(s.Redis), cfg.Moderation.CacheTTL, log)
		deps.Limiter = ratesvc.NewLimiter(redrepo.NewRateRepo(s.Redis), cfg.Moderation.RatePerMinute, cfg.Moderation.RatePerHour)
	}
	if s.NATS != nil {
		deps.Publisher = s.NATS
	}
	if s.Evidence != nil {
		deps.Evidence = s.Evidence
	}

	service, err := modsvc.NewService(deps, modsvc.Config{
		Tables:           tables,
		MaxBatchSize:     cfg.Moderation.MaxBatchSize,
		MaxContentLength: cfg.Moderation.MaxContentLength,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("init moderation service: %w", err)
	}
	s.Moderation = service

	return s, nil
}

func (s *Stack) Close() error {
	var closeErr error

	if s.NATS != nil {
		s.NATS.Close()
	}
	if s.Postgres != nil {
		s.Postgres.Close()
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			closeErr = err
		}
	}

	return closeErr
}

// RedisPinger adapts the redis client to a context-aware health check.
type RedisPinger struct {
	Client *goredis.Client
}

func (p RedisPinger) Ping(ctx context.Context) error {
	return p.Client.Ping(ctx).Err()
}
