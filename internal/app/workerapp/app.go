package workerapp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mythcraft/api/internal/app/stack"
	"github.com/mythcraft/api/internal/config"
	"github.com/mythcraft/api/internal/domain/model"
	"github.com/mythcraft/api/internal/jobs/reconcile"
)

const checkTimeout = 30 * time.Second

type ModerationService interface {
	Moderate(ctx context.Context, req model.ModerationRequest) (model.ModerationOutcome, error)
}

type ResultPublisher interface {
	PublishResult(contentID string, outcome model.ModerationOutcome) error
}

// App consumes moderation.check requests and runs the block reconciler.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	stack     *stack.Stack
	service   ModerationService
	results   ResultPublisher
	reconcile *reconcile.Job
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	st, err := stack.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	app := &App{
		cfg:     cfg,
		logger:  logger,
		stack:   st,
		service: st.Moderation,
	}
	if st.NATS != nil {
		app.results = st.NATS
	} else {
		logger.Warn("nats is unavailable, moderation.check listener disabled")
	}
	if st.ModerationRepo != nil {
		app.reconcile = reconcile.New(st.ModerationRepo, st.Tables, cfg.Moderation.ReconcileLookback, logger)
	} else {
		logger.Warn("postgres is unavailable, block reconciler disabled")
	}

	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Info("moderation worker started")

	if a.stack.NATS != nil {
		if err := a.stack.NATS.SubscribeChecks(func(req model.ModerationRequest) {
			a.handleCheck(ctx, req)
		}); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	if a.reconcile != nil {
		go func() {
			a.reconcile.Start(ctx, a.cfg.Moderation.ReconcileInterval)
			errCh <- nil
		}()
	}

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("moderation worker stopped")
			return nil
		case err := <-errCh:
			if err == nil || errors.Is(err, context.Canceled) {
				continue
			}
			return err
		}
	}
}

func (a *App) Shutdown() error {
	return a.stack.Close()
}

// handleCheck moderates one queued request. Messages delivered while the
// subscription drains are still classified, so the handler detaches from
// the worker's cancellation and only keeps its own timeout.
func (a *App) handleCheck(ctx context.Context, req model.ModerationRequest) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkTimeout)
	defer cancel()

	logger := a.logger.With(zap.String("content_id", req.ContentID), zap.String("content_type", string(req.ContentType)))

	outcome, err := a.service.Moderate(ctx, req)
	if err != nil {
		logger.Warn("queued moderation request rejected", zap.Error(err))
		return
	}

	if a.results == nil {
		return
	}
	if err := a.results.PublishResult(req.ContentID, outcome); err != nil {
		logger.Warn("publish moderation result failed", zap.Error(err))
	}
}
