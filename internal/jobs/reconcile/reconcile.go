// Package reconcile re-applies the hide side effect for content that
// received a block decision. A block normally hides its row in the same
// transaction as the flag insert; this job covers the cases where that
// transaction and its compensation both failed.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mythcraft/api/internal/domain/enums"
	"github.com/mythcraft/api/internal/domain/model"
	"github.com/mythcraft/api/internal/infra/metrics"
)

const defaultBatchLimit = 500

type BlockStore interface {
	ListRecentBlocks(ctx context.Context, since time.Time, after *model.BlockedContentRef, limit int) ([]model.BlockedContentRef, error)
	HideContent(ctx context.Context, target model.ContentTarget) (bool, error)
}

type Job struct {
	store    BlockStore
	tables   map[enums.ContentType]string
	lookback time.Duration
	limit    int
	now      func() time.Time
	logger   *zap.Logger
}

func New(store BlockStore, tables map[enums.ContentType]string, lookback time.Duration, logger *zap.Logger) *Job {
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		store:    store,
		tables:   tables,
		lookback: lookback,
		limit:    defaultBatchLimit,
		now:      time.Now,
		logger:   logger,
	}
}

// Run hides every recently blocked row that is still visible and returns how
// many rows changed.
func (j *Job) Run(ctx context.Context) (int, error) {
	if j.store == nil {
		return 0, nil
	}

	since := j.now().Add(-j.lookback)

	hidden, checked := 0, 0
	var after *model.BlockedContentRef
	for {
		refs, err := j.store.ListRecentBlocks(ctx, since, after, j.limit)
		if err != nil {
			return hidden, fmt.Errorf("list recent blocks: %w", err)
		}

		for _, ref := range refs {
			if j.hide(ctx, ref) {
				hidden++
			}
		}
		checked += len(refs)

		if len(refs) < j.limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return hidden, err
		}
		last := refs[len(refs)-1]
		after = &last
	}

	if hidden > 0 {
		metrics.ReconciledContent.Add(float64(hidden))
		j.logger.Info("reconcile hid blocked content", zap.Int("hidden", hidden), zap.Int("checked", checked))
	}
	return hidden, nil
}

func (j *Job) hide(ctx context.Context, ref model.BlockedContentRef) bool {
	table, ok := j.tables[ref.ContentType]
	if !ok {
		return false
	}

	changed, err := j.store.HideContent(ctx, model.ContentTarget{Table: table, ContentID: ref.ContentID})
	if err != nil {
		j.logger.Warn("reconcile hide failed",
			zap.String("content_type", string(ref.ContentType)),
			zap.String("content_id", ref.ContentID),
			zap.Error(err),
		)
		return false
	}
	return changed
}

// Start runs the job every interval until ctx is done.
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := j.Run(ctx); err != nil {
			j.logger.Warn("reconcile run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
