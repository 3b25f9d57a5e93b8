package classifier

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mythcraft/api/internal/domain/model"
	"github.com/mythcraft/api/internal/infra/metrics"
)

type Classifier interface {
	Classify(ctx context.Context, text string) model.ClassificationResult
	ClassifyBatch(ctx context.Context, texts []string) []model.ClassificationResult
}

type ResultCache interface {
	GetClassification(ctx context.Context, text string) (model.ClassificationResult, bool, error)
	SetClassification(ctx context.Context, text string, result model.ClassificationResult, ttl time.Duration) error
}

// CachedClassifier serves repeated texts from a cache. Fail-safe results are
// never stored, so an outage does not outlive itself in the cache.
type CachedClassifier struct {
	next   Classifier
	cache  ResultCache
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedClassifier(next Classifier, cache ResultCache, ttl time.Duration, logger *zap.Logger) *CachedClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedClassifier{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (c *CachedClassifier) Classify(ctx context.Context, text string) model.ClassificationResult {
	if cached, ok := c.lookup(ctx, text); ok {
		return cached
	}

	result := c.next.Classify(ctx, text)
	c.store(ctx, text, result)
	return result
}

func (c *CachedClassifier) ClassifyBatch(ctx context.Context, texts []string) []model.ClassificationResult {
	results := make([]model.ClassificationResult, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if cached, ok := c.lookup(ctx, text); ok {
			results[i] = cached
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results
	}

	fresh := c.next.ClassifyBatch(ctx, missTexts)
	for j, i := range missIdx {
		if j >= len(fresh) {
			results[i] = model.FailSafeResult()
			continue
		}
		results[i] = fresh[j]
		c.store(ctx, missTexts[j], fresh[j])
	}
	return results
}

func (c *CachedClassifier) lookup(ctx context.Context, text string) (model.ClassificationResult, bool) {
	if c.cache == nil || c.ttl <= 0 {
		return model.ClassificationResult{}, false
	}
	cached, ok, err := c.cache.GetClassification(ctx, text)
	if err != nil {
		c.logger.Warn("classification cache read failed", zap.Error(err))
		return model.ClassificationResult{}, false
	}
	if ok {
		metrics.ClassifierRequests.WithLabelValues("cache_hit").Inc()
	}
	return cached, ok
}

func (c *CachedClassifier) store(ctx context.Context, text string, result model.ClassificationResult) {
	if c.cache == nil || c.ttl <= 0 || result.FailSafe() {
		return
	}
	if err := c.cache.SetClassification(ctx, text, result, c.ttl); err != nil {
		c.logger.Warn("classification cache write failed", zap.Error(err))
	}
}
