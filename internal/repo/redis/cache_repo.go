package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mythcraft/api/internal/domain/model"
)

const classificationPrefix = "moderation:classification:"

type CacheRepo struct {
	client *goredis.Client
}

func NewCacheRepo(client *goredis.Client) *CacheRepo {
	return &CacheRepo{client: client}
}

// GetClassification reports ok=false on a cache miss.
func (r *CacheRepo) GetClassification(ctx context.Context, text string) (model.ClassificationResult, bool, error) {
	if r.client == nil {
		return model.ClassificationResult{}, false, fmt.Errorf("redis client is nil")
	}

	raw, err := r.client.Get(ctx, classificationKey(text)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return model.ClassificationResult{}, false, nil
		}
		return model.ClassificationResult{}, false, fmt.Errorf("get cached classification: %w", err)
	}

	var result model.ClassificationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return model.ClassificationResult{}, false, fmt.Errorf("decode cached classification: %w", err)
	}
	return result, true, nil
}

func (r *CacheRepo) SetClassification(ctx context.Context, text string, result model.ClassificationResult, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode classification: %w", err)
	}
	if err := r.client.Set(ctx, classificationKey(text), raw, ttl).Err(); err != nil {
		return fmt.Errorf("set cached classification: %w", err)
	}
	return nil
}

func classificationKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return classificationPrefix + hex.EncodeToString(sum[:])
}
