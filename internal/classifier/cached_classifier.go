package classifier

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "classify:"

// CachedClassifier memoizes successful classifications in Redis, keyed by a
// hash of the text. Cache failures fall through to the wrapped classifier.
type CachedClassifier struct {
	inner  Classifier
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedClassifier wraps inner with a Redis cache.
func NewCachedClassifier(inner Classifier, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedClassifier{inner: inner, client: client, ttl: ttl, logger: logger}
}

func (c *CachedClassifier) Classify(ctx context.Context, text string) (Result, error) {
	key := cacheKey(text)

	cached, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var result Result
		if jsonErr := json.Unmarshal(cached, &result); jsonErr == nil && result.Validate() == nil {
			return result, nil
		}
		c.logger.Warn("ignoring invalid cached classification", zap.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("classification cache read failed", zap.Error(err))
	}

	result, err := c.inner.Classify(ctx, text)
	if err != nil {
		return Result{}, err
	}
	if result.Validate() != nil {
		return result, nil
	}
	if encoded, err := json.Marshal(result); err == nil {
		if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
			c.logger.Warn("classification cache write failed", zap.Error(err))
		}
	}
	return result, nil
}

func cacheKey(text string) string {
	sum := blake3.Sum256([]byte(text))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
