package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/sciflow/docstore"
)

// JudgmentCache memoizes sufficiency verdicts in Redis, keyed by the
// query and the exact retrieved document set. Re-running a query over
// an unchanged store then skips the judge call entirely. Cache failures
// are logged and treated as misses.
type JudgmentCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewJudgmentCache creates a cache. A zero ttl defaults to one hour.
func NewJudgmentCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *JudgmentCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JudgmentCache{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "judgment_cache")),
	}
}

// Get returns a cached verdict for the query/result-set pair.
func (c *JudgmentCache) Get(ctx context.Context, query string, scored []docstore.ScoredDocument) (Verdict, bool) {
	raw, err := c.rdb.Get(ctx, c.key(query, scored)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache get failed", zap.Error(err))
		}
		return Verdict{}, false
	}
	var verdict Verdict
	if err := json.Unmarshal(raw, &verdict); err != nil {
		c.logger.Warn("cache entry corrupt", zap.Error(err))
		return Verdict{}, false
	}
	return verdict, true
}

// Put stores a verdict.
func (c *JudgmentCache) Put(ctx context.Context, query string, scored []docstore.ScoredDocument, verdict Verdict) {
	raw, err := json.Marshal(verdict)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key(query, scored), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("cache put failed", zap.Error(err))
	}
}

func (c *JudgmentCache) key(query string, scored []docstore.ScoredDocument) string {
	h := sha256.New()
	h.Write([]byte(query))
	for _, sd := range scored {
		h.Write([]byte{0})
		h.Write([]byte(sd.Document.ID))
	}
	return "sciflow:judgment:" + hex.EncodeToString(h.Sum(nil))
}
