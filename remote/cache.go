package remote

import (
	"context"
	"encoding/json"

	"github.com/coocood/freecache"
	"github.com/sirupsen/logrus"

	"github.com/warp/progression-engine/progression"
)

const (
	megabyte           = 1024 * 1024
	defaultCacheSize   = 8 * megabyte
	defaultCacheExpire = 5 * 60 // seconds
)

// CachedChallenges caches ListDaily, which changes at most once per
// window. Accept and ListActive always reach the wrapped service since
// they carry per-user, fast-moving state.
type CachedChallenges struct {
	next   progression.ChallengeService
	cache  *freecache.Cache
	key    []byte
	expire int
	logger *logrus.Entry
}

// NewCachedChallenges wraps next. cacheKey scopes entries when several
// wrappers share one process; expireSeconds <= 0 uses five minutes.
func NewCachedChallenges(next progression.ChallengeService, cacheKey string, sizeBytes, expireSeconds int, logger *logrus.Entry) *CachedChallenges {
	if sizeBytes <= 0 {
		sizeBytes = defaultCacheSize
	}
	if expireSeconds <= 0 {
		expireSeconds = defaultCacheExpire
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &CachedChallenges{
		next:   next,
		cache:  freecache.NewCache(sizeBytes),
		key:    []byte("daily::" + cacheKey),
		expire: expireSeconds,
		logger: logger,
	}
}

func (c *CachedChallenges) ListDaily(ctx context.Context) ([]progression.ChallengeDefinition, error) {
	if cached, err := c.cache.Get(c.key); err == nil {
		var defs []progression.ChallengeDefinition
		if err := json.Unmarshal(cached, &defs); err == nil {
			return defs, nil
		} else {
			c.logger.WithError(err).Error("failed to unmarshal cached daily challenges")
		}
	}

	defs, err := c.next.ListDaily(ctx)
	if err != nil {
		return nil, err
	}

	b, err := json.Marshal(defs)
	if err != nil {
		return defs, nil
	}
	if err := c.cache.Set(c.key, b, c.expire); err != nil {
		c.logger.WithError(err).Error("failed to cache daily challenges")
	}
	return defs, nil
}

func (c *CachedChallenges) Accept(ctx context.Context, id progression.DefinitionID) (progression.ChallengeInstance, error) {
	return c.next.Accept(ctx, id)
}

func (c *CachedChallenges) ListActive(ctx context.Context) ([]progression.ChallengeInstance, error) {
	return c.next.ListActive(ctx)
}

// Invalidate drops the cached definitions.
func (c *CachedChallenges) Invalidate() {
	c.cache.Del(c.key)
}

// HitRate reports the cache hit ratio since creation.
func (c *CachedChallenges) HitRate() float64 {
	return c.cache.HitRate()
}
