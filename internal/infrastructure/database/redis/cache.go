package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConceptGuard/internal/intelligence/validation"
	"github.com/turtacn/ConceptGuard/pkg/errors"
)

const nullMarker = "__null__"

// CacheObserver records cache hits and misses.
type CacheObserver interface {
	ObserveCacheAccess(cache string, hit bool)
}

// CachedConceptLookup is a read-through Redis cache in front of another
// ConceptLookup. Unknown concepts are cached briefly as a null marker. Redis
// failures are logged and the backing lookup answers instead.
type CachedConceptLookup struct {
	client   *Client
	next     validation.ConceptLookup
	logger   logging.Logger
	observer CacheObserver

	prefix  string
	ttl     time.Duration
	nullTTL time.Duration
	jitter  func(time.Duration) time.Duration

	group singleflight.Group
}

type CacheOption func(*CachedConceptLookup)

func WithPrefix(prefix string) CacheOption {
	return func(c *CachedConceptLookup) { c.prefix = prefix }
}

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *CachedConceptLookup) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithNullTTL(ttl time.Duration) CacheOption {
	return func(c *CachedConceptLookup) {
		if ttl > 0 {
			c.nullTTL = ttl
		}
	}
}

func WithObserver(o CacheObserver) CacheOption {
	return func(c *CachedConceptLookup) { c.observer = o }
}

var _ validation.ConceptLookup = (*CachedConceptLookup)(nil)

// NewCachedConceptLookup fronts next with client.
func NewCachedConceptLookup(client *Client, next validation.ConceptLookup, log logging.Logger, opts ...CacheOption) *CachedConceptLookup {
	if log == nil {
		log = logging.NewNopLogger()
	}
	c := &CachedConceptLookup{
		client:  client,
		next:    next,
		logger:  log,
		prefix:  "conceptguard:",
		ttl:     15 * time.Minute,
		nullTTL: 30 * time.Second,
		jitter:  jitterTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// jitterTTL spreads expiries by +/- 10%.
func jitterTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	delta := float64(ttl) * 0.1 * (rand.Float64()*2 - 1)
	return ttl + time.Duration(delta)
}

func (c *CachedConceptLookup) key(conceptID string) string {
	return c.prefix + "concept:" + conceptID
}

func (c *CachedConceptLookup) observe(hit bool) {
	if c.observer != nil {
		c.observer.ObserveCacheAccess("concept", hit)
	}
}

type cachedResult struct {
	info  validation.ConceptInfo
	found bool
}

// Lookup returns cached metadata or loads it through the backing lookup.
// Concurrent misses for the same id share one backing call.
func (c *CachedConceptLookup) Lookup(ctx context.Context, conceptID string) (validation.ConceptInfo, bool, error) {
	id := strings.ToUpper(strings.TrimSpace(conceptID))
	key := c.key(id)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if string(data) == nullMarker {
			c.observe(true)
			return validation.ConceptInfo{}, false, nil
		}
		var info validation.ConceptInfo
		if uerr := json.Unmarshal(data, &info); uerr == nil {
			c.observe(true)
			return info, true, nil
		}
		c.logger.Warn("Discarding undecodable cache entry", logging.String("key", key))
	case err != redis.Nil:
		c.logger.Warn("Concept cache read failed", logging.String("key", key), logging.Err(err))
	}
	c.observe(false)

	v, err, _ := c.group.Do(id, func() (interface{}, error) {
		info, found, lerr := c.next.Lookup(ctx, id)
		if lerr != nil {
			return nil, lerr
		}
		c.store(ctx, key, info, found)
		return cachedResult{info: info, found: found}, nil
	})
	if err != nil {
		return validation.ConceptInfo{}, false, err
	}
	res := v.(cachedResult)
	return res.info, res.found, nil
}

func (c *CachedConceptLookup) store(ctx context.Context, key string, info validation.ConceptInfo, found bool) {
	var (
		value string
		ttl   time.Duration
	)
	if found {
		data, err := json.Marshal(info)
		if err != nil {
			return
		}
		value, ttl = string(data), c.jitter(c.ttl)
	} else {
		value, ttl = nullMarker, c.nullTTL
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("Concept cache write failed", logging.String("key", key), logging.Err(err))
	}
}

// Invalidate removes cached entries for ids.
func (c *CachedConceptLookup) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(strings.ToUpper(strings.TrimSpace(id)))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "invalidate concept cache")
	}
	return nil
}

// Purge removes every cached concept and returns how many keys were deleted.
func (c *CachedConceptLookup) Purge(ctx context.Context) (int64, error) {
	var deleted int64
	var cursor uint64
	match := c.prefix + "concept:*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "scan concept cache")
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return deleted, errors.Wrap(err, errors.ErrCodeCacheError, "purge concept cache")
			}
			deleted += int64(len(keys))
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}
