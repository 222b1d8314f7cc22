package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// KeyFunc extracts the limiter key. Defaults to the client IP.
	KeyFunc   func(c *gin.Context) string
	SkipPaths []string
	// IdleTTL drops limiters not used for this long.
	IdleTTL time.Duration
}

// DefaultRateLimitConfig returns the default rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
		SkipPaths:         []string{"/healthz", "/readyz", "/metrics"},
		IdleTTL:           10 * time.Minute,
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter keeps one token bucket per key.
type KeyedLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

// NewKeyedLimiter creates a limiter allowing rps requests per second per key
// with the given burst.
func NewKeyedLimiter(rps float64, burst int, idleTTL time.Duration) *KeyedLimiter {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}
	return &KeyedLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// Allow reports whether a request for key may proceed now, and the tokens
// left afterwards.
func (l *KeyedLimiter) Allow(key string) (bool, int) {
	now := l.now()

	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	if l.idleTTL > 0 {
		for k, other := range l.visitors {
			if now.Sub(other.lastSeen) > l.idleTTL {
				delete(l.visitors, k)
			}
		}
	}
	l.mu.Unlock()

	allowed := v.limiter.AllowN(now, 1)
	remaining := int(v.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// RateLimit rejects requests over the per-key budget with 429.
func RateLimit(config RateLimitConfig) gin.HandlerFunc {
	limiter := NewKeyedLimiter(config.RequestsPerSecond, config.BurstSize, config.IdleTTL)
	skip := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skip[p] = true
	}
	keyFunc := config.KeyFunc
	if keyFunc == nil {
		keyFunc = func(c *gin.Context) string { return c.ClientIP() }
	}
	retryAfter := "1"
	if config.RequestsPerSecond > 0 && config.RequestsPerSecond < 1 {
		retryAfter = strconv.Itoa(int(math.Ceil(1 / config.RequestsPerSecond)))
	}

	return func(c *gin.Context) {
		if config.RequestsPerSecond <= 0 || skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		allowed, remaining := limiter.Allow(keyFunc(c))
		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "COMMON_005",
				"message": "rate limit exceeded, please retry later",
			})
			return
		}
		c.Next()
	}
}
