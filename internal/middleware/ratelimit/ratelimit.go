package ratelimit

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/studypilot/backend/internal/metrics"
)

// SessionHeader lets clients behind one address be limited per session.
const SessionHeader = "X-Session-ID"

const (
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderRetryAfter = "Retry-After"
)

// bucket refills continuously at rate tokens per second up to capacity.
type bucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
}

type RateLimiter struct {
	buckets  *cache.Cache
	capacity float64
	rate     float64
	logger   *zap.Logger
	now      func() time.Time
	create   sync.Mutex
}

type Config struct {
	MaxRequestsPerMinute int
	WindowDuration       time.Duration
	// IdleTTL drops buckets that have not been used for this long.
	IdleTTL time.Duration
	Logger  *zap.Logger
}

func New(cfg Config) *RateLimiter {
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = 60
	}
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &RateLimiter{
		buckets:  cache.New(cfg.IdleTTL, cfg.IdleTTL/2),
		capacity: float64(cfg.MaxRequestsPerMinute),
		rate:     float64(cfg.MaxRequestsPerMinute) / cfg.WindowDuration.Seconds(),
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.IP()
		if sessionID := c.Get(SessionHeader); sessionID != "" {
			key = sessionID
		}

		ok, remaining, retryAfter := rl.allow(key)
		c.Set(HeaderRemaining, strconv.Itoa(remaining))

		if !ok {
			metrics.RateLimited.Inc()
			rl.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
				zap.Duration("retry_after", retryAfter),
			)
			c.Set(HeaderRetryAfter, strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}

// allow takes one token for key. It reports the whole tokens left and, when
// refused, how long until the next token.
func (rl *RateLimiter) allow(key string) (bool, int, time.Duration) {
	b := rl.bucketFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.now()
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = math.Min(rl.capacity, b.tokens+elapsed*rl.rate)
	}
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0
	}

	wait := time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
	return false, 0, wait
}

func (rl *RateLimiter) bucketFor(key string) *bucket {
	rl.create.Lock()
	defer rl.create.Unlock()

	if v, ok := rl.buckets.Get(key); ok {
		b := v.(*bucket)
		rl.buckets.SetDefault(key, b)
		return b
	}

	b := &bucket{tokens: rl.capacity, last: rl.now()}
	rl.buckets.SetDefault(key, b)
	return b
}

// Tracked returns the number of keys with a live bucket.
func (rl *RateLimiter) Tracked() int {
	return rl.buckets.ItemCount()
}
