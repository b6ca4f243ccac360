package api

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/sweeper/lru"
)

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	RPS   int // requests per second
	Burst int // burst size
	// MaxClients bounds the tracked client buckets; idle clients are evicted
	// first. Zero means 10000.
	MaxClients int
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(rps, burst int, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: float64(rps),
		lastRefill: now,
	}
}

func (b *tokenBucket) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

type rateLimiter struct {
	mu      sync.Mutex
	clients *lru.Cache[string, *tokenBucket]
	rps     int
	burst   int
	now     func() time.Time
}

func newRateLimiter(cfg RateLimitConfig, now func() time.Time) *rateLimiter {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 10000
	}
	if cfg.Burst < 1 {
		cfg.Burst = cfg.RPS
	}
	// A bucket idle for ten minutes is full again; forgetting it is harmless.
	return &rateLimiter{
		clients: lru.New[string, *tokenBucket](cfg.MaxClients, lru.WithTTL(10*time.Minute), lru.WithClock(now)),
		rps:     cfg.RPS,
		burst:   cfg.Burst,
		now:     now,
	}
}

func (rl *rateLimiter) allow(client string) bool {
	now := rl.now()

	rl.mu.Lock()
	bucket, ok := rl.clients.Get(client)
	if !ok {
		bucket = newTokenBucket(rl.rps, rl.burst, now)
	}
	// Put refreshes the idle TTL.
	rl.clients.Put(client, bucket)
	rl.mu.Unlock()

	return bucket.allow(now)
}

// NewRateLimitMiddleware returns a per-client token-bucket rate limiter.
func NewRateLimitMiddleware(cfg RateLimitConfig) fiber.Handler {
	rl := newRateLimiter(cfg, time.Now)

	return func(c *fiber.Ctx) error {
		if isProbe(c.Path()) {
			return c.Next()
		}
		if !rl.allow(c.IP()) {
			c.Set(fiber.HeaderRetryAfter, "1")
			return problemResponse(c, fiber.StatusTooManyRequests,
				"rate_limit_exceeded", "Too Many Requests",
				"Rate limit exceeded. Please try again later.")
		}
		return c.Next()
	}
}
