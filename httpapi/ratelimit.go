package httpapi

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// RateLimiterConfig for per-client token buckets.
type RateLimiterConfig struct {
	// PerMinute is the sustained request rate per client.
	PerMinute float64
	Burst     int
	// MaxClients bounds the number of tracked clients; idle ones expire after IdleTTL.
	MaxClients int
	IdleTTL    time.Duration
	// Key identifies the client, c.IP() by default.
	Key func(*fiber.Ctx) string
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		PerMinute:  5,
		Burst:      5,
		MaxClients: 10_000,
		IdleTTL:    10 * time.Minute,
	}
}

// RateLimiter keeps one limiter per client key.
type RateLimiter struct {
	config   RateLimiterConfig
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
}

func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if config.PerMinute <= 0 {
		config.PerMinute = def.PerMinute
	}
	if config.Burst <= 0 {
		config.Burst = def.Burst
	}
	if config.MaxClients <= 0 {
		config.MaxClients = def.MaxClients
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = def.IdleTTL
	}
	if config.Key == nil {
		config.Key = func(c *fiber.Ctx) string { return c.IP() }
	}
	return &RateLimiter{
		config:   config,
		limiters: expirable.NewLRU[string, *rate.Limiter](config.MaxClients, nil, config.IdleTTL),
	}
}

// Allow consumes one token for key.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	limiter, ok := rl.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(rl.config.PerMinute/60.0), rl.config.Burst)
		rl.limiters.Add(key, limiter)
	}
	rl.mu.Unlock()
	return limiter.Allow()
}

// Handler rejects over-limit clients with 429 and a Retry-After hint.
func (rl *RateLimiter) Handler() fiber.Handler {
	retryAfter := strconv.Itoa(int(60.0/rl.config.PerMinute) + 1)
	return func(c *fiber.Ctx) error {
		if rl.Allow(rl.config.Key(c)) {
			return c.Next()
		}
		c.Set(fiber.HeaderRetryAfter, retryAfter)
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": fiber.Map{
				"category": "rate_limit",
				"message":  "too many requests, try again later",
			},
		})
	}
}
