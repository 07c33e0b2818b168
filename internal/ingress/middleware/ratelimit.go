package middleware

import (
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/janovincze/tributary/internal/ingress/models"
)

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. Zero or less disables limiting.
	RequestsPerSecond float64

	// BurstSize is the maximum burst size.
	BurstSize int

	// PerClient keys limiters by client IP instead of sharing one.
	PerClient bool

	// ClientTTL is how long an idle client limiter is kept. Defaults to 1h.
	ClientTTL time.Duration

	// CleanupInterval is how often idle limiters are swept. Defaults to 10m.
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns a RateLimitConfig with sensible defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 500,
		BurstSize:         1000,
		ClientTTL:         time.Hour,
		CleanupInterval:   10 * time.Minute,
	}
}

// RateLimiter rejects requests over the configured rate with a 429.
func RateLimiter(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.RequestsPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = int(cfg.RequestsPerSecond)
	}
	if cfg.PerClient {
		return perClientRateLimiter(cfg)
	}
	return globalRateLimiter(cfg)
}

func globalRateLimiter(cfg RateLimitConfig) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			rejectRateLimited(c, cfg)
			return
		}
		c.Next()
	}
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	once     sync.Once
	ttl      time.Duration
	interval time.Duration
}

func (s *limiterStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ip, cl := range s.limiters {
		if now.Sub(cl.lastAccess) > s.ttl {
			delete(s.limiters, ip)
		}
	}
}

func (s *limiterStore) startSweeper() {
	s.once.Do(func() {
		go func() {
			ticker := time.NewTicker(s.interval)
			defer ticker.Stop()
			for now := range ticker.C {
				s.sweep(now)
			}
		}()
	})
}

func (s *limiterStore) get(clientIP string, rps float64, burst int) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cl, ok := s.limiters[clientIP]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
		s.limiters[clientIP] = cl
	}
	cl.lastAccess = now
	return cl.limiter
}

func (s *limiterStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	ttl := cfg.ClientTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &limiterStore{
		limiters: make(map[string]*clientLimiter),
		ttl:      ttl,
		interval: interval,
	}
}

func perClientRateLimiter(cfg RateLimitConfig) gin.HandlerFunc {
	store := newLimiterStore(cfg)
	store.startSweeper()

	return func(c *gin.Context) {
		limiter := store.get(c.ClientIP(), cfg.RequestsPerSecond, cfg.BurstSize)
		c.Header("X-RateLimit-Limit", formatFloat(cfg.RequestsPerSecond))
		if !limiter.Allow() {
			rejectRateLimited(c, cfg)
			return
		}
		c.Next()
	}
}

func rejectRateLimited(c *gin.Context, cfg RateLimitConfig) {
	c.Header("Retry-After", "1")
	c.Header("X-RateLimit-Limit", formatFloat(cfg.RequestsPerSecond))
	c.Header("X-RateLimit-Remaining", "0")
	models.RespondWithError(c, models.NewRateLimitedError(c.Request.URL.Path))
	c.Abort()
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%.0f", f)
}
