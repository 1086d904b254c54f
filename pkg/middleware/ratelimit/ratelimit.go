// Package ratelimit provides per-client token bucket rate limiting for the
// ingestion endpoint.
package ratelimit

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/eventinspect/eventinspect/pkg/controller"
)

// Config configures the limiter.
type Config struct {
	Enabled bool
	// RPS is the sustained request rate per client key.
	RPS float64
	// Burst is the instantaneous allowance per client key.
	Burst int
}

// DefaultConfig allows a generous rate suited to busy tracked pages.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		RPS:     50,
		Burst:   100,
	}
}

// KeyFunc derives the limiter key from a request. The default keys by
// client IP; the ingestion route cannot key by write key because limiting
// runs before the body is parsed.
type KeyFunc func(c *gin.Context) string

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a thread-safe per-key token bucket set with idle eviction.
type Limiter struct {
	cfg   Config
	keyFn KeyFunc

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

// NewLimiter creates a limiter. A nil keyFn keys by client IP.
func NewLimiter(cfg Config, keyFn KeyFunc) *Limiter {
	if keyFn == nil {
		keyFn = func(c *gin.Context) string { return c.ClientIP() }
	}
	if cfg.RPS <= 0 {
		cfg.RPS = DefaultConfig().RPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultConfig().Burst
	}
	return &Limiter{
		cfg:     cfg,
		keyFn:   keyFn,
		clients: make(map[string]*clientLimiter),
	}
}

// Allow reports whether a request for key may proceed.
func (l *Limiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	cl := l.clients[key]
	if cl == nil {
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)}
		l.clients[key] = cl
	}
	cl.lastSeen = now

	if len(l.clients) > 1024 {
		l.evictIdle(now)
	}

	return cl.limiter.Allow()
}

// evictIdle removes buckets idle long enough to be full again anyway.
// Caller holds the lock.
func (l *Limiter) evictIdle(now time.Time) {
	idle := time.Duration(float64(l.cfg.Burst)/l.cfg.RPS) * time.Second
	if idle < time.Minute {
		idle = time.Minute
	}
	for key, cl := range l.clients {
		if now.Sub(cl.lastSeen) > idle {
			delete(l.clients, key)
		}
	}
}

// Middleware rejects requests over the limit with 429.
func Middleware(cfg Config, keyFn KeyFunc) gin.HandlerFunc {
	limiter := NewLimiter(cfg, keyFn)
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}
		if !limiter.Allow(limiter.keyFn(c)) {
			controller.Error(c, controller.NewTooManyRequestsError("too many requests"))
			return
		}
		c.Next()
	}
}
