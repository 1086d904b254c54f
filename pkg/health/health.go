// Package health aggregates dependency liveness checks behind one
// /healthz endpoint.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of one health check.
type CheckResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Checker is the interface health check implementations satisfy.
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// Registry manages a collection of health checks.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewRegistry creates an empty registry. A service with no registered
// checks reports healthy.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds a checker, replacing any previous one with the same name.
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[checker.Name()] = checker
}

// AggregatedResult is the /healthz body.
type AggregatedResult struct {
	Status Status        `json:"status"`
	Checks []CheckResult `json:"checks,omitempty"`
}

// Check runs every registered check. Any failure makes the aggregate
// unhealthy.
func (r *Registry) Check(ctx context.Context) AggregatedResult {
	r.mu.RLock()
	checkers := make([]Checker, 0, len(r.checkers))
	for _, c := range r.checkers {
		checkers = append(checkers, c)
	}
	r.mu.RUnlock()

	out := AggregatedResult{Status: StatusHealthy}
	for _, c := range checkers {
		result := c.Check(ctx)
		if result.Status != StatusHealthy {
			out.Status = StatusUnhealthy
		}
		out.Checks = append(out.Checks, result)
	}
	return out
}

// Handler serves the aggregate as JSON: 200 when healthy, 503 otherwise.
func (r *Registry) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result := r.Check(c.Request.Context())
		status := http.StatusOK
		if result.Status != StatusHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
	}
}

// RedisChecker verifies Redis connectivity with a ping.
type RedisChecker struct {
	name    string
	client  *redis.Client
	timeout time.Duration
}

// NewRedisChecker creates a checker for the given client.
func NewRedisChecker(name string, client *redis.Client) *RedisChecker {
	return &RedisChecker{name: name, client: client, timeout: 3 * time.Second}
}

// Name returns the checker name.
func (c *RedisChecker) Name() string {
	return c.name
}

// Check pings Redis.
func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.client.Ping(cctx).Err()
	result := CheckResult{
		Name:     c.name,
		Status:   StatusHealthy,
		Duration: time.Since(start),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	return result
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// NewCheckerFunc wraps fn as a named checker.
func NewCheckerFunc(name string, fn func(ctx context.Context) error) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

// Name returns the checker name.
func (c *CheckerFunc) Name() string {
	return c.name
}

// Check runs the wrapped function.
func (c *CheckerFunc) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := c.fn(ctx)
	result := CheckResult{
		Name:     c.name,
		Status:   StatusHealthy,
		Duration: time.Since(start),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	return result
}
