package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestLimiter_AllowsWithinBurst(t *testing.T) {
	l := NewLimiter(Config{Enabled: true, RPS: 1, Burst: 3}, nil)

	for i := 0; i < 3; i++ {
		if !l.Allow("client-a") {
			t.Fatalf("request %d within burst was denied", i)
		}
	}
	if l.Allow("client-a") {
		t.Fatal("request beyond burst was allowed")
	}
	// Other keys have independent budgets.
	if !l.Allow("client-b") {
		t.Fatal("independent key was denied")
	}
}

func TestMiddleware_Returns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(Middleware(Config{Enabled: true, RPS: 1, Burst: 1}, func(*gin.Context) string {
		return "fixed"
	}))
	engine.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", rec.Code)
	}
}

func TestMiddleware_DisabledPassesEverything(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(Middleware(Config{Enabled: false, RPS: 1, Burst: 1}, nil))
	engine.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d with limiter disabled", i, rec.Code)
		}
	}
}
