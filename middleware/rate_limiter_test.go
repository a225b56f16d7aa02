// api/middleware/rate_limiter_test.go
package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth_errors "github.com/amanshivam/auth/errors"
	"github.com/amanshivam/auth/middleware"
)

// stubLimiter scripts the limiter decision per test case.
type stubLimiter struct {
	allowed    bool
	retryAfter time.Duration
	err        error
}

func (s *stubLimiter) Allow(ctx context.Context, clientID string) (bool, time.Duration, error) {
	return s.allowed, s.retryAfter, s.err
}

func limitedRouter(limiter *stubLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RateLimiter(limiter))
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func TestRateLimiterMiddleware(t *testing.T) {
	t.Run("AllowedPassesThrough", func(t *testing.T) {
		router := limitedRouter(&stubLimiter{allowed: true})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/ping", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("RejectedIs429WithRetryAfter", func(t *testing.T) {
		router := limitedRouter(&stubLimiter{allowed: false, retryAfter: 30 * time.Second})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/ping", nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "31", w.Header().Get("Retry-After"))
		assert.Contains(t, w.Body.String(), auth_errors.ErrRateLimited.Error())
	})

	t.Run("LimiterFailureFailsOpen", func(t *testing.T) {
		router := limitedRouter(&stubLimiter{err: errors.New("redis down")})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/ping", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, "a broken limiter must not block requests")
	})
}
