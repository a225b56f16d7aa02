// api/middleware/rate_limiter.go

package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/amanshivam/auth/admission"
	auth_errors "github.com/amanshivam/auth/errors"
	logger "github.com/amanshivam/auth/logging"
	"github.com/amanshivam/auth/util"
)

// RateLimiter rejects requests from a source that exceeded its sliding-window
// ceiling, with a Retry-After hint. Limiter failures fail open: a broken
// limiter must not take down the request path.
func RateLimiter(limiter admission.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := util.ClientID(c)
		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), clientID)
		if err != nil {
			logger.Error("Rate limiting failed, allowing request",
				zap.Error(err),
				zap.String("client", clientID))
			c.Next()
			return
		}

		if !allowed {
			logger.Warn("Rate limit exceeded",
				zap.String("client", clientID),
				zap.Duration("retryAfter", retryAfter))
			c.Header("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())+1))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      auth_errors.ErrRateLimited.Error(),
				"retryAfter": retryAfter.String(),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
