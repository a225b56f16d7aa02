// api/middleware/admission_queue.go

package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/amanshivam/auth/admission"
	auth_errors "github.com/amanshivam/auth/errors"
)

// AdmissionQueue routes every request through the bounded concurrency queue.
// The handler chain runs on the request goroutine once a slot is granted; a
// full queue answers 503 with a retry hint instead of queueing unboundedly.
func AdmissionQueue(queue *admission.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, err := queue.Submit(c.Request.Context(), func() (interface{}, error) {
			c.Next()
			return nil, nil
		})
		if err == nil {
			return
		}
		if errors.Is(err, auth_errors.ErrQueueFull) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "server busy, retry later",
			})
			return
		}
		// Context cancelled while queued; the client is gone.
		c.Abort()
	}
}
