// api/router/router.go

package router

import (
	"github.com/gin-gonic/gin"

	"github.com/amanshivam/auth/admission"
	"github.com/amanshivam/auth/controller"
	"github.com/amanshivam/auth/middleware"
)

// SetupRouter wires the middleware chain: request logging, then per-source
// rate limiting, then the bounded admission queue, then the API routes. The
// stats endpoints sit outside the queue so operators can observe an
// overloaded replica.
func SetupRouter(
	controllers *controller.Controllers,
	queue *admission.Queue,
	limiter admission.Limiter,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())

	api := router.Group("/api/v1")
	if limiter != nil {
		api.Use(middleware.RateLimiter(limiter))
	}

	controllers.Stats.RegisterRoutes(api)

	guarded := api.Group("")
	guarded.Use(middleware.AdmissionQueue(queue))
	controllers.Policy.RegisterRoutes(guarded)

	return router
}
