// api/controller/stats_controller.go
package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/amanshivam/auth/admission"
	"github.com/amanshivam/auth/cache"
)

// StatsController serves the operational read endpoints: cache, queue and
// memory snapshots.
type StatsController struct {
	tenantCache *cache.TenantPolicyCache
	queue       *admission.Queue
	governor    *cache.MemoryGovernor
}

func NewStatsController(tenantCache *cache.TenantPolicyCache, queue *admission.Queue, governor *cache.MemoryGovernor) *StatsController {
	return &StatsController{
		tenantCache: tenantCache,
		queue:       queue,
		governor:    governor,
	}
}

// RegisterRoutes registers the API routes
func (sc *StatsController) RegisterRoutes(r *gin.RouterGroup) {
	stats := r.Group("/stats")
	{
		stats.GET("/cache", sc.CacheStats)
		stats.GET("/queue", sc.QueueStats)
		stats.GET("/memory", sc.MemoryStats)
	}
}

func (sc *StatsController) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, sc.tenantCache.Stats())
}

func (sc *StatsController) QueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, sc.queue.GetStats())
}

func (sc *StatsController) MemoryStats(c *gin.Context) {
	c.JSON(http.StatusOK, sc.governor.Sample())
}
