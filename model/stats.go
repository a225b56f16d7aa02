// api/model/stats.go
package model

// CacheStats is the operational snapshot exposed by the tenant policy cache.
type CacheStats struct {
	Size                  int      `json:"size"`
	MaxSize               int      `json:"maxSize"`
	TenantIDs             []string `json:"tenantIds"`
	TotalEstimatedBytes   int64    `json:"totalEstimatedBytes"`
	AverageEstimatedBytes int64    `json:"averageEstimatedBytes"`
	Hits                  uint64   `json:"hits"`
	Misses                uint64   `json:"misses"`
}

// QueueStats is the operational snapshot exposed by the admission queue.
type QueueStats struct {
	TotalRequests     uint64  `json:"totalRequests"`
	QueuedRequests    uint64  `json:"queuedRequests"`
	RejectedRequests  uint64  `json:"rejectedRequests"`
	AverageWaitTimeMs float64 `json:"averageWaitTimeMs"`
	QueueLength       int     `json:"queueLength"`
	Running           int     `json:"running"`
	MaxConcurrent     int     `json:"maxConcurrent"`
	MaxQueueSize      int     `json:"maxQueueSize"`
}

// MemoryStats is the operational snapshot exposed by the memory governor.
type MemoryStats struct {
	HeapUsedBytes uint64  `json:"heapUsedBytes"`
	MaxHeapBytes  uint64  `json:"maxHeapBytes"`
	UsageRatio    float64 `json:"usageRatio"`
	PressureLevel string  `json:"pressureLevel"`
}
