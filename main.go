package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amanshivam/auth/admission"
	"github.com/amanshivam/auth/bus"
	"github.com/amanshivam/auth/cache"
	"github.com/amanshivam/auth/config"
	"github.com/amanshivam/auth/controller"
	"github.com/amanshivam/auth/dao"
	"github.com/amanshivam/auth/db"
	"github.com/amanshivam/auth/engine"
	logger "github.com/amanshivam/auth/logging"
	"github.com/amanshivam/auth/router"
	"github.com/amanshivam/auth/service"
	"github.com/amanshivam/auth/util"
)

func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	// Initialize logger
	logger.InitLogger()
	defer logger.Sync()

	// Initialize the policy store pool
	if err := db.InitStore(); err != nil {
		logger.Fatal("Failed to initialize policy store", zap.Error(err))
	}
	defer db.CloseStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Replica identity tags outbound invalidation events so this replica
	// can ignore its own notifications.
	replicaID := uuid.New().String()
	logger.Info("Starting replica", zap.String("replicaId", replicaID))

	// Invalidation broker: redis when configured and reachable, otherwise
	// a process-local broker. Broker loss costs cross-replica convergence
	// latency, never availability.
	var broker bus.Broker
	if config.GetBool("redis.enabled") {
		if err := db.InitRedis(); err != nil {
			logger.Warn("Redis unreachable, falling back to process-local invalidation", zap.Error(err))
		} else {
			defer db.CloseRedis()
			broker = bus.NewRedisBroker(db.RedisClient)
		}
	}
	if broker == nil {
		broker = bus.NewInProcessBroker()
	}
	invalidationBus := bus.NewInvalidationBus(broker, config.GetString("redis.channel"), replicaID)

	// Memory governor and tenant policy cache
	governor := cache.NewMemoryGovernor(uint64(config.GetInt("memory.maxHeapBytes")))
	tenantCache := cache.NewTenantPolicyCache(
		config.GetInt("cache.maxTenants"),
		int64(config.GetInt("cache.bytesPerRule")),
		config.GetDuration("cache.cleanupInterval"),
		engine.NewCasbinEngine,
		governor,
	)
	governor.Start(ctx, config.GetDuration("memory.sampleInterval"), func(cache.PressureLevel) {
		tenantCache.Cleanup()
	})
	tenantCache.StartCleanupLoop(ctx, config.GetDuration("cache.cleanupInterval"))

	// Initialize DAOs
	ruleDAO, err := dao.NewRuleDAO(db.StoreDB, config.GetString("store.driver"), config.GetDuration("store.timeout"))
	if err != nil {
		logger.Fatal("Failed to initialize rule DAO", zap.Error(err))
	}

	// Initialize services
	validationUtil := util.NewValidationUtil()
	policyService, err := service.NewPolicyService(ctx, ruleDAO, tenantCache, invalidationBus, validationUtil)
	if err != nil {
		logger.Fatal("Failed to initialize policy service", zap.Error(err))
	}

	// Admission control
	queue := admission.NewQueue(config.GetInt("queue.maxConcurrent"), config.GetInt("queue.maxQueueSize"))
	var limiter admission.Limiter
	if config.GetBool("ratelimit.enabled") {
		if config.GetBool("ratelimit.distributed") && db.RedisClient != nil {
			limiter = admission.NewRedisLimiter(db.RedisClient,
				config.GetInt("ratelimit.limit"), config.GetDuration("ratelimit.window"))
		} else {
			memLimiter := admission.NewSlidingWindowLimiter(
				config.GetInt("ratelimit.limit"), config.GetDuration("ratelimit.window"))
			memLimiter.StartPruner(ctx, config.GetDuration("ratelimit.window"))
			limiter = memLimiter
		}
	}

	// Initialize controllers
	controllers := &controller.Controllers{
		Policy: controller.NewPolicyController(policyService),
		Stats:  controller.NewStatsController(tenantCache, queue, governor),
	}

	// Set up Gin
	gin.SetMode(gin.ReleaseMode)
	engineRouter := router.SetupRouter(controllers, queue, limiter)

	// Set up the server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", config.GetString("server.port")),
		Handler: engineRouter,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info("Starting server", zap.String("port", config.GetString("server.port")))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}
