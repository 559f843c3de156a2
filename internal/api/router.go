package api

import (
	"mirsal/internal/metrics"
	"mirsal/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type RouterConfig struct {
	SigningKey        string
	RequestsPerSecond int
}

func RegisterRoutes(queueHandler *QueueHandler, streamHandler *StreamHandler, auditHandler *AuditHandler, rdb *redis.Client, cfg RouterConfig) *gin.Engine {
	r := gin.New()

	r.Use(
		middleware.CorsMiddleware(),
		middleware.RequestID(),
		middleware.GinZapLogger(),
		middleware.GinZapRecovery(),
		middleware.HttpMiddleware(),
		middleware.TraceMiddleware(),
	)
	r.SetTrustedProxies(nil)

	r.GET("/health", queueHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Write limiter only when redis is configured; the agent must keep
	// capturing requests without it.
	var writeLimiter gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if rdb != nil {
		writeLimiter = middleware.RateLimitMiddleware(rdb, cfg.RequestsPerSecond)
	}

	q := r.Group("/v1/queue")
	{
		q.POST("/requests", writeLimiter, queueHandler.Enqueue)
		q.GET("/requests", queueHandler.Pending)
		q.GET("/requests/:id", queueHandler.GetRequest)
		q.DELETE("/requests/:id", queueHandler.DeleteRequest)
		q.POST("/drain", queueHandler.Drain)
		q.GET("/stats", queueHandler.Stats)
		q.DELETE("/completed", queueHandler.ClearCompleted)
		q.GET("/watch", streamHandler.Watch)
	}

	admin := r.Group("/v1/admin")
	admin.Use(middleware.AdminAuthMiddleware(cfg.SigningKey))
	{
		admin.GET("/audits", auditHandler.List)
	}

	return r
}
