package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"mirsal/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// fixedWindowScript counts requests in a one-second window per caller key.
// Input: ARGV[1]=limit, ARGV[2]=window_ms. Output: 1 allowed, 0 rejected.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
    redis.call("PEXPIRE", KEYS[1], tonumber(ARGV[2]))
end
if current > tonumber(ARGV[1]) then
    return 0
end
return 1
`)

type localLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	localLimiters = &sync.Map{}
	cleanupOnce   sync.Once
)

func startLimiterCleanup() {
	cleanupOnce.Do(func() {
		ticker := time.NewTicker(10 * time.Minute)
		go func() {
			for range ticker.C {
				now := time.Now()
				localLimiters.Range(func(key, value any) bool {
					l := value.(*localLimiter)
					if now.Sub(l.lastSeen) > 10*time.Minute {
						localLimiters.Delete(key)
					}
					return true
				})
			}
		}()
	})
}

func getLocalLimiter(key string, r rate.Limit, b int) *rate.Limiter {
	startLimiterCleanup()

	val, ok := localLimiters.Load(key)
	if ok {
		l := val.(*localLimiter)
		l.lastSeen = time.Now()
		return l.limiter
	}

	l := &localLimiter{
		limiter:  rate.NewLimiter(r, b),
		lastSeen: time.Now(),
	}
	localLimiters.Store(key, l)
	return l.limiter
}

// callerKey prefers a stable device identity over the client IP, since many
// devices can sit behind one NAT.
func callerKey(c *gin.Context) string {
	if dev := c.GetHeader("X-Device-ID"); dev != "" {
		return dev
	}
	return c.ClientIP()
}

// RateLimitMiddleware bounds enqueue writes per caller using a Redis
// fixed-window counter, failing open to an in-memory limiter when Redis is
// unreachable.
func RateLimitMiddleware(rdb *redis.Client, requestsPerSecond int) gin.HandlerFunc {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}

	return func(c *gin.Context) {
		key := "mirsal:ratelimit:" + callerKey(c)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		allowed, err := fixedWindowScript.Run(ctx, rdb, []string{key},
			requestsPerSecond, 1000).Int64()

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", requestsPerSecond))

		if err != nil {
			logger.Warn("redis rate limit failed, using local fallback",
				zap.Error(err),
				zap.String("caller", callerKey(c)))

			limiter := getLocalLimiter(callerKey(c), rate.Limit(requestsPerSecond), requestsPerSecond)
			if !limiter.Allow() {
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
				return
			}
			c.Next()
			return
		}

		if allowed == 0 {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
			return
		}

		c.Next()
	}
}
