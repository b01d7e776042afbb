package middlewares

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter allows limit requests per client IP within period. Without a
// Redis client, or when Redis fails, requests pass through.
func RateLimiter(client *redis.Client, limit int64, period time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if client == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := "rate_limit:" + c.FullPath() + ":" + c.ClientIP()

		count, err := client.Incr(ctx, key).Result()
		if err != nil {
			logger.Warn("Rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if count == 1 {
			if err := client.Expire(ctx, key, period).Err(); err != nil {
				logger.Warn("Failed to set rate limit window", zap.String("key", key), zap.Error(err))
			}
		}

		if count > limit {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Status:    http.StatusTooManyRequests,
				Message:   "Too many requests",
				ErrorCode: "RATE_LIMITED",
				Timestamp: time.Now().UTC(),
				Path:      c.Request.URL.Path,
				Method:    c.Request.Method,
			})
			return
		}
		c.Next()
	}
}
