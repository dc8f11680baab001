package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces a per-IP sliding-window request limit backed by
// Redis, adapted from api/internal/delivery/http/middleware/rate_limiter.go.
// maxRequests is the cap per minute per client IP. A nil rdb (or a Redis
// outage) fails open: submission must keep working even if the rate
// limiter's own backing store is down.
func RateLimiter(rdb *redis.Client, maxRequests int) gin.HandlerFunc {
	window := time.Minute

	return func(c *gin.Context) {
		if rdb == nil {
			c.Next()
			return
		}

		ip := c.ClientIP()
		key := fmt.Sprintf("pond:ratelimit:%s", ip)
		now := time.Now()
		nowScore := float64(now.UnixNano())
		windowStart := float64(now.Add(-window).UnixNano())

		ctx := context.Background()
		pipe := rdb.Pipeline()
		pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%f", windowStart))
		countCmd := pipe.ZCard(ctx, key)
		pipe.ZAdd(ctx, key, redis.Z{Score: nowScore, Member: nowScore})
		pipe.Expire(ctx, key, window+time.Second)

		if _, err := pipe.Exec(ctx); err != nil {
			c.Next()
			return
		}

		count := countCmd.Val()
		if count >= int64(maxRequests) {
			rdb.ZRemRangeByScore(ctx, key, fmt.Sprintf("%f", nowScore), fmt.Sprintf("%f", nowScore))
			c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": fmt.Sprintf("rate limit exceeded: max %d requests/minute", maxRequests),
			})
			return
		}

		remaining := int64(maxRequests) - count - 1
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		c.Next()
	}
}
