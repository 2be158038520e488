package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/storyline/internal/ratelimit"
	"github.com/d60-Lab/storyline/pkg/response"
)

// RateLimit 按用户限流，未登录时按客户端 IP
func RateLimit(limiter *ratelimit.KeyedLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := CurrentUserID(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !limiter.Allow(key) {
			response.TooManyRequests(c)
			return
		}
		c.Next()
	}
}
