// api/middleware/ratelimit.go
package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"luminacorp/api/limiter"
)

// RateLimit admits or rejects requests per client IP using the given limiter
// instance. Rejections carry retry-after metadata and are never fatal to the
// process.
func RateLimit(l *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := l.Check(c.ClientIP())

		c.Writer.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Writer.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			c.Writer.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSec))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Too many requests",
				"retryAfter": res.RetryAfterSec,
			})
			return
		}
		c.Next()
	}
}
