package middleware

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"coworkspace/internal/cache"
	"coworkspace/internal/pkg/response"
)

// RateLimit counts requests per authenticated user, or per client IP for anonymous calls.
// Redis errors let the request through.
func RateLimit(limiter *cache.RateLimiter, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		subject := scope + ":ip:" + c.ClientIP()
		if id := UserID(c); id != uuid.Nil {
			subject = scope + ":user:" + id.String()
		}

		allowed, count, err := limiter.Allow(c.Request.Context(), subject)
		if err != nil {
			log.Printf("level=warn msg=rate limiter unavailable subject=%s err=%v", subject, err)
		}

		remaining := limiter.Limit() - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.FormatInt(limiter.Limit(), 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if !allowed {
			response.Abort(c, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, try again later")
			return
		}
		c.Next()
	}
}
