package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"dotpay.backend/internal/interfaces/http/response"
)

type rateBucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter is a fixed-window per-(ip, path) limiter for the legacy
// unauthenticated endpoints.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rateBucket
	limit   int
	window  time.Duration
}

// NewRateLimiter creates a limiter allowing limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*rateBucket),
		limit:   limit,
		window:  window,
	}
}

// Middleware enforces the limit and sets Retry-After when exceeded.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP() + ":" + c.FullPath()
		now := time.Now()

		l.mu.Lock()
		bucket, ok := l.buckets[key]
		if !ok || now.After(bucket.resetAt) {
			bucket = &rateBucket{resetAt: now.Add(l.window)}
			l.buckets[key] = bucket
		}
		bucket.count++
		exceeded := bucket.count > l.limit
		retryAfter := time.Until(bucket.resetAt)
		l.mu.Unlock()

		if exceeded {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			response.ErrorWithStatus(c, http.StatusTooManyRequests, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}
