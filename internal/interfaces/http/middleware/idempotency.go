package middleware

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dotpay.backend/internal/interfaces/http/response"
	"dotpay.backend/internal/usecases"
	"dotpay.backend/pkg/redis"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	// LockDuration is the time the lock is held while processing
	LockDuration = 30 * time.Second
	// RetentionDuration is how long the cached response is kept
	RetentionDuration = 24 * time.Hour
)

var (
	redisGet   = redis.Get
	redisSet   = redis.Set
	redisSetNX = redis.SetNX
	redisDel   = redis.Del
)

type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware requires a well-formed Idempotency-Key on initiate
// endpoints and replays the cached response of a completed request with the
// same key. The database unique index remains the authoritative guard; the
// cache only short-circuits obvious replays.
func IdempotencyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if err := usecases.ValidateIdempotencyKey(key); err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		userAddress, _ := GetUserAddress(c)
		storageKey := fmt.Sprintf("idempotency:%s:%s", userAddress, key)
		ctx := c.Request.Context()

		val, err := redisGet(ctx, storageKey)
		if err == nil {
			if val == "processing" {
				response.ErrorWithStatus(c, http.StatusConflict, "Request already in progress")
				c.Abort()
				return
			}
			c.Header("Content-Type", "application/json")
			c.Header("X-Idempotency-Hit", "true")
			c.String(http.StatusOK, val)
			c.Abort()
			return
		}

		acquired, err := redisSetNX(ctx, storageKey, "processing", LockDuration)
		if err != nil {
			// Redis unavailable: fall through, the unique index still holds.
			c.Next()
			return
		}
		if !acquired {
			response.ErrorWithStatus(c, http.StatusConflict, "Request already in progress")
			c.Abort()
			return
		}

		w := &responseWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
		c.Writer = w

		c.Next()

		if c.Writer.Status() >= 200 && c.Writer.Status() < 300 {
			_ = redisSet(ctx, storageKey, w.body.String(), RetentionDuration)
		} else {
			_ = redisDel(ctx, storageKey)
		}
	}
}
