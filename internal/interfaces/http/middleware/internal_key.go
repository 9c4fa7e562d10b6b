package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"dotpay.backend/internal/interfaces/http/response"
)

// InternalKeyHeader carries the operator credential for internal endpoints.
const InternalKeyHeader = "X-DotPay-Internal-Key"

// InternalKeyMiddleware guards operator endpoints with a shared API key,
// accepted either in the dedicated header or as a bearer token.
func InternalKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			response.ErrorWithStatus(c, 500, "internal API key is not configured")
			c.Abort()
			return
		}

		provided := c.GetHeader(InternalKeyHeader)
		if provided == "" {
			provided = strings.TrimPrefix(c.GetHeader(AuthorizationHeader), BearerPrefix)
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			response.ErrorWithStatus(c, 401, "invalid internal API key")
			c.Abort()
			return
		}
		c.Next()
	}
}
