package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"dotpay.backend/internal/interfaces/http/response"
	"dotpay.backend/pkg/jwt"
)

const (
	// AuthorizationHeader is the header key for authorization
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer tokens
	BearerPrefix = "Bearer "
	// UserAddressKey is the context key for the authenticated wallet address
	UserAddressKey = "user_address"
	// ScopeMpesa is the scope required on mobile-money endpoints
	ScopeMpesa = "mpesa"
)

// AuthMiddleware validates the bearer token and requires the given scope.
func AuthMiddleware(jwtService *jwt.JWTService, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthorizationHeader)
		if authHeader == "" {
			response.ErrorWithStatus(c, 401, "Authorization header is required")
			c.Abort()
			return
		}
		if !strings.HasPrefix(authHeader, BearerPrefix) {
			response.ErrorWithStatus(c, 401, "Invalid authorization format. Use: Bearer <token>")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, BearerPrefix)
		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			if err == jwt.ErrExpiredToken {
				response.ErrorWithStatus(c, 401, "Token has expired")
			} else {
				response.ErrorWithStatus(c, 401, "Invalid token")
			}
			c.Abort()
			return
		}

		if scope != "" && !claims.HasScope(scope) {
			response.ErrorWithStatus(c, 401, "Token scope does not permit this endpoint")
			c.Abort()
			return
		}

		c.Set(UserAddressKey, claims.Address)
		c.Next()
	}
}

// GetUserAddress gets the authenticated wallet address from context.
func GetUserAddress(c *gin.Context) (string, bool) {
	addr, exists := c.Get(UserAddressKey)
	if !exists {
		return "", false
	}
	s, ok := addr.(string)
	return s, ok && s != ""
}
