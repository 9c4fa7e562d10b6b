package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"dotpay.backend/internal/interfaces/http/response"
	"dotpay.backend/pkg/jwt"
	"dotpay.backend/pkg/logger"
)

const testSecret = "test-secret"

func TestMain(m *testing.M) {
	logger.Init("test")
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newAuthRouter(jwtService *jwt.JWTService, scope string) *gin.Engine {
	r := gin.New()
	r.GET("/protected", AuthMiddleware(jwtService, scope), func(c *gin.Context) {
		addr, _ := GetUserAddress(c)
		response.Success(c, http.StatusOK, gin.H{"address": addr})
	})
	return r
}

func doGet(t *testing.T, r *gin.Engine, path, authHeader string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set(AuthorizationHeader, authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddlewareMissingHeader(t *testing.T) {
	r := newAuthRouter(jwt.NewJWTService(testSecret, time.Hour), ScopeMpesa)

	w := doGet(t, r, "/protected", "")
	require.Equal(t, 401, w.Code)
	require.Contains(t, w.Body.String(), "Authorization header is required")
}

func TestAuthMiddlewareBadFormat(t *testing.T) {
	r := newAuthRouter(jwt.NewJWTService(testSecret, time.Hour), ScopeMpesa)

	w := doGet(t, r, "/protected", "Token abc")
	require.Equal(t, 401, w.Code)
	require.Contains(t, w.Body.String(), "Invalid authorization format")
}

func TestAuthMiddlewareExpiredToken(t *testing.T) {
	expired := jwt.NewJWTService(testSecret, -time.Minute)
	token, err := expired.GenerateToken("0xAbC0000000000000000000000000000000000001", ScopeMpesa)
	require.NoError(t, err)

	r := newAuthRouter(jwt.NewJWTService(testSecret, time.Hour), ScopeMpesa)
	w := doGet(t, r, "/protected", BearerPrefix+token)
	require.Equal(t, 401, w.Code)
	require.Contains(t, w.Body.String(), "Token has expired")
}

func TestAuthMiddlewareWrongSecret(t *testing.T) {
	other := jwt.NewJWTService("other-secret", time.Hour)
	token, err := other.GenerateToken("0xAbC0000000000000000000000000000000000001", ScopeMpesa)
	require.NoError(t, err)

	r := newAuthRouter(jwt.NewJWTService(testSecret, time.Hour), ScopeMpesa)
	w := doGet(t, r, "/protected", BearerPrefix+token)
	require.Equal(t, 401, w.Code)
	require.Contains(t, w.Body.String(), "Invalid token")
}

func TestAuthMiddlewareScopeRejected(t *testing.T) {
	svc := jwt.NewJWTService(testSecret, time.Hour)
	token, err := svc.GenerateToken("0xAbC0000000000000000000000000000000000001", "payments")
	require.NoError(t, err)

	r := newAuthRouter(svc, ScopeMpesa)
	w := doGet(t, r, "/protected", BearerPrefix+token)
	require.Equal(t, 401, w.Code)
	require.Contains(t, w.Body.String(), "Token scope does not permit this endpoint")
}

func TestAuthMiddlewareHappyPath(t *testing.T) {
	svc := jwt.NewJWTService(testSecret, time.Hour)
	token, err := svc.GenerateToken("0xAbC0000000000000000000000000000000000001", "payments mpesa")
	require.NoError(t, err)

	r := newAuthRouter(svc, ScopeMpesa)
	w := doGet(t, r, "/protected", BearerPrefix+token)
	require.Equal(t, 200, w.Code)
	// Address is lowercased by the token service.
	require.Contains(t, w.Body.String(), "0xabc0000000000000000000000000000000000001")
}

func TestAuthMiddlewareSubjectFallback(t *testing.T) {
	// Tokens issued by wallet clients may only carry the registered subject.
	now := time.Now()
	claims := jwtlib.MapClaims{
		"sub":   "0xAbC0000000000000000000000000000000000001",
		"scope": ScopeMpesa,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	r := newAuthRouter(jwt.NewJWTService(testSecret, time.Hour), ScopeMpesa)
	w := doGet(t, r, "/protected", BearerPrefix+token)
	require.Equal(t, 200, w.Code)
	require.Contains(t, w.Body.String(), "0xabc0000000000000000000000000000000000001")
}

func TestGetUserAddressMissing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := GetUserAddress(c)
	require.False(t, ok)

	c.Set(UserAddressKey, "")
	_, ok = GetUserAddress(c)
	require.False(t, ok)
}
