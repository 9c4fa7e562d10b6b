package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"dotpay.backend/internal/interfaces/http/response"
	redispkg "dotpay.backend/pkg/redis"
)

const idemUser = "0xabc0000000000000000000000000000000000001"

func setupMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	m := miniredis.RunT(t)
	redispkg.SetClient(goredis.NewClient(&goredis.Options{Addr: m.Addr()}))
	return m
}

func newIdempotencyRouter(calls *int, handlerStatus int) *gin.Engine {
	r := gin.New()
	r.POST("/initiate",
		func(c *gin.Context) { c.Set(UserAddressKey, idemUser) },
		IdempotencyMiddleware(),
		func(c *gin.Context) {
			*calls++
			if handlerStatus >= 400 {
				response.ErrorWithStatus(c, handlerStatus, "rejected")
				return
			}
			response.Success(c, handlerStatus, gin.H{"transactionId": "TXN_1"})
		})
	return r
}

func doInitiate(r *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/initiate", nil)
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotencyKeyValidation(t *testing.T) {
	setupMiniredis(t)
	calls := 0
	r := newIdempotencyRouter(&calls, http.StatusCreated)

	w := doInitiate(r, "")
	require.Equal(t, 400, w.Code)
	require.Contains(t, w.Body.String(), "Idempotency-Key header is required")

	w = doInitiate(r, "short")
	require.Equal(t, 400, w.Code)
	require.Contains(t, w.Body.String(), "Idempotency-Key must be 8-128 characters")

	w = doInitiate(r, "bad key with spaces")
	require.Equal(t, 400, w.Code)
	require.Contains(t, w.Body.String(), "Idempotency-Key contains unsupported characters")

	require.Equal(t, 0, calls)
}

func TestIdempotencyCachedReplay(t *testing.T) {
	setupMiniredis(t)
	calls := 0
	r := newIdempotencyRouter(&calls, http.StatusCreated)

	first := doInitiate(r, "idem-key-0001")
	require.Equal(t, 201, first.Code)
	require.Equal(t, 1, calls)

	second := doInitiate(r, "idem-key-0001")
	require.Equal(t, 200, second.Code)
	require.Equal(t, "true", second.Header().Get("X-Idempotency-Hit"))
	require.Equal(t, first.Body.String(), second.Body.String())
	// Handler not re-invoked on replay.
	require.Equal(t, 1, calls)
}

func TestIdempotencyInProgress(t *testing.T) {
	m := setupMiniredis(t)
	calls := 0
	r := newIdempotencyRouter(&calls, http.StatusCreated)

	require.NoError(t, m.Set("idempotency:"+idemUser+":idem-key-0001", "processing"))

	w := doInitiate(r, "idem-key-0001")
	require.Equal(t, 409, w.Code)
	require.Contains(t, w.Body.String(), "Request already in progress")
	require.Equal(t, 0, calls)
}

func TestIdempotencyLockNotAcquired(t *testing.T) {
	m := setupMiniredis(t)
	calls := 0
	r := newIdempotencyRouter(&calls, http.StatusCreated)

	// A concurrent request holds the lock but the read raced past it.
	require.NoError(t, m.Set("idempotency:"+idemUser+":idem-key-0001", "processing"))
	origGet := redisGet
	redisGet = func(ctx context.Context, key string) (string, error) {
		return "", goredis.Nil
	}
	defer func() { redisGet = origGet }()

	w := doInitiate(r, "idem-key-0001")
	require.Equal(t, 409, w.Code)
	require.Equal(t, 0, calls)
}

func TestIdempotencyFailureNotCached(t *testing.T) {
	m := setupMiniredis(t)
	calls := 0
	r := newIdempotencyRouter(&calls, http.StatusBadRequest)

	w := doInitiate(r, "idem-key-0001")
	require.Equal(t, 400, w.Code)
	require.Equal(t, 1, calls)
	// The lock is released so the client can retry.
	require.False(t, m.Exists("idempotency:"+idemUser+":idem-key-0001"))

	w = doInitiate(r, "idem-key-0001")
	require.Equal(t, 400, w.Code)
	require.Equal(t, 2, calls)
}

func TestIdempotencyRedisUnavailableFallsThrough(t *testing.T) {
	origGet, origSetNX := redisGet, redisSetNX
	redisGet = func(ctx context.Context, key string) (string, error) {
		return "", errors.New("redis down")
	}
	redisSetNX = func(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
		return false, errors.New("redis down")
	}
	defer func() { redisGet, redisSetNX = origGet, origSetNX }()

	calls := 0
	r := newIdempotencyRouter(&calls, http.StatusCreated)

	w := doInitiate(r, "idem-key-0001")
	require.Equal(t, 201, w.Code)
	require.Equal(t, 1, calls)
}
