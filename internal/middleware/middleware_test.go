package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-lpr/internal/auth"
	"github.com/technosupport/ts-lpr/internal/ratelimit"
	"github.com/technosupport/ts-lpr/internal/tokens"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestJWTAuthHappyPath(t *testing.T) {
	mgr := tokens.NewManager("test-key")
	blacklist := auth.NewRedisBlacklist(testRedis(t))
	mw := NewJWTAuth(mgr, blacklist)

	tok, err := mgr.GenerateAccessToken("7")
	require.NoError(t, err)

	var gotUser string
	h := mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := GetAuthContext(r.Context())
		require.True(t, ok)
		gotUser = ac.UserID
	}))

	req := httptest.NewRequest("GET", "/api/v1/lprs", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "7", gotUser)
}

func TestJWTAuthRejects(t *testing.T) {
	mgr := tokens.NewManager("test-key")
	blacklist := auth.NewRedisBlacklist(testRedis(t))
	mw := NewJWTAuth(mgr, blacklist)
	h := mw.Middleware(okHandler())

	refresh, err := mgr.GenerateRefreshToken("7")
	require.NoError(t, err)

	cases := map[string]string{
		"missing header": "",
		"bad scheme":     "Basic abc",
		"garbage token":  "Bearer not-a-jwt",
		"refresh token":  "Bearer " + refresh,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/lprs", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestJWTAuthBlacklistedToken(t *testing.T) {
	mgr := tokens.NewManager("test-key")
	blacklist := auth.NewRedisBlacklist(testRedis(t))
	mw := NewJWTAuth(mgr, blacklist)

	tok, err := mgr.GenerateAccessToken("7")
	require.NoError(t, err)
	claims, err := mgr.ValidateToken(tok)
	require.NoError(t, err)
	require.NoError(t, blacklist.AddToBlacklist(context.Background(), claims.ID, time.Hour))

	req := httptest.NewRequest("GET", "/api/v1/lprs", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	mw.Middleware(okHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGlobalLimiterBlocksAfterLimit(t *testing.T) {
	limiter := ratelimit.NewLimiter(testRedis(t), "salt")
	mw := NewRateLimitMiddleware(limiter,
		ratelimit.LimitConfig{Rate: 3, Window: time.Minute},
		ratelimit.LimitConfig{Rate: 1, Window: time.Minute},
	)
	h := mw.GlobalLimiter(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/lprs", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/lprs", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestGlobalLimiterRedisDown(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	srv.Close()

	limiter := ratelimit.NewLimiter(client, "salt")
	mw := NewRateLimitMiddleware(limiter,
		ratelimit.LimitConfig{Rate: 3, Window: time.Minute},
		ratelimit.LimitConfig{Rate: 1, Window: time.Minute},
	)
	h := mw.GlobalLimiter(okHandler())

	// API paths fail open.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/lprs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Auth paths fail closed.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/auth/login", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLoginLimiter(t *testing.T) {
	limiter := ratelimit.NewLimiter(testRedis(t), "salt")
	mw := NewRateLimitMiddleware(limiter,
		ratelimit.LimitConfig{Rate: 100, Window: time.Minute},
		ratelimit.LimitConfig{Rate: 2, Window: 15 * time.Minute},
	)
	h := mw.LoginLimiter(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/auth/login", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/auth/login", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
