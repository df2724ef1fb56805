package middleware

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/technosupport/ts-lpr/internal/ratelimit"
)

type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter
	global  ratelimit.LimitConfig
	login   ratelimit.LimitConfig
}

func NewRateLimitMiddleware(l *ratelimit.Limiter, global, login ratelimit.LimitConfig) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: l, global: global, login: login}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host
}

// GlobalLimiter applies the per-IP limit to every request. Redis outages
// fail open for the API and closed for the auth endpoints.
func (m *RateLimitMiddleware) GlobalLimiter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := fmt.Sprintf("rl:ip:%s", m.limiter.HashIP(clientIP(r)))

		decision, err := m.limiter.CheckRateLimit(r.Context(), key, m.global)
		if err != nil {
			if strings.HasPrefix(r.URL.Path, "/api/v1/auth/") {
				log.Printf("[ERROR] RateLimit: redis unavailable on auth path, failing closed: %v", err)
				http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
				return
			}
			log.Printf("[WARN] RateLimit: redis unavailable, failing open: %v", err)
			next.ServeHTTP(w, r)
			return
		}

		if !decision.Allowed {
			m.writeRateLimitHeaders(w, decision)
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// LoginLimiter wraps the login handler with a tighter per-IP window so
// credential stuffing hits the wall before credential validation runs.
func (m *RateLimitMiddleware) LoginLimiter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := fmt.Sprintf("rl:login:%s", m.limiter.HashIP(clientIP(r)))

		decision, err := m.limiter.CheckRateLimit(r.Context(), key, m.login)
		if err != nil {
			log.Printf("[ERROR] RateLimit: redis unavailable on login, failing closed: %v", err)
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
			return
		}
		if !decision.Allowed {
			m.writeRateLimitHeaders(w, decision)
			http.Error(w, "Too many login attempts", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) writeRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}
