package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/wonny/stratstats/internal/api/handlers"
	"github.com/wonny/stratstats/pkg/logger"
	"github.com/wonny/stratstats/pkg/redis"
)

// UploadLimiter caps bulk uploads per client.
// Redis enforces a shared sliding window when enabled; otherwise each
// process keeps token buckets per client.
type UploadLimiter struct {
	perMinute int
	redis     *redis.RateLimiter
	local     *gocache.Cache
	logger    *logger.Logger
}

// NewUploadLimiter creates a limiter; perMinute <= 0 disables it
func NewUploadLimiter(perMinute int, rl *redis.RateLimiter, log *logger.Logger) *UploadLimiter {
	return &UploadLimiter{
		perMinute: perMinute,
		redis:     rl,
		// idle buckets are forgotten after 10 minutes
		local:  gocache.New(10*time.Minute, 20*time.Minute),
		logger: log.Component("ratelimit"),
	}
}

// Allow reports whether the client may upload now
func (l *UploadLimiter) Allow(ctx context.Context, clientKey string) bool {
	if l == nil || l.perMinute <= 0 {
		return true
	}

	if l.redis != nil && l.redis.Enabled() {
		allowed, _, err := l.redis.Allow(ctx, redis.UploadRateLimit(clientKey, l.perMinute))
		if err == nil {
			return allowed
		}
		l.logger.WithError(err).Warn("Redis rate limit failed, using in-process limiter")
	}

	return l.bucket(clientKey).Allow()
}

func (l *UploadLimiter) bucket(clientKey string) *rate.Limiter {
	if v, ok := l.local.Get(clientKey); ok {
		l.local.SetDefault(clientKey, v)
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)
	if err := l.local.Add(clientKey, limiter, gocache.DefaultExpiration); err != nil {
		// lost the race; use the stored bucket
		if v, ok := l.local.Get(clientKey); ok {
			return v.(*rate.Limiter)
		}
	}
	return limiter
}

// Middleware rejects over-limit requests with 429
func (l *UploadLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(r.Context(), clientKey(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(60))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"Upload rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller: the gateway member id, else the remote address
func clientKey(r *http.Request) string {
	if id := r.Header.Get(handlers.HeaderMemberID); id != "" {
		return "member:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
