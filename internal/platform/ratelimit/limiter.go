package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"cardgate/internal/platform/middleware"
	"cardgate/pkg/platform/httputil"
)

// Limiter applies a fixed-window per-client limit backed by Redis. A nil
// client disables limiting entirely; a Redis failure fails open so the
// public endpoint stays up when Redis is down.
type Limiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	logger *slog.Logger
}

func New(client *redis.Client, limit int, window time.Duration, prefix string, logger *slog.Logger) *Limiter {
	return &Limiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: prefix,
		logger: logger,
	}
}

// Allow reports whether the key is within its window budget.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.client == nil || l.limit <= 0 {
		return true, nil
	}
	windowKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, time.Now().Unix()/int64(l.window.Seconds()))

	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return count.Val() <= int64(l.limit), nil
}

// Middleware enforces the limit per client IP.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, err := l.Allow(r.Context(), middleware.ClientIP(r))
		if err != nil {
			l.logger.WarnContext(r.Context(), "rate limit check failed, allowing request", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(l.window.Seconds())))
			httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]string{
				"error_code":    "rate_limited",
				"error_message": "too many requests",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
