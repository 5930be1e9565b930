package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Limiter counts hits for a key inside a fixed window.
type Limiter interface {
	// Allow reports whether the hit is within limit and when the window resets.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

type bucket struct {
	count int
	until time.Time
}

// MemoryLimiter keeps fixed windows in process.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	per     time.Duration
	now     func() time.Time
}

func NewMemoryLimiter(limit int, per time.Duration) *MemoryLimiter {
	return &MemoryLimiter{buckets: map[string]*bucket{}, limit: limit, per: per, now: time.Now}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	b, ok := m.buckets[key]
	if !ok || now.After(b.until) {
		b = &bucket{until: now.Add(m.per)}
		m.buckets[key] = b
	}
	if b.count >= m.limit {
		return false, b.until.Sub(now), nil
	}
	b.count++
	return true, b.until.Sub(now), nil
}

// RedisLimiter shares windows across API replicas with INCR and EXPIRE.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	per    time.Duration
	prefix string
}

func NewRedisLimiter(client *redis.Client, limit int, per time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, per: per, prefix: "rl:submit:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := l.prefix + key
	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		l.client.Expire(ctx, k, l.per)
	}
	ttl, err := l.client.TTL(ctx, k).Result()
	if err != nil || ttl < 0 {
		ttl = l.per
	}
	return count <= int64(l.limit), ttl, nil
}

// RateLimit rejects callers over limit with 429. Callers are keyed by user
// when authenticated, by client IP otherwise. When primary fails the
// fallback limiter decides.
func RateLimit(limit int, primary, fallback Limiter, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := UserIDFromContext(r.Context())
			if key == "" {
				key = clientIPForRateLimit(r)
			}
			ok, reset, err := primary.Allow(r.Context(), key)
			if err != nil && fallback != nil {
				logger.Warn().Err(err).Msg("rate limit store unavailable, using in-process limiter")
				ok, reset, err = fallback.Allow(r.Context(), key)
			}
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(reset.Seconds())))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(reset.Seconds())+1))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = fmt.Fprintf(w, `{"error":{"code":"rate_limited","message":"at most %d submissions per window"}}`+"\n", limit)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIPForRateLimit(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if net.ParseIP(host) != nil {
			return host
		}
	} else if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}

	return r.RemoteAddr
}
