package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter decides whether the request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// MemoryLimiter is a per-process sliding window limiter. The previous window
// is weighted by how much of it overlaps the sliding window.
type MemoryLimiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	entries map[string]*windowCount
}

type windowCount struct {
	prev, curr float64
	prevStart  time.Time
	currStart  time.Time
}

// NewMemoryLimiter creates a MemoryLimiter. Stale entries are evicted every
// two windows until ctx is done.
func NewMemoryLimiter(ctx context.Context, limit int, window time.Duration) *MemoryLimiter {
	l := &MemoryLimiter{max: limit, window: window, entries: make(map[string]*windowCount)}
	go func() {
		ticker := time.NewTicker(2 * window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.evict(now)
			}
		}
	}()
	return l
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &windowCount{currStart: now.Truncate(l.window)}
		l.entries[key] = e
	}
	if now.Sub(e.currStart) >= l.window {
		e.prev, e.prevStart = e.curr, e.currStart
		e.curr, e.currStart = 0, now.Truncate(l.window)
		if now.Sub(e.prevStart) >= 2*l.window {
			e.prev = 0
		}
	}

	overlap := max(1-now.Sub(e.currStart).Seconds()/l.window.Seconds(), 0)
	count := e.prev*overlap + e.curr
	d := Decision{Limit: l.max, Reset: e.currStart.Add(l.window)}
	if count >= float64(l.max) {
		return d, nil
	}
	e.curr++
	d.Allowed = true
	d.Remaining = max(int(float64(l.max)-count-1), 0)
	return d, nil
}

func (l *MemoryLimiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.entries {
		if now.Sub(e.currStart) >= 2*l.window {
			delete(l.entries, key)
		}
	}
}

// RedisLimiter is a fixed window limiter shared by every replica.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	max    int
	window time.Duration
}

// NewRedisLimiter creates a RedisLimiter storing counters under prefix.
func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "checkout:ratelimit:"
	}
	return &RedisLimiter{client: client, prefix: prefix, max: limit, window: window}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	start := now.Truncate(l.window)
	k := l.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	if _, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.PExpire(ctx, k, l.window)
		return nil
	}); err != nil {
		return Decision{}, errors.Wrap(err, "rate limit counter")
	}

	count := int(incr.Val())
	return Decision{
		Allowed:   count <= l.max,
		Limit:     l.max,
		Remaining: max(l.max-count, 0),
		Reset:     start.Add(l.window),
	}, nil
}

// KeyFunc extracts the rate limit key from a request.
type KeyFunc func(*http.Request) string

// RateLimit rejects requests over the limit with 429. Every response carries
// the X-RateLimit-* headers. Limiter errors let the request through.
func RateLimit(l Limiter, key KeyFunc) Middleware {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			d, err := l.Allow(r.Context(), key(r), now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
			if !d.Allowed {
				retry := max(d.Reset.Sub(now), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"code":"rate_limited","message":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP keys requests by the first X-Forwarded-For hop, X-Real-IP or the
// remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
