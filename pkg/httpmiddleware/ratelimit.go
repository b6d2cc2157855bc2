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

	"github.com/go-faster/jx"
)

// RateLimitConfig configures the sliding window limiter.
type RateLimitConfig struct {
	// Max requests per Window for one key. Zero disables limiting.
	Max    int
	Window time.Duration
	// Key extracts the limiter key. Defaults to ClientIP.
	Key func(*http.Request) string
	// Match selects the requests that count against the limit. Nil matches all.
	Match func(*http.Request) bool
}

// window holds counters for the current and previous fixed window of a key.
type window struct {
	prev      float64
	curr      float64
	currStart time.Time
}

type limiter struct {
	cfg  RateLimitConfig
	now  func() time.Time
	mu   sync.Mutex
	keys map[string]*window
}

func newLimiter(cfg RateLimitConfig, now func() time.Time) *limiter {
	if cfg.Key == nil {
		cfg.Key = ClientIP
	}
	return &limiter{cfg: cfg, now: now, keys: make(map[string]*window)}
}

// take counts one request for key. The previous window is weighted by how
// much of it still overlaps the sliding window ending now.
func (l *limiter) take(key string) (remaining int, reset time.Time, ok bool) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, found := l.keys[key]
	if !found {
		w = &window{currStart: now.Truncate(l.cfg.Window)}
		l.keys[key] = w
	}
	if elapsed := now.Sub(w.currStart); elapsed >= l.cfg.Window {
		if elapsed >= 2*l.cfg.Window {
			w.prev = 0
		} else {
			w.prev = w.curr
		}
		w.curr = 0
		w.currStart = now.Truncate(l.cfg.Window)
	}

	overlap := max(0, 1-now.Sub(w.currStart).Seconds()/l.cfg.Window.Seconds())
	used := w.prev*overlap + w.curr
	reset = w.currStart.Add(l.cfg.Window)
	if used >= float64(l.cfg.Max) {
		return 0, reset, false
	}
	w.curr++
	return max(0, int(float64(l.cfg.Max)-used-1)), reset, true
}

// evict drops keys idle for two full windows.
func (l *limiter) evict() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.keys {
		if now.Sub(w.currStart) >= 2*l.cfg.Window {
			delete(l.keys, key)
		}
	}
}

func (l *limiter) runEviction(ctx context.Context) {
	ticker := time.NewTicker(2 * l.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict()
		}
	}
}

// RateLimit enforces a per-key sliding window limit on matching requests,
// answering 429 with a Retry-After header once it is exhausted. Idle keys are
// evicted in the background until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	if cfg.Max <= 0 || cfg.Window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := newLimiter(cfg, time.Now)
	go l.runEviction(ctx)
	return l.middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.cfg.Match != nil && !l.cfg.Match(r) {
			next.ServeHTTP(w, r)
			return
		}

		remaining, reset, ok := l.take(l.cfg.Key(r))
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		retry := max(0, reset.Sub(l.now()))
		h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
		h.Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)

		var e jx.Encoder
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(http.StatusTooManyRequests) })
			e.Field("message", func(e *jx.Encoder) { e.Str("rate limit exceeded") })
		})
		_, _ = w.Write(e.Bytes())
	})
}

// HeaderKey keys requests by the given header, falling back to ClientIP when
// it is absent.
func HeaderKey(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		if v := r.Header.Get(header); v != "" {
			return header + ":" + v
		}
		return ClientIP(r)
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote
// address host, in that order.
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
