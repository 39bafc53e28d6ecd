package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/glimpse/backend/internal/logging"
)

// RateLimiter decides whether a client may perform another request within
// a scope such as "auth".
type RateLimiter interface {
	Allow(scope, client string) bool
}

type bucketKey struct {
	scope  string
	client string
}

type bucket struct {
	tokens *rate.Limiter
	used   time.Time
}

// ClientLimiter keeps one token bucket per scope and client. A bucket idle
// long enough to refill completely is dropped, since a fresh bucket behaves
// the same.
type ClientLimiter struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	every   rate.Limit
	burst   int
	idle    time.Duration
	swept   time.Time
	now     func() time.Time
}

// NewClientLimiter allows requests per window for each client with the given
// burst on top.
func NewClientLimiter(requests int, window time.Duration, burst int) *ClientLimiter {
	requests = max(requests, 1)
	burst = max(burst, 1)
	if window <= 0 {
		window = time.Second
	}
	interval := window / time.Duration(requests)
	return &ClientLimiter{
		buckets: make(map[bucketKey]*bucket),
		every:   rate.Every(interval),
		burst:   burst,
		idle:    interval * time.Duration(burst),
		now:     time.Now,
	}
}

// Allow spends one token from the client's bucket in scope.
func (l *ClientLimiter) Allow(scope, client string) bool {
	if client == "" {
		client = "unknown"
	}
	now := l.now()
	key := bucketKey{scope: scope, client: client}

	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.swept) >= l.idle {
		l.sweep(now)
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}
	b.used = now
	return b.tokens.AllowN(now, 1)
}

func (l *ClientLimiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.used) >= l.idle {
			delete(l.buckets, key)
		}
	}
	l.swept = now
}

// RateLimit rejects requests with 429 once the client IP exceeds limiter
// within scope. A nil limiter allows everything.
func RateLimit(limiter RateLimiter, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			client := ClientIP(r)
			if !limiter.Allow(scope, client) {
				logging.FromContext(r.Context()).Warn("rate limit exceeded", "scope", scope, "client", client)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP prefers the first X-Forwarded-For hop over the peer address.
func ClientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
