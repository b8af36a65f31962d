package web

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type keyLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter hands out one token bucket per key. Buckets idle for twice the
// cleanup interval are dropped.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	cleanup time.Duration

	mu       sync.RWMutex
	limiters map[string]*keyLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPerMinuteLimiter allows perMin requests per key per minute, all of which
// may arrive at once.
func NewPerMinuteLimiter(perMin int) *RateLimiter {
	return NewRateLimiter(rate.Limit(float64(perMin)/60), perMin, 5*time.Minute)
}

func NewRateLimiter(limit rate.Limit, burst int, cleanup time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limit:    limit,
		burst:    burst,
		cleanup:  cleanup,
		limiters: make(map[string]*keyLimiter),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) Allow(key string) bool {
	return rl.get(key).Allow()
}

func (rl *RateLimiter) Middleware(keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if !rl.Allow(key) {
				slog.Warn("rate limit exceeded", slog.String("key", key), slog.String("path", r.URL.Path))
				retry := int(math.Ceil(1 / float64(rl.limit)))
				w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
				writeAPIError(w, http.StatusTooManyRequests, errRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.RLock()
	kl, ok := rl.limiters[key]
	rl.mu.RUnlock()
	if ok {
		rl.mu.Lock()
		kl.lastAccess = now
		rl.mu.Unlock()
		return kl.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	// double check
	if kl, ok := rl.limiters[key]; ok {
		kl.lastAccess = now
		return kl.limiter
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters[key] = &keyLimiter{limiter: l, lastAccess: now}
	return l
}

func (rl *RateLimiter) cleanupLoop() {
	t := time.NewTicker(rl.cleanup)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			rl.evict(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evict(now time.Time) {
	ttl := 2 * rl.cleanup
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, kl := range rl.limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(rl.limiters, k)
		}
	}
}
