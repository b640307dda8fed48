package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/filipexyz/beacon/internal/clock"
	"github.com/filipexyz/beacon/internal/metrics"
)

// StreamLimitConfig bounds request rates at the dev collector.
type StreamLimitConfig struct {
	// PerSecond is the sustained request rate per key.
	PerSecond float64
	// Burst is the max requests in a burst.
	Burst int
	// IdleTTL drops limiters for keys not seen for this long.
	IdleTTL time.Duration
}

// DefaultStreamLimitConfig returns the collector defaults.
func DefaultStreamLimitConfig() StreamLimitConfig {
	return StreamLimitConfig{
		PerSecond: 50,
		Burst:     100,
		IdleTTL:   10 * time.Minute,
	}
}

type keyLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// StreamLimiter keeps one token bucket per measurement stream. Idle
// buckets are swept lazily from Allow, so there is no background
// goroutine to stop.
type StreamLimiter struct {
	cfg   StreamLimitConfig
	clock clock.Clock

	mu        sync.Mutex
	limiters  map[string]*keyLimiter
	lastSweep time.Time
}

// NewStreamLimiter creates a limiter. A nil clock uses wall time.
func NewStreamLimiter(cfg StreamLimitConfig, clk clock.Clock) *StreamLimiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &StreamLimiter{
		cfg:       cfg,
		clock:     clk,
		limiters:  make(map[string]*keyLimiter),
		lastSweep: clk.Now(),
	}
}

// Allow reports whether a request for key may proceed now.
func (l *StreamLimiter) Allow(key string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	if l.cfg.IdleTTL > 0 && now.Sub(l.lastSweep) >= l.cfg.IdleTTL {
		l.sweepLocked(now)
	}
	kl, ok := l.limiters[key]
	if !ok {
		kl = &keyLimiter{limiter: rate.NewLimiter(rate.Limit(l.cfg.PerSecond), l.cfg.Burst)}
		l.limiters[key] = kl
	}
	kl.lastSeen = now
	l.mu.Unlock()

	return kl.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *StreamLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *StreamLimiter) sweepLocked(now time.Time) {
	for key, kl := range l.limiters {
		if now.Sub(kl.lastSeen) > l.cfg.IdleTTL {
			delete(l.limiters, key)
		}
	}
	l.lastSweep = now
}

// retryAfter is the whole number of seconds until one token refills.
func (l *StreamLimiter) retryAfter() string {
	if l.cfg.PerSecond <= 0 {
		return "1"
	}
	secs := int(math.Ceil(1 / l.cfg.PerSecond))
	return strconv.Itoa(max(secs, 1))
}

// StreamKey identifies the caller: the measurement stream when the query
// names one, the client IP otherwise.
func StreamKey(r *http.Request) string {
	if id := r.URL.Query().Get("measurement_id"); id != "" {
		return "stream:" + id
	}
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	return "ip:" + ip
}

func routeLabel(path string) string {
	if strings.HasPrefix(path, "/debug/") {
		return "debug"
	}
	return "collect"
}

// Limit rejects requests over the per-stream rate with 429.
func Limit(l *StreamLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := StreamKey(r)
			if l.Allow(key) {
				next.ServeHTTP(w, r)
				return
			}

			metrics.RecordCollectorRequest(routeLabel(r.URL.Path), strconv.Itoa(http.StatusTooManyRequests))
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", l.retryAfter())
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "rate limit exceeded",
				"key":   key,
			})
		})
	}
}
