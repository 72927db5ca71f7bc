package httpx

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ibimina/authx/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig shapes one token bucket profile: RequestsPerWindow
// spread evenly over Window, with up to Burst requests served back to
// back.
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

// Route profiles. Challenge verification, enrollment confirmation, and
// disable sit behind StrictLimit so code guessing burns out quickly;
// ordinary management calls use ModerateLimit; read-only listings use
// LenientLimit. Each can be overridden with
// RATELIMIT_<NAME>_{REQUESTS,WINDOW_SEC,BURST}.
var (
	StrictLimit   = limitFromEnv("STRICT", RateLimitConfig{RequestsPerWindow: 5, Window: time.Minute, Burst: 5})
	ModerateLimit = limitFromEnv("MODERATE", RateLimitConfig{RequestsPerWindow: 20, Window: time.Minute, Burst: 20})
	LenientLimit  = limitFromEnv("LENIENT", RateLimitConfig{RequestsPerWindow: 100, Window: time.Minute, Burst: 100})
)

func limitFromEnv(name string, def RateLimitConfig) RateLimitConfig {
	read := func(field string, apply func(int)) {
		v := os.Getenv("RATELIMIT_" + name + "_" + field)
		if v == "" {
			return
		}
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			apply(n)
		}
	}
	read("REQUESTS", func(n int) { def.RequestsPerWindow = n })
	read("WINDOW_SEC", func(n int) { def.Window = time.Duration(n) * time.Second })
	read("BURST", func(n int) { def.Burst = n })
	return def
}

// KeyExtractor derives the bucket key for a request.
type KeyExtractor func(*http.Request) string

// IPKeyExtractor resolves the client address, honouring X-Forwarded-For
// and X-Real-IP set by the edge proxy.
func IPKeyExtractor(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// UserIDKeyExtractor keys by the authenticated user. Empty when the
// request never passed AuthnMiddleware.
func UserIDKeyExtractor(r *http.Request) string {
	uid, _ := r.Context().Value(CtxKeyUserID).(string)
	return uid
}

// buckets holds one rate.Limiter per key.
type buckets struct {
	perKey    sync.Map // string -> *rate.Limiter
	rate      rate.Limit
	burst     int
	sweepMu   sync.Mutex
	lastSweep time.Time
}

func (b *buckets) get(key string) *rate.Limiter {
	if l, ok := b.perKey.Load(key); ok {
		return l.(*rate.Limiter)
	}
	l, _ := b.perKey.LoadOrStore(key, rate.NewLimiter(b.rate, b.burst))
	b.sweep()
	return l.(*rate.Limiter)
}

// sweep drops idle buckets so one-off callers do not accumulate
// forever. A bucket back at full capacity has not been drawn from in at
// least a window.
func (b *buckets) sweep() {
	b.sweepMu.Lock()
	defer b.sweepMu.Unlock()

	if time.Since(b.lastSweep) < 5*time.Minute {
		return
	}
	b.lastSweep = time.Now()

	b.perKey.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(b.burst) {
			b.perKey.Delete(key)
		}
		return true
	})
}

// RateLimitMiddleware enforces cfg per extracted key. An empty bucket
// gets a 429 with Retry-After; a request with no derivable key passes
// through unlimited, logged so misconfigured routes show up.
func RateLimitMiddleware(cfg RateLimitConfig, key KeyExtractor) Middleware {
	b := &buckets{
		rate:      rate.Limit(float64(cfg.RequestsPerWindow) / cfg.Window.Seconds()),
		burst:     cfg.Burst,
		lastSweep: time.Now(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := slogx.FromContext(r.Context())

			k := key(r)
			if k == "" {
				log.Warn("rate limit key empty, not limiting", "path", r.URL.Path)
				next.ServeHTTP(w, r)
				return
			}

			limiter := b.get(k)
			if limiter.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			// When the next token arrives, without consuming it.
			res := limiter.Reserve()
			wait := res.Delay()
			res.Cancel()
			retryAfter := max(int(wait.Seconds()), 1)

			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Window", cfg.Window.String())

			log.Warn("rate limit exceeded",
				"key", k,
				"path", r.URL.Path,
				"retry_after", retryAfter,
			)

			WriteJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":             "rate_limit_exceeded",
				"error_description": "Too many requests. Please try again later.",
			})
		})
	}
}

// RateLimitByIP buckets by client address.
func RateLimitByIP(cfg RateLimitConfig) Middleware {
	return RateLimitMiddleware(cfg, IPKeyExtractor)
}

// RateLimitByUser buckets authenticated traffic per user, so one user
// probing from many addresses still shares a single budget. Falls back
// to the client address when authentication has not run.
func RateLimitByUser(cfg RateLimitConfig) Middleware {
	return RateLimitMiddleware(cfg, func(r *http.Request) string {
		if uid := UserIDKeyExtractor(r); uid != "" {
			return uid
		}
		return IPKeyExtractor(r)
	})
}
