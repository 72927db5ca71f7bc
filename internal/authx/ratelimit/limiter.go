// Package ratelimit enforces sliding-window limits on MFA operations. The
// persistent store is the source of truth so limits hold across instances;
// a process-local limiter takes over when the store is unreachable.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ibimina/authx/internal/authx/store"
	"github.com/ibimina/authx/pkg/cryptox"
)

// Policy is one limit: at most MaxHits within Window.
type Policy struct {
	MaxHits int
	Window  time.Duration
}

// Decision is the limiter's verdict. Degraded marks decisions made by the
// in-memory fallback while the store is down.
type Decision struct {
	OK       bool
	RetryAt  time.Time
	Degraded bool
}

type Limiter struct {
	limits store.RateLimits
	logger *slog.Logger

	// fallback limiters keyed by hashed key, used only while the store
	// is unreachable. Per-instance rather than global, but never open.
	fallback sync.Map // map[string]*rate.Limiter
}

func New(limits store.RateLimits, logger *slog.Logger) *Limiter {
	return &Limiter{limits: limits, logger: logger}
}

// Apply registers a hit for key under p and reports whether it is allowed.
// The raw key never reaches storage; it is hashed first.
func (l *Limiter) Apply(ctx context.Context, key string, p Policy) Decision {
	keyHash := cryptox.FingerprintToken(key)

	hits, windowStart, err := l.limits.Consume(ctx, keyHash, p.Window)
	if err != nil {
		// Degraded-but-safe: per-instance limits instead of none at all.
		l.logger.Warn("rate limit store unavailable, falling back to in-memory limits", "err", err)
		return l.applyFallback(keyHash, p)
	}

	if hits > p.MaxHits {
		return Decision{RetryAt: windowStart.Add(p.Window)}
	}
	return Decision{OK: true}
}

func (l *Limiter) applyFallback(keyHash string, p Policy) Decision {
	limiter := l.fallbackLimiter(keyHash, p)

	if limiter.Allow() {
		return Decision{OK: true, Degraded: true}
	}

	// Peek at when the next token frees up without consuming it.
	reservation := limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()

	return Decision{RetryAt: time.Now().Add(delay), Degraded: true}
}

func (l *Limiter) fallbackLimiter(keyHash string, p Policy) *rate.Limiter {
	if v, ok := l.fallback.Load(keyHash); ok {
		return v.(*rate.Limiter)
	}

	perSecond := float64(p.MaxHits) / p.Window.Seconds()
	limiter := rate.NewLimiter(rate.Limit(perSecond), p.MaxHits)
	actual, _ := l.fallback.LoadOrStore(keyHash, limiter)
	return actual.(*rate.Limiter)
}
