// Package replay prevents reuse of an already-verified TOTP step. The
// guard is per-process; the persisted last-verified-step cursor narrows
// the cross-instance gap.
package replay

import (
	"fmt"
	"sync"
	"time"

	"github.com/ibimina/authx/pkg/cryptox"
)

// Guard records first use of a (user, step) pair. FirstUse returns true
// exactly once per pair within the entry TTL.
type Guard interface {
	FirstUse(userID string, step int64) bool
}

// defaultTTL is slightly above one TOTP period times the accepted drift
// window, so an entry outlives every moment its step could still verify.
const defaultTTL = 90 * time.Second

// pruneThreshold triggers a full sweep of expired entries.
const pruneThreshold = 1024

type MemoryGuard struct {
	mu      sync.Mutex
	entries map[string]time.Time // key hash -> expiry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryGuard{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// FirstUse reports whether (userID, step) has not been seen within the
// TTL, recording it as seen. Raw user ids never appear as map keys.
func (g *MemoryGuard) FirstUse(userID string, step int64) bool {
	key := cryptox.FingerprintToken(fmt.Sprintf("%s:%d", userID, step))
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if expiry, ok := g.entries[key]; ok && now.Before(expiry) {
		return false
	}

	if len(g.entries) >= pruneThreshold {
		g.prune(now)
	}

	g.entries[key] = now.Add(g.ttl)
	return true
}

// prune removes expired entries. Caller holds the lock.
func (g *MemoryGuard) prune(now time.Time) {
	for k, expiry := range g.entries {
		if !now.Before(expiry) {
			delete(g.entries, k)
		}
	}
}
