package store

import (
	"context"
	"errors"
	"time"

	"github.com/ibimina/authx/internal/authx/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict reports a conditional update whose precondition no longer
	// held (e.g. concurrent backup-code consumption).
	ErrConflict = errors.New("store: conflict")
)

// Store is the root data access interface. Concrete drivers (sqlite)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable.
type Store interface {
	MFAStates() MFAStates
	TrustedDevices() TrustedDevices
	OTPCodes() OTPCodes
	RateLimits() RateLimits
	AuditEvents() AuditEvents
	PasskeyCredentials() PasskeyCredentials

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources (optional for sqlite).
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type MFAStates interface {
	// Get returns the MFA state for a user, ErrNotFound if none exists.
	Get(ctx context.Context, userID string) (domain.UserMFAState, error)

	// Upsert writes the full state row, creating it if absent.
	Upsert(ctx context.Context, st domain.UserMFAState) error

	// ReplaceBackupHashes swaps the backup hash list conditionally on the
	// previously read list. Returns ErrConflict when the stored list no
	// longer matches prev, so concurrent consumers never both succeed.
	ReplaceBackupHashes(ctx context.Context, userID string, prev, next []string) error

	// RecordVerifySuccess updates only the fields a successful
	// verification owns: the failure counter, last success time, enrolled
	// methods, and the TOTP step cursor. Backup hashes and enrollment
	// fields are never written, so a concurrent redemption or disable is
	// not overwritten with stale state. The cursor never regresses; pass
	// a negative step to leave it untouched. Returns ErrConflict when the
	// user is no longer enabled.
	RecordVerifySuccess(ctx context.Context, userID string, at time.Time, methods []domain.FactorKind, step int64) error

	// IncrementFailedCount bumps the failure counter.
	IncrementFailedCount(ctx context.Context, userID string) error

	// Reset clears the row to the no-factors state. The row itself is
	// never deleted.
	Reset(ctx context.Context, userID string) error
}

type TrustedDevices interface {
	Create(ctx context.Context, d domain.TrustedDevice) error
	Get(ctx context.Context, userID, deviceID string) (domain.TrustedDevice, error)
	ListByUser(ctx context.Context, userID string) ([]domain.TrustedDevice, error)

	// TouchLastUsed bumps last_used_at on successful trusted-device checks.
	TouchLastUsed(ctx context.Context, userID, deviceID string, at time.Time) error

	Delete(ctx context.Context, userID, deviceID string) error
	DeleteAllForUser(ctx context.Context, userID string) error

	// DeleteIdle removes devices unused since the cutoff (housekeeping).
	DeleteIdle(ctx context.Context, cutoff time.Time) error
}

type OTPCodes interface {
	Create(ctx context.Context, c domain.OTPCode) error

	// LatestActive returns the newest unconsumed, unexpired code for a
	// user+channel, ErrNotFound when none.
	LatestActive(ctx context.Context, userID string, channel domain.FactorKind) (domain.OTPCode, error)

	// Consume marks a code consumed. Returns ErrConflict when the code was
	// already consumed by a concurrent request.
	Consume(ctx context.Context, id string) error

	// DeleteExpired removes expired and consumed codes (housekeeping).
	DeleteExpired(ctx context.Context) error
}

type RateLimits interface {
	// Consume atomically registers a hit against a hashed bucket key and
	// reports the resulting count and window start. A single statement;
	// correct under concurrent hits on the same key.
	Consume(ctx context.Context, keyHash string, window time.Duration) (hitCount int, windowStart time.Time, err error)

	// DeleteStale removes buckets whose window ended before the cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) error
}

type AuditEvents interface {
	// Append writes one audit row. Insert-only; no update or delete exists.
	Append(ctx context.Context, e domain.AuditEvent) error

	// ListByUser returns the newest events for a user, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.AuditEvent, error)
}

type PasskeyCredentials interface {
	Create(ctx context.Context, c domain.PasskeyCredential) error
	ListByUser(ctx context.Context, userID string) ([]domain.PasskeyCredential, error)

	// Update rewrites the credential blob (sign count bumps) and last_used_at.
	Update(ctx context.Context, c domain.PasskeyCredential) error

	DeleteAllForUser(ctx context.Context, userID string) error
}
