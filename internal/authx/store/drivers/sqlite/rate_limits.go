package sqlite

import (
	"context"
	"time"
)

type rateLimitsRepo struct {
	db dbtx
}

// Consume registers a hit in one atomic UPSERT. The bucket's window resets
// when the previous window has fully elapsed; otherwise the counter grows.
// Window starts are stored as unix seconds so the reset comparison is pure
// integer arithmetic inside the statement.
func (r *rateLimitsRepo) Consume(ctx context.Context, keyHash string, window time.Duration) (int, time.Time, error) {
	now := time.Now().UTC().Unix()
	windowSec := int64(window.Seconds())

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO rate_limit_buckets (key_hash, hit_count, window_start)
		VALUES (?, 1, ?)
		ON CONFLICT(key_hash) DO UPDATE SET
			hit_count    = CASE WHEN ? - window_start >= ? THEN 1 ELSE hit_count + 1 END,
			window_start = CASE WHEN ? - window_start >= ? THEN ? ELSE window_start END
		RETURNING hit_count, window_start`,
		keyHash, now,
		now, windowSec,
		now, windowSec, now)

	var (
		hitCount    int
		windowStart int64
	)
	if err := row.Scan(&hitCount, &windowStart); err != nil {
		return 0, time.Time{}, err
	}
	return hitCount, time.Unix(windowStart, 0).UTC(), nil
}

func (r *rateLimitsRepo) DeleteStale(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM rate_limit_buckets WHERE window_start < ?`, cutoff.UTC().Unix())
	return err
}
