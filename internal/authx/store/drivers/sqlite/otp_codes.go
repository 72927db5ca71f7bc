package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/internal/authx/store"
)

type otpCodesRepo struct {
	db dbtx
}

func (r *otpCodesRepo) Create(ctx context.Context, c domain.OTPCode) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO otp_codes (id, user_id, channel, code_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, string(c.Channel), c.CodeHash, c.ExpiresAt.UTC(), time.Now().UTC())
	return err
}

func (r *otpCodesRepo) LatestActive(ctx context.Context, userID string, channel domain.FactorKind) (domain.OTPCode, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, channel, code_hash, expires_at, consumed_at, created_at
		FROM otp_codes
		WHERE user_id = ? AND channel = ? AND consumed_at IS NULL AND expires_at > ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, userID, string(channel), time.Now().UTC())

	var (
		c          domain.OTPCode
		ch         string
		consumedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.UserID, &ch, &c.CodeHash, &c.ExpiresAt, &consumedAt, &c.CreatedAt)
	if err != nil {
		return domain.OTPCode{}, mapNotFound(err)
	}
	c.Channel = domain.FactorKind(ch)
	c.ConsumedAt = mapNullTime(consumedAt)
	return c, nil
}

// Consume marks the code used. Conditioned on consumed_at still being NULL
// so two concurrent redemptions of the same code cannot both succeed.
func (r *otpCodesRepo) Consume(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE otp_codes SET consumed_at = ?
		WHERE id = ? AND consumed_at IS NULL`, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

func (r *otpCodesRepo) DeleteExpired(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM otp_codes
		WHERE expires_at <= ? OR consumed_at IS NOT NULL`, time.Now().UTC())
	return err
}
