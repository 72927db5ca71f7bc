package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/internal/authx/store"
)

type passkeyCredsRepo struct {
	db dbtx
}

func (r *passkeyCredsRepo) Create(ctx context.Context, c domain.PasskeyCredential) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO passkey_credentials (id, user_id, name, credential, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, string(c.Credential), time.Now().UTC())
	return err
}

func (r *passkeyCredsRepo) ListByUser(ctx context.Context, userID string) ([]domain.PasskeyCredential, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, credential, created_at, last_used_at
		FROM passkey_credentials WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []domain.PasskeyCredential
	for rows.Next() {
		var (
			c          domain.PasskeyCredential
			blob       string
			lastUsedAt sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &blob, &c.CreatedAt, &lastUsedAt); err != nil {
			return nil, err
		}
		c.Credential = []byte(blob)
		c.LastUsedAt = mapNullTime(lastUsedAt)
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

func (r *passkeyCredsRepo) Update(ctx context.Context, c domain.PasskeyCredential) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE passkey_credentials
		SET credential = ?, last_used_at = ?
		WHERE id = ? AND user_id = ?`,
		string(c.Credential), time.Now().UTC(), c.ID, c.UserID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *passkeyCredsRepo) DeleteAllForUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM passkey_credentials WHERE user_id = ?`, userID)
	return err
}
