package sqlite

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ibimina/authx/internal/authx/domain"
)

type auditEventsRepo struct {
	db dbtx
}

func (r *auditEventsRepo) Append(ctx context.Context, e domain.AuditEvent) error {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, action, user_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.UserID, string(metaJSON), time.Now().UTC())
	return err
}

func (r *auditEventsRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, action, user_id, metadata, created_at
		FROM audit_events WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var (
			e        domain.AuditEvent
			metaJSON string
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.UserID, &metaJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
			e.Metadata = map[string]any{}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
