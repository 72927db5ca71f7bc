package service

import (
	"context"
	"log/slog"

	"github.com/ibimina/authx/internal/authx/domain"
	"github.com/ibimina/authx/internal/authx/store"
	"github.com/ibimina/authx/pkg/idx"
)

// AuditRecorder appends audit events. Recording is best-effort: an audit
// write failure is logged but never fails the operation that produced it.
type AuditRecorder struct {
	Events store.AuditEvents
	Logger *slog.Logger
}

func (r *AuditRecorder) Record(ctx context.Context, action, userID string, meta map[string]any) {
	event := domain.AuditEvent{
		ID:       idx.New().String(),
		Action:   action,
		UserID:   userID,
		Metadata: meta,
	}

	if err := r.Events.Append(ctx, event); err != nil {
		r.Logger.Error("failed to append audit event", "action", action, "error", err)
	}
}
