// Package audit records workflow events to the audit trail.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"school_portal/backend/internal/shared"
)

// Repository persists audit entries.
type Repository interface {
	InsertAuditLog(ctx context.Context, entry shared.AuditLog) error
	ListAuditLogs(ctx context.Context, userID string, limit int64) ([]shared.AuditLog, error)
}

// Recorder is the audit log collaborator. Record never fails the caller.
type Recorder struct {
	repo Repository
	log  *zap.Logger
	now  func() time.Time
}

// NewRecorder creates a new Recorder instance
func NewRecorder(repo Repository, logger *zap.Logger) *Recorder {
	return &Recorder{repo: repo, log: logger, now: time.Now}
}

// Record stores an audit event; failures are logged only.
func (r *Recorder) Record(ctx context.Context, eventType string, payload map[string]interface{}, actor shared.Identity) {
	entry := shared.AuditLog{
		ID:        shared.GenerateID("audit"),
		Timestamp: r.now().UTC(),
		UserID:    actor.ID,
		Role:      actor.Role,
		Action:    eventType,
		Details:   payload,
	}

	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := r.repo.InsertAuditLog(insertCtx, entry); err != nil {
		r.log.Warn("failed to log audit event",
			zap.String("action", eventType),
			zap.String("user_id", actor.ID),
			zap.Error(err))
	}
}

// List returns the newest entries for a user (all users when empty). Admin only.
func (r *Recorder) List(ctx context.Context, actor shared.Identity, userID string, limit int64) ([]shared.AuditLog, error) {
	if actor.Role != shared.RoleAdmin {
		return nil, shared.Forbidden("only admins can read the audit trail")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	logs, err := r.repo.ListAuditLogs(queryCtx, userID, limit)
	if err != nil {
		return nil, shared.Unavailable("failed to retrieve audit logs", err)
	}
	return logs, nil
}
