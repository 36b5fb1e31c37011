package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenhq/taskpilot/internal/domain"
)

type auditEventRepository struct {
	pool *pgxpool.Pool
}

// NewAuditEventRepository wires the audit event sink backed by pgxpool.
func NewAuditEventRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditEventRepository{pool: pool}
}

func (r *auditEventRepository) Record(ctx context.Context, event domain.AuditEvent) error {
	if r.pool == nil {
		return fmt.Errorf("audit event repository not initialized")
	}

	id := event.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO audit_events (id, tenant_id, actor_user_id, event_type, subject_id, detail)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id,
		event.TenantID,
		event.ActorUserID,
		event.EventType,
		event.SubjectID,
		event.Detail,
	)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}
