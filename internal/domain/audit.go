package domain

import (
	"time"

	"github.com/google/uuid"
)

// Audit event types emitted by the import pipeline.
const (
	AuditEventImportCompleted = "import.completed"
	AuditEventImportFailed    = "import.failed"
)

// AuditEvent is a best-effort record of a notable action. The pipeline emits
// one on run completion; failures to record are logged, never escalated.
type AuditEvent struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	ActorUserID uuid.UUID `json:"actor_user_id"`
	EventType   string    `json:"event_type"`
	SubjectID   uuid.UUID `json:"subject_id"`
	Detail      string    `json:"detail"`
	CreatedAt   time.Time `json:"created_at"`
}
