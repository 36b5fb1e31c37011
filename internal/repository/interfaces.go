package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/lumenhq/taskpilot/internal/domain"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrRunStatusConflict indicates an import run cannot transition to the
// requested state (it already reached a terminal status).
var ErrRunStatusConflict = errors.New("import run status conflict")

// ImportRunRepository is the run ledger's persistence surface. The import
// pipeline is the only writer of phase and terminal fields.
type ImportRunRepository interface {
	Create(ctx context.Context, run domain.ImportRun) (domain.ImportRun, error)
	UpdatePhase(ctx context.Context, runID uuid.UUID, phase string) error
	// Complete writes the terminal status, summary and error log. Returns
	// ErrRunStatusConflict if the run is no longer running.
	Complete(ctx context.Context, runID uuid.UUID, status domain.ImportRunStatus, summary domain.ExecutionSummary, errs []domain.ImportRunError) error
	GetByID(ctx context.Context, tenantID, runID uuid.UUID) (domain.ImportRun, error)
	ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.ImportRun, error)
}

// EntityMappingRepository stores external-id to internal-id correspondences.
type EntityMappingRepository interface {
	// Ensure inserts the mapping if absent and returns the surviving internal
	// id; created reports whether this call inserted it. Insert-if-absent
	// semantics tolerate concurrent writers racing on the same key.
	Ensure(ctx context.Context, key domain.MappingKey, internalID uuid.UUID) (surviving uuid.UUID, created bool, err error)
	// Lookup returns the internal id mapped to the key, if any.
	Lookup(ctx context.Context, key domain.MappingKey) (uuid.UUID, bool, error)
	// ListByType returns all mappings of one entity type for a tenant, keyed
	// by external gid.
	ListByType(ctx context.Context, tenantID uuid.UUID, externalSystem, entityType string) (map[string]uuid.UUID, error)
}

// ClientParams describe a client row to find or create.
type ClientParams struct {
	TenantID    uuid.UUID
	WorkspaceID uuid.UUID
	Name        string
	ExternalKey string
}

// ProjectParams describe a project row to find or create.
type ProjectParams struct {
	TenantID    uuid.UUID
	WorkspaceID uuid.UUID
	ClientID    uuid.UUID
	Name        string
	Description string
	ExternalGID string
}

// TaskParams describe a task row to find or create.
type TaskParams struct {
	TenantID     uuid.UUID
	ProjectID    uuid.UUID
	ParentTaskID *uuid.UUID
	Title        string
	Description  string
	AssigneeID   *uuid.UUID
	Completed    bool
	ExternalGID  string
}

// UserParams describe a user row to find or create.
type UserParams struct {
	TenantID uuid.UUID
	Email    string
	FullName string
}

// DirectoryRepository is the domain persistence the pipeline writes through.
// Create operations are find-or-create keyed by the external identifier so
// writes stay idempotent even below the mapping table.
type DirectoryRepository interface {
	GetWorkspace(ctx context.Context, tenantID, workspaceID uuid.UUID) (domain.Workspace, error)
	FindOrCreateClient(ctx context.Context, params ClientParams) (domain.Client, bool, error)
	FindOrCreateProject(ctx context.Context, params ProjectParams) (domain.Project, bool, error)
	FindOrCreateTask(ctx context.Context, params TaskParams) (domain.Task, bool, error)
	FindOrCreateUser(ctx context.Context, params UserParams) (domain.User, bool, error)
	ListUsers(ctx context.Context, tenantID uuid.UUID) ([]domain.User, error)
}

// AuditRepository records best-effort audit events.
type AuditRepository interface {
	Record(ctx context.Context, event domain.AuditEvent) error
}
