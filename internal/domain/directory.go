package domain

import (
	"time"

	"github.com/google/uuid"
)

// Client is the billing/ownership grouping projects hang off. Clients created
// by an import carry the mapping key they were resolved from so re-imports can
// find them again.
type Client struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Name        string    `json:"name"`
	ExternalKey *string   `json:"external_key,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Project belongs to a workspace and a client. ExternalGID is set for rows
// materialized by an import.
type Project struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	ClientID    uuid.UUID `json:"client_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ExternalGID *string   `json:"external_gid,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Task is a unit of work inside a project. A non-nil ParentTaskID makes it a
// subtask; the hierarchy is exactly two levels deep.
type Task struct {
	ID           uuid.UUID  `json:"id"`
	TenantID     uuid.UUID  `json:"tenant_id"`
	ProjectID    uuid.UUID  `json:"project_id"`
	ParentTaskID *uuid.UUID `json:"parent_task_id,omitempty"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	AssigneeID   *uuid.UUID `json:"assignee_id,omitempty"`
	Completed    bool       `json:"completed"`
	ExternalGID  *string    `json:"external_gid,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
