// Package source defines the read-only contract the import pipeline consumes
// from an external project-management system. Implementations own transport
// and authentication only; no business logic lives here.
package source

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrUnauthorized indicates a bad or expired external credential. It is
	// distinguishable from transient failure so callers can fail connection
	// checks immediately instead of retrying.
	ErrUnauthorized = errors.New("external source rejected credentials")

	// ErrSourceUnavailable indicates the external system could not be reached
	// after the adapter's retry budget was exhausted (rate limiting, 5xx,
	// network failure).
	ErrSourceUnavailable = errors.New("external source unavailable")

	// ErrNoCredential indicates the tenant has no stored token for the
	// provider.
	ErrNoCredential = errors.New("no external source credential configured")
)

// IsConnectionError reports whether err belongs to the adapter's connection
// error taxonomy (as opposed to a per-entity problem).
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrNoCredential)
}

// Identity describes the authenticated external account.
type Identity struct {
	GID   string `json:"gid"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Workspace is a top-level container in the external system.
type Workspace struct {
	GID  string `json:"gid"`
	Name string `json:"name"`
}

// Project is an external project with the metadata entity resolution needs.
type Project struct {
	GID          string            `json:"gid"`
	Name         string            `json:"name"`
	Notes        string            `json:"notes"`
	TeamGID      string            `json:"team_gid"`
	TeamName     string            `json:"team_name"`
	CustomFields map[string]string `json:"custom_fields"`
}

// Task is an external task. Subtasks are nested exactly one level; a subtask
// reporting children of its own sets NumSubtasks so callers can fail closed on
// unsupported depth.
type Task struct {
	GID           string `json:"gid"`
	Name          string `json:"name"`
	Notes         string `json:"notes"`
	Completed     bool   `json:"completed"`
	AssigneeGID   string `json:"assignee_gid"`
	AssigneeEmail string `json:"assignee_email"`
	NumSubtasks   int    `json:"num_subtasks"`
	Subtasks      []Task `json:"subtasks,omitempty"`
}

// Provider is the read-only surface of one external system, already bound to
// a tenant's credential.
type Provider interface {
	// TestConnection verifies the credential and identifies the external
	// account. Fails with ErrUnauthorized or ErrSourceUnavailable.
	TestConnection(ctx context.Context) (Identity, error)
	ListWorkspaces(ctx context.Context) ([]Workspace, error)
	ListProjects(ctx context.Context, workspaceGID string) ([]Project, error)
	// ListTasks returns the project's top-level tasks with subtasks attached.
	ListTasks(ctx context.Context, projectGID string) ([]Task, error)
}

// Factory binds a provider to a tenant's stored credential. It returns
// ErrNoCredential when the tenant never connected the provider.
type Factory interface {
	ForTenant(ctx context.Context, tenantID uuid.UUID) (Provider, error)
}
