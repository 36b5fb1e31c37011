package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents one customer account. Every other row in the system is
// scoped to a tenant.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is a tenant member. Email is unique within a tenant and is the join
// point for matching external assignees.
type User struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}

// Workspace groups clients and projects inside a tenant.
type Workspace struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkspace creates a workspace row ready for insertion.
func NewWorkspace(tenantID uuid.UUID, name string) Workspace {
	now := time.Now()
	return Workspace{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
