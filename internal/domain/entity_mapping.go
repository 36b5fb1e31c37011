package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExternalSystemAsana labels mappings imported from Asana.
const ExternalSystemAsana = "asana"

// MappingKey uniquely identifies one external entity within a tenant. For
// clients the external gid is the resolution key the client was derived from
// (team, name or custom field value), not an Asana object id.
type MappingKey struct {
	TenantID       uuid.UUID
	ExternalSystem string
	EntityType     string
	ExternalGID    string
}

// EntityMapping links an external entity to the internal row it materialized
// as. The table is the idempotency ledger of the import pipeline: a mapping
// that exists means the entity was fully imported.
type EntityMapping struct {
	ID             uuid.UUID `json:"id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	ExternalSystem string    `json:"external_system"`
	EntityType     string    `json:"entity_type"`
	ExternalGID    string    `json:"external_gid"`
	InternalID     uuid.UUID `json:"internal_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Key returns the mapping's unique key.
func (m EntityMapping) Key() MappingKey {
	return MappingKey{
		TenantID:       m.TenantID,
		ExternalSystem: m.ExternalSystem,
		EntityType:     m.EntityType,
		ExternalGID:    m.ExternalGID,
	}
}
