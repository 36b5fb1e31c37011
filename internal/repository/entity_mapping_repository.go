package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenhq/taskpilot/internal/domain"
)

type entityMappingRepository struct {
	pool *pgxpool.Pool
}

// NewEntityMappingRepository wires the mapping table backed by pgxpool.
func NewEntityMappingRepository(pool *pgxpool.Pool) EntityMappingRepository {
	return &entityMappingRepository{pool: pool}
}

func (r *entityMappingRepository) Ensure(ctx context.Context, key domain.MappingKey, internalID uuid.UUID) (uuid.UUID, bool, error) {
	if r.pool == nil {
		return uuid.Nil, false, fmt.Errorf("entity mapping repository not initialized")
	}

	// Insert-if-absent: ON CONFLICT DO NOTHING inserts no row when another
	// writer won; the follow-up select returns the surviving internal id
	// either way.
	tag, err := r.pool.Exec(
		ctx,
		`INSERT INTO entity_mappings (id, tenant_id, external_system, entity_type, external_gid, internal_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (tenant_id, external_system, entity_type, external_gid) DO NOTHING`,
		uuid.New(),
		key.TenantID,
		key.ExternalSystem,
		key.EntityType,
		key.ExternalGID,
		internalID,
	)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("insert entity mapping: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return internalID, true, nil
	}

	surviving, found, err := r.Lookup(ctx, key)
	if err != nil {
		return uuid.Nil, false, err
	}
	if !found {
		return uuid.Nil, false, fmt.Errorf("entity mapping for %s/%s vanished after conflict", key.EntityType, key.ExternalGID)
	}
	return surviving, false, nil
}

func (r *entityMappingRepository) Lookup(ctx context.Context, key domain.MappingKey) (uuid.UUID, bool, error) {
	if r.pool == nil {
		return uuid.Nil, false, fmt.Errorf("entity mapping repository not initialized")
	}

	var internalID uuid.UUID
	err := r.pool.QueryRow(
		ctx,
		`SELECT internal_id FROM entity_mappings
		 WHERE tenant_id = $1 AND external_system = $2 AND entity_type = $3 AND external_gid = $4`,
		key.TenantID,
		key.ExternalSystem,
		key.EntityType,
		key.ExternalGID,
	).Scan(&internalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("lookup entity mapping: %w", err)
	}
	return internalID, true, nil
}

func (r *entityMappingRepository) ListByType(ctx context.Context, tenantID uuid.UUID, externalSystem, entityType string) (map[string]uuid.UUID, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("entity mapping repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT external_gid, internal_id FROM entity_mappings
		 WHERE tenant_id = $1 AND external_system = $2 AND entity_type = $3`,
		tenantID,
		externalSystem,
		entityType,
	)
	if err != nil {
		return nil, fmt.Errorf("list entity mappings: %w", err)
	}
	defer rows.Close()

	mappings := map[string]uuid.UUID{}
	for rows.Next() {
		var (
			externalGID string
			internalID  uuid.UUID
		)
		if scanErr := rows.Scan(&externalGID, &internalID); scanErr != nil {
			return nil, fmt.Errorf("scan entity mapping: %w", scanErr)
		}
		mappings[externalGID] = internalID
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate entity mappings: %w", rowsErr)
	}
	return mappings, nil
}
