package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenhq/taskpilot/internal/source"
)

// CredentialRepository reads per-tenant integration credentials.
type CredentialRepository struct {
	pool *pgxpool.Pool
}

// NewCredentialRepository wires the per-tenant integration credential store.
func NewCredentialRepository(pool *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{pool: pool}
}

// Token returns the tenant's stored access token for the provider, or
// source.ErrNoCredential when the integration was never connected.
func (r *CredentialRepository) Token(ctx context.Context, tenantID uuid.UUID, provider string) (string, error) {
	if r.pool == nil {
		return "", fmt.Errorf("credential repository not initialized")
	}

	var token string
	err := r.pool.QueryRow(
		ctx,
		`SELECT access_token FROM tenant_integrations
		 WHERE tenant_id = $1 AND provider = $2`,
		tenantID,
		provider,
	).Scan(&token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: provider %s for tenant %s", source.ErrNoCredential, provider, tenantID)
		}
		return "", fmt.Errorf("load credential: %w", err)
	}
	return token, nil
}
