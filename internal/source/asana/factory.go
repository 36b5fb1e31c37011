package asana

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lumenhq/taskpilot/internal/source"
)

// CredentialStore supplies the per-tenant access token for a provider.
type CredentialStore interface {
	Token(ctx context.Context, tenantID uuid.UUID, provider string) (string, error)
}

// Factory builds tenant-scoped Asana clients from stored credentials.
type Factory struct {
	credentials CredentialStore
	opts        []Option
}

// NewFactory wires a source.Factory for Asana. The options are applied to
// every client it builds.
func NewFactory(credentials CredentialStore, opts ...Option) *Factory {
	return &Factory{credentials: credentials, opts: opts}
}

// ForTenant returns a provider bound to the tenant's stored token.
func (f *Factory) ForTenant(ctx context.Context, tenantID uuid.UUID) (source.Provider, error) {
	token, err := f.credentials.Token(ctx, tenantID, "asana")
	if err != nil {
		return nil, fmt.Errorf("load asana credential: %w", err)
	}
	return NewClient(token, f.opts...), nil
}
