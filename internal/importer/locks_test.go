package importer

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceLocks(t *testing.T) {
	locks := newWorkspaceLocks()
	tenantA := uuid.New()
	tenantB := uuid.New()

	require.True(t, locks.TryAcquire(tenantA, "ws1"))
	require.False(t, locks.TryAcquire(tenantA, "ws1"))

	// Other workspaces and other tenants are independent.
	require.True(t, locks.TryAcquire(tenantA, "ws2"))
	require.True(t, locks.TryAcquire(tenantB, "ws1"))

	locks.Release(tenantA, "ws1")
	require.True(t, locks.TryAcquire(tenantA, "ws1"))
}
