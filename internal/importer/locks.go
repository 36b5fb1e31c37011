package importer

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// workspaceLocks enforces the one-execute-per-external-workspace rule for a
// single-process deployment. Multi-process deployments would swap this for a
// database advisory lock behind the same two calls.
type workspaceLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newWorkspaceLocks() *workspaceLocks {
	return &workspaceLocks{held: map[string]struct{}{}}
}

func lockKey(tenantID uuid.UUID, externalWorkspaceGID string) string {
	return fmt.Sprintf("%s/%s", tenantID, externalWorkspaceGID)
}

// TryAcquire takes the lock for the tenant/workspace pair if it is free.
func (l *workspaceLocks) TryAcquire(tenantID uuid.UUID, externalWorkspaceGID string) bool {
	key := lockKey(tenantID, externalWorkspaceGID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[key]; taken {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

// Release frees the lock. Safe to call for a key that is not held.
func (l *workspaceLocks) Release(tenantID uuid.UUID, externalWorkspaceGID string) {
	key := lockKey(tenantID, externalWorkspaceGID)
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
