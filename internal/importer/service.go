// Package importer orchestrates the external workspace import pipeline: a
// read-only validate phase and an idempotent, partial-failure-tolerant
// execute phase tracked by the import run ledger.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumenhq/taskpilot/internal/domain"
	"github.com/lumenhq/taskpilot/internal/repository"
	"github.com/lumenhq/taskpilot/internal/source"
)

// ErrWorkspaceBusy indicates another execute is already in flight for the
// same external workspace of this tenant.
var ErrWorkspaceBusy = errors.New("an import is already running for this external workspace")

// Request names the hierarchy slice one validate or execute call covers.
type Request struct {
	ExternalWorkspaceGID string
	ExternalProjectGIDs  []string
	TargetWorkspaceID    uuid.UUID
	Options              domain.ImportOptions
}

func (r Request) validate() error {
	if strings.TrimSpace(r.ExternalWorkspaceGID) == "" {
		return errors.New("externalWorkspaceId is required")
	}
	if len(r.ExternalProjectGIDs) == 0 {
		return errors.New("at least one external project id is required")
	}
	if r.TargetWorkspaceID == uuid.Nil {
		return errors.New("targetWorkspaceId is required")
	}
	return r.Options.Validate()
}

// Service is the import pipeline. It owns all writes to the run ledger and
// the entity mapping table.
type Service struct {
	sources   source.Factory
	runs      repository.ImportRunRepository
	mappings  repository.EntityMappingRepository
	directory repository.DirectoryRepository
	audit     repository.AuditRepository
	locks     *workspaceLocks

	workers    int
	runTimeout time.Duration
	now        func() time.Time

	// inflight lets shutdown (and tests) drain background runs.
	inflight sync.WaitGroup
}

// Option customizes a Service.
type Option func(*Service)

// WithWorkerPoolSize bounds how many projects one run imports concurrently.
func WithWorkerPoolSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithRunTimeout bounds the wall-clock time of one background run.
func WithRunTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.runTimeout = timeout
		}
	}
}

// NewService wires the import pipeline.
func NewService(
	sources source.Factory,
	runs repository.ImportRunRepository,
	mappings repository.EntityMappingRepository,
	directory repository.DirectoryRepository,
	audit repository.AuditRepository,
	opts ...Option,
) *Service {
	service := &Service{
		sources:    sources,
		runs:       runs,
		mappings:   mappings,
		directory:  directory,
		audit:      audit,
		locks:      newWorkspaceLocks(),
		workers:    4,
		runTimeout: 30 * time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// TestConnection verifies the tenant's external credential and returns the
// authenticated identity.
func (s *Service) TestConnection(ctx context.Context, tenantID uuid.UUID) (source.Identity, error) {
	if tenantID == uuid.Nil {
		return source.Identity{}, errors.New("tenant id is required")
	}
	provider, err := s.sources.ForTenant(ctx, tenantID)
	if err != nil {
		return source.Identity{}, err
	}
	return provider.TestConnection(ctx)
}

// ListSourceWorkspaces returns the external workspaces visible to the
// tenant's credential, for picking an import source.
func (s *Service) ListSourceWorkspaces(ctx context.Context, tenantID uuid.UUID) ([]source.Workspace, error) {
	if tenantID == uuid.Nil {
		return nil, errors.New("tenant id is required")
	}
	provider, err := s.sources.ForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return provider.ListWorkspaces(ctx)
}

// GetRun returns one run of the tenant's ledger.
func (s *Service) GetRun(ctx context.Context, tenantID, runID uuid.UUID) (domain.ImportRun, error) {
	if tenantID == uuid.Nil || runID == uuid.Nil {
		return domain.ImportRun{}, errors.New("tenant id and run id are required")
	}
	return s.runs.GetByID(ctx, tenantID, runID)
}

// ListRuns returns the tenant's most recent runs.
func (s *Service) ListRuns(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.ImportRun, error) {
	if tenantID == uuid.Nil {
		return nil, errors.New("tenant id is required")
	}
	return s.runs.ListRecent(ctx, tenantID, limit)
}

// Execute creates a run ledger row and starts the import on a background
// goroutine. It returns as soon as the row exists; callers poll GetRun for
// progress. A second execute for the same external workspace is rejected
// with ErrWorkspaceBusy while the first is in flight.
func (s *Service) Execute(ctx context.Context, tenantID, actorUserID uuid.UUID, req Request) (domain.ImportRun, error) {
	if tenantID == uuid.Nil {
		return domain.ImportRun{}, errors.New("tenant id is required")
	}
	if actorUserID == uuid.Nil {
		return domain.ImportRun{}, errors.New("actor user id is required")
	}
	if err := req.validate(); err != nil {
		return domain.ImportRun{}, err
	}
	if _, err := s.directory.GetWorkspace(ctx, tenantID, req.TargetWorkspaceID); err != nil {
		return domain.ImportRun{}, fmt.Errorf("target workspace: %w", err)
	}

	// Failures before any entity is processed surface directly to the caller
	// instead of producing a failed run row.
	provider, err := s.sources.ForTenant(ctx, tenantID)
	if err != nil {
		return domain.ImportRun{}, err
	}

	if !s.locks.TryAcquire(tenantID, req.ExternalWorkspaceGID) {
		return domain.ImportRun{}, ErrWorkspaceBusy
	}

	run := domain.NewImportRun(tenantID, actorUserID, req.ExternalWorkspaceGID, req.TargetWorkspaceID, req.Options)
	created, err := s.runs.Create(ctx, run)
	if err != nil {
		s.locks.Release(tenantID, req.ExternalWorkspaceGID)
		return domain.ImportRun{}, fmt.Errorf("create import run: %w", err)
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.locks.Release(tenantID, req.ExternalWorkspaceGID)

		runCtx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
		defer cancel()
		s.executeRun(runCtx, provider, created, req)
	}()

	return created, nil
}

// Wait blocks until all background runs have finished. Used for graceful
// shutdown and deterministic tests.
func (s *Service) Wait() {
	s.inflight.Wait()
}
