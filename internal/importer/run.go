package importer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lumenhq/taskpilot/internal/domain"
	"github.com/lumenhq/taskpilot/internal/resolve"
	"github.com/lumenhq/taskpilot/internal/source"
)

// runState carries the mutable state of one executing run. The mutex is the
// single serialization point for summary counts, error entries and phase
// writes, so concurrent project workers never interleave a phase string.
type runState struct {
	svc      *Service
	provider source.Provider
	run      domain.ImportRun
	req      Request

	mu      sync.Mutex
	summary domain.ExecutionSummary
	errs    []domain.ImportRunError

	// clientMu serializes client resolution so two projects resolving the
	// same team or field value cannot both decide to create.
	clientMu   sync.Mutex
	clientKeys map[string]uuid.UUID

	userMu       sync.Mutex
	userMappings map[string]uuid.UUID
	usersByEmail map[string]uuid.UUID
}

func (rc *runState) addCounts(entityType string, delta domain.EntityCounts) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.summary.Add(entityType, delta)
}

func (rc *runState) addError(entityType, externalGID, name, message string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.errs = append(rc.errs, domain.ImportRunError{
		EntityType:  entityType,
		ExternalGID: externalGID,
		Name:        name,
		Message:     message,
	})
	rc.summary.Add(entityType, domain.EntityCounts{Failed: 1})
}

// setPhase writes a progress marker through the run ledger. Serialized so
// concurrent workers produce a coherent last-write phase.
func (rc *runState) setPhase(ctx context.Context, format string, args ...any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	phase := fmt.Sprintf(format, args...)
	if err := rc.svc.runs.UpdatePhase(ctx, rc.run.ID, phase); err != nil {
		log.Printf("import run %s: update phase: %v", rc.run.ID, err)
	}
}

// executeRun walks the requested hierarchy. Entity-level failures are
// absorbed into the error log; only failures that prevent any further
// progress (and panics) produce a failed run.
func (s *Service) executeRun(ctx context.Context, provider source.Provider, run domain.ImportRun, req Request) {
	rc := &runState{
		svc:          s,
		provider:     provider,
		run:          run,
		req:          req,
		summary:      domain.ExecutionSummary{},
		clientKeys:   map[string]uuid.UUID{},
		userMappings: map[string]uuid.UUID{},
		usersByEmail: map[string]uuid.UUID{},
	}

	defer func() {
		if p := recover(); p != nil {
			rc.errs = append(rc.errs, domain.ImportRunError{
				EntityType: domain.EntityTypeSystem,
				Message:    fmt.Sprintf("panic: %v", p),
			})
			s.completeRun(ctx, rc, domain.ImportRunStatusFailed)
		}
	}()

	if err := s.preloadRunState(ctx, rc); err != nil {
		s.failRun(ctx, rc, err)
		return
	}

	rc.setPhase(ctx, "Fetching projects from external workspace")
	projects, err := provider.ListProjects(ctx, req.ExternalWorkspaceGID)
	if err != nil {
		// Nothing has been processed yet, so a connection failure here is
		// fatal for the whole run.
		s.failRun(ctx, rc, fmt.Errorf("list external projects: %w", err))
		return
	}
	byGID := make(map[string]source.Project, len(projects))
	for _, p := range projects {
		byGID[p.GID] = p
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.workers)
	for _, gid := range req.ExternalProjectGIDs {
		project, found := byGID[gid]
		if !found {
			rc.addError(domain.EntityTypeProject, gid, "", "project not found in external workspace")
			continue
		}
		group.Go(func() error {
			rc.importProject(groupCtx, project)
			rc.setPhase(ctx, "Finished project %s", project.Name)
			return nil
		})
	}
	// Workers absorb their own failures; the only group error is context
	// cancellation.
	if err := group.Wait(); err != nil {
		s.failRun(ctx, rc, err)
		return
	}

	status := domain.ImportRunStatusCompleted
	if len(rc.errs) > 0 {
		status = domain.ImportRunStatusCompletedWithErrors
	}
	s.completeRun(ctx, rc, status)
}

// preloadRunState reads existing mappings and tenant users once per run.
func (s *Service) preloadRunState(ctx context.Context, rc *runState) error {
	clientKeys, err := s.mappings.ListByType(ctx, rc.run.TenantID, domain.ExternalSystemAsana, domain.EntityTypeClient)
	if err != nil {
		return fmt.Errorf("load client mappings: %w", err)
	}
	rc.clientKeys = clientKeys

	userMappings, err := s.mappings.ListByType(ctx, rc.run.TenantID, domain.ExternalSystemAsana, domain.EntityTypeUser)
	if err != nil {
		return fmt.Errorf("load user mappings: %w", err)
	}
	rc.userMappings = userMappings

	users, err := s.directory.ListUsers(ctx, rc.run.TenantID)
	if err != nil {
		return fmt.Errorf("load tenant users: %w", err)
	}
	for _, user := range users {
		rc.usersByEmail[strings.ToLower(user.Email)] = user.ID
	}
	return nil
}

func (s *Service) failRun(ctx context.Context, rc *runState, cause error) {
	rc.mu.Lock()
	rc.errs = append(rc.errs, domain.ImportRunError{
		EntityType: domain.EntityTypeSystem,
		Message:    cause.Error(),
	})
	rc.mu.Unlock()
	s.completeRun(ctx, rc, domain.ImportRunStatusFailed)
}

// completeRun flushes whatever summary and error log accumulated, writes the
// terminal status exactly once, and notifies the audit sink.
func (s *Service) completeRun(ctx context.Context, rc *runState, status domain.ImportRunStatus) {
	// The run context may already be cancelled or expired; terminal writes
	// still have to land.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), completionGrace)
		defer cancel()
	}

	if err := s.runs.Complete(ctx, rc.run.ID, status, rc.summary, rc.errs); err != nil {
		log.Printf("import run %s: complete: %v", rc.run.ID, err)
		return
	}

	eventType := domain.AuditEventImportCompleted
	if status == domain.ImportRunStatusFailed {
		eventType = domain.AuditEventImportFailed
	}
	// Fire and forget: the audit trail is not required for pipeline
	// correctness.
	if err := s.audit.Record(ctx, domain.AuditEvent{
		TenantID:    rc.run.TenantID,
		ActorUserID: rc.run.ActorUserID,
		EventType:   eventType,
		SubjectID:   rc.run.ID,
		Detail:      fmt.Sprintf("import of external workspace %s finished with status %s", rc.run.ExternalWorkspaceGID, status),
	}); err != nil {
		log.Printf("import run %s: record audit event: %v", rc.run.ID, err)
	}
}

// importProject materializes one external project: client, project row, then
// tasks and subtasks. Every failure is scoped to the entity it occurred on.
func (rc *runState) importProject(ctx context.Context, project source.Project) {
	rc.setPhase(ctx, "Importing project %s", project.Name)

	clientID, ok := rc.resolveProjectClient(ctx, project)
	if !ok {
		return
	}

	projectID, ok := rc.materializeProject(ctx, project, clientID)
	if !ok {
		return
	}

	rc.setPhase(ctx, "Importing tasks for project %s", project.Name)
	tasks, err := rc.provider.ListTasks(ctx, project.GID)
	if err != nil {
		rc.addError(domain.EntityTypeProject, project.GID, project.Name, fmt.Sprintf("list tasks: %v", err))
		return
	}

	for _, task := range tasks {
		taskID, created := rc.importTask(ctx, task, projectID, nil, domain.EntityTypeTask)
		if !created {
			continue
		}
		for _, subtask := range task.Subtasks {
			if subtask.NumSubtasks > 0 {
				rc.addError(domain.EntityTypeSubtask, subtask.GID, subtask.Name,
					"subtask has nested subtasks; only two hierarchy levels are supported")
			}
			rc.importTask(ctx, subtask, projectID, &taskID, domain.EntityTypeSubtask)
		}
	}
}

// resolveProjectClient runs client resolution and materializes the decision.
// Serialized so concurrent projects sharing a team resolve to one client.
func (rc *runState) resolveProjectClient(ctx context.Context, project source.Project) (uuid.UUID, bool) {
	rc.clientMu.Lock()
	defer rc.clientMu.Unlock()

	decision := resolve.Client(project, rc.req.Options, rc.clientKeys)
	switch decision.Action {
	case resolve.ActionReuse:
		rc.addCounts(domain.EntityTypeClient, domain.EntityCounts{Reused: 1})
		return decision.ClientID, true

	case resolve.ActionSkip:
		rc.addCounts(domain.EntityTypeClient, domain.EntityCounts{Skipped: 1})
		rc.addCounts(domain.EntityTypeProject, domain.EntityCounts{Skipped: 1})
		return uuid.Nil, false

	case resolve.ActionFail:
		rc.addError(domain.EntityTypeClient, project.GID, project.Name, decision.Reason)
		return uuid.Nil, false
	}

	client, _, err := rc.svc.directory.FindOrCreateClient(ctx, clientParams(rc.run, decision))
	if err != nil {
		rc.addError(domain.EntityTypeClient, project.GID, decision.Name, fmt.Sprintf("create client: %v", err))
		return uuid.Nil, false
	}

	surviving, created, err := rc.svc.mappings.Ensure(ctx, domain.MappingKey{
		TenantID:       rc.run.TenantID,
		ExternalSystem: domain.ExternalSystemAsana,
		EntityType:     domain.EntityTypeClient,
		ExternalGID:    decision.Key,
	}, client.ID)
	if err != nil {
		rc.addError(domain.EntityTypeClient, project.GID, decision.Name, fmt.Sprintf("record client mapping: %v", err))
		return uuid.Nil, false
	}

	rc.clientKeys[decision.Key] = surviving
	if created {
		rc.addCounts(domain.EntityTypeClient, domain.EntityCounts{Created: 1})
	} else {
		rc.addCounts(domain.EntityTypeClient, domain.EntityCounts{Reused: 1})
	}
	return surviving, true
}

// materializeProject creates or reuses the internal project row.
func (rc *runState) materializeProject(ctx context.Context, project source.Project, clientID uuid.UUID) (uuid.UUID, bool) {
	key := domain.MappingKey{
		TenantID:       rc.run.TenantID,
		ExternalSystem: domain.ExternalSystemAsana,
		EntityType:     domain.EntityTypeProject,
		ExternalGID:    project.GID,
	}
	if existing, found, err := rc.svc.mappings.Lookup(ctx, key); err != nil {
		rc.addError(domain.EntityTypeProject, project.GID, project.Name, fmt.Sprintf("lookup project mapping: %v", err))
		return uuid.Nil, false
	} else if found {
		rc.addCounts(domain.EntityTypeProject, domain.EntityCounts{Reused: 1})
		return existing, true
	}

	if !rc.req.Options.AutoCreateProjects {
		rc.addCounts(domain.EntityTypeProject, domain.EntityCounts{Skipped: 1})
		return uuid.Nil, false
	}

	row, _, err := rc.svc.directory.FindOrCreateProject(ctx, projectParams(rc.run, project, clientID))
	if err != nil {
		rc.addError(domain.EntityTypeProject, project.GID, project.Name, fmt.Sprintf("create project: %v", err))
		return uuid.Nil, false
	}

	surviving, created, err := rc.svc.mappings.Ensure(ctx, key, row.ID)
	if err != nil {
		rc.addError(domain.EntityTypeProject, project.GID, project.Name, fmt.Sprintf("record project mapping: %v", err))
		return uuid.Nil, false
	}
	if created {
		rc.addCounts(domain.EntityTypeProject, domain.EntityCounts{Created: 1})
	} else {
		rc.addCounts(domain.EntityTypeProject, domain.EntityCounts{Reused: 1})
	}
	return surviving, true
}

// importTask creates or reuses one task or subtask. Returns the internal id
// and whether the row exists (so subtasks can attach to it).
func (rc *runState) importTask(ctx context.Context, task source.Task, projectID uuid.UUID, parentID *uuid.UUID, entityType string) (uuid.UUID, bool) {
	assigneeID, ok := rc.resolveTaskAssignee(ctx, task, entityType)
	if !ok {
		return uuid.Nil, false
	}

	key := domain.MappingKey{
		TenantID:       rc.run.TenantID,
		ExternalSystem: domain.ExternalSystemAsana,
		EntityType:     entityType,
		ExternalGID:    task.GID,
	}
	if existing, found, err := rc.svc.mappings.Lookup(ctx, key); err != nil {
		rc.addError(entityType, task.GID, task.Name, fmt.Sprintf("lookup task mapping: %v", err))
		return uuid.Nil, false
	} else if found {
		rc.addCounts(entityType, domain.EntityCounts{Reused: 1})
		return existing, true
	}

	if !rc.req.Options.AutoCreateTasks {
		rc.addCounts(entityType, domain.EntityCounts{Skipped: 1})
		return uuid.Nil, false
	}

	row, _, err := rc.svc.directory.FindOrCreateTask(ctx, taskParams(rc.run, task, projectID, parentID, assigneeID))
	if err != nil {
		rc.addError(entityType, task.GID, task.Name, fmt.Sprintf("create task: %v", err))
		return uuid.Nil, false
	}

	// The mapping row is written only after the task row exists, so a failed
	// creation never leaves a dangling mapping.
	surviving, created, err := rc.svc.mappings.Ensure(ctx, key, row.ID)
	if err != nil {
		rc.addError(entityType, task.GID, task.Name, fmt.Sprintf("record task mapping: %v", err))
		return uuid.Nil, false
	}
	if created {
		rc.addCounts(entityType, domain.EntityCounts{Created: 1})
	} else {
		rc.addCounts(entityType, domain.EntityCounts{Reused: 1})
	}
	return surviving, true
}

// resolveTaskAssignee turns the task's external assignee into an internal
// user id, or nil when the task should be created unassigned. A false return
// means the task itself must not be created.
func (rc *runState) resolveTaskAssignee(ctx context.Context, task source.Task, entityType string) (*uuid.UUID, bool) {
	rc.userMu.Lock()
	defer rc.userMu.Unlock()

	decision := resolve.Assignee(task, rc.req.Options, rc.userMappings, rc.usersByEmail)
	switch decision.Action {
	case resolve.ActionSkip:
		return nil, true

	case resolve.ActionFail:
		rc.addError(entityType, task.GID, task.Name, decision.Reason)
		return nil, false

	case resolve.ActionReuse:
		// Cache the gid so the rest of the run (and future runs) resolve by
		// mapping instead of email.
		if _, known := rc.userMappings[task.AssigneeGID]; !known {
			if _, _, err := rc.svc.mappings.Ensure(ctx, userMappingKey(rc.run.TenantID, task.AssigneeGID), decision.UserID); err != nil {
				log.Printf("import run %s: record user mapping: %v", rc.run.ID, err)
			} else {
				rc.userMappings[task.AssigneeGID] = decision.UserID
			}
		}
		id := decision.UserID
		return &id, true
	}

	user, _, err := rc.svc.directory.FindOrCreateUser(ctx, repositoryUserParams(rc.run.TenantID, decision))
	if err != nil {
		rc.addError(domain.EntityTypeUser, task.AssigneeGID, decision.Email, fmt.Sprintf("create user: %v", err))
		return nil, false
	}
	surviving, created, err := rc.svc.mappings.Ensure(ctx, userMappingKey(rc.run.TenantID, task.AssigneeGID), user.ID)
	if err != nil {
		rc.addError(domain.EntityTypeUser, task.AssigneeGID, decision.Email, fmt.Sprintf("record user mapping: %v", err))
		return nil, false
	}
	rc.userMappings[task.AssigneeGID] = surviving
	rc.usersByEmail[decision.Email] = surviving
	if created {
		rc.addCounts(domain.EntityTypeUser, domain.EntityCounts{Created: 1})
	} else {
		rc.addCounts(domain.EntityTypeUser, domain.EntityCounts{Reused: 1})
	}
	return &surviving, true
}
