package importer

import (
	"time"

	"github.com/google/uuid"

	"github.com/lumenhq/taskpilot/internal/domain"
	"github.com/lumenhq/taskpilot/internal/repository"
	"github.com/lumenhq/taskpilot/internal/resolve"
	"github.com/lumenhq/taskpilot/internal/source"
)

// completionGrace bounds terminal writes when a run's context already
// expired; the ledger row must still reach a terminal state.
const completionGrace = 10 * time.Second

func clientParams(run domain.ImportRun, decision resolve.ClientDecision) repository.ClientParams {
	return repository.ClientParams{
		TenantID:    run.TenantID,
		WorkspaceID: run.TargetWorkspaceID,
		Name:        decision.Name,
		ExternalKey: decision.Key,
	}
}

func projectParams(run domain.ImportRun, project source.Project, clientID uuid.UUID) repository.ProjectParams {
	return repository.ProjectParams{
		TenantID:    run.TenantID,
		WorkspaceID: run.TargetWorkspaceID,
		ClientID:    clientID,
		Name:        project.Name,
		Description: project.Notes,
		ExternalGID: project.GID,
	}
}

func taskParams(run domain.ImportRun, task source.Task, projectID uuid.UUID, parentID, assigneeID *uuid.UUID) repository.TaskParams {
	return repository.TaskParams{
		TenantID:     run.TenantID,
		ProjectID:    projectID,
		ParentTaskID: parentID,
		Title:        task.Name,
		Description:  task.Notes,
		AssigneeID:   assigneeID,
		Completed:    task.Completed,
		ExternalGID:  task.GID,
	}
}

func repositoryUserParams(tenantID uuid.UUID, decision resolve.AssigneeDecision) repository.UserParams {
	return repository.UserParams{
		TenantID: tenantID,
		Email:    decision.Email,
		FullName: decision.Name,
	}
}

func userMappingKey(tenantID uuid.UUID, externalGID string) domain.MappingKey {
	return domain.MappingKey{
		TenantID:       tenantID,
		ExternalSystem: domain.ExternalSystemAsana,
		EntityType:     domain.EntityTypeUser,
		ExternalGID:    externalGID,
	}
}
