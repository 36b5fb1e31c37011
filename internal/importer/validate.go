package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lumenhq/taskpilot/internal/domain"
	"github.com/lumenhq/taskpilot/internal/resolve"
	"github.com/lumenhq/taskpilot/internal/source"
)

// Validate is the pipeline's dry run: it calls the source adapter read-only,
// runs entity resolution against current internal state, and reports what
// execute would do. It mutates nothing, so repeated calls against unchanged
// state return the same report. A connection failure aborts with no report.
func (s *Service) Validate(ctx context.Context, tenantID uuid.UUID, req Request) (domain.ValidationReport, error) {
	if tenantID == uuid.Nil {
		return domain.ValidationReport{}, errors.New("tenant id is required")
	}
	if err := req.validate(); err != nil {
		return domain.ValidationReport{}, err
	}
	if _, err := s.directory.GetWorkspace(ctx, tenantID, req.TargetWorkspaceID); err != nil {
		return domain.ValidationReport{}, fmt.Errorf("target workspace: %w", err)
	}

	provider, err := s.sources.ForTenant(ctx, tenantID)
	if err != nil {
		return domain.ValidationReport{}, err
	}
	if _, err := provider.TestConnection(ctx); err != nil {
		return domain.ValidationReport{}, fmt.Errorf("connection check: %w", err)
	}

	state, err := s.loadResolutionState(ctx, tenantID)
	if err != nil {
		return domain.ValidationReport{}, err
	}

	projects, err := provider.ListProjects(ctx, req.ExternalWorkspaceGID)
	if err != nil {
		return domain.ValidationReport{}, fmt.Errorf("list external projects: %w", err)
	}
	byGID := make(map[string]source.Project, len(projects))
	for _, p := range projects {
		byGID[p.GID] = p
	}

	report := domain.ValidationReport{
		ExternalWorkspaceGID: req.ExternalWorkspaceGID,
		Projects:             []domain.ProjectPlan{},
	}

	for _, gid := range req.ExternalProjectGIDs {
		project, found := byGID[gid]
		if !found {
			report.Projects = append(report.Projects, domain.ProjectPlan{
				ExternalGID: gid,
				Problems:    []string{"project not found in external workspace"},
			})
			continue
		}

		plan, err := s.planProject(ctx, provider, project, req.Options, state)
		if err != nil {
			// Connection-class errors during validate are fatal for the call.
			if source.IsConnectionError(err) {
				return domain.ValidationReport{}, err
			}
			plan.Problems = append(plan.Problems, err.Error())
		}
		report.Projects = append(report.Projects, plan)
	}

	for _, plan := range report.Projects {
		for _, problem := range plan.Problems {
			report.Blocking = append(report.Blocking, fmt.Sprintf("project %s: %s", plan.ExternalGID, problem))
		}
		for _, action := range plan.Actions {
			if action.Action == domain.PlannedActionFail {
				report.Blocking = append(report.Blocking,
					fmt.Sprintf("%s %s: %s", action.EntityType, action.ExternalGID, action.Reason))
			}
		}
	}

	return report, nil
}

// resolutionState is the read-only internal state resolution runs against
// during a dry run. plannedClientKeys accumulates hypothetical creations so
// two projects sharing a team plan one create and one reuse.
type resolutionState struct {
	clientKeys        map[string]uuid.UUID
	plannedClientKeys map[string]struct{}
	plannedUserEmails map[string]struct{}
	userMappings      map[string]uuid.UUID
	usersByEmail      map[string]uuid.UUID
	projectMappings   map[string]uuid.UUID
	taskMappings      map[string]uuid.UUID
	subtaskMappings   map[string]uuid.UUID
}

func (s *Service) loadResolutionState(ctx context.Context, tenantID uuid.UUID) (*resolutionState, error) {
	state := &resolutionState{
		plannedClientKeys: map[string]struct{}{},
		plannedUserEmails: map[string]struct{}{},
		usersByEmail:      map[string]uuid.UUID{},
	}

	var err error
	if state.clientKeys, err = s.mappings.ListByType(ctx, tenantID, domain.ExternalSystemAsana, domain.EntityTypeClient); err != nil {
		return nil, fmt.Errorf("load client mappings: %w", err)
	}
	if state.userMappings, err = s.mappings.ListByType(ctx, tenantID, domain.ExternalSystemAsana, domain.EntityTypeUser); err != nil {
		return nil, fmt.Errorf("load user mappings: %w", err)
	}
	if state.projectMappings, err = s.mappings.ListByType(ctx, tenantID, domain.ExternalSystemAsana, domain.EntityTypeProject); err != nil {
		return nil, fmt.Errorf("load project mappings: %w", err)
	}
	if state.taskMappings, err = s.mappings.ListByType(ctx, tenantID, domain.ExternalSystemAsana, domain.EntityTypeTask); err != nil {
		return nil, fmt.Errorf("load task mappings: %w", err)
	}
	if state.subtaskMappings, err = s.mappings.ListByType(ctx, tenantID, domain.ExternalSystemAsana, domain.EntityTypeSubtask); err != nil {
		return nil, fmt.Errorf("load subtask mappings: %w", err)
	}

	users, err := s.directory.ListUsers(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant users: %w", err)
	}
	for _, user := range users {
		state.usersByEmail[strings.ToLower(user.Email)] = user.ID
	}
	return state, nil
}

func (s *Service) planProject(ctx context.Context, provider source.Provider, project source.Project, opts domain.ImportOptions, state *resolutionState) (domain.ProjectPlan, error) {
	plan := domain.ProjectPlan{ExternalGID: project.GID, Name: project.Name}

	clientDecision := resolve.Client(project, opts, state.clientKeys)
	clientAction := plannedClientAction(clientDecision, state)
	plan.Actions = append(plan.Actions, clientAction)
	if clientAction.Action == domain.PlannedActionSkip || clientAction.Action == domain.PlannedActionFail {
		// Without a client the project (and everything under it) is skipped.
		plan.Actions = append(plan.Actions, domain.PlannedAction{
			EntityType:  domain.EntityTypeProject,
			ExternalGID: project.GID,
			Name:        project.Name,
			Action:      domain.PlannedActionSkip,
			Reason:      clientAction.Reason,
		})
		return plan, nil
	}

	plan.Actions = append(plan.Actions, plannedEntityAction(
		domain.EntityTypeProject, project.GID, project.Name,
		state.projectMappings, opts.AutoCreateProjects, "project auto-create disabled",
	))

	tasks, err := provider.ListTasks(ctx, project.GID)
	if err != nil {
		return plan, fmt.Errorf("list tasks: %w", err)
	}

	for _, task := range tasks {
		plan.Actions = append(plan.Actions, s.planTask(task, opts, state, domain.EntityTypeTask)...)
		for _, subtask := range task.Subtasks {
			if subtask.NumSubtasks > 0 {
				plan.Problems = append(plan.Problems,
					fmt.Sprintf("subtask %s has nested subtasks; only two hierarchy levels are supported", subtask.GID))
			}
			plan.Actions = append(plan.Actions, s.planTask(subtask, opts, state, domain.EntityTypeSubtask)...)
		}
	}
	return plan, nil
}

func (s *Service) planTask(task source.Task, opts domain.ImportOptions, state *resolutionState, entityType string) []domain.PlannedAction {
	var actions []domain.PlannedAction

	assignee := resolve.Assignee(task, opts, state.userMappings, state.usersByEmail)
	if assignee.Action == resolve.ActionFail {
		return []domain.PlannedAction{{
			EntityType:  entityType,
			ExternalGID: task.GID,
			Name:        task.Name,
			Action:      domain.PlannedActionFail,
			Reason:      assignee.Reason,
		}}
	}
	if assignee.Action == resolve.ActionCreate {
		if _, planned := state.plannedUserEmails[assignee.Email]; !planned {
			state.plannedUserEmails[assignee.Email] = struct{}{}
			actions = append(actions, domain.PlannedAction{
				EntityType:  domain.EntityTypeUser,
				ExternalGID: task.AssigneeGID,
				Name:        assignee.Email,
				Action:      domain.PlannedActionCreate,
			})
		}
	}

	mappings := state.taskMappings
	if entityType == domain.EntityTypeSubtask {
		mappings = state.subtaskMappings
	}
	return append(actions, plannedEntityAction(
		entityType, task.GID, task.Name, mappings, opts.AutoCreateTasks, "task auto-create disabled",
	))
}

func plannedClientAction(decision resolve.ClientDecision, state *resolutionState) domain.PlannedAction {
	action := domain.PlannedAction{EntityType: domain.EntityTypeClient, Reason: decision.Reason}
	switch decision.Action {
	case resolve.ActionReuse:
		action.Action = domain.PlannedActionReuse
	case resolve.ActionSkip:
		action.Action = domain.PlannedActionSkip
	case resolve.ActionFail:
		action.Action = domain.PlannedActionFail
	case resolve.ActionCreate:
		action.ExternalGID = decision.Key
		action.Name = decision.Name
		if _, planned := state.plannedClientKeys[decision.Key]; planned {
			action.Action = domain.PlannedActionReuse
			action.Reason = "created earlier in this import"
		} else {
			action.Action = domain.PlannedActionCreate
			state.plannedClientKeys[decision.Key] = struct{}{}
		}
	}
	return action
}

func plannedEntityAction(entityType, externalGID, name string, mappings map[string]uuid.UUID, autoCreate bool, skipReason string) domain.PlannedAction {
	action := domain.PlannedAction{EntityType: entityType, ExternalGID: externalGID, Name: name}
	switch {
	case mappings[externalGID] != uuid.Nil:
		action.Action = domain.PlannedActionReuse
	case autoCreate:
		action.Action = domain.PlannedActionCreate
	default:
		action.Action = domain.PlannedActionSkip
		action.Reason = skipReason
	}
	return action
}
