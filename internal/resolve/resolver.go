// Package resolve holds the pure mapping logic that decides which internal
// entity an external project or assignee corresponds to. Resolution never
// writes; it returns decisions the import pipeline executes or records.
package resolve

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lumenhq/taskpilot/internal/domain"
	"github.com/lumenhq/taskpilot/internal/source"
)

// Action is the outcome class of a resolution decision.
type Action string

const (
	// ActionCreate materializes a new internal entity.
	ActionCreate Action = "create"
	// ActionReuse points at an existing internal entity.
	ActionReuse Action = "reuse"
	// ActionSkip omits the entity (or the assignment) without error.
	ActionSkip Action = "skip"
	// ActionFail records the entity in the run's error log.
	ActionFail Action = "fail"
)

// ClientDecision is the outcome of resolving an external project's parent
// client.
type ClientDecision struct {
	Action Action
	// ClientID is set for reuse decisions.
	ClientID uuid.UUID
	// Key is the mapping key the decision resolves under; it becomes the
	// external gid of the client's entity mapping row.
	Key string
	// Name is the client name for create decisions.
	Name   string
	Reason string
}

// Client applies the configured mapping strategy to one external project.
// known maps previously-materialized client keys to internal client ids.
func Client(project source.Project, opts domain.ImportOptions, known map[string]uuid.UUID) ClientDecision {
	switch opts.ClientMappingStrategy {
	case domain.ClientMappingSingle:
		if opts.SingleClientID == nil || *opts.SingleClientID == uuid.Nil {
			return ClientDecision{Action: ActionFail, Reason: "single client strategy configured without a client"}
		}
		return ClientDecision{Action: ActionReuse, ClientID: *opts.SingleClientID}

	case domain.ClientMappingTeam:
		if project.TeamGID == "" {
			return clientFallback(project, opts, "external project has no team")
		}
		key := "team:" + project.TeamGID
		if id, ok := known[key]; ok {
			return ClientDecision{Action: ActionReuse, ClientID: id, Key: key}
		}
		name := project.TeamName
		if name == "" {
			name = "Team " + project.TeamGID
		}
		return ClientDecision{Action: ActionCreate, Key: key, Name: name}

	case domain.ClientMappingPerProject:
		ref, ok := opts.ProjectClientMap[project.GID]
		if !ok {
			return clientFallback(project, opts, "no client mapping for project")
		}
		if ref.ClientID != nil && *ref.ClientID != uuid.Nil {
			return ClientDecision{Action: ActionReuse, ClientID: *ref.ClientID}
		}
		name := strings.TrimSpace(ref.ClientName)
		if name == "" {
			return ClientDecision{Action: ActionFail, Reason: fmt.Sprintf("client mapping for project %s names no client", project.GID)}
		}
		key := "name:" + strings.ToLower(name)
		if id, ok := known[key]; ok {
			return ClientDecision{Action: ActionReuse, ClientID: id, Key: key}
		}
		return ClientDecision{Action: ActionCreate, Key: key, Name: name}

	case domain.ClientMappingCustomField:
		value := strings.TrimSpace(project.CustomFields[opts.ClientCustomFieldName])
		if value == "" {
			return clientFallback(project, opts, fmt.Sprintf("custom field %q is empty", opts.ClientCustomFieldName))
		}
		key := "field:" + strings.ToLower(value)
		if id, ok := known[key]; ok {
			return ClientDecision{Action: ActionReuse, ClientID: id, Key: key}
		}
		return ClientDecision{Action: ActionCreate, Key: key, Name: value}

	default:
		return ClientDecision{Action: ActionFail, Reason: fmt.Sprintf("unknown client mapping strategy %q", opts.ClientMappingStrategy)}
	}
}

// clientFallback decides what to do when the strategy finds no mapping: with
// auto-create the project gets its own client named after the best available
// label, otherwise the project is skipped with the reason.
func clientFallback(project source.Project, opts domain.ImportOptions, reason string) ClientDecision {
	if !opts.AutoCreateClients {
		return ClientDecision{Action: ActionSkip, Reason: reason}
	}
	name := project.TeamName
	if name == "" {
		name = project.Name
	}
	return ClientDecision{
		Action: ActionCreate,
		Key:    "project:" + project.GID,
		Name:   name,
	}
}

// AssigneeDecision is the outcome of resolving an external assignee.
type AssigneeDecision struct {
	Action Action
	// UserID is set for reuse decisions.
	UserID uuid.UUID
	// Email and Name are set for create decisions.
	Email  string
	Name   string
	Reason string
}

// Assignee matches an external user to an internal one: an earlier-established
// mapping wins, then an email match against tenant members. Unresolved
// assignees skip (fallbackUnassigned) or fail the task.
func Assignee(task source.Task, opts domain.ImportOptions, mapped map[string]uuid.UUID, usersByEmail map[string]uuid.UUID) AssigneeDecision {
	if task.AssigneeGID == "" {
		return AssigneeDecision{Action: ActionSkip, Reason: "unassigned"}
	}
	if id, ok := mapped[task.AssigneeGID]; ok {
		return AssigneeDecision{Action: ActionReuse, UserID: id}
	}
	email := strings.ToLower(strings.TrimSpace(task.AssigneeEmail))
	if email != "" {
		if id, ok := usersByEmail[email]; ok {
			return AssigneeDecision{Action: ActionReuse, UserID: id}
		}
		if opts.AutoCreateUsers {
			return AssigneeDecision{Action: ActionCreate, Email: email, Name: email}
		}
	}
	if opts.FallbackUnassigned {
		return AssigneeDecision{Action: ActionSkip, Reason: "no matching internal user"}
	}
	return AssigneeDecision{
		Action: ActionFail,
		Reason: fmt.Sprintf("assignee %s could not be resolved to an internal user", task.AssigneeGID),
	}
}
