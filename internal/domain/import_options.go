package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ClientMappingStrategy selects how an external project's parent client is
// determined during an import.
type ClientMappingStrategy string

const (
	// ClientMappingSingle puts every imported project under one fixed client.
	ClientMappingSingle ClientMappingStrategy = "single"
	// ClientMappingTeam resolves one client per distinct external team.
	ClientMappingTeam ClientMappingStrategy = "team"
	// ClientMappingPerProject consults an explicit per-project mapping table.
	ClientMappingPerProject ClientMappingStrategy = "per_project"
	// ClientMappingCustomField reads the client name off a named custom field
	// on the external project.
	ClientMappingCustomField ClientMappingStrategy = "custom_field"
)

// ProjectClientRef is one entry of the per-project mapping table: either an
// existing internal client or a name to create one under.
type ProjectClientRef struct {
	ClientID   *uuid.UUID `json:"client_id,omitempty"`
	ClientName string     `json:"client_name,omitempty"`
}

// ImportOptions is the operator-supplied configuration for one import run.
// Immutable for the life of the run.
type ImportOptions struct {
	AutoCreateClients  bool `json:"auto_create_clients"`
	AutoCreateProjects bool `json:"auto_create_projects"`
	AutoCreateTasks    bool `json:"auto_create_tasks"`
	AutoCreateUsers    bool `json:"auto_create_users"`

	// FallbackUnassigned leaves a task unassigned when its external assignee
	// cannot be resolved, instead of failing the task.
	FallbackUnassigned bool `json:"fallback_unassigned"`

	ClientMappingStrategy ClientMappingStrategy `json:"client_mapping_strategy"`

	// Strategy-specific fields.
	SingleClientID        *uuid.UUID                  `json:"single_client_id,omitempty"`
	ClientCustomFieldName string                      `json:"client_custom_field_name,omitempty"`
	ProjectClientMap      map[string]ProjectClientRef `json:"project_client_map,omitempty"`
}

// Validate rejects option combinations the pipeline cannot act on.
func (o ImportOptions) Validate() error {
	switch o.ClientMappingStrategy {
	case ClientMappingSingle:
		if o.SingleClientID == nil || *o.SingleClientID == uuid.Nil {
			return errors.New("single client mapping strategy requires singleClientId")
		}
	case ClientMappingCustomField:
		if strings.TrimSpace(o.ClientCustomFieldName) == "" {
			return errors.New("custom_field client mapping strategy requires clientCustomFieldName")
		}
	case ClientMappingPerProject, ClientMappingTeam:
		// Per-project tolerates a sparse (or empty) map; missing entries become
		// skip decisions. Team needs no extra configuration.
	case "":
		return errors.New("clientMappingStrategy is required")
	default:
		return fmt.Errorf("unknown client mapping strategy %q", o.ClientMappingStrategy)
	}
	return nil
}
