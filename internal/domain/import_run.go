package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ImportRunStatus captures the lifecycle state of one import attempt.
type ImportRunStatus string

const (
	ImportRunStatusQueued              ImportRunStatus = "queued"
	ImportRunStatusRunning             ImportRunStatus = "running"
	ImportRunStatusCompleted           ImportRunStatus = "completed"
	ImportRunStatusCompletedWithErrors ImportRunStatus = "completed_with_errors"
	ImportRunStatusFailed              ImportRunStatus = "failed"
)

// Terminal reports whether the status can never change again.
func (s ImportRunStatus) Terminal() bool {
	switch s {
	case ImportRunStatusCompleted, ImportRunStatusCompletedWithErrors, ImportRunStatusFailed:
		return true
	}
	return false
}

// Entity type labels used in execution summaries, error logs and the entity
// mapping table.
const (
	EntityTypeClient  = "client"
	EntityTypeProject = "project"
	EntityTypeTask    = "task"
	EntityTypeSubtask = "subtask"
	EntityTypeUser    = "user"
	// EntityTypeSystem labels the synthetic error entry written when a run
	// fails at the top level.
	EntityTypeSystem = "system"
)

// EntityCounts tallies outcomes for one entity type within a run.
type EntityCounts struct {
	Created int `json:"created"`
	Reused  int `json:"reused"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// ExecutionSummary maps entity type to its outcome counts.
type ExecutionSummary map[string]EntityCounts

// Add records one outcome for the given entity type.
func (s ExecutionSummary) Add(entityType string, delta EntityCounts) {
	c := s[entityType]
	c.Created += delta.Created
	c.Reused += delta.Reused
	c.Skipped += delta.Skipped
	c.Failed += delta.Failed
	s[entityType] = c
}

// Merge folds another summary into this one.
func (s ExecutionSummary) Merge(other ExecutionSummary) {
	for entityType, counts := range other {
		s.Add(entityType, counts)
	}
}

// ImportRunError is one entity-level failure recorded during a run. Entity
// failures never abort the run; they accumulate here.
type ImportRunError struct {
	EntityType  string `json:"entity_type"`
	ExternalGID string `json:"external_gid"`
	Name        string `json:"name"`
	Message     string `json:"message"`
}

// ImportRun is the persisted ledger row for one import attempt. The pipeline
// is the only writer of Phase and the terminal fields.
type ImportRun struct {
	ID                   uuid.UUID        `json:"id"`
	TenantID             uuid.UUID        `json:"tenant_id"`
	ActorUserID          uuid.UUID        `json:"actor_user_id"`
	ExternalWorkspaceGID string           `json:"external_workspace_gid"`
	TargetWorkspaceID    uuid.UUID        `json:"target_workspace_id"`
	Status               ImportRunStatus  `json:"status"`
	Phase                string           `json:"phase"`
	Summary              ExecutionSummary `json:"execution_summary"`
	Errors               []ImportRunError `json:"error_log"`
	Options              ImportOptions    `json:"options"`
	StartedAt            time.Time        `json:"started_at"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
}

// NewImportRun creates a ledger row in the running state.
func NewImportRun(tenantID, actorUserID uuid.UUID, externalWorkspaceGID string, targetWorkspaceID uuid.UUID, options ImportOptions) ImportRun {
	return ImportRun{
		ID:                   uuid.New(),
		TenantID:             tenantID,
		ActorUserID:          actorUserID,
		ExternalWorkspaceGID: externalWorkspaceGID,
		TargetWorkspaceID:    targetWorkspaceID,
		Status:               ImportRunStatusRunning,
		Phase:                "Queued",
		Summary:              ExecutionSummary{},
		Errors:               []ImportRunError{},
		Options:              options,
		StartedAt:            time.Now(),
	}
}

// SummaryToJSON marshals the execution summary into the JSONB layout stored in
// Postgres.
func (r ImportRun) SummaryToJSON() (json.RawMessage, error) {
	summary := r.Summary
	if summary == nil {
		summary = ExecutionSummary{}
	}
	return json.Marshal(summary)
}

// ErrorsToJSON marshals the error log for storage.
func (r ImportRun) ErrorsToJSON() (json.RawMessage, error) {
	errs := r.Errors
	if errs == nil {
		errs = []ImportRunError{}
	}
	return json.Marshal(errs)
}

// SummaryFromJSON hydrates a stored execution summary.
func SummaryFromJSON(data []byte) (ExecutionSummary, error) {
	if len(data) == 0 {
		return ExecutionSummary{}, nil
	}
	var summary ExecutionSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, err
	}
	if summary == nil {
		summary = ExecutionSummary{}
	}
	return summary, nil
}

// RunErrorsFromJSON hydrates a stored error log.
func RunErrorsFromJSON(data []byte) ([]ImportRunError, error) {
	if len(data) == 0 {
		return []ImportRunError{}, nil
	}
	var errs []ImportRunError
	if err := json.Unmarshal(data, &errs); err != nil {
		return nil, err
	}
	if errs == nil {
		errs = []ImportRunError{}
	}
	return errs, nil
}
