package domain

// Planned action values in a validation report.
const (
	PlannedActionCreate = "create"
	PlannedActionReuse  = "reuse"
	PlannedActionSkip   = "skip"
	PlannedActionFail   = "fail"
)

// PlannedAction describes what execute would do with one external entity.
type PlannedAction struct {
	EntityType  string `json:"entity_type"`
	ExternalGID string `json:"external_gid"`
	Name        string `json:"name"`
	Action      string `json:"action"`
	Reason      string `json:"reason,omitempty"`
}

// ProjectPlan groups planned actions under the external project they belong to.
type ProjectPlan struct {
	ExternalGID string          `json:"external_gid"`
	Name        string          `json:"name"`
	Actions     []PlannedAction `json:"actions"`
	Problems    []string        `json:"problems,omitempty"`
}

// ValidationReport is the output of the pipeline's dry-run phase. It is never
// persisted; identical external and internal state yields an identical report.
type ValidationReport struct {
	ExternalWorkspaceGID string        `json:"external_workspace_gid"`
	Projects             []ProjectPlan `json:"projects"`
	// Blocking problems guarantee execute cannot complete clean: a missing
	// requested project, or an entity that would be recorded as failed.
	Blocking []string `json:"blocking,omitempty"`
}

// HasBlockingProblems reports whether execute would record errors for this request.
func (r ValidationReport) HasBlockingProblems() bool {
	return len(r.Blocking) > 0
}
