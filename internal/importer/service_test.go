package importer

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lumenhq/taskpilot/internal/domain"
	"github.com/lumenhq/taskpilot/internal/repository"
	"github.com/lumenhq/taskpilot/internal/source"
)

type testEnv struct {
	svc       *Service
	runs      *memRunRepo
	mappings  *memMappingRepo
	directory *memDirectoryRepo
	audit     *memAuditRepo
	provider  *stubProvider

	tenantID  uuid.UUID
	actorID   uuid.UUID
	workspace domain.Workspace
}

// newTestEnv wires the pipeline against in-memory state: one tenant, one
// workspace, one member (dana@example.com), and an external workspace ws1
// with two projects on the same team.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tenantID := uuid.New()
	workspace := domain.NewWorkspace(tenantID, "Operations")

	directory := newMemDirectoryRepo()
	directory.addWorkspace(workspace)
	directory.addUser(domain.User{
		ID:       uuid.New(),
		TenantID: tenantID,
		Email:    "dana@example.com",
		FullName: "Dana",
	})

	provider := &stubProvider{
		identity: source.Identity{GID: "me", Email: "owner@example.com"},
		projects: map[string][]source.Project{
			"ws1": {
				{GID: "p1", Name: "Website", TeamGID: "t1", TeamName: "Design"},
				{GID: "p2", Name: "Branding", TeamGID: "t1", TeamName: "Design"},
			},
		},
		tasks: map[string][]source.Task{
			"p1": {
				{
					GID: "task1", Name: "Draft homepage",
					AssigneeGID: "u1", AssigneeEmail: "dana@example.com",
					NumSubtasks: 1,
					Subtasks:    []source.Task{{GID: "sub1", Name: "Pick palette"}},
				},
				{GID: "task2", Name: "Write copy"},
			},
			"p2": {
				{GID: "task3", Name: "Logo refresh"},
			},
		},
	}

	env := &testEnv{
		runs:      newMemRunRepo(),
		mappings:  newMemMappingRepo(),
		directory: directory,
		audit:     &memAuditRepo{},
		provider:  provider,
		tenantID:  tenantID,
		actorID:   uuid.New(),
		workspace: workspace,
	}
	env.svc = NewService(
		&stubFactory{provider: provider},
		env.runs,
		env.mappings,
		env.directory,
		env.audit,
		WithWorkerPoolSize(2),
	)
	return env
}

func (env *testEnv) request() Request {
	return Request{
		ExternalWorkspaceGID: "ws1",
		ExternalProjectGIDs:  []string{"p1", "p2"},
		TargetWorkspaceID:    env.workspace.ID,
		Options: domain.ImportOptions{
			AutoCreateClients:     true,
			AutoCreateProjects:    true,
			AutoCreateTasks:       true,
			FallbackUnassigned:    true,
			ClientMappingStrategy: domain.ClientMappingTeam,
		},
	}
}

// execute runs the pipeline to completion and returns the final ledger row.
func (env *testEnv) execute(t *testing.T, req Request) domain.ImportRun {
	t.Helper()
	run, err := env.svc.Execute(context.Background(), env.tenantID, env.actorID, req)
	require.NoError(t, err)
	env.svc.Wait()
	final, err := env.svc.GetRun(context.Background(), env.tenantID, run.ID)
	require.NoError(t, err)
	return final
}

func TestExecuteImportsHierarchy(t *testing.T) {
	env := newTestEnv(t)

	run := env.execute(t, env.request())
	require.Equal(t, domain.ImportRunStatusCompleted, run.Status)
	require.Empty(t, run.Errors)
	require.NotNil(t, run.CompletedAt)

	// Two projects on one team share a single client.
	require.Equal(t, 1, run.Summary[domain.EntityTypeClient].Created)
	require.Equal(t, 1, run.Summary[domain.EntityTypeClient].Reused)
	require.Equal(t, 2, run.Summary[domain.EntityTypeProject].Created)
	require.Equal(t, 3, run.Summary[domain.EntityTypeTask].Created)
	require.Equal(t, 1, run.Summary[domain.EntityTypeSubtask].Created)

	clients, projects, tasks, users := env.directory.counts()
	require.Equal(t, 1, clients)
	require.Equal(t, 2, projects)
	require.Equal(t, 4, tasks)
	require.Equal(t, 1, users)

	events := env.audit.recorded()
	require.Len(t, events, 1)
	require.Equal(t, domain.AuditEventImportCompleted, events[0].EventType)
	require.Equal(t, run.ID, events[0].SubjectID)
}

func TestExecuteIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	first := env.execute(t, env.request())
	require.Equal(t, domain.ImportRunStatusCompleted, first.Status)
	mappingsAfterFirst := env.mappings.count()

	second := env.execute(t, env.request())
	require.Equal(t, domain.ImportRunStatusCompleted, second.Status)

	// The second run reuses everything and creates nothing new.
	require.Equal(t, 0, second.Summary[domain.EntityTypeProject].Created)
	require.Equal(t, 2, second.Summary[domain.EntityTypeProject].Reused)
	require.Equal(t, 0, second.Summary[domain.EntityTypeTask].Created)
	require.Equal(t, 3, second.Summary[domain.EntityTypeTask].Reused)
	require.Equal(t, mappingsAfterFirst, env.mappings.count())

	clients, projects, tasks, _ := env.directory.counts()
	require.Equal(t, 1, clients)
	require.Equal(t, 2, projects)
	require.Equal(t, 4, tasks)
}

func TestExecuteIsolatesEntityFailures(t *testing.T) {
	env := newTestEnv(t)
	req := env.request()
	// Unresolvable assignees now fail their task instead of falling back.
	req.Options.FallbackUnassigned = false
	env.provider.tasks["p2"] = []source.Task{
		{GID: "task3", Name: "Logo refresh", AssigneeGID: "stranger", AssigneeEmail: "ghost@example.com"},
	}

	run := env.execute(t, req)
	require.Equal(t, domain.ImportRunStatusCompletedWithErrors, run.Status)
	require.Len(t, run.Errors, 1)
	require.Equal(t, domain.EntityTypeTask, run.Errors[0].EntityType)
	require.Equal(t, "task3", run.Errors[0].ExternalGID)
	require.Equal(t, 1, run.Summary[domain.EntityTypeTask].Failed)

	// The failing task does not block its siblings.
	require.Equal(t, 2, run.Summary[domain.EntityTypeTask].Created)
	require.Equal(t, 2, run.Summary[domain.EntityTypeProject].Created)

	// A re-run hits the same failure again without duplicating anything else.
	again := env.execute(t, req)
	require.Equal(t, domain.ImportRunStatusCompletedWithErrors, again.Status)
	require.Len(t, again.Errors, 1)
	require.Equal(t, "task3", again.Errors[0].ExternalGID)
	require.Equal(t, 2, again.Summary[domain.EntityTypeTask].Reused)
}

func TestExecuteIsolatesPersistenceFailures(t *testing.T) {
	env := newTestEnv(t)
	env.directory.createTaskErr = map[string]error{
		"task2": errors.New(`duplicate key value violates unique constraint "idx_tasks_external_gid"`),
	}
	// task3's assignee resolves to nobody; the fallback imports it unassigned.
	env.provider.tasks["p2"] = []source.Task{
		{GID: "task3", Name: "Logo refresh", AssigneeGID: "stranger", AssigneeEmail: "ghost@example.com"},
	}

	run := env.execute(t, env.request())
	require.Equal(t, domain.ImportRunStatusCompletedWithErrors, run.Status)
	require.Len(t, run.Errors, 1)
	require.Equal(t, domain.EntityTypeTask, run.Errors[0].EntityType)
	require.Equal(t, "task2", run.Errors[0].ExternalGID)
	require.Contains(t, run.Errors[0].Message, "create task")

	// Siblings land despite the failure; the fallback task is not an error.
	require.Equal(t, 2, run.Summary[domain.EntityTypeTask].Created)
	require.Equal(t, 1, run.Summary[domain.EntityTypeTask].Failed)
	require.Equal(t, 1, run.Summary[domain.EntityTypeSubtask].Created)

	task3, ok := env.directory.taskByGID(env.tenantID, "task3")
	require.True(t, ok)
	require.Nil(t, task3.AssigneeID)

	// The failed creation left no mapping row behind; its sibling has one.
	_, found, err := env.mappings.Lookup(context.Background(), taskMappingKey(env.tenantID, "task2"))
	require.NoError(t, err)
	require.False(t, found)
	_, found, err = env.mappings.Lookup(context.Background(), taskMappingKey(env.tenantID, "task1"))
	require.NoError(t, err)
	require.True(t, found)
}

func taskMappingKey(tenantID uuid.UUID, gid string) domain.MappingKey {
	return domain.MappingKey{
		TenantID:       tenantID,
		ExternalSystem: domain.ExternalSystemAsana,
		EntityType:     domain.EntityTypeTask,
		ExternalGID:    gid,
	}
}

func TestExecuteRecordsUserCreationFailure(t *testing.T) {
	env := newTestEnv(t)
	env.directory.createUserErr = errors.New("connection reset by peer")
	req := env.request()
	req.Options.AutoCreateUsers = true
	env.provider.tasks["p2"] = []source.Task{
		{GID: "task3", Name: "Logo refresh", AssigneeGID: "u9", AssigneeEmail: "new@example.com"},
	}

	run := env.execute(t, req)
	require.Equal(t, domain.ImportRunStatusCompletedWithErrors, run.Status)
	require.Len(t, run.Errors, 1)
	require.Equal(t, domain.EntityTypeUser, run.Errors[0].EntityType)
	require.Equal(t, 1, run.Summary[domain.EntityTypeUser].Failed)
	require.Equal(t, 2, run.Summary[domain.EntityTypeTask].Created)

	// The dependent task is not created and no user mapping row is left.
	_, ok := env.directory.taskByGID(env.tenantID, "task3")
	require.False(t, ok)
	_, found, err := env.mappings.Lookup(context.Background(), userMappingKey(env.tenantID, "u9"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestCompleteIsWriteOnceOnFinishedRuns(t *testing.T) {
	env := newTestEnv(t)

	run := env.execute(t, env.request())
	require.Equal(t, domain.ImportRunStatusCompleted, run.Status)

	err := env.runs.Complete(context.Background(), run.ID, domain.ImportRunStatusFailed, domain.ExecutionSummary{}, nil)
	require.ErrorIs(t, err, repository.ErrRunStatusConflict)

	final, err := env.svc.GetRun(context.Background(), env.tenantID, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ImportRunStatusCompleted, final.Status)
	require.Empty(t, final.Errors)
}

func TestExecuteRecordsProjectLevelTaskFetchFailure(t *testing.T) {
	env := newTestEnv(t)
	env.provider.tasksErr = map[string]error{"p2": source.ErrSourceUnavailable}

	run := env.execute(t, env.request())
	require.Equal(t, domain.ImportRunStatusCompletedWithErrors, run.Status)
	require.Len(t, run.Errors, 1)
	require.Equal(t, domain.EntityTypeProject, run.Errors[0].EntityType)
	require.Equal(t, "p2", run.Errors[0].ExternalGID)

	// p1's hierarchy still landed in full.
	require.Equal(t, 2, run.Summary[domain.EntityTypeTask].Created)
	require.Equal(t, 1, run.Summary[domain.EntityTypeSubtask].Created)
}

func TestExecuteFailsWhenProjectListingFails(t *testing.T) {
	env := newTestEnv(t)
	env.provider.projectsErr = source.ErrSourceUnavailable

	run := env.execute(t, env.request())
	require.Equal(t, domain.ImportRunStatusFailed, run.Status)
	require.NotEmpty(t, run.Errors)
	require.Equal(t, domain.EntityTypeSystem, run.Errors[0].EntityType)

	events := env.audit.recorded()
	require.Len(t, events, 1)
	require.Equal(t, domain.AuditEventImportFailed, events[0].EventType)
}

func TestExecuteRejectsConcurrentRunsOnSameWorkspace(t *testing.T) {
	env := newTestEnv(t)
	env.provider.blockList = make(chan struct{})

	_, err := env.svc.Execute(context.Background(), env.tenantID, env.actorID, env.request())
	require.NoError(t, err)

	_, err = env.svc.Execute(context.Background(), env.tenantID, env.actorID, env.request())
	require.ErrorIs(t, err, ErrWorkspaceBusy)

	close(env.provider.blockList)
	env.svc.Wait()

	// The lock is released once the first run finishes.
	env.provider.blockList = nil
	_, err = env.svc.Execute(context.Background(), env.tenantID, env.actorID, env.request())
	require.NoError(t, err)
	env.svc.Wait()
}

func TestExecuteWithoutCredentialReturnsError(t *testing.T) {
	env := newTestEnv(t)
	env.svc = NewService(
		&stubFactory{err: source.ErrNoCredential},
		env.runs, env.mappings, env.directory, env.audit,
	)

	_, err := env.svc.Execute(context.Background(), env.tenantID, env.actorID, env.request())
	require.ErrorIs(t, err, source.ErrNoCredential)

	// No ledger row is written for a request that never started.
	runs, listErr := env.svc.ListRuns(context.Background(), env.tenantID, 10)
	require.NoError(t, listErr)
	require.Empty(t, runs)
}

func TestExecuteRejectsUnknownProjectRequest(t *testing.T) {
	env := newTestEnv(t)
	req := env.request()
	req.ExternalProjectGIDs = []string{"p1", "ghost"}

	run := env.execute(t, req)
	require.Equal(t, domain.ImportRunStatusCompletedWithErrors, run.Status)
	require.Len(t, run.Errors, 1)
	require.Equal(t, "ghost", run.Errors[0].ExternalGID)
	require.Equal(t, "project not found in external workspace", run.Errors[0].Message)
}

func TestExecuteFlagsDeeplyNestedSubtasks(t *testing.T) {
	env := newTestEnv(t)
	env.provider.tasks["p1"] = []source.Task{
		{
			GID: "task1", Name: "Draft homepage",
			NumSubtasks: 1,
			Subtasks: []source.Task{
				{GID: "sub1", Name: "Pick palette", NumSubtasks: 2},
			},
		},
	}

	run := env.execute(t, env.request())
	require.Equal(t, domain.ImportRunStatusCompletedWithErrors, run.Status)
	require.Len(t, run.Errors, 1)
	require.Equal(t, domain.EntityTypeSubtask, run.Errors[0].EntityType)
	require.Equal(t, "sub1", run.Errors[0].ExternalGID)

	// The flagged subtask is still imported; only its children are dropped.
	require.Equal(t, 1, run.Summary[domain.EntityTypeSubtask].Created)
}

func TestExecuteSkipsWithoutAutoCreate(t *testing.T) {
	env := newTestEnv(t)
	req := env.request()
	req.Options.AutoCreateTasks = false

	run := env.execute(t, req)
	require.Equal(t, domain.ImportRunStatusCompleted, run.Status)
	require.Equal(t, 3, run.Summary[domain.EntityTypeTask].Skipped)
	require.Equal(t, 0, run.Summary[domain.EntityTypeTask].Created)

	_, _, tasks, _ := env.directory.counts()
	require.Equal(t, 0, tasks)
}

func TestExecuteAutoCreatesUsers(t *testing.T) {
	env := newTestEnv(t)
	req := env.request()
	req.Options.AutoCreateUsers = true
	env.provider.tasks["p2"] = []source.Task{
		{GID: "task3", Name: "Logo refresh", AssigneeGID: "u9", AssigneeEmail: "new@example.com"},
	}

	run := env.execute(t, req)
	require.Equal(t, domain.ImportRunStatusCompleted, run.Status)
	require.Equal(t, 1, run.Summary[domain.EntityTypeUser].Created)

	_, _, _, users := env.directory.counts()
	require.Equal(t, 2, users)
}

func TestExecuteValidatesRequest(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Execute(context.Background(), env.tenantID, env.actorID, Request{})
	require.Error(t, err)

	req := env.request()
	req.TargetWorkspaceID = uuid.New()
	_, err = env.svc.Execute(context.Background(), env.tenantID, env.actorID, req)
	require.Error(t, err)
}

func TestListSourceWorkspaces(t *testing.T) {
	env := newTestEnv(t)
	env.provider.workspaces = []source.Workspace{{GID: "ws1", Name: "Acme"}}

	workspaces, err := env.svc.ListSourceWorkspaces(context.Background(), env.tenantID)
	require.NoError(t, err)
	require.Len(t, workspaces, 1)
	require.Equal(t, "ws1", workspaces[0].GID)
}

func TestTestConnection(t *testing.T) {
	env := newTestEnv(t)

	identity, err := env.svc.TestConnection(context.Background(), env.tenantID)
	require.NoError(t, err)
	require.Equal(t, "owner@example.com", identity.Email)

	env.provider.connectionErr = source.ErrUnauthorized
	_, err = env.svc.TestConnection(context.Background(), env.tenantID)
	require.ErrorIs(t, err, source.ErrUnauthorized)
}
