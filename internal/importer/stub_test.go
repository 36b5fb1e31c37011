package importer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumenhq/taskpilot/internal/domain"
	"github.com/lumenhq/taskpilot/internal/repository"
	"github.com/lumenhq/taskpilot/internal/source"
)

// stubProvider serves canned external data. Error fields inject failures per
// call site; blockList, when set, stalls ListProjects until released.
type stubProvider struct {
	identity   source.Identity
	workspaces []source.Workspace
	projects   map[string][]source.Project
	tasks      map[string][]source.Task

	connectionErr error
	projectsErr   error
	tasksErr      map[string]error

	blockList chan struct{}

	mu           sync.Mutex
	listTaskGIDs []string
}

func (p *stubProvider) TestConnection(ctx context.Context) (source.Identity, error) {
	if p.connectionErr != nil {
		return source.Identity{}, p.connectionErr
	}
	return p.identity, nil
}

func (p *stubProvider) ListWorkspaces(ctx context.Context) ([]source.Workspace, error) {
	return p.workspaces, nil
}

func (p *stubProvider) ListProjects(ctx context.Context, workspaceGID string) ([]source.Project, error) {
	if p.blockList != nil {
		<-p.blockList
	}
	if p.projectsErr != nil {
		return nil, p.projectsErr
	}
	return p.projects[workspaceGID], nil
}

func (p *stubProvider) ListTasks(ctx context.Context, projectGID string) ([]source.Task, error) {
	p.mu.Lock()
	p.listTaskGIDs = append(p.listTaskGIDs, projectGID)
	p.mu.Unlock()
	if err := p.tasksErr[projectGID]; err != nil {
		return nil, err
	}
	return p.tasks[projectGID], nil
}

func (p *stubProvider) taskFetches() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.listTaskGIDs...)
}

type stubFactory struct {
	provider source.Provider
	err      error
}

func (f *stubFactory) ForTenant(ctx context.Context, tenantID uuid.UUID) (source.Provider, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.provider, nil
}

// memRunRepo is an in-memory run ledger with the same terminal-state guard as
// the Postgres implementation.
type memRunRepo struct {
	mu   sync.Mutex
	runs map[uuid.UUID]domain.ImportRun
}

func newMemRunRepo() *memRunRepo {
	return &memRunRepo{runs: map[uuid.UUID]domain.ImportRun{}}
}

func (r *memRunRepo) Create(ctx context.Context, run domain.ImportRun) (domain.ImportRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run
	return run, nil
}

func (r *memRunRepo) UpdatePhase(ctx context.Context, runID uuid.UUID, phase string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok || run.Status != domain.ImportRunStatusRunning {
		return nil
	}
	run.Phase = phase
	r.runs[runID] = run
	return nil
}

func (r *memRunRepo) Complete(ctx context.Context, runID uuid.UUID, status domain.ImportRunStatus, summary domain.ExecutionSummary, errs []domain.ImportRunError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return repository.ErrNotFound
	}
	if run.Status != domain.ImportRunStatusRunning {
		return repository.ErrRunStatusConflict
	}
	now := time.Now()
	run.Status = status
	run.Summary = summary
	run.Errors = errs
	run.CompletedAt = &now
	r.runs[runID] = run
	return nil
}

func (r *memRunRepo) GetByID(ctx context.Context, tenantID, runID uuid.UUID) (domain.ImportRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok || run.TenantID != tenantID {
		return domain.ImportRun{}, repository.ErrNotFound
	}
	return run, nil
}

func (r *memRunRepo) ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.ImportRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.ImportRun
	for _, run := range r.runs {
		if run.TenantID == tenantID {
			result = append(result, run)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// memMappingRepo mirrors the insert-if-absent semantics of the Postgres
// mapping table.
type memMappingRepo struct {
	mu       sync.Mutex
	mappings map[domain.MappingKey]uuid.UUID
}

func newMemMappingRepo() *memMappingRepo {
	return &memMappingRepo{mappings: map[domain.MappingKey]uuid.UUID{}}
}

func (r *memMappingRepo) Ensure(ctx context.Context, key domain.MappingKey, internalID uuid.UUID) (uuid.UUID, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.mappings[key]; ok {
		return existing, false, nil
	}
	r.mappings[key] = internalID
	return internalID, true, nil
}

func (r *memMappingRepo) Lookup(ctx context.Context, key domain.MappingKey) (uuid.UUID, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.mappings[key]
	return id, ok, nil
}

func (r *memMappingRepo) ListByType(ctx context.Context, tenantID uuid.UUID, externalSystem, entityType string) (map[string]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := map[string]uuid.UUID{}
	for key, id := range r.mappings {
		if key.TenantID == tenantID && key.ExternalSystem == externalSystem && key.EntityType == entityType {
			result[key.ExternalGID] = id
		}
	}
	return result, nil
}

func (r *memMappingRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mappings)
}

// memDirectoryRepo keys find-or-create the way the Postgres unique indexes do.
type memDirectoryRepo struct {
	mu         sync.Mutex
	workspaces map[uuid.UUID]domain.Workspace
	clients    map[string]domain.Client
	projects   map[string]domain.Project
	tasks      map[string]domain.Task
	users      map[string]domain.User

	createUserErr error
	createTaskErr map[string]error
}

func newMemDirectoryRepo() *memDirectoryRepo {
	return &memDirectoryRepo{
		workspaces: map[uuid.UUID]domain.Workspace{},
		clients:    map[string]domain.Client{},
		projects:   map[string]domain.Project{},
		tasks:      map[string]domain.Task{},
		users:      map[string]domain.User{},
	}
}

func (r *memDirectoryRepo) addWorkspace(ws domain.Workspace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workspaces[ws.ID] = ws
}

func (r *memDirectoryRepo) addUser(user domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userKey(user.TenantID, user.Email)] = user
}

func userKey(tenantID uuid.UUID, email string) string {
	return tenantID.String() + "/" + strings.ToLower(email)
}

func (r *memDirectoryRepo) GetWorkspace(ctx context.Context, tenantID, workspaceID uuid.UUID) (domain.Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.workspaces[workspaceID]
	if !ok || ws.TenantID != tenantID {
		return domain.Workspace{}, repository.ErrNotFound
	}
	return ws, nil
}

func (r *memDirectoryRepo) FindOrCreateClient(ctx context.Context, params repository.ClientParams) (domain.Client, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := fmt.Sprintf("%s/%s/%s", params.TenantID, params.WorkspaceID, strings.ToLower(params.Name))
	if existing, ok := r.clients[key]; ok {
		return existing, false, nil
	}
	client := domain.Client{
		ID:          uuid.New(),
		TenantID:    params.TenantID,
		WorkspaceID: params.WorkspaceID,
		Name:        params.Name,
	}
	if params.ExternalKey != "" {
		externalKey := params.ExternalKey
		client.ExternalKey = &externalKey
	}
	r.clients[key] = client
	return client, true, nil
}

func (r *memDirectoryRepo) FindOrCreateProject(ctx context.Context, params repository.ProjectParams) (domain.Project, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := params.TenantID.String() + "/" + params.ExternalGID
	if existing, ok := r.projects[key]; ok {
		return existing, false, nil
	}
	externalGID := params.ExternalGID
	project := domain.Project{
		ID:          uuid.New(),
		TenantID:    params.TenantID,
		WorkspaceID: params.WorkspaceID,
		ClientID:    params.ClientID,
		Name:        params.Name,
		Description: params.Description,
		ExternalGID: &externalGID,
	}
	r.projects[key] = project
	return project, true, nil
}

func (r *memDirectoryRepo) FindOrCreateTask(ctx context.Context, params repository.TaskParams) (domain.Task, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.createTaskErr[params.ExternalGID]; err != nil {
		return domain.Task{}, false, err
	}
	key := params.TenantID.String() + "/" + params.ExternalGID
	if existing, ok := r.tasks[key]; ok {
		return existing, false, nil
	}
	externalGID := params.ExternalGID
	task := domain.Task{
		ID:           uuid.New(),
		TenantID:     params.TenantID,
		ProjectID:    params.ProjectID,
		ParentTaskID: params.ParentTaskID,
		Title:        params.Title,
		Description:  params.Description,
		AssigneeID:   params.AssigneeID,
		Completed:    params.Completed,
		ExternalGID:  &externalGID,
	}
	r.tasks[key] = task
	return task, true, nil
}

func (r *memDirectoryRepo) FindOrCreateUser(ctx context.Context, params repository.UserParams) (domain.User, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createUserErr != nil {
		return domain.User{}, false, r.createUserErr
	}
	key := userKey(params.TenantID, params.Email)
	if existing, ok := r.users[key]; ok {
		return existing, false, nil
	}
	user := domain.User{
		ID:       uuid.New(),
		TenantID: params.TenantID,
		Email:    strings.ToLower(params.Email),
		FullName: params.FullName,
	}
	r.users[key] = user
	return user, true, nil
}

func (r *memDirectoryRepo) ListUsers(ctx context.Context, tenantID uuid.UUID) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.User
	for _, user := range r.users {
		if user.TenantID == tenantID {
			result = append(result, user)
		}
	}
	return result, nil
}

func (r *memDirectoryRepo) taskByGID(tenantID uuid.UUID, gid string) (domain.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[tenantID.String()+"/"+gid]
	return task, ok
}

func (r *memDirectoryRepo) counts() (clients, projects, tasks, users int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients), len(r.projects), len(r.tasks), len(r.users)
}

type memAuditRepo struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (r *memAuditRepo) Record(ctx context.Context, event domain.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *memAuditRepo) recorded() []domain.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AuditEvent(nil), r.events...)
}
