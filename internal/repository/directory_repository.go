package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenhq/taskpilot/internal/domain"
)

type directoryRepository struct {
	pool *pgxpool.Pool
}

// NewDirectoryRepository wires the tenant directory (workspaces, clients,
// projects, tasks, users) backed by pgxpool.
func NewDirectoryRepository(pool *pgxpool.Pool) DirectoryRepository {
	return &directoryRepository{pool: pool}
}

func (r *directoryRepository) GetWorkspace(ctx context.Context, tenantID, workspaceID uuid.UUID) (domain.Workspace, error) {
	if r.pool == nil {
		return domain.Workspace{}, fmt.Errorf("directory repository not initialized")
	}

	var ws domain.Workspace
	err := r.pool.QueryRow(
		ctx,
		`SELECT id, tenant_id, name, created_at, updated_at
		 FROM workspaces WHERE id = $1 AND tenant_id = $2`,
		workspaceID,
		tenantID,
	).Scan(&ws.ID, &ws.TenantID, &ws.Name, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Workspace{}, ErrNotFound
		}
		return domain.Workspace{}, fmt.Errorf("get workspace: %w", err)
	}
	return ws, nil
}

func (r *directoryRepository) FindOrCreateClient(ctx context.Context, params ClientParams) (domain.Client, bool, error) {
	if r.pool == nil {
		return domain.Client{}, false, fmt.Errorf("directory repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO clients (id, tenant_id, workspace_id, name, external_key)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		 ON CONFLICT (tenant_id, workspace_id, lower(name)) DO UPDATE SET updated_at = clients.updated_at
		 RETURNING id, tenant_id, workspace_id, name, external_key, created_at, updated_at,
		           (xmax = 0) AS inserted`,
		uuid.New(),
		params.TenantID,
		params.WorkspaceID,
		strings.TrimSpace(params.Name),
		params.ExternalKey,
	)
	return scanClient(row)
}

func scanClient(row pgx.Row) (domain.Client, bool, error) {
	var (
		client      domain.Client
		externalKey pgtype.Text
		inserted    bool
	)
	if err := row.Scan(
		&client.ID,
		&client.TenantID,
		&client.WorkspaceID,
		&client.Name,
		&externalKey,
		&client.CreatedAt,
		&client.UpdatedAt,
		&inserted,
	); err != nil {
		return domain.Client{}, false, fmt.Errorf("find or create client: %w", err)
	}
	if externalKey.Valid {
		client.ExternalKey = &externalKey.String
	}
	return client, inserted, nil
}

func (r *directoryRepository) FindOrCreateProject(ctx context.Context, params ProjectParams) (domain.Project, bool, error) {
	if r.pool == nil {
		return domain.Project{}, false, fmt.Errorf("directory repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO projects (id, tenant_id, workspace_id, client_id, name, description, external_gid)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		 ON CONFLICT (tenant_id, external_gid) WHERE external_gid IS NOT NULL
		 DO UPDATE SET updated_at = projects.updated_at
		 RETURNING id, tenant_id, workspace_id, client_id, name, description, external_gid,
		           created_at, updated_at, (xmax = 0) AS inserted`,
		uuid.New(),
		params.TenantID,
		params.WorkspaceID,
		params.ClientID,
		strings.TrimSpace(params.Name),
		params.Description,
		params.ExternalGID,
	)

	var (
		project     domain.Project
		externalGID pgtype.Text
		inserted    bool
	)
	if err := row.Scan(
		&project.ID,
		&project.TenantID,
		&project.WorkspaceID,
		&project.ClientID,
		&project.Name,
		&project.Description,
		&externalGID,
		&project.CreatedAt,
		&project.UpdatedAt,
		&inserted,
	); err != nil {
		return domain.Project{}, false, fmt.Errorf("find or create project: %w", err)
	}
	if externalGID.Valid {
		project.ExternalGID = &externalGID.String
	}
	return project, inserted, nil
}

func (r *directoryRepository) FindOrCreateTask(ctx context.Context, params TaskParams) (domain.Task, bool, error) {
	if r.pool == nil {
		return domain.Task{}, false, fmt.Errorf("directory repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO tasks (id, tenant_id, project_id, parent_task_id, title, description, assignee_id, completed, external_gid)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
		 ON CONFLICT (tenant_id, external_gid) WHERE external_gid IS NOT NULL
		 DO UPDATE SET updated_at = tasks.updated_at
		 RETURNING id, tenant_id, project_id, parent_task_id, title, description, assignee_id, completed,
		           external_gid, created_at, updated_at, (xmax = 0) AS inserted`,
		uuid.New(),
		params.TenantID,
		params.ProjectID,
		params.ParentTaskID,
		strings.TrimSpace(params.Title),
		params.Description,
		params.AssigneeID,
		params.Completed,
		params.ExternalGID,
	)

	var (
		task         domain.Task
		parentTaskID pgtype.UUID
		assigneeID   pgtype.UUID
		externalGID  pgtype.Text
		inserted     bool
	)
	if err := row.Scan(
		&task.ID,
		&task.TenantID,
		&task.ProjectID,
		&parentTaskID,
		&task.Title,
		&task.Description,
		&assigneeID,
		&task.Completed,
		&externalGID,
		&task.CreatedAt,
		&task.UpdatedAt,
		&inserted,
	); err != nil {
		return domain.Task{}, false, fmt.Errorf("find or create task: %w", err)
	}
	if parentTaskID.Valid {
		id := uuid.UUID(parentTaskID.Bytes)
		task.ParentTaskID = &id
	}
	if assigneeID.Valid {
		id := uuid.UUID(assigneeID.Bytes)
		task.AssigneeID = &id
	}
	if externalGID.Valid {
		task.ExternalGID = &externalGID.String
	}
	return task, inserted, nil
}

func (r *directoryRepository) FindOrCreateUser(ctx context.Context, params UserParams) (domain.User, bool, error) {
	if r.pool == nil {
		return domain.User{}, false, fmt.Errorf("directory repository not initialized")
	}

	email := strings.ToLower(strings.TrimSpace(params.Email))
	if email == "" {
		return domain.User{}, false, fmt.Errorf("user email is required")
	}

	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO users (id, tenant_id, email, full_name)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, email) DO UPDATE SET email = users.email
		 RETURNING id, tenant_id, email, full_name, created_at, (xmax = 0) AS inserted`,
		uuid.New(),
		params.TenantID,
		email,
		params.FullName,
	)

	var (
		user     domain.User
		inserted bool
	)
	if err := row.Scan(&user.ID, &user.TenantID, &user.Email, &user.FullName, &user.CreatedAt, &inserted); err != nil {
		return domain.User{}, false, fmt.Errorf("find or create user: %w", err)
	}
	return user, inserted, nil
}

func (r *directoryRepository) ListUsers(ctx context.Context, tenantID uuid.UUID) ([]domain.User, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("directory repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, tenant_id, email, full_name, created_at
		 FROM users WHERE tenant_id = $1 ORDER BY email`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		var user domain.User
		if scanErr := rows.Scan(&user.ID, &user.TenantID, &user.Email, &user.FullName, &user.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("scan user: %w", scanErr)
		}
		users = append(users, user)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate users: %w", rowsErr)
	}
	return users, nil
}
