package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenhq/taskpilot/internal/domain"
)

type importRunRepository struct {
	pool *pgxpool.Pool
}

// NewImportRunRepository wires the run ledger backed by pgxpool.
func NewImportRunRepository(pool *pgxpool.Pool) ImportRunRepository {
	return &importRunRepository{pool: pool}
}

func (r *importRunRepository) Create(ctx context.Context, run domain.ImportRun) (domain.ImportRun, error) {
	if r.pool == nil {
		return domain.ImportRun{}, fmt.Errorf("import run repository not initialized")
	}

	summaryJSON, err := run.SummaryToJSON()
	if err != nil {
		return domain.ImportRun{}, fmt.Errorf("marshal execution summary: %w", err)
	}
	errorsJSON, err := run.ErrorsToJSON()
	if err != nil {
		return domain.ImportRun{}, fmt.Errorf("marshal error log: %w", err)
	}
	optionsJSON, err := json.Marshal(run.Options)
	if err != nil {
		return domain.ImportRun{}, fmt.Errorf("marshal import options: %w", err)
	}

	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO import_runs
		   (id, tenant_id, actor_user_id, external_workspace_gid, target_workspace_id,
		    status, phase, execution_summary, error_log, options, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID,
		run.TenantID,
		run.ActorUserID,
		run.ExternalWorkspaceGID,
		run.TargetWorkspaceID,
		string(run.Status),
		run.Phase,
		summaryJSON,
		errorsJSON,
		optionsJSON,
		run.StartedAt,
	)
	if err != nil {
		return domain.ImportRun{}, fmt.Errorf("insert import run: %w", err)
	}
	return run, nil
}

func (r *importRunRepository) UpdatePhase(ctx context.Context, runID uuid.UUID, phase string) error {
	if r.pool == nil {
		return fmt.Errorf("import run repository not initialized")
	}

	// Phase is informational; writes against a finished run are ignored
	// rather than treated as conflicts.
	_, err := r.pool.Exec(
		ctx,
		`UPDATE import_runs SET phase = $2 WHERE id = $1 AND status = 'running'`,
		runID,
		phase,
	)
	if err != nil {
		return fmt.Errorf("update import run phase: %w", err)
	}
	return nil
}

func (r *importRunRepository) Complete(ctx context.Context, runID uuid.UUID, status domain.ImportRunStatus, summary domain.ExecutionSummary, errs []domain.ImportRunError) error {
	if r.pool == nil {
		return fmt.Errorf("import run repository not initialized")
	}
	if !status.Terminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}

	if summary == nil {
		summary = domain.ExecutionSummary{}
	}
	if errs == nil {
		errs = []domain.ImportRunError{}
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal execution summary: %w", err)
	}
	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("marshal error log: %w", err)
	}

	tag, err := r.pool.Exec(
		ctx,
		`UPDATE import_runs
		 SET status = $2, execution_summary = $3, error_log = $4, completed_at = $5
		 WHERE id = $1 AND status = 'running'`,
		runID,
		string(status),
		summaryJSON,
		errorsJSON,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("complete import run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRunStatusConflict
	}
	return nil
}

func (r *importRunRepository) GetByID(ctx context.Context, tenantID, runID uuid.UUID) (domain.ImportRun, error) {
	if r.pool == nil {
		return domain.ImportRun{}, fmt.Errorf("import run repository not initialized")
	}

	row := r.pool.QueryRow(
		ctx,
		`SELECT id, tenant_id, actor_user_id, external_workspace_gid, target_workspace_id,
		        status, phase, execution_summary, error_log, options, started_at, completed_at
		 FROM import_runs
		 WHERE id = $1 AND tenant_id = $2`,
		runID,
		tenantID,
	)
	run, err := scanImportRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ImportRun{}, ErrNotFound
		}
		return domain.ImportRun{}, fmt.Errorf("get import run: %w", err)
	}
	return run, nil
}

func (r *importRunRepository) ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.ImportRun, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("import run repository not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, tenant_id, actor_user_id, external_workspace_gid, target_workspace_id,
		        status, phase, execution_summary, error_log, options, started_at, completed_at
		 FROM import_runs
		 WHERE tenant_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		tenantID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.ImportRun{}
	for rows.Next() {
		run, scanErr := scanImportRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan import run: %w", scanErr)
		}
		runs = append(runs, run)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate import runs: %w", rowsErr)
	}
	return runs, nil
}

func scanImportRun(row pgx.Row) (domain.ImportRun, error) {
	var (
		run         domain.ImportRun
		status      string
		summaryJSON []byte
		errorsJSON  []byte
		optionsJSON []byte
		completedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&run.ID,
		&run.TenantID,
		&run.ActorUserID,
		&run.ExternalWorkspaceGID,
		&run.TargetWorkspaceID,
		&status,
		&run.Phase,
		&summaryJSON,
		&errorsJSON,
		&optionsJSON,
		&run.StartedAt,
		&completedAt,
	); err != nil {
		return domain.ImportRun{}, err
	}

	run.Status = domain.ImportRunStatus(status)

	summary, err := domain.SummaryFromJSON(summaryJSON)
	if err != nil {
		return domain.ImportRun{}, fmt.Errorf("unmarshal execution summary: %w", err)
	}
	run.Summary = summary

	runErrs, err := domain.RunErrorsFromJSON(errorsJSON)
	if err != nil {
		return domain.ImportRun{}, fmt.Errorf("unmarshal error log: %w", err)
	}
	run.Errors = runErrs

	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &run.Options); err != nil {
			return domain.ImportRun{}, fmt.Errorf("unmarshal import options: %w", err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return run, nil
}
