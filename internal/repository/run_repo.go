package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/crewforge/crewd/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const runColumns = `id, status, mode, input, roles, user_rules, parent_run_id,
	COALESCE(seed_state, 'null'::jsonb), seed_goto, output_text, error,
	created_at, started_at, finished_at`

type RunRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewRunRepository(pool *pgxpool.Pool, logger *slog.Logger) *RunRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunRepository{
		pool:   pool,
		logger: logger,
	}
}

// CreateRun inserts a queued run and its run.created event in one
// transaction, so a run is never visible without event seq 1.
func (r *RunRepository) CreateRun(ctx context.Context, params domain.CreateRunParams) (domain.Run, error) {
	if strings.TrimSpace(params.Input) == "" {
		return domain.Run{}, domain.ErrEmptyInput
	}

	runID := uuid.New()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return domain.Run{}, err
	}
	defer tx.Rollback(ctx)

	roles := params.Roles
	if roles == nil {
		roles = []string{}
	}
	userRules := params.UserRules
	if userRules == nil {
		userRules = []string{}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO runs (id, status, mode, input, roles, user_rules,
			parent_run_id, seed_state, seed_goto)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		runID,
		domain.RunQueued,
		params.Mode,
		params.Input,
		roles,
		userRules,
		params.ParentRunID,
		params.SeedState,
		params.SeedGoto,
	)
	if err != nil {
		r.logger.Error("insert run failed", "run_id", runID, "error", err)
		return domain.Run{}, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO run_events (id, run_id, seq, type, message)
		VALUES ($1, $2, 1, $3, $4)
	`,
		uuid.New(),
		runID,
		domain.EventRunCreated,
		"run created",
	); err != nil {
		r.logger.Error("insert run.created event failed", "run_id", runID, "error", err)
		return domain.Run{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit failed", "run_id", runID, "error", err)
		return domain.Run{}, err
	}

	r.logger.Info("run created", "run_id", runID, "mode", params.Mode)
	return r.GetRun(ctx, runID)
}

func (r *RunRepository) GetRun(ctx context.Context, id uuid.UUID) (domain.Run, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id=$1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Run{}, domain.ErrRunNotFound
		}
		r.logger.Error("get run failed", "run_id", id, "error", err)
		return domain.Run{}, err
	}
	return run, nil
}

func (r *RunRepository) RunStatus(ctx context.Context, id uuid.UUID) (domain.RunStatus, error) {
	var status domain.RunStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM runs WHERE id=$1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrRunNotFound
		}
		r.logger.Error("read run status failed", "run_id", id, "error", err)
		return "", err
	}
	return status, nil
}

// ControlRun applies a pause, resume, or cancel request by writing the run
// status field. The driver observes the new value at its next control check.
func (r *RunRepository) ControlRun(ctx context.Context, runID uuid.UUID, target domain.RunStatus) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	var current domain.RunStatus
	if err := tx.QueryRow(ctx,
		`SELECT status FROM runs WHERE id=$1 FOR UPDATE`,
		runID,
	).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrRunNotFound
		}
		r.logger.Error("read run status failed", "run_id", runID, "error", err)
		return err
	}

	if current.IsTerminal() {
		return domain.ErrRunTerminal
	}

	switch target {
	case domain.RunPaused:
		if current != domain.RunRunning {
			return fmt.Errorf("%w: cannot pause a %s run", domain.ErrInvalidTransition, current)
		}
	case domain.RunRunning:
		if current != domain.RunPaused {
			return fmt.Errorf("%w: cannot resume a %s run", domain.ErrInvalidTransition, current)
		}
	case domain.RunCanceled:
		// any non-terminal state may be canceled
	default:
		return fmt.Errorf("%w: unsupported target %s", domain.ErrInvalidTransition, target)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE runs SET status=$2, updated_at=NOW() WHERE id=$1`,
		runID, target,
	); err != nil {
		r.logger.Error("update run control failed", "run_id", runID, "error", err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit failed", "run_id", runID, "error", err)
		return err
	}

	r.logger.Info("run control applied", "run_id", runID, "from", current, "to", target)
	return nil
}

// SetRunStatus stamps lifecycle timestamps alongside the status: started_at
// on the first transition to running, finished_at on any terminal status.
func (r *RunRepository) SetRunStatus(ctx context.Context, runID uuid.UUID, status domain.RunStatus) error {
	var err error
	switch {
	case status == domain.RunRunning:
		_, err = r.pool.Exec(ctx, `
			UPDATE runs
			SET status=$2,
			    started_at=COALESCE(started_at, NOW()),
			    updated_at=NOW()
			WHERE id=$1
		`, runID, status)
	case status.IsTerminal():
		_, err = r.pool.Exec(ctx, `
			UPDATE runs
			SET status=$2,
			    finished_at=COALESCE(finished_at, NOW()),
			    updated_at=NOW()
			WHERE id=$1
		`, runID, status)
	default:
		_, err = r.pool.Exec(ctx,
			`UPDATE runs SET status=$2, updated_at=NOW() WHERE id=$1`,
			runID, status)
	}
	if err != nil {
		r.logger.Error("update run status failed", "run_id", runID, "status", status, "error", err)
	}
	return err
}

func (r *RunRepository) SetRunOutput(ctx context.Context, runID uuid.UUID, output string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE runs SET output_text=$2, updated_at=NOW() WHERE id=$1`,
		runID, output,
	)
	if err != nil {
		r.logger.Error("update run output failed", "run_id", runID, "error", err)
	}
	return err
}

func (r *RunRepository) SetRunError(ctx context.Context, runID uuid.UUID, message string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE runs SET error=$2, updated_at=NOW() WHERE id=$1`,
		runID, message,
	)
	if err != nil {
		r.logger.Error("update run error failed", "run_id", runID, "error", err)
	}
	return err
}

// ClaimQueuedRun atomically flips the oldest queued run to running and
// returns it. SKIP LOCKED keeps concurrent workers from double-claiming;
// pgx.ErrNoRows means the queue is empty.
func (r *RunRepository) ClaimQueuedRun(ctx context.Context) (domain.Run, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return domain.Run{}, err
	}
	defer tx.Rollback(ctx)

	var runID uuid.UUID
	if err := tx.QueryRow(ctx, `
		SELECT id
		FROM runs
		WHERE status=$1
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, domain.RunQueued).Scan(&runID); err != nil {
		return domain.Run{}, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE runs
		SET status=$2,
		    started_at=COALESCE(started_at, NOW()),
		    updated_at=NOW()
		WHERE id=$1
		RETURNING `+runColumns,
		runID, domain.RunRunning,
	)
	run, err := scanRun(row)
	if err != nil {
		r.logger.Error("claim run update failed", "run_id", runID, "error", err)
		return domain.Run{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit failed", "run_id", runID, "error", err)
		return domain.Run{}, err
	}

	return run, nil
}

func scanRun(row pgx.Row) (domain.Run, error) {
	var run domain.Run
	err := row.Scan(
		&run.ID,
		&run.Status,
		&run.Mode,
		&run.Input,
		&run.Roles,
		&run.UserRules,
		&run.ParentRunID,
		&run.SeedState,
		&run.SeedGoto,
		&run.OutputText,
		&run.Error,
		&run.CreatedAt,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return domain.Run{}, err
	}
	if string(run.SeedState) == "null" {
		run.SeedState = nil
	}
	return run, nil
}
