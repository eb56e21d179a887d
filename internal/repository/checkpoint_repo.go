// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/crewforge/crewd/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CheckpointRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewCheckpointRepository(pool *pgxpool.Pool, logger *slog.Logger) *CheckpointRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &CheckpointRepository{
		pool:   pool,
		logger: logger,
	}
}

// AppendCheckpoint stores one full state snapshot. Checkpoint seqs count up
// independently of event seqs.
func (r *CheckpointRepository) AppendCheckpoint(ctx context.Context, runID uuid.UUID, node string, state json.RawMessage) (int64, error) {
	var seq int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO run_checkpoints (id, run_id, seq, node, state)
		VALUES (
			$1, $2,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM run_checkpoints WHERE run_id = $2),
			$3, $4
		)
		RETURNING seq
	`,
		uuid.New(),
		runID,
		node,
		state,
	).Scan(&seq)
	if err != nil {
		r.logger.Error("append checkpoint failed",
			"run_id", runID,
			"node", node,
			"error", err,
		)
		return 0, err
	}
	return seq, nil
}

func (r *CheckpointRepository) ListCheckpoints(ctx context.Context, runID uuid.UUID) ([]domain.CheckpointRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, run_id, seq, node, state, created_at
		FROM run_checkpoints
		WHERE run_id=$1
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		r.logger.Error("list checkpoints query failed", "run_id", runID, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CheckpointRecord, 0, 8)
	for rows.Next() {
		var cp domain.CheckpointRecord
		if err := rows.Scan(&cp.ID, &cp.RunID, &cp.Seq, &cp.Node, &cp.State, &cp.CreatedAt); err != nil {
			r.logger.Error("scan checkpoint row failed", "run_id", runID, "error", err)
			return nil, err
		}
		out = append(out, cp)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("checkpoints rows iteration failed", "run_id", runID, "error", err)
		return nil, err
	}

	return out, nil
}

func (r *CheckpointRepository) GetCheckpoint(ctx context.Context, runID uuid.UUID, seq int64) (domain.CheckpointRecord, error) {
	var cp domain.CheckpointRecord
	err := r.pool.QueryRow(ctx, `
		SELECT id, run_id, seq, node, state, created_at
		FROM run_checkpoints
		WHERE run_id=$1 AND seq=$2
	`, runID, seq).Scan(&cp.ID, &cp.RunID, &cp.Seq, &cp.Node, &cp.State, &cp.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CheckpointRecord{}, domain.ErrCheckpointNotFound
		}
		r.logger.Error("get checkpoint failed", "run_id", runID, "seq", seq, "error", err)
		return domain.CheckpointRecord{}, err
	}
	return cp, nil
}

// LatestCheckpoint returns the newest snapshot, used when a rerun request
// names no explicit seq.
func (r *CheckpointRepository) LatestCheckpoint(ctx context.Context, runID uuid.UUID) (domain.CheckpointRecord, error) {
	var cp domain.CheckpointRecord
	err := r.pool.QueryRow(ctx, `
		SELECT id, run_id, seq, node, state, created_at
		FROM run_checkpoints
		WHERE run_id=$1
		ORDER BY seq DESC
		LIMIT 1
	`, runID).Scan(&cp.ID, &cp.RunID, &cp.Seq, &cp.Node, &cp.State, &cp.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CheckpointRecord{}, domain.ErrCheckpointNotFound
		}
		r.logger.Error("latest checkpoint failed", "run_id", runID, "error", err)
		return domain.CheckpointRecord{}, err
	}
	return cp, nil
}
