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

type EventRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewEventRepository(pool *pgxpool.Pool, logger *slog.Logger) *EventRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &EventRepository{
		pool:   pool,
		logger: logger,
	}
}

// AppendEvent assigns the next per-run seq inside the inserting statement.
// With a single writer per run this yields a gap-free 1..N sequence; the
// UNIQUE (run_id, seq) constraint rejects a concurrent second writer.
func (r *EventRepository) AppendEvent(ctx context.Context, runID uuid.UUID, eventType, message string, data json.RawMessage) (int64, error) {
	var seq int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO run_events (id, run_id, seq, type, message, data)
		VALUES (
			$1, $2,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM run_events WHERE run_id = $2),
			$3, $4, $5
		)
		RETURNING seq
	`,
		uuid.New(),
		runID,
		eventType,
		message,
		data,
	).Scan(&seq)
	if err != nil {
		r.logger.Error("append event failed",
			"run_id", runID,
			"type", eventType,
			"error", err,
		)
		return 0, err
	}
	return seq, nil
}

func (r *EventRepository) ListEventsAfter(ctx context.Context, runID uuid.UUID, afterSeq int64) ([]domain.EventRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, run_id, seq, type, message, COALESCE(data, 'null'::jsonb), created_at
		FROM run_events
		WHERE run_id=$1
		  AND seq > $2
		ORDER BY seq ASC
	`,
		runID,
		afterSeq,
	)
	if err != nil {
		r.logger.Error("list events query failed", "run_id", runID, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.EventRecord, 0, 8)
	for rows.Next() {
		var ev domain.EventRecord
		if err := rows.Scan(
			&ev.ID,
			&ev.RunID,
			&ev.Seq,
			&ev.Type,
			&ev.Message,
			&ev.Data,
			&ev.CreatedAt,
		); err != nil {
			r.logger.Error("scan event row failed", "run_id", runID, "error", err)
			return nil, err
		}
		if string(ev.Data) == "null" {
			ev.Data = nil
		}
		out = append(out, ev)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("events rows iteration failed", "run_id", runID, "error", err)
		return nil, err
	}

	return out, nil
}

// ResolveCursorByEventID maps an event id to its seq so tailing clients can
// resume from an opaque id instead of a number.
func (r *EventRepository) ResolveCursorByEventID(ctx context.Context, runID uuid.UUID, eventID uuid.UUID) (int64, error) {
	var seq int64
	if err := r.pool.QueryRow(ctx, `
		SELECT seq
		FROM run_events
		WHERE id=$1
		  AND run_id=$2
	`,
		eventID,
		runID,
	).Scan(&seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, err
		}
		r.logger.Error("resolve event cursor failed",
			"run_id", runID,
			"event_id", eventID,
			"error", err,
		)
		return 0, err
	}

	return seq, nil
}
