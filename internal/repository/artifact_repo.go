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

type ArtifactRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewArtifactRepository(pool *pgxpool.Pool, logger *slog.Logger) *ArtifactRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &ArtifactRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *ArtifactRepository) AppendTextArtifact(ctx context.Context, runID uuid.UUID, name, mimeType, content string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO run_artifacts (id, run_id, name, mime_type, content_text)
		VALUES ($1, $2, $3, $4, $5)
	`,
		uuid.New(),
		runID,
		name,
		mimeType,
		content,
	)
	if err != nil {
		r.logger.Error("insert text artifact failed", "run_id", runID, "name", name, "error", err)
	}
	return err
}

func (r *ArtifactRepository) AppendJSONArtifact(ctx context.Context, runID uuid.UUID, name string, content json.RawMessage) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO run_artifacts (id, run_id, name, mime_type, content_json)
		VALUES ($1, $2, $3, 'application/json', $4)
	`,
		uuid.New(),
		runID,
		name,
		content,
	)
	if err != nil {
		r.logger.Error("insert json artifact failed", "run_id", runID, "name", name, "error", err)
	}
	return err
}

func (r *ArtifactRepository) ListArtifacts(ctx context.Context, runID uuid.UUID) ([]domain.ArtifactRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, run_id, name, mime_type,
		       COALESCE(content_text, ''), COALESCE(content_json, 'null'::jsonb),
		       created_at
		FROM run_artifacts
		WHERE run_id=$1
		ORDER BY created_at ASC, name ASC
	`, runID)
	if err != nil {
		r.logger.Error("list artifacts query failed", "run_id", runID, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ArtifactRecord, 0, 8)
	for rows.Next() {
		var a domain.ArtifactRecord
		if err := rows.Scan(&a.ID, &a.RunID, &a.Name, &a.MimeType, &a.ContentText, &a.ContentJSON, &a.CreatedAt); err != nil {
			r.logger.Error("scan artifact row failed", "run_id", runID, "error", err)
			return nil, err
		}
		if string(a.ContentJSON) == "null" {
			a.ContentJSON = nil
		}
		out = append(out, a)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("artifacts rows iteration failed", "run_id", runID, "error", err)
		return nil, err
	}

	return out, nil
}

func (r *ArtifactRepository) GetArtifactByName(ctx context.Context, runID uuid.UUID, name string) (domain.ArtifactRecord, error) {
	var a domain.ArtifactRecord
	err := r.pool.QueryRow(ctx, `
		SELECT id, run_id, name, mime_type,
		       COALESCE(content_text, ''), COALESCE(content_json, 'null'::jsonb),
		       created_at
		FROM run_artifacts
		WHERE run_id=$1 AND name=$2
	`, runID, name).Scan(&a.ID, &a.RunID, &a.Name, &a.MimeType, &a.ContentText, &a.ContentJSON, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ArtifactRecord{}, err
		}
		r.logger.Error("get artifact failed", "run_id", runID, "name", name, "error", err)
		return domain.ArtifactRecord{}, err
	}
	if string(a.ContentJSON) == "null" {
		a.ContentJSON = nil
	}
	return a, nil
}
