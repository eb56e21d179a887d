// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/crewforge/crewd/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EngineStore bundles the repositories behind the persistence surface the
// run driver consumes.
type EngineStore struct {
	Runs        *RunRepository
	Events      *EventRepository
	Checkpoints *CheckpointRepository
	Artifacts   *ArtifactRepository
}

func NewEngineStore(pool *pgxpool.Pool, logger *slog.Logger) *EngineStore {
	return &EngineStore{
		Runs:        NewRunRepository(pool, logger),
		Events:      NewEventRepository(pool, logger),
		Checkpoints: NewCheckpointRepository(pool, logger),
		Artifacts:   NewArtifactRepository(pool, logger),
	}
}

func (s *EngineStore) RunStatus(ctx context.Context, runID uuid.UUID) (domain.RunStatus, error) {
	return s.Runs.RunStatus(ctx, runID)
}

func (s *EngineStore) SetRunStatus(ctx context.Context, runID uuid.UUID, status domain.RunStatus) error {
	return s.Runs.SetRunStatus(ctx, runID, status)
}

func (s *EngineStore) SetRunOutput(ctx context.Context, runID uuid.UUID, output string) error {
	return s.Runs.SetRunOutput(ctx, runID, output)
}

func (s *EngineStore) SetRunError(ctx context.Context, runID uuid.UUID, message string) error {
	return s.Runs.SetRunError(ctx, runID, message)
}

func (s *EngineStore) AppendEvent(ctx context.Context, runID uuid.UUID, eventType, message string, data json.RawMessage) (int64, error) {
	return s.Events.AppendEvent(ctx, runID, eventType, message, data)
}

func (s *EngineStore) AppendCheckpoint(ctx context.Context, runID uuid.UUID, node string, state json.RawMessage) (int64, error) {
	return s.Checkpoints.AppendCheckpoint(ctx, runID, node, state)
}

func (s *EngineStore) AppendTextArtifact(ctx context.Context, runID uuid.UUID, name, mimeType, content string) error {
	return s.Artifacts.AppendTextArtifact(ctx, runID, name, mimeType, content)
}

func (s *EngineStore) AppendJSONArtifact(ctx context.Context, runID uuid.UUID, name string, content json.RawMessage) error {
	return s.Artifacts.AppendJSONArtifact(ctx, runID, name, content)
}
