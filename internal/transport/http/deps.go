// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"encoding/json"

	"github.com/crewforge/crewd/internal/domain"
	"github.com/google/uuid"
)

type RunStore interface {
	CreateRun(ctx context.Context, params domain.CreateRunParams) (domain.Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (domain.Run, error)
	ControlRun(ctx context.Context, id uuid.UUID, target domain.RunStatus) error
}

type EventStreamer interface {
	AppendEvent(ctx context.Context, runID uuid.UUID, eventType, message string, data json.RawMessage) (int64, error)
	ListEventsAfter(ctx context.Context, runID uuid.UUID, afterSeq int64) ([]domain.EventRecord, error)
	ResolveCursorByEventID(ctx context.Context, runID uuid.UUID, eventID uuid.UUID) (int64, error)
}

type CheckpointReader interface {
	ListCheckpoints(ctx context.Context, runID uuid.UUID) ([]domain.CheckpointRecord, error)
	GetCheckpoint(ctx context.Context, runID uuid.UUID, seq int64) (domain.CheckpointRecord, error)
	LatestCheckpoint(ctx context.Context, runID uuid.UUID) (domain.CheckpointRecord, error)
}

type ArtifactReader interface {
	ListArtifacts(ctx context.Context, runID uuid.UUID) ([]domain.ArtifactRecord, error)
	GetArtifactByName(ctx context.Context, runID uuid.UUID, name string) (domain.ArtifactRecord, error)
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
