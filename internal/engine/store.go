// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"

	"github.com/crewforge/crewd/internal/domain"
	"github.com/google/uuid"
)

// Store is the persistence surface the run driver needs. The Postgres
// repositories implement it; tests use an in-memory fake.
//
// Append methods return the per-run sequence number assigned to the new
// record. Sequences are per table, start at 1, and must be assigned inside
// the inserting transaction so they are gap-free for a single writer.
type Store interface {
	// RunStatus reads the current status field. The driver polls this
	// between nodes to observe pause and cancel requests.
	RunStatus(ctx context.Context, runID uuid.UUID) (domain.RunStatus, error)

	SetRunStatus(ctx context.Context, runID uuid.UUID, status domain.RunStatus) error
	SetRunOutput(ctx context.Context, runID uuid.UUID, output string) error
	SetRunError(ctx context.Context, runID uuid.UUID, message string) error

	AppendEvent(ctx context.Context, runID uuid.UUID, eventType, message string, data json.RawMessage) (int64, error)
	AppendCheckpoint(ctx context.Context, runID uuid.UUID, node string, state json.RawMessage) (int64, error)

	AppendTextArtifact(ctx context.Context, runID uuid.UUID, name, mimeType, content string) error
	AppendJSONArtifact(ctx context.Context, runID uuid.UUID, name string, content json.RawMessage) error
}
