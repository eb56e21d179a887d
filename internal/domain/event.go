// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type tags emitted by the run driver.
const (
	EventRunCreated      = "run.created"
	EventRunSeeded       = "run.seeded"
	EventRunStarted      = "run.started"
	EventRunPaused       = "run.paused"
	EventRunResumed      = "run.resumed"
	EventRunCanceled     = "run.canceled"
	EventRunSucceeded    = "run.succeeded"
	EventRunFailed       = "run.failed"
	EventAgentDelta      = "agent.delta"
	EventAgentOutput     = "agent.output"
	EventCheckpointSaved = "checkpoint.saved"
	EventNodeCompleted   = "node.completed"
	EventRulesViolation  = "rules.violation"
)

// EventRecord is an append-only, per-run sequenced record. Seq starts at 1
// and is gap-free under the single-writer assumption; external tailers keep
// the last seen seq as their cursor.
type EventRecord struct {
	ID        uuid.UUID       `json:"id"`
	RunID     uuid.UUID       `json:"run_id"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
