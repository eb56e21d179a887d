// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CheckpointRecord is a full workflow state snapshot taken after a node
// completes. Checkpoints keep their own per-run sequence, independent of the
// event sequence. A rerun seeds a brand-new run from a checkpoint's state and
// jumps straight to its node.
type CheckpointRecord struct {
	ID        uuid.UUID       `json:"id"`
	RunID     uuid.UUID       `json:"run_id"`
	Seq       int64           `json:"seq"`
	Node      string          `json:"node"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
}
