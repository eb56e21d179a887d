// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ArtifactRecord is a named content blob written once at run finalization.
// Exactly one of ContentText / ContentJSON is set.
type ArtifactRecord struct {
	ID          uuid.UUID       `json:"id"`
	RunID       uuid.UUID       `json:"run_id"`
	Name        string          `json:"name"`
	MimeType    string          `json:"mime_type"`
	ContentText string          `json:"content_text,omitempty"`
	ContentJSON json.RawMessage `json:"content_json,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
