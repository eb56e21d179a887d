package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// IsTerminal reports whether a status admits no further driver mutation.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCanceled:
		return true
	}
	return false
}

type RunMode string

const (
	ModeEngineer RunMode = "engineer"
	ModeTeam     RunMode = "team"
)

// Run is the persisted run row. The driver owns it exclusively while the run
// executes; the HTTP layer only reads it and writes the status field for
// pause/resume/cancel controls.
type Run struct {
	ID          uuid.UUID       `json:"id"`
	Status      RunStatus       `json:"status"`
	Mode        RunMode         `json:"mode"`
	Input       string          `json:"input"`
	Roles       []string        `json:"roles,omitempty"`
	UserRules   []string        `json:"user_rules,omitempty"`
	ParentRunID *uuid.UUID      `json:"parent_run_id,omitempty"`
	SeedState   json.RawMessage `json:"seed_state,omitempty"`
	SeedGoto    string          `json:"seed_goto,omitempty"`
	OutputText  string          `json:"output_text,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// CreateRunParams carries run creation input across the transport boundary.
type CreateRunParams struct {
	Input       string
	Mode        RunMode
	Roles       []string
	UserRules   []string
	ParentRunID *uuid.UUID
	SeedState   json.RawMessage
	SeedGoto    string
}
