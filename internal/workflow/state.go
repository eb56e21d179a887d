// SPDX-License-Identifier: Apache-2.0

// Package workflow defines the run workflow: the state record threaded
// between nodes, the node set, and the routing between them. The graph is
// pure structure; the driver in internal/engine owns persistence and control.
package workflow

import (
	"encoding/json"

	"github.com/crewforge/crewd/internal/domain"
	"github.com/crewforge/crewd/internal/rules"
)

// File is one generated file, addressed by path.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ArchPlan is the structured planning output of the architect node. The
// shape is stable so downstream nodes can rely on it even when the model
// rambles.
type ArchPlan struct {
	Goals struct {
		ProjectGoals []string `json:"project_goals"`
		NonGoals     []string `json:"non_goals"`
	} `json:"goals"`
	Tech struct {
		Languages          []string `json:"languages"`
		Stack              []string `json:"stack"`
		RuntimeConstraints []string `json:"runtime_constraints"`
	} `json:"tech"`
	Modules []struct {
		Name           string   `json:"name"`
		Responsibility string   `json:"responsibility"`
		DependsOn      []string `json:"depends_on"`
	} `json:"modules"`
	Contracts []struct {
		Name         string   `json:"name"`
		Purpose      string   `json:"purpose"`
		Inputs       []string `json:"inputs"`
		Outputs      []string `json:"outputs"`
		Guarantees   []string `json:"guarantees"`
		FailureModes []string `json:"failure_modes"`
	} `json:"contracts"`
	Tasks []struct {
		ID          string   `json:"id"`
		Module      string   `json:"module"`
		Description string   `json:"description"`
		DependsOn   []string `json:"depends_on"`
	} `json:"tasks"`
}

// TaskView is the restricted, structured view handed to the team-mode
// engineer instead of the raw cross-role transcript.
type TaskView struct {
	TaskGoal         string                `json:"task_goal"`
	Inputs           []string              `json:"inputs"`
	OutputsRequired  []string              `json:"outputs_required"`
	Forbidden        []string              `json:"forbidden"`
	ArchitectureHint json.RawMessage       `json:"architecture_hint,omitempty"`
	RulesHint        *rules.ProjectRuleSet `json:"rules_hint,omitempty"`
}

// Final is the terminal summary object set by the finishing node.
type Final struct {
	Summary string            `json:"summary"`
	Mode    domain.RunMode    `json:"mode"`
	Roles   []string          `json:"roles"`
	Outputs map[string]string `json:"outputs"`
	Files   []File            `json:"files"`
}

// RunState is the record threaded through node invocations for one run.
// Nodes only ever add to it or overwrite their own output key; a role's
// entry in Outputs is never erased by a later node.
type RunState struct {
	RunID        string                `json:"run_id"`
	Input        string                `json:"input"`
	Mode         domain.RunMode        `json:"mode"`
	Roles        []string              `json:"roles,omitempty"`
	UserRules    []string              `json:"user_rules,omitempty"`
	RoleOrder    []string              `json:"role_order,omitempty"`
	RoleIndex    int                   `json:"role_index"`
	Outputs      map[string]string     `json:"outputs,omitempty"`
	Files        []File                `json:"files,omitempty"`
	ProjectRules *rules.ProjectRuleSet `json:"project_rules,omitempty"`
	Architecture *ArchPlan             `json:"architecture,omitempty"`
	TaskView     *TaskView             `json:"task_view,omitempty"`
	Final        *Final                `json:"final,omitempty"`
}

// Snapshot serializes the full state for checkpointing.
func (s *RunState) Snapshot() (json.RawMessage, error) {
	return json.Marshal(s)
}

// SeedFrom restores a state from a checkpoint snapshot and overwrites the
// identity-sensitive fields with the new run's own values, so a forked run
// never inherits its parent's identity.
func SeedFrom(snapshot json.RawMessage, run domain.Run) (*RunState, error) {
	var st RunState
	if err := json.Unmarshal(snapshot, &st); err != nil {
		return nil, err
	}
	st.RunID = run.ID.String()
	st.Input = run.Input
	st.Mode = run.Mode
	if len(run.Roles) > 0 {
		st.Roles = run.Roles
	}
	if len(run.UserRules) > 0 {
		st.UserRules = run.UserRules
	}
	if st.Outputs == nil {
		st.Outputs = map[string]string{}
	}
	return &st, nil
}

// NewState builds the initial state for a run starting at the graph entry.
func NewState(run domain.Run) *RunState {
	return &RunState{
		RunID:     run.ID.String(),
		Input:     run.Input,
		Mode:      run.Mode,
		Roles:     run.Roles,
		UserRules: run.UserRules,
		Outputs:   map[string]string{},
	}
}
