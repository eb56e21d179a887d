// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/crewforge/crewd/internal/domain"
	"github.com/crewforge/crewd/internal/llm"
	"github.com/crewforge/crewd/internal/rules"
	"github.com/google/uuid"
)

// scriptedLLM answers by role tag and falls back (via ChatOrFallback) for
// roles it has no script for.
type scriptedLLM struct {
	byRole map[string]string
	calls  []string
}

func (s *scriptedLLM) Chat(_ context.Context, _ []llm.Message, opts llm.Options) (string, error) {
	s.calls = append(s.calls, opts.Role)
	if out, ok := s.byRole[opts.Role]; ok {
		return out, nil
	}
	return "", errors.New("unscripted role " + opts.Role)
}

func buildTestGraph(t *testing.T, client llm.Client) *Graph {
	t.Helper()
	g, err := Build(Deps{LLM: client, Globals: rules.GlobalCatalog()})
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	return g
}

func runToEnd(t *testing.T, g *Graph, st *RunState) []string {
	t.Helper()
	var nodes []string
	err := g.Stream(context.Background(), "", st, func(node string, _ *RunState) error {
		nodes = append(nodes, node)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	return nodes
}

func TestEngineerModeWalk(t *testing.T) {
	client := &scriptedLLM{byRole: map[string]string{
		RoleEngineer: `{"summary":"built it","files":[{"path":"index.html","content":"<html/>"}]}`,
	}}
	g := buildTestGraph(t, client)

	st := NewState(domain.Run{ID: uuid.New(), Input: "make a page", Mode: domain.ModeEngineer})
	nodes := runToEnd(t, g, st)

	want := []string{NodeInit, NodeRules, NodeEngineerSolo}
	if len(nodes) != len(want) {
		t.Fatalf("visited %v, want %v", nodes, want)
	}
	for i := range want {
		if nodes[i] != want[i] {
			t.Fatalf("visited %v, want %v", nodes, want)
		}
	}

	if st.Final == nil {
		t.Fatal("expected final object")
	}
	if len(st.Final.Files) < 1 {
		t.Fatal("final files must never be empty")
	}
	if st.Final.Files[0].Path != "index.html" {
		t.Fatalf("unexpected file: %+v", st.Final.Files[0])
	}
	if st.Outputs[RoleEngineer] != "built it" {
		t.Fatalf("unexpected engineer output %q", st.Outputs[RoleEngineer])
	}
}

func TestEngineerModeFallbackFileGuarantee(t *testing.T) {
	// Model returns prose with no JSON at all: the run must still produce a
	// file.
	client := &scriptedLLM{byRole: map[string]string{
		RoleEngineer: "sorry, plain text only",
	}}
	g := buildTestGraph(t, client)

	st := NewState(domain.Run{ID: uuid.New(), Input: "anything", Mode: domain.ModeEngineer})
	runToEnd(t, g, st)

	if len(st.Final.Files) != 1 || st.Final.Files[0].Path != "output.md" {
		t.Fatalf("expected output.md fallback file, got %+v", st.Final.Files)
	}
	if !strings.Contains(st.Final.Files[0].Content, "sorry") {
		t.Fatalf("fallback file should carry the summary, got %q", st.Final.Files[0].Content)
	}
}

func TestTeamModeWalkVisitsRolesInOrder(t *testing.T) {
	client := &scriptedLLM{byRole: map[string]string{
		RoleTeamLead:  "plan",
		RoleArchitect: `{"goals":{"project_goals":["ship it"],"non_goals":[]},"tech":{},"modules":[],"contracts":[],"tasks":[]}`,
		RoleEngineer:  `{"summary":"done","files":[{"path":"app.js","content":"x"}]}`,
	}}
	g := buildTestGraph(t, client)

	st := NewState(domain.Run{
		ID:    uuid.New(),
		Input: "build",
		Mode:  domain.ModeTeam,
		Roles: []string{RoleArchitect, RoleEngineer},
	})
	nodes := runToEnd(t, g, st)

	want := []string{
		NodeInit, NodeRules, NodeTeamRouter,
		RoleTeamLead, RoleArchitect, NodeTaskView, RoleEngineer,
		NodeTeamFinalize,
	}
	if strings.Join(nodes, ",") != strings.Join(want, ",") {
		t.Fatalf("visited %v, want %v", nodes, want)
	}

	if st.Outputs[RoleArchitect] != "ship it" {
		t.Fatalf("unexpected architect headline %q", st.Outputs[RoleArchitect])
	}
	if st.Final == nil || st.Final.Mode != domain.ModeTeam {
		t.Fatalf("unexpected final: %+v", st.Final)
	}
	if len(st.Final.Files) != 1 || st.Final.Files[0].Path != "app.js" {
		t.Fatalf("unexpected final files: %+v", st.Final.Files)
	}
}

func TestTaskViewRunsOnceAndHidesTranscript(t *testing.T) {
	var engineerPrompt string
	client := &promptCapturingLLM{
		inner: &scriptedLLM{byRole: map[string]string{
			RoleTeamLead:  "secret plan from the lead",
			RoleArchitect: `{"goals":{"project_goals":["g"],"non_goals":[]},"tech":{},"modules":[],"contracts":[],"tasks":[]}`,
			RoleEngineer:  `{"summary":"done","files":[{"path":"a.txt","content":"1"}]}`,
		}},
		capture: func(role, prompt string) {
			if role == RoleEngineer {
				engineerPrompt = prompt
			}
		},
	}
	g := buildTestGraph(t, client)

	st := NewState(domain.Run{ID: uuid.New(), Input: "build", Mode: domain.ModeTeam, Roles: []string{RoleEngineer}})
	runToEnd(t, g, st)

	if st.TaskView == nil {
		t.Fatal("expected a task view")
	}
	if strings.Contains(engineerPrompt, "secret plan from the lead") {
		t.Fatal("team engineer must not see the raw cross-role transcript")
	}
	if !strings.Contains(engineerPrompt, "task_view") {
		t.Fatal("team engineer prompt should carry the task view")
	}
}

type promptCapturingLLM struct {
	inner   llm.Client
	capture func(role, prompt string)
}

func (p *promptCapturingLLM) Chat(ctx context.Context, msgs []llm.Message, opts llm.Options) (string, error) {
	var user string
	for _, m := range msgs {
		if m.Role == "user" {
			user = m.Content
		}
	}
	p.capture(opts.Role, user)
	return p.inner.Chat(ctx, msgs, opts)
}

func TestStreamResumesAtNamedNode(t *testing.T) {
	client := &scriptedLLM{byRole: map[string]string{
		RoleEngineer: `{"summary":"resumed","files":[{"path":"x.txt","content":"y"}]}`,
	}}
	g := buildTestGraph(t, client)

	// Seed a state shaped like a rule_node checkpoint and jump straight to
	// the solo engineer, bypassing init and rule_node.
	rs := rules.Decide(rules.GlobalCatalog(), nil)
	st := &RunState{
		RunID:        uuid.NewString(),
		Input:        "continue",
		Mode:         domain.ModeEngineer,
		Outputs:      map[string]string{NodeRules: "Rules adjudicated: no user rules provided."},
		ProjectRules: &rs,
	}

	var nodes []string
	err := g.Stream(context.Background(), NodeEngineerSolo, st, func(node string, _ *RunState) error {
		nodes = append(nodes, node)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(nodes) != 1 || nodes[0] != NodeEngineerSolo {
		t.Fatalf("visited %v, want only engineer_solo", nodes)
	}
	if st.Outputs[NodeRules] == "" {
		t.Fatal("seeded outputs must survive the jump")
	}
}

func TestStreamObserverErrorStopsWalk(t *testing.T) {
	g := buildTestGraph(t, &scriptedLLM{byRole: map[string]string{}})
	st := NewState(domain.Run{ID: uuid.New(), Input: "x", Mode: domain.ModeEngineer})

	stop := errors.New("stop")
	err := g.Stream(context.Background(), "", st, func(node string, _ *RunState) error {
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected observer error, got %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	st := NewState(domain.Run{ID: uuid.New(), Input: "x", Mode: domain.ModeTeam})
	st.Outputs["architect"] = "plan"
	st.Files = []File{{Path: "a.txt", Content: "1"}}

	snap, err := st.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	var back RunState
	if err := json.Unmarshal(snap, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Outputs["architect"] != "plan" || len(back.Files) != 1 {
		t.Fatalf("unexpected round trip: %+v", back)
	}
}

func TestSeedFromOverwritesIdentity(t *testing.T) {
	parent := NewState(domain.Run{ID: uuid.New(), Input: "old input", Mode: domain.ModeTeam})
	parent.Outputs["team_lead"] = "carried over"
	snap, err := parent.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	child := domain.Run{ID: uuid.New(), Input: "new input", Mode: domain.ModeTeam, Roles: []string{RoleEngineer}}
	st, err := SeedFrom(snap, child)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if st.RunID != child.ID.String() {
		t.Fatalf("run id not overwritten: %s", st.RunID)
	}
	if st.Input != "new input" {
		t.Fatalf("input not overwritten: %s", st.Input)
	}
	if st.Outputs["team_lead"] != "carried over" {
		t.Fatal("non-identity state must be preserved")
	}
	if len(st.Roles) != 1 || st.Roles[0] != RoleEngineer {
		t.Fatalf("roles not overwritten: %v", st.Roles)
	}
}
