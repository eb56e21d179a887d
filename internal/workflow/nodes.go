// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/crewforge/crewd/internal/domain"
	"github.com/crewforge/crewd/internal/llm"
	"github.com/crewforge/crewd/internal/rules"
)

// Deps are the collaborators a graph instance needs. The emitter is the
// per-run streaming callback installed by the driver; it is threaded down to
// generation calls explicitly rather than through ambient state.
type Deps struct {
	LLM     llm.Client
	Globals []rules.GlobalRule
	Emitter llm.StreamEmitter
}

const (
	rulesPromptLimit = 20_000
	viewPromptLimit  = 40_000
)

const fileSchemaInstructions = "Return ONLY valid JSON with this schema:\n" +
	`{ "summary": string, "files": [ { "path": string, "content": string } ] }` + "\n" +
	"Put code into real files. Prefer index.html/app.js/style.css for web demos.\n" +
	"No markdown. No backticks. JSON only."

// Build assembles the run workflow graph:
//
//	init -> rule_node -> engineer_solo -> END            (engineer mode)
//	init -> rule_node -> team_router -> roles* -> team_finalize -> END
//
// with task_view injected via routing immediately before the team engineer.
func Build(deps Deps) (*Graph, error) {
	b := NewGraphBuilder()

	b.AddEdge(NodeInit, nodeInit, NodeRules)
	b.AddNode(NodeRules, nodeRules(deps.Globals), func(st *RunState) string {
		if st.Mode == domain.ModeTeam {
			return NodeTeamRouter
		}
		return NodeEngineerSolo
	})
	b.AddEdge(NodeEngineerSolo, nodeEngineerSolo(deps), End)

	b.AddNode(NodeTeamRouter, func(context.Context, *RunState) error { return nil }, routeTeamNext)
	b.AddNode(RoleTeamLead, textRoleNode(deps, RoleTeamLead,
		"You are the team lead. Create a clear plan and delegate tasks to the team."), routeTeamNext)
	b.AddNode(RoleSEOExpert, textRoleNode(deps, RoleSEOExpert,
		"You are an SEO expert. Provide SEO strategy, keywords, and on-page recommendations."), routeTeamNext)
	b.AddNode(RoleProductManager, textRoleNode(deps, RoleProductManager,
		"You are a product manager. Clarify requirements, scope, and MVP."), routeTeamNext)
	b.AddNode(RoleArchitect, nodeArchitect(deps), routeTeamNext)
	b.AddNode(NodeTaskView, nodeTaskView, routeTeamNext)
	b.AddNode(RoleEngineer, nodeTeamEngineer(deps), routeTeamNext)
	b.AddNode(RoleDataAnalyst, textRoleNode(deps, RoleDataAnalyst,
		"You are a data analyst. Define metrics, events, and a validation plan."), routeTeamNext)
	b.AddNode(RoleDeepResearcher, textRoleNode(deps, RoleDeepResearcher,
		"You are a deep researcher. Identify unknowns, risks, and a research plan with sources to consult."), routeTeamNext)
	b.AddEdge(NodeTeamFinalize, nodeTeamFinalize(deps), End)

	b.SetEntry(NodeInit)
	return b.Build()
}

func nodeInit(_ context.Context, st *RunState) error {
	mode := domain.RunMode(strings.ToLower(strings.TrimSpace(string(st.Mode))))
	if mode != domain.ModeEngineer && mode != domain.ModeTeam {
		mode = domain.ModeEngineer
	}
	st.Mode = mode

	if mode == domain.ModeTeam {
		st.Roles = TeamRoleOrder(st.Roles)
		st.RoleOrder = st.Roles
	} else {
		st.Roles = []string{RoleEngineer}
		st.RoleOrder = nil
	}
	st.RoleIndex = 0
	st.Outputs = map[string]string{}
	return nil
}

// nodeRules is the single place where free-text user rules become an
// adjudicated rule set.
func nodeRules(globals []rules.GlobalRule) NodeFunc {
	return func(_ context.Context, st *RunState) error {
		userRules := rules.ParseUserRules(st.UserRules)
		rs := rules.Decide(globals, userRules)
		st.ProjectRules = &rs

		msg := "Rules adjudicated: no user rules provided."
		if len(userRules) > 0 {
			msg = fmt.Sprintf("Rules adjudicated: accepted=%d, rejected=%d",
				len(rs.AcceptedUserRules), len(rs.RejectedUserRules))
		}
		// Keyed by node name so observers can map node -> output reliably.
		st.Outputs[NodeRules] = msg
		return nil
	}
}

func nodeEngineerSolo(deps Deps) NodeFunc {
	return func(ctx context.Context, st *RunState) error {
		input := strings.TrimSpace(st.Input)
		rulesJSON := marshalForPrompt(st.ProjectRules, rulesPromptLimit)

		fallback := mustJSON(fileResult{
			Summary: "[fallback] engineer: " + input,
			Files:   []File{{Path: "README.md", Content: "[fallback]\n\n" + input + "\n"}},
		})

		raw := llm.ChatOrFallback(ctx, deps.LLM, []llm.Message{
			{Role: "system", Content: "You are a senior software engineer.\n" + fileSchemaInstructions},
			{Role: "user", Content: "Project Rules (read-only):\n" + rulesJSON + "\n\nTask:\n" + input},
		}, llm.Options{
			Stream:   true,
			Role:     RoleEngineer,
			Fallback: fallback,
			Emitter:  deps.Emitter,
		})

		summary, files := parseGeneratedFiles(raw)
		if len(files) == 0 {
			// Generated output must never be empty: surface the summary as a
			// file when the model did not comply.
			files = []File{{Path: "output.md", Content: summary}}
		}

		st.Outputs[RoleEngineer] = summary
		st.Files = files
		st.Final = &Final{
			Summary: summary,
			Mode:    domain.ModeEngineer,
			Roles:   []string{RoleEngineer},
			Outputs: st.Outputs,
			Files:   files,
		}
		return nil
	}
}

// textRoleNode builds a plain conversational role: it sees the user input
// plus the transcript of earlier roles and contributes one text output.
func textRoleNode(deps Deps, role, system string) NodeFunc {
	return func(ctx context.Context, st *RunState) error {
		input := strings.TrimSpace(st.Input)

		user := input
		if transcript := priorTranscript(st); transcript != "" {
			user = input + "\n\nContext so far:\n" + transcript
		}

		out := llm.ChatOrFallback(ctx, deps.LLM, []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		}, llm.Options{
			Role:     role,
			Fallback: "[fallback] " + role + ": " + input,
			Emitter:  deps.Emitter,
		})

		st.Outputs[role] = out
		st.RoleIndex++
		return nil
	}
}

// priorTranscript renders earlier role outputs in dispatch order so the
// result is deterministic for equal states.
func priorTranscript(st *RunState) string {
	keys := append([]string{NodeRules}, st.RoleOrder...)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := strings.TrimSpace(st.Outputs[k]); v != "" {
			lines = append(lines, k+": "+v)
		}
	}
	return strings.Join(lines, "\n\n")
}

// nodeArchitect is the planner: JSON-only planning facts, no rules, no code.
// Malformed output earns one strict-format retry before falling back to a
// minimal plan, because downstream nodes rely on the plan's shape.
func nodeArchitect(deps Deps) NodeFunc {
	return func(ctx context.Context, st *RunState) error {
		input := strings.TrimSpace(st.Input)

		system := "You are a software architect (planner).\n" +
			"You do NOT write code and you do NOT define any rules.\n" +
			"Return ONLY valid JSON (no markdown, no prose) with keys: " +
			"goals, tech, modules, contracts, tasks."

		raw := llm.ChatOrFallback(ctx, deps.LLM, []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: input},
		}, llm.Options{
			Stream:   true,
			Role:     RoleArchitect,
			Fallback: mustJSON(fallbackPlan(input)),
			Emitter:  deps.Emitter,
		})

		obj, ok := ExtractJSONObject(raw)
		if !ok {
			retry := llm.ChatOrFallback(ctx, deps.LLM, []llm.Message{
				{Role: "system", Content: "Return ONLY a valid JSON object with keys: goals, tech, modules, contracts, tasks. No markdown, no prose."},
				{Role: "user", Content: input},
			}, llm.Options{
				Stream:   true,
				Role:     RoleArchitect,
				Fallback: "{}",
				Emitter:  deps.Emitter,
			})
			obj, ok = ExtractJSONObject(retry)
		}

		var plan ArchPlan
		if !ok || json.Unmarshal(obj, &plan) != nil {
			plan = fallbackPlan(input)
		}
		st.Architecture = &plan

		headline := "Architecture plan complete"
		if len(plan.Goals.ProjectGoals) > 0 {
			headline = plan.Goals.ProjectGoals[0]
		}
		st.Outputs[RoleArchitect] = headline
		st.RoleIndex++
		return nil
	}
}

func fallbackPlan(input string) ArchPlan {
	var plan ArchPlan
	goal := input
	if goal == "" {
		goal = "Implement the user request"
	}
	plan.Goals.ProjectGoals = []string{goal}
	return plan
}

// nodeTaskView compiles the restricted view the team engineer will work
// from. It runs once per run and does not advance the role index; routing
// returns to the engineer afterwards.
func nodeTaskView(_ context.Context, st *RunState) error {
	var archHint json.RawMessage
	if st.Architecture != nil {
		archHint, _ = json.Marshal(st.Architecture.Modules)
	}

	st.TaskView = &TaskView{
		TaskGoal: strings.TrimSpace(st.Input),
		Inputs:   []string{"user_query", "project_rules", "architecture_view", "dependency_contracts"},
		OutputsRequired: []string{
			"A JSON object with summary + files (path/content)",
			"Prefer runnable web demo files when applicable",
		},
		Forbidden: []string{
			"Assuming access to the full repository unless explicitly provided",
			"Introducing new dependencies unless rules allow",
		},
		ArchitectureHint: archHint,
		RulesHint:        st.ProjectRules,
	}
	st.Outputs[NodeTaskView] = "Task view prepared."
	return nil
}

// nodeTeamEngineer never sees the raw cross-role transcript: it receives
// only the task view plus read-only rules, architecture, and contracts.
func nodeTeamEngineer(deps Deps) NodeFunc {
	return func(ctx context.Context, st *RunState) error {
		input := strings.TrimSpace(st.Input)

		view := struct {
			ProjectRules        *rules.ProjectRuleSet `json:"project_rules"`
			ArchitectureView    *ArchPlan             `json:"architecture_view"`
			TaskView            *TaskView             `json:"task_view"`
			DependencyContracts any                   `json:"dependency_contracts"`
		}{
			ProjectRules:     st.ProjectRules,
			ArchitectureView: st.Architecture,
			TaskView:         st.TaskView,
		}
		if st.Architecture != nil {
			view.DependencyContracts = st.Architecture.Contracts
		}

		fallback := mustJSON(fileResult{
			Summary: "[fallback] engineer: " + input,
			Files:   []File{{Path: "output.md", Content: "[fallback]\n\n" + input + "\n"}},
		})

		raw := llm.ChatOrFallback(ctx, deps.LLM, []llm.Message{
			{Role: "system", Content: "You are a software engineer.\n" +
				"You will receive a JSON task view plus read-only project rules and architecture/contracts.\n" +
				"Implement the task by producing real code files.\n" + fileSchemaInstructions},
			{Role: "user", Content: marshalForPrompt(view, viewPromptLimit)},
		}, llm.Options{
			Stream:   true,
			Role:     RoleEngineer,
			Fallback: fallback,
			Emitter:  deps.Emitter,
		})

		summary, files := parseGeneratedFiles(raw)
		if len(files) > 0 {
			// Engineer output is the most specific contributor; it wins on
			// path conflicts with anything accumulated earlier.
			st.Files = MergeFiles(files, st.Files)
		}

		st.Outputs[RoleEngineer] = summary
		st.RoleIndex++
		return nil
	}
}

func nodeTeamFinalize(deps Deps) NodeFunc {
	return func(ctx context.Context, st *RunState) error {
		var summary string
		if len(st.Files) > 0 {
			paths := make([]string, 0, len(st.Files))
			for _, f := range st.Files {
				paths = append(paths, "- "+f.Path)
			}
			summary = "Generated files:\n" + strings.Join(paths, "\n")
			for _, f := range st.Files {
				if strings.HasSuffix(strings.ToLower(f.Path), "index.html") {
					summary += "\n\nTo run: open `index.html` in a browser."
					break
				}
			}
		} else {
			fallback := st.Outputs[RoleTeamLead]
			if strings.TrimSpace(fallback) == "" {
				fallback = "[fallback] team_lead: Run completed"
			}
			summary = llm.ChatOrFallback(ctx, deps.LLM, []llm.Message{
				{Role: "system", Content: "You are the team lead. Synthesize the team's outputs into a final, actionable answer."},
				{Role: "user", Content: "User request:\n" + strings.TrimSpace(st.Input) + "\n\nTeam outputs:\n" + priorTranscript(st)},
			}, llm.Options{
				Role:     RoleTeamLead,
				Fallback: fallback,
				Emitter:  deps.Emitter,
			})
		}

		st.Final = &Final{
			Summary: summary,
			Mode:    domain.ModeTeam,
			Roles:   st.Roles,
			Outputs: st.Outputs,
			Files:   st.Files,
		}
		return nil
	}
}

func parseGeneratedFiles(raw string) (string, []File) {
	obj, ok := ExtractJSONObject(raw)
	if !ok {
		summary := strings.TrimSpace(raw)
		if summary == "" {
			summary = "Run completed"
		}
		return summary, nil
	}

	summary, files := ParseFileResult(obj)
	if summary == "" {
		summary = strings.TrimSpace(raw)
	}
	if summary == "" {
		summary = "Run completed"
	}
	return summary, files
}

func marshalForPrompt(v any, limit int) string {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	s := string(body)
	if len(s) > limit {
		s = s[:limit]
	}
	return s
}

func mustJSON(v any) string {
	body, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(body)
}
