// SPDX-License-Identifier: Apache-2.0

// Package engine drives one run through the workflow graph: it executes
// nodes, persists a checkpoint and events at every node boundary, coalesces
// streaming model output into delta events, and honors pause and cancel
// requests written to the run's status field by the HTTP layer.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/crewforge/crewd/internal/domain"
	"github.com/crewforge/crewd/internal/llm"
	"github.com/crewforge/crewd/internal/metrics"
	"github.com/crewforge/crewd/internal/rules"
	"github.com/crewforge/crewd/internal/workflow"
	"github.com/google/uuid"
)

// defaultPollInterval is how often the driver re-reads the run status while
// paused, and the cadence of control checks between nodes.
const defaultPollInterval = 400 * time.Millisecond

// errCanceled aborts the graph walk when a cancel request is observed. It
// never escapes Execute.
var errCanceled = errors.New("run canceled by control request")

type Deps struct {
	Store        Store
	LLM          llm.Client
	Globals      []rules.GlobalRule
	Linter       Linter
	Logger       *slog.Logger
	PollInterval time.Duration
}

type Engine struct {
	store        Store
	llm          llm.Client
	globals      []rules.GlobalRule
	linter       Linter
	logger       *slog.Logger
	pollInterval time.Duration
}

func New(deps Deps) *Engine {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}
	lint := deps.Linter
	if lint == nil {
		lint = RegexLinter{}
	}
	poll := deps.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	globals := deps.Globals
	if len(globals) == 0 {
		globals = rules.GlobalCatalog()
	}
	return &Engine{
		store:        deps.Store,
		llm:          deps.LLM,
		globals:      globals,
		linter:       lint,
		logger:       l,
		pollInterval: poll,
	}
}

// Execute runs one claimed run to a terminal status. The caller must have
// already flipped the run to running (the worker claim does this); Execute
// stamps the terminal status itself.
func (e *Engine) Execute(ctx context.Context, run domain.Run) error {
	log := e.logger.With("run_id", run.ID)

	if err := e.store.SetRunStatus(ctx, run.ID, domain.RunRunning); err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}
	metrics.IncRunStatus(string(domain.RunRunning))
	e.appendEvent(ctx, run.ID, domain.EventRunStarted, "run started", nil)

	st, start, err := e.seedState(run)
	if err != nil {
		return e.failRun(ctx, run.ID, fmt.Errorf("seed state: %w", err))
	}

	buf := newDeltaBuffer(func(role, text string) {
		data, _ := json.Marshal(map[string]string{"role": role, "text": text})
		e.appendEvent(ctx, run.ID, domain.EventAgentDelta, "", data)
		metrics.IncDeltaFlush()
	})

	graph, err := workflow.Build(workflow.Deps{
		LLM:     e.llm,
		Globals: e.globals,
		Emitter: func(role, delta string) { buf.Add(role, delta) },
	})
	if err != nil {
		return e.failRun(ctx, run.ID, fmt.Errorf("build graph: %w", err))
	}
	if start == "" {
		start = graph.Entry()
	} else if !graph.HasNode(start) {
		return e.failRun(ctx, run.ID, fmt.Errorf("unknown resume node %q", start))
	}

	// Outputs carried in from a fork seed were already announced on the
	// parent run; only new ones become agent.output events here.
	seenOutputs := make(map[string]bool, len(st.Outputs))
	for role := range st.Outputs {
		seenOutputs[role] = true
	}
	nodeStart := time.Now()

	observe := func(node string, st *workflow.RunState) error {
		buf.FlushAll()
		metrics.ObserveNodeDuration(node, time.Since(nodeStart))

		if err := e.announceOutputs(ctx, run.ID, st, seenOutputs); err != nil {
			return err
		}

		if err := e.saveCheckpoint(ctx, run.ID, node, st); err != nil {
			return err
		}

		if err := e.checkControl(ctx, run.ID); err != nil {
			return err
		}
		nodeStart = time.Now()
		return nil
	}

	if err := e.checkControl(ctx, run.ID); err != nil {
		return e.finish(ctx, run.ID, st, err, log)
	}
	nodeStart = time.Now()

	walkErr := graph.Stream(ctx, start, st, observe)
	buf.FlushAll()
	return e.finish(ctx, run.ID, st, walkErr, log)
}

func (e *Engine) seedState(run domain.Run) (*workflow.RunState, string, error) {
	if len(run.SeedState) == 0 {
		return workflow.NewState(run), "", nil
	}
	st, err := workflow.SeedFrom(run.SeedState, run)
	if err != nil {
		return nil, "", err
	}
	if run.SeedGoto != "" {
		return st, run.SeedGoto, nil
	}
	return st, "", nil
}

func (e *Engine) finish(ctx context.Context, runID uuid.UUID, st *workflow.RunState, walkErr error, log *slog.Logger) error {
	switch {
	case walkErr == nil:
		output := ""
		if st.Final != nil {
			output = st.Final.Summary
		}
		// Violations are advisory: one scan over the final file set, one
		// event, and a summary on the output text. The run still succeeds.
		if violations := e.linter.Lint(finalFiles(st)); len(violations) > 0 {
			data, _ := json.Marshal(map[string]any{"violations": violations})
			e.appendEvent(ctx, runID, domain.EventRulesViolation,
				fmt.Sprintf("%d rule violation(s) in generated files", len(violations)), data)
			output = strings.TrimSpace(output + "\n\n" + violationSummary(violations))
		}
		if err := e.store.SetRunOutput(ctx, runID, output); err != nil {
			return e.failRun(ctx, runID, fmt.Errorf("store output: %w", err))
		}
		e.writeArtifacts(ctx, runID, st)
		e.appendEvent(ctx, runID, domain.EventRunSucceeded, "run succeeded", nil)
		if err := e.store.SetRunStatus(ctx, runID, domain.RunSucceeded); err != nil {
			return fmt.Errorf("mark run succeeded: %w", err)
		}
		metrics.IncRunStatus(string(domain.RunSucceeded))
		log.Info("run succeeded")
		return nil

	case errors.Is(walkErr, errCanceled):
		e.appendEvent(ctx, runID, domain.EventRunCanceled, "run canceled", nil)
		if err := e.store.SetRunStatus(ctx, runID, domain.RunCanceled); err != nil {
			return fmt.Errorf("mark run canceled: %w", err)
		}
		metrics.IncRunStatus(string(domain.RunCanceled))
		log.Info("run canceled")
		return nil

	default:
		return e.failRun(ctx, runID, walkErr)
	}
}

func (e *Engine) failRun(ctx context.Context, runID uuid.UUID, cause error) error {
	data, _ := json.Marshal(map[string]string{"error": cause.Error()})
	e.appendEvent(ctx, runID, domain.EventRunFailed, "run failed", data)

	if err := e.store.SetRunError(ctx, runID, cause.Error()); err != nil {
		e.logger.Error("store run error failed", "run_id", runID, "error", err)
	}
	if err := e.store.SetRunStatus(ctx, runID, domain.RunFailed); err != nil {
		e.logger.Error("mark run failed failed", "run_id", runID, "error", err)
	}
	metrics.IncRunStatus(string(domain.RunFailed))
	e.logger.Error("run failed", "run_id", runID, "error", cause)
	return cause
}

// announceOutputs emits agent.output for each role output not yet announced,
// in dispatch order so event streams are deterministic.
func (e *Engine) announceOutputs(ctx context.Context, runID uuid.UUID, st *workflow.RunState, seen map[string]bool) error {
	candidates := make([]string, 0, len(st.RoleOrder)+3)
	candidates = append(candidates, workflow.NodeRules)
	candidates = append(candidates, st.RoleOrder...)
	candidates = append(candidates, workflow.NodeTaskView, workflow.RoleEngineer)

	for _, role := range candidates {
		out, ok := st.Outputs[role]
		if !ok || seen[role] {
			continue
		}
		seen[role] = true
		data, err := json.Marshal(map[string]string{"role": role, "text": out})
		if err != nil {
			return err
		}
		if _, err := e.store.AppendEvent(ctx, runID, domain.EventAgentOutput, role+" finished", data); err != nil {
			return fmt.Errorf("append output event: %w", err)
		}
		metrics.IncEventAppended(domain.EventAgentOutput)
	}
	return nil
}

// finalFiles picks the file set the run is judged on: final.files when the
// terminating node produced one, the accumulated state files otherwise.
func finalFiles(st *workflow.RunState) []workflow.File {
	if st.Final != nil && len(st.Final.Files) > 0 {
		return st.Final.Files
	}
	return st.Files
}

func violationSummary(violations []Violation) string {
	var b strings.Builder
	b.WriteString("[Global rule violations]")
	for _, v := range violations {
		fmt.Fprintf(&b, "\n- %s at %s: %s", v.RuleID, v.Path, v.Detail)
	}
	return b.String()
}

func (e *Engine) saveCheckpoint(ctx context.Context, runID uuid.UUID, node string, st *workflow.RunState) error {
	snap, err := st.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot state: %w", err)
	}
	seq, err := e.store.AppendCheckpoint(ctx, runID, node, snap)
	if err != nil {
		return fmt.Errorf("append checkpoint: %w", err)
	}

	data, _ := json.Marshal(map[string]any{"node": node, "checkpoint_seq": seq})
	if _, err := e.store.AppendEvent(ctx, runID, domain.EventCheckpointSaved, "checkpoint saved after "+node, data); err != nil {
		return fmt.Errorf("append checkpoint event: %w", err)
	}
	metrics.IncEventAppended(domain.EventCheckpointSaved)

	nodeData, _ := json.Marshal(map[string]string{"node": node})
	if _, err := e.store.AppendEvent(ctx, runID, domain.EventNodeCompleted, node+" completed", nodeData); err != nil {
		return fmt.Errorf("append node event: %w", err)
	}
	metrics.IncEventAppended(domain.EventNodeCompleted)
	return nil
}

// checkControl reads the run status and enforces control requests. A paused
// run parks here, polling until it is resumed or canceled.
func (e *Engine) checkControl(ctx context.Context, runID uuid.UUID) error {
	status, err := e.store.RunStatus(ctx, runID)
	if err != nil {
		return fmt.Errorf("read run status: %w", err)
	}

	switch status {
	case domain.RunCanceled:
		return errCanceled
	case domain.RunPaused:
	default:
		return nil
	}

	e.appendEvent(ctx, runID, domain.EventRunPaused, "run paused", nil)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.pollInterval):
		}

		status, err = e.store.RunStatus(ctx, runID)
		if err != nil {
			return fmt.Errorf("read run status: %w", err)
		}
		switch status {
		case domain.RunPaused:
		case domain.RunCanceled:
			return errCanceled
		case domain.RunRunning:
			e.appendEvent(ctx, runID, domain.EventRunResumed, "run resumed", nil)
			return nil
		default:
			return fmt.Errorf("run moved to unexpected status %q while paused", status)
		}
	}
}

// writeArtifacts persists the final object plus one artifact per generated
// file. Artifact failures are logged, not fatal: the run outcome is already
// decided by the time artifacts are written.
func (e *Engine) writeArtifacts(ctx context.Context, runID uuid.UUID, st *workflow.RunState) {
	if st.Final == nil {
		return
	}

	if body, err := json.Marshal(st.Final); err == nil {
		if err := e.store.AppendJSONArtifact(ctx, runID, "final.json", body); err != nil {
			e.logger.Error("write final artifact failed", "run_id", runID, "error", err)
		}
	}

	paths := make([]string, 0, len(st.Final.Files))
	for _, f := range st.Final.Files {
		name := sanitizeArtifactName(f.Path)
		paths = append(paths, name)
		if err := e.store.AppendTextArtifact(ctx, runID, "files/"+name, guessMIME(name), f.Content); err != nil {
			e.logger.Error("write file artifact failed", "run_id", runID, "name", name, "error", err)
		}
	}

	if len(paths) > 0 {
		if manifest, err := json.Marshal(map[string]any{"files": paths}); err == nil {
			if err := e.store.AppendJSONArtifact(ctx, runID, "manifest.json", manifest); err != nil {
				e.logger.Error("write manifest artifact failed", "run_id", runID, "error", err)
			}
		}
	}
}

// appendEvent is the best-effort variant for informational events; failures
// are logged and the run proceeds.
func (e *Engine) appendEvent(ctx context.Context, runID uuid.UUID, eventType, message string, data json.RawMessage) {
	if _, err := e.store.AppendEvent(ctx, runID, eventType, message, data); err != nil {
		e.logger.Error("append event failed", "run_id", runID, "type", eventType, "error", err)
		return
	}
	metrics.IncEventAppended(eventType)
}
