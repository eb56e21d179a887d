//go:build integration

// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/crewforge/crewd/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestRunLifecycleIntegration(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	if err := truncateAll(ctx, pool); err != nil {
		t.Skipf("skip integration test: database not reachable (%v)", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runRepo := NewRunRepository(pool, logger)
	eventRepo := NewEventRepository(pool, logger)

	run, err := runRepo.CreateRun(ctx, domain.CreateRunParams{
		Input: "build a demo",
		Mode:  domain.ModeEngineer,
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if run.Status != domain.RunQueued {
		t.Fatalf("expected run status %s got %s", domain.RunQueued, run.Status)
	}

	// Creation must have emitted run.created as event seq 1.
	events, err := eventRepo.ListEventsAfter(ctx, run.ID, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Seq != 1 || events[0].Type != domain.EventRunCreated {
		t.Fatalf("expected a single run.created event at seq 1, got %+v", events)
	}

	claimed, err := runRepo.ClaimQueuedRun(ctx)
	if err != nil {
		t.Fatalf("claim run: %v", err)
	}
	if claimed.ID != run.ID {
		t.Fatalf("claimed wrong run: %s", claimed.ID)
	}
	if claimed.Status != domain.RunRunning {
		t.Fatalf("claimed run status = %s, want running", claimed.Status)
	}
	if claimed.StartedAt == nil {
		t.Fatal("claim must stamp started_at")
	}

	// The queue is now empty.
	if _, err := runRepo.ClaimQueuedRun(ctx); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected pgx.ErrNoRows on empty queue, got %v", err)
	}

	if err := runRepo.ControlRun(ctx, run.ID, domain.RunPaused); err != nil {
		t.Fatalf("pause run: %v", err)
	}
	if err := runRepo.ControlRun(ctx, run.ID, domain.RunRunning); err != nil {
		t.Fatalf("resume run: %v", err)
	}
	if err := runRepo.ControlRun(ctx, run.ID, domain.RunCanceled); err != nil {
		t.Fatalf("cancel run: %v", err)
	}
	if err := runRepo.ControlRun(ctx, run.ID, domain.RunCanceled); !errors.Is(err, domain.ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal on second cancel, got %v", err)
	}

	got, err := runRepo.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != domain.RunCanceled {
		t.Fatalf("expected run status %s got %s", domain.RunCanceled, got.Status)
	}
}

func TestEventSequencingIntegration(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	if err := truncateAll(ctx, pool); err != nil {
		t.Skipf("skip integration test: database not reachable (%v)", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runRepo := NewRunRepository(pool, logger)
	eventRepo := NewEventRepository(pool, logger)

	run, err := runRepo.CreateRun(ctx, domain.CreateRunParams{Input: "seq test", Mode: domain.ModeEngineer})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	data, _ := json.Marshal(map[string]string{"role": "engineer", "text": "chunk"})
	for i := 0; i < 5; i++ {
		seq, err := eventRepo.AppendEvent(ctx, run.ID, domain.EventAgentDelta, "", data)
		if err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
		// run.created already holds seq 1.
		if seq != int64(i+2) {
			t.Fatalf("event %d seq = %d, want %d", i, seq, i+2)
		}
	}

	events, err := eventRepo.ListEventsAfter(ctx, run.ID, 3)
	if err != nil {
		t.Fatalf("list events after 3: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events after seq 3, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Seq != int64(i+4) {
			t.Fatalf("event seq = %d, want %d", ev.Seq, i+4)
		}
	}

	cursor, err := eventRepo.ResolveCursorByEventID(ctx, run.ID, events[0].ID)
	if err != nil {
		t.Fatalf("resolve cursor: %v", err)
	}
	if cursor != events[0].Seq {
		t.Fatalf("cursor = %d, want %d", cursor, events[0].Seq)
	}
}

func TestCheckpointAndArtifactRepositoriesIntegration(t *testing.T) {
	ctx := context.Background()
	pool := integrationPool(t, ctx)
	defer pool.Close()

	if err := truncateAll(ctx, pool); err != nil {
		t.Skipf("skip integration test: database not reachable (%v)", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runRepo := NewRunRepository(pool, logger)
	cpRepo := NewCheckpointRepository(pool, logger)
	artRepo := NewArtifactRepository(pool, logger)

	run, err := runRepo.CreateRun(ctx, domain.CreateRunParams{Input: "cp test", Mode: domain.ModeEngineer})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	for i, node := range []string{"init", "rule_node", "engineer_solo"} {
		state, _ := json.Marshal(map[string]any{"run_id": run.ID, "step": i})
		seq, err := cpRepo.AppendCheckpoint(ctx, run.ID, node, state)
		if err != nil {
			t.Fatalf("append checkpoint %s: %v", node, err)
		}
		if seq != int64(i+1) {
			t.Fatalf("checkpoint seq = %d, want %d", seq, i+1)
		}
	}

	cps, err := cpRepo.ListCheckpoints(ctx, run.ID)
	if err != nil {
		t.Fatalf("list checkpoints: %v", err)
	}
	if len(cps) != 3 {
		t.Fatalf("expected 3 checkpoints got %d", len(cps))
	}

	latest, err := cpRepo.LatestCheckpoint(ctx, run.ID)
	if err != nil {
		t.Fatalf("latest checkpoint: %v", err)
	}
	if latest.Seq != 3 || latest.Node != "engineer_solo" {
		t.Fatalf("unexpected latest checkpoint: %+v", latest)
	}

	if _, err := cpRepo.GetCheckpoint(ctx, run.ID, 99); !errors.Is(err, domain.ErrCheckpointNotFound) {
		t.Fatalf("expected ErrCheckpointNotFound, got %v", err)
	}

	if err := artRepo.AppendTextArtifact(ctx, run.ID, "files/index.html", "text/html", "<html/>"); err != nil {
		t.Fatalf("append text artifact: %v", err)
	}
	final, _ := json.Marshal(map[string]string{"summary": "done"})
	if err := artRepo.AppendJSONArtifact(ctx, run.ID, "final.json", final); err != nil {
		t.Fatalf("append json artifact: %v", err)
	}

	arts, err := artRepo.ListArtifacts(ctx, run.ID)
	if err != nil {
		t.Fatalf("list artifacts: %v", err)
	}
	if len(arts) != 2 {
		t.Fatalf("expected 2 artifacts got %d", len(arts))
	}

	byName, err := artRepo.GetArtifactByName(ctx, run.ID, "files/index.html")
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	if byName.ContentText != "<html/>" || byName.MimeType != "text/html" {
		t.Fatalf("unexpected artifact: %+v", byName)
	}
}

func truncateAll(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `TRUNCATE TABLE run_events, run_checkpoints, run_artifacts, runs RESTART IDENTITY CASCADE`)
	return err
}

func integrationPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set DATABASE_URL to run integration tests")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		t.Skipf("skip integration test: cannot create pgx pool (%v)", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test: cannot reach database (%v)", err)
	}

	return pool
}
