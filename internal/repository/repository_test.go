// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/crewforge/crewd/internal/domain"
	"github.com/crewforge/crewd/internal/engine"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestNewRunRepository(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var pool *pgxpool.Pool

	repo := NewRunRepository(pool, logger)
	if repo == nil {
		t.Fatal("expected run repository instance")
	}
	if repo.pool != pool {
		t.Fatal("expected pool reference to be preserved")
	}
	if repo.logger != logger {
		t.Fatal("expected logger reference to be preserved")
	}
}

func TestNewEngineStoreWiresRepositories(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var pool *pgxpool.Pool

	store := NewEngineStore(pool, logger)
	if store.Runs == nil || store.Events == nil || store.Checkpoints == nil || store.Artifacts == nil {
		t.Fatal("expected all repositories to be constructed")
	}

	// EngineStore must satisfy the driver's persistence surface.
	var _ engine.Store = store
}

func TestCreateRunRejectsEmptyInput(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := NewRunRepository(nil, logger)

	if _, err := repo.CreateRun(context.Background(), domain.CreateRunParams{Input: "   "}); err != domain.ErrEmptyInput {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}
