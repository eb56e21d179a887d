// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/crewforge/crewd/internal/domain"
	"github.com/crewforge/crewd/internal/metrics"
	"github.com/jackc/pgx/v5"
)

// RunClaimer hands out queued runs, one per call. An empty queue is
// signalled with pgx.ErrNoRows.
type RunClaimer interface {
	ClaimQueuedRun(ctx context.Context) (domain.Run, error)
}

// Runner drives one claimed run to a terminal status.
type Runner interface {
	Execute(ctx context.Context, run domain.Run) error
}

type Deps struct {
	Claims    RunClaimer
	Engine    Runner
	Logger    *slog.Logger
	IdleSleep time.Duration
}

type Worker struct {
	claims    RunClaimer
	engine    Runner
	logger    *slog.Logger
	idleSleep time.Duration
}

func New(deps Deps) *Worker {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	idle := deps.IdleSleep
	if idle <= 0 {
		idle = time.Second
	}

	return &Worker{
		claims:    deps.Claims,
		engine:    deps.Engine,
		logger:    l,
		idleSleep: idle,
	}
}

// ProcessOnce claims and drives at most one run. It reports whether a run
// was claimed. Execution failures are terminal for the run, not the worker:
// the engine records the failure on the run and ProcessOnce returns nil.
func (w *Worker) ProcessOnce(ctx context.Context) (bool, error) {
	start := time.Now()
	run, err := w.claims.ClaimQueuedRun(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		w.logger.Error("claim run failed", "error", err)
		return false, err
	}
	metrics.ObserveWorkerClaimLatency(time.Since(start))

	w.logger.Info("run claimed", "run_id", run.ID, "mode", run.Mode)

	if err := w.engine.Execute(ctx, run); err != nil {
		w.logger.Error("run execution failed", "run_id", run.ID, "error", err)
		return true, nil
	}

	w.logger.Info("run finished", "run_id", run.ID)
	return true, nil
}

// Run polls the queue until ctx is canceled, sleeping idleSleep when the
// queue is empty or a claim errors.
func (w *Worker) Run(ctx context.Context) error {
	for {
		claimed, err := w.ProcessOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if claimed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.idleSleep):
		}
	}
}
