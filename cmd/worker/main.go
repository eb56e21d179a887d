// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crewforge/crewd/internal/config"
	"github.com/crewforge/crewd/internal/engine"
	"github.com/crewforge/crewd/internal/llm"
	"github.com/crewforge/crewd/internal/logging"
	"github.com/crewforge/crewd/internal/persistence/postgres"
	"github.com/crewforge/crewd/internal/repository"
	"github.com/crewforge/crewd/internal/rules"
	"github.com/crewforge/crewd/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
			log.Fatalf("schema bootstrap failed: %v", err)
		}
	} else if err := postgres.SchemaReady(ctx, pool); err != nil {
		log.Fatalf("schema not ready: %v", err)
	}

	globals := rules.GlobalCatalog()
	if cfg.RulesFile != "" {
		loaded, err := rules.LoadCatalog(cfg.RulesFile)
		if err != nil {
			log.Fatalf("load rules catalog failed: %v", err)
		}
		globals = loaded
		logger.Info("rules catalog loaded", "path", cfg.RulesFile, "rules", len(globals))
	}

	store := repository.NewEngineStore(pool, logger)
	eng := engine.New(engine.Deps{
		Store:        store,
		LLM:          llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel),
		Globals:      globals,
		Logger:       logger,
		PollInterval: time.Duration(cfg.ControlPollMS) * time.Millisecond,
	})

	w := worker.New(worker.Deps{
		Claims: repository.NewRunRepository(pool, logger),
		Engine: eng,
		Logger: logger,
	})

	logger.Info("worker started", "model", cfg.LLMModel)

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker stopped: %v", err)
	}

	logger.Info("worker shut down")
}
