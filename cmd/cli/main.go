// SPDX-License-Identifier: Apache-2.0

// Command cli bundles the repo's local validation steps: gofmt, go vet,
// unit tests, and the Postgres integration suite when DATABASE_URL is set.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

type checkStep struct {
	name string
	args []string
}

func main() {
	logger := newLogger()

	if len(os.Args) < 2 || os.Args[1] != "validate" {
		fmt.Fprintln(os.Stderr, "usage: go run ./cmd/cli validate")
		os.Exit(2)
	}

	if err := runValidate(context.Background(), logger); err != nil {
		logger.Error("validation failed", "error", err)
		os.Exit(1)
	}
	logger.Info("validation passed")
}

func runValidate(ctx context.Context, logger *slog.Logger) error {
	started := time.Now()

	if err := checkFormatting(ctx, logger); err != nil {
		return err
	}

	steps := []checkStep{
		{name: "go vet", args: []string{"vet", "./..."}},
		{name: "go test unit", args: []string{"test", "./..."}},
	}
	if strings.TrimSpace(os.Getenv("DATABASE_URL")) != "" {
		steps = append(steps, checkStep{
			name: "go test integration",
			args: []string{
				"test", "-count=1", "-tags=integration",
				"./internal/repository",
				"./internal/persistence/postgres",
			},
		})
	} else {
		logger.Info("skipping integration tests", "reason", "DATABASE_URL is not set")
	}

	for _, step := range steps {
		if err := runStep(ctx, logger, step); err != nil {
			return err
		}
	}

	logger.Info("validation complete", "duration_ms", time.Since(started).Milliseconds())
	return nil
}

func runStep(ctx context.Context, logger *slog.Logger, step checkStep) error {
	logger.Info("running step", "step", step.name,
		"command", "go "+strings.Join(step.args, " "))
	started := time.Now()

	cmd := exec.CommandContext(ctx, "go", step.args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	err := cmd.Run()
	duration := time.Since(started)
	if err != nil {
		exitCode := 1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		logger.Error("step failed", "step", step.name,
			"duration_ms", duration.Milliseconds(), "exit_code", exitCode)
		return err
	}

	logger.Info("step completed", "step", step.name, "duration_ms", duration.Milliseconds())
	return nil
}

func checkFormatting(ctx context.Context, logger *slog.Logger) error {
	files, err := goSourceFiles(".")
	if err != nil {
		return fmt.Errorf("list go files: %w", err)
	}
	if len(files) == 0 {
		logger.Info("skipping gofmt check", "reason", "no go files found")
		return nil
	}

	logger.Info("running step", "step", "gofmt check", "files", len(files))
	started := time.Now()

	cmd := exec.CommandContext(ctx, "gofmt", append([]string{"-l"}, files...)...)
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("gofmt check failed: %w", err)
	}

	if unformatted := strings.TrimSpace(string(out)); unformatted != "" {
		return fmt.Errorf("gofmt would change files:\n%s", unformatted)
	}

	logger.Info("step completed", "step", "gofmt check",
		"duration_ms", time.Since(started).Milliseconds())
	return nil
}

func goSourceFiles(root string) ([]string, error) {
	files := make([]string, 0, 64)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", ".cache", ".gocache", ".gomodcache", "vendor", "_examples":
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) == ".go" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	}))
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
