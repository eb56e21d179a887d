// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/crewforge/crewd/internal/domain"
	"github.com/crewforge/crewd/internal/metrics"
	"github.com/crewforge/crewd/internal/transport/middleware"
	"github.com/crewforge/crewd/internal/workflow"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type createRunRequest struct {
	Input     string   `json:"input"`
	Mode      string   `json:"mode"`
	Roles     []string `json:"roles"`
	UserRules []string `json:"user_rules"`
}

type rerunRequest struct {
	Node          string `json:"node"`
	CheckpointSeq *int64 `json:"checkpoint_seq"`
	Goto          string `json:"goto"`
}

type Deps struct {
	Runs        RunStore
	Events      EventStreamer
	Checkpoints CheckpointReader
	Artifacts   ArtifactReader
	Health      HealthChecker
	Logger      *slog.Logger
	APIToken    string
	Version     string
	Commit      string
	BuildDate   string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	// Built once for rerun target validation; the graph's collaborators are
	// never invoked here.
	runGraph, _ := workflow.Build(workflow.Deps{})

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			if err := deps.Health.Check(r.Context()); err != nil {
				logger.Error("readiness check failed", "error", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- RUNS ----------------

	r.Group(func(r chi.Router) {
		if strings.TrimSpace(deps.APIToken) != "" {
			r.Use(middleware.AdminTokenAuth(deps.APIToken, logger))
		}

		r.Post("/runs", func(w http.ResponseWriter, r *http.Request) {
			reqBody, err := decodeCreateRunRequest(r)
			if err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			mode := domain.RunMode(strings.ToLower(strings.TrimSpace(reqBody.Mode)))
			if mode == "" {
				mode = domain.ModeEngineer
			}
			if mode != domain.ModeEngineer && mode != domain.ModeTeam {
				http.Error(w, "invalid mode", http.StatusBadRequest)
				return
			}

			run, err := deps.Runs.CreateRun(r.Context(), domain.CreateRunParams{
				Input:     reqBody.Input,
				Mode:      mode,
				Roles:     reqBody.Roles,
				UserRules: reqBody.UserRules,
			})
			if err != nil {
				if errors.Is(err, domain.ErrEmptyInput) {
					http.Error(w, "input must not be empty", http.StatusBadRequest)
					return
				}
				logger.Error("create run failed", "error", err)
				http.Error(w, "failed to create run", http.StatusInternalServerError)
				return
			}

			logger.Info("run created via API", "run_id", run.ID, "mode", run.Mode)
			writeJSON(w, http.StatusCreated, run)
		})

		r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
			runID, ok := parseRunID(w, r)
			if !ok {
				return
			}

			run, err := deps.Runs.GetRun(r.Context(), runID)
			if err != nil {
				respondRunError(w, logger, runID, "get run", err)
				return
			}
			writeJSON(w, http.StatusOK, run)
		})

		// ---------------- CONTROLS ----------------

		r.Post("/runs/{id}/pause", controlHandler(deps, logger, domain.RunPaused))
		r.Post("/runs/{id}/resume", controlHandler(deps, logger, domain.RunRunning))
		r.Post("/runs/{id}/cancel", controlHandler(deps, logger, domain.RunCanceled))

		// ---------------- EVENTS ----------------

		r.Get("/runs/{id}/events", func(w http.ResponseWriter, r *http.Request) {
			runID, ok := parseRunID(w, r)
			if !ok {
				return
			}
			if _, err := deps.Runs.GetRun(r.Context(), runID); err != nil {
				respondRunError(w, logger, runID, "list events", err)
				return
			}

			after, err := cursorParam(r.URL.Query().Get("after"))
			if err != nil {
				http.Error(w, "invalid after cursor", http.StatusBadRequest)
				return
			}

			events, err := deps.Events.ListEventsAfter(r.Context(), runID, after)
			if err != nil {
				logger.Error("list events failed", "run_id", runID, "error", err)
				http.Error(w, "failed to list events", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"events": events})
		})

		// ---------------- STREAM EVENTS (SSE) ----------------

		r.Get("/runs/{id}/stream", func(w http.ResponseWriter, r *http.Request) {
			runID, ok := parseRunID(w, r)
			if !ok {
				return
			}
			if _, err := deps.Runs.GetRun(r.Context(), runID); err != nil {
				respondRunError(w, logger, runID, "stream events", err)
				return
			}

			since := strings.TrimSpace(r.URL.Query().Get("since_id"))
			cursor, err := resolveEventsCursor(r.Context(), deps.Events, runID, since)
			if err != nil {
				if errors.Is(err, errInvalidSinceID) {
					http.Error(w, "invalid since_id", http.StatusBadRequest)
					return
				}
				logger.Error("resolve events cursor failed", "run_id", runID, "since_id", since, "error", err)
				http.Error(w, "failed to stream events", http.StatusInternalServerError)
				return
			}

			flusher, ok := w.(http.Flusher)
			if !ok {
				http.Error(w, "streaming unsupported", http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			flusher.Flush()

			writeEvents := func() error {
				events, err := deps.Events.ListEventsAfter(r.Context(), runID, cursor)
				if err != nil {
					return err
				}
				for _, ev := range events {
					payload, err := json.Marshal(ev)
					if err != nil {
						return err
					}
					if _, err := fmt.Fprintf(w, "event: run_event\ndata: %s\n\n", payload); err != nil {
						return err
					}
					flusher.Flush()
					cursor = ev.Seq
				}
				return nil
			}

			// Emit everything up to the cursor, then tail until the run
			// reaches a terminal status.
			if err := writeEvents(); err != nil {
				logger.Error("sse initial write failed", "run_id", runID, "error", err)
				return
			}

			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			idle := 0

			for {
				select {
				case <-r.Context().Done():
					return
				case <-ticker.C:
					if err := writeEvents(); err != nil {
						logger.Error("sse write failed", "run_id", runID, "error", err)
						return
					}

					run, err := deps.Runs.GetRun(r.Context(), runID)
					if err != nil {
						logger.Error("sse run lookup failed", "run_id", runID, "error", err)
						return
					}
					if run.Status.IsTerminal() {
						_, _ = fmt.Fprintf(w, "event: done\ndata: {\"status\":%q}\n\n", run.Status)
						flusher.Flush()
						return
					}

					// Keep the connection alive through proxies.
					if idle%10 == 0 {
						_, _ = fmt.Fprint(w, ": ping\n\n")
						flusher.Flush()
					}
					idle++
				}
			}
		})

		// ---------------- CHECKPOINTS ----------------

		r.Get("/runs/{id}/checkpoints", func(w http.ResponseWriter, r *http.Request) {
			runID, ok := parseRunID(w, r)
			if !ok {
				return
			}
			if _, err := deps.Runs.GetRun(r.Context(), runID); err != nil {
				respondRunError(w, logger, runID, "list checkpoints", err)
				return
			}

			cps, err := deps.Checkpoints.ListCheckpoints(r.Context(), runID)
			if err != nil {
				logger.Error("list checkpoints failed", "run_id", runID, "error", err)
				http.Error(w, "failed to list checkpoints", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"checkpoints": cps})
		})

		// ---------------- RERUN (FORK) ----------------

		r.Post("/runs/{id}/rerun", func(w http.ResponseWriter, r *http.Request) {
			runID, ok := parseRunID(w, r)
			if !ok {
				return
			}

			src, err := deps.Runs.GetRun(r.Context(), runID)
			if err != nil {
				respondRunError(w, logger, runID, "rerun", err)
				return
			}

			reqBody, err := decodeRerunRequest(r)
			if err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			cp, err := pickCheckpoint(r, deps.Checkpoints, runID, reqBody)
			if err != nil {
				if errors.Is(err, domain.ErrCheckpointNotFound) {
					http.Error(w, "no checkpoint found to rerun from", http.StatusBadRequest)
					return
				}
				logger.Error("pick checkpoint failed", "run_id", runID, "error", err)
				http.Error(w, "failed to rerun", http.StatusInternalServerError)
				return
			}

			seedGoto := strings.TrimSpace(reqBody.Goto)
			if seedGoto == "" {
				seedGoto = strings.TrimSpace(reqBody.Node)
			}
			if seedGoto == "" {
				seedGoto = cp.Node
			}
			if seedGoto == "" {
				http.Error(w, "invalid goto node", http.StatusBadRequest)
				return
			}
			if runGraph != nil && !runGraph.HasNode(seedGoto) {
				http.Error(w, "unknown goto node", http.StatusBadRequest)
				return
			}

			parentID := src.ID
			child, err := deps.Runs.CreateRun(r.Context(), domain.CreateRunParams{
				Input:       src.Input,
				Mode:        src.Mode,
				Roles:       src.Roles,
				UserRules:   src.UserRules,
				ParentRunID: &parentID,
				SeedState:   cp.State,
				SeedGoto:    seedGoto,
			})
			if err != nil {
				logger.Error("create rerun failed", "run_id", runID, "error", err)
				http.Error(w, "failed to rerun", http.StatusInternalServerError)
				return
			}

			data, _ := json.Marshal(map[string]any{
				"parent_run_id":   parentID,
				"checkpoint_seq":  cp.Seq,
				"checkpoint_node": cp.Node,
				"goto":            seedGoto,
			})
			if _, err := deps.Events.AppendEvent(r.Context(), child.ID, domain.EventRunSeeded, "seeded from checkpoint", data); err != nil {
				logger.Error("append run.seeded failed", "run_id", child.ID, "error", err)
			}

			logger.Info("run forked via API",
				"run_id", child.ID,
				"parent_run_id", parentID,
				"checkpoint_seq", cp.Seq,
				"goto", seedGoto,
			)
			writeJSON(w, http.StatusCreated, child)
		})

		// ---------------- ARTIFACTS ----------------

		r.Get("/runs/{id}/artifacts", func(w http.ResponseWriter, r *http.Request) {
			runID, ok := parseRunID(w, r)
			if !ok {
				return
			}
			if _, err := deps.Runs.GetRun(r.Context(), runID); err != nil {
				respondRunError(w, logger, runID, "list artifacts", err)
				return
			}

			arts, err := deps.Artifacts.ListArtifacts(r.Context(), runID)
			if err != nil {
				logger.Error("list artifacts failed", "run_id", runID, "error", err)
				http.Error(w, "failed to list artifacts", http.StatusInternalServerError)
				return
			}

			// Listing carries metadata only; content is fetched per artifact.
			summaries := make([]map[string]any, 0, len(arts))
			for _, a := range arts {
				summaries = append(summaries, map[string]any{
					"id":         a.ID,
					"name":       a.Name,
					"mime_type":  a.MimeType,
					"created_at": a.CreatedAt,
				})
			}
			writeJSON(w, http.StatusOK, map[string]any{"artifacts": summaries})
		})

		r.Get("/runs/{id}/workspace.zip", func(w http.ResponseWriter, r *http.Request) {
			runID, ok := parseRunID(w, r)
			if !ok {
				return
			}

			run, err := deps.Runs.GetRun(r.Context(), runID)
			if err != nil {
				respondRunError(w, logger, runID, "workspace zip", err)
				return
			}

			arts, err := deps.Artifacts.ListArtifacts(r.Context(), runID)
			if err != nil {
				logger.Error("list artifacts failed", "run_id", runID, "error", err)
				http.Error(w, "failed to build archive", http.StatusInternalServerError)
				return
			}

			body, err := buildWorkspaceZip(run, arts)
			if err != nil {
				logger.Error("build workspace zip failed", "run_id", runID, "error", err)
				http.Error(w, "failed to build archive", http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/zip")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "run-"+runID.String()+".zip"))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(body)
		})

		r.Get("/runs/{id}/artifacts/*", func(w http.ResponseWriter, r *http.Request) {
			runID, ok := parseRunID(w, r)
			if !ok {
				return
			}
			if _, err := deps.Runs.GetRun(r.Context(), runID); err != nil {
				respondRunError(w, logger, runID, "get artifact", err)
				return
			}

			name := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
			if name == "" {
				http.Error(w, "artifact name required", http.StatusBadRequest)
				return
			}

			art, err := deps.Artifacts.GetArtifactByName(r.Context(), runID, name)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					http.Error(w, "artifact not found", http.StatusNotFound)
					return
				}
				logger.Error("get artifact failed", "run_id", runID, "name", name, "error", err)
				http.Error(w, "failed to get artifact", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, art)
		})
	})

	return r
}

func controlHandler(deps Deps, logger *slog.Logger, target domain.RunStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, ok := parseRunID(w, r)
		if !ok {
			return
		}

		if err := deps.Runs.ControlRun(r.Context(), runID, target); err != nil {
			switch {
			case errors.Is(err, domain.ErrRunNotFound):
				http.Error(w, "run not found", http.StatusNotFound)
			case errors.Is(err, domain.ErrRunTerminal):
				http.Error(w, "run already finished", http.StatusConflict)
			case errors.Is(err, domain.ErrInvalidTransition):
				http.Error(w, err.Error(), http.StatusConflict)
			default:
				logger.Error("control run failed", "run_id", runID, "target", target, "error", err)
				http.Error(w, "failed to apply control", http.StatusInternalServerError)
			}
			return
		}

		logger.Info("run control via API", "run_id", runID, "target", target)

		run, err := deps.Runs.GetRun(r.Context(), runID)
		if err != nil {
			respondRunError(w, logger, runID, "get run after control", err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func pickCheckpoint(r *http.Request, cps CheckpointReader, runID uuid.UUID, req rerunRequest) (domain.CheckpointRecord, error) {
	ctx := r.Context()
	if req.CheckpointSeq != nil {
		return cps.GetCheckpoint(ctx, runID, *req.CheckpointSeq)
	}
	if node := strings.TrimSpace(req.Node); node != "" {
		// Latest checkpoint recorded for the named node.
		all, err := cps.ListCheckpoints(ctx, runID)
		if err != nil {
			return domain.CheckpointRecord{}, err
		}
		for i := len(all) - 1; i >= 0; i-- {
			if all[i].Node == node {
				return all[i], nil
			}
		}
		return domain.CheckpointRecord{}, domain.ErrCheckpointNotFound
	}
	return cps.LatestCheckpoint(ctx, runID)
}

func buildWorkspaceZip(run domain.Run, arts []domain.ArtifactRecord) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, a := range arts {
		name := strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(a.Name), "\\", "/"), "/")
		if name == "" {
			continue
		}
		f, err := zw.Create(name)
		if err != nil {
			return nil, err
		}
		switch {
		case a.ContentText != "":
			_, err = f.Write([]byte(a.ContentText))
		case len(a.ContentJSON) > 0:
			var pretty bytes.Buffer
			if indentErr := json.Indent(&pretty, a.ContentJSON, "", "  "); indentErr == nil {
				_, err = f.Write(pretty.Bytes())
			} else {
				_, err = f.Write(a.ContentJSON)
			}
		}
		if err != nil {
			return nil, err
		}
	}

	meta, err := json.MarshalIndent(map[string]any{
		"id":         run.ID,
		"status":     run.Status,
		"mode":       run.Mode,
		"roles":      run.Roles,
		"input":      run.Input,
		"created_at": run.CreatedAt,
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	f, err := zw.Create("run_meta.json")
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(meta); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func respondRunError(w http.ResponseWriter, logger *slog.Logger, runID uuid.UUID, op string, err error) {
	if errors.Is(err, domain.ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	logger.Error(op+" failed", "run_id", runID, "error", err)
	http.Error(w, "failed to "+op, http.StatusInternalServerError)
}

func parseRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid run ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return runID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeCreateRunRequest(r *http.Request) (createRunRequest, error) {
	var req createRunRequest
	if err := decodeSingleObject(r, &req); err != nil {
		return createRunRequest{}, err
	}
	req.Input = strings.TrimSpace(req.Input)
	return req, nil
}

func decodeRerunRequest(r *http.Request) (rerunRequest, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return rerunRequest{}, nil
	}
	var req rerunRequest
	if err := decodeSingleObject(r, &req); err != nil {
		if errors.Is(err, io.EOF) {
			return rerunRequest{}, nil
		}
		return rerunRequest{}, err
	}
	return req, nil
}

func decodeSingleObject(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}
	return nil
}

var errInvalidSinceID = errors.New("invalid since_id")

func resolveEventsCursor(ctx context.Context, events EventStreamer, runID uuid.UUID, since string) (int64, error) {
	if since == "" {
		return 0, nil
	}

	if seq, err := strconv.ParseInt(since, 10, 64); err == nil {
		if seq < 0 {
			return 0, errInvalidSinceID
		}
		return seq, nil
	}

	eventID, err := uuid.Parse(since)
	if err != nil {
		return 0, errInvalidSinceID
	}

	seq, err := events.ResolveCursorByEventID(ctx, runID, eventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errInvalidSinceID
		}
		return 0, err
	}

	return seq, nil
}

func cursorParam(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0, errors.New("invalid cursor")
	}
	return seq, nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
