package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/martinemde/orbit/history"
	"github.com/martinemde/orbit/loop"
	"github.com/martinemde/orbit/metrics"
)

type createLoopRequest struct {
	Prompt        string `json:"prompt"`
	Model         string `json:"model"`
	Provider      string `json:"provider"`
	MaxSteps      int    `json:"max_steps"`
	Confirm       bool   `json:"confirm"`
	ShowReasoning bool   `json:"show_reasoning"`
}

type resumeLoopRequest struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
}

// Deps carries everything the router serves from.
type Deps struct {
	Manager   *Manager
	Logger    *slog.Logger
	Version   string
	Commit    string
	BuildDate string
}

// NewRouter returns the HTTP handler for the loop API.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	r.Route("/api/loops", func(api chi.Router) {

		// ---------------- START LOOP ----------------

		api.Post("/", func(w http.ResponseWriter, r *http.Request) {
			reqBody, err := decodeCreateLoopRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			state, err := deps.Manager.Start(StartOptions{
				Prompt:        reqBody.Prompt,
				Model:         reqBody.Model,
				Provider:      reqBody.Provider,
				MaxSteps:      reqBody.MaxSteps,
				Confirm:       reqBody.Confirm,
				ShowReasoning: reqBody.ShowReasoning,
			})
			if err != nil {
				var cfgErr *loop.ConfigError
				if errors.As(err, &cfgErr) {
					http.Error(w, cfgErr.Error(), http.StatusBadRequest)
					return
				}

				logger.Error("start loop failed", "error", err)
				http.Error(w, "failed to start loop", http.StatusInternalServerError)
				return
			}

			logger.Info("loop started via API", "loop_id", state.ID)

			writeJSON(w, http.StatusOK, state)
		})

		// ---------------- LIST LOOPS ----------------

		api.Get("/", func(w http.ResponseWriter, r *http.Request) {
			limit := 0
			if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n < 1 {
					http.Error(w, "invalid limit", http.StatusBadRequest)
					return
				}
				limit = n
			}

			loops, err := deps.Manager.List(r.Context(), limit)
			if err != nil {
				logger.Error("list loops failed", "error", err)
				http.Error(w, "failed to list loops", http.StatusInternalServerError)
				return
			}
			if loops == nil {
				loops = []history.Summary{}
			}

			writeJSON(w, http.StatusOK, struct {
				Loops []history.Summary `json:"loops"`
			}{Loops: loops})
		})

		// ---------------- GET LOOP ----------------

		api.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			loopID, ok := parseLoopID(w, r)
			if !ok {
				return
			}

			state, err := deps.Manager.Get(r.Context(), loopID)
			if err != nil {
				if errors.Is(err, history.ErrNotFound) {
					logger.Warn("loop not found", "loop_id", loopID)
					http.Error(w, "loop not found", http.StatusNotFound)
					return
				}

				logger.Error("get loop failed", "loop_id", loopID, "error", err)
				http.Error(w, "failed to get loop", http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, state)
		})

		// ---------------- RESUME LOOP ----------------

		api.Post("/{id}/resume", func(w http.ResponseWriter, r *http.Request) {
			loopID, ok := parseLoopID(w, r)
			if !ok {
				return
			}

			reqBody, err := decodeResumeLoopRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			state, err := deps.Manager.Resume(r.Context(), loopID, reqBody.Approved, reqBody.Feedback)
			if err != nil {
				if errors.Is(err, history.ErrNotFound) {
					logger.Warn("loop not found", "loop_id", loopID)
					http.Error(w, "loop not found", http.StatusNotFound)
					return
				}
				if loop.IsInvalidState(err) {
					logger.Warn("resume rejected", "loop_id", loopID, "error", err)
					http.Error(w, err.Error(), http.StatusConflict)
					return
				}

				logger.Error("resume loop failed", "loop_id", loopID, "error", err)
				http.Error(w, "failed to resume loop", http.StatusInternalServerError)
				return
			}

			logger.Info("loop resumed via API", "loop_id", loopID, "approved", reqBody.Approved)

			writeJSON(w, http.StatusOK, map[string]string{
				"id":     loopID,
				"status": string(state.Status),
			})
		})

		// ---------------- CANCEL LOOP ----------------

		api.Post("/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
			loopID, ok := parseLoopID(w, r)
			if !ok {
				return
			}

			state, err := deps.Manager.Cancel(r.Context(), loopID)
			if err != nil {
				if errors.Is(err, history.ErrNotFound) {
					logger.Warn("loop not found", "loop_id", loopID)
					http.Error(w, "loop not found", http.StatusNotFound)
					return
				}

				logger.Error("cancel loop failed", "loop_id", loopID, "error", err)
				http.Error(w, "failed to cancel loop", http.StatusInternalServerError)
				return
			}

			logger.Info("loop cancelled via API", "loop_id", loopID)

			writeJSON(w, http.StatusOK, map[string]string{
				"id":     loopID,
				"status": string(state.Status),
			})
		})

		// ---------------- STREAM EVENTS (SSE) ----------------

		api.Get("/{id}/events", streamEventsHandler(deps.Manager, logger))

		// ---------------- STREAM EVENTS (WEBSOCKET) ----------------

		api.Get("/{id}/ws", streamWebSocketHandler(deps.Manager, logger))
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseLoopID(w http.ResponseWriter, r *http.Request) (string, bool) {
	idStr := chi.URLParam(r, "id")
	loopID, err := uuid.Parse(idStr)
	if err != nil {
		http.Error(w, "invalid loop ID", http.StatusBadRequest)
		return "", false
	}
	return loopID.String(), true
}

func decodeCreateLoopRequest(r *http.Request) (createLoopRequest, error) {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return createLoopRequest{}, errors.New("prompt is required")
	}

	var req createLoopRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return createLoopRequest{}, errors.New("invalid request body")
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return createLoopRequest{}, errors.New("request body must contain exactly one JSON object")
	}

	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return createLoopRequest{}, errors.New("prompt is required")
	}
	if req.MaxSteps < 0 {
		return createLoopRequest{}, errors.New("max_steps must be positive")
	}

	return req, nil
}

func decodeResumeLoopRequest(r *http.Request) (resumeLoopRequest, error) {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return resumeLoopRequest{}, errors.New("request body is required")
	}

	var req resumeLoopRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return resumeLoopRequest{}, errors.New("invalid request body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return resumeLoopRequest{}, errors.New("request body must contain exactly one JSON object")
	}

	return req, nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
