// Package httpapi exposes read-only JSON endpoints for dashboards and
// probes: project status, agent and task listings, the event log tail,
// and the health check. Everything except /healthz requires the shared
// bearer token.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/swarmhub/swarmhub/internal/hub/auth"
	"github.com/swarmhub/swarmhub/internal/hub/project"
	"github.com/swarmhub/swarmhub/internal/hub/registry"
	"github.com/swarmhub/swarmhub/internal/hub/state"
)

// API serves the read-only HTTP endpoints.
type API struct {
	auth *auth.Checker
	reg  *registry.Registry
}

// New creates the API handler set.
func New(checker *auth.Checker, reg *registry.Registry) *API {
	return &API{auth: checker, reg: reg}
}

// Register installs the API routes on a mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /api/status", a.protected(a.handleStatus))
	mux.HandleFunc("GET /api/agents", a.protected(a.handleAgents))
	mux.HandleFunc("GET /api/tasks", a.protected(a.handleTasks))
	mux.HandleFunc("GET /api/logs", a.protected(a.handleLogs))
}

func (a *API) protected(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.auth.CheckRequest(r) {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next(w, r)
	}
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleStatus returns one project's overview, or the list of open
// projects when no project is given.
func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project")
	if projectID == "" {
		projects := a.reg.List()
		sort.Strings(projects)
		writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
		return
	}
	actor, ok := a.openProject(w, r, projectID)
	if !ok {
		return
	}
	st, err := actor.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "project unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleAgents(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.openProject(w, r, r.URL.Query().Get("project"))
	if !ok {
		return
	}
	var agents []state.Agent
	err := actor.Inspect(r.Context(), func(s *state.State) {
		agents = make([]state.Agent, 0, len(s.Agents))
		for _, ag := range s.Agents {
			agents = append(agents, *ag)
		}
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "project unavailable")
		return
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (a *API) handleTasks(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.openProject(w, r, r.URL.Query().Get("project"))
	if !ok {
		return
	}
	status := r.URL.Query().Get("status")
	var tasks []state.Task
	err := actor.Inspect(r.Context(), func(s *state.State) {
		tasks = make([]state.Task, 0, len(s.Tasks))
		for _, t := range s.Tasks {
			if status != "" && string(t.Status) != status {
				continue
			}
			tasks = append(tasks, *t)
		}
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "project unavailable")
		return
	}
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// handleLogs returns the in-memory tail of the event log, bounded by
// since_seq and limit.
func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.openProject(w, r, r.URL.Query().Get("project"))
	if !ok {
		return
	}
	since := parseIntParam(r, "since_seq", 0)
	limit := int(parseIntParam(r, "limit", 500))
	events := actor.ReplayEvents(since, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"seq":    actor.Seq(),
	})
}

func (a *API) openProject(w http.ResponseWriter, r *http.Request, projectID string) (*project.Actor, bool) {
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project query parameter is required")
		return nil, false
	}
	actor, err := a.reg.Get(r.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return actor, true
}

func parseIntParam(r *http.Request, name string, def int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
