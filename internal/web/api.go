package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mtzanidakis/realtymesh/internal/store"
	"github.com/mtzanidakis/realtymesh/internal/swarm"
)

// maxRequestSize limits an aggregate request body.
const maxRequestSize = 1 << 20

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/aggregate", s.aggregate)

	mux.HandleFunc("GET /api/workers", s.listWorkers)

	// Run history
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.deleteRun)

	mux.HandleFunc("GET /api/status", s.getStatus)
}

// aggregate answers with one text block per configured role. With
// ?detail=1 the full response (outcomes, run id) is returned instead.
func (s *Server) aggregate(w http.ResponseWriter, r *http.Request) {
	var req swarm.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp := s.coord.Aggregate(r.Context(), req, swarm.WithSource("api"))

	if detail, _ := strconv.ParseBool(r.URL.Query().Get("detail")); detail {
		jsonResponse(w, resp)
		return
	}
	jsonResponse(w, resp.Results)
}

func (s *Server) listWorkers(w http.ResponseWriter, r *http.Request) {
	workers := s.registry.Snapshot()
	out := make([]map[string]any, 0, len(workers))
	for _, wk := range workers {
		out = append(out, map[string]any{
			"role":        wk.Role,
			"url":         wk.URL,
			"timeout":     wk.Timeout.String(),
			"max_retries": wk.MaxRetries,
		})
	}
	jsonResponse(w, out)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "run history disabled", http.StatusNotFound)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	jsonResponse(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "run history disabled", http.StatusNotFound)
		return
	}
	run, err := s.store.GetRun(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, run)
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "run history disabled", http.StatusNotFound)
		return
	}
	if err := s.store.DeleteRun(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":    "ok",
		"workers":   s.registry.Roles(),
		"uptime":    formatUptime(time.Since(s.startedAt)),
		"clients":   s.hub.Len(),
		"timestamp": time.Now().UTC(),
		"version":   s.version,
	}

	if s.nats != nil {
		status["nats"] = "ok"
	} else {
		status["nats"] = "disabled"
	}

	if s.store != nil {
		if stats, err := s.store.RoleStats(); err == nil {
			status["role_stats"] = stats
		}
		if runs, err := s.store.ListRuns(10); err == nil {
			recent := make([]map[string]any, 0, len(runs))
			for _, run := range runs {
				recent = append(recent, map[string]any{
					"id":          run.ID,
					"source":      run.Source,
					"status":      run.Status,
					"duration_ms": run.DurationMS,
					"time":        formatRunTime(run.StartedAt),
				})
			}
			status["recent_runs"] = recent
		}
	}

	jsonResponse(w, status)
}

func formatRunTime(t time.Time) string {
	now := time.Now()
	local := t.Local()
	if local.Year() == now.Year() && local.YearDay() == now.YearDay() {
		return local.Format("15:04")
	}
	return local.Format("Jan 2 15:04")
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
