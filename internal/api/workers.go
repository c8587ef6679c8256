package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type workerView struct {
	Name           string  `json:"name"`
	Domain         string  `json:"domain"`
	Description    string  `json:"description"`
	State          string  `json:"state"`
	ResponseTimeMs int64   `json:"response_time_ms"`
	UptimeS        int64   `json:"uptime_s"`
	CPUPct         float64 `json:"cpu_pct"`
	MemoryMB       float64 `json:"memory_mb"`
}

// handleListWorkers backs GET /v1/workers: catalogue + availability.
func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	catalogue := s.registry.List()
	views := make([]workerView, 0, len(catalogue))
	for _, worker := range catalogue {
		status, _ := s.registry.Status(worker.Name)
		views = append(views, workerView{
			Name:           worker.Name,
			Domain:         string(worker.Domain),
			Description:    worker.Description,
			State:          string(status.State),
			ResponseTimeMs: status.ResponseTimeMs,
			UptimeS:        status.UptimeS,
			CPUPct:         status.CPUPct,
			MemoryMB:       status.MemoryMB,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workers":   views,
		"available": s.registry.Available(),
	})
}

// handleGetWorker backs GET /v1/workers/{name}: catalogue + live status for
// one worker.
func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var found bool
	var view workerView
	for _, worker := range s.registry.List() {
		if worker.Name != name {
			continue
		}
		found = true
		status, _ := s.registry.Status(worker.Name)
		view = workerView{
			Name:           worker.Name,
			Domain:         string(worker.Domain),
			Description:    worker.Description,
			State:          string(status.State),
			ResponseTimeMs: status.ResponseTimeMs,
			UptimeS:        status.UptimeS,
			CPUPct:         status.CPUPct,
			MemoryMB:       status.MemoryMB,
		}
		break
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "worker not found"})
		return
	}
	writeJSON(w, http.StatusOK, view)
}
