package handler

import (
	"net/http"

	"github.com/dukerupert/hostvault/internal/scheduler"
	"github.com/dukerupert/hostvault/internal/websocket"
)

type SystemHandler struct {
	stats     StatsSource
	scheduler Scheduler
	runner    Runner
	hub       *websocket.Hub
}

func NewSystemHandler(st StatsSource, sched Scheduler, runner Runner, hub *websocket.Hub) *SystemHandler {
	return &SystemHandler{stats: st, scheduler: sched, runner: runner, hub: hub}
}

func (h *SystemHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.Statistics())
}

// Schedules lists active triggers with their next fire time.
func (h *SystemHandler) Schedules(w http.ResponseWriter, r *http.Request) {
	entries := h.scheduler.Entries()
	if entries == nil {
		entries = []scheduler.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	st := h.runner.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_runs":     st.ActiveRuns,
		"active_restores": st.ActiveRestores,
		"scheduled_jobs":  len(h.scheduler.Entries()),
		"ws_clients":      h.hub.ClientCount(),
	})
}
