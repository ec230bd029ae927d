package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/hostvault/internal/model"
	"github.com/dukerupert/hostvault/internal/offsite"
	"github.com/dukerupert/hostvault/internal/store"
)

type RunHandler struct {
	runs    *store.RunStore
	runner  Runner
	offsite Downloader
	logger  *slog.Logger
}

// NewRunHandler creates the runs API. dl may be nil when offsite storage
// is not configured.
func NewRunHandler(rs *store.RunStore, runner Runner, dl Downloader, logger *slog.Logger) *RunHandler {
	return &RunHandler{runs: rs, runner: runner, offsite: dl, logger: logger}
}

// List returns recent runs across all jobs. ?limit= may lower the default
// but not raise it.
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultRunListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, store.DefaultRunListLimit)
	}

	runs, err := h.runs.List(limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *RunHandler) load(w http.ResponseWriter, r *http.Request) (*model.Run, bool) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return nil, false
	}
	run, err := h.runs.GetByID(id)
	if err != nil {
		h.logger.Error("failed to get run", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return nil, false
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	return run, true
}

func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Restore pushes a run's artifact back to its host. The body may carry
// {"path": "/alt/dir"} to restore somewhere other than the job's source.
func (h *RunHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	result, err := h.runner.Restore(context.WithoutCancel(r.Context()), id, req.Path)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Download streams the run's offsite copy, decrypted.
func (h *RunHandler) Download(w http.ResponseWriter, r *http.Request) {
	if h.offsite == nil {
		writeError(w, http.StatusNotFound, "offsite storage is not configured")
		return
	}
	run, ok := h.load(w, r)
	if !ok {
		return
	}
	if run.OffsiteKey == "" {
		writeError(w, http.StatusNotFound, "run has no offsite copy")
		return
	}

	body, err := h.offsite.Download(r.Context(), run.OffsiteKey)
	if err != nil {
		h.logger.Error("offsite download failed", "run_id", run.ID, "key", run.OffsiteKey, "error", err)
		writeError(w, http.StatusBadGateway, "failed to download offsite copy")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", offsite.PlainName(run.OffsiteKey)))
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("offsite download interrupted", "run_id", run.ID, "error", err)
	}
}
