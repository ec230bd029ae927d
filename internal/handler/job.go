package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/hostvault/internal/model"
	"github.com/dukerupert/hostvault/internal/scheduler"
	"github.com/dukerupert/hostvault/internal/store"
	"github.com/dukerupert/hostvault/internal/websocket"
)

type JobHandler struct {
	jobs      *store.JobStore
	hosts     *store.HostStore
	runs      *store.RunStore
	scheduler Scheduler
	runner    Runner
	hub       *websocket.Hub
	logger    *slog.Logger
}

func NewJobHandler(js *store.JobStore, hs *store.HostStore, rs *store.RunStore, sched Scheduler, runner Runner, hub *websocket.Hub, logger *slog.Logger) *JobHandler {
	return &JobHandler{jobs: js, hosts: hs, runs: rs, scheduler: sched, runner: runner, hub: hub, logger: logger}
}

type jobRequest struct {
	HostID     *int64  `json:"host_id"`
	Name       *string `json:"name"`
	SourcePath *string `json:"source_path"`
	Schedule   *string `json:"schedule"`
	Enabled    *bool   `json:"enabled"`
}

func (req *jobRequest) apply(j *model.Job) {
	if req.HostID != nil {
		j.HostID = *req.HostID
	}
	if req.Name != nil {
		j.Name = *req.Name
	}
	if req.SourcePath != nil {
		j.SourcePath = *req.SourcePath
	}
	if req.Schedule != nil {
		j.Schedule = *req.Schedule
	}
	if req.Enabled != nil {
		j.Enabled = *req.Enabled
	}
}

// validate checks the job fields, that its host exists and that a non-empty
// schedule parses. It writes the error response itself.
func (h *JobHandler) validate(w http.ResponseWriter, j *model.Job) bool {
	if err := j.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	host, err := h.hosts.GetByID(j.HostID)
	if err != nil {
		h.logger.Error("failed to get host", "id", j.HostID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get host")
		return false
	}
	if host == nil {
		writeError(w, http.StatusBadRequest, "host not found")
		return false
	}
	if j.Schedule != "" {
		if _, err := scheduler.ParseSchedule(j.ID, j.Schedule); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return false
		}
	}
	return true
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		jobs []model.Job
		err  error
	)
	if hostID := r.URL.Query().Get("host_id"); hostID != "" {
		id, perr := parseInt(hostID)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid host_id")
			return
		}
		jobs, err = h.jobs.ListByHost(id)
	} else {
		jobs, err = h.jobs.List()
	}
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *JobHandler) load(w http.ResponseWriter, r *http.Request) (*model.Job, bool) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return nil, false
	}
	job, err := h.jobs.GetByID(id)
	if err != nil {
		h.logger.Error("failed to get job", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return nil, false
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return job, true
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	job := &model.Job{Enabled: true}
	req.apply(job)
	if !h.validate(w, job) {
		return
	}

	created, err := h.jobs.Create(job)
	if err != nil {
		h.logger.Error("failed to create job", "name", job.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if err := h.scheduler.Schedule(created.ID); err != nil {
		h.logger.Warn("job created without trigger", "id", created.ID, "error", err)
	}
	h.hub.Broadcast(websocket.NewMessage("job", "created", created.ID, nil))
	writeJSON(w, http.StatusCreated, created)
}

// Update applies the sent fields. The trigger is rebuilt when the schedule
// or enabled flag changed.
func (h *JobHandler) Update(w http.ResponseWriter, r *http.Request) {
	job, ok := h.load(w, r)
	if !ok {
		return
	}
	prevSchedule, prevEnabled := job.Schedule, job.Enabled

	var req jobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.apply(job)
	if !h.validate(w, job) {
		return
	}

	updated, err := h.jobs.Update(job)
	if err != nil {
		h.logger.Error("failed to update job", "id", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update job")
		return
	}

	if updated.Schedule != prevSchedule || updated.Enabled != prevEnabled {
		if err := h.scheduler.Reschedule(updated.ID); err != nil {
			h.logger.Warn("reschedule failed", "id", updated.ID, "error", err)
		}
	}
	h.hub.Broadcast(websocket.NewMessage("job", "updated", updated.ID, nil))
	writeJSON(w, http.StatusOK, updated)
}

func (h *JobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	job, ok := h.load(w, r)
	if !ok {
		return
	}

	h.scheduler.Unschedule(job.ID)
	if err := h.jobs.Delete(job.ID); err != nil {
		h.logger.Error("failed to delete job", "id", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}

	h.hub.Broadcast(websocket.NewMessage("job", "deleted", job.ID, nil))
	w.WriteHeader(http.StatusNoContent)
}

// Run executes the job now and waits for it to finish. The run outlives a
// disconnected client; the transfer timeout still applies.
func (h *JobHandler) Run(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	result, err := h.runner.Execute(context.WithoutCancel(r.Context()), id)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			h.logger.Error("run failed to start", "job_id", id, "error", err)
		}
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// History returns the job's most recent runs, newest first.
func (h *JobHandler) History(w http.ResponseWriter, r *http.Request) {
	job, ok := h.load(w, r)
	if !ok {
		return
	}
	runs, err := h.runs.ListByJob(job.ID, store.DefaultJobHistoryLimit)
	if err != nil {
		h.logger.Error("failed to list job history", "id", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list job history")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}
