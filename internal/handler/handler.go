package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/dukerupert/hostvault/internal/backup"
	"github.com/dukerupert/hostvault/internal/model"
	"github.com/dukerupert/hostvault/internal/remote"
	"github.com/dukerupert/hostvault/internal/scheduler"
	"github.com/dukerupert/hostvault/internal/stats"
)

// Scheduler is the part of the scheduler the API drives.
type Scheduler interface {
	Schedule(jobID int64) error
	Unschedule(jobID int64)
	Reschedule(jobID int64) error
	Entries() []scheduler.Entry
}

// Runner executes and restores jobs.
type Runner interface {
	Execute(ctx context.Context, jobID int64) (backup.RunResult, error)
	Restore(ctx context.Context, runID int64, overridePath string) (backup.RestoreResult, error)
	Status() backup.Status
}

// Remote reaches hosts over SSH.
type Remote interface {
	TestConnection(ctx context.Context, h *model.Host, checkSudo bool) remote.ConnectionReport
	ListDir(ctx context.Context, h *model.Host, dir string) ([]remote.FileEntry, error)
}

// Downloader fetches offsite copies.
type Downloader interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

type StatsSource interface {
	Statistics() stats.Snapshot
}

func parseIDParam(r *http.Request) (int64, error) {
	return parseInt(r.PathValue("id"))
}

func parseInt(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeRunError maps errors returned by the runner onto status codes.
func writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON decodes the request body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
