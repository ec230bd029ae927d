// Package backup runs jobs: it resolves a job to its host, records a run,
// drives the rsync transfer and finalizes the run with its outcome. It also
// restores a run's artifact back onto the host.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dukerupert/hostvault/internal/model"
	"github.com/dukerupert/hostvault/internal/transfer"
	"github.com/dustin/go-humanize"
)

// runNameLayout is the timestamp suffix of run names and artifact dirs.
const runNameLayout = "20060102_150405"

type JobStore interface {
	GetByID(id int64) (*model.Job, error)
	UpdateLastRun(id int64, at time.Time) error
}

type HostStore interface {
	GetByID(id int64) (*model.Host, error)
}

type RunStore interface {
	Create(jobID int64, start time.Time, artifactPath string) (*model.Run, error)
	Finalize(id int64, out model.RunOutcome) error
	GetByID(id int64) (*model.Run, error)
	SetOffsiteKey(id int64, key string) error
}

// Transferer runs an assembled transfer command.
type Transferer interface {
	Run(ctx context.Context, cmd transfer.Command) (transfer.Result, error)
}

// Offsite copies a finished artifact to remote storage and returns the
// object key it was stored under.
type Offsite interface {
	Upload(ctx context.Context, artifactDir, name string) (string, error)
}

// Config holds job runner configuration.
type Config struct {
	BackupDir string
	Builder   transfer.Builder
}

// RunResult is returned by Execute.
type RunResult struct {
	Success   bool   `json:"success"`
	RunID     int64  `json:"run_id,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	FileCount int64  `json:"file_count,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RestoreResult is returned by Restore.
type RestoreResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Status is a point-in-time view of the runner.
type Status struct {
	ActiveRuns     int64 `json:"active_runs"`
	ActiveRestores int64 `json:"active_restores"`
}

// Manager is the job runner. Scheduled and manual runs both go through
// Execute.
type Manager struct {
	cfg      Config
	jobs     JobStore
	hosts    HostStore
	runs     RunStore
	transfer Transferer
	offsite  Offsite
	callback EventCallback
	logger   *slog.Logger
	now      func() time.Time

	activeRuns     atomic.Int64
	activeRestores atomic.Int64
}

// NewManager creates a job runner. callback may be nil.
func NewManager(cfg Config, jobs JobStore, hosts HostStore, runs RunStore, tr Transferer, callback EventCallback, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		jobs:     jobs,
		hosts:    hosts,
		runs:     runs,
		transfer: tr,
		callback: callback,
		logger:   logger.With("component", "runner"),
		now:      time.Now,
	}
}

// SetOffsite enables copying completed artifacts to remote storage.
func (m *Manager) SetOffsite(o Offsite) {
	m.offsite = o
}

func (m *Manager) Status() Status {
	return Status{
		ActiveRuns:     m.activeRuns.Load(),
		ActiveRestores: m.activeRestores.Load(),
	}
}

// RunName returns the artifact directory name for a run of jobName started
// at t. The job name is reduced to a single safe path element.
func RunName(jobName string, t time.Time) string {
	return sanitizeName(jobName) + "_" + t.Format(runNameLayout)
}

// ArtifactName is the slash-separated path of a run's artifact below the
// backup dir, and the name its offsite copy is stored under. The job id keeps
// same-named jobs on one host apart.
func ArtifactName(hostID, jobID int64, runName string) string {
	return strconv.FormatInt(hostID, 10) + "/" + strconv.FormatInt(jobID, 10) + "/" + runName
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "job"
	}
	return name
}

// Execute runs a job once. The returned error is non-nil only when the job
// could not be started (it or its host is missing, or the artifact dir or
// run record could not be created) or when its run record could not be
// finalized. Transfer outcomes are reported in the RunResult.
func (m *Manager) Execute(ctx context.Context, jobID int64) (RunResult, error) {
	job, err := m.jobs.GetByID(jobID)
	if err != nil {
		return RunResult{Error: err.Error()}, fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		nf := &model.NotFoundError{Kind: "job", ID: jobID}
		return RunResult{Error: nf.Error()}, nf
	}
	host, err := m.hosts.GetByID(job.HostID)
	if err != nil {
		return RunResult{Error: err.Error()}, fmt.Errorf("get host: %w", err)
	}
	if host == nil {
		nf := &model.NotFoundError{Kind: "host", ID: job.HostID}
		return RunResult{Error: nf.Error()}, nf
	}

	start := m.now()
	rel := ArtifactName(host.ID, job.ID, RunName(job.Name, start))
	artifact := filepath.Join(m.cfg.BackupDir, filepath.FromSlash(rel))
	logger := m.logger.With("job_id", job.ID, "job", job.Name, "host", host.Name)

	if err := os.MkdirAll(artifact, 0o755); err != nil {
		return RunResult{Error: err.Error()}, fmt.Errorf("create artifact dir: %w", err)
	}

	run, err := m.runs.Create(job.ID, start, artifact)
	if err != nil {
		return RunResult{Error: err.Error()}, fmt.Errorf("create run: %w", err)
	}
	logger = logger.With("run_id", run.ID)

	m.activeRuns.Add(1)
	defer m.activeRuns.Add(-1)

	logger.Info("backup started", "source", job.SourcePath, "artifact", artifact)
	m.emit(Event{Type: EventRunStarted, JobID: job.ID, RunID: run.ID, HostID: host.ID})

	cmd := m.cfg.Builder.Backup(host, job.SourcePath, artifact)
	_, err = m.transfer.Run(ctx, cmd)

	var size, files int64
	if err == nil {
		size, files, err = measure(artifact)
		if err != nil {
			err = fmt.Errorf("measure artifact: %w", err)
		}
	}

	end := m.now()
	if err != nil {
		msg := failureMessage("Backup", err)
		logger.Error("backup failed", "error", msg)
		if ferr := m.finalize(logger, run.ID, model.Failed(end, msg)); ferr != nil {
			return RunResult{RunID: run.ID, Error: msg}, ferr
		}
		m.emit(Event{Type: EventRunFailed, JobID: job.ID, RunID: run.ID, HostID: host.ID, Error: msg})
		return RunResult{RunID: run.ID, Error: msg}, nil
	}

	if ferr := m.finalize(logger, run.ID, model.Completed(end, size, files)); ferr != nil {
		return RunResult{RunID: run.ID, Error: ferr.Error()}, ferr
	}
	if err := m.jobs.UpdateLastRun(job.ID, end); err != nil {
		logger.Error("failed to update last run", "error", err)
	}
	logger.Info("backup completed",
		"size", humanize.IBytes(uint64(size)),
		"files", files,
		"duration", end.Sub(start).Round(time.Second),
	)
	m.emit(Event{Type: EventRunCompleted, JobID: job.ID, RunID: run.ID, HostID: host.ID, SizeBytes: size, FileCount: files})

	m.copyOffsite(ctx, logger, run.ID, artifact, rel)

	return RunResult{
		Success:   true,
		RunID:     run.ID,
		SizeBytes: size,
		FileCount: files,
		Message:   "Backup completed successfully",
	}, nil
}

// finalize writes the terminal state, retrying once. Store calls do not take
// the caller's context, so a cancelled request still finalizes the run. A run
// that stays running after the retry is reported to the caller.
func (m *Manager) finalize(logger *slog.Logger, runID int64, out model.RunOutcome) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = m.runs.Finalize(runID, out)
		if err == nil {
			return nil
		}
		if errors.Is(err, model.ErrRunFinalized) {
			logger.Warn("run already finalized", "status", out.Status)
			return nil
		}
		logger.Warn("finalize run failed", "attempt", attempt+1, "status", out.Status, "error", err)
	}
	logger.Error("run left running", "status", out.Status, "error", err)
	return fmt.Errorf("finalize run %d: %w", runID, err)
}

func (m *Manager) copyOffsite(ctx context.Context, logger *slog.Logger, runID int64, artifact, name string) {
	if m.offsite == nil {
		return
	}
	key, err := m.offsite.Upload(ctx, artifact, name)
	if err != nil {
		logger.Error("offsite copy failed", "error", err)
		return
	}
	if err := m.runs.SetOffsiteKey(runID, key); err != nil {
		logger.Error("failed to record offsite key", "key", key, "error", err)
		return
	}
	logger.Info("offsite copy stored", "key", key)
	m.emit(Event{Type: EventOffsiteStored, RunID: runID, OffsiteKey: key})
}

// Restore pushes a run's artifact back to its host, into overridePath or,
// when that is empty, the job's source path. The destination is validated
// before any command is built. Restores are not recorded as runs.
func (m *Manager) Restore(ctx context.Context, runID int64, overridePath string) (RestoreResult, error) {
	run, err := m.runs.GetByID(runID)
	if err != nil {
		return RestoreResult{Error: err.Error()}, fmt.Errorf("get run: %w", err)
	}
	if run == nil {
		nf := &model.NotFoundError{Kind: "run", ID: runID}
		return RestoreResult{Error: nf.Error()}, nf
	}
	job, err := m.jobs.GetByID(run.JobID)
	if err != nil {
		return RestoreResult{Error: err.Error()}, fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		nf := &model.NotFoundError{Kind: "job", ID: run.JobID}
		return RestoreResult{Error: nf.Error()}, nf
	}
	host, err := m.hosts.GetByID(job.HostID)
	if err != nil {
		return RestoreResult{Error: err.Error()}, fmt.Errorf("get host: %w", err)
	}
	if host == nil {
		nf := &model.NotFoundError{Kind: "host", ID: job.HostID}
		return RestoreResult{Error: nf.Error()}, nf
	}

	dest := overridePath
	if dest == "" {
		dest = job.SourcePath
	}

	cmd, err := m.cfg.Builder.Restore(host, run.ArtifactPath, dest)
	if err != nil {
		return RestoreResult{Error: err.Error()}, err
	}

	if fi, err := os.Stat(run.ArtifactPath); err != nil || !fi.IsDir() {
		msg := "Backup artifact not found on disk"
		m.logger.Error("restore failed", "run_id", run.ID, "artifact", run.ArtifactPath, "error", msg)
		return RestoreResult{Error: msg}, nil
	}

	m.activeRestores.Add(1)
	defer m.activeRestores.Add(-1)

	logger := m.logger.With("run_id", run.ID, "host", host.Name, "dest", dest)
	logger.Info("restore started")

	if _, err := m.transfer.Run(ctx, cmd); err != nil {
		msg := failureMessage("Restore", err)
		logger.Error("restore failed", "error", msg)
		m.emit(Event{Type: EventRestoreFailed, JobID: job.ID, RunID: run.ID, HostID: host.ID, Error: msg})
		return RestoreResult{Error: msg}, nil
	}

	logger.Info("restore completed")
	m.emit(Event{Type: EventRestoreCompleted, JobID: job.ID, RunID: run.ID, HostID: host.ID})
	return RestoreResult{Success: true, Message: "Restore completed successfully"}, nil
}

// failureMessage turns a transfer error into the text stored on the run.
// Tool output is kept verbatim.
func failureMessage(op string, err error) string {
	var te *transfer.TimeoutError
	if errors.As(err, &te) {
		return op + " " + te.Error()
	}
	return err.Error()
}

// measure sums regular-file bytes and counts regular files under dir.
func measure(dir string) (size, files int64, err error) {
	err = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		files++
		return nil
	})
	return size, files, err
}
