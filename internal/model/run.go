package model

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one execution attempt of a Job. Status only moves from running to
// completed or failed, and EndTime is set iff the run is no longer running.
type Run struct {
	ID           int64      `json:"id"`
	JobID        int64      `json:"job_id"`
	Status       RunStatus  `json:"status"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	SizeBytes    *int64     `json:"size_bytes,omitempty"`
	FileCount    *int64     `json:"file_count,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ArtifactPath string     `json:"artifact_path"`
	OffsiteKey   string     `json:"offsite_key,omitempty"`

	// Joined from jobs and hosts.
	JobName    string `json:"job_name,omitempty"`
	HostID     int64  `json:"host_id,omitempty"`
	HostName   string `json:"host_name,omitempty"`
	SourcePath string `json:"source_path,omitempty"`
}

// RunOutcome is the terminal state written once when a run finishes.
type RunOutcome struct {
	Status    RunStatus
	EndTime   time.Time
	SizeBytes *int64
	FileCount *int64
	Error     string
}

// Completed builds the outcome of a successful run.
func Completed(end time.Time, size, files int64) RunOutcome {
	return RunOutcome{
		Status:    RunStatusCompleted,
		EndTime:   end,
		SizeBytes: &size,
		FileCount: &files,
	}
}

// Failed builds the outcome of a failed run.
func Failed(end time.Time, msg string) RunOutcome {
	return RunOutcome{
		Status:  RunStatusFailed,
		EndTime: end,
		Error:   msg,
	}
}
