// Package stats derives summary figures from stored hosts, jobs and runs.
package stats

import (
	"log/slog"
	"math"

	"github.com/dukerupert/hostvault/internal/model"
	"github.com/dustin/go-humanize"
)

// RunWindow is how many recent runs the figures are computed over.
const RunWindow = 1000

type HostLister interface {
	List() ([]model.Host, error)
}

type JobLister interface {
	List() ([]model.Job, error)
}

type RunLister interface {
	List(limit int) ([]model.Run, error)
}

// Snapshot is the advisory summary shown on the dashboard.
type Snapshot struct {
	TotalHosts     int     `json:"total_hosts"`
	TotalJobs      int     `json:"total_jobs"`
	EnabledJobs    int     `json:"enabled_jobs"`
	TotalRuns      int     `json:"total_runs"`
	CompletedRuns  int     `json:"completed_runs"`
	FailedRuns     int     `json:"failed_runs"`
	RunningRuns    int     `json:"running_runs"`
	TotalSizeBytes int64   `json:"total_size_bytes"`
	TotalSizeGB    float64 `json:"total_size_gb"`
	TotalSizeHuman string  `json:"total_size_human"`
}

type Aggregator struct {
	hosts  HostLister
	jobs   JobLister
	runs   RunLister
	logger *slog.Logger
}

func NewAggregator(hosts HostLister, jobs JobLister, runs RunLister, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{hosts: hosts, jobs: jobs, runs: runs, logger: logger.With("component", "stats")}
}

// Statistics never fails. A store error is logged and yields an empty
// Snapshot.
func (a *Aggregator) Statistics() Snapshot {
	hosts, err := a.hosts.List()
	if err != nil {
		a.logger.Error("failed to list hosts", "error", err)
		return Snapshot{}
	}
	jobs, err := a.jobs.List()
	if err != nil {
		a.logger.Error("failed to list jobs", "error", err)
		return Snapshot{}
	}
	runs, err := a.runs.List(RunWindow)
	if err != nil {
		a.logger.Error("failed to list runs", "error", err)
		return Snapshot{}
	}
	return Compute(hosts, jobs, runs)
}

// Compute builds a Snapshot from already loaded records. Only completed
// runs contribute size, and a missing size counts as zero.
func Compute(hosts []model.Host, jobs []model.Job, runs []model.Run) Snapshot {
	s := Snapshot{
		TotalHosts: len(hosts),
		TotalJobs:  len(jobs),
		TotalRuns:  len(runs),
	}
	for _, j := range jobs {
		if j.Enabled {
			s.EnabledJobs++
		}
	}
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusCompleted:
			s.CompletedRuns++
			if r.SizeBytes != nil {
				s.TotalSizeBytes += *r.SizeBytes
			}
		case model.RunStatusFailed:
			s.FailedRuns++
		case model.RunStatusRunning:
			s.RunningRuns++
		}
	}
	s.TotalSizeGB = math.Round(float64(s.TotalSizeBytes)/(1<<30)*100) / 100
	s.TotalSizeHuman = humanize.IBytes(uint64(s.TotalSizeBytes))
	return s
}
