package model

import (
	"fmt"
	"strings"
	"time"
)

// Job is a named, optionally scheduled synchronization of one source path
// on one host.
type Job struct {
	ID         int64      `json:"id"`
	HostID     int64      `json:"host_id"`
	Name       string     `json:"name"`
	SourcePath string     `json:"source_path"`
	Schedule   string     `json:"schedule"`
	Enabled    bool       `json:"enabled"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	// Joined from hosts.
	HostName     string `json:"host_name,omitempty"`
	HostAddress  string `json:"host_address,omitempty"`
	HostUsername string `json:"host_username,omitempty"`
}

// Schedulable reports whether the job should own a trigger.
func (j *Job) Schedulable() bool {
	return j.Enabled && strings.TrimSpace(j.Schedule) != ""
}

// Validate checks the fields a job needs before it can be stored.
func (j *Job) Validate() error {
	j.Name = strings.TrimSpace(j.Name)
	j.SourcePath = strings.TrimSpace(j.SourcePath)
	j.Schedule = strings.TrimSpace(j.Schedule)

	if j.HostID == 0 {
		return fmt.Errorf("host_id is required")
	}
	if j.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !strings.HasPrefix(j.SourcePath, "/") {
		return fmt.Errorf("source_path must be absolute")
	}
	return nil
}
