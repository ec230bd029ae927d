package backup

type EventType string

const (
	EventRunStarted       EventType = "run_started"
	EventRunCompleted     EventType = "run_completed"
	EventRunFailed        EventType = "run_failed"
	EventOffsiteStored    EventType = "offsite_stored"
	EventRestoreCompleted EventType = "restore_completed"
	EventRestoreFailed    EventType = "restore_failed"
)

// Event describes a change in a run's lifecycle.
type Event struct {
	Type       EventType `json:"type"`
	JobID      int64     `json:"job_id,omitempty"`
	RunID      int64     `json:"run_id,omitempty"`
	HostID     int64     `json:"host_id,omitempty"`
	SizeBytes  int64     `json:"size_bytes,omitempty"`
	FileCount  int64     `json:"file_count,omitempty"`
	OffsiteKey string    `json:"offsite_key,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// EventCallback is called synchronously for every event.
type EventCallback func(Event)

func (m *Manager) emit(e Event) {
	if m.callback != nil {
		m.callback(e)
	}
}
