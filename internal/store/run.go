package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/hostvault/internal/model"
)

const (
	DefaultRunListLimit    = 100
	DefaultJobHistoryLimit = 50
)

type RunStore struct {
	db *sql.DB
}

func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

func scanRun(scanner interface{ Scan(...any) error }) (*model.Run, error) {
	var r model.Run
	var endTime sql.NullTime
	var size, files, hostID sql.NullInt64
	var errMsg, offsiteKey, jobName, hostName, sourcePath sql.NullString

	err := scanner.Scan(
		&r.ID, &r.JobID, &r.Status, &r.StartTime, &endTime, &size, &files, &errMsg,
		&r.ArtifactPath, &offsiteKey, &jobName, &hostID, &hostName, &sourcePath,
	)
	if err != nil {
		return nil, err
	}

	if endTime.Valid {
		r.EndTime = &endTime.Time
	}
	if size.Valid {
		r.SizeBytes = &size.Int64
	}
	if files.Valid {
		r.FileCount = &files.Int64
	}
	r.ErrorMessage = errMsg.String
	r.OffsiteKey = offsiteKey.String
	r.JobName = jobName.String
	r.HostID = hostID.Int64
	r.HostName = hostName.String
	r.SourcePath = sourcePath.String
	return &r, nil
}

const runSelect = `SELECT r.id, r.job_id, r.status, r.start_time, r.end_time, r.size_bytes, r.file_count,
	r.error_message, r.artifact_path, r.offsite_key, j.name, j.host_id, h.name, j.source_path
	FROM runs r
	LEFT JOIN jobs j ON r.job_id = j.id
	LEFT JOIN hosts h ON j.host_id = h.id`

// Create inserts a run in the running state.
func (s *RunStore) Create(jobID int64, start time.Time, artifactPath string) (*model.Run, error) {
	result, err := s.db.Exec(
		`INSERT INTO runs (job_id, status, start_time, artifact_path) VALUES (?, ?, ?, ?)`,
		jobID, model.RunStatusRunning, start.UTC(), artifactPath,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

// Finalize moves a running run to its terminal state. Finalizing a run that
// is not running returns model.ErrRunFinalized and changes nothing.
func (s *RunStore) Finalize(id int64, out model.RunOutcome) error {
	if out.Status != model.RunStatusCompleted && out.Status != model.RunStatusFailed {
		return fmt.Errorf("finalize run %d: invalid terminal status %q", id, out.Status)
	}

	var size, files sql.NullInt64
	if out.SizeBytes != nil {
		size = sql.NullInt64{Int64: *out.SizeBytes, Valid: true}
	}
	if out.FileCount != nil {
		files = sql.NullInt64{Int64: *out.FileCount, Valid: true}
	}

	result, err := s.db.Exec(
		`UPDATE runs SET status = ?, end_time = ?, size_bytes = ?, file_count = ?, error_message = ?
		 WHERE id = ? AND status = ?`,
		out.Status, out.EndTime.UTC(), size, files, nullString(out.Error), id, model.RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("finalize run %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize run %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("finalize run %d: %w", id, model.ErrRunFinalized)
	}
	return nil
}

func (s *RunStore) SetOffsiteKey(id int64, key string) error {
	_, err := s.db.Exec(`UPDATE runs SET offsite_key = ? WHERE id = ?`, nullString(key), id)
	if err != nil {
		return fmt.Errorf("set run %d offsite key: %w", id, err)
	}
	return nil
}

// GetByID returns the run joined with its job and host, or nil.
func (s *RunStore) GetByID(id int64) (*model.Run, error) {
	row := s.db.QueryRow(runSelect+` WHERE r.id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %d: %w", id, err)
	}
	return r, nil
}

// List returns the most recent runs across all jobs, newest first.
func (s *RunStore) List(limit int) ([]model.Run, error) {
	return s.query(runSelect+` ORDER BY r.start_time DESC, r.id DESC LIMIT ?`, limit)
}

// ListByJob returns the history of one job, newest first.
func (s *RunStore) ListByJob(jobID int64, limit int) ([]model.Run, error) {
	return s.query(runSelect+` WHERE r.job_id = ? ORDER BY r.start_time DESC, r.id DESC LIMIT ?`, jobID, limit)
}

func (s *RunStore) query(q string, args ...any) ([]model.Run, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}
