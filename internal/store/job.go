package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/hostvault/internal/model"
)

type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

func scanJob(scanner interface{ Scan(...any) error }) (*model.Job, error) {
	var j model.Job
	var enabled int
	var lastRun sql.NullTime
	var hostName, hostAddress, hostUsername sql.NullString

	err := scanner.Scan(
		&j.ID, &j.HostID, &j.Name, &j.SourcePath, &j.Schedule, &enabled, &lastRun,
		&j.CreatedAt, &j.UpdatedAt, &hostName, &hostAddress, &hostUsername,
	)
	if err != nil {
		return nil, err
	}

	j.Enabled = enabled != 0
	if lastRun.Valid {
		j.LastRun = &lastRun.Time
	}
	j.HostName = hostName.String
	j.HostAddress = hostAddress.String
	j.HostUsername = hostUsername.String
	return &j, nil
}

const jobSelect = `SELECT j.id, j.host_id, j.name, j.source_path, j.schedule, j.enabled, j.last_run,
	j.created_at, j.updated_at, h.name, h.address, h.username
	FROM jobs j LEFT JOIN hosts h ON j.host_id = h.id`

func (s *JobStore) Create(j *model.Job) (*model.Job, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`INSERT INTO jobs (host_id, name, source_path, schedule, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.HostID, j.Name, j.SourcePath, j.Schedule, boolInt(j.Enabled), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

// GetByID returns the job joined with its host's name, address and username,
// or nil if it does not exist.
func (s *JobStore) GetByID(id int64) (*model.Job, error) {
	row := s.db.QueryRow(jobSelect+` WHERE j.id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return j, nil
}

func (s *JobStore) List() ([]model.Job, error) {
	return s.query(jobSelect + ` ORDER BY j.name, j.id`)
}

func (s *JobStore) ListByHost(hostID int64) ([]model.Job, error) {
	return s.query(jobSelect+` WHERE j.host_id = ? ORDER BY j.name, j.id`, hostID)
}

func (s *JobStore) query(q string, args ...any) ([]model.Job, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (s *JobStore) Update(j *model.Job) (*model.Job, error) {
	_, err := s.db.Exec(
		`UPDATE jobs SET host_id = ?, name = ?, source_path = ?, schedule = ?, enabled = ?, updated_at = ?
		 WHERE id = ?`,
		j.HostID, j.Name, j.SourcePath, j.Schedule, boolInt(j.Enabled), time.Now().UTC(), j.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update job %d: %w", j.ID, err)
	}
	return s.GetByID(j.ID)
}

func (s *JobStore) UpdateLastRun(id int64, at time.Time) error {
	_, err := s.db.Exec(`UPDATE jobs SET last_run = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("update job %d last run: %w", id, err)
	}
	return nil
}

// Delete removes the job and its run history.
func (s *JobStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job %d: %w", id, err)
	}
	return nil
}
