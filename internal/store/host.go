package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/hostvault/internal/model"
)

type HostStore struct {
	db *sql.DB
}

func NewHostStore(db *sql.DB) *HostStore {
	return &HostStore{db: db}
}

func scanHost(scanner interface{ Scan(...any) error }) (*model.Host, error) {
	var h model.Host
	var password, keyPath sql.NullString
	var useSudo int

	err := scanner.Scan(
		&h.ID, &h.Name, &h.Address, &h.Port, &h.Username, &h.AuthMethod,
		&password, &keyPath, &useSudo, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	h.Password = password.String
	h.KeyPath = keyPath.String
	h.UseSudo = useSudo != 0
	return &h, nil
}

const hostCols = `id, name, address, port, username, auth_method, password, key_path, use_sudo, created_at, updated_at`

func (s *HostStore) Create(h *model.Host) (*model.Host, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`INSERT INTO hosts (name, address, port, username, auth_method, password, key_path, use_sudo, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.Name, h.Address, h.Port, h.Username, h.AuthMethod,
		nullString(h.Password), nullString(h.KeyPath), boolInt(h.UseSudo), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert host: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *HostStore) GetByID(id int64) (*model.Host, error) {
	row := s.db.QueryRow(`SELECT `+hostCols+` FROM hosts WHERE id = ?`, id)
	h, err := scanHost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get host %d: %w", id, err)
	}
	return h, nil
}

func (s *HostStore) List() ([]model.Host, error) {
	rows, err := s.db.Query(`SELECT ` + hostCols + ` FROM hosts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []model.Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan host: %w", err)
		}
		hosts = append(hosts, *h)
	}
	return hosts, rows.Err()
}

func (s *HostStore) Update(h *model.Host) (*model.Host, error) {
	_, err := s.db.Exec(
		`UPDATE hosts SET name = ?, address = ?, port = ?, username = ?, auth_method = ?,
		 password = ?, key_path = ?, use_sudo = ?, updated_at = ? WHERE id = ?`,
		h.Name, h.Address, h.Port, h.Username, h.AuthMethod,
		nullString(h.Password), nullString(h.KeyPath), boolInt(h.UseSudo), time.Now().UTC(), h.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update host %d: %w", h.ID, err)
	}
	return s.GetByID(h.ID)
}

// Delete removes the host. Its jobs and their runs go with it.
func (s *HostStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM hosts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete host %d: %w", id, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
