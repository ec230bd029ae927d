package store

import (
	"database/sql"
	"testing"

	"github.com/dukerupert/hostvault/internal/database"
	"github.com/dukerupert/hostvault/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestHost(t *testing.T, hs *HostStore) *model.Host {
	t.Helper()
	h, err := hs.Create(&model.Host{
		Name:       "pi",
		Address:    "10.0.0.5",
		Port:       22,
		Username:   "pi",
		AuthMethod: model.AuthKey,
		KeyPath:    "/keys/id_ed25519",
	})
	if err != nil {
		t.Fatalf("create host: %v", err)
	}
	return h
}

func createTestJob(t *testing.T, js *JobStore, hostID int64, name, schedule string, enabled bool) *model.Job {
	t.Helper()
	j, err := js.Create(&model.Job{
		HostID:     hostID,
		Name:       name,
		SourcePath: "/home/pi",
		Schedule:   schedule,
		Enabled:    enabled,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return j
}
