package store

import (
	"testing"

	"github.com/dukerupert/hostvault/internal/model"
)

func TestHostCRUD(t *testing.T) {
	hs := NewHostStore(setupTestDB(t))

	h := createTestHost(t, hs)
	if h.ID == 0 {
		t.Fatal("expected non-zero ID")
	}
	if h.AuthMethod != model.AuthKey {
		t.Errorf("auth_method = %q, want %q", h.AuthMethod, model.AuthKey)
	}
	if h.Password != "" {
		t.Errorf("password = %q, want empty", h.Password)
	}
	if h.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}

	h.UseSudo = true
	h.Port = 2222
	updated, err := hs.Update(h)
	if err != nil {
		t.Fatalf("update host: %v", err)
	}
	if !updated.UseSudo {
		t.Error("expected use_sudo after update")
	}
	if updated.Port != 2222 {
		t.Errorf("port = %d, want 2222", updated.Port)
	}

	hosts, err := hs.List()
	if err != nil {
		t.Fatalf("list hosts: %v", err)
	}
	if len(hosts) != 1 {
		t.Fatalf("got %d hosts, want 1", len(hosts))
	}

	if err := hs.Delete(h.ID); err != nil {
		t.Fatalf("delete host: %v", err)
	}
	got, err := hs.GetByID(h.ID)
	if err != nil {
		t.Fatalf("get deleted host: %v", err)
	}
	if got != nil {
		t.Error("expected nil after delete")
	}
}

func TestHostGetMissing(t *testing.T) {
	hs := NewHostStore(setupTestDB(t))

	h, err := hs.GetByID(999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h != nil {
		t.Errorf("expected nil host, got %+v", h)
	}
}

func TestHostDeleteCascades(t *testing.T) {
	db := setupTestDB(t)
	hs, js, rs := NewHostStore(db), NewJobStore(db), NewRunStore(db)

	h := createTestHost(t, hs)
	j := createTestJob(t, js, h.ID, "home", "0 2 * * *", true)
	r, err := rs.Create(j.ID, j.CreatedAt, "/backups/1/1/home_20240101_020000")
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	if err := hs.Delete(h.ID); err != nil {
		t.Fatalf("delete host: %v", err)
	}

	if got, _ := js.GetByID(j.ID); got != nil {
		t.Error("expected job to be deleted with its host")
	}
	if got, _ := rs.GetByID(r.ID); got != nil {
		t.Error("expected run to be deleted with its host")
	}
}
