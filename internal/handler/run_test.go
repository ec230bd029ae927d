package handler

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/dukerupert/hostvault/internal/backup"
	"github.com/dukerupert/hostvault/internal/model"
	"github.com/dukerupert/hostvault/internal/scheduler"
	"github.com/dukerupert/hostvault/internal/stats"
)

func TestRestoreRun(t *testing.T) {
	api := newTestAPI(t)
	api.runner.restore = backup.RestoreResult{Success: true, Message: "Restore completed successfully"}

	rec := api.do(t, "POST", "/api/runs/4/restore", map[string]string{"path": "/tmp/restore"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if api.runner.restoreRun != 4 || api.runner.restorePath != "/tmp/restore" {
		t.Errorf("restore called with %d %q", api.runner.restoreRun, api.runner.restorePath)
	}

	rec = api.do(t, "POST", "/api/runs/4/restore", nil)
	if rec.Code != http.StatusOK || api.runner.restorePath != "" {
		t.Errorf("empty body: status = %d, path = %q", rec.Code, api.runner.restorePath)
	}
}

func TestRestoreRunErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid path", &model.InvalidPathError{Path: "etc", Reason: "Restore path must be absolute"}, http.StatusBadRequest},
		{"not found", &model.NotFoundError{Kind: "run", ID: 4}, http.StatusNotFound},
		{"store fault", fmt.Errorf("get run: disk I/O error"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t)
			api.runner.err = tt.err
			if rec := api.do(t, "POST", "/api/runs/4/restore", map[string]string{"path": "etc"}); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestListRuns(t *testing.T) {
	api := newTestAPI(t)
	h := api.createHost(t)
	j := api.createJob(t, h.ID, "")
	for i := range 3 {
		if _, err := api.runs.Create(j.ID, time.Now().Add(time.Duration(i)*time.Second), "/b"); err != nil {
			t.Fatal(err)
		}
	}

	runs := decode[[]model.Run](t, api.do(t, "GET", "/api/runs?limit=2", nil))
	if len(runs) != 2 {
		t.Errorf("runs = %d, want 2", len(runs))
	}
	if runs[0].HostName != "pi" || runs[0].JobName != "home" {
		t.Errorf("run = %+v", runs[0])
	}
	if rec := api.do(t, "GET", "/api/runs?limit=zero", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDownloadOffsite(t *testing.T) {
	api := newTestAPI(t)
	h := api.createHost(t)
	j := api.createJob(t, h.ID, "")
	r, err := api.runs.Create(j.ID, time.Now(), "/b")
	if err != nil {
		t.Fatal(err)
	}

	if rec := api.do(t, "GET", fmt.Sprintf("/api/runs/%d/offsite", r.ID), nil); rec.Code != http.StatusNotFound {
		t.Errorf("no key: status = %d, want 404", rec.Code)
	}

	key := fmt.Sprintf("%d/%d/home_20240101_020000.tar.gz.age", h.ID, j.ID)
	if err := api.runs.SetOffsiteKey(r.ID, key); err != nil {
		t.Fatal(err)
	}
	api.offsite.body = "archive-bytes"

	rec := api.do(t, "GET", fmt.Sprintf("/api/runs/%d/offsite", r.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if api.offsite.key != key {
		t.Errorf("key = %q", api.offsite.key)
	}
	if rec.Body.String() != "archive-bytes" {
		t.Errorf("body = %q", rec.Body)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="home_20240101_020000.tar.gz"` {
		t.Errorf("content-disposition = %q", cd)
	}
}

func TestStatsAndSchedules(t *testing.T) {
	api := newTestAPI(t)
	h := api.createHost(t)
	j := api.createJob(t, h.ID, "0 2 * * *")

	snap := decode[stats.Snapshot](t, api.do(t, "GET", "/api/stats", nil))
	if snap.TotalHosts != 1 || snap.TotalJobs != 1 || snap.EnabledJobs != 1 {
		t.Errorf("snapshot = %+v", snap)
	}

	entries := decode[[]scheduler.Entry](t, api.do(t, "GET", "/api/schedules", nil))
	if len(entries) != 1 || entries[0].JobID != j.ID {
		t.Fatalf("entries = %+v", entries)
	}
	if next := entries[0].Next.Local(); next.Hour() != 2 || next.Minute() != 0 {
		t.Errorf("next = %v, want 02:00", next)
	}

	health := decode[map[string]any](t, api.do(t, "GET", "/health", nil))
	if health["status"] != "ok" || health["scheduled_jobs"] != float64(1) {
		t.Errorf("health = %v", health)
	}
}
