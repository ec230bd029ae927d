package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/hostvault/internal/backup"
	"github.com/dukerupert/hostvault/internal/database"
	"github.com/dukerupert/hostvault/internal/model"
	"github.com/dukerupert/hostvault/internal/remote"
	"github.com/dukerupert/hostvault/internal/scheduler"
	"github.com/dukerupert/hostvault/internal/stats"
	"github.com/dukerupert/hostvault/internal/store"
	"github.com/dukerupert/hostvault/internal/websocket"
)

type fakeRunner struct {
	executed    []int64
	restoreRun  int64
	restorePath string
	result      backup.RunResult
	restore     backup.RestoreResult
	err         error
}

func (f *fakeRunner) Execute(ctx context.Context, jobID int64) (backup.RunResult, error) {
	f.executed = append(f.executed, jobID)
	return f.result, f.err
}

func (f *fakeRunner) Restore(ctx context.Context, runID int64, path string) (backup.RestoreResult, error) {
	f.restoreRun, f.restorePath = runID, path
	return f.restore, f.err
}

func (f *fakeRunner) Status() backup.Status {
	return backup.Status{ActiveRuns: 1}
}

type fakeRemote struct {
	report    remote.ConnectionReport
	checkSudo bool
	dir       string
	entries   []remote.FileEntry
	err       error
}

func (f *fakeRemote) TestConnection(ctx context.Context, h *model.Host, checkSudo bool) remote.ConnectionReport {
	f.checkSudo = checkSudo
	return f.report
}

func (f *fakeRemote) ListDir(ctx context.Context, h *model.Host, dir string) ([]remote.FileEntry, error) {
	f.dir = dir
	return f.entries, f.err
}

type fakeDownloader struct {
	key  string
	body string
}

func (f *fakeDownloader) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	f.key = key
	return io.NopCloser(strings.NewReader(f.body)), nil
}

type testAPI struct {
	mux       *http.ServeMux
	hosts     *store.HostStore
	jobs      *store.JobStore
	runs      *store.RunStore
	scheduler *scheduler.Scheduler
	runner    *fakeRunner
	remote    *fakeRemote
	offsite   *fakeDownloader
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := &testAPI{
		mux:     http.NewServeMux(),
		hosts:   store.NewHostStore(db),
		jobs:    store.NewJobStore(db),
		runs:    store.NewRunStore(db),
		runner:  &fakeRunner{},
		remote:  &fakeRemote{},
		offsite: &fakeDownloader{},
	}
	api.scheduler = scheduler.New(api.jobs, func(context.Context, int64) {}, scheduler.Options{}, logger)
	hub := websocket.NewHub(logger)

	hostH := NewHostHandler(api.hosts, api.jobs, api.scheduler, api.remote, hub, logger)
	jobH := NewJobHandler(api.jobs, api.hosts, api.runs, api.scheduler, api.runner, hub, logger)
	runH := NewRunHandler(api.runs, api.runner, api.offsite, logger)
	sysH := NewSystemHandler(stats.NewAggregator(api.hosts, api.jobs, api.runs, logger), api.scheduler, api.runner, hub)

	m := api.mux
	m.HandleFunc("GET /api/hosts", hostH.List)
	m.HandleFunc("POST /api/hosts", hostH.Create)
	m.HandleFunc("GET /api/hosts/{id}", hostH.Get)
	m.HandleFunc("PUT /api/hosts/{id}", hostH.Update)
	m.HandleFunc("DELETE /api/hosts/{id}", hostH.Delete)
	m.HandleFunc("POST /api/hosts/{id}/test", hostH.Test)
	m.HandleFunc("POST /api/hosts/{id}/browse", hostH.Browse)
	m.HandleFunc("GET /api/jobs", jobH.List)
	m.HandleFunc("POST /api/jobs", jobH.Create)
	m.HandleFunc("GET /api/jobs/{id}", jobH.Get)
	m.HandleFunc("PUT /api/jobs/{id}", jobH.Update)
	m.HandleFunc("DELETE /api/jobs/{id}", jobH.Delete)
	m.HandleFunc("POST /api/jobs/{id}/run", jobH.Run)
	m.HandleFunc("GET /api/jobs/{id}/history", jobH.History)
	m.HandleFunc("GET /api/runs", runH.List)
	m.HandleFunc("GET /api/runs/{id}", runH.Get)
	m.HandleFunc("POST /api/runs/{id}/restore", runH.Restore)
	m.HandleFunc("GET /api/runs/{id}/offsite", runH.Download)
	m.HandleFunc("GET /api/stats", sysH.Stats)
	m.HandleFunc("GET /api/schedules", sysH.Schedules)
	m.HandleFunc("GET /health", sysH.Health)
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func (a *testAPI) createHost(t *testing.T) *model.Host {
	t.Helper()
	h, err := a.hosts.Create(&model.Host{
		Name: "pi", Address: "10.0.0.5", Port: 22, Username: "pi",
		AuthMethod: model.AuthPassword, Password: "raspberry",
	})
	if err != nil {
		t.Fatalf("create host: %v", err)
	}
	return h
}

func (a *testAPI) createJob(t *testing.T, hostID int64, schedule string) *model.Job {
	t.Helper()
	j, err := a.jobs.Create(&model.Job{
		HostID: hostID, Name: "home", SourcePath: "/home/pi", Schedule: schedule, Enabled: true,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := a.scheduler.Schedule(j.ID); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	return j
}
