package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/hostvault/internal/model"
)

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[int64]*model.Job
	err  error
}

func newFakeJobs(jobs ...model.Job) *fakeJobs {
	f := &fakeJobs{jobs: make(map[int64]*model.Job)}
	for i := range jobs {
		j := jobs[i]
		f.jobs[j.ID] = &j
	}
	return f
}

func (f *fakeJobs) GetByID(id int64) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	j, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobs) List() ([]model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Job
	for _, j := range f.jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (f *fakeJobs) set(j model.Job) {
	f.mu.Lock()
	f.jobs[j.ID] = &j
	f.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(jobs JobLoader, exec ExecuteFunc) *Scheduler {
	if exec == nil {
		exec = func(context.Context, int64) {}
	}
	return New(jobs, exec, Options{Location: time.UTC}, quietLogger())
}

func homeJob() model.Job {
	return model.Job{ID: 1, HostID: 1, Name: "home", SourcePath: "/home/pi", Schedule: "0 2 * * *", Enabled: true}
}

func TestScheduleDailyAtTwo(t *testing.T) {
	jobs := newFakeJobs(homeJob())
	s := newTestScheduler(jobs, nil)

	if err := s.Schedule(1); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	entries := s.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.JobID != 1 {
		t.Errorf("job id = %d, want 1", e.JobID)
	}
	if e.Next.Hour() != 2 || e.Next.Minute() != 0 {
		t.Errorf("next = %v, want 02:00", e.Next)
	}
	if !e.Next.After(time.Now()) {
		t.Errorf("next = %v, want a future time", e.Next)
	}

	// Disable and reschedule: trigger goes away.
	j := homeJob()
	j.Enabled = false
	jobs.set(j)
	if err := s.Reschedule(1); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if s.Has(1) {
		t.Error("disabled job still has a trigger")
	}
	if s.Len() != 0 {
		t.Errorf("len = %d, want 0", s.Len())
	}
}

func TestScheduleTwiceKeepsOneTrigger(t *testing.T) {
	jobs := newFakeJobs(homeJob())
	s := newTestScheduler(jobs, nil)

	s.Schedule(1)
	j := homeJob()
	j.Schedule = "30 4 * * 1"
	jobs.set(j)
	s.Schedule(1)
	s.Reschedule(1)

	if n := len(s.cron.Entries()); n != 1 {
		t.Fatalf("cron holds %d entries, want 1", n)
	}
	entries := s.Entries()
	if len(entries) != 1 || entries[0].Schedule != "30 4 * * 1" {
		t.Fatalf("entries = %+v, want single 30 4 * * 1 trigger", entries)
	}
	if entries[0].Next.Weekday() != time.Monday {
		t.Errorf("next = %v, want a Monday", entries[0].Next)
	}
}

func TestUnscheduleTwiceIsNoop(t *testing.T) {
	s := newTestScheduler(newFakeJobs(homeJob()), nil)
	s.Schedule(1)

	s.Unschedule(1)
	s.Unschedule(1)
	s.Unschedule(42)

	if s.Len() != 0 {
		t.Errorf("len = %d, want 0", s.Len())
	}
}

func TestScheduleSkipsIneligibleJobs(t *testing.T) {
	disabled := homeJob()
	disabled.ID = 2
	disabled.Enabled = false
	noSchedule := homeJob()
	noSchedule.ID = 3
	noSchedule.Schedule = "  "

	s := newTestScheduler(newFakeJobs(disabled, noSchedule), nil)

	for _, id := range []int64{2, 3, 99} {
		if err := s.Schedule(id); err != nil {
			t.Errorf("schedule(%d) = %v, want nil", id, err)
		}
	}
	if s.Len() != 0 {
		t.Errorf("len = %d, want 0", s.Len())
	}
}

func TestScheduleInvalidExpression(t *testing.T) {
	tests := []string{"0 2 * *", "0 2 * * * *", "61 2 * * *", "@daily"}
	for _, expr := range tests {
		j := homeJob()
		j.Schedule = expr
		s := newTestScheduler(newFakeJobs(j), nil)

		err := s.Schedule(1)
		var ise *model.InvalidScheduleError
		if !errors.As(err, &ise) {
			t.Errorf("schedule(%q) err = %v, want InvalidScheduleError", expr, err)
			continue
		}
		if ise.JobID != 1 || ise.Expr != expr {
			t.Errorf("error = %+v", ise)
		}
		if s.Has(1) {
			t.Errorf("schedule(%q) left a trigger", expr)
		}
	}
}

func TestRescheduleToInvalidDropsOldTrigger(t *testing.T) {
	jobs := newFakeJobs(homeJob())
	s := newTestScheduler(jobs, nil)
	s.Schedule(1)

	j := homeJob()
	j.Schedule = "every day"
	jobs.set(j)

	if err := s.Reschedule(1); err == nil {
		t.Fatal("expected invalid schedule error")
	}
	if s.Has(1) {
		t.Error("old trigger survived reschedule to an invalid expression")
	}
}

func TestRebuildFromStore(t *testing.T) {
	enabled := homeJob()
	disabled := homeJob()
	disabled.ID = 2
	disabled.Enabled = false
	empty := homeJob()
	empty.ID = 3
	empty.Schedule = ""
	broken := homeJob()
	broken.ID = 4
	broken.Schedule = "* *"
	weekly := homeJob()
	weekly.ID = 5
	weekly.Schedule = "0 3 * * 0"

	jobs := newFakeJobs(enabled, disabled, empty, broken, weekly)
	s := newTestScheduler(jobs, nil)

	if err := s.Rebuild(); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	entries := s.Entries()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].JobID != 1 || entries[1].JobID != 5 {
		t.Errorf("entries = %+v, want jobs 1 and 5", entries)
	}

	// A second rebuild must not duplicate triggers.
	if err := s.Rebuild(); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if n := len(s.cron.Entries()); n != 2 {
		t.Errorf("cron holds %d entries after second rebuild, want 2", n)
	}
}

func TestRebuildStoreError(t *testing.T) {
	jobs := newFakeJobs(homeJob())
	s := newTestScheduler(jobs, nil)
	s.Schedule(1)

	jobs.err = errors.New("database is locked")
	if err := s.Rebuild(); err == nil {
		t.Fatal("expected error")
	}
	if !s.Has(1) {
		t.Error("failed rebuild should leave existing triggers alone")
	}
}

func TestDispatchRunsOnWorker(t *testing.T) {
	ran := make(chan int64, 4)
	var calls int
	var mu sync.Mutex
	exec := func(_ context.Context, jobID int64) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			panic("boom")
		}
		ran <- jobID
	}

	s := newTestScheduler(newFakeJobs(homeJob()), exec)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.dispatch(7)
	s.dispatch(8)

	select {
	case id := <-ran:
		if id != 7 && id != 8 {
			t.Errorf("ran job %d", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking execution")
	}
}

func TestDispatchDropsWhenQueueFull(t *testing.T) {
	s := New(newFakeJobs(homeJob()), func(context.Context, int64) {}, Options{Location: time.UTC, QueueSize: 1}, quietLogger())

	done := make(chan struct{})
	go func() {
		s.dispatch(1)
		s.dispatch(2)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on a full queue")
	}

	if n := len(s.queue); n != 1 {
		t.Fatalf("queued = %d, want 1", n)
	}
	if id := <-s.queue; id != 1 {
		t.Errorf("queued job = %d, want 1", id)
	}
}

func TestStopCancelsWhenDeadlineExpires(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan error, 1)
	exec := func(ctx context.Context, _ int64) {
		close(started)
		<-ctx.Done()
		finished <- ctx.Err()
	}

	s := newTestScheduler(newFakeJobs(), exec)
	s.Start(context.Background())
	s.dispatch(1)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Stop(ctx)

	select {
	case err := <-finished:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("execution ctx err = %v, want Canceled", err)
		}
	default:
		t.Fatal("Stop returned before the execution unwound")
	}
}

func TestParseSchedule(t *testing.T) {
	sched, err := ParseSchedule(1, " 0  2 * * * ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	from := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	want := time.Date(2024, 5, 2, 2, 0, 0, 0, time.UTC)
	if got := sched.Next(from); !got.Equal(want) {
		t.Errorf("next = %v, want %v", got, want)
	}
}
