// Package scheduler keeps one cron trigger per eligible job and hands fired
// jobs to a pool of workers. The trigger table is derived entirely from the
// job records and can be rebuilt at any time.
package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/hostvault/internal/model"
	"github.com/robfig/cron/v3"
)

const (
	DefaultWorkers   = 2
	DefaultQueueSize = 64
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// JobLoader is the part of the job store the scheduler reads.
type JobLoader interface {
	GetByID(id int64) (*model.Job, error)
	List() ([]model.Job, error)
}

// ExecuteFunc runs a job. It is called from a worker goroutine, never from
// the cron loop.
type ExecuteFunc func(ctx context.Context, jobID int64)

type Options struct {
	Workers   int
	QueueSize int
	Location  *time.Location
}

// Entry describes one active trigger.
type Entry struct {
	JobID    int64     `json:"job_id"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev,omitzero"`
}

type Scheduler struct {
	jobs    JobLoader
	execute ExecuteFunc
	cron    *cron.Cron
	loc     *time.Location
	logger  *slog.Logger
	workers int

	mu      sync.Mutex
	entries map[int64]trigger
	running bool

	queue  chan int64
	quit   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type trigger struct {
	id   cron.EntryID
	expr string
}

func New(jobs JobLoader, execute ExecuteFunc, opts Options, logger *slog.Logger) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")

	cl := cronLogger{logger}
	return &Scheduler{
		jobs:    jobs,
		execute: execute,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(opts.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		loc:     opts.Location,
		logger:  logger,
		workers: opts.Workers,
		entries: make(map[int64]trigger),
		queue:   make(chan int64, opts.QueueSize),
	}
}

// ParseSchedule parses a five-field cron expression
// (minute hour day-of-month month day-of-week).
func ParseSchedule(jobID int64, expr string) (cron.Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, &model.InvalidScheduleError{
			JobID:  jobID,
			Expr:   expr,
			Reason: fmt.Sprintf("expected 5 fields, got %d", len(fields)),
		}
	}
	sched, err := parser.Parse(strings.Join(fields, " "))
	if err != nil {
		return nil, &model.InvalidScheduleError{JobID: jobID, Expr: expr, Reason: err.Error()}
	}
	return sched, nil
}

// Schedule registers a trigger for the job, replacing any existing one.
// Missing, disabled and unscheduled jobs are skipped. A malformed schedule
// is logged and returned, and leaves the job without a trigger.
func (s *Scheduler) Schedule(jobID int64) error {
	job, err := s.jobs.GetByID(jobID)
	if err != nil {
		s.logger.Error("failed to load job", "job_id", jobID, "error", err)
		return fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		s.logger.Warn("job not found, not scheduling", "job_id", jobID)
		return nil
	}
	if !job.Schedulable() {
		s.logger.Debug("job not schedulable", "job_id", jobID, "enabled", job.Enabled)
		return nil
	}

	sched, err := ParseSchedule(job.ID, job.Schedule)
	if err != nil {
		s.logger.Warn("invalid schedule", "job_id", jobID, "error", err)
		return err
	}

	s.mu.Lock()
	s.removeLocked(job.ID)
	s.addLocked(job.ID, job.Schedule, sched)
	s.mu.Unlock()
	return nil
}

// Unschedule removes the job's trigger. Removing a job with no trigger is
// a no-op.
func (s *Scheduler) Unschedule(jobID int64) {
	s.mu.Lock()
	removed := s.removeLocked(jobID)
	s.mu.Unlock()
	if removed {
		s.logger.Info("job unscheduled", "job_id", jobID)
	}
}

// Reschedule brings the job's trigger in line with its current record.
// The old trigger is removed and the new one added under a single lock.
func (s *Scheduler) Reschedule(jobID int64) error {
	job, err := s.jobs.GetByID(jobID)
	if err != nil {
		s.logger.Error("failed to load job", "job_id", jobID, "error", err)
		return fmt.Errorf("load job: %w", err)
	}

	var sched cron.Schedule
	var parseErr error
	if job != nil && job.Schedulable() {
		sched, parseErr = ParseSchedule(job.ID, job.Schedule)
		if parseErr != nil {
			s.logger.Warn("invalid schedule", "job_id", jobID, "error", parseErr)
		}
	}

	s.mu.Lock()
	s.removeLocked(jobID)
	if sched != nil {
		s.addLocked(jobID, job.Schedule, sched)
	}
	s.mu.Unlock()
	return parseErr
}

// Rebuild drops every trigger and schedules each eligible job from the
// store. Jobs with bad schedules are skipped.
func (s *Scheduler) Rebuild() error {
	jobs, err := s.jobs.List()
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.entries {
		s.removeLocked(id)
	}

	skipped := 0
	for _, job := range jobs {
		if !job.Schedulable() {
			continue
		}
		sched, err := ParseSchedule(job.ID, job.Schedule)
		if err != nil {
			s.logger.Warn("invalid schedule", "job_id", job.ID, "error", err)
			skipped++
			continue
		}
		s.addLocked(job.ID, job.Schedule, sched)
	}

	s.logger.Info("schedules rebuilt", "active", len(s.entries), "skipped", skipped)
	return nil
}

func (s *Scheduler) addLocked(jobID int64, expr string, sched cron.Schedule) {
	id := s.cron.Schedule(sched, cron.FuncJob(func() { s.dispatch(jobID) }))
	s.entries[jobID] = trigger{id: id, expr: expr}
	s.logger.Info("job scheduled", "job_id", jobID, "schedule", expr)
}

func (s *Scheduler) removeLocked(jobID int64) bool {
	t, ok := s.entries[jobID]
	if !ok {
		return false
	}
	s.cron.Remove(t.id)
	delete(s.entries, jobID)
	return true
}

// dispatch runs on the cron goroutine and must not block.
func (s *Scheduler) dispatch(jobID int64) {
	select {
	case s.queue <- jobID:
		s.logger.Debug("job dispatched", "job_id", jobID)
	default:
		s.logger.Warn("dispatch queue full, dropping trigger", "job_id", jobID)
	}
}

// Start starts the cron loop and the worker pool. ctx bounds the workers'
// executions.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.quit = make(chan struct{})
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, s.quit)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "workers", s.workers, "triggers", len(s.entries))
}

// Stop stops firing triggers and waits for in-flight executions. When ctx
// expires first, running executions are cancelled and Stop returns once
// they have unwound.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	quit, cancel := s.quit, s.cancel
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	close(quit)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("cancelling in-flight executions")
		cancel()
		<-done
	}
	cancel()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) worker(ctx context.Context, quit <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-quit:
			return
		case <-ctx.Done():
			return
		case jobID := <-s.queue:
			s.run(ctx, jobID)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, jobID int64) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job execution panicked", "job_id", jobID, "panic", r)
		}
	}()
	s.execute(ctx, jobID)
}

// Entries returns the active triggers ordered by job id. Next is computed
// from the schedule when the cron loop has not run yet.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().In(s.loc)
	out := make([]Entry, 0, len(s.entries))
	for jobID, t := range s.entries {
		e := s.cron.Entry(t.id)
		next := e.Next
		if next.IsZero() && e.Schedule != nil {
			next = e.Schedule.Next(now)
		}
		out = append(out, Entry{JobID: jobID, Schedule: t.expr, Next: next, Prev: e.Prev})
	}
	slices.SortFunc(out, func(a, b Entry) int { return cmp.Compare(a.JobID, b.JobID) })
	return out
}

// Has reports whether the job currently owns a trigger.
func (s *Scheduler) Has(jobID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[jobID]
	return ok
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// cronLogger routes robfig/cron's logging into slog. Its Info output is
// per-tick chatter, so it goes to debug.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
