package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/dukerupert/hostvault/internal/backup"
	"github.com/dukerupert/hostvault/internal/config"
	"github.com/dukerupert/hostvault/internal/email"
	"github.com/dukerupert/hostvault/internal/handler"
	"github.com/dukerupert/hostvault/internal/middleware"
	"github.com/dukerupert/hostvault/internal/offsite"
	"github.com/dukerupert/hostvault/internal/remote"
	"github.com/dukerupert/hostvault/internal/scheduler"
	"github.com/dukerupert/hostvault/internal/stats"
	"github.com/dukerupert/hostvault/internal/store"
	"github.com/dukerupert/hostvault/internal/transfer"
	ws "github.com/dukerupert/hostvault/internal/websocket"
)

type Server struct {
	cfg         *config.Config
	hub         *ws.Hub
	hostH       *handler.HostHandler
	jobH        *handler.JobHandler
	runH        *handler.RunHandler
	systemH     *handler.SystemHandler
	runner      *backup.Manager
	scheduler   *scheduler.Scheduler
	stats       *stats.Aggregator
	uploader    *offsite.Uploader
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

// New wires the stores, runner, scheduler and handlers. Nothing is started;
// the caller runs the scheduler and rate limiter.
func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger)

	hostStore := store.NewHostStore(db)
	jobStore := store.NewJobStore(db)
	runStore := store.NewRunStore(db)

	callback := hub.PublishRunEvent
	if cfg.AlertsEnabled() {
		alerter := email.NewAlerter(email.NewClient(cfg.PostmarkToken, cfg.AlertFrom), cfg.AlertTo, cfg.BaseURL, logger)
		callback = func(e backup.Event) {
			hub.PublishRunEvent(e)
			alerter.HandleEvent(e)
		}
	}

	executor := transfer.NewExecutor(cfg.TransferTimeout, logger)
	runner := backup.NewManager(backup.Config{
		BackupDir: cfg.BackupDir,
		Builder:   transfer.NewBuilder(cfg.RsyncPath, cfg.SSHPassPath),
	}, jobStore, hostStore, runStore, executor, callback, logger)

	var uploader *offsite.Uploader
	var downloader handler.Downloader
	if cfg.Offsite.Enabled() {
		uploader = offsite.New(cfg.Offsite, logger)
		runner.SetOffsite(uploader)
		downloader = uploader
	}

	sched := scheduler.New(jobStore, func(ctx context.Context, jobID int64) {
		if _, err := runner.Execute(ctx, jobID); err != nil {
			logger.Error("scheduled run did not start", "job_id", jobID, "error", err)
		}
	}, scheduler.Options{Workers: cfg.Workers, Location: cfg.Location}, logger)

	agg := stats.NewAggregator(hostStore, jobStore, runStore, logger)
	remoteClient := remote.NewClient(cfg.SSHTimeout, logger)

	return &Server{
		cfg:         cfg,
		hub:         hub,
		hostH:       handler.NewHostHandler(hostStore, jobStore, sched, remoteClient, hub, logger.With("component", "host_api")),
		jobH:        handler.NewJobHandler(jobStore, hostStore, runStore, sched, runner, hub, logger.With("component", "job_api")),
		runH:        handler.NewRunHandler(runStore, runner, downloader, logger.With("component", "run_api")),
		systemH:     handler.NewSystemHandler(agg, sched, runner, hub),
		runner:      runner,
		scheduler:   sched,
		stats:       agg,
		uploader:    uploader,
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

func (s *Server) Runner() *backup.Manager {
	return s.runner
}

func (s *Server) Scheduler() *scheduler.Scheduler {
	return s.scheduler
}

func (s *Server) Stats() *stats.Aggregator {
	return s.stats
}

// Offsite returns the uploader, or nil when offsite storage is disabled.
func (s *Server) Offsite() *offsite.Uploader {
	return s.uploader
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.systemH.Health)
	mux.HandleFunc("GET /ws", ws.Handler(s.hub, s.cfg.WSOrigins))

	// Hosts
	mux.HandleFunc("GET /api/hosts", s.hostH.List)
	mux.HandleFunc("POST /api/hosts", s.hostH.Create)
	mux.HandleFunc("GET /api/hosts/{id}", s.hostH.Get)
	mux.HandleFunc("PUT /api/hosts/{id}", s.hostH.Update)
	mux.HandleFunc("DELETE /api/hosts/{id}", s.hostH.Delete)
	mux.Handle("POST /api/hosts/{id}/test", s.rateLimited(s.hostH.Test))
	mux.HandleFunc("POST /api/hosts/{id}/browse", s.hostH.Browse)
	mux.HandleFunc("GET /api/hosts/{id}/browse", s.hostH.Browse)

	// Jobs
	mux.HandleFunc("GET /api/jobs", s.jobH.List)
	mux.HandleFunc("POST /api/jobs", s.jobH.Create)
	mux.HandleFunc("GET /api/jobs/{id}", s.jobH.Get)
	mux.HandleFunc("PUT /api/jobs/{id}", s.jobH.Update)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.jobH.Delete)
	mux.Handle("POST /api/jobs/{id}/run", s.rateLimited(s.jobH.Run))
	mux.HandleFunc("GET /api/jobs/{id}/history", s.jobH.History)

	// Runs
	mux.HandleFunc("GET /api/runs", s.runH.List)
	mux.HandleFunc("GET /api/runs/{id}", s.runH.Get)
	mux.Handle("POST /api/runs/{id}/restore", s.rateLimited(s.runH.Restore))
	mux.HandleFunc("GET /api/runs/{id}/offsite", s.runH.Download)

	mux.HandleFunc("GET /api/stats", s.systemH.Stats)
	mux.HandleFunc("GET /api/schedules", s.systemH.Schedules)

	httpLogger := s.logger.With("component", "http")
	return middleware.RequestID(middleware.RequestLogger(httpLogger)(mux))
}

func (s *Server) rateLimited(h http.HandlerFunc) http.Handler {
	return middleware.RateLimit(s.rateLimiter, middleware.OperationLimit)(h)
}
