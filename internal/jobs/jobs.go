// Package jobs schedules the background maintenance of the bot with cron.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/abjtutorial/tutorbot/core/logger"
	"github.com/abjtutorial/tutorbot/core/metrics"
	"github.com/abjtutorial/tutorbot/internal/config"
)

// Job names used in logs and metrics.
const (
	PendingDigest = "pending_digest"
	CommentSweep  = "comment_sweep"
	SessionSweep  = "session_sweep"
)

// Runner is implemented by the workflow engine.
type Runner interface {
	PendingDigest(ctx context.Context, olderThan time.Duration) (int, error)
	ExpireQuestions(ctx context.Context, ttl time.Duration) (int, error)
	SweepSessions(maxIdle time.Duration) int
}

// Scheduler runs the jobs on their cron specs.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	cfg     config.JobsConfig
	metrics *metrics.Metrics
	timeout time.Duration
}

// New registers every job. Specs use the standard five field syntax or descriptors such as "@hourly".
func New(cfg config.JobsConfig, runner Runner, m *metrics.Metrics) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		runner:  runner,
		cfg:     cfg,
		metrics: m,
		timeout: time.Minute,
	}
	specs := []struct {
		name string
		spec string
	}{
		{PendingDigest, cfg.PendingDigest},
		{CommentSweep, cfg.CommentSweep},
		{SessionSweep, cfg.SessionSweep},
	}
	for _, j := range specs {
		name := j.name
		if _, err := s.cron.AddFunc(j.spec, func() { s.Run(context.Background(), name) }); err != nil {
			return nil, fmt.Errorf("jobs: register %s (%q): %w", name, j.spec, err)
		}
	}
	logger.Jobs.Info("jobs registered",
		slog.String("event", "jobs.registered"),
		slog.Int("count", len(specs)),
	)
	return s, nil
}

// Start begins the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Jobs.Info("scheduler started", slog.String("event", "jobs.start"))
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logger.Jobs.Info("scheduler stopped", slog.String("event", "jobs.stop"))
}

// Run executes one job immediately.
func (s *Scheduler) Run(ctx context.Context, name string) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	var (
		n   int
		err error
	)
	switch name {
	case PendingDigest:
		n, err = s.runner.PendingDigest(ctx, s.cfg.ReviewStaleAfter)
	case CommentSweep:
		n, err = s.runner.ExpireQuestions(ctx, s.cfg.CommentTTL)
	case SessionSweep:
		n = s.runner.SweepSessions(s.cfg.SessionIdle)
	default:
		err = fmt.Errorf("unknown job %q", name)
	}

	s.metrics.IncJobRun(name, logger.Status(err))
	attrs := []slog.Attr{
		slog.String("job", name),
		slog.Int("affected", n),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", err.Error()))
		logger.LogEvent(ctx, logger.Jobs, slog.LevelError, "jobs.run", attrs...)
		return
	}
	level := slog.LevelDebug
	if n > 0 {
		level = slog.LevelInfo
	}
	logger.LogEvent(ctx, logger.Jobs, level, "jobs.run", attrs...)
}
