package pipeline

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"pmt-pipeline/internal/jobspec"
)

// Scheduler re-runs a job on a cron expression, for recurring snapshot
// builds. One invocation runs at a time; a tick that fires while the
// previous run is still going is skipped.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	logger *slog.Logger
	busy   chan struct{}
}

// NewScheduler creates a Scheduler driving the given runner.
func NewScheduler(runner *Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		runner: runner,
		logger: logger,
		busy:   make(chan struct{}, 1),
	}
}

// Add schedules a job with the given cron expression and run options.
func (s *Scheduler) Add(schedule string, job *jobspec.Job, opts RunOptions) error {
	_, err := s.cron.AddFunc(schedule, func() {
		select {
		case s.busy <- struct{}{}:
		default:
			s.logger.Warn("previous run still in progress, skipping tick", "job", job.Name)
			return
		}
		defer func() { <-s.busy }()

		if err := s.runner.Run(context.Background(), job, opts); err != nil {
			s.logger.Warn("scheduled run failed", "job", job.Name, "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.logger.Info("scheduled job", "job", job.Name, "schedule", schedule)
	return nil
}

// Start begins firing scheduled runs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.busy <- struct{}{}
	s.logger.Info("scheduler stopped")
}
