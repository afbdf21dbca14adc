/**
 * @description
 * Cron scheduler setup for scheduled jobs. The scheduler is a thin external
 * driver: it owns no raffle state and only pokes the lifecycle's single
 * entry point on a fixed cadence. Duplicate or drifting ticks are harmless
 * because the lifecycle's status guard makes the draw fire at most once per
 * raffle.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	jobs     *Jobs
	logger   *slog.Logger
	schedule string
}

// NewScheduler creates a new scheduler instance. `schedule` is a cron spec
// such as "@every 10s"; the poll cadence bounds how late after its scheduled
// time a draw can fire.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:     c,
		jobs:     jobs,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.schedule, s.jobs.RunDueDraw); err != nil {
		s.logger.Error("failed to schedule draw poll job", "error", err)
	} else {
		s.logger.Info("scheduled draw poll job", "schedule", s.schedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
