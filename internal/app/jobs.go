/**
 * @description
 * Scheduled job implementations for the raffle-service.
 */
package app

import (
	"context"
	"log/slog"
)

// DrawTrigger is the lifecycle entry point the scheduler drives.
type DrawTrigger interface {
	TriggerDrawIfDue(ctx context.Context) (bool, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	lifecycle DrawTrigger
	logger    *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(lifecycle DrawTrigger, logger *slog.Logger) *Jobs {
	return &Jobs{lifecycle: lifecycle, logger: logger}
}

// RunDueDraw fires the draw once the open raffle's scheduled time has
// passed. Errors are logged, never propagated: a failed attempt leaves the
// raffle open and the next tick retries it.
func (j *Jobs) RunDueDraw() {
	ctx := context.Background()

	fired, err := j.lifecycle.TriggerDrawIfDue(ctx)
	if err != nil {
		j.logger.Error("scheduled draw attempt failed", "error", err)
		return
	}
	if fired {
		j.logger.Info("scheduled draw executed")
	}
}
