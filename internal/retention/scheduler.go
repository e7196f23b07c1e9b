package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the retention sweep on a cron cadence.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler wires svc.DeleteOld onto the given cron expression with the
// default status filter. An empty schedule disables the sweep and returns a
// nil Scheduler, which Start and Stop tolerate.
func NewScheduler(svc *Service, schedule string, age time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if schedule == "" {
		return nil, nil
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		sum, err := svc.DeleteOld(ctx, age, nil)
		if err != nil {
			logger.Error("scheduled retention sweep failed", "error", err)
			return
		}
		logger.Info("scheduled retention sweep done",
			"jobs_deleted", sum.JobsDeleted,
			"artifacts_deleted", sum.ArtifactsDeleted,
			"errors", len(sum.Errors),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	return &Scheduler{cron: c, logger: logger}, nil
}

// Start begins the schedule in its own goroutine.
func (s *Scheduler) Start() {
	if s == nil {
		return
	}
	s.cron.Start()
	s.logger.Info("retention schedule started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("retention schedule stopped")
}
