package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slidecast/slidecast/internal/broker"
	"github.com/slidecast/slidecast/internal/job"
)

// Canceller revokes a job's outstanding work and settles its rows.
type Canceller struct {
	jobs   job.Store
	broker broker.Broker
	logger *slog.Logger
}

// NewCanceller creates a Canceller.
func NewCanceller(jobs job.Store, brk broker.Broker, logger *slog.Logger) *Canceller {
	return &Canceller{jobs: jobs, broker: brk, logger: logger}
}

// Cancel revokes every non-terminal task with a broker handle, marks
// those tasks cancelled and transitions the job to cancelled. It returns
// false when the job was already terminal. Workers receiving the revoke
// abort without uploading; partial artifacts are reaped by retention.
func (c *Canceller) Cancel(ctx context.Context, jobID uint) (bool, error) {
	j, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if j.Status.IsTerminal() {
		return false, nil
	}

	for _, t := range j.Tasks {
		if t.Status.IsTerminal() {
			continue
		}
		if t.ExternalID != "" {
			if err := c.broker.Revoke(ctx, t.ExternalID); err != nil {
				// Revocation is best effort; the status write below still
				// stops new work from being observed.
				c.logger.Warn("failed to revoke task", "job_id", jobID, "external_id", t.ExternalID, "error", err)
			}
		}
		if _, err := c.jobs.UpdateTask(ctx, t.ID, terminalUpdate(job.TaskCancelled, "", nil)); err != nil {
			return false, fmt.Errorf("cancel task %d: %w", t.ID, err)
		}
	}

	applied, err := c.jobs.SetJobStatus(ctx, jobID, job.StatusCancelled, job.StatusUpdate{})
	if err != nil {
		return false, fmt.Errorf("cancel job %d: %w", jobID, err)
	}

	c.logger.Info("job cancelled", "job_id", jobID)
	return applied, nil
}
