// Package retention removes settled jobs and every artifact they left
// behind in the object store. It runs on demand through the admin API and
// on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slidecast/slidecast/internal/artifact"
	"github.com/slidecast/slidecast/internal/job"
)

// DefaultStatuses are the job states swept when no explicit filter is given.
// Active jobs are never eligible regardless of the filter passed in.
func DefaultStatuses() []job.Status {
	return []job.Status{job.StatusCompleted, job.StatusFailed}
}

// Candidate describes one job a sweep would remove.
type Candidate struct {
	JobID     uint       `json:"job_id"`
	Status    job.Status `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	SourceKey string     `json:"source_artifact_key"`
	ResultKey *string    `json:"result_artifact_key,omitempty"`
}

// Summary reports what a sweep actually did. Errors are per-path; one bad
// object never aborts the rest of the sweep.
type Summary struct {
	JobsDeleted      int      `json:"jobs_deleted"`
	ArtifactsDeleted int      `json:"artifacts_deleted"`
	Errors           []string `json:"errors,omitempty"`
}

// Service deletes settled jobs and their artifacts.
type Service struct {
	jobs      job.Store
	artifacts artifact.Store
	logger    *slog.Logger
}

// NewService creates a retention Service.
func NewService(jobs job.Store, artifacts artifact.Store, logger *slog.Logger) *Service {
	return &Service{jobs: jobs, artifacts: artifacts, logger: logger}
}

// Preview lists the jobs a DeleteOld call with the same arguments would
// remove, without deleting anything.
func (s *Service) Preview(ctx context.Context, age time.Duration, statuses []job.Status) ([]Candidate, error) {
	jobs, err := s.candidates(ctx, age, statuses)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, Candidate{
			JobID:     j.ID,
			Status:    j.Status,
			CreatedAt: j.CreatedAt,
			SourceKey: j.SourceKey,
			ResultKey: j.ResultKey,
		})
	}
	return out, nil
}

// DeleteOld removes every job older than age whose status is in the given
// set, along with all of its artifacts.
func (s *Service) DeleteOld(ctx context.Context, age time.Duration, statuses []job.Status) (Summary, error) {
	jobs, err := s.candidates(ctx, age, statuses)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for _, j := range jobs {
		s.deleteJob(ctx, j, &sum)
	}
	s.logger.Info("retention sweep finished",
		"jobs_deleted", sum.JobsDeleted,
		"artifacts_deleted", sum.ArtifactsDeleted,
		"errors", len(sum.Errors),
	)
	return sum, nil
}

// DeleteSpecific removes the named jobs regardless of age. Jobs that are
// still active are skipped and reported as errors.
func (s *Service) DeleteSpecific(ctx context.Context, jobIDs []uint) (Summary, error) {
	var sum Summary
	for _, id := range jobIDs {
		j, err := s.jobs.GetJob(ctx, id)
		if err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("job %d: %v", id, err))
			continue
		}
		if !j.Status.IsTerminal() {
			sum.Errors = append(sum.Errors, fmt.Sprintf("job %d: still %s, refusing to delete", id, j.Status))
			continue
		}
		s.deleteJob(ctx, j, &sum)
	}
	return sum, nil
}

func (s *Service) candidates(ctx context.Context, age time.Duration, statuses []job.Status) ([]*job.Job, error) {
	if len(statuses) == 0 {
		statuses = DefaultStatuses()
	}
	// Actively processing jobs are never swept, whatever the caller asked for.
	terminal := statuses[:0:0]
	for _, st := range statuses {
		if st.IsTerminal() {
			terminal = append(terminal, st)
		}
	}
	statuses = terminal
	cutoff := time.Now().Add(-age)
	jobs, err := s.jobs.ListJobsOlderThan(ctx, cutoff, statuses)
	if err != nil {
		return nil, fmt.Errorf("list retention candidates: %w", err)
	}
	return jobs, nil
}

// deleteJob removes one job's artifacts and then its rows. Artifact errors
// are recorded per path and never abort the rest of the job's deletion.
func (s *Service) deleteJob(ctx context.Context, j *job.Job, sum *Summary) {
	jobUUID := artifact.JobUUID(j.SourceKey)

	s.deleteCanonical(ctx, j.SourceKey, sum)
	if j.ResultKey != nil {
		s.deleteCanonical(ctx, *j.ResultKey, sum)
	}

	// Per-slide artifacts live under both key families: notes and any
	// stray audio under the numeric id, audio and images under the uuid
	// nonce. The bare uuid prefix last catches anything else.
	s.deletePrefix(ctx, artifact.BucketPresentations, artifact.NotePrefix(j.ID), sum)
	s.deletePrefix(ctx, artifact.BucketPresentations, artifact.AudioPrefix(j.ID), sum)
	s.deletePrefix(ctx, artifact.BucketPresentations, artifact.ImagePrefix(jobUUID), sum)
	s.deletePrefix(ctx, artifact.BucketPresentations, artifact.UUIDPrefix(jobUUID), sum)

	if err := s.jobs.DeleteJobCascade(ctx, j.ID); err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("job %d: delete rows: %v", j.ID, err))
		return
	}
	sum.JobsDeleted++
	s.logger.Info("job deleted", "job_id", j.ID, "status", j.Status)
}

func (s *Service) deleteCanonical(ctx context.Context, path string, sum *Summary) {
	bucket, key, err := artifact.ParseCanonical(path)
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("parse %s: %v", path, err))
		return
	}
	if err := s.artifacts.Delete(ctx, bucket, key); err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("delete %s: %v", path, err))
		return
	}
	sum.ArtifactsDeleted++
}

func (s *Service) deletePrefix(ctx context.Context, bucket, prefix string, sum *Summary) {
	n, err := s.artifacts.DeletePrefix(ctx, bucket, prefix)
	sum.ArtifactsDeleted += n
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Sprintf("delete prefix %s/%s: %v", bucket, prefix, err))
	}
}
