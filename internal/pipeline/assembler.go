package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slidecast/slidecast/internal/artifact"
	"github.com/slidecast/slidecast/internal/broker"
	"github.com/slidecast/slidecast/internal/job"
	"github.com/slidecast/slidecast/internal/muxer"
)

const (
	// barrierPollInterval is the cadence at which the barrier re-checks
	// the fan-out.
	barrierPollInterval = 10 * time.Second

	// downloadConcurrency bounds parallel artifact downloads during
	// assembly.
	downloadConcurrency = 8
)

// Assembler handles assemble tasks. Phase A waits on the synthesis
// fan-out; Phase B downloads every slide's image and audio, muxes the
// final video and uploads it.
type Assembler struct {
	jobs            job.Store
	artifacts       artifact.Store
	broker          broker.Broker
	muxer           muxer.Muxer
	scratch         *artifact.Scratch
	barrierDeadline time.Duration
	pollInterval    time.Duration
	logger          *slog.Logger
}

// NewAssembler creates an Assembler. barrierDeadline is only used for
// the timeout error text; the authoritative deadline travels in the
// payload.
func NewAssembler(jobs job.Store, artifacts artifact.Store, brk broker.Broker, mux muxer.Muxer, scratch *artifact.Scratch, barrierDeadline time.Duration, logger *slog.Logger) *Assembler {
	return &Assembler{
		jobs:            jobs,
		artifacts:       artifacts,
		broker:          brk,
		muxer:           mux,
		scratch:         scratch,
		barrierDeadline: barrierDeadline,
		pollInterval:    barrierPollInterval,
		logger:          logger,
	}
}

// Run executes the barrier and assembly for one job. externalID is the
// broker id of the assemble task being executed.
func (a *Assembler) Run(ctx context.Context, p AssemblePayload, externalID string) error {
	if _, err := a.jobs.UpdateTaskByExternalID(ctx, externalID, runningUpdate(fmt.Sprintf("waiting for %d synthesis tasks", len(p.SynthTaskIDs)))); err != nil {
		return fmt.Errorf("mark assemble task running: %w", err)
	}

	settled, err := a.barrier(ctx, p)
	if err != nil {
		return a.fail(ctx, p.JobID, externalID, err)
	}
	if !settled {
		msg := fmt.Sprintf("synthesis timeout after %ds", int(a.barrierDeadline.Seconds()))
		return a.fail(ctx, p.JobID, externalID, errors.New(msg))
	}

	applied, err := a.jobs.SetJobStatus(ctx, p.JobID, job.StatusAssembling, job.StatusUpdate{})
	if err != nil {
		return a.fail(ctx, p.JobID, externalID, fmt.Errorf("enter assembling: %w", err))
	}
	if !applied {
		a.logger.Info("job already settled, skipping assembly", "job_id", p.JobID)
		_, _ = a.jobs.UpdateTaskByExternalID(ctx, externalID, terminalUpdate(job.TaskCancelled, "", nil))
		return nil
	}

	if err := a.assemble(ctx, p, externalID); err != nil {
		return a.fail(ctx, p.JobID, externalID, err)
	}
	return nil
}

// barrier polls the result backend until every referenced synthesis task
// settles or the deadline passes. Both success and failure settle a
// task; missing audio is handled at assembly. Returns false on deadline
// expiry.
func (a *Assembler) barrier(ctx context.Context, p AssemblePayload) (bool, error) {
	pending := make(map[string]bool, len(p.SynthTaskIDs))
	for _, id := range p.SynthTaskIDs {
		pending[id] = true
	}

	for {
		for id := range pending {
			state, err := a.broker.GetState(ctx, id)
			if err != nil {
				if errors.Is(err, broker.ErrStateNotFound) {
					continue
				}
				return false, fmt.Errorf("poll synthesis state: %w", err)
			}
			switch state.State {
			case broker.StateSuccess, broker.StateFailure, broker.StateRevoked:
				delete(pending, id)
			}
		}
		if len(pending) == 0 {
			return true, nil
		}
		if time.Now().After(p.Deadline) {
			a.logger.Warn("synthesis barrier expired",
				"job_id", p.JobID,
				"unsettled", len(pending),
			)
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(a.pollInterval):
		}
	}
}

// assemble runs Phase B: downloads, mux, upload, completion.
func (a *Assembler) assemble(ctx context.Context, p AssemblePayload, externalID string) error {
	j, err := a.jobs.GetJob(ctx, p.JobID)
	if err != nil {
		return fmt.Errorf("load job %d: %w", p.JobID, err)
	}
	jobUUID := artifact.JobUUID(j.SourceKey)

	workDir, err := a.scratch.TempDir(fmt.Sprintf("assemble_%d_*", p.JobID))
	if err != nil {
		return fmt.Errorf("create assembly directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	slides, err := a.downloadMedia(ctx, p, jobUUID, workDir)
	if err != nil {
		return err
	}

	if _, err := a.jobs.UpdateTaskByExternalID(ctx, externalID, progressUpdate(fmt.Sprintf("assembling %d slides", len(slides)))); err != nil {
		return fmt.Errorf("update assemble progress: %w", err)
	}

	output := filepath.Join(workDir, artifact.OutputKey(p.JobID))
	if err := a.muxer.Assemble(ctx, slides, output); err != nil {
		return fmt.Errorf("mux video: %w", err)
	}

	f, err := os.Open(output) // #nosec G304 - path is built above
	if err != nil {
		return fmt.Errorf("open muxed video: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat muxed video: %w", err)
	}

	resultKey, err := a.artifacts.Put(ctx, artifact.BucketOutput, artifact.OutputKey(p.JobID), f, info.Size())
	if err != nil {
		return fmt.Errorf("upload video: %w", err)
	}

	if _, err := a.jobs.SetJobStatus(ctx, p.JobID, job.StatusCompleted, job.StatusUpdate{ResultKey: &resultKey}); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if _, err := a.jobs.UpdateTaskByExternalID(ctx, externalID, terminalUpdate(job.TaskCompleted, "video assembled", nil)); err != nil {
		return fmt.Errorf("complete assemble task: %w", err)
	}

	a.logger.Info("job completed", "job_id", p.JobID, "result", resultKey)
	return nil
}

// downloadMedia fetches each slide's image and audio into workDir. The
// image list ordering is the authoritative slide ordering; audio is
// addressed by slide index. A missing audio artifact is a hard failure.
func (a *Assembler) downloadMedia(ctx context.Context, p AssemblePayload, jobUUID, workDir string) ([]muxer.SlideMedia, error) {
	slides := make([]muxer.SlideMedia, len(p.ImagePaths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(downloadConcurrency)
	for i, imagePath := range p.ImagePaths {
		slide := i + 1
		g.Go(func() error {
			bucket, key, err := artifact.ParseCanonical(imagePath)
			if err != nil {
				return fmt.Errorf("parse image path for slide %d: %w", slide, err)
			}
			local := filepath.Join(workDir, fmt.Sprintf("slide_%d.png", slide))
			if err := a.scratch.Download(gctx, a.artifacts, bucket, key, local); err != nil {
				return fmt.Errorf("download image for slide %d: %w", slide, err)
			}
			slides[i].ImagePath = local
			return nil
		})
		g.Go(func() error {
			key := artifact.AudioKey(jobUUID, slide)
			local := filepath.Join(workDir, fmt.Sprintf("slide_%d.wav", slide))
			if err := a.scratch.Download(gctx, a.artifacts, artifact.BucketPresentations, key, local); err != nil {
				if errors.Is(err, artifact.ErrNotFound) {
					return fmt.Errorf("missing audio for slide %d", slide)
				}
				return fmt.Errorf("download audio for slide %d: %w", slide, err)
			}
			slides[i].AudioPath = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return slides, nil
}

func (a *Assembler) fail(ctx context.Context, jobID uint, externalID string, cause error) error {
	a.logger.Error("assembly failed", "job_id", jobID, "error", cause)
	msg := cause.Error()
	if _, err := a.jobs.UpdateTaskByExternalID(ctx, externalID, terminalUpdate(job.TaskFailed, "", &msg)); err != nil {
		a.logger.Error("failed to mark assemble task failed", "job_id", jobID, "error", err)
	}
	if _, err := a.jobs.SetJobStatus(ctx, jobID, job.StatusFailed, job.StatusUpdate{Error: &msg}); err != nil {
		a.logger.Error("failed to mark job failed", "job_id", jobID, "error", err)
	}
	return cause
}
