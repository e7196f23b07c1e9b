package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slidecast/slidecast/internal/artifact"
	"github.com/slidecast/slidecast/internal/broker"
	"github.com/slidecast/slidecast/internal/deck"
	"github.com/slidecast/slidecast/internal/job"
	"github.com/slidecast/slidecast/internal/renderer"
)

// noteUploadConcurrency bounds the parallel note uploads per deck.
const noteUploadConcurrency = 8

// Dispatcher handles decompose tasks: it splits a deck into per-slide
// notes, has the renderer produce slide images, fans out one synthesize
// task per slide and schedules the assemble task that collects them.
type Dispatcher struct {
	jobs            job.Store
	artifacts       artifact.Store
	renderer        renderer.Client
	broker          broker.Broker
	barrierDeadline time.Duration
	logger          *slog.Logger
}

// NewDispatcher creates a Dispatcher. barrierDeadline is the global
// synthesis wait granted to the scheduled assemble task.
func NewDispatcher(jobs job.Store, artifacts artifact.Store, rend renderer.Client, brk broker.Broker, barrierDeadline time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		jobs:            jobs,
		artifacts:       artifacts,
		renderer:        rend,
		broker:          brk,
		barrierDeadline: barrierDeadline,
		logger:          logger,
	}
}

// Run decomposes one job. Any failure marks both the decompose task and
// the job failed; synthesize tasks already enqueued at that point are
// left to run and their artifacts reaped by retention.
func (d *Dispatcher) Run(ctx context.Context, p DecomposePayload) error {
	j, err := d.jobs.GetJob(ctx, p.JobID)
	if err != nil {
		return fmt.Errorf("load job %d: %w", p.JobID, err)
	}

	task, err := d.jobs.CreateTask(ctx, j.ID, job.KindDecompose, nil, "")
	if err != nil {
		return fmt.Errorf("create decompose task: %w", err)
	}
	if _, err := d.jobs.UpdateTask(ctx, task.ID, runningUpdate("extracting slides from presentation")); err != nil {
		return fmt.Errorf("mark decompose task running: %w", err)
	}

	applied, err := d.jobs.SetJobStatus(ctx, j.ID, job.StatusDecomposing, job.StatusUpdate{})
	if err != nil {
		return d.fail(ctx, j.ID, task.ID, fmt.Errorf("enter decomposing: %w", err))
	}
	if !applied {
		// The job reached a terminal state before work began, typically a
		// cancellation racing the queue. A redelivery of a job already in
		// decomposing is not terminal and falls through to re-run the
		// key-addressed work.
		d.logger.Info("job already settled, skipping decomposition", "job_id", j.ID)
		_, _ = d.jobs.UpdateTask(ctx, task.ID, terminalUpdate(job.TaskCancelled, "", nil))
		return nil
	}

	if err := d.decompose(ctx, j, task.ID); err != nil {
		return d.fail(ctx, j.ID, task.ID, err)
	}
	return nil
}

func (d *Dispatcher) decompose(ctx context.Context, j *job.Job, taskID uint) error {
	bucket, key, err := artifact.ParseCanonical(j.SourceKey)
	if err != nil {
		return fmt.Errorf("parse source key: %w", err)
	}

	rc, err := d.artifacts.Get(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("download source deck: %w", err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return fmt.Errorf("read source deck: %w", err)
	}

	notes, err := deck.ExtractNotes(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("extract notes: %w", err)
	}
	slideCount := len(notes)

	if err := d.jobs.SetSlideCount(ctx, j.ID, slideCount); err != nil {
		return fmt.Errorf("record slide count: %w", err)
	}
	if _, err := d.jobs.UpdateTask(ctx, taskID, progressUpdate(fmt.Sprintf("processing %d slides", slideCount))); err != nil {
		return fmt.Errorf("update decompose progress: %w", err)
	}

	if err := d.uploadNotes(ctx, j.ID, notes); err != nil {
		return err
	}

	images, err := d.renderer.Convert(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("render slides: %w", err)
	}
	if len(images) != slideCount {
		return fmt.Errorf("Mismatch between number of images (%d) and slides (%d)", len(images), slideCount)
	}

	externalIDs, err := d.fanOutSynthesis(ctx, j.ID, slideCount)
	if err != nil {
		return err
	}

	if _, err := d.jobs.UpdateTask(ctx, taskID, terminalUpdate(job.TaskCompleted, fmt.Sprintf("successfully processed %d slides", slideCount), nil)); err != nil {
		return fmt.Errorf("complete decompose task: %w", err)
	}
	if _, err := d.jobs.SetJobStatus(ctx, j.ID, job.StatusSynthesizing, job.StatusUpdate{}); err != nil {
		return fmt.Errorf("enter synthesizing: %w", err)
	}

	return d.scheduleAssembly(ctx, j.ID, images, externalIDs)
}

// uploadNotes writes one note object per slide, empty notes included so
// the synthesis worker can distinguish "no notes" from "not decomposed".
func (d *Dispatcher) uploadNotes(ctx context.Context, jobID uint, notes []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(noteUploadConcurrency)
	for i, note := range notes {
		g.Go(func() error {
			key := artifact.NoteKey(jobID, i+1)
			_, err := d.artifacts.Put(ctx, artifact.BucketPresentations, key, strings.NewReader(note), int64(len(note)))
			if err != nil {
				return fmt.Errorf("upload notes for slide %d: %w", i+1, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// fanOutSynthesis creates and enqueues one synthesize task per slide,
// recording each broker id on its task row before assembly is scheduled.
func (d *Dispatcher) fanOutSynthesis(ctx context.Context, jobID uint, slideCount int) ([]string, error) {
	externalIDs := make([]string, 0, slideCount)
	for i := 1; i <= slideCount; i++ {
		t, err := d.jobs.CreateTask(ctx, jobID, job.KindSynthesize, &i, "")
		if err != nil {
			return nil, fmt.Errorf("create synthesize task for slide %d: %w", i, err)
		}
		extID, err := d.broker.Enqueue(ctx, broker.QueueGPU, broker.TaskSynthesize, SynthesizePayload{JobID: jobID, SlideIndex: i})
		if err != nil {
			return nil, fmt.Errorf("enqueue synthesis for slide %d: %w", i, err)
		}
		if _, err := d.jobs.UpdateTask(ctx, t.ID, job.TaskUpdate{ExternalID: &extID}); err != nil {
			return nil, fmt.Errorf("record external id for slide %d: %w", i, err)
		}
		externalIDs = append(externalIDs, extID)
	}
	return externalIDs, nil
}

func (d *Dispatcher) scheduleAssembly(ctx context.Context, jobID uint, images, externalIDs []string) error {
	t, err := d.jobs.CreateTask(ctx, jobID, job.KindAssemble, nil, "")
	if err != nil {
		return fmt.Errorf("create assemble task: %w", err)
	}
	extID, err := d.broker.Enqueue(ctx, broker.QueueCPU, broker.TaskAssemble, AssemblePayload{
		JobID:        jobID,
		ImagePaths:   images,
		SynthTaskIDs: externalIDs,
		Deadline:     time.Now().UTC().Add(d.barrierDeadline),
	})
	if err != nil {
		return fmt.Errorf("enqueue assembly: %w", err)
	}
	if _, err := d.jobs.UpdateTask(ctx, t.ID, job.TaskUpdate{ExternalID: &extID}); err != nil {
		return fmt.Errorf("record assemble external id: %w", err)
	}
	return nil
}

// fail marks the decompose task and the job failed with the same text.
func (d *Dispatcher) fail(ctx context.Context, jobID, taskID uint, cause error) error {
	d.logger.Error("decomposition failed", "job_id", jobID, "error", cause)
	msg := cause.Error()
	if _, err := d.jobs.UpdateTask(ctx, taskID, terminalUpdate(job.TaskFailed, "", &msg)); err != nil {
		d.logger.Error("failed to mark decompose task failed", "job_id", jobID, "error", err)
	}
	if _, err := d.jobs.SetJobStatus(ctx, jobID, job.StatusFailed, job.StatusUpdate{Error: &msg}); err != nil {
		d.logger.Error("failed to mark job failed", "job_id", jobID, "error", err)
	}
	return cause
}
