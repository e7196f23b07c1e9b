package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/slidecast/slidecast/internal/artifact"
	"github.com/slidecast/slidecast/internal/job"
	"github.com/slidecast/slidecast/internal/tts"
)

// Synthesizer handles synthesize tasks: it resolves the job's voice,
// loads the slide's notes, runs the fallback chain and uploads the
// resulting narration WAV.
type Synthesizer struct {
	jobs      job.Store
	artifacts artifact.Store
	chain     *tts.Chain
	logger    *slog.Logger
}

// NewSynthesizer creates a Synthesizer over the given fallback chain.
func NewSynthesizer(jobs job.Store, artifacts artifact.Store, chain *tts.Chain, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{
		jobs:      jobs,
		artifacts: artifacts,
		chain:     chain,
		logger:    logger,
	}
}

// Run synthesizes one slide's narration. externalID is the broker id of
// the task being executed; it addresses the task row.
func (s *Synthesizer) Run(ctx context.Context, p SynthesizePayload, externalID string) error {
	if _, err := s.jobs.UpdateTaskByExternalID(ctx, externalID, runningUpdate(fmt.Sprintf("starting audio synthesis for slide %d", p.SlideIndex))); err != nil {
		return fmt.Errorf("mark synthesize task running: %w", err)
	}

	j, err := s.jobs.GetJob(ctx, p.JobID)
	if err != nil {
		return s.fail(ctx, externalID, fmt.Errorf("job not found: %w", err))
	}

	voice, err := s.resolveVoice(ctx, j)
	if err != nil {
		return s.fail(ctx, externalID, err)
	}

	noteText, err := s.loadNote(ctx, j.ID, p.SlideIndex)
	if err != nil {
		return s.fail(ctx, externalID, err)
	}

	d := tts.Parse(noteText)
	result := s.chain.Synthesize(ctx, tts.Request{
		Text:    d.Clean,
		Speed:   d.Speed,
		Pitch:   d.Pitch,
		Emotion: d.Emotion,
	}, voice)

	audioKey := artifact.AudioKey(artifact.JobUUID(j.SourceKey), p.SlideIndex)
	_, err = s.artifacts.Put(ctx, artifact.BucketPresentations, audioKey, bytes.NewReader(result.Audio), int64(len(result.Audio)))
	if err != nil {
		return s.fail(ctx, externalID, fmt.Errorf("upload narration: %w", err))
	}

	s.logger.Info("slide narration synthesized",
		"job_id", j.ID,
		"slide", p.SlideIndex,
		"tier", result.Tier.Progress(),
	)
	if _, err := s.jobs.UpdateTaskByExternalID(ctx, externalID, terminalUpdate(job.TaskCompleted, result.Tier.Progress(), nil)); err != nil {
		return fmt.Errorf("complete synthesize task: %w", err)
	}
	return nil
}

// resolveVoice maps the job's voice reference to a chain voice: builtin
// references become engine speaker handles, uploads become reference
// audio bytes.
func (s *Synthesizer) resolveVoice(ctx context.Context, j *job.Job) (tts.Voice, error) {
	ref, err := s.jobs.GetVoiceReference(ctx, j.VoiceRefID)
	if err != nil {
		return tts.Voice{}, fmt.Errorf("resolve voice reference: %w", err)
	}

	if ref.IsBuiltin() {
		return tts.Voice{BuiltinSpeaker: ref.BuiltinSpeaker()}, nil
	}

	bucket, key, err := artifact.ParseCanonical(ref.StorageKey)
	if err != nil {
		return tts.Voice{}, fmt.Errorf("parse voice reference key: %w", err)
	}
	rc, err := s.artifacts.Get(ctx, bucket, key)
	if err != nil {
		return tts.Voice{}, fmt.Errorf("load reference audio: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return tts.Voice{}, fmt.Errorf("read reference audio: %w", err)
	}
	return tts.Voice{ReferenceWAV: data}, nil
}

// loadNote fetches a slide's notes. Absent or whitespace-only notes
// become the silence sentinel so the slide still gets an audio artifact.
func (s *Synthesizer) loadNote(ctx context.Context, jobID uint, slide int) (string, error) {
	rc, err := s.artifacts.Get(ctx, artifact.BucketPresentations, artifact.NoteKey(jobID, slide))
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return tts.SilenceSentinel, nil
		}
		return "", fmt.Errorf("load notes for slide %d: %w", slide, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read notes for slide %d: %w", slide, err)
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return tts.SilenceSentinel, nil
	}
	return text, nil
}

func (s *Synthesizer) fail(ctx context.Context, externalID string, cause error) error {
	s.logger.Error("synthesis failed", "external_id", externalID, "error", cause)
	msg := cause.Error()
	if _, err := s.jobs.UpdateTaskByExternalID(ctx, externalID, terminalUpdate(job.TaskFailed, "", &msg)); err != nil {
		s.logger.Error("failed to mark synthesize task failed", "external_id", externalID, "error", err)
	}
	return cause
}
