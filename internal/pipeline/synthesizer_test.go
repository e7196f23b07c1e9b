package pipeline

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slidecast/slidecast/internal/artifact"
	"github.com/slidecast/slidecast/internal/job"
	"github.com/slidecast/slidecast/internal/tts"
)

func putNote(t *testing.T, e *env, jobID uint, slide int, text string) {
	t.Helper()
	_, err := e.artifacts.Put(context.Background(), artifact.BucketPresentations,
		artifact.NoteKey(jobID, slide), bytes.NewReader([]byte(text)), int64(len(text)))
	require.NoError(t, err)
}

func createSynthTask(t *testing.T, e *env, jobID uint, slide int, externalID string) {
	t.Helper()
	_, err := e.jobs.CreateTask(context.Background(), jobID, job.KindSynthesize, &slide, externalID)
	require.NoError(t, err)
}

func TestSynthesizer_BuiltinVoice(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	j := e.newJob(t, "abc")
	putNote(t, e, j.ID, 1, "Welcome to the talk")
	createSynthTask(t, e, j.ID, 1, "ext-1")

	eng := &stubEngine{audio: []byte("wav-bytes")}
	s := NewSynthesizer(e.jobs, e.artifacts, tts.NewChain(eng, time.Minute, e.logger), e.logger)

	require.NoError(t, s.Run(ctx, SynthesizePayload{JobID: j.ID, SlideIndex: 1}, "ext-1"))

	// The builtin reference maps to a base-voice speaker handle with the
	// model extension stripped.
	assert.Equal(t, "en-default", eng.gotSpeaker)
	assert.Equal(t, "Welcome to the talk", eng.gotText)
	assert.Nil(t, eng.gotReference)

	assert.Equal(t, "wav-bytes", readObject(t, e.artifacts, artifact.BucketPresentations, artifact.AudioKey("abc", 1)))

	got, err := e.jobs.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, got.Tasks, 1)
	assert.Equal(t, job.TaskCompleted, got.Tasks[0].Status)
	assert.Equal(t, "synthesized", got.Tasks[0].Progress)
}

func TestSynthesizer_ClonedVoice(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	u, err := e.jobs.CreateUser(ctx, "presenter", nil)
	require.NoError(t, err)
	_, err = e.artifacts.Put(ctx, artifact.BucketVoiceClones, "my-voice.wav",
		bytes.NewReader([]byte("ref-wav")), 7)
	require.NoError(t, err)
	ref, err := e.jobs.CreateVoiceReference(ctx, u.ID, "mine",
		artifact.CanonicalPath(artifact.BucketVoiceClones, "my-voice.wav"))
	require.NoError(t, err)
	j, err := e.jobs.CreateJob(ctx, u.ID, ref.ID, artifact.CanonicalPath(artifact.BucketIngest, "abc.pptx"))
	require.NoError(t, err)

	putNote(t, e, j.ID, 2, "Cloned narration")
	createSynthTask(t, e, j.ID, 2, "ext-2")

	eng := &stubEngine{canClone: true, audio: []byte("cloned-wav")}
	s := NewSynthesizer(e.jobs, e.artifacts, tts.NewChain(eng, time.Minute, e.logger), e.logger)

	require.NoError(t, s.Run(ctx, SynthesizePayload{JobID: j.ID, SlideIndex: 2}, "ext-2"))

	assert.Equal(t, []byte("ref-wav"), eng.gotReference)
	assert.Equal(t, "cloned-wav", readObject(t, e.artifacts, artifact.BucketPresentations, artifact.AudioKey("abc", 2)))
}

func TestSynthesizer_MissingNoteUploadsSilence(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	j := e.newJob(t, "abc")
	createSynthTask(t, e, j.ID, 1, "ext-1")

	eng := &stubEngine{audio: []byte("unused")}
	s := NewSynthesizer(e.jobs, e.artifacts, tts.NewChain(eng, time.Minute, e.logger), e.logger)

	require.NoError(t, s.Run(ctx, SynthesizePayload{JobID: j.ID, SlideIndex: 1}, "ext-1"))

	// The engine is never called; the slot still gets an audio artifact.
	assert.Empty(t, eng.gotText)
	audio := readObject(t, e.artifacts, artifact.BucketPresentations, artifact.AudioKey("abc", 1))
	assert.Equal(t, "RIFF", audio[:4])
}

func TestSynthesizer_FallbackProgress(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	j := e.newJob(t, "abc")
	putNote(t, e, j.ID, 1, "hello")
	createSynthTask(t, e, j.ID, 1, "ext-1")

	// Every engine call fails, so the chain lands on the silence tier.
	eng := &stubEngine{err: errors.New("engine down")}
	s := NewSynthesizer(e.jobs, e.artifacts, tts.NewChain(eng, time.Minute, e.logger), e.logger)

	require.NoError(t, s.Run(ctx, SynthesizePayload{JobID: j.ID, SlideIndex: 1}, "ext-1"))

	got, err := e.jobs.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, got.Tasks, 1)
	assert.Equal(t, job.TaskCompleted, got.Tasks[0].Status)
	assert.Equal(t, "fallback: silence", got.Tasks[0].Progress)

	audio := readObject(t, e.artifacts, artifact.BucketPresentations, artifact.AudioKey("abc", 1))
	assert.Equal(t, "RIFF", audio[:4])
}

func TestSynthesizer_JobMissing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	j := e.newJob(t, "abc")
	createSynthTask(t, e, j.ID, 1, "ext-1")

	s := NewSynthesizer(e.jobs, e.artifacts, tts.NewChain(&stubEngine{}, time.Minute, e.logger), e.logger)

	err := s.Run(ctx, SynthesizePayload{JobID: j.ID + 99, SlideIndex: 1}, "ext-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job not found")

	got, err := e.jobs.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, got.Tasks, 1)
	assert.Equal(t, job.TaskFailed, got.Tasks[0].Status)
}
