package job

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newStores returns one store per implementation so every contract test runs
// against both the in-memory store and the gorm store backed by sqlite.
func newStores(t *testing.T) map[string]Store {
	t.Helper()

	// A uniquely named shared-cache database keeps the schema visible across
	// pooled connections without leaking state between tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	gs, err := NewGormStore(db)
	require.NoError(t, err)

	return map[string]Store{
		"memory": NewMemoryStore(),
		"gorm":   gs,
	}
}

func intPtr(n int) *int                { return &n }
func strPtr(s string) *string          { return &s }
func statusPtr(s TaskStatus) *TaskStatus { return &s }

func TestStore_CreateAndGetJob(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			j, err := store.CreateJob(ctx, 1, 2, "/ingest/abc.pptx")
			require.NoError(t, err)
			assert.NotZero(t, j.ID)
			assert.Equal(t, StatusPending, j.Status)
			assert.Equal(t, "/ingest/abc.pptx", j.SourceKey)
			assert.Nil(t, j.ResultKey)
			assert.Nil(t, j.Error)

			got, err := store.GetJob(ctx, j.ID)
			require.NoError(t, err)
			assert.Equal(t, j.ID, got.ID)
			assert.Empty(t, got.Tasks)

			_, err = store.GetJob(ctx, 9999)
			assert.ErrorIs(t, err, ErrJobNotFound)
		})
	}
}

func TestStore_SetJobStatus_Lifecycle(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j, err := store.CreateJob(ctx, 1, 1, "/ingest/abc.pptx")
			require.NoError(t, err)

			applied, err := store.SetJobStatus(ctx, j.ID, StatusDecomposing, StatusUpdate{})
			require.NoError(t, err)
			assert.True(t, applied)

			applied, err = store.SetJobStatus(ctx, j.ID, StatusSynthesizing, StatusUpdate{SlideCount: intPtr(3)})
			require.NoError(t, err)
			assert.True(t, applied)

			got, err := store.GetJob(ctx, j.ID)
			require.NoError(t, err)
			require.NotNil(t, got.SlideCount)
			assert.Equal(t, 3, *got.SlideCount)
			assert.Equal(t, string(StatusSynthesizing), got.Stage)

			// Stage skipping violates the DAG.
			_, err = store.SetJobStatus(ctx, j.ID, StatusCompleted, StatusUpdate{})
			assert.ErrorIs(t, err, ErrInvalidTransition)

			applied, err = store.SetJobStatus(ctx, j.ID, StatusAssembling, StatusUpdate{})
			require.NoError(t, err)
			assert.True(t, applied)

			applied, err = store.SetJobStatus(ctx, j.ID, StatusCompleted, StatusUpdate{ResultKey: strPtr("/output/1.mp4")})
			require.NoError(t, err)
			assert.True(t, applied)

			got, err = store.GetJob(ctx, j.ID)
			require.NoError(t, err)
			require.NotNil(t, got.ResultKey)
			assert.Equal(t, "/output/1.mp4", *got.ResultKey)
		})
	}
}

func TestStore_SetJobStatus_TerminalIsAbsorbing(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j, err := store.CreateJob(ctx, 1, 1, "/ingest/abc.pptx")
			require.NoError(t, err)

			applied, err := store.SetJobStatus(ctx, j.ID, StatusFailed, StatusUpdate{Error: strPtr("boom")})
			require.NoError(t, err)
			assert.True(t, applied)

			// Second terminal write is the already-terminal signal, not an error.
			applied, err = store.SetJobStatus(ctx, j.ID, StatusFailed, StatusUpdate{Error: strPtr("boom again")})
			require.NoError(t, err)
			assert.False(t, applied)

			applied, err = store.SetJobStatus(ctx, j.ID, StatusCancelled, StatusUpdate{})
			require.NoError(t, err)
			assert.False(t, applied)

			got, err := store.GetJob(ctx, j.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, got.Status)
			require.NotNil(t, got.Error)
			assert.Equal(t, "boom", *got.Error)
		})
	}
}

func TestStore_SetJobStatus_RepeatSucceeds(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j, err := store.CreateJob(ctx, 1, 1, "/ingest/abc.pptx")
			require.NoError(t, err)

			applied, err := store.SetJobStatus(ctx, j.ID, StatusDecomposing, StatusUpdate{})
			require.NoError(t, err)
			assert.True(t, applied)

			// Re-entering the current status is how a redelivered task
			// resumes after a worker crash; only terminal rows report false.
			applied, err = store.SetJobStatus(ctx, j.ID, StatusDecomposing, StatusUpdate{})
			require.NoError(t, err)
			assert.True(t, applied)

			got, err := store.GetJob(ctx, j.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusDecomposing, got.Status)
		})
	}
}

func TestStore_TerminalTaskIsImmutable(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j, err := store.CreateJob(ctx, 1, 1, "/ingest/abc.pptx")
			require.NoError(t, err)

			task, err := store.CreateTask(ctx, j.ID, KindSynthesize, intPtr(1), "ext-1")
			require.NoError(t, err)
			_, err = store.UpdateTask(ctx, task.ID, TaskUpdate{Status: statusPtr(TaskCancelled)})
			require.NoError(t, err)

			// A late worker failure racing the cancel must not stamp error
			// text or progress onto the settled row.
			_, err = store.UpdateTask(ctx, task.ID, TaskUpdate{
				Status:   statusPtr(TaskFailed),
				Progress: strPtr("fallback: silence"),
				Error:    strPtr("engine unreachable"),
			})
			require.NoError(t, err)

			got, err := store.ListTasks(ctx, j.ID)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, TaskCancelled, got[0].Status)
			assert.Empty(t, got[0].Progress)
			assert.Nil(t, got[0].Error)
		})
	}
}

func TestStore_TaskLifecycle(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j, err := store.CreateJob(ctx, 1, 1, "/ingest/abc.pptx")
			require.NoError(t, err)

			task, err := store.CreateTask(ctx, j.ID, KindSynthesize, intPtr(1), "ext-1")
			require.NoError(t, err)
			assert.Equal(t, TaskPending, task.Status)
			assert.Nil(t, task.StartedAt)

			task, err = store.UpdateTaskByExternalID(ctx, "ext-1", TaskUpdate{
				Status:   statusPtr(TaskRunning),
				Progress: strPtr("starting synthesis for slide 1"),
			})
			require.NoError(t, err)

			got, err := store.ListTasks(ctx, j.ID)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, TaskRunning, got[0].Status)
			require.NotNil(t, got[0].StartedAt)
			assert.Nil(t, got[0].CompletedAt)

			_, err = store.UpdateTask(ctx, task.ID, TaskUpdate{
				Status:   statusPtr(TaskCompleted),
				Progress: strPtr("synthesized"),
			})
			require.NoError(t, err)

			got, err = store.ListTasks(ctx, j.ID)
			require.NoError(t, err)
			require.NotNil(t, got[0].CompletedAt)
			assert.Equal(t, "synthesized", got[0].Progress)

			// A terminal task ignores further status writes.
			_, err = store.UpdateTask(ctx, task.ID, TaskUpdate{Status: statusPtr(TaskFailed)})
			require.NoError(t, err)
			got, err = store.ListTasks(ctx, j.ID)
			require.NoError(t, err)
			assert.Equal(t, TaskCompleted, got[0].Status)

			_, err = store.UpdateTask(ctx, 9999, TaskUpdate{})
			assert.ErrorIs(t, err, ErrTaskNotFound)
		})
	}
}

func TestStore_ListTasks_Ordering(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j, err := store.CreateJob(ctx, 1, 1, "/ingest/abc.pptx")
			require.NoError(t, err)

			// Created out of order on purpose.
			_, err = store.CreateTask(ctx, j.ID, KindSynthesize, intPtr(2), "s2")
			require.NoError(t, err)
			_, err = store.CreateTask(ctx, j.ID, KindAssemble, nil, "a1")
			require.NoError(t, err)
			_, err = store.CreateTask(ctx, j.ID, KindSynthesize, intPtr(1), "s1")
			require.NoError(t, err)
			_, err = store.CreateTask(ctx, j.ID, KindDecompose, nil, "d1")
			require.NoError(t, err)

			tasks, err := store.ListTasks(ctx, j.ID)
			require.NoError(t, err)
			require.Len(t, tasks, 4)

			assert.Equal(t, KindAssemble, tasks[0].Kind)
			assert.Equal(t, KindDecompose, tasks[1].Kind)
			assert.Equal(t, KindSynthesize, tasks[2].Kind)
			require.NotNil(t, tasks[2].SlideIndex)
			assert.Equal(t, 1, *tasks[2].SlideIndex)
			assert.Equal(t, KindSynthesize, tasks[3].Kind)
			require.NotNil(t, tasks[3].SlideIndex)
			assert.Equal(t, 2, *tasks[3].SlideIndex)
		})
	}
}

func TestStore_DeleteJobCascade(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			j, err := store.CreateJob(ctx, 1, 1, "/ingest/abc.pptx")
			require.NoError(t, err)
			for i := 1; i <= 3; i++ {
				_, err = store.CreateTask(ctx, j.ID, KindSynthesize, intPtr(i), fmt.Sprintf("s%d", i))
				require.NoError(t, err)
			}

			require.NoError(t, store.DeleteJobCascade(ctx, j.ID))

			_, err = store.GetJob(ctx, j.ID)
			assert.ErrorIs(t, err, ErrJobNotFound)

			tasks, err := store.ListTasks(ctx, j.ID)
			require.NoError(t, err)
			assert.Empty(t, tasks)

			assert.ErrorIs(t, store.DeleteJobCascade(ctx, j.ID), ErrJobNotFound)
		})
	}
}

func TestStore_ListJobsOlderThan(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			old, err := store.CreateJob(ctx, 1, 1, "/ingest/old.pptx")
			require.NoError(t, err)
			for _, st := range []Status{StatusDecomposing, StatusSynthesizing, StatusAssembling, StatusCompleted} {
				upd := StatusUpdate{}
				if st == StatusCompleted {
					upd.ResultKey = strPtr("/output/old.mp4")
				}
				_, err = store.SetJobStatus(ctx, old.ID, st, upd)
				require.NoError(t, err)
			}

			active, err := store.CreateJob(ctx, 1, 1, "/ingest/active.pptx")
			require.NoError(t, err)
			_, err = store.SetJobStatus(ctx, active.ID, StatusDecomposing, StatusUpdate{})
			require.NoError(t, err)

			cutoff := time.Now().UTC().Add(time.Hour)
			got, err := store.ListJobsOlderThan(ctx, cutoff, []Status{StatusCompleted, StatusFailed})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, old.ID, got[0].ID)

			// Active jobs never match the retention filter.
			got, err = store.ListJobsOlderThan(ctx, cutoff, []Status{StatusCompleted, StatusFailed})
			require.NoError(t, err)
			for _, g := range got {
				assert.NotEqual(t, active.ID, g.ID)
			}
		})
	}
}

func TestStore_VoiceReferences(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			v, err := store.CreateVoiceReference(ctx, 7, "my voice", "/voice-clones/ab12.wav")
			require.NoError(t, err)
			assert.NotZero(t, v.ID)

			got, err := store.GetVoiceReference(ctx, v.ID)
			require.NoError(t, err)
			assert.Equal(t, "my voice", got.Name)
			assert.False(t, got.IsBuiltin())

			_, err = store.GetVoiceReference(ctx, 9999)
			assert.ErrorIs(t, err, ErrVoiceReferenceNotFound)

			refs, err := store.ListVoiceReferencesByOwner(ctx, 7)
			require.NoError(t, err)
			assert.Len(t, refs, 1)
		})
	}
}
