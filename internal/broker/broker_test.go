package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	JobID uint `json:"job_id"`
	Slide int  `json:"slide_index"`
}

func TestMemoryBroker_EnqueueConsume(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	defer b.Close()

	id, err := b.Enqueue(ctx, QueueGPU, TaskSynthesize, testPayload{JobID: 7, Slide: 2})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	depth, err := b.QueueDepth(ctx, QueueGPU)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	task, err := b.Consume(ctx, QueueGPU)
	require.NoError(t, err)
	assert.Equal(t, id, task.ID)
	assert.Equal(t, TaskSynthesize, task.Name)

	var payload testPayload
	require.NoError(t, json.Unmarshal(task.Payload, &payload))
	assert.Equal(t, uint(7), payload.JobID)
	assert.Equal(t, 2, payload.Slide)

	state, err := b.GetState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatePending, state.State)
}

func TestMemoryBroker_ConsumeOrder(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	defer b.Close()

	first, err := b.Enqueue(ctx, QueueCPU, TaskDecompose, testPayload{JobID: 1})
	require.NoError(t, err)
	second, err := b.Enqueue(ctx, QueueCPU, TaskAssemble, testPayload{JobID: 2})
	require.NoError(t, err)

	task, err := b.Consume(ctx, QueueCPU)
	require.NoError(t, err)
	assert.Equal(t, first, task.ID)

	task, err = b.Consume(ctx, QueueCPU)
	require.NoError(t, err)
	assert.Equal(t, second, task.ID)
}

func TestMemoryBroker_AckAndReclaim(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	defer b.Close()

	id, err := b.Enqueue(ctx, QueueCPU, TaskDecompose, testPayload{JobID: 3})
	require.NoError(t, err)

	// A consumed task leaves the backlog but stays in flight until acked.
	task, err := b.Consume(ctx, QueueCPU)
	require.NoError(t, err)
	depth, err := b.QueueDepth(ctx, QueueCPU)
	require.NoError(t, err)
	assert.Zero(t, depth)

	// A consumer that dies before acking gets its task requeued.
	requeued, err := b.Reclaim(ctx, QueueCPU)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	again, err := b.Consume(ctx, QueueCPU)
	require.NoError(t, err)
	assert.Equal(t, id, again.ID)

	// Once acked the task is gone for good.
	require.NoError(t, b.Ack(ctx, QueueCPU, task))
	requeued, err = b.Reclaim(ctx, QueueCPU)
	require.NoError(t, err)
	assert.Zero(t, requeued)
}

func TestMemoryBroker_Inspect(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	defer b.Close()

	_, err := b.Enqueue(ctx, QueueGPU, TaskSynthesize, testPayload{JobID: 1, Slide: 1})
	require.NoError(t, err)
	_, err = b.Enqueue(ctx, QueueGPU, TaskSynthesize, testPayload{JobID: 1, Slide: 2})
	require.NoError(t, err)

	task, err := b.Consume(ctx, QueueGPU)
	require.NoError(t, err)

	info, err := b.Inspect(ctx, QueueGPU)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Reserved)
	require.Len(t, info.Active, 1)
	assert.Equal(t, task.ID, info.Active[0].ID)
	assert.Equal(t, TaskSynthesize, info.Active[0].Name)

	require.NoError(t, b.Ack(ctx, QueueGPU, task))
	info, err = b.Inspect(ctx, QueueGPU)
	require.NoError(t, err)
	assert.Empty(t, info.Active)
}

func TestMemoryBroker_ConsumeHonorsContext(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := b.Consume(ctx, QueueCPU)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryBroker_States(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	defer b.Close()

	_, err := b.GetState(ctx, "unknown")
	assert.ErrorIs(t, err, ErrStateNotFound)

	require.NoError(t, b.SetState(ctx, "t1", StateStarted, ""))
	state, err := b.GetState(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StateStarted, state.State)

	require.NoError(t, b.SetState(ctx, "t1", StateFailure, "boom"))
	state, err = b.GetState(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StateFailure, state.State)
	assert.Equal(t, "boom", state.Detail)
}

func TestMemoryBroker_Revocation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemoryBroker()
	defer b.Close()

	feed, err := b.Revocations(ctx)
	require.NoError(t, err)

	revoked, err := b.IsRevoked(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, b.Revoke(ctx, "t1"))

	revoked, err = b.IsRevoked(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, revoked)

	select {
	case id := <-feed:
		assert.Equal(t, "t1", id)
	case <-time.After(time.Second):
		t.Fatal("revocation not broadcast")
	}

	state, err := b.GetState(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StateRevoked, state.State)
}

func TestMemoryBroker_Closed(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	require.NoError(t, b.Close())

	_, err := b.Enqueue(ctx, QueueCPU, TaskDecompose, nil)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = b.Consume(ctx, QueueCPU)
	assert.ErrorIs(t, err, ErrClosed)
}
