// Package broker provides the task queue port used to hand work between the
// API process and the pipeline workers, plus its Redis implementation.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Static errors for broker operations.
var (
	// ErrStateNotFound is returned by GetState when no state is recorded
	// for a task, typically because its result backend entry expired.
	ErrStateNotFound = errors.New("broker: task state not found")
	// ErrClosed is returned when an operation is attempted on a closed broker.
	ErrClosed = errors.New("broker: closed")
)

// Queue names. CPU-bound orchestration work and GPU-bound synthesis work
// are consumed by separate worker pools.
const (
	QueueCPU = "cpu"
	QueueGPU = "gpu"
)

// Task names routed through the queues.
const (
	TaskDecompose  = "pipeline.decompose"
	TaskSynthesize = "pipeline.synthesize"
	TaskAssemble   = "pipeline.assemble"
)

// State is the lifecycle state of an enqueued task as recorded in the
// result backend.
type State string

const (
	StatePending State = "pending"
	StateStarted State = "started"
	StateSuccess State = "success"
	StateFailure State = "failure"
	StateRevoked State = "revoked"
)

// Task is the wire form of a unit of work.
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// TaskState is the result-backend record for a task.
type TaskState struct {
	TaskID    string    `json:"task_id"`
	State     State     `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QueueInfo is a point-in-time view of one queue: the waiting backlog and
// the tasks consumed but not yet acked.
type QueueInfo struct {
	Reserved int64  `json:"reserved"`
	Active   []Task `json:"active"`
}

// Broker defines the task queue port. Enqueue returns the broker-assigned
// task id, which callers persist as the task's external id.
type Broker interface {
	// Enqueue serializes payload and pushes a task onto the named queue.
	Enqueue(ctx context.Context, queue, name string, payload any) (string, error)

	// Consume blocks until a task is available on the queue or ctx is done.
	// A consumed task stays in the queue's in-flight record until it is
	// acked, so a consumer crash cannot lose it.
	Consume(ctx context.Context, queue string) (*Task, error)

	// Ack removes a consumed task from the in-flight record. Call it after
	// the task's outcome has been written to the result backend.
	Ack(ctx context.Context, queue string, task *Task) error

	// Reclaim pushes abandoned in-flight tasks back onto the queue and
	// returns how many were requeued. Workers call it before consuming.
	Reclaim(ctx context.Context, queue string) (int, error)

	// SetState records a task's lifecycle state in the result backend.
	SetState(ctx context.Context, taskID string, state State, detail string) error

	// GetState returns a task's recorded state, or ErrStateNotFound.
	GetState(ctx context.Context, taskID string) (TaskState, error)

	// Revoke marks a task as revoked and broadcasts the revocation so a
	// worker already running it can abort.
	Revoke(ctx context.Context, taskID string) error

	// IsRevoked reports whether a task has been revoked.
	IsRevoked(ctx context.Context, taskID string) (bool, error)

	// Revocations returns a feed of revoked task ids. The feed is closed
	// when ctx is done.
	Revocations(ctx context.Context) (<-chan string, error)

	// QueueDepth returns the number of tasks waiting on a queue.
	QueueDepth(ctx context.Context, queue string) (int64, error)

	// Inspect reports a queue's waiting backlog and in-flight tasks.
	Inspect(ctx context.Context, queue string) (QueueInfo, error)

	// Close releases broker resources.
	Close() error
}
