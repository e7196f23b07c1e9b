package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time check that MemoryBroker implements Broker.
var _ Broker = (*MemoryBroker)(nil)

// MemoryBroker is an in-process Broker for tests.
type MemoryBroker struct {
	mu          sync.Mutex
	queues      map[string][]*Task
	processing  map[string][]*Task
	states      map[string]TaskState
	revoked     map[string]bool
	subscribers []chan string
	wakeup      chan struct{}
	closed      bool
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues:     make(map[string][]*Task),
		processing: make(map[string][]*Task),
		states:     make(map[string]TaskState),
		revoked:    make(map[string]bool),
		wakeup:     make(chan struct{}, 1),
	}
}

// Enqueue serializes payload and appends a task to the named queue.
func (b *MemoryBroker) Enqueue(_ context.Context, queue, name string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal task payload: %w", err)
	}

	task := &Task{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", ErrClosed
	}
	b.queues[queue] = append(b.queues[queue], task)
	b.states[task.ID] = TaskState{TaskID: task.ID, State: StatePending, UpdatedAt: time.Now().UTC()}
	b.mu.Unlock()

	select {
	case b.wakeup <- struct{}{}:
	default:
	}
	return task.ID, nil
}

// Consume blocks until a task is available on the queue or ctx is done.
// The task moves into the queue's in-flight record until acked.
func (b *MemoryBroker) Consume(ctx context.Context, queue string) (*Task, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		if tasks := b.queues[queue]; len(tasks) > 0 {
			task := tasks[0]
			b.queues[queue] = tasks[1:]
			b.processing[queue] = append(b.processing[queue], task)
			b.mu.Unlock()
			return task, nil
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.wakeup:
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Ack removes a consumed task from the in-flight record.
func (b *MemoryBroker) Ack(_ context.Context, queue string, task *Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	inflight := b.processing[queue]
	for i, t := range inflight {
		if t.ID == task.ID {
			b.processing[queue] = append(inflight[:i], inflight[i+1:]...)
			return nil
		}
	}
	return nil
}

// Reclaim moves un-acked tasks back to the front of the queue.
func (b *MemoryBroker) Reclaim(_ context.Context, queue string) (int, error) {
	b.mu.Lock()
	abandoned := b.processing[queue]
	b.processing[queue] = nil
	b.queues[queue] = append(abandoned, b.queues[queue]...)
	n := len(abandoned)
	b.mu.Unlock()

	if n > 0 {
		select {
		case b.wakeup <- struct{}{}:
		default:
		}
	}
	return n, nil
}

// SetState records a task's lifecycle state.
func (b *MemoryBroker) SetState(_ context.Context, taskID string, state State, detail string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[taskID] = TaskState{TaskID: taskID, State: state, Detail: detail, UpdatedAt: time.Now().UTC()}
	return nil
}

// GetState returns a task's recorded state, or ErrStateNotFound.
func (b *MemoryBroker) GetState(_ context.Context, taskID string) (TaskState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	record, ok := b.states[taskID]
	if !ok {
		return TaskState{}, ErrStateNotFound
	}
	return record, nil
}

// Revoke marks a task as revoked and notifies subscribers.
func (b *MemoryBroker) Revoke(_ context.Context, taskID string) error {
	b.mu.Lock()
	b.revoked[taskID] = true
	b.states[taskID] = TaskState{TaskID: taskID, State: StateRevoked, UpdatedAt: time.Now().UTC()}
	subs := make([]chan string, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub <- taskID:
		default:
		}
	}
	return nil
}

// IsRevoked reports whether a task has been revoked.
func (b *MemoryBroker) IsRevoked(_ context.Context, taskID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revoked[taskID], nil
}

// Revocations returns a feed of revoked task ids.
func (b *MemoryBroker) Revocations(ctx context.Context) (<-chan string, error) {
	sub := make(chan string, 16)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()

	out := make(chan string)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case id := <-sub:
				select {
				case out <- id:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// QueueDepth returns the number of tasks waiting on a queue.
func (b *MemoryBroker) QueueDepth(_ context.Context, queue string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.queues[queue])), nil
}

// Inspect reports the waiting backlog and in-flight tasks.
func (b *MemoryBroker) Inspect(_ context.Context, queue string) (QueueInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info := QueueInfo{Reserved: int64(len(b.queues[queue]))}
	for _, t := range b.processing[queue] {
		info.Active = append(info.Active, *t)
	}
	return info, nil
}

// Close marks the broker closed.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
