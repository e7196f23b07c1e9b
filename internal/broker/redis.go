package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Compile-time check that RedisBroker implements Broker.
var _ Broker = (*RedisBroker)(nil)

const (
	queueKeyPrefix   = "queue:"
	processingSuffix = ":processing"
	stateKeyPrefix   = "task:"
	revokedSetKey    = "revoked"
	revokeChannel    = "revocations"

	// stateTTL bounds how long result-backend entries live. Finished
	// tasks are read back shortly after completion, so a day is plenty.
	stateTTL = 24 * time.Hour

	// consumePollInterval is the BRPOP timeout. Short enough that a
	// cancelled context is noticed promptly.
	consumePollInterval = 5 * time.Second
)

// RedisBroker implements Broker on Redis lists, with task state kept in
// the result backend and revocation broadcast over pub/sub. Queue and
// result backend may live on separate Redis instances.
type RedisBroker struct {
	client  *redis.Client
	backend *redis.Client
}

// NewRedisBroker connects to Redis at the given URLs
// (redis://[user:pass@]host:port/db) and verifies both connections. When
// backendURL equals brokerURL a single connection serves both roles.
func NewRedisBroker(brokerURL, backendURL string) (*RedisBroker, error) {
	client, err := dial(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}

	backend := client
	if backendURL != "" && backendURL != brokerURL {
		backend, err = dial(backendURL)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("result backend: %w", err)
		}
	}

	return &RedisBroker{client: client, backend: backend}, nil
}

func dial(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return client, nil
}

// NewRedisBrokerWithClient wraps an existing client. Useful for tests.
func NewRedisBrokerWithClient(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client, backend: client}
}

// Enqueue serializes payload and pushes a task onto the named queue.
func (b *RedisBroker) Enqueue(ctx context.Context, queue, name string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal task payload: %w", err)
	}

	task := Task{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}

	if err := b.client.LPush(ctx, queueKeyPrefix+queue, data).Err(); err != nil {
		return "", fmt.Errorf("enqueue on %s: %w", queue, err)
	}
	if err := b.SetState(ctx, task.ID, StatePending, ""); err != nil {
		return "", err
	}
	return task.ID, nil
}

// Consume blocks until a task is available on the queue or ctx is done.
// The message is moved into the queue's processing list rather than popped,
// so a consumer crash leaves it recoverable by Reclaim.
func (b *RedisBroker) Consume(ctx context.Context, queue string) (*Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := b.client.BLMove(ctx, queueKeyPrefix+queue, processingKey(queue), "RIGHT", "LEFT", consumePollInterval).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("consume from %s: %w", queue, err)
		}

		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			return nil, fmt.Errorf("unmarshal task from %s: %w", queue, err)
		}
		return &task, nil
	}
}

// Ack removes a consumed task from the processing list. Re-marshalling the
// task reproduces the enqueued bytes, so LREM matches the stored entry.
func (b *RedisBroker) Ack(ctx context.Context, queue string, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task for ack: %w", err)
	}
	if err := b.client.LRem(ctx, processingKey(queue), 1, data).Err(); err != nil {
		return fmt.Errorf("ack %s on %s: %w", task.ID, queue, err)
	}
	return nil
}

// Reclaim drains the processing list back onto the queue. It runs at worker
// startup, so entries found here were left by a consumer that died before
// acking. Redelivery can duplicate work already done by the dead consumer;
// every pipeline handler is idempotent by artifact key, so that is safe.
func (b *RedisBroker) Reclaim(ctx context.Context, queue string) (int, error) {
	requeued := 0
	for {
		_, err := b.client.LMove(ctx, processingKey(queue), queueKeyPrefix+queue, "RIGHT", "RIGHT").Result()
		if err == redis.Nil {
			return requeued, nil
		}
		if err != nil {
			return requeued, fmt.Errorf("reclaim %s: %w", queue, err)
		}
		requeued++
	}
}

// SetState records a task's lifecycle state in the result backend.
func (b *RedisBroker) SetState(ctx context.Context, taskID string, state State, detail string) error {
	record := TaskState{
		TaskID:    taskID,
		State:     state,
		Detail:    detail,
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal task state: %w", err)
	}
	if err := b.backend.Set(ctx, stateKeyPrefix+taskID, data, stateTTL).Err(); err != nil {
		return fmt.Errorf("set state for %s: %w", taskID, err)
	}
	return nil
}

// GetState returns a task's recorded state, or ErrStateNotFound.
func (b *RedisBroker) GetState(ctx context.Context, taskID string) (TaskState, error) {
	data, err := b.backend.Get(ctx, stateKeyPrefix+taskID).Bytes()
	if err == redis.Nil {
		return TaskState{}, ErrStateNotFound
	}
	if err != nil {
		return TaskState{}, fmt.Errorf("get state for %s: %w", taskID, err)
	}
	var record TaskState
	if err := json.Unmarshal(data, &record); err != nil {
		return TaskState{}, fmt.Errorf("unmarshal state for %s: %w", taskID, err)
	}
	return record, nil
}

// Revoke marks a task as revoked and broadcasts the revocation.
func (b *RedisBroker) Revoke(ctx context.Context, taskID string) error {
	if err := b.client.SAdd(ctx, revokedSetKey, taskID).Err(); err != nil {
		return fmt.Errorf("revoke %s: %w", taskID, err)
	}
	if err := b.client.Publish(ctx, revokeChannel, taskID).Err(); err != nil {
		return fmt.Errorf("broadcast revocation of %s: %w", taskID, err)
	}
	return b.SetState(ctx, taskID, StateRevoked, "")
}

// IsRevoked reports whether a task has been revoked.
func (b *RedisBroker) IsRevoked(ctx context.Context, taskID string) (bool, error) {
	revoked, err := b.client.SIsMember(ctx, revokedSetKey, taskID).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation of %s: %w", taskID, err)
	}
	return revoked, nil
}

// Revocations subscribes to the revocation channel and returns a feed of
// revoked task ids. The feed is closed when ctx is done.
func (b *RedisBroker) Revocations(ctx context.Context) (<-chan string, error) {
	sub := b.client.Subscribe(ctx, revokeChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe revocations: %w", err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// QueueDepth returns the number of tasks waiting on a queue.
func (b *RedisBroker) QueueDepth(ctx context.Context, queue string) (int64, error) {
	depth, err := b.client.LLen(ctx, queueKeyPrefix+queue).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth of %s: %w", queue, err)
	}
	return depth, nil
}

// Inspect reports the waiting backlog and the processing list's contents.
func (b *RedisBroker) Inspect(ctx context.Context, queue string) (QueueInfo, error) {
	depth, err := b.QueueDepth(ctx, queue)
	if err != nil {
		return QueueInfo{}, err
	}
	raws, err := b.client.LRange(ctx, processingKey(queue), 0, -1).Result()
	if err != nil {
		return QueueInfo{}, fmt.Errorf("inspect %s: %w", queue, err)
	}
	info := QueueInfo{Reserved: depth, Active: make([]Task, 0, len(raws))}
	for _, raw := range raws {
		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			return QueueInfo{}, fmt.Errorf("unmarshal in-flight task on %s: %w", queue, err)
		}
		info.Active = append(info.Active, task)
	}
	return info, nil
}

func processingKey(queue string) string {
	return queueKeyPrefix + queue + processingSuffix
}

// Close closes the Redis connections.
func (b *RedisBroker) Close() error {
	err := b.client.Close()
	if b.backend != b.client {
		if berr := b.backend.Close(); err == nil {
			err = berr
		}
	}
	return err
}
