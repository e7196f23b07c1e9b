// Package worker provides the queue consumer runtime. A Worker drains one
// broker queue, dispatches each task to its registered handler and reports
// lifecycle states back to the result backend.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/slidecast/slidecast/internal/broker"
)

// Handler processes one dequeued task. The context carries the hard time
// limit and is cancelled when the task is revoked mid-flight.
type Handler func(ctx context.Context, task broker.Task) error

// ErrNoHandler is returned when a dequeued task has no registered handler.
var ErrNoHandler = errors.New("no handler registered for task")

// Worker consumes a single queue. Tasks run one at a time unless a higher
// concurrency is configured.
type Worker struct {
	broker      broker.Broker
	queue       string
	handlers    map[string]Handler
	hardLimit   time.Duration
	concurrency int
	logger      *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// Option configures a Worker.
type Option func(*Worker)

// WithHardLimit bounds each task's execution time. Zero disables the limit.
func WithHardLimit(d time.Duration) Option {
	return func(w *Worker) { w.hardLimit = d }
}

// WithConcurrency sets how many tasks may run at once. Defaults to 1.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// New creates a Worker bound to one queue.
func New(brk broker.Broker, queue string, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		broker:      brk,
		queue:       queue,
		handlers:    make(map[string]Handler),
		concurrency: 1,
		logger:      logger,
		running:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Register binds a task name to its handler. Must be called before Run.
func (w *Worker) Register(name string, h Handler) {
	w.handlers[name] = h
	w.logger.Debug("handler registered", "queue", w.queue, "task", name)
}

// Run consumes the queue until the context is cancelled or the broker is
// closed. It returns nil on a clean shutdown.
func (w *Worker) Run(ctx context.Context) error {
	// Tasks a previous consumer took but never acked go back on the queue
	// before this one starts pulling work.
	if n, err := w.broker.Reclaim(ctx, w.queue); err != nil {
		w.logger.Error("failed to reclaim abandoned tasks", "queue", w.queue, "error", err)
	} else if n > 0 {
		w.logger.Info("requeued abandoned tasks", "queue", w.queue, "count", n)
	}

	go w.watchRevocations(ctx)

	w.logger.Info("worker started", "queue", w.queue, "concurrency", w.concurrency)

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		task, err := w.broker.Consume(ctx, w.queue)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, broker.ErrClosed) {
				w.logger.Info("worker stopped", "queue", w.queue)
				return nil
			}
			w.logger.Error("consume failed", "queue", w.queue, "error", err)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(ctx, *task)
			w.ack(task)
		}()
	}
}

// watchRevocations cancels the context of any running task named by the
// revocation feed.
func (w *Worker) watchRevocations(ctx context.Context) {
	ch, err := w.broker.Revocations(ctx)
	if err != nil {
		w.logger.Error("failed to subscribe to revocations", "queue", w.queue, "error", err)
		return
	}
	for id := range ch {
		w.mu.Lock()
		cancel, ok := w.running[id]
		w.mu.Unlock()
		if ok {
			w.logger.Info("revoking running task", "queue", w.queue, "task_id", id)
			cancel()
		}
	}
}

// process runs one task through its handler with state reporting, the hard
// time limit and panic containment.
func (w *Worker) process(ctx context.Context, task broker.Task) {
	revoked, err := w.broker.IsRevoked(ctx, task.ID)
	if err != nil {
		w.logger.Error("revocation check failed", "task_id", task.ID, "error", err)
	}
	if revoked {
		w.logger.Info("skipping revoked task", "queue", w.queue, "task_id", task.ID, "task", task.Name)
		return
	}

	h, ok := w.handlers[task.Name]
	if !ok {
		w.logger.Error("unknown task name", "queue", w.queue, "task", task.Name)
		w.setState(ctx, task.ID, broker.StateFailure, ErrNoHandler.Error())
		return
	}

	tctx := ctx
	var cancel context.CancelFunc
	if w.hardLimit > 0 {
		tctx, cancel = context.WithTimeout(ctx, w.hardLimit)
	} else {
		tctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	w.mu.Lock()
	w.running[task.ID] = cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.running, task.ID)
		w.mu.Unlock()
	}()

	w.setState(ctx, task.ID, broker.StateStarted, "")
	start := time.Now()
	err = w.runHandler(tctx, h, task)
	elapsed := time.Since(start)

	if err != nil {
		// A revocation that landed mid-flight already wrote the revoked
		// state; do not overwrite it with a failure.
		if revoked, rerr := w.broker.IsRevoked(ctx, task.ID); rerr == nil && revoked {
			w.logger.Info("task revoked mid-flight", "queue", w.queue, "task_id", task.ID, "duration", elapsed)
			return
		}
		w.logger.Error("task failed",
			"queue", w.queue,
			"task", task.Name,
			"task_id", task.ID,
			"duration", elapsed,
			"error", err,
		)
		w.setState(ctx, task.ID, broker.StateFailure, err.Error())
		return
	}

	w.logger.Info("task completed",
		"queue", w.queue,
		"task", task.Name,
		"task_id", task.ID,
		"duration", elapsed,
	)
	w.setState(ctx, task.ID, broker.StateSuccess, "")
}

// runHandler contains handler panics so one bad task cannot take down the
// consumer loop.
func (w *Worker) runHandler(ctx context.Context, h Handler, task broker.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return h(ctx, task)
}

// ack drops the task from the in-flight record once its outcome has been
// written. A detached context so shutdown cannot strand a finished task
// for redelivery.
func (w *Worker) ack(task *broker.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.broker.Ack(ctx, w.queue, task); err != nil {
		w.logger.Error("failed to ack task", "queue", w.queue, "task_id", task.ID, "error", err)
	}
}

func (w *Worker) setState(ctx context.Context, taskID string, state broker.State, detail string) {
	if err := w.broker.SetState(ctx, taskID, state, detail); err != nil {
		w.logger.Error("failed to record task state", "task_id", taskID, "state", state, "error", err)
	}
}
