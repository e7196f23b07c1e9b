// Package main provides the entry point for the pipeline workers. One
// process serves one queue: cpu workers run decomposition and assembly,
// gpu workers run audio synthesis.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/slidecast/slidecast/internal/bootstrap"
	"github.com/slidecast/slidecast/internal/broker"
	"github.com/slidecast/slidecast/internal/config"
	"github.com/slidecast/slidecast/internal/pipeline"
	"github.com/slidecast/slidecast/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting slidecast worker",
		slog.String("queue", cfg.WorkerQueue),
		slog.String("temp_dir", cfg.TempDir),
		slog.String("tts_engine", cfg.TTSEngine),
	)

	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() { _ = deps.Close() }()

	w, err := newWorker(cfg, deps, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return w.Run(ctx)
}

// newWorker builds the consumer for the configured queue with its handlers
// registered.
func newWorker(cfg *config.Config, deps *bootstrap.Dependencies, logger *slog.Logger) (*worker.Worker, error) {
	switch cfg.WorkerQueue {
	case broker.QueueCPU:
		w := worker.New(deps.Broker, broker.QueueCPU, logger)
		w.Register(broker.TaskDecompose, func(ctx context.Context, task broker.Task) error {
			var p pipeline.DecomposePayload
			if err := json.Unmarshal(task.Payload, &p); err != nil {
				return fmt.Errorf("decode decompose payload: %w", err)
			}
			return deps.Dispatcher.Run(ctx, p)
		})
		w.Register(broker.TaskAssemble, func(ctx context.Context, task broker.Task) error {
			var p pipeline.AssemblePayload
			if err := json.Unmarshal(task.Payload, &p); err != nil {
				return fmt.Errorf("decode assemble payload: %w", err)
			}
			return deps.Assembler.Run(ctx, p, task.ID)
		})
		return w, nil

	case broker.QueueGPU:
		w := worker.New(deps.Broker, broker.QueueGPU, logger, worker.WithHardLimit(cfg.HardTimeLimit()))
		w.Register(broker.TaskSynthesize, func(ctx context.Context, task broker.Task) error {
			var p pipeline.SynthesizePayload
			if err := json.Unmarshal(task.Payload, &p); err != nil {
				return fmt.Errorf("decode synthesize payload: %w", err)
			}
			return deps.Synthesizer.Run(ctx, p, task.ID)
		})
		return w, nil

	default:
		return nil, fmt.Errorf("unknown worker queue %q", cfg.WorkerQueue)
	}
}
