// Package bootstrap provides dependency initialization for the API server
// and the workers.
package bootstrap

import (
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/slidecast/slidecast/internal/artifact"
	"github.com/slidecast/slidecast/internal/broker"
	"github.com/slidecast/slidecast/internal/config"
	"github.com/slidecast/slidecast/internal/job"
	"github.com/slidecast/slidecast/internal/muxer"
	"github.com/slidecast/slidecast/internal/pipeline"
	"github.com/slidecast/slidecast/internal/renderer"
	"github.com/slidecast/slidecast/internal/retention"
	"github.com/slidecast/slidecast/internal/tts"
)

// Dependencies holds all initialized dependencies shared by the server and
// the worker processes.
type Dependencies struct {
	Jobs      job.Store
	Artifacts artifact.Store
	Broker    broker.Broker

	Dispatcher  *pipeline.Dispatcher
	Synthesizer *pipeline.Synthesizer
	Assembler   *pipeline.Assembler
	Canceller   *pipeline.Canceller

	Retention *retention.Service
	Scheduler *retention.Scheduler
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	jobs, err := job.NewGormStore(db)
	if err != nil {
		return nil, fmt.Errorf("initialize job store: %w", err)
	}

	brk, err := broker.NewRedisBroker(cfg.BrokerURL, cfg.ResultBackendURL)
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}

	artifacts, err := artifact.NewS3Store(artifact.S3Config{
		Endpoint:        cfg.ObjectStoreURL,
		Region:          cfg.ObjectStoreRegion,
		AccessKeyID:     cfg.ObjectStoreAccessKey,
		SecretAccessKey: cfg.ObjectStoreSecretKey,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize object store: %w", err)
	}
	logger.Info("object store configured",
		slog.String("endpoint", cfg.ObjectStoreURL),
		slog.String("region", cfg.ObjectStoreRegion),
	)

	rend, err := renderer.NewClient(cfg.RendererURL)
	if err != nil {
		return nil, fmt.Errorf("create renderer client: %w", err)
	}

	engine, err := tts.NewEngine(strings.ToLower(cfg.TTSEngine), cfg.TTSEngineURL)
	if err != nil {
		return nil, fmt.Errorf("create tts engine: %w", err)
	}
	chain := tts.NewChain(engine, cfg.SoftTimeLimit(), logger)

	scratch, err := artifact.NewScratch(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("initialize scratch dir: %w", err)
	}
	mux := muxer.NewFFmpegMuxer("", scratch.Dir())

	ret := retention.NewService(jobs, artifacts, logger)
	sched, err := retention.NewScheduler(ret, cfg.CleanupSchedule, cfg.CleanupAge(), logger)
	if err != nil {
		return nil, err
	}

	return &Dependencies{
		Jobs:        jobs,
		Artifacts:   artifacts,
		Broker:      brk,
		Dispatcher:  pipeline.NewDispatcher(jobs, artifacts, rend, brk, cfg.BarrierDeadline(), logger),
		Synthesizer: pipeline.NewSynthesizer(jobs, artifacts, chain, logger),
		Assembler:   pipeline.NewAssembler(jobs, artifacts, brk, mux, scratch, cfg.BarrierDeadline(), logger),
		Canceller:   pipeline.NewCanceller(jobs, brk, logger),
		Retention:   ret,
		Scheduler:   sched,
	}, nil
}

// Close releases broker resources.
func (d *Dependencies) Close() error {
	return d.Broker.Close()
}
