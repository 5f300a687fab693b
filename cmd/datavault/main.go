// Package main contains the entrypoint for the DataVault message
// intelligence service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"datavault/backend/internal/ai"
	"datavault/backend/internal/api"
	"datavault/backend/internal/config"
	"datavault/backend/internal/database"
	"datavault/backend/internal/ingest"
	"datavault/backend/internal/logger"
	"datavault/backend/internal/pipeline"
	"datavault/backend/internal/query"
	"datavault/backend/internal/scheduler"
	"datavault/backend/internal/telegram"
	"datavault/backend/internal/vector"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all components, starts them, handles graceful
// shutdown, and returns an exit code.
func run(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.Format)
	log.Info("Logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	aiClient, err := ai.NewClient(ctx, cfg.AI, log)
	if err != nil {
		log.Error("Failed to initialize AI client", "error", err)
		return 1
	}

	var vectors vector.Store
	switch cfg.Vector.Backend {
	case "chroma":
		chroma, err := vector.NewChromaStore(ctx, cfg.Vector.ChromaURL, cfg.Vector.Collection, log)
		if err != nil {
			log.Error("Failed to connect to chroma", "url", cfg.Vector.ChromaURL, "error", err)
			return 1
		}
		vectors = chroma
	default:
		log.Warn("Using in-memory vector store; the index is rebuilt on startup")
		vectors = vector.NewMemoryStore()
		// The vector store starts empty, so every enriched message needs
		// re-indexing by the sweep.
		if _, err := store.ResetEmbeddingFlags(ctx); err != nil {
			log.Error("Failed to reset embedding flags", "error", err)
			return 1
		}
	}

	retry := pipeline.RetryPolicy{
		MaxAttempts:     cfg.Pipeline.MaxAttempts,
		InitialInterval: cfg.Pipeline.InitialBackoff,
		MaxInterval:     cfg.Pipeline.MaxBackoff,
		Multiplier:      2.0,
		RandomFactor:    0.2,
	}

	queue := pipeline.NewQueue(cfg.Pipeline.QueueSize, log)
	enricher := pipeline.NewEnricher(store, aiClient, retry, log)
	indexer := pipeline.NewIndexer(store, aiClient, vectors, retry, log)
	runner := pipeline.NewRunner(queue, enricher, indexer, store, cfg.Pipeline.Workers, log)

	normalizer := ingest.NewNormalizer(store, queue, cfg.Server.StrictImport, log)
	engine := query.NewEngine(store, aiClient, vectors, retry, cfg.Query.ContextChars, log)
	server := api.NewServer(store, normalizer, engine, log)

	sched, err := scheduler.New(log)
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}
	if err := sched.AddInterval("pipeline_sweep", cfg.Scheduler.SweepInterval, 10*time.Minute, func(ctx context.Context) error {
		return runner.Sweep(ctx, cfg.Scheduler.SweepBatchSize)
	}); err != nil {
		log.Error("Failed to schedule sweep job", "error", err)
		return 1
	}
	if err := sched.AddDaily("sql_maintenance", cfg.Scheduler.MaintenanceAt, 30*time.Minute, store.RunSQLMaintenance); err != nil {
		log.Error("Failed to schedule maintenance job", "error", err)
		return 1
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runner.Run(gCtx)
	})

	g.Go(func() error {
		return server.Run(gCtx, cfg.Server.ListenAddr)
	})

	g.Go(func() error {
		sched.Start()
		<-gCtx.Done()
		return sched.Stop()
	})

	if cfg.Telegram.Enabled {
		tg, err := telegram.New(cfg.Telegram.Token, normalizer, store, log)
		if err != nil {
			log.Error("Failed to create Telegram bot", "error", err)
			return 1
		}
		g.Go(func() error {
			return tg.Run(gCtx)
		})
	}

	// Initial sweep enqueues any backlog and, with the in-memory vector
	// backend, rebuilds the index from enriched records.
	g.Go(func() error {
		if err := runner.Sweep(gCtx, cfg.Scheduler.SweepBatchSize); err != nil {
			log.Warn("Startup sweep failed", "error", err)
		}
		return nil
	})

	log.Info("DataVault running", "addr", cfg.Server.ListenAddr, "vector_backend", cfg.Vector.Backend)
	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Service stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Service stopped gracefully.")
	return 0
}
