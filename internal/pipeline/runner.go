package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"datavault/backend/internal/database"
)

// Runner ties the queue to the enrichment and indexing workers. Each
// dequeued message is enriched first and indexed right after, so a
// vector never exists for an unenriched message.
type Runner struct {
	queue    *Queue
	enricher *Enricher
	indexer  *Indexer
	store    database.Store
	workers  int
	logger   *slog.Logger
}

// NewRunner creates a Runner draining the given queue.
func NewRunner(queue *Queue, enricher *Enricher, indexer *Indexer, store database.Store, workers int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		queue:    queue,
		enricher: enricher,
		indexer:  indexer,
		store:    store,
		workers:  workers,
		logger:   logger.With("component", "runner"),
	}
}

// Run processes queued messages until ctx ends.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Pipeline workers starting", "workers", r.workers)

	err := r.queue.Run(ctx, r.workers, r.handle)
	if errors.Is(err, context.Canceled) {
		r.logger.Info("Pipeline workers stopped")
		return nil
	}
	return err
}

func (r *Runner) handle(ctx context.Context, id uint) error {
	if err := r.enricher.Process(ctx, id); err != nil {
		return err
	}
	return r.indexer.Index(ctx, id)
}

// Sweep enqueues messages the queue missed: unprocessed messages and
// enriched messages without embeddings. It is run periodically by the
// scheduler and once at startup, which also rebuilds a volatile vector
// store.
func (r *Runner) Sweep(ctx context.Context, batchSize int) error {
	unprocessed, err := r.store.GetUnprocessedMessages(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("sweep failed to list unprocessed messages: %w", err)
	}
	unindexed, err := r.store.GetUnindexedMessages(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("sweep failed to list unindexed messages: %w", err)
	}

	queued := 0
	for _, msg := range unprocessed {
		if r.queue.Enqueue(msg.ID) {
			queued++
		}
	}
	for _, msg := range unindexed {
		if r.queue.Enqueue(msg.ID) {
			queued++
		}
	}

	if queued > 0 || len(unprocessed) > 0 || len(unindexed) > 0 {
		r.logger.InfoContext(ctx, "Sweep completed",
			"unprocessed", len(unprocessed), "unindexed", len(unindexed), "queued", queued)
	}
	return nil
}
