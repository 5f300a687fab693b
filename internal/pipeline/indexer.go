package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"datavault/backend/internal/ai"
	"datavault/backend/internal/database"
	apperrors "datavault/backend/internal/errors"
	"datavault/backend/internal/vector"
)

// Indexer embeds enriched messages and upserts the vectors into the
// vector store, keyed by message ID so re-indexing never duplicates
// entries.
type Indexer struct {
	store   database.Store
	client  ai.Client
	vectors vector.Store
	retry   RetryPolicy
	locks   *keyedMutex
	logger  *slog.Logger
}

// NewIndexer creates an Indexer.
func NewIndexer(store database.Store, client ai.Client, vectors vector.Store, retry RetryPolicy, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		store:   store,
		client:  client,
		vectors: vectors,
		retry:   retry,
		locks:   &keyedMutex{},
		logger:  logger.With("component", "indexer"),
	}
}

// Index embeds one message. Messages are only indexed after enrichment;
// an unenriched message is left for a later pass. Messages with nothing
// to embed are flagged skipped so the sweep does not revisit them while
// has_embedding keeps meaning a stored vector exists.
func (x *Indexer) Index(ctx context.Context, id uint) error {
	unlock := x.locks.lock(id)
	defer unlock()

	msg, err := x.store.GetMessage(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load message %d for indexing: %w", id, err)
	}
	if msg == nil {
		x.logger.WarnContext(ctx, "Message vanished before indexing", "message_id", id)
		return nil
	}
	if !msg.Processed {
		x.logger.DebugContext(ctx, "Message not yet enriched, deferring indexing", "message_id", id)
		return nil
	}
	if msg.HasEmbedding || msg.EmbeddingSkipped {
		x.logger.DebugContext(ctx, "Message already indexed, skipping", "message_id", id)
		return nil
	}

	text := msg.Content
	if text == "" {
		// Media messages carry no text; the summary stands in for them.
		text = msg.Summary
	}
	if text == "" {
		if markErr := x.store.MarkEmbeddingSkipped(ctx, id, "no embeddable text"); markErr != nil {
			return fmt.Errorf("failed to mark empty message %d skipped: %w", id, markErr)
		}
		x.logger.DebugContext(ctx, "Message has nothing to embed, skipped", "message_id", id)
		return nil
	}

	var embedding []float32
	err = x.retry.Do(ctx, func(ctx context.Context) error {
		var embedErr error
		embedding, embedErr = x.client.EmbedText(ctx, text)
		return embedErr
	})
	if err != nil {
		if apperrors.IsPermanent(err) {
			// Nothing a retry can fix; keep the record searchable by
			// filters and stop revisiting it.
			if markErr := x.store.MarkEmbeddingSkipped(ctx, id, err.Error()); markErr != nil {
				return fmt.Errorf("failed to mark unembeddable message %d skipped: %w", id, markErr)
			}
			x.logger.WarnContext(ctx, "Message cannot be embedded, flagged skipped",
				"message_id", id, "error", err)
			return nil
		}
		return fmt.Errorf("embedding exhausted retries for message %d: %w", id, err)
	}

	if err := x.vectors.Upsert(ctx, id, embedding); err != nil {
		return fmt.Errorf("failed to upsert vector for message %d: %w", id, err)
	}
	if err := x.store.MarkEmbedded(ctx, id); err != nil {
		return fmt.Errorf("failed to mark message %d indexed: %w", id, err)
	}

	x.logger.DebugContext(ctx, "Message indexed", "message_id", id, "dimensions", len(embedding))
	return nil
}
