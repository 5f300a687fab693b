package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"datavault/backend/internal/ai"
	"datavault/backend/internal/database"
	apperrors "datavault/backend/internal/errors"
)

// Enricher runs AI analysis over stored messages and merges the results
// back into the record store. Processing is idempotent per message and
// serialized per ID.
type Enricher struct {
	store  database.Store
	client ai.Client
	retry  RetryPolicy
	locks  *keyedMutex
	logger *slog.Logger
}

// NewEnricher creates an Enricher.
func NewEnricher(store database.Store, client ai.Client, retry RetryPolicy, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		store:  store,
		client: client,
		retry:  retry,
		locks:  &keyedMutex{},
		logger: logger.With("component", "enricher"),
	}
}

// Process enriches one message. Transient failures are retried with
// backoff; when retries are exhausted the message stays unprocessed
// with the failure recorded, so the sweep picks it up later. Permanent
// failures mark the message processed with fallback metadata so it is
// never retried.
func (e *Enricher) Process(ctx context.Context, id uint) error {
	unlock := e.locks.lock(id)
	defer unlock()

	msg, err := e.store.GetMessage(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load message %d for enrichment: %w", id, err)
	}
	if msg == nil {
		e.logger.WarnContext(ctx, "Message vanished before enrichment", "message_id", id)
		return nil
	}
	if msg.Processed {
		e.logger.DebugContext(ctx, "Message already enriched, skipping", "message_id", id)
		return nil
	}

	var result *ai.EnrichmentResult
	err = e.retry.Do(ctx, func(ctx context.Context) error {
		var analyzeErr error
		result, analyzeErr = e.client.AnalyzeMessage(ctx, msg)
		return analyzeErr
	})

	switch {
	case err == nil:
		if markErr := e.store.MarkProcessed(ctx, id, EnrichmentUpdate(result)); markErr != nil {
			return fmt.Errorf("failed to persist enrichment for message %d: %w", id, markErr)
		}
		e.logger.InfoContext(ctx, "Message enriched",
			"message_id", id, "categories", result.Categories, "sentiment", result.Sentiment)
		return nil

	case apperrors.IsPermanent(err):
		// Fallback metadata: no categories, neutral sentiment, summary
		// from the content prefix. The cause stays on the record.
		fallback := &ai.EnrichmentResult{}
		fallback.Normalize(msg.Content, nil)
		if markErr := e.store.MarkProcessed(ctx, id, EnrichmentUpdate(fallback)); markErr != nil {
			return fmt.Errorf("failed to persist fallback enrichment for message %d: %w", id, markErr)
		}
		if markErr := e.store.MarkEnrichmentFailed(ctx, id, err.Error()); markErr != nil {
			return fmt.Errorf("failed to record permanent failure for message %d: %w", id, markErr)
		}
		e.logger.WarnContext(ctx, "Message enrichment failed permanently, stored fallback metadata",
			"message_id", id, "error", err)
		return nil

	default:
		if markErr := e.store.MarkEnrichmentFailed(ctx, id, err.Error()); markErr != nil {
			e.logger.ErrorContext(ctx, "Failed to record enrichment failure",
				"message_id", id, "error", markErr)
		}
		return fmt.Errorf("enrichment exhausted retries for message %d: %w", id, err)
	}
}

// EnrichmentUpdate converts an analysis result into the store's update
// shape.
func EnrichmentUpdate(r *ai.EnrichmentResult) database.EnrichmentUpdate {
	return database.EnrichmentUpdate{
		Categories: r.Categories,
		Tags:       r.Tags,
		Sentiment:  r.Sentiment,
		Summary:    r.Summary,
	}
}
