// Package query implements retrieval-augmented question answering over
// the message archive: embed the question, retrieve the most similar
// messages, and generate an answer grounded in them.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"datavault/backend/internal/ai"
	"datavault/backend/internal/database"
	apperrors "datavault/backend/internal/errors"
	"datavault/backend/internal/pipeline"
	"datavault/backend/internal/vector"
)

const (
	defaultTopK     = 5
	maxTopK         = 20
	defaultBudget   = 4000
	noDataAnswer    = "I don't have any indexed messages to answer from yet. Import some messages first."
	degradedPreface = "I couldn't generate an answer right now. The most relevant messages I found are:"
)

// Result is the outcome of one query. SourceIDs lists exactly the
// messages whose content was included in the answer context, in
// relevance order. Degraded is set when retrieval worked but answer
// generation did not.
type Result struct {
	Answer    string `json:"answer"`
	SourceIDs []uint `json:"source_ids"`
	Degraded  bool   `json:"degraded,omitempty"`
}

// Engine answers questions over indexed messages.
type Engine struct {
	store        database.Store
	client       ai.Client
	vectors      vector.Store
	retry        pipeline.RetryPolicy
	contextChars int
	logger       *slog.Logger
}

// NewEngine creates a query engine. contextChars bounds the total
// context passed to answer generation; zero means the default budget.
func NewEngine(store database.Store, client ai.Client, vectors vector.Store, retry pipeline.RetryPolicy, contextChars int, logger *slog.Logger) *Engine {
	if contextChars <= 0 {
		contextChars = defaultBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:        store,
		client:       client,
		vectors:      vectors,
		retry:        retry,
		contextChars: contextChars,
		logger:       logger.With("component", "query_engine"),
	}
}

// Query answers a question from the archive. topK bounds retrieval;
// zero means the default. With nothing indexed the canned no-data
// answer is returned without calling the model.
func (e *Engine) Query(ctx context.Context, question string, topK int) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", apperrors.ErrValidation)
	}

	if topK <= 0 {
		topK = defaultTopK
	} else if topK > maxTopK {
		topK = maxTopK
	}

	count, err := e.vectors.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
	}
	if count == 0 {
		e.logger.DebugContext(ctx, "Query against empty index, returning canned answer")
		return &Result{Answer: noDataAnswer}, nil
	}

	var questionVec []float32
	err = e.retry.Do(ctx, func(ctx context.Context) error {
		var embedErr error
		questionVec, embedErr = e.client.EmbedText(ctx, question)
		return embedErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	matches, err := e.vectors.Search(ctx, questionVec, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
	}
	if len(matches) == 0 {
		return &Result{Answer: noDataAnswer}, nil
	}

	contextMsgs, sourceIDs, err := e.buildContext(ctx, matches)
	if err != nil {
		return nil, err
	}
	if len(contextMsgs) == 0 {
		return &Result{Answer: noDataAnswer}, nil
	}

	answer, err := e.client.GenerateAnswer(ctx, question, contextMsgs)
	if err != nil {
		e.logger.WarnContext(ctx, "Answer generation failed, returning degraded result", "error", err)
		return &Result{
			Answer:    degradedAnswer(contextMsgs),
			SourceIDs: sourceIDs,
			Degraded:  true,
		}, nil
	}

	e.logger.InfoContext(ctx, "Query answered",
		"sources", len(sourceIDs), "retrieved", len(matches))
	return &Result{Answer: answer, SourceIDs: sourceIDs}, nil
}

// buildContext loads the matched messages and assembles the generation
// context in relevance order, dropping the lowest-ranked matches once
// the character budget is reached. SourceIDs reflects only what was
// actually included.
func (e *Engine) buildContext(ctx context.Context, matches []vector.Match) ([]ai.ContextMessage, []uint, error) {
	ids := make([]uint, len(matches))
	for i, m := range matches {
		ids[i] = m.MessageID
	}

	msgs, err := e.store.GetMessagesByIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load matched messages: %w", err)
	}

	byID := make(map[uint]*database.Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}

	var contextMsgs []ai.ContextMessage
	var sourceIDs []uint
	used := 0

	for _, match := range matches {
		msg, ok := byID[match.MessageID]
		if !ok {
			// Vector store entry with no backing record; stale index.
			e.logger.WarnContext(ctx, "Match has no backing message, skipping",
				"message_id", match.MessageID)
			continue
		}

		text := msg.Content
		if text == "" {
			text = msg.Summary
		}
		if text == "" {
			continue
		}

		if used+len(text) > e.contextChars && len(contextMsgs) > 0 {
			break
		}
		text = truncateOnRuneBoundary(text, e.contextChars)

		contextMsgs = append(contextMsgs, ai.ContextMessage{
			Ref:       len(contextMsgs) + 1,
			Sender:    msg.SenderName,
			Timestamp: msg.Timestamp,
			Content:   text,
		})
		sourceIDs = append(sourceIDs, msg.ID)
		used += len(text)
	}

	return contextMsgs, sourceIDs, nil
}

func degradedAnswer(contextMsgs []ai.ContextMessage) string {
	var sb strings.Builder
	sb.WriteString(degradedPreface)
	for _, cm := range contextMsgs {
		fmt.Fprintf(&sb, "\n[%d] %s: %s", cm.Ref, cm.Sender, truncateOnRuneBoundary(cm.Content, 200))
	}
	return sb.String()
}

// truncateOnRuneBoundary cuts s to at most n bytes without splitting a
// UTF-8 sequence.
func truncateOnRuneBoundary(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
