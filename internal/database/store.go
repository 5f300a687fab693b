package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// MessageFilter describes the structured listing contract consumed by
// the dashboard. Zero values mean "no constraint".
type MessageFilter struct {
	Category     string
	MessageType  string
	SenderID     string
	SentimentMin *float64
	SentimentMax *float64
	DateFrom     *time.Time
	DateTo       *time.Time
	Search       string
	Limit        int
	Offset       int
}

// EnrichmentUpdate carries the AI-derived fields merged into a message
// when enrichment completes.
type EnrichmentUpdate struct {
	Categories []string
	Tags       []string
	Sentiment  float64
	Summary    string
}

// Store defines the interface for message record operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// SaveMessage inserts a new message record and fills in its ID.
	SaveMessage(ctx context.Context, message *Message) error

	// GetMessage retrieves a message by ID. Returns nil, nil if not found.
	GetMessage(ctx context.Context, id uint) (*Message, error)

	// GetMessageByIdentity retrieves a message by its stable identity.
	// Returns nil, nil if not found.
	GetMessageByIdentity(ctx context.Context, identity string) (*Message, error)

	// GetMessagesByIDs retrieves the given messages, in no particular order.
	GetMessagesByIDs(ctx context.Context, ids []uint) ([]*Message, error)

	// ListMessages retrieves messages matching the filter, ordered by
	// authored timestamp descending.
	ListMessages(ctx context.Context, filter MessageFilter) ([]*Message, error)

	// GetUnprocessedMessages retrieves messages awaiting enrichment,
	// oldest first.
	GetUnprocessedMessages(ctx context.Context, limit int) ([]*Message, error)

	// GetUnindexedMessages retrieves enriched messages that have no
	// embedding yet, oldest first.
	GetUnindexedMessages(ctx context.Context, limit int) ([]*Message, error)

	// MarkProcessed merges enrichment results into a message and flips
	// processed to true, clearing any recorded processing error.
	MarkProcessed(ctx context.Context, id uint, upd EnrichmentUpdate) error

	// MarkEnrichmentFailed records a processing error while leaving the
	// message unprocessed and eligible for retry.
	MarkEnrichmentFailed(ctx context.Context, id uint, cause string) error

	// MarkEmbedded flips has_embedding to true. Only call it after the
	// vector is stored.
	MarkEmbedded(ctx context.Context, id uint) error

	// MarkEmbeddingSkipped flags a message the indexer will never embed
	// (no text, or permanently rejected) and records the reason. Skipped
	// messages are excluded from the unindexed sweep.
	MarkEmbeddingSkipped(ctx context.Context, id uint, reason string) error

	// ResetEmbeddingFlags clears has_embedding on all messages so the
	// sweep re-indexes everything. Used when the vector backend starts
	// empty.
	ResetEmbeddingFlags(ctx context.Context) (int64, error)

	// GetSenderStats aggregates activity statistics for one sender.
	GetSenderStats(ctx context.Context, senderID string) (*SenderStats, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

const messageColumns = `id, identity, created_at, updated_at,
	source_type, source_chat_id, source_message_id,
	content, message_type, sender_name, sender_id, timestamp,
	categories, tags, sentiment, summary,
	file_path, file_type, file_size,
	processed, processing_error, has_embedding, embedding_skipped`

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveMessage inserts a new message record.
func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.Identity == "" {
		return fmt.Errorf("message must have a non-empty identity")
	}
	if message.Timestamp.IsZero() {
		return fmt.Errorf("message must have a non-zero timestamp")
	}

	now := time.Now().UTC()
	message.CreatedAt = now
	message.UpdatedAt = now

	query := `
        INSERT INTO messages (
            identity, created_at, updated_at,
            source_type, source_chat_id, source_message_id,
            content, message_type, sender_name, sender_id, timestamp,
            categories, tags, sentiment, summary,
            file_path, file_type, file_size,
            processed, processing_error, has_embedding
        ) VALUES (
            :identity, :created_at, :updated_at,
            :source_type, :source_chat_id, :source_message_id,
            :content, :message_type, :sender_name, :sender_id, :timestamp,
            :categories, :tags, :sentiment, :summary,
            :file_path, :file_type, :file_size,
            :processed, :processing_error, :has_embedding
        );
    `

	result, err := s.db.NamedExecContext(ctx, query, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message", "identity", message.Identity, "error", err)
		return fmt.Errorf("failed to save message %q: %w", message.Identity, err)
	}

	id, err := result.LastInsertId()
	if err == nil {
		//nolint:gosec // integer overflow conversion is acceptable here
		message.ID = uint(id)
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving message",
			"identity", message.Identity, "error", err)
	}

	s.logger.DebugContext(ctx, "Message saved successfully",
		"message_id", message.ID, "identity", message.Identity)
	return nil
}

// GetMessage retrieves a message by ID. Returns nil, nil if not found.
func (s *sqlxStore) GetMessage(ctx context.Context, id uint) (*Message, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var message Message
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`

	err := s.db.GetContext(ctx, &message, query, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No message found", "message_id", id)
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting message by ID", "message_id", id, "error", err)
		return nil, fmt.Errorf("failed to get message %d: %w", id, err)
	}

	return &message, nil
}

// GetMessageByIdentity retrieves a message by its stable identity.
func (s *sqlxStore) GetMessageByIdentity(ctx context.Context, identity string) (*Message, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var message Message
	query := `SELECT ` + messageColumns + ` FROM messages WHERE identity = ?`

	err := s.db.GetContext(ctx, &message, query, identity)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting message by identity", "identity", identity, "error", err)
		return nil, fmt.Errorf("failed to get message by identity %q: %w", identity, err)
	}

	return &message, nil
}

// GetMessagesByIDs retrieves the given messages, in no particular order.
func (s *sqlxStore) GetMessagesByIDs(ctx context.Context, ids []uint) ([]*Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT `+messageColumns+` FROM messages WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build query for message IDs: %w", err)
	}
	query = s.db.Rebind(query)

	var messages []*Message
	if err := s.db.SelectContext(ctx, &messages, query, args...); err != nil {
		s.logger.ErrorContext(ctx, "Error getting messages by IDs", "count", len(ids), "error", err)
		return nil, fmt.Errorf("failed to get messages by IDs: %w", err)
	}

	return messages, nil
}

// ListMessages retrieves messages matching the filter, ordered by
// authored timestamp descending. The authored timestamp, not ingestion
// time, is authoritative for chronological views: imported history
// predates ingestion.
func (s *sqlxStore) ListMessages(ctx context.Context, filter MessageFilter) ([]*Message, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	} else if limit > 1000 {
		limit = 1000
		s.logger.DebugContext(ctx, "Limit exceeded maximum value, capping", "capped_limit", limit)
	}

	var conds []string
	var args []any

	if filter.Category != "" {
		conds = append(conds, `(',' || categories || ',') LIKE ('%,' || ? || ',%')`)
		args = append(args, filter.Category)
	}
	if filter.MessageType != "" {
		conds = append(conds, `message_type = ?`)
		args = append(args, filter.MessageType)
	}
	if filter.SenderID != "" {
		conds = append(conds, `sender_id = ?`)
		args = append(args, filter.SenderID)
	}
	if filter.SentimentMin != nil {
		conds = append(conds, `sentiment >= ?`)
		args = append(args, *filter.SentimentMin)
	}
	if filter.SentimentMax != nil {
		conds = append(conds, `sentiment <= ?`)
		args = append(args, *filter.SentimentMax)
	}
	if filter.DateFrom != nil {
		conds = append(conds, `timestamp >= ?`)
		args = append(args, filter.DateFrom.UTC())
	}
	if filter.DateTo != nil {
		conds = append(conds, `timestamp <= ?`)
		args = append(args, filter.DateTo.UTC())
	}
	if filter.Search != "" {
		conds = append(conds, `content LIKE ('%' || ? || '%')`)
		args = append(args, filter.Search)
	}

	query := `SELECT ` + messageColumns + ` FROM messages`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	var messages []*Message
	err := s.db.SelectContext(ctx, &messages, query, args...)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "Context timeout or cancellation while listing messages", "error", err)
		return nil, err
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing messages", "error", err)
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	s.logger.DebugContext(ctx, "Listed messages successfully", "count", len(messages))
	return messages, nil
}

// GetUnprocessedMessages retrieves messages awaiting enrichment, oldest
// first so backlog is drained in authored order.
func (s *sqlxStore) GetUnprocessedMessages(ctx context.Context, limit int) ([]*Message, error) {
	return s.selectSweep(ctx, `processed = 0`, limit)
}

// GetUnindexedMessages retrieves enriched messages without embeddings,
// leaving out messages flagged as never embeddable.
func (s *sqlxStore) GetUnindexedMessages(ctx context.Context, limit int) ([]*Message, error) {
	return s.selectSweep(ctx, `processed = 1 AND has_embedding = 0 AND embedding_skipped = 0`, limit)
}

func (s *sqlxStore) selectSweep(ctx context.Context, cond string, limit int) ([]*Message, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if limit <= 0 {
		limit = 100
	}

	var messages []*Message
	query := `SELECT ` + messageColumns + ` FROM messages WHERE ` + cond + `
	          ORDER BY timestamp ASC LIMIT ?`

	if err := s.db.SelectContext(ctx, &messages, query, limit); err != nil {
		s.logger.ErrorContext(ctx, "Error getting sweep messages", "condition", cond, "error", err)
		return nil, fmt.Errorf("failed to get messages for sweep: %w", err)
	}

	return messages, nil
}

// MarkProcessed merges enrichment results into a message and flips
// processed to true.
func (s *sqlxStore) MarkProcessed(ctx context.Context, id uint, upd EnrichmentUpdate) error {
	query := `
        UPDATE messages SET
            categories = ?, tags = ?, sentiment = ?, summary = ?,
            processed = 1, processing_error = '', updated_at = ?
        WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		JoinList(upd.Categories), JoinList(upd.Tags), upd.Sentiment, upd.Summary,
		time.Now().UTC(), id)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error marking message processed", "message_id", id, "error", err)
		return fmt.Errorf("failed to mark message %d processed: %w", id, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected when marking processed",
			"message_id", id, "affected", affected)
	}

	s.logger.DebugContext(ctx, "Message marked processed", "message_id", id)
	return nil
}

// MarkEnrichmentFailed records a processing error while leaving the
// message unprocessed and eligible for retry.
func (s *sqlxStore) MarkEnrichmentFailed(ctx context.Context, id uint, cause string) error {
	query := `UPDATE messages SET processing_error = ?, updated_at = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, cause, time.Now().UTC(), id); err != nil {
		s.logger.ErrorContext(ctx, "Error recording enrichment failure", "message_id", id, "error", err)
		return fmt.Errorf("failed to record enrichment failure for message %d: %w", id, err)
	}
	return nil
}

// MarkEmbedded flips has_embedding to true.
func (s *sqlxStore) MarkEmbedded(ctx context.Context, id uint) error {
	query := `UPDATE messages SET has_embedding = 1, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error marking message embedded", "message_id", id, "error", err)
		return fmt.Errorf("failed to mark message %d embedded: %w", id, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected when marking embedded",
			"message_id", id, "affected", affected)
	}
	return nil
}

// MarkEmbeddingSkipped flags a message the indexer will never embed and
// records the reason.
func (s *sqlxStore) MarkEmbeddingSkipped(ctx context.Context, id uint, reason string) error {
	query := `UPDATE messages SET embedding_skipped = 1, processing_error = ?, updated_at = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, reason, time.Now().UTC(), id); err != nil {
		s.logger.ErrorContext(ctx, "Error marking embedding skipped", "message_id", id, "error", err)
		return fmt.Errorf("failed to mark embedding skipped for message %d: %w", id, err)
	}
	return nil
}

// ResetEmbeddingFlags clears has_embedding on all messages.
func (s *sqlxStore) ResetEmbeddingFlags(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET has_embedding = 0, updated_at = ? WHERE has_embedding = 1`,
		time.Now().UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error resetting embedding flags", "error", err)
		return 0, fmt.Errorf("failed to reset embedding flags: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	if affected > 0 {
		s.logger.InfoContext(ctx, "Embedding flags reset for re-indexing", "count", affected)
	}
	return affected, nil
}

// GetSenderStats aggregates activity statistics for one sender.
func (s *sqlxStore) GetSenderStats(ctx context.Context, senderID string) (*SenderStats, error) {
	if senderID == "" {
		return nil, fmt.Errorf("sender_id cannot be empty")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	stats := &SenderStats{}

	if err := s.db.GetContext(ctx, &stats.TotalMessages,
		`SELECT COUNT(*) FROM messages WHERE sender_id = ?`, senderID); err != nil {
		return nil, fmt.Errorf("failed to count messages for sender %q: %w", senderID, err)
	}

	weekAgo := time.Now().UTC().AddDate(0, 0, -7)
	if err := s.db.GetContext(ctx, &stats.RecentMessages,
		`SELECT COUNT(*) FROM messages WHERE sender_id = ? AND timestamp >= ?`,
		senderID, weekAgo); err != nil {
		return nil, fmt.Errorf("failed to count recent messages for sender %q: %w", senderID, err)
	}

	// Read the column directly instead of MAX(timestamp): the aggregate
	// loses the declared column type, so the driver returns a raw string.
	var lastActivity time.Time
	err := s.db.GetContext(ctx, &lastActivity,
		`SELECT timestamp FROM messages WHERE sender_id = ? ORDER BY timestamp DESC LIMIT 1`, senderID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Sender has no messages; LastActivity stays zero.
	case err != nil:
		return nil, fmt.Errorf("failed to get last activity for sender %q: %w", senderID, err)
	default:
		stats.LastActivity = lastActivity
	}

	var joined []string
	if err := s.db.SelectContext(ctx, &joined,
		`SELECT categories FROM messages WHERE sender_id = ? AND categories != ''`, senderID); err != nil {
		return nil, fmt.Errorf("failed to get categories for sender %q: %w", senderID, err)
	}
	stats.TopCategories = topCategories(joined, 5)

	return stats, nil
}

func topCategories(joined []string, limit int) []string {
	counts := make(map[string]int)
	for _, row := range joined {
		for _, cat := range splitList(row) {
			counts[cat]++
		}
	}
	if len(counts) == 0 {
		return nil
	}

	cats := make([]string, 0, len(counts))
	for cat := range counts {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool {
		if counts[cats[i]] != counts[cats[j]] {
			return counts[cats[i]] > counts[cats[j]]
		}
		return cats[i] < cats[j]
	})

	if len(cats) > limit {
		cats = cats[:limit]
	}
	return cats
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}
