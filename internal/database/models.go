package database

import (
	"strings"
	"time"
)

// Message is the canonical ingested communication unit. It stores the
// source triple used for deduplication, the message content, and the
// AI-derived enrichment metadata attached by the pipeline.
type Message struct {
	ID        uint      `db:"id"`
	Identity  string    `db:"identity"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	SourceType      string `db:"source_type"`
	SourceChatID    string `db:"source_chat_id"`
	SourceMessageID string `db:"source_message_id"`

	Content     string `db:"content"`
	MessageType string `db:"message_type"`

	SenderName string    `db:"sender_name"`
	SenderID   string    `db:"sender_id"`
	Timestamp  time.Time `db:"timestamp"`

	// Enrichment fields. Categories and tags are stored comma-joined.
	Categories string  `db:"categories"`
	Tags       string  `db:"tags"`
	Sentiment  float64 `db:"sentiment"`
	Summary    string  `db:"summary"`

	// Attachment reference for media messages.
	FilePath string `db:"file_path"`
	FileType string `db:"file_type"`
	FileSize int64  `db:"file_size"`

	Processed       bool   `db:"processed"`
	ProcessingError string `db:"processing_error"`

	// HasEmbedding means a vector for this message exists in the vector
	// store. Messages that cannot be embedded at all are flagged skipped
	// instead so the sweep leaves them alone.
	HasEmbedding     bool `db:"has_embedding"`
	EmbeddingSkipped bool `db:"embedding_skipped"`
}

// CategoryList splits the comma-joined categories column. An empty
// column means uncategorized and yields nil.
func (m *Message) CategoryList() []string {
	return splitList(m.Categories)
}

// TagList splits the comma-joined tags column.
func (m *Message) TagList() []string {
	return splitList(m.Tags)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinList is the inverse of CategoryList/TagList, used when persisting
// enrichment results.
func JoinList(items []string) string {
	return strings.Join(items, ",")
}

// SenderStats summarizes a single sender's activity.
type SenderStats struct {
	TotalMessages  int
	RecentMessages int
	TopCategories  []string
	LastActivity   time.Time
}
