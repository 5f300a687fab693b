// Package ingest normalizes incoming messages from any source into
// canonical records: it validates them, assigns a stable identity,
// deduplicates against the store, and hands new records to the
// processing queue.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"datavault/backend/internal/database"
	apperrors "datavault/backend/internal/errors"
	"datavault/backend/internal/whatsapp"
)

// IncomingMessage is a source-shaped message before normalization.
type IncomingMessage struct {
	SourceType      string
	SourceChatID    string
	SourceMessageID string

	SenderName string
	SenderID   string
	Timestamp  time.Time

	Content     string
	MessageType string

	FilePath string
	FileType string
	FileSize int64
}

// ImportReport summarizes one export import run. Total counts every
// message the parser recovered, whatever its outcome.
type ImportReport struct {
	BatchID    string   `json:"batch_id"`
	Total      int      `json:"total"`
	Imported   int      `json:"imported"`
	Duplicates int      `json:"duplicates"`
	Failed     int      `json:"failed"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Enqueuer receives IDs of newly stored messages for background
// processing. Enqueue must not block; it reports whether the ID was
// accepted.
type Enqueuer interface {
	Enqueue(id uint) bool
}

// Normalizer validates, deduplicates, and stores incoming messages.
type Normalizer struct {
	store  database.Store
	parser *whatsapp.Parser
	queue  Enqueuer
	strict bool
	logger *slog.Logger
}

// NewNormalizer creates a Normalizer. When strict is true a duplicate
// identity is an error; otherwise the existing record is returned.
// Queue may be nil when no background processing is wanted.
func NewNormalizer(store database.Store, queue Enqueuer, strict bool, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		store:  store,
		parser: whatsapp.NewParser(logger),
		queue:  queue,
		strict: strict,
		logger: logger.With("component", "ingest"),
	}
}

// Identity derives the stable identity for a message. Sources that
// supply their own message ID get a readable source-scoped key; others
// get a digest over the fields that make a message distinct.
func Identity(sourceType, chatID, messageID, senderID string, ts time.Time, content string) string {
	if messageID != "" {
		return sourceType + "/" + chatID + "/" + messageID
	}

	h := sha256.New()
	for _, part := range []string{
		sourceType, chatID, senderID, ts.UTC().Format(time.RFC3339), content,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return sourceType + "/" + hex.EncodeToString(h.Sum(nil))
}

// Ingest stores one message. The returned bool is true when a new
// record was created, false when the identity already existed.
func (n *Normalizer) Ingest(ctx context.Context, in IncomingMessage) (*database.Message, bool, error) {
	if err := validate(in); err != nil {
		return nil, false, err
	}

	msg := normalize(in)

	existing, err := n.store.GetMessageByIdentity(ctx, msg.Identity)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check for duplicate: %w", err)
	}
	if existing != nil {
		if n.strict {
			return nil, false, fmt.Errorf("%w: %s", apperrors.ErrDuplicateIdentity, msg.Identity)
		}
		n.logger.DebugContext(ctx, "Duplicate message ignored",
			"identity", msg.Identity, "message_id", existing.ID)
		return existing, false, nil
	}

	if err := n.store.SaveMessage(ctx, msg); err != nil {
		// A concurrent insert of the same identity loses the race on the
		// unique index; resolve it as a duplicate rather than a failure.
		if raced, lookupErr := n.store.GetMessageByIdentity(ctx, msg.Identity); lookupErr == nil && raced != nil {
			if n.strict {
				return nil, false, fmt.Errorf("%w: %s", apperrors.ErrDuplicateIdentity, msg.Identity)
			}
			return raced, false, nil
		}
		return nil, false, fmt.Errorf("failed to store message: %w", err)
	}

	if n.queue != nil && !n.queue.Enqueue(msg.ID) {
		// The sweep job picks up anything the queue could not accept.
		n.logger.WarnContext(ctx, "Processing queue full, message left for sweep", "message_id", msg.ID)
	}

	return msg, true, nil
}

// ImportExport parses a WhatsApp export and ingests every message in
// it. Parse warnings and per-message failures are reported but do not
// abort the import.
func (n *Normalizer) ImportExport(ctx context.Context, chatID string, r io.Reader) (*ImportReport, error) {
	if chatID == "" {
		return nil, fmt.Errorf("%w: chat_id is required", apperrors.ErrValidation)
	}

	parsed, err := n.parser.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse export: %w", err)
	}

	report := &ImportReport{
		BatchID:  uuid.NewString(),
		Total:    len(parsed.Messages),
		Warnings: parsed.Warnings,
	}

	for _, pm := range parsed.Messages {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		_, created, err := n.Ingest(ctx, IncomingMessage{
			SourceType:   "whatsapp",
			SourceChatID: chatID,
			SenderName:   pm.SenderName,
			Timestamp:    pm.Timestamp,
			Content:      pm.Content,
			MessageType:  pm.MessageType,
		})
		switch {
		case err != nil:
			report.Failed++
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("message from %s at %s: %v", pm.SenderName, pm.Timestamp.Format(time.RFC3339), err))
		case created:
			report.Imported++
		default:
			report.Duplicates++
		}
	}

	n.logger.InfoContext(ctx, "Export import completed",
		"batch_id", report.BatchID, "chat_id", chatID,
		"imported", report.Imported, "duplicates", report.Duplicates,
		"failed", report.Failed, "warnings", len(report.Warnings))
	return report, nil
}

func validate(in IncomingMessage) error {
	if in.SourceType == "" {
		return fmt.Errorf("%w: source_type is required", apperrors.ErrValidation)
	}
	if in.SenderName == "" && in.SenderID == "" {
		return fmt.Errorf("%w: sender is required", apperrors.ErrValidation)
	}
	if in.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", apperrors.ErrValidation)
	}

	hasAttachment := in.FilePath != ""
	isMedia := in.MessageType != "" && in.MessageType != "text"
	if strings.TrimSpace(in.Content) == "" && !hasAttachment && !isMedia {
		return fmt.Errorf("%w: message has no content or attachment", apperrors.ErrValidation)
	}
	return nil
}

func normalize(in IncomingMessage) *database.Message {
	senderID := in.SenderID
	if senderID == "" {
		senderID = senderSlug(in.SenderName)
	}

	messageType := in.MessageType
	if messageType == "" {
		messageType = "text"
	}

	msg := &database.Message{
		SourceType:      in.SourceType,
		SourceChatID:    in.SourceChatID,
		SourceMessageID: in.SourceMessageID,
		Content:         in.Content,
		MessageType:     messageType,
		SenderName:      in.SenderName,
		SenderID:        senderID,
		Timestamp:       in.Timestamp.UTC(),
		FilePath:        in.FilePath,
		FileType:        in.FileType,
		FileSize:        in.FileSize,
	}
	msg.Identity = Identity(msg.SourceType, msg.SourceChatID, msg.SourceMessageID,
		msg.SenderID, msg.Timestamp, msg.Content)
	return msg
}

func senderSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(slug), "_")
}
