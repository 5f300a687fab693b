// Package telegram implements the Telegram ingestion bot: every text
// message it sees is archived through the normalizer, and a few
// commands expose archive statistics.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"datavault/backend/internal/database"
	"datavault/backend/internal/ingest"
)

const welcomeMessage = "Hi! I archive the messages I see in this chat. " +
	"Use /stats to see your activity summary."

// Ingestor stores messages coming from Telegram updates.
type Ingestor interface {
	Ingest(ctx context.Context, in ingest.IncomingMessage) (*database.Message, bool, error)
}

// Bot wraps the Telegram client and its handlers.
type Bot struct {
	tg       *tgbot.Bot
	ingestor Ingestor
	store    database.Store
	logger   *slog.Logger
}

// New creates the Telegram bot and registers its handlers.
func New(token string, ingestor Ingestor, store database.Store, logger *slog.Logger) (*Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bot{
		ingestor: ingestor,
		store:    store,
		logger:   logger.With("component", "telegram_bot"),
	}

	tg, err := tgbot.New(token, tgbot.WithDefaultHandler(b.handleMessage))
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	b.tg = tg

	tg.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, b.handleStart)
	tg.RegisterHandler(tgbot.HandlerTypeMessageText, "/stats", tgbot.MatchTypeExact, b.handleStats)

	return b, nil
}

// Run starts the update listener until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Telegram bot listener starting")
	b.tg.Start(ctx)
	b.logger.Info("Telegram bot listener stopped")
	return nil
}

func (b *Bot) handleStart(ctx context.Context, tg *tgbot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	if _, err := tg.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   welcomeMessage,
	}); err != nil {
		b.logger.ErrorContext(ctx, "Failed to send welcome message", "error", err)
	}
}

func (b *Bot) handleStats(ctx context.Context, tg *tgbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	senderID := strconv.FormatInt(update.Message.From.ID, 10)
	stats, err := b.store.GetSenderStats(ctx, senderID)
	if err != nil {
		b.logger.ErrorContext(ctx, "Failed to load sender stats", "sender_id", senderID, "error", err)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Messages archived: %d\n", stats.TotalMessages)
	fmt.Fprintf(&sb, "Last 7 days: %d\n", stats.RecentMessages)
	if len(stats.TopCategories) > 0 {
		fmt.Fprintf(&sb, "Top categories: %s\n", strings.Join(stats.TopCategories, ", "))
	}
	if !stats.LastActivity.IsZero() {
		fmt.Fprintf(&sb, "Last activity: %s", stats.LastActivity.Format("2006-01-02 15:04"))
	}

	if _, err := tg.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   sb.String(),
	}); err != nil {
		b.logger.ErrorContext(ctx, "Failed to send stats message", "error", err)
	}
}

func (b *Bot) handleMessage(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	content := msg.Text
	messageType := "text"
	switch {
	case len(msg.Photo) > 0:
		messageType = "image"
		content = msg.Caption
	case msg.Video != nil:
		messageType = "video"
		content = msg.Caption
	case msg.Voice != nil || msg.Audio != nil:
		messageType = "audio"
		content = msg.Caption
	case msg.Document != nil:
		messageType = "document"
		content = msg.Caption
	}

	if messageType == "text" && strings.TrimSpace(content) == "" {
		// Service updates and stickers carry nothing to archive.
		return
	}

	senderName := strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	if senderName == "" {
		senderName = msg.From.Username
	}

	_, created, err := b.ingestor.Ingest(ctx, ingest.IncomingMessage{
		SourceType:      "telegram",
		SourceChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		SourceMessageID: strconv.Itoa(msg.ID),
		SenderName:      senderName,
		SenderID:        strconv.FormatInt(msg.From.ID, 10),
		Timestamp:       time.Unix(int64(msg.Date), 0).UTC(),
		Content:         content,
		MessageType:     messageType,
	})
	if err != nil {
		b.logger.WarnContext(ctx, "Failed to archive telegram message",
			"chat_id", msg.Chat.ID, "message_id", msg.ID, "error", err)
		return
	}
	if created {
		b.logger.DebugContext(ctx, "Telegram message archived",
			"chat_id", msg.Chat.ID, "message_id", msg.ID, "type", messageType)
	}
}
