// Package ai implements integration with Google's Gemini AI API for
// message enrichment, text embedding, and grounded answer generation.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"datavault/backend/internal/config"
	"datavault/backend/internal/database"
	apperrors "datavault/backend/internal/errors"
)

// ContextMessage is one retrieved message handed to answer generation.
// Ref is the 1-based position used for grounding references.
type ContextMessage struct {
	Ref       int
	Sender    string
	Timestamp time.Time
	Content   string
}

// Client defines the AI operations used by the processing pipeline and
// the query engine. Errors are classified: retriable failures unwrap to
// a transient error, everything else to a permanent one.
type Client interface {
	// AnalyzeMessage produces categories, tags, sentiment, and a summary
	// for one message. The result is already normalized.
	AnalyzeMessage(ctx context.Context, msg *database.Message) (*EnrichmentResult, error)

	// EmbedText returns the embedding vector for the given text.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// GenerateAnswer answers a question grounded in the given context
	// messages.
	GenerateAnswer(ctx context.Context, question string, contextMsgs []ContextMessage) (string, error)
}

type sdkClient struct {
	genaiClient    *genai.Client
	log            *slog.Logger
	contentConfig  *genai.GenerateContentConfig
	modelName      string
	embeddingModel string
	categories     []string
}

// NewClient creates a new Gemini AI client with the provided
// configuration.
func NewClient(ctx context.Context, cfg config.AIConfig, log *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	baseCfg := &genai.GenerateContentConfig{
		Temperature: &cfg.Temperature,
	}

	categories := cfg.Categories
	if len(categories) == 0 {
		categories = DefaultCategories
	}

	logger := log.With("component", "ai_client")
	logger.Info("Gemini client initialized successfully",
		"model", cfg.ModelName, "embedding_model", cfg.EmbeddingModelName)
	return &sdkClient{
		genaiClient:    gi,
		log:            logger,
		contentConfig:  baseCfg,
		modelName:      cfg.ModelName,
		embeddingModel: cfg.EmbeddingModelName,
		categories:     categories,
	}, nil
}

var enrichmentSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"categories": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: "Categories from the fixed taxonomy that apply to the message."},
		"tags":       {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Description: "Short lowercase topic tags extracted from the message."},
		"sentiment":  {Type: genai.TypeNumber, Description: "Overall sentiment from -1.0 (very negative) to 1.0 (very positive)."},
		"summary":    {Type: genai.TypeString, Description: "One-sentence summary of the message."},
	},
	Required: []string{"categories", "tags", "sentiment", "summary"},
}

func (c *sdkClient) AnalyzeMessage(ctx context.Context, msg *database.Message) (*EnrichmentResult, error) {
	c.log.DebugContext(ctx, "Analyzing message", "message_id", msg.ID)

	text := msg.Content
	if text == "" {
		// Media messages without a caption still get typed metadata.
		text = fmt.Sprintf("(%s message without text)", msg.MessageType)
	}

	contents := []*genai.Content{genai.NewContentFromText(formatMessageForAI(msg, text), genai.RoleUser)}

	copyCfg := *c.contentConfig
	copyCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{
		{Text: fmt.Sprintf(EnrichmentSystemInstruction, strings.Join(c.categories, ", "))},
	}}
	copyCfg.ResponseMIMEType = "application/json"
	copyCfg.ResponseSchema = enrichmentSchema

	resp, err := c.genaiClient.Models.GenerateContent(ctx, c.modelName, contents, &copyCfg)
	if err != nil {
		c.log.WarnContext(ctx, "Gemini analysis call failed", "message_id", msg.ID, "error", err)
		return nil, classifyError(fmt.Errorf("gemini analysis failed: %w", err))
	}

	jsonText, err := c.extractTextFromResponse(ctx, resp, "analysis")
	if err != nil {
		return nil, err
	}

	var result EnrichmentResult
	if err := json.Unmarshal([]byte(jsonText), &result); err != nil {
		c.log.WarnContext(ctx, "Failed to parse analysis JSON from Gemini response",
			"message_id", msg.ID, "error", err, "response_text", jsonText)
		return nil, apperrors.Transient(fmt.Errorf("invalid analysis JSON received: %w", err))
	}

	result.Normalize(msg.Content, c.categories)
	return &result, nil
}

func (c *sdkClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.Permanent(fmt.Errorf("cannot embed empty text"))
	}

	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}

	resp, err := c.genaiClient.Models.EmbedContent(ctx, c.embeddingModel, contents, &genai.EmbedContentConfig{})
	if err != nil {
		c.log.WarnContext(ctx, "Gemini embedding call failed", "error", err)
		return nil, classifyError(fmt.Errorf("gemini embedding failed: %w", err))
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, apperrors.Transient(fmt.Errorf("gemini returned empty embedding"))
	}
	return resp.Embeddings[0].Values, nil
}

func (c *sdkClient) GenerateAnswer(ctx context.Context, question string, contextMsgs []ContextMessage) (string, error) {
	c.log.DebugContext(ctx, "Generating answer", "context_count", len(contextMsgs))

	var sb strings.Builder
	sb.WriteString("Context messages:\n")
	for _, cm := range contextMsgs {
		fmt.Fprintf(&sb, "[%d] (%s, %s) %s\n",
			cm.Ref, cm.Sender, cm.Timestamp.Format("2006-01-02 15:04"), cm.Content)
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)

	contents := []*genai.Content{genai.NewContentFromText(sb.String(), genai.RoleUser)}

	copyCfg := *c.contentConfig
	copyCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: AnswerSystemInstruction}}}

	resp, err := c.genaiClient.Models.GenerateContent(ctx, c.modelName, contents, &copyCfg)
	if err != nil {
		c.log.WarnContext(ctx, "Gemini answer call failed", "error", err)
		return "", classifyError(fmt.Errorf("gemini answer generation failed: %w", err))
	}

	return c.extractTextFromResponse(ctx, resp, "answer")
}

func formatMessageForAI(m *database.Message, text string) string {
	return fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format("2006-01-02 15:04:05"), m.SenderName, text)
}

func (c *sdkClient) extractTextFromResponse(ctx context.Context, resp *genai.GenerateContentResponse, op string) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reasonMsg := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reasonMsg = resp.PromptFeedback.BlockReasonMessage
		}
		c.log.ErrorContext(ctx, "Gemini request blocked", "operation", op, "reason", reasonMsg)
		return "", apperrors.Permanent(fmt.Errorf("%s blocked by safety filter: %s", op, reasonMsg))
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = fmt.Sprintf("%v", resp.Candidates[0].FinishReason)
		}
		c.log.WarnContext(ctx, "Gemini response missing candidates or content",
			"operation", op, "finish_reason", finishReason)
		return "", apperrors.Transient(fmt.Errorf("%s returned no content, finish reason: %s", op, finishReason))
	}

	text := resp.Text()
	if text == "" {
		return "", apperrors.Transient(fmt.Errorf("%s returned empty text", op))
	}
	return text, nil
}

// classifyError maps API failures onto the retry taxonomy. Rate limits
// and server errors are worth retrying; other API errors (bad request,
// auth, quota exhaustion semantics aside) are not. Transport errors
// without an APIError are assumed retriable.
func classifyError(err error) error {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429, 500, 502, 503, 504:
			return apperrors.Transient(err)
		}
		return apperrors.Permanent(err)
	}
	return apperrors.Transient(err)
}
