package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"datavault/backend/internal/database"
	apperrors "datavault/backend/internal/errors"
	"datavault/backend/internal/ingest"
)

type ingestRequest struct {
	SourceType      string    `json:"source_type"`
	SourceChatID    string    `json:"source_chat_id"`
	SourceMessageID string    `json:"source_message_id"`
	SenderName      string    `json:"sender_name"`
	SenderID        string    `json:"sender_id"`
	Timestamp       time.Time `json:"timestamp"`
	Content         string    `json:"content"`
	MessageType     string    `json:"message_type"`
	FilePath        string    `json:"file_path"`
	FileType        string    `json:"file_type"`
	FileSize        int64     `json:"file_size"`
}

type messageResponse struct {
	ID              uint      `json:"id"`
	Identity        string    `json:"identity"`
	SourceType      string    `json:"source_type"`
	SourceChatID    string    `json:"source_chat_id,omitempty"`
	SourceMessageID string    `json:"source_message_id,omitempty"`
	Content         string    `json:"content"`
	MessageType     string    `json:"message_type"`
	SenderName      string    `json:"sender_name"`
	SenderID        string    `json:"sender_id"`
	Timestamp       time.Time `json:"timestamp"`
	Categories      []string  `json:"categories"`
	Tags            []string  `json:"tags"`
	Sentiment       float64   `json:"sentiment"`
	Summary         string    `json:"summary"`
	Processed       bool      `json:"processed"`
	HasEmbedding    bool      `json:"has_embedding"`
}

type queryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

func toResponse(m *database.Message) messageResponse {
	return messageResponse{
		ID:              m.ID,
		Identity:        m.Identity,
		SourceType:      m.SourceType,
		SourceChatID:    m.SourceChatID,
		SourceMessageID: m.SourceMessageID,
		Content:         m.Content,
		MessageType:     m.MessageType,
		SenderName:      m.SenderName,
		SenderID:        m.SenderID,
		Timestamp:       m.Timestamp,
		Categories:      m.CategoryList(),
		Tags:            m.TagList(),
		Sentiment:       m.Sentiment,
		Summary:         m.Summary,
		Processed:       m.Processed,
		HasEmbedding:    m.HasEmbedding,
	}
}

func (s *Server) handleIngestMessage(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	msg, created, err := s.ingestor.Ingest(c.Request.Context(), ingest.IncomingMessage{
		SourceType:      req.SourceType,
		SourceChatID:    req.SourceChatID,
		SourceMessageID: req.SourceMessageID,
		SenderName:      req.SenderName,
		SenderID:        req.SenderID,
		Timestamp:       req.Timestamp,
		Content:         req.Content,
		MessageType:     req.MessageType,
		FilePath:        req.FilePath,
		FileType:        req.FileType,
		FileSize:        req.FileSize,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"message": toResponse(msg), "created": created})
}

func (s *Server) handleImport(c *gin.Context) {
	chatID := c.Query("chat_id")
	if chatID == "" {
		chatID = c.PostForm("chat_id")
	}

	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart file field 'file' is required"})
		return
	}
	defer func() { _ = file.Close() }()

	report, err := s.ingestor.ImportExport(c.Request.Context(), chatID, file)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleListMessages(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msgs, err := s.store.ListMessages(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toResponse(m))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out, "count": len(out)})
}

func (s *Server) handleGetMessage(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message id must be numeric"})
		return
	}

	msg, err := s.store.GetMessage(c.Request.Context(), uint(id))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if msg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	c.JSON(http.StatusOK, toResponse(msg))
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	result, err := s.querier.Query(c.Request.Context(), req.Question, req.TopK)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSenderStats(c *gin.Context) {
	stats, err := s.store.GetSenderStats(c.Request.Context(), c.Param("sender_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_messages":  stats.TotalMessages,
		"recent_messages": stats.RecentMessages,
		"top_categories":  stats.TopCategories,
		"last_activity":   stats.LastActivity,
	})
}

func parseFilter(c *gin.Context) (database.MessageFilter, error) {
	filter := database.MessageFilter{
		Category:    c.Query("category"),
		MessageType: c.Query("type"),
		SenderID:    c.Query("sender_id"),
		Search:      c.Query("search"),
	}

	if v := c.Query("sentiment_min"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return filter, errors.New("sentiment_min must be a number")
		}
		filter.SentimentMin = &f
	}
	if v := c.Query("sentiment_max"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return filter, errors.New("sentiment_max must be a number")
		}
		filter.SentimentMax = &f
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("from must be an RFC 3339 timestamp")
		}
		filter.DateFrom = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("to must be an RFC 3339 timestamp")
		}
		filter.DateTo = &t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, errors.New("limit must be an integer")
		}
		filter.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, errors.New("offset must be an integer")
		}
		filter.Offset = n
	}

	return filter, nil
}

func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrDuplicateIdentity):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.logger.ErrorContext(c.Request.Context(), "Request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
