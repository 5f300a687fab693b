// Package api exposes the HTTP interface: message ingestion, WhatsApp
// export import, structured listing, natural language querying, and
// sender statistics.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"datavault/backend/internal/database"
	"datavault/backend/internal/ingest"
	"datavault/backend/internal/query"
)

// Ingestor is the ingestion surface used by the handlers.
type Ingestor interface {
	Ingest(ctx context.Context, in ingest.IncomingMessage) (*database.Message, bool, error)
	ImportExport(ctx context.Context, chatID string, r io.Reader) (*ingest.ImportReport, error)
}

// QueryService answers natural language questions over the archive.
type QueryService interface {
	Query(ctx context.Context, question string, topK int) (*query.Result, error)
}

// Server is the HTTP API server.
type Server struct {
	router   *gin.Engine
	store    database.Store
	ingestor Ingestor
	querier  QueryService
	logger   *slog.Logger
}

// NewServer creates the API server and registers all routes.
func NewServer(store database.Store, ingestor Ingestor, querier QueryService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		router:   router,
		store:    store,
		ingestor: ingestor,
		querier:  querier,
		logger:   logger.With("component", "api"),
	}

	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", s.handleHealth)

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/messages", s.handleIngestMessage)
		apiGroup.GET("/messages", s.handleListMessages)
		apiGroup.GET("/messages/:id", s.handleGetMessage)
		apiGroup.POST("/messages/query", s.handleQuery)
		apiGroup.POST("/whatsapp/import", s.handleImport)
		apiGroup.GET("/stats/:sender_id", s.handleSenderStats)
	}

	return s
}

// Router returns the configured HTTP handler.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info("HTTP server stopped")
		return nil
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.DebugContext(c.Request.Context(), "Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
