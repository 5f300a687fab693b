package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// ChromaStore is a Store backed by a Chroma server over HTTP.
// The collection is created with cosine distance on first use.
type ChromaStore struct {
	baseURL      string
	collectionID string
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewChromaStore connects to a Chroma server and ensures the named
// collection exists.
func NewChromaStore(ctx context.Context, baseURL, collection string, logger *slog.Logger) (*ChromaStore, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("chroma base URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &ChromaStore{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("component", "chroma_store"),
	}

	id, err := s.ensureCollection(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure chroma collection %q: %w", collection, err)
	}
	s.collectionID = id

	s.logger.Info("Chroma collection ready", "collection", collection, "collection_id", id)
	return s, nil
}

func (s *ChromaStore) ensureCollection(ctx context.Context, name string) (string, error) {
	body := map[string]any{
		"name":          name,
		"get_or_create": true,
		"metadata":      map[string]any{"hnsw:space": "cosine"},
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := s.post(ctx, "/api/v1/collections", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("chroma returned collection without ID")
	}
	return resp.ID, nil
}

// Upsert stores or replaces the vector for a message.
func (s *ChromaStore) Upsert(ctx context.Context, messageID uint, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("cannot store empty vector for message %d", messageID)
	}

	body := map[string]any{
		"ids":        []string{formatID(messageID)},
		"embeddings": [][]float32{vector},
	}
	path := fmt.Sprintf("/api/v1/collections/%s/upsert", s.collectionID)
	if err := s.post(ctx, path, body, nil); err != nil {
		return fmt.Errorf("chroma upsert failed for message %d: %w", messageID, err)
	}
	return nil
}

// Search returns up to limit matches ordered by descending similarity.
func (s *ChromaStore) Search(ctx context.Context, vector []float32, limit int) ([]Match, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("cannot search with empty vector")
	}
	if limit <= 0 {
		return nil, nil
	}

	body := map[string]any{
		"query_embeddings": [][]float32{vector},
		"n_results":        limit,
	}

	var resp struct {
		IDs       [][]string  `json:"ids"`
		Distances [][]float64 `json:"distances"`
	}
	path := fmt.Sprintf("/api/v1/collections/%s/query", s.collectionID)
	if err := s.post(ctx, path, body, &resp); err != nil {
		return nil, fmt.Errorf("chroma query failed: %w", err)
	}

	if len(resp.IDs) == 0 {
		return nil, nil
	}

	ids := resp.IDs[0]
	var distances []float64
	if len(resp.Distances) > 0 {
		distances = resp.Distances[0]
	}

	matches := make([]Match, 0, len(ids))
	for i, idStr := range ids {
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping non-numeric ID in chroma result", "id", idStr)
			continue
		}

		// Chroma reports cosine distance; score is 1 - distance.
		score := 0.0
		if i < len(distances) {
			score = 1 - distances[i]
		}
		matches = append(matches, Match{MessageID: uint(id), Score: score})
	}
	return matches, nil
}

// Delete removes the vector for a message.
func (s *ChromaStore) Delete(ctx context.Context, messageID uint) error {
	body := map[string]any{"ids": []string{formatID(messageID)}}
	path := fmt.Sprintf("/api/v1/collections/%s/delete", s.collectionID)
	if err := s.post(ctx, path, body, nil); err != nil {
		return fmt.Errorf("chroma delete failed for message %d: %w", messageID, err)
	}
	return nil
}

// Count returns the number of stored vectors.
func (s *ChromaStore) Count(ctx context.Context) (int, error) {
	path := fmt.Sprintf("%s/api/v1/collections/%s/count", s.baseURL, s.collectionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build chroma count request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("chroma count request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("chroma count returned status %d", resp.StatusCode)
	}

	var count int
	if err := json.NewDecoder(resp.Body).Decode(&count); err != nil {
		return 0, fmt.Errorf("failed to decode chroma count: %w", err)
	}
	return count, nil
}

func (s *ChromaStore) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chroma returned status %d: %s", resp.StatusCode, string(detail))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func formatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
