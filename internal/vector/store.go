// Package vector provides embedding storage and similarity search.
// Two backends exist: a Chroma HTTP backend for persistent deployments
// and an in-memory backend for development and tests.
package vector

import "context"

// Match is one similarity search hit. Score is cosine similarity in
// [-1, 1], higher is more similar.
type Match struct {
	MessageID uint
	Score     float64
}

// Store defines embedding storage keyed by message ID. Upserting an
// existing ID replaces its vector, so re-indexing a message never
// creates a second entry.
type Store interface {
	// Upsert stores or replaces the vector for a message.
	Upsert(ctx context.Context, messageID uint, vector []float32) error

	// Search returns up to limit matches ordered by descending score.
	Search(ctx context.Context, vector []float32, limit int) ([]Match, error)

	// Delete removes the vector for a message. Deleting an absent ID is
	// not an error.
	Delete(ctx context.Context, messageID uint) error

	// Count returns the number of stored vectors.
	Count(ctx context.Context) (int, error)
}
