// Package embeddings persists decrypted server-synced embeddings keyed by
// (file, model).
package embeddings

import (
	"context"

	"github.com/avelt/photovault/internal/client/models"
)

// Repository describes storage operations for embedding records.
type Repository interface {
	// Upsert inserts or replaces an embedding by (file, model).
	Upsert(ctx context.Context, e models.Embedding) error

	// Delete removes one embedding.
	Delete(ctx context.Context, fileID int64, model string) error

	// GetByModel returns all decrypted embeddings of one model ordered by
	// file id.
	GetByModel(ctx context.Context, model string) ([]models.Embedding, error)

	// GetPending returns embeddings still awaiting decryption.
	GetPending(ctx context.Context) ([]models.Embedding, error)
}
