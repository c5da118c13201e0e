// Package collections persists synced collections. Records are stored in
// their wire form (encrypted names and keys); decryption happens in memory
// once per sync pass.
package collections

import (
	"context"

	"github.com/avelt/photovault/internal/client/models"
)

// Repository describes storage operations for Collection records.
type Repository interface {
	// UpsertBatch inserts or replaces collections by id.
	UpsertBatch(ctx context.Context, cols []models.Collection) error

	// Delete removes a collection record entirely (after the diff confirmed
	// its deletion).
	Delete(ctx context.Context, id int64) error

	// GetAll returns every stored collection, deleted ones excluded.
	GetAll(ctx context.Context) ([]models.Collection, error)
}
