// Package entities persists generic user entities (location tags and
// similar) plus the per-type entity keys used to decrypt them.
package entities

import (
	"context"

	"github.com/avelt/photovault/internal/client/models"
)

// Repository describes storage operations for entity records.
type Repository interface {
	// UpsertKey stores the per-type entity key in its wire (encrypted) form.
	UpsertKey(ctx context.Context, key models.EntityKey) error

	// GetKey returns the stored key for a type, or common.ErrorNotFound.
	GetKey(ctx context.Context, entityType models.EntityType) (*models.EntityKey, error)

	// UpsertBatch applies a diff batch: deleted records are removed, live
	// ones replaced by id.
	UpsertBatch(ctx context.Context, recs []models.EntityRecord) error

	// GetByType returns every live record of one type.
	GetByType(ctx context.Context, entityType models.EntityType) ([]models.EntityRecord, error)
}
