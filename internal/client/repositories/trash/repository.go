// Package trash persists the local trash view plus the side record of
// collections confirmed deleted by trash diffs.
package trash

import (
	"context"

	"github.com/avelt/photovault/internal/client/models"
)

// Repository describes storage operations for trash items.
type Repository interface {
	// Upsert inserts or replaces a trash entry by file id.
	Upsert(ctx context.Context, item models.TrashItem) error

	// Delete removes a trash entry, used when an item is permanently
	// deleted or restored.
	Delete(ctx context.Context, fileID int64) error

	// GetAll returns every trashed item.
	GetAll(ctx context.Context) ([]models.TrashItem, error)

	// UpsertDeletedCollection caches a fully deleted collection so trashed
	// files keep access to their decryption keys.
	UpsertDeletedCollection(ctx context.Context, col models.Collection) error

	// GetDeletedCollections returns the cached deleted collections.
	GetDeletedCollections(ctx context.Context) ([]models.Collection, error)

	// PruneDeletedCollectionsExcept drops cached deleted collections no
	// trashed item references anymore.
	PruneDeletedCollectionsExcept(ctx context.Context, referenced []int64) error
}
