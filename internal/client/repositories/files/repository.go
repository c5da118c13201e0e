// Package files persists synced media files. Rows hold the stored form of
// a file, which keeps the decrypted key and metadata alongside the wire
// fields so later passes never re-decrypt.
package files

import (
	"context"

	"github.com/avelt/photovault/internal/client/models"
)

// Repository describes storage operations for MediaFile records.
type Repository interface {
	// UpsertBatch applies a diff batch: tombstoned entries are removed,
	// live entries are inserted or replaced by id.
	UpsertBatch(ctx context.Context, fs []models.MediaFile) error

	// Get returns a single file by id, or common.ErrorNotFound.
	Get(ctx context.Context, id int64) (*models.MediaFile, error)

	// GetByCollection returns the live files of one collection.
	GetByCollection(ctx context.Context, collectionID int64) ([]models.MediaFile, error)

	// GetAll returns every stored file.
	GetAll(ctx context.Context) ([]models.MediaFile, error)

	// AllIDs returns the ids of every stored file in ascending order.
	AllIDs(ctx context.Context) ([]int64, error)

	// DeleteWhereCollectionNotIn removes files whose collection no longer
	// exists locally, keeping the file table consistent after collection
	// deletions.
	DeleteWhereCollectionNotIn(ctx context.Context, keep []int64) error

	// GetCollectionSyncTime returns the per-collection file watermark.
	GetCollectionSyncTime(ctx context.Context, collectionID int64) (int64, error)

	// SetCollectionSyncTime advances the per-collection file watermark.
	SetCollectionSyncTime(ctx context.Context, collectionID int64, t int64) error

	// DeleteCollectionSyncTime forgets the watermark of a removed collection.
	DeleteCollectionSyncTime(ctx context.Context, collectionID int64) error
}
