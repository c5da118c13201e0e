// Package syncstate persists scalar sync watermarks keyed by table or
// namespace. Watermarks are monotonically non-decreasing and must be
// advanced in the same transaction as the batch they cover.
package syncstate

import "context"

// Well-known watermark keys.
const (
	KeyCollections = "collections"
	KeyTrash       = "trash"
	KeyEmbeddings  = "embeddings"
)

// EntityKeyFor returns the watermark key for a generic entity type.
func EntityKeyFor(entityType string) string {
	return "entity:" + entityType
}

// Repository reads and writes sync watermarks.
type Repository interface {
	// Get returns the stored watermark, or 0 when none was recorded yet.
	Get(ctx context.Context, key string) (int64, error)

	// Set stores the watermark. Callers must never move a watermark
	// backwards.
	Set(ctx context.Context, key string, value int64) error
}
