// Package mlindex persists per-file ML pipeline results, the People/Things
// clusters built from them, and the namespace counters gating cluster
// recomputation.
package mlindex

import (
	"context"

	"github.com/avelt/photovault/internal/client/models"
)

// FaceWithFile pairs a face that carries an embedding with the hidden flag
// of its file, so clustering can exclude hidden files cheaply.
type FaceWithFile struct {
	Face   models.Face
	Hidden bool
}

// ThingInput is the per-file object material clustering groups by class.
type ThingInput struct {
	FileID    int64
	ClassName string
}

// Repository describes storage operations for the ML index.
type Repository interface {
	// Get returns the ML record for a file, or common.ErrorNotFound.
	Get(ctx context.Context, fileID int64) (*models.MLFileData, error)

	// Upsert inserts or replaces the ML record for a file. The indexed
	// ml_version, error_count and image_source columns are taken from the
	// record.
	Upsert(ctx context.Context, data *models.MLFileData) error

	// EnsureRecords seeds empty records (ml_version 0) for the given file
	// ids and prunes records of files no longer in the set.
	EnsureRecords(ctx context.Context, fileIDs []int64) error

	// OutOfSyncFileIDs returns up to limit file ids whose record is below
	// the target version or was computed against a different image source,
	// skipping files that already failed maxErrors times. Ascending by
	// file id.
	OutOfSyncFileIDs(ctx context.Context, targetVersion int, source models.ImageSource, maxErrors, limit int) ([]int64, error)

	// OutOfSyncCount reports how many files OutOfSyncFileIDs would still
	// return with no limit.
	OutOfSyncCount(ctx context.Context, targetVersion int, source models.ImageSource, maxErrors int) (int64, error)

	// RecordFailure rolls the record's version back to zero and bumps its
	// error count, storing msg as the last error.
	RecordFailure(ctx context.Context, fileID int64, msg string) error

	// FacesWithEmbeddings returns every face that has an embedding, joined
	// with its file's hidden flag.
	FacesWithEmbeddings(ctx context.Context) ([]FaceWithFile, error)

	// ThingInputs returns every detected object class per file.
	ThingInputs(ctx context.Context) ([]ThingInput, error)

	// ReplacePeople atomically swaps the people table contents.
	ReplacePeople(ctx context.Context, people []models.Person) error

	// ReplaceThings atomically swaps the things table contents.
	ReplaceThings(ctx context.Context, things []models.Thing) error

	// GetPeople returns the current clusters ordered by id.
	GetPeople(ctx context.Context) ([]models.Person, error)

	// GetThings returns the current clusters ordered by id.
	GetThings(ctx context.Context) ([]models.Thing, error)

	// IndexVersion returns the counter for a namespace ("files", "people",
	// "things"), 0 when unset.
	IndexVersion(ctx context.Context, namespace string) (int64, error)

	// SetIndexVersion stores the counter for a namespace.
	SetIndexVersion(ctx context.Context, namespace string, v int64) error

	// BumpIndexVersion increments the counter and returns the new value.
	BumpIndexVersion(ctx context.Context, namespace string) (int64, error)
}
