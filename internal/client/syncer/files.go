package syncer

import (
	"context"
	"fmt"

	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/client/repositories/files"
	"github.com/avelt/photovault/internal/dbx"
)

// SyncFiles pulls each collection's paginated file diff, decrypting entries
// with the collection key and applying every page durably before moving on.
// onUpdate, when non-nil, receives the running merged and sorted file set
// after each applied page so a UI can render progressively.
//
// Files whose metadata cannot be decrypted stay stored raw, like
// undecryptable collections; each pass retries them here with the keys at
// hand before they are surfaced.
//
// A collection's last-sync-time is set to its UpdationTime only after all of
// its pages were applied; a crash mid-collection resumes from the previous
// watermark and the latest-by-id merge makes the replay idempotent.
func (e *Engine) SyncFiles(ctx context.Context, cols []models.Collection, onUpdate func([]models.MediaFile)) ([]models.MediaFile, error) {
	fileRepo := files.NewSQLiteRepository(e.db)

	keep := make([]int64, len(cols))
	byID := make(map[int64]*models.Collection, len(cols))
	for i := range cols {
		keep[i] = cols[i].ID
		byID[cols[i].ID] = &cols[i]
	}
	if err := fileRepo.DeleteWhereCollectionNotIn(ctx, keep); err != nil {
		return nil, err
	}

	stored, err := fileRepo.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	merged := make(map[int64]models.MediaFile, len(stored))
	var recovered []models.MediaFile
	for _, f := range stored {
		if f.Metadata == nil {
			col, ok := byID[f.CollectionID]
			if !ok || !col.HasKey() {
				continue
			}
			if err := e.decryptFile(&f, col.Key); err != nil {
				e.log.Warn(ctx, "file still undecryptable, kept raw", "file", f.ID, "error", err)
				continue
			}
			recovered = append(recovered, f)
		}
		merged[f.ID] = f
	}
	if len(recovered) > 0 {
		err = dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			return files.NewSQLiteRepository(tx).UpsertBatch(ctx, recovered)
		})
		if err != nil {
			return nil, err
		}
	}

	for _, col := range cols {
		if !col.HasKey() {
			continue
		}
		if err := e.syncCollectionFiles(ctx, &col, merged, onUpdate); err != nil {
			return nil, err
		}
	}
	return sortedFiles(merged), nil
}

func (e *Engine) syncCollectionFiles(ctx context.Context, col *models.Collection, merged map[int64]models.MediaFile, onUpdate func([]models.MediaFile)) error {
	fileRepo := files.NewSQLiteRepository(e.db)
	last, err := fileRepo.GetCollectionSyncTime(ctx, col.ID)
	if err != nil {
		return err
	}
	if last == col.UpdationTime {
		return nil
	}

	hidden := col.Type == models.CollectionTypeHidden
	since := last
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := e.api.GetCollectionDiff(ctx, col.ID, since, e.pageSize)
		if err != nil {
			return fmt.Errorf("file diff of collection %d: %w", col.ID, err)
		}
		if len(page) == 0 {
			break
		}

		batch := make([]models.MediaFile, 0, len(page))
		for i := range page {
			f := page[i]
			if !f.IsDeleted {
				if err := e.decryptFile(&f, col.Key); err != nil {
					// persisted raw so the entry survives the watermark
					// advance; SyncFiles retries it before surfacing
					e.log.Warn(ctx, "file kept raw for retry", "file", f.ID, "error", err)
				}
				f.IsHidden = hidden
				// a symlinked copy must not clobber a newer version synced
				// from another collection
				if cur, ok := merged[f.ID]; ok && cur.CollectionID != f.CollectionID && !f.NewerThan(&cur) {
					continue
				}
			}
			batch = append(batch, f)
		}

		err = dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			return files.NewSQLiteRepository(tx).UpsertBatch(ctx, batch)
		})
		if err != nil {
			return err
		}

		for _, f := range batch {
			if f.IsDeleted {
				delete(merged, f.ID)
				continue
			}
			if f.Metadata == nil {
				continue
			}
			merged[f.ID] = f
		}
		if onUpdate != nil {
			onUpdate(sortedFiles(merged))
		}

		since = page[len(page)-1].UpdationTime
		if len(page) < e.pageSize {
			break
		}
	}

	return fileRepo.SetCollectionSyncTime(ctx, col.ID, col.UpdationTime)
}
