package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/client/repositories/syncstate"
	"github.com/avelt/photovault/internal/client/repositories/trash"
	"github.com/avelt/photovault/internal/common"
	"github.com/avelt/photovault/internal/dbx"
)

// SyncTrash pulls the global trash diff. Entries flagged deleted or restored
// leave the local trash; live entries are decrypted with their collection's
// key. When a trashed file's collection was fully deleted, the collection is
// fetched individually and cached in a side table purely to retain its keys,
// pruned once nothing in trash references it.
func (e *Engine) SyncTrash(ctx context.Context, cols []models.Collection, onUpdate func([]models.TrashItem)) error {
	known := make(map[int64]*models.Collection, len(cols))
	for i := range cols {
		known[cols[i].ID] = &cols[i]
	}

	trashRepo := trash.NewSQLiteRepository(e.db)
	cached, err := trashRepo.GetDeletedCollections(ctx)
	if err != nil {
		return err
	}
	for i := range cached {
		c := cached[i]
		if err := e.decryptCollection(&c); err != nil {
			e.log.Warn(ctx, "cached deleted collection undecryptable", "collection", c.ID, "error", err)
			continue
		}
		known[c.ID] = &c
	}

	since, err := syncstate.NewSQLiteRepository(e.db).Get(ctx, syncstate.KeyTrash)
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		items, hasMore, err := e.api.GetTrashDiff(ctx, since)
		if err != nil {
			return fmt.Errorf("trash diff: %w", err)
		}
		if len(items) == 0 {
			break
		}

		// resolve missing collections before the transaction so no network
		// call runs inside it
		var sideCache []models.Collection
		for i := range items {
			it := &items[i]
			if it.IsDeleted || it.IsRestored {
				continue
			}
			colID := it.File.CollectionID
			if _, ok := known[colID]; ok {
				continue
			}
			fetched, err := e.api.GetCollection(ctx, colID)
			if err != nil {
				if errors.Is(err, common.ErrorNotFound) {
					e.log.Warn(ctx, "collection of trashed file gone", "collection", colID, "file", it.File.ID)
					continue
				}
				return fmt.Errorf("fetch deleted collection %d: %w", colID, err)
			}
			sideCache = append(sideCache, *fetched)
			c := *fetched
			if err := e.decryptCollection(&c); err != nil {
				e.log.Warn(ctx, "deleted collection undecryptable", "collection", c.ID, "error", err)
				continue
			}
			known[c.ID] = &c
		}

		maxTime := since
		err = dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			tr := trash.NewSQLiteRepository(tx)
			for _, c := range sideCache {
				if err := tr.UpsertDeletedCollection(ctx, c); err != nil {
					return err
				}
			}
			for i := range items {
				it := items[i]
				if it.UpdatedAt > maxTime {
					maxTime = it.UpdatedAt
				}
				if it.IsDeleted || it.IsRestored {
					if err := tr.Delete(ctx, it.File.ID); err != nil {
						return err
					}
					continue
				}
				if col, ok := known[it.File.CollectionID]; ok {
					if err := e.decryptFile(&it.File, col.Key); err != nil {
						e.log.Warn(ctx, "trashed file kept raw for retry", "file", it.File.ID, "error", err)
					}
				}
				if err := tr.Upsert(ctx, it); err != nil {
					return err
				}
			}
			return syncstate.NewSQLiteRepository(tx).Set(ctx, syncstate.KeyTrash, maxTime)
		})
		if err != nil {
			return err
		}

		if onUpdate != nil {
			current, err := trashRepo.GetAll(ctx)
			if err != nil {
				return err
			}
			onUpdate(current)
		}

		since = maxTime
		if !hasMore {
			break
		}
	}

	remaining, err := trashRepo.GetAll(ctx)
	if err != nil {
		return err
	}
	referenced := make([]int64, 0, len(remaining))
	seen := make(map[int64]bool)
	for _, it := range remaining {
		if !seen[it.File.CollectionID] {
			seen[it.File.CollectionID] = true
			referenced = append(referenced, it.File.CollectionID)
		}
	}
	return trashRepo.PruneDeletedCollectionsExcept(ctx, referenced)
}
