package syncer

import (
	"context"
	"fmt"

	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/client/repositories/collections"
	"github.com/avelt/photovault/internal/client/repositories/files"
	"github.com/avelt/photovault/internal/client/repositories/syncstate"
	"github.com/avelt/photovault/internal/dbx"
)

// SyncCollections pulls the collection delta since the stored watermark,
// applies it durably, and returns the decrypted local collection set.
// Collections whose key cannot be opened stay stored raw for a later retry
// and are excluded from the returned set.
func (e *Engine) SyncCollections(ctx context.Context) ([]models.Collection, error) {
	since, err := syncstate.NewSQLiteRepository(e.db).Get(ctx, syncstate.KeyCollections)
	if err != nil {
		return nil, err
	}

	remote, err := e.api.GetCollections(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("collection diff: %w", err)
	}

	maxTime := since
	err = dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		colRepo := collections.NewSQLiteRepository(tx)
		fileRepo := files.NewSQLiteRepository(tx)
		state := syncstate.NewSQLiteRepository(tx)

		var upserts []models.Collection
		for _, c := range remote {
			if c.UpdationTime > maxTime {
				maxTime = c.UpdationTime
			}
			if c.IsDeleted {
				if err := colRepo.Delete(ctx, c.ID); err != nil {
					return err
				}
				if err := fileRepo.DeleteCollectionSyncTime(ctx, c.ID); err != nil {
					return err
				}
				continue
			}
			upserts = append(upserts, c)
		}
		if err := colRepo.UpsertBatch(ctx, upserts); err != nil {
			return err
		}
		return state.Set(ctx, syncstate.KeyCollections, maxTime)
	})
	if err != nil {
		return nil, err
	}

	stored, err := collections.NewSQLiteRepository(e.db).GetAll(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.Collection, 0, len(stored))
	for i := range stored {
		c := stored[i]
		if err := e.decryptCollection(&c); err != nil {
			e.log.Warn(ctx, "collection kept raw for retry", "collection", c.ID, "error", err)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
