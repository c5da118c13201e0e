package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/client/repositories/entities"
	"github.com/avelt/photovault/internal/client/repositories/syncstate"
	"github.com/avelt/photovault/internal/common"
	"github.com/avelt/photovault/internal/cryptox"
	"github.com/avelt/photovault/internal/dbx"
)

// EntityData is one synced entity with its payload decrypted.
type EntityData struct {
	ID   string
	Type models.EntityType
	JSON []byte
}

// SyncEntities pulls the diff for one entity type (location tags etc.),
// applies it durably, and returns every live record decrypted with the
// per-type entity key. The entity key itself is fetched once and kept
// wrapped at rest; it is unwrapped with the master key once per pass.
func (e *Engine) SyncEntities(ctx context.Context, t models.EntityType) ([]EntityData, error) {
	entRepo := entities.NewSQLiteRepository(e.db)

	key, err := entRepo.GetKey(ctx, t)
	if errors.Is(err, common.ErrorNotFound) {
		key, err = e.api.GetEntityKey(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("entity key %q: %w", t, err)
		}
		if err := entRepo.UpsertKey(ctx, *key); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	entityKey, err := cryptox.OpenKey(key.EncryptedKey, key.Nonce, e.masterKey)
	if err != nil {
		return nil, fmt.Errorf("unwrap entity key %q: %w", t, err)
	}

	stateKey := syncstate.EntityKeyFor(string(t))
	since, err := syncstate.NewSQLiteRepository(e.db).Get(ctx, stateKey)
	if err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := e.api.GetEntityDiff(ctx, t, since, e.pageSize)
		if err != nil {
			return nil, fmt.Errorf("entity diff %q: %w", t, err)
		}
		if len(page) == 0 {
			break
		}

		maxTime := since
		for _, rec := range page {
			if rec.UpdatedAt > maxTime {
				maxTime = rec.UpdatedAt
			}
		}
		err = dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			if err := entities.NewSQLiteRepository(tx).UpsertBatch(ctx, page); err != nil {
				return err
			}
			return syncstate.NewSQLiteRepository(tx).Set(ctx, stateKey, maxTime)
		})
		if err != nil {
			return nil, err
		}

		since = maxTime
		if len(page) < e.pageSize {
			break
		}
	}

	stored, err := entRepo.GetByType(ctx, t)
	if err != nil {
		return nil, err
	}
	out := make([]EntityData, 0, len(stored))
	for _, rec := range stored {
		plain, err := cryptox.OpenKey(rec.Data, rec.Header, entityKey)
		if err != nil {
			e.log.Warn(ctx, "entity kept raw for retry", "entity", rec.ID, "error", err)
			continue
		}
		out = append(out, EntityData{ID: rec.ID, Type: rec.Type, JSON: plain})
	}
	return out, nil
}
