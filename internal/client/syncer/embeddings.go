package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/client/repositories/embeddings"
	"github.com/avelt/photovault/internal/client/repositories/files"
	"github.com/avelt/photovault/internal/client/repositories/syncstate"
	"github.com/avelt/photovault/internal/common"
	"github.com/avelt/photovault/internal/cryptox"
	"github.com/avelt/photovault/internal/dbx"
)

// SyncEmbeddings pulls server-side derived embeddings (CLIP and friends),
// decrypts each with its file's key and stores the plaintext vectors for
// local semantic search. Embeddings of files not yet synced locally are
// stored pending, ciphertext and all, so the watermark can advance without
// losing them; each pass retries pending records once the file arrived.
func (e *Engine) SyncEmbeddings(ctx context.Context) error {
	if err := e.retryPendingEmbeddings(ctx); err != nil {
		return err
	}

	since, err := syncstate.NewSQLiteRepository(e.db).Get(ctx, syncstate.KeyEmbeddings)
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := e.api.GetEmbeddingDiff(ctx, since, e.pageSize)
		if err != nil {
			return fmt.Errorf("embedding diff: %w", err)
		}
		if len(page) == 0 {
			break
		}

		maxTime := since
		err = dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			embRepo := embeddings.NewSQLiteRepository(tx)
			fileRepo := files.NewSQLiteRepository(tx)
			for _, re := range page {
				if re.UpdatedAt > maxTime {
					maxTime = re.UpdatedAt
				}
				if re.IsDeleted {
					if err := embRepo.Delete(ctx, re.FileID, re.Model); err != nil {
						return err
					}
					continue
				}
				f, err := fileRepo.Get(ctx, re.FileID)
				if err != nil && !errors.Is(err, common.ErrorNotFound) {
					return err
				}
				if err != nil || len(f.Key) == 0 {
					// file not here yet, or stored raw without a key; keep
					// the ciphertext so the advanced watermark loses nothing
					e.log.Debug(ctx, "embedding kept pending, file not ready", "file", re.FileID, "model", re.Model)
					err = embRepo.Upsert(ctx, models.Embedding{
						FileID:    re.FileID,
						Model:     re.Model,
						Cipher:    re.EncryptedEmbedding,
						Header:    re.Header,
						UpdatedAt: re.UpdatedAt,
					})
					if err != nil {
						return err
					}
					continue
				}
				var vec []float32
				if err := cryptox.DecryptJSON(re.EncryptedEmbedding, re.Header, f.Key, &vec); err != nil {
					e.log.Warn(ctx, "embedding undecryptable, skipping", "file", re.FileID, "model", re.Model, "error", err)
					continue
				}
				err = embRepo.Upsert(ctx, models.Embedding{
					FileID:    re.FileID,
					Model:     re.Model,
					Vector:    vec,
					UpdatedAt: re.UpdatedAt,
				})
				if err != nil {
					return err
				}
			}
			return syncstate.NewSQLiteRepository(tx).Set(ctx, syncstate.KeyEmbeddings, maxTime)
		})
		if err != nil {
			return err
		}

		since = maxTime
		if len(page) < e.pageSize {
			break
		}
	}
	return nil
}

// retryPendingEmbeddings decrypts embeddings that arrived before their file.
func (e *Engine) retryPendingEmbeddings(ctx context.Context) error {
	pending, err := embeddings.NewSQLiteRepository(e.db).GetPending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	return dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		embRepo := embeddings.NewSQLiteRepository(tx)
		fileRepo := files.NewSQLiteRepository(tx)
		for _, p := range pending {
			f, err := fileRepo.Get(ctx, p.FileID)
			if errors.Is(err, common.ErrorNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if len(f.Key) == 0 {
				continue
			}
			var vec []float32
			if err := cryptox.DecryptJSON(p.Cipher, p.Header, f.Key, &vec); err != nil {
				e.log.Warn(ctx, "pending embedding undecryptable, dropping", "file", p.FileID, "model", p.Model, "error", err)
				if err := embRepo.Delete(ctx, p.FileID, p.Model); err != nil {
					return err
				}
				continue
			}
			p.Vector = vec
			p.Cipher, p.Header = nil, nil
			if err := embRepo.Upsert(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
}
