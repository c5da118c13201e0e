package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/common"
	"github.com/avelt/photovault/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or
// *sql.Tx), so engines can run it inside a watermark transaction.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) UpsertBatch(ctx context.Context, fs []models.MediaFile) error {
	for i := range fs {
		f := &fs[i]
		if f.IsDeleted {
			if _, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id=?`, f.ID); err != nil {
				return fmt.Errorf("failed to delete file %d: %w", f.ID, err)
			}
			continue
		}
		payload, err := f.EncodeStored()
		if err != nil {
			return fmt.Errorf("failed to encode file %d: %w", f.ID, err)
		}
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO files (id, collection_id, updation_time, version, is_hidden, payload)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				collection_id = excluded.collection_id,
				updation_time = excluded.updation_time,
				version       = excluded.version,
				is_hidden     = excluded.is_hidden,
				payload       = excluded.payload`,
			f.ID, f.CollectionID, f.UpdationTime, f.Version, f.IsHidden, payload)
		if err != nil {
			return fmt.Errorf("failed to upsert file %d: %w", f.ID, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id int64) (*models.MediaFile, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM files WHERE id=?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file %d: %w", id, err)
	}
	return models.DecodeStoredFile(payload)
}

func (r *SQLiteRepository) GetByCollection(ctx context.Context, collectionID int64) ([]models.MediaFile, error) {
	return r.selectFiles(ctx, `SELECT payload FROM files WHERE collection_id=? ORDER BY id`, collectionID)
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]models.MediaFile, error) {
	return r.selectFiles(ctx, `SELECT payload FROM files ORDER BY id`)
}

func (r *SQLiteRepository) selectFiles(ctx context.Context, query string, args ...any) ([]models.MediaFile, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []models.MediaFile
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		f, err := models.DecodeStoredFile(payload)
		if err != nil {
			return nil, err
		}
		result = append(result, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) AllIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM files ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select file ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SQLiteRepository) DeleteWhereCollectionNotIn(ctx context.Context, keep []int64) error {
	if len(keep) == 0 {
		_, err := r.db.ExecContext(ctx, `DELETE FROM files`)
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",")
	args := make([]any, len(keep))
	for i, id := range keep {
		args[i] = id
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM files WHERE collection_id NOT IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to prune orphaned files: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetCollectionSyncTime(ctx context.Context, collectionID int64) (int64, error) {
	var t int64
	err := r.db.QueryRowContext(ctx,
		`SELECT last_sync_time FROM collection_sync_times WHERE collection_id=?`, collectionID).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read collection sync time: %w", err)
	}
	return t, nil
}

func (r *SQLiteRepository) SetCollectionSyncTime(ctx context.Context, collectionID int64, t int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO collection_sync_times (collection_id, last_sync_time) VALUES (?, ?)
		ON CONFLICT(collection_id) DO UPDATE SET last_sync_time = excluded.last_sync_time`,
		collectionID, t)
	if err != nil {
		return fmt.Errorf("failed to write collection sync time: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteCollectionSyncTime(ctx context.Context, collectionID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM collection_sync_times WHERE collection_id=?`, collectionID)
	return err
}
