package trash

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or
// *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, item models.TrashItem) error {
	payload, err := item.EncodeStored()
	if err != nil {
		return fmt.Errorf("failed to encode trash item %d: %w", item.File.ID, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO trash (file_id, updated_at, payload) VALUES (?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			updated_at = excluded.updated_at,
			payload    = excluded.payload`,
		item.File.ID, item.UpdatedAt, payload)
	if err != nil {
		return fmt.Errorf("failed to upsert trash item %d: %w", item.File.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, fileID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM trash WHERE file_id=?`, fileID)
	if err != nil {
		return fmt.Errorf("failed to delete trash item %d: %w", fileID, err)
	}
	return nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]models.TrashItem, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM trash ORDER BY file_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select trash: %w", err)
	}
	defer rows.Close()

	var result []models.TrashItem
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		item, err := models.DecodeStoredTrashItem(payload)
		if err != nil {
			return nil, err
		}
		result = append(result, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) UpsertDeletedCollection(ctx context.Context, col models.Collection) error {
	payload, err := json.Marshal(col)
	if err != nil {
		return fmt.Errorf("failed to marshal deleted collection %d: %w", col.ID, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO deleted_collections (collection_id, payload) VALUES (?, ?)
		ON CONFLICT(collection_id) DO UPDATE SET payload = excluded.payload`,
		col.ID, payload)
	if err != nil {
		return fmt.Errorf("failed to cache deleted collection %d: %w", col.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) GetDeletedCollections(ctx context.Context) ([]models.Collection, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM deleted_collections`)
	if err != nil {
		return nil, fmt.Errorf("failed to select deleted collections: %w", err)
	}
	defer rows.Close()

	var result []models.Collection
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c models.Collection
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal deleted collection: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) PruneDeletedCollectionsExcept(ctx context.Context, referenced []int64) error {
	if len(referenced) == 0 {
		_, err := r.db.ExecContext(ctx, `DELETE FROM deleted_collections`)
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(referenced)), ",")
	args := make([]any, len(referenced))
	for i, id := range referenced {
		args[i] = id
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM deleted_collections WHERE collection_id NOT IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to prune deleted collections: %w", err)
	}
	return nil
}
