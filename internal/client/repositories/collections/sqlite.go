package collections

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/avelt/photovault/internal/client/models"
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

func (r *SQLiteRepository) UpsertBatch(ctx context.Context, cols []models.Collection) error {
	for _, c := range cols {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal collection %d: %w", c.ID, err)
		}
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO collections (id, updation_time, is_deleted, payload)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				updation_time = excluded.updation_time,
				is_deleted    = excluded.is_deleted,
				payload       = excluded.payload`,
			c.ID, c.UpdationTime, c.IsDeleted, payload)
		if err != nil {
			return fmt.Errorf("failed to upsert collection %d: %w", c.ID, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM collections WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete collection %d: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]models.Collection, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM collections WHERE is_deleted=0`)
	if err != nil {
		return nil, fmt.Errorf("failed to select collections: %w", err)
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
			return nil, fmt.Errorf("failed to unmarshal collection: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
