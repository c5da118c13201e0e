package entities

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/common"
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

func (r *SQLiteRepository) UpsertKey(ctx context.Context, key models.EntityKey) error {
	payload, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("failed to marshal entity key: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO entity_keys (type, payload) VALUES (?, ?)
		ON CONFLICT(type) DO UPDATE SET payload = excluded.payload`,
		string(key.Type), payload)
	if err != nil {
		return fmt.Errorf("failed to upsert entity key %q: %w", key.Type, err)
	}
	return nil
}

func (r *SQLiteRepository) GetKey(ctx context.Context, entityType models.EntityType) (*models.EntityKey, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT payload FROM entity_keys WHERE type=?`, string(entityType)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read entity key %q: %w", entityType, err)
	}
	var key models.EntityKey
	if err := json.Unmarshal(payload, &key); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity key: %w", err)
	}
	return &key, nil
}

func (r *SQLiteRepository) UpsertBatch(ctx context.Context, recs []models.EntityRecord) error {
	for _, rec := range recs {
		if rec.IsDeleted {
			if _, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE id=?`, rec.ID); err != nil {
				return fmt.Errorf("failed to delete entity %s: %w", rec.ID, err)
			}
			continue
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal entity %s: %w", rec.ID, err)
		}
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO entities (id, type, updated_at, payload) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				type       = excluded.type,
				updated_at = excluded.updated_at,
				payload    = excluded.payload`,
			rec.ID, string(rec.Type), rec.UpdatedAt, payload)
		if err != nil {
			return fmt.Errorf("failed to upsert entity %s: %w", rec.ID, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) GetByType(ctx context.Context, entityType models.EntityType) ([]models.EntityRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM entities WHERE type=? ORDER BY id`, string(entityType))
	if err != nil {
		return nil, fmt.Errorf("failed to select entities: %w", err)
	}
	defer rows.Close()

	var result []models.EntityRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec models.EntityRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entity: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
