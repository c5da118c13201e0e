package embeddings

import (
	"context"
	"encoding/json"
	"fmt"

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

func (r *SQLiteRepository) Upsert(ctx context.Context, e models.Embedding) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO embeddings (file_id, model, updated_at, pending, payload) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(file_id, model) DO UPDATE SET
			updated_at = excluded.updated_at,
			pending    = excluded.pending,
			payload    = excluded.payload`,
		e.FileID, e.Model, e.UpdatedAt, e.Pending(), payload)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding %d/%s: %w", e.FileID, e.Model, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, fileID int64, model string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM embeddings WHERE file_id=? AND model=?`, fileID, model)
	if err != nil {
		return fmt.Errorf("failed to delete embedding %d/%s: %w", fileID, model, err)
	}
	return nil
}

func (r *SQLiteRepository) GetByModel(ctx context.Context, model string) ([]models.Embedding, error) {
	return r.query(ctx,
		`SELECT payload FROM embeddings WHERE model=? AND pending=0 ORDER BY file_id`, model)
}

// GetPending returns embeddings still awaiting decryption.
func (r *SQLiteRepository) GetPending(ctx context.Context) ([]models.Embedding, error) {
	return r.query(ctx,
		`SELECT payload FROM embeddings WHERE pending=1 ORDER BY file_id, model`)
}

func (r *SQLiteRepository) query(ctx context.Context, q string, args ...any) ([]models.Embedding, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select embeddings: %w", err)
	}
	defer rows.Close()

	var result []models.Embedding
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var e models.Embedding
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
