package mlindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/common"
	"github.com/avelt/photovault/internal/dbx"
)

// Namespaces of the index_versions counters.
const (
	NamespaceFiles  = "files"
	NamespacePeople = "people"
	NamespaceThings = "things"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or
// *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, fileID int64) (*models.MLFileData, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM ml_files WHERE file_id=?`, fileID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ml record %d: %w", fileID, err)
	}
	var data models.MLFileData
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ml record %d: %w", fileID, err)
	}
	return &data, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, data *models.MLFileData) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal ml record %d: %w", data.FileID, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO ml_files (file_id, ml_version, error_count, image_source, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			ml_version   = excluded.ml_version,
			error_count  = excluded.error_count,
			image_source = excluded.image_source,
			payload      = excluded.payload`,
		data.FileID, data.MLVersion, data.ErrorCount, string(data.ImageSource), payload)
	if err != nil {
		return fmt.Errorf("failed to upsert ml record %d: %w", data.FileID, err)
	}
	return nil
}

func (r *SQLiteRepository) EnsureRecords(ctx context.Context, fileIDs []int64) error {
	for _, id := range fileIDs {
		payload, err := json.Marshal(&models.MLFileData{FileID: id})
		if err != nil {
			return err
		}
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO ml_files (file_id, ml_version, error_count, image_source, payload)
			VALUES (?, 0, 0, '', ?)
			ON CONFLICT(file_id) DO NOTHING`, id, payload)
		if err != nil {
			return fmt.Errorf("failed to seed ml record %d: %w", id, err)
		}
	}
	if len(fileIDs) == 0 {
		_, err := r.db.ExecContext(ctx, `DELETE FROM ml_files`)
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(fileIDs)), ",")
	args := make([]any, len(fileIDs))
	for i, id := range fileIDs {
		args[i] = id
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM ml_files WHERE file_id NOT IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to prune ml records: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) OutOfSyncFileIDs(ctx context.Context, targetVersion int, source models.ImageSource, maxErrors, limit int) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT file_id FROM ml_files
		WHERE (ml_version < ? OR image_source != ?) AND error_count < ?
		ORDER BY file_id LIMIT ?`,
		targetVersion, string(source), maxErrors, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select out-of-sync files: %w", err)
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

func (r *SQLiteRepository) OutOfSyncCount(ctx context.Context, targetVersion int, source models.ImageSource, maxErrors int) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ml_files
		WHERE (ml_version < ? OR image_source != ?) AND error_count < ?`,
		targetVersion, string(source), maxErrors).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count out-of-sync files: %w", err)
	}
	return n, nil
}

// RecordFailure bumps the error count and stores msg, leaving the record's
// version where it was so the file is retried rather than marked current.
// It is a read-modify-write and must run inside a transaction when callers
// need it atomic with other index writes.
func (r *SQLiteRepository) RecordFailure(ctx context.Context, fileID int64, msg string) error {
	data, err := r.Get(ctx, fileID)
	if errors.Is(err, common.ErrorNotFound) {
		data = &models.MLFileData{FileID: fileID}
	} else if err != nil {
		return err
	}
	data.ErrorCount++
	data.LastErrorMessage = msg
	return r.Upsert(ctx, data)
}

func (r *SQLiteRepository) FacesWithEmbeddings(ctx context.Context) ([]FaceWithFile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.payload, COALESCE(f.is_hidden, 0)
		FROM ml_files m LEFT JOIN files f ON f.id = m.file_id
		ORDER BY m.file_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select faces: %w", err)
	}
	defer rows.Close()

	var result []FaceWithFile
	for rows.Next() {
		var payload []byte
		var hidden bool
		if err := rows.Scan(&payload, &hidden); err != nil {
			return nil, err
		}
		var data models.MLFileData
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ml record: %w", err)
		}
		for _, face := range data.Faces {
			if len(face.Embedding) == 0 {
				continue
			}
			result = append(result, FaceWithFile{Face: face, Hidden: hidden})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) ThingInputs(ctx context.Context) ([]ThingInput, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM ml_files ORDER BY file_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select ml records: %w", err)
	}
	defer rows.Close()

	var result []ThingInput
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var data models.MLFileData
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ml record: %w", err)
		}
		for _, obj := range data.Objects {
			result = append(result, ThingInput{FileID: data.FileID, ClassName: obj.ClassName})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) ReplacePeople(ctx context.Context, people []models.Person) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM people`); err != nil {
		return fmt.Errorf("failed to clear people: %w", err)
	}
	for _, p := range people {
		payload, err := json.Marshal(p)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO people (id, payload) VALUES (?, ?)`, p.ID, payload); err != nil {
			return fmt.Errorf("failed to insert person %d: %w", p.ID, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) ReplaceThings(ctx context.Context, things []models.Thing) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM things`); err != nil {
		return fmt.Errorf("failed to clear things: %w", err)
	}
	for _, t := range things {
		payload, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO things (id, payload) VALUES (?, ?)`, t.ID, payload); err != nil {
			return fmt.Errorf("failed to insert thing %d: %w", t.ID, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) GetPeople(ctx context.Context) ([]models.Person, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM people ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select people: %w", err)
	}
	defer rows.Close()

	var result []models.Person
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var p models.Person
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) GetThings(ctx context.Context) ([]models.Thing, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM things ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select things: %w", err)
	}
	defer rows.Close()

	var result []models.Thing
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var t models.Thing
		if err := json.Unmarshal(payload, &t); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) IndexVersion(ctx context.Context, namespace string) (int64, error) {
	var v int64
	err := r.db.QueryRowContext(ctx,
		`SELECT version FROM index_versions WHERE namespace=?`, namespace).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read index version %q: %w", namespace, err)
	}
	return v, nil
}

func (r *SQLiteRepository) SetIndexVersion(ctx context.Context, namespace string, v int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO index_versions (namespace, version) VALUES (?, ?)
		ON CONFLICT(namespace) DO UPDATE SET version = excluded.version`,
		namespace, v)
	if err != nil {
		return fmt.Errorf("failed to write index version %q: %w", namespace, err)
	}
	return nil
}

func (r *SQLiteRepository) BumpIndexVersion(ctx context.Context, namespace string) (int64, error) {
	v, err := r.IndexVersion(ctx, namespace)
	if err != nil {
		return 0, err
	}
	v++
	if err := r.SetIndexVersion(ctx, namespace, v); err != nil {
		return 0, err
	}
	return v, nil
}
