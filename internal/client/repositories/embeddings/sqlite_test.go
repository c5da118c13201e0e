package embeddings

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/client/storage"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsert_KeyedByFileAndModel(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(newTestDB(t))

	require.NoError(t, repo.Upsert(ctx, models.Embedding{FileID: 1, Model: "clip", Vector: []float32{1, 2}, UpdatedAt: 10}))
	require.NoError(t, repo.Upsert(ctx, models.Embedding{FileID: 1, Model: "other", Vector: []float32{3}, UpdatedAt: 10}))
	require.NoError(t, repo.Upsert(ctx, models.Embedding{FileID: 1, Model: "clip", Vector: []float32{9, 9}, UpdatedAt: 20}))

	got, err := repo.GetByModel(ctx, "clip")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []float32{9, 9}, got[0].Vector)
	assert.Equal(t, int64(20), got[0].UpdatedAt)
}

func TestPending_HiddenFromModelQueriesUntilDecrypted(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(newTestDB(t))

	require.NoError(t, repo.Upsert(ctx, models.Embedding{FileID: 1, Model: "clip", Cipher: []byte{1, 2}, Header: []byte{3}, UpdatedAt: 10}))

	got, err := repo.GetByModel(ctx, "clip")
	require.NoError(t, err)
	assert.Empty(t, got)

	pending, err := repo.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, []byte{1, 2}, pending[0].Cipher)

	// decryption replaces the pending record in place
	require.NoError(t, repo.Upsert(ctx, models.Embedding{FileID: 1, Model: "clip", Vector: []float32{0.5}, UpdatedAt: 10}))

	got, err = repo.GetByModel(ctx, "clip")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []float32{0.5}, got[0].Vector)

	pending, err = repo.GetPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(newTestDB(t))

	require.NoError(t, repo.Upsert(ctx, models.Embedding{FileID: 1, Model: "clip", UpdatedAt: 10}))
	require.NoError(t, repo.Delete(ctx, 1, "clip"))

	got, err := repo.GetByModel(ctx, "clip")
	require.NoError(t, err)
	assert.Empty(t, got)
}
