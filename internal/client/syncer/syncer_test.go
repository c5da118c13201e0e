package syncer

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelt/photovault/internal/client/api"
	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/client/repositories/collections"
	"github.com/avelt/photovault/internal/client/repositories/embeddings"
	"github.com/avelt/photovault/internal/client/repositories/files"
	"github.com/avelt/photovault/internal/client/repositories/syncstate"
	"github.com/avelt/photovault/internal/client/repositories/trash"
	"github.com/avelt/photovault/internal/client/storage"
	"github.com/avelt/photovault/internal/cryptox"
	"github.com/avelt/photovault/internal/logging"
)

const testUserID = int64(7)

// fakeAPI embeds the interface and overrides only what a test needs.
type fakeAPI struct {
	api.Client

	getCollections    func(ctx context.Context, sinceTime int64) ([]models.Collection, error)
	getCollection     func(ctx context.Context, id int64) (*models.Collection, error)
	getCollectionDiff func(ctx context.Context, collectionID, sinceTime int64, limit int) ([]models.MediaFile, error)
	getTrashDiff      func(ctx context.Context, sinceTime int64) ([]models.TrashItem, bool, error)
	getEmbeddingDiff  func(ctx context.Context, sinceTime int64, limit int) ([]models.RemoteEmbedding, error)
	getEntityKey      func(ctx context.Context, t models.EntityType) (*models.EntityKey, error)
	getEntityDiff     func(ctx context.Context, t models.EntityType, sinceTime int64, limit int) ([]models.EntityRecord, error)
}

func (f *fakeAPI) GetCollections(ctx context.Context, sinceTime int64) ([]models.Collection, error) {
	return f.getCollections(ctx, sinceTime)
}

func (f *fakeAPI) GetCollection(ctx context.Context, id int64) (*models.Collection, error) {
	return f.getCollection(ctx, id)
}

func (f *fakeAPI) GetCollectionDiff(ctx context.Context, collectionID, sinceTime int64, limit int) ([]models.MediaFile, error) {
	return f.getCollectionDiff(ctx, collectionID, sinceTime, limit)
}

func (f *fakeAPI) GetTrashDiff(ctx context.Context, sinceTime int64) ([]models.TrashItem, bool, error) {
	return f.getTrashDiff(ctx, sinceTime)
}

func (f *fakeAPI) GetEmbeddingDiff(ctx context.Context, sinceTime int64, limit int) ([]models.RemoteEmbedding, error) {
	return f.getEmbeddingDiff(ctx, sinceTime, limit)
}

func (f *fakeAPI) GetEntityKey(ctx context.Context, t models.EntityType) (*models.EntityKey, error) {
	return f.getEntityKey(ctx, t)
}

func (f *fakeAPI) GetEntityDiff(ctx context.Context, t models.EntityType, sinceTime int64, limit int) ([]models.EntityRecord, error) {
	return f.getEntityDiff(ctx, t, sinceTime, limit)
}

type testEnv struct {
	db        *sql.DB
	api       *fakeAPI
	engine    *Engine
	masterKey []byte
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := storage.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	masterKey := cryptox.GenerateKey()
	pub, priv, err := cryptox.GenerateKeyPair()
	require.NoError(t, err)

	fake := &fakeAPI{}
	eng := New(fake, db, logging.Discard(), testUserID, masterKey, pub[:], priv[:])
	return &testEnv{db: db, api: fake, engine: eng, masterKey: masterKey}
}

// makeCollection builds an owned collection whose key is wrapped with the
// test master key.
func (env *testEnv) makeCollection(t *testing.T, id, updationTime int64, name string) (models.Collection, []byte) {
	t.Helper()
	colKey := cryptox.GenerateKey()
	encKey, keyNonce, err := cryptox.SealKey(colKey, env.masterKey)
	require.NoError(t, err)
	encName, nameNonce, err := cryptox.SealKey([]byte(name), colKey)
	require.NoError(t, err)
	return models.Collection{
		ID:            id,
		OwnerID:       testUserID,
		EncryptedKey:  encKey,
		KeyNonce:      keyNonce,
		EncryptedName: encName,
		NameNonce:     nameNonce,
		Type:          models.CollectionTypeAlbum,
		UpdationTime:  updationTime,
	}, colKey
}

// makeFile builds a wire file whose key is wrapped with colKey.
func makeFile(t *testing.T, id, collectionID, updationTime int64, colKey []byte, title string) models.MediaFile {
	t.Helper()
	fileKey := cryptox.GenerateKey()
	encKey, keyNonce, err := cryptox.SealKey(fileKey, colKey)
	require.NoError(t, err)
	mdCipher, mdHeader, err := cryptox.EncryptJSON(&models.FileMetadata{Title: title, CreationTime: updationTime}, fileKey)
	require.NoError(t, err)
	return models.MediaFile{
		ID:             id,
		OwnerID:        testUserID,
		CollectionID:   collectionID,
		EncryptedKey:   encKey,
		KeyNonce:       keyNonce,
		MetadataCipher: mdCipher,
		MetadataHeader: mdHeader,
		UpdationTime:   updationTime,
	}
}

func TestSyncCollections_DecryptsAndAdvancesWatermark(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	colA, _ := env.makeCollection(t, 1, 100, "Holidays")
	colB, _ := env.makeCollection(t, 2, 150, "Pets")
	var requestedSince []int64
	env.api.getCollections = func(ctx context.Context, sinceTime int64) ([]models.Collection, error) {
		requestedSince = append(requestedSince, sinceTime)
		if sinceTime >= 150 {
			return nil, nil
		}
		return []models.Collection{colA, colB}, nil
	}

	got, err := env.engine.SyncCollections(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Holidays", got[0].Name)
	assert.True(t, got[0].HasKey())

	wm, err := syncstate.NewSQLiteRepository(env.db).Get(ctx, syncstate.KeyCollections)
	require.NoError(t, err)
	assert.Equal(t, int64(150), wm)

	// second pass starts from the stored watermark
	_, err = env.engine.SyncCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 150}, requestedSince)
}

func TestSyncCollections_UndecryptableKeptRawForRetry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	good, _ := env.makeCollection(t, 1, 100, "Good")
	bad, _ := env.makeCollection(t, 2, 120, "Bad")
	bad.EncryptedKey[0] ^= 0xff

	env.api.getCollections = func(ctx context.Context, sinceTime int64) ([]models.Collection, error) {
		return []models.Collection{good, bad}, nil
	}

	got, err := env.engine.SyncCollections(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)

	// the raw record is still stored so a later pass can retry
	stored, err := collections.NewSQLiteRepository(env.db).GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestSyncCollections_DeletedPruned(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	col, _ := env.makeCollection(t, 1, 100, "Doomed")
	env.api.getCollections = func(ctx context.Context, sinceTime int64) ([]models.Collection, error) {
		if sinceTime < 100 {
			return []models.Collection{col}, nil
		}
		gone := col
		gone.IsDeleted = true
		gone.UpdationTime = 200
		return []models.Collection{gone}, nil
	}

	got, err := env.engine.SyncCollections(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = env.engine.SyncCollections(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	wm, err := syncstate.NewSQLiteRepository(env.db).Get(ctx, syncstate.KeyCollections)
	require.NoError(t, err)
	assert.Equal(t, int64(200), wm)
}

// The two-page example: collection at updationTime 100 synced at 50, one
// diff page with two files. After sync both files are stored, the
// collection's last-sync-time is 100, and a repeat sync issues no request
// with sinceTime below 100.
func TestSyncFiles_ExampleScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	col, colKey := env.makeCollection(t, 10, 100, "Album")
	require.NoError(t, env.engine.decryptCollection(&col))

	fileRepo := files.NewSQLiteRepository(env.db)
	require.NoError(t, fileRepo.SetCollectionSyncTime(ctx, 10, 50))

	f1 := makeFile(t, 1, 10, 80, colKey, "one.jpg")
	f2 := makeFile(t, 2, 10, 100, colKey, "two.jpg")

	var requestedSince []int64
	env.api.getCollectionDiff = func(ctx context.Context, collectionID, sinceTime int64, limit int) ([]models.MediaFile, error) {
		requestedSince = append(requestedSince, sinceTime)
		if sinceTime >= 100 {
			return nil, nil
		}
		return []models.MediaFile{f1, f2}, nil
	}

	got, err := env.engine.SyncFiles(ctx, []models.Collection{col}, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)

	last, err := fileRepo.GetCollectionSyncTime(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(100), last)

	// caught-up collection issues no further diff requests at all
	_, err = env.engine.SyncFiles(ctx, []models.Collection{col}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{50}, requestedSince)
}

func TestSyncFiles_MergeIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	col, colKey := env.makeCollection(t, 10, 100, "Album")
	require.NoError(t, env.engine.decryptCollection(&col))
	f1 := makeFile(t, 1, 10, 80, colKey, "one.jpg")

	env.api.getCollectionDiff = func(ctx context.Context, collectionID, sinceTime int64, limit int) ([]models.MediaFile, error) {
		if sinceTime >= 80 {
			return nil, nil
		}
		return []models.MediaFile{f1}, nil
	}

	first, err := env.engine.SyncFiles(ctx, []models.Collection{col}, nil)
	require.NoError(t, err)

	// replay the same page by resetting the collection watermark
	require.NoError(t, files.NewSQLiteRepository(env.db).SetCollectionSyncTime(ctx, 10, 0))
	second, err := env.engine.SyncFiles(ctx, []models.Collection{col}, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSyncFiles_ProgressiveCallbackPerPage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.engine.pageSize = 1

	col, colKey := env.makeCollection(t, 10, 100, "Album")
	require.NoError(t, env.engine.decryptCollection(&col))
	f1 := makeFile(t, 1, 10, 60, colKey, "one.jpg")
	f2 := makeFile(t, 2, 10, 100, colKey, "two.jpg")

	env.api.getCollectionDiff = func(ctx context.Context, collectionID, sinceTime int64, limit int) ([]models.MediaFile, error) {
		switch {
		case sinceTime < 60:
			return []models.MediaFile{f1}, nil
		case sinceTime < 100:
			return []models.MediaFile{f2}, nil
		default:
			return nil, nil
		}
	}

	var sizes []int
	_, err := env.engine.SyncFiles(ctx, []models.Collection{col}, func(fs []models.MediaFile) {
		sizes = append(sizes, len(fs))
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, sizes)
}

func TestSyncFiles_PrunesVanishedCollections(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	colA, keyA := env.makeCollection(t, 10, 100, "Keep")
	require.NoError(t, env.engine.decryptCollection(&colA))

	fileRepo := files.NewSQLiteRepository(env.db)
	fA := makeFile(t, 1, 10, 50, keyA, "keep.jpg")
	require.NoError(t, env.engine.decryptFile(&fA, keyA))
	fGone := models.MediaFile{ID: 2, CollectionID: 99, UpdationTime: 50, Metadata: &models.FileMetadata{}}
	require.NoError(t, fileRepo.UpsertBatch(ctx, []models.MediaFile{fA, fGone}))
	require.NoError(t, fileRepo.SetCollectionSyncTime(ctx, 10, 100))

	got, err := env.engine.SyncFiles(ctx, []models.Collection{colA}, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
}

// A file whose metadata cannot be decrypted must survive the watermark
// advance: it stays stored raw and resurfaces once the remote sends a
// readable version, even though the collection is already caught up.
func TestSyncFiles_UndecryptableKeptRawForRetry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	col, colKey := env.makeCollection(t, 10, 100, "Album")
	require.NoError(t, env.engine.decryptCollection(&col))

	bad := makeFile(t, 1, 10, 80, colKey, "bad.jpg")
	bad.MetadataCipher[0] ^= 0xff
	good := makeFile(t, 2, 10, 100, colKey, "good.jpg")

	var calls int
	env.api.getCollectionDiff = func(ctx context.Context, collectionID, sinceTime int64, limit int) ([]models.MediaFile, error) {
		calls++
		if sinceTime >= 100 {
			return nil, nil
		}
		return []models.MediaFile{bad, good}, nil
	}

	got, err := env.engine.SyncFiles(ctx, []models.Collection{col}, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].ID)

	fileRepo := files.NewSQLiteRepository(env.db)
	last, err := fileRepo.GetCollectionSyncTime(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(100), last)

	// the raw record survived the watermark advance
	stored, err := fileRepo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	// caught up: no further requests, raw record still retained
	got, err = env.engine.SyncFiles(ctx, []models.Collection{col}, nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, calls)

	// the remote sends a fixed copy under a new collection watermark
	fixed := makeFile(t, 1, 10, 150, colKey, "bad.jpg")
	env.api.getCollectionDiff = func(ctx context.Context, collectionID, sinceTime int64, limit int) ([]models.MediaFile, error) {
		if sinceTime >= 150 {
			return nil, nil
		}
		return []models.MediaFile{fixed}, nil
	}
	col.UpdationTime = 200

	got, err = env.engine.SyncFiles(ctx, []models.Collection{col}, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

// A raw record left behind by an earlier pass is retried with the collection
// key on surface, without any diff request.
func TestSyncFiles_RawRecordRecoveredOnSurface(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	col, colKey := env.makeCollection(t, 10, 100, "Album")
	require.NoError(t, env.engine.decryptCollection(&col))

	raw := makeFile(t, 1, 10, 80, colKey, "late.jpg")
	fileRepo := files.NewSQLiteRepository(env.db)
	require.NoError(t, fileRepo.UpsertBatch(ctx, []models.MediaFile{raw}))
	require.NoError(t, fileRepo.SetCollectionSyncTime(ctx, 10, 100))

	env.api.getCollectionDiff = func(ctx context.Context, collectionID, sinceTime int64, limit int) ([]models.MediaFile, error) {
		t.Fatal("caught-up collection must not be re-requested")
		return nil, nil
	}

	got, err := env.engine.SyncFiles(ctx, []models.Collection{col}, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Metadata)
	assert.Equal(t, "late.jpg", got[0].Metadata.Title)

	// the recovered decryption is durable
	stored, err := fileRepo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.NotNil(t, stored[0].Metadata)
}

func TestSyncTrash_AppliesAddRestoreDelete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	col, colKey := env.makeCollection(t, 10, 100, "Album")
	require.NoError(t, env.engine.decryptCollection(&col))

	trashed := models.TrashItem{File: makeFile(t, 1, 10, 50, colKey, "bin.jpg"), UpdatedAt: 200, DeleteBy: 999}
	restored := models.TrashItem{File: makeFile(t, 2, 10, 60, colKey, "back.jpg"), IsRestored: true, UpdatedAt: 210}

	env.api.getTrashDiff = func(ctx context.Context, sinceTime int64) ([]models.TrashItem, bool, error) {
		if sinceTime >= 210 {
			return nil, false, nil
		}
		return []models.TrashItem{trashed, restored}, false, nil
	}

	require.NoError(t, env.engine.SyncTrash(ctx, []models.Collection{col}, nil))

	items, err := trash.NewSQLiteRepository(env.db).GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(1), items[0].File.ID)
	require.NotNil(t, items[0].File.Metadata)
	assert.Equal(t, "bin.jpg", items[0].File.Metadata.Title)

	wm, err := syncstate.NewSQLiteRepository(env.db).Get(ctx, syncstate.KeyTrash)
	require.NoError(t, err)
	assert.Equal(t, int64(210), wm)
}

func TestSyncTrash_FetchesDeletedCollectionForKeys(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	deletedCol, colKey := env.makeCollection(t, 44, 100, "Gone")
	item := models.TrashItem{File: makeFile(t, 1, 44, 50, colKey, "orphan.jpg"), UpdatedAt: 200}

	var fetched []int64
	env.api.getCollection = func(ctx context.Context, id int64) (*models.Collection, error) {
		fetched = append(fetched, id)
		c := deletedCol
		return &c, nil
	}
	env.api.getTrashDiff = func(ctx context.Context, sinceTime int64) ([]models.TrashItem, bool, error) {
		if sinceTime >= 200 {
			return nil, false, nil
		}
		return []models.TrashItem{item}, false, nil
	}

	// no known collections at all: the engine must fetch collection 44
	require.NoError(t, env.engine.SyncTrash(ctx, nil, nil))
	assert.Equal(t, []int64{44}, fetched)

	trashRepo := trash.NewSQLiteRepository(env.db)
	items, err := trashRepo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].File.Metadata)
	assert.Equal(t, "orphan.jpg", items[0].File.Metadata.Title)

	side, err := trashRepo.GetDeletedCollections(ctx)
	require.NoError(t, err)
	require.Len(t, side, 1)
	assert.Equal(t, int64(44), side[0].ID)

	// once the item leaves trash the cached collection is pruned
	gone := item
	gone.IsDeleted = true
	gone.UpdatedAt = 300
	env.api.getTrashDiff = func(ctx context.Context, sinceTime int64) ([]models.TrashItem, bool, error) {
		if sinceTime >= 300 {
			return nil, false, nil
		}
		return []models.TrashItem{gone}, false, nil
	}
	require.NoError(t, env.engine.SyncTrash(ctx, nil, nil))

	side, err = trashRepo.GetDeletedCollections(ctx)
	require.NoError(t, err)
	assert.Empty(t, side)
}

func TestSyncEmbeddings_DecryptsWithFileKey(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, colKey := env.makeCollection(t, 10, 100, "Album")
	f := makeFile(t, 1, 10, 50, colKey, "img.jpg")
	require.NoError(t, env.engine.decryptFile(&f, colKey))
	require.NoError(t, files.NewSQLiteRepository(env.db).UpsertBatch(ctx, []models.MediaFile{f}))

	cipher, header, err := cryptox.EncryptJSON([]float32{0.25, -1}, f.Key)
	require.NoError(t, err)

	env.api.getEmbeddingDiff = func(ctx context.Context, sinceTime int64, limit int) ([]models.RemoteEmbedding, error) {
		if sinceTime >= 500 {
			return nil, nil
		}
		return []models.RemoteEmbedding{
			{FileID: 1, Model: "clip", EncryptedEmbedding: cipher, Header: header, UpdatedAt: 400},
			{FileID: 999, Model: "clip", EncryptedEmbedding: cipher, Header: header, UpdatedAt: 500}, // unknown file, skipped
		}, nil
	}

	require.NoError(t, env.engine.SyncEmbeddings(ctx))

	got, err := embeddings.NewSQLiteRepository(env.db).GetByModel(ctx, "clip")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []float32{0.25, -1}, got[0].Vector)

	wm, err := syncstate.NewSQLiteRepository(env.db).Get(ctx, syncstate.KeyEmbeddings)
	require.NoError(t, err)
	assert.Equal(t, int64(500), wm)
}

// An embedding arriving before its file is stored pending, ciphertext and
// all; the watermark still advances and a later pass decrypts it once the
// file is known, without the diff ever resending the entry.
func TestSyncEmbeddings_PendingRecoveredOnceFileArrives(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, colKey := env.makeCollection(t, 10, 100, "Album")
	f := makeFile(t, 1, 10, 50, colKey, "img.jpg")
	require.NoError(t, env.engine.decryptFile(&f, colKey))

	cipher, header, err := cryptox.EncryptJSON([]float32{0.5, 0.25}, f.Key)
	require.NoError(t, err)

	env.api.getEmbeddingDiff = func(ctx context.Context, sinceTime int64, limit int) ([]models.RemoteEmbedding, error) {
		if sinceTime >= 400 {
			return nil, nil
		}
		return []models.RemoteEmbedding{
			{FileID: 1, Model: "clip", EncryptedEmbedding: cipher, Header: header, UpdatedAt: 400},
		}, nil
	}

	// file 1 is not locally known yet
	require.NoError(t, env.engine.SyncEmbeddings(ctx))

	embRepo := embeddings.NewSQLiteRepository(env.db)
	got, err := embRepo.GetByModel(ctx, "clip")
	require.NoError(t, err)
	assert.Empty(t, got)

	pending, err := embRepo.GetPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	wm, err := syncstate.NewSQLiteRepository(env.db).Get(ctx, syncstate.KeyEmbeddings)
	require.NoError(t, err)
	assert.Equal(t, int64(400), wm)

	// the file arrives; the next pass decrypts the retained ciphertext even
	// though the diff is empty past the watermark
	require.NoError(t, files.NewSQLiteRepository(env.db).UpsertBatch(ctx, []models.MediaFile{f}))
	require.NoError(t, env.engine.SyncEmbeddings(ctx))

	got, err = embRepo.GetByModel(ctx, "clip")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []float32{0.5, 0.25}, got[0].Vector)

	pending, err = embRepo.GetPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSyncEntities_FetchesKeyOnceAndDecrypts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	entityKey := cryptox.GenerateKey()
	wrapped, nonce, err := cryptox.SealKey(entityKey, env.masterKey)
	require.NoError(t, err)

	var keyFetches int
	env.api.getEntityKey = func(ctx context.Context, typ models.EntityType) (*models.EntityKey, error) {
		keyFetches++
		return &models.EntityKey{Type: typ, EncryptedKey: wrapped, Nonce: nonce}, nil
	}

	data, header, err := cryptox.SealKey([]byte(`{"name":"Home"}`), entityKey)
	require.NoError(t, err)
	env.api.getEntityDiff = func(ctx context.Context, typ models.EntityType, sinceTime int64, limit int) ([]models.EntityRecord, error) {
		if sinceTime >= 100 {
			return nil, nil
		}
		return []models.EntityRecord{
			{ID: "tag1", Type: typ, Data: data, Header: header, UpdatedAt: 100},
		}, nil
	}

	got, err := env.engine.SyncEntities(ctx, models.EntityTypeLocationTag)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"name":"Home"}`, string(got[0].JSON))

	// stored key is reused on the next pass
	_, err = env.engine.SyncEntities(ctx, models.EntityTypeLocationTag)
	require.NoError(t, err)
	assert.Equal(t, 1, keyFetches)

	wm, err := syncstate.NewSQLiteRepository(env.db).Get(ctx, syncstate.EntityKeyFor("location"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), wm)
}
