package ml

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"image"
	"image/png"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelt/photovault/internal/client/blobcache"
	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/client/repositories/files"
	"github.com/avelt/photovault/internal/client/repositories/mlindex"
	"github.com/avelt/photovault/internal/client/storage"
	"github.com/avelt/photovault/internal/common"
	"github.com/avelt/photovault/internal/logging"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

type fakeDownloads struct {
	thumb      []byte
	file       []byte
	thumbCalls int
	fileCalls  int
}

func (d *fakeDownloads) GetThumbnail(ctx context.Context, f *models.MediaFile, localOnly bool) ([]byte, error) {
	d.thumbCalls++
	return d.thumb, nil
}

func (d *fakeDownloads) GetFile(ctx context.Context, f *models.MediaFile, cacheInMemory bool) (io.ReadCloser, error) {
	d.fileCalls++
	return io.NopCloser(bytes.NewReader(d.file)), nil
}

type fakeDetector struct {
	method models.MethodVersion
	dets   []models.FaceDetection
	err    error
	calls  int
}

func (f *fakeDetector) Method() models.MethodVersion { return f.method }
func (f *fakeDetector) DetectFaces(ctx context.Context, img *Image) ([]models.FaceDetection, error) {
	f.calls++
	return f.dets, f.err
}

type fakeCropper struct {
	method models.MethodVersion
	err    error
	calls  int
}

func (f *fakeCropper) Method() models.MethodVersion { return f.method }
func (f *fakeCropper) CropFace(ctx context.Context, img *Image, det models.FaceDetection) ([]byte, error) {
	f.calls++
	return []byte("crop"), f.err
}

type fakeAligner struct {
	method models.MethodVersion
	err    error
	calls  int
}

func (f *fakeAligner) Method() models.MethodVersion { return f.method }
func (f *fakeAligner) AlignFace(ctx context.Context, img *Image, det models.FaceDetection) (models.FaceAlignment, error) {
	f.calls++
	return models.FaceAlignment{Center: models.Point{X: 0.5, Y: 0.5}, Size: 0.4}, f.err
}

type fakeEmbedder struct {
	method    models.MethodVersion
	embedding []float32
	err       error
	calls     int
}

func (f *fakeEmbedder) Method() models.MethodVersion { return f.method }
func (f *fakeEmbedder) EmbedFaces(ctx context.Context, img *Image, aligns []models.FaceAlignment) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(aligns))
	for i := range out {
		out[i] = f.embedding
	}
	return out, nil
}

type fakeObjects struct {
	method models.MethodVersion
	objs   []models.DetectedObject
	calls  int
}

func (f *fakeObjects) Method() models.MethodVersion { return f.method }
func (f *fakeObjects) DetectObjects(ctx context.Context, img *Image) ([]models.DetectedObject, error) {
	f.calls++
	return f.objs, nil
}

type fakeScenes struct {
	method models.MethodVersion
	objs   []models.DetectedObject
	calls  int
}

func (f *fakeScenes) Method() models.MethodVersion { return f.method }
func (f *fakeScenes) DetectScenes(ctx context.Context, img *Image) ([]models.DetectedObject, error) {
	f.calls++
	return f.objs, nil
}

type mlRig struct {
	db       *sql.DB
	cfg      Config
	dl       *fakeDownloads
	crops    *blobcache.Cache
	detector *fakeDetector
	cropper  *fakeCropper
	aligner  *fakeAligner
	embedder *fakeEmbedder
	objects  *fakeObjects
	scenes   *fakeScenes
}

func newMLRig(t *testing.T) *mlRig {
	t.Helper()
	db, err := storage.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	crops, err := blobcache.New(db, t.TempDir(), 1<<30, logging.Discard())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.MinFaceCount = 1

	return &mlRig{
		db:    db,
		cfg:   cfg,
		dl:    &fakeDownloads{thumb: pngBytes(t, 8, 6)},
		crops: crops,
		detector: &fakeDetector{
			method: models.MethodVersion{Name: "det", Version: 1},
			dets: []models.FaceDetection{
				{Box: models.Box{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}, Score: 0.9},
			},
		},
		cropper:  &fakeCropper{method: models.MethodVersion{Name: "crop", Version: 1}},
		aligner:  &fakeAligner{method: models.MethodVersion{Name: "align", Version: 1}},
		embedder: &fakeEmbedder{method: models.MethodVersion{Name: "embed", Version: 1}, embedding: []float32{1, 0}},
		objects: &fakeObjects{
			method: models.MethodVersion{Name: "obj", Version: 1},
			objs:   []models.DetectedObject{{ClassName: "cat", Detection: models.ObjectDetection{Score: 0.8}}},
		},
		scenes: &fakeScenes{
			method: models.MethodVersion{Name: "scene", Version: 1},
			objs:   []models.DetectedObject{{ClassName: "beach", Detection: models.ObjectDetection{Score: 0.7}}},
		},
	}
}

func (r *mlRig) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o := NewOrchestrator(r.cfg, r.db, logging.Discard(),
		NewSourceResolver(r.cfg, r.dl), r.crops, Strategies{
			Detector: r.detector,
			Cropper:  r.cropper,
			Aligner:  r.aligner,
			Embedder: r.embedder,
			Objects:  r.objects,
			Scenes:   r.scenes,
		})
	t.Cleanup(o.DisposeAll)
	return o
}

func (r *mlRig) seedFiles(t *testing.T, ids ...int64) {
	t.Helper()
	fs := make([]models.MediaFile, 0, len(ids))
	for _, id := range ids {
		fs = append(fs, models.MediaFile{
			ID:           id,
			CollectionID: 10,
			UpdationTime: 100 + id,
			Key:          []byte("file-key"),
			Metadata:     &models.FileMetadata{Title: fmt.Sprintf("f%d", id), FileType: models.FileTypeImage},
		})
	}
	require.NoError(t, files.NewSQLiteRepository(r.db).UpsertBatch(context.Background(), fs))
}

func TestSyncFile_IndexesAndPersists(t *testing.T) {
	ctx := context.Background()
	rig := newMLRig(t)
	rig.seedFiles(t, 1)
	o := rig.orchestrator(t)

	require.NoError(t, o.SyncFile(ctx, 1))

	repo := mlindex.NewSQLiteRepository(rig.db)
	got, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, rig.cfg.MLVersion, got.MLVersion)
	assert.Equal(t, models.ImageSourceThumbnail, got.ImageSource)
	assert.Equal(t, 8, got.ImageWidth)
	assert.Equal(t, 6, got.ImageHeight)

	require.Len(t, got.Faces, 1)
	face := got.Faces[0]
	assert.Equal(t, "1_0.10_0.20_0.30_0.40", face.ID)
	require.NotNil(t, face.Alignment)
	assert.Equal(t, []float32{1, 0}, face.Embedding)

	// object and scene hits land in one merged list
	require.Len(t, got.Objects, 2)
	assert.Equal(t, "cat", got.Objects[0].ClassName)
	assert.Equal(t, "beach", got.Objects[1].ClassName)
	assert.Equal(t, int64(1), got.Objects[0].FileID)

	ok, err := rig.crops.Has(ctx, "crop:"+face.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	v, err := repo.IndexVersion(ctx, mlindex.NamespaceFiles)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestSyncFile_SecondRunReusesEveryStage(t *testing.T) {
	ctx := context.Background()
	rig := newMLRig(t)
	rig.seedFiles(t, 1)
	o := rig.orchestrator(t)

	require.NoError(t, o.SyncFile(ctx, 1))
	require.NoError(t, o.SyncFile(ctx, 1))

	assert.Equal(t, 1, rig.detector.calls)
	assert.Equal(t, 1, rig.cropper.calls)
	assert.Equal(t, 1, rig.aligner.calls)
	assert.Equal(t, 1, rig.embedder.calls)
	assert.Equal(t, 1, rig.objects.calls)
	assert.Equal(t, 1, rig.scenes.calls)

	got, err := mlindex.NewSQLiteRepository(rig.db).Get(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got.Faces, 1)
	assert.Equal(t, []float32{1, 0}, got.Faces[0].Embedding)
}

func TestSyncFile_EmbedderBumpRecomputesOnlyEmbeddings(t *testing.T) {
	ctx := context.Background()
	rig := newMLRig(t)
	rig.seedFiles(t, 1)

	o := rig.orchestrator(t)
	require.NoError(t, o.SyncFile(ctx, 1))
	o.DisposeAll()

	rig.embedder.method.Version = 2
	rig.embedder.embedding = []float32{0, 1}
	o2 := rig.orchestrator(t)
	require.NoError(t, o2.SyncFile(ctx, 1))

	// detection chain upstream of the embedder is untouched
	assert.Equal(t, 1, rig.detector.calls)
	assert.Equal(t, 1, rig.cropper.calls)
	assert.Equal(t, 1, rig.aligner.calls)
	assert.Equal(t, 2, rig.embedder.calls)
	assert.Equal(t, 1, rig.objects.calls)

	got, err := mlindex.NewSQLiteRepository(rig.db).Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, got.Faces[0].Embedding)
}

func TestSync_RecordsPerFileFailureAndContinues(t *testing.T) {
	ctx := context.Background()
	rig := newMLRig(t)
	rig.seedFiles(t, 1, 2)
	rig.detector.err = fmt.Errorf("model crashed")
	o := rig.orchestrator(t)

	sc := o.GetOrCreateContext(ContextBackground, 1)
	require.NoError(t, o.Sync(ctx, sc))

	repo := mlindex.NewSQLiteRepository(rig.db)
	for _, id := range []int64{1, 2} {
		got, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, got.MLVersion, "file %d version must not advance", id)
		assert.Equal(t, 1, got.ErrorCount, "file %d", id)
		assert.Contains(t, got.LastErrorMessage, "model crashed")
	}
}

func TestSync_SessionExpiredAbortsBatch(t *testing.T) {
	ctx := context.Background()
	rig := newMLRig(t)
	rig.seedFiles(t, 1, 2, 3)
	rig.detector.err = fmt.Errorf("refresh: %w", common.ErrSessionExpired)
	o := rig.orchestrator(t)

	sc := o.GetOrCreateContext(ContextBackground, 1)
	err := o.Sync(ctx, sc)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrSessionExpired)

	// fatal errors are not charged against individual files
	repo := mlindex.NewSQLiteRepository(rig.db)
	for _, id := range []int64{1, 2, 3} {
		got, gerr := repo.Get(ctx, id)
		require.NoError(t, gerr)
		assert.Equal(t, 0, got.ErrorCount, "file %d", id)
	}
}

func TestSync_ClustersOnceCaughtUp(t *testing.T) {
	ctx := context.Background()
	rig := newMLRig(t)
	rig.seedFiles(t, 1, 2)
	o := rig.orchestrator(t)

	sc := o.GetOrCreateContext(ContextBackground, 2)
	require.NoError(t, o.Sync(ctx, sc))

	repo := mlindex.NewSQLiteRepository(rig.db)
	people, err := repo.GetPeople(ctx)
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.ElementsMatch(t, []int64{1, 2}, people[0].FileIDs)

	things, err := repo.GetThings(ctx)
	require.NoError(t, err)
	require.Len(t, things, 2)

	filesVer, err := repo.IndexVersion(ctx, mlindex.NamespaceFiles)
	require.NoError(t, err)
	peopleVer, err := repo.IndexVersion(ctx, mlindex.NamespacePeople)
	require.NoError(t, err)
	assert.Equal(t, filesVer, peopleVer)
}

func TestSync_PartialBatchClusteringIsProbabilistic(t *testing.T) {
	ctx := context.Background()
	rig := newMLRig(t)
	rig.cfg.BatchSize = 1
	rig.seedFiles(t, 1, 2, 3)
	o := rig.orchestrator(t)
	o.rng = func() float64 { return 0.99 } // above ClusterChance, never cluster

	sc := o.GetOrCreateContext(ContextBackground, 1)
	require.NoError(t, o.Sync(ctx, sc))

	repo := mlindex.NewSQLiteRepository(rig.db)
	people, err := repo.GetPeople(ctx)
	require.NoError(t, err)
	assert.Empty(t, people, "full batch with losing roll must not cluster")

	o.rng = func() float64 { return 0.0 } // winning roll
	require.NoError(t, o.Sync(ctx, sc))
	people, err = repo.GetPeople(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, people)
}

func TestCluster_NoOpWithoutFilesIndexAdvance(t *testing.T) {
	ctx := context.Background()
	rig := newMLRig(t)
	rig.seedFiles(t, 1)
	o := rig.orchestrator(t)

	sc := o.GetOrCreateContext(ContextBackground, 1)
	require.NoError(t, o.Sync(ctx, sc))

	repo := mlindex.NewSQLiteRepository(rig.db)
	people, err := repo.GetPeople(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, people)

	// wipe the result; a second pass without new file work must not rebuild
	require.NoError(t, repo.ReplacePeople(ctx, nil))
	require.NoError(t, o.Cluster(ctx))
	people, err = repo.GetPeople(ctx)
	require.NoError(t, err)
	assert.Empty(t, people)
}

func TestCluster_SkipsFacesBelowMinCount(t *testing.T) {
	ctx := context.Background()
	rig := newMLRig(t)
	rig.cfg.MinFaceCount = 50
	rig.seedFiles(t, 1)
	o := rig.orchestrator(t)

	sc := o.GetOrCreateContext(ContextBackground, 1)
	require.NoError(t, o.Sync(ctx, sc))

	repo := mlindex.NewSQLiteRepository(rig.db)
	people, err := repo.GetPeople(ctx)
	require.NoError(t, err)
	assert.Empty(t, people)

	// the people version stays behind so a later pass retries
	peopleVer, err := repo.IndexVersion(ctx, mlindex.NamespacePeople)
	require.NoError(t, err)
	assert.Equal(t, int64(0), peopleVer)

	// things are not face-gated
	things, err := repo.GetThings(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, things)
}

func TestSync_SkipsExhaustedFiles(t *testing.T) {
	ctx := context.Background()
	rig := newMLRig(t)
	rig.cfg.MaxErrorCount = 2
	rig.seedFiles(t, 1)
	rig.detector.err = fmt.Errorf("model crashed")
	o := rig.orchestrator(t)

	sc := o.GetOrCreateContext(ContextBackground, 1)
	require.NoError(t, o.Sync(ctx, sc))
	require.NoError(t, o.Sync(ctx, sc))
	require.NoError(t, o.Sync(ctx, sc))

	// two failures hit the ceiling; the third pass no longer selects the file
	assert.Equal(t, 2, rig.detector.calls)
}

func TestJoinCtx_PropagatesAndReleases(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	defer cancelParent()
	scoped, cancelScoped := context.WithCancel(context.Background())
	defer cancelScoped()

	joined, release := joinCtx(parent, scoped)
	require.NoError(t, joined.Err())

	// cancelling the sync-context side cancels the joined context
	cancelScoped()
	<-joined.Done()
	release()

	// releasing a finished task frees its context without touching the parent
	joined2, release2 := joinCtx(parent, context.Background())
	release2()
	assert.ErrorIs(t, joined2.Err(), context.Canceled)
	assert.NoError(t, parent.Err())
}
