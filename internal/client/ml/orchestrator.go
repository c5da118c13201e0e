package ml

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/avelt/photovault/internal/client/blobcache"
	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/client/repositories/files"
	"github.com/avelt/photovault/internal/client/repositories/mlindex"
	"github.com/avelt/photovault/internal/client/taskq"
	"github.com/avelt/photovault/internal/common"
	"github.com/avelt/photovault/internal/dbx"
	"github.com/avelt/photovault/internal/logging"
)

// Context names used by the service layer. The interactive context indexes
// one explicitly requested file at a time; the background context works
// through batches. They never share queues, so a heavy batch cannot starve
// an interactive request.
const (
	ContextInteractive = "interactive"
	ContextBackground  = "background"
)

// Strategies bundles the pluggable stage implementations.
type Strategies struct {
	Detector FaceDetector
	Cropper  FaceCropper
	Aligner  FaceAligner
	Embedder FaceEmbedder
	Objects  ObjectDetector
	Scenes   SceneDetector
}

// SyncContext is one named indexing context: a dedicated queue plus a
// cancellation scope tearing down its in-flight work.
type SyncContext struct {
	name   string
	queue  *taskq.Queue[struct{}]
	ctx    context.Context
	cancel context.CancelFunc
}

// Orchestrator drives the per-file enrichment state machine and the
// clustering passes built on top of it.
type Orchestrator struct {
	cfg      Config
	db       *sql.DB
	log      logging.Logger
	resolver *SourceResolver
	crops    *blobcache.Cache
	strat    Strategies

	// rng drives the probabilistic clustering trigger; injected for tests.
	rng func() float64

	mu       sync.Mutex
	contexts map[string]*SyncContext
}

func NewOrchestrator(cfg Config, db *sql.DB, log logging.Logger, resolver *SourceResolver, crops *blobcache.Cache, strat Strategies) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		db:       db,
		log:      log.With("component", "ml"),
		resolver: resolver,
		crops:    crops,
		strat:    strat,
		rng:      rand.Float64,
		contexts: make(map[string]*SyncContext),
	}
}

// GetOrCreateContext returns the named context, creating it on first use.
// The create-or-reuse contract is deliberate: callers must not assume a
// fresh context per call.
func (o *Orchestrator) GetOrCreateContext(name string, concurrency int) *SyncContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sc, ok := o.contexts[name]; ok {
		return sc
	}
	ctx, cancel := context.WithCancel(context.Background())
	sc := &SyncContext{name: name, ctx: ctx, cancel: cancel}
	sc.queue = taskq.New("ml-"+name, concurrency, taskq.WithErrorCallback[struct{}](func(err error) {
		if isFatal(err) {
			sc.queue.Clear(err)
		}
	}))
	o.contexts[name] = sc
	return sc
}

// DisposeContext cancels the named context's in-flight work and removes it.
func (o *Orchestrator) DisposeContext(name string) {
	o.mu.Lock()
	sc, ok := o.contexts[name]
	delete(o.contexts, name)
	o.mu.Unlock()
	if !ok {
		return
	}
	sc.cancel()
	sc.queue.Close()
}

// DisposeAll tears down every context, used on logout.
func (o *Orchestrator) DisposeAll() {
	o.mu.Lock()
	names := make([]string, 0, len(o.contexts))
	for name := range o.contexts {
		names = append(names, name)
	}
	o.mu.Unlock()
	for _, name := range names {
		o.DisposeContext(name)
	}
}

// isFatal classifies errors that abort a whole batch rather than being
// recorded against one file: an expired session or an unreachable backend
// would fail every remaining file the same way.
func isFatal(err error) bool {
	return errors.Is(err, common.ErrSessionExpired) ||
		errors.Is(err, common.ErrUnavailable) ||
		errors.Is(err, common.ErrCancelled) ||
		errors.Is(err, context.Canceled)
}

// Sync runs one batch through the named context: seed records for newly
// known files, index out-of-sync ones, then maybe cluster. Per-file errors
// are recorded and absorbed; fatal errors abort the batch.
func (o *Orchestrator) Sync(ctx context.Context, sc *SyncContext) error {
	mlRepo := mlindex.NewSQLiteRepository(o.db)

	ids, err := files.NewSQLiteRepository(o.db).AllIDs(ctx)
	if err != nil {
		return err
	}
	if err := mlRepo.EnsureRecords(ctx, ids); err != nil {
		return err
	}

	batch, err := mlRepo.OutOfSyncFileIDs(ctx, o.cfg.MLVersion, o.cfg.ImageSource, o.cfg.MaxErrorCount, o.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return o.Cluster(ctx)
	}

	handles := make([]*taskq.Handle[struct{}], 0, len(batch))
	releases := make([]context.CancelFunc, 0, len(batch))
	for _, fileID := range batch {
		fileID := fileID
		taskCtx, release := joinCtx(ctx, sc.ctx)
		releases = append(releases, release)
		handles = append(handles, sc.queue.Add(taskCtx, func(taskCtx context.Context) (struct{}, error) {
			return struct{}{}, o.syncFileWithErrorHandler(taskCtx, fileID)
		}))
	}

	var fatal error
	for i, h := range handles {
		_, err := h.Wait(ctx)
		releases[i]()
		if err != nil && fatal == nil && isFatal(err) {
			fatal = err
		}
	}
	if fatal != nil {
		return fatal
	}

	remaining, err := mlRepo.OutOfSyncCount(ctx, o.cfg.MLVersion, o.cfg.ImageSource, o.cfg.MaxErrorCount)
	if err != nil {
		return err
	}
	fullBatch := len(batch) == o.cfg.BatchSize
	if remaining == 0 || (fullBatch && o.rng() < o.cfg.ClusterChance) {
		return o.Cluster(ctx)
	}
	return nil
}

// SyncFile indexes one file immediately through the interactive context.
func (o *Orchestrator) SyncFile(ctx context.Context, fileID int64) error {
	sc := o.GetOrCreateContext(ContextInteractive, 1)
	taskCtx, release := joinCtx(ctx, sc.ctx)
	defer release()
	h := sc.queue.Add(taskCtx, func(taskCtx context.Context) (struct{}, error) {
		return struct{}{}, o.syncFile(taskCtx, fileID, "")
	})
	_, err := h.Wait(ctx)
	return err
}

func (o *Orchestrator) syncFileWithErrorHandler(ctx context.Context, fileID int64) error {
	err := o.syncFile(ctx, fileID, "")
	if err == nil {
		return nil
	}
	if isFatal(err) {
		return err
	}
	o.log.Error(ctx, "file indexing failed", "file", fileID, "error", err)
	if rerr := mlindex.NewSQLiteRepository(o.db).RecordFailure(ctx, fileID, err.Error()); rerr != nil {
		o.log.Error(ctx, "failed to record indexing failure", "file", fileID, "error", rerr)
	}
	return nil
}

// syncFile runs the full stage pipeline for one file and persists the
// record in a single transaction once every stage succeeded.
func (o *Orchestrator) syncFile(ctx context.Context, fileID int64, localPath string) error {
	f, err := files.NewSQLiteRepository(o.db).Get(ctx, fileID)
	if err != nil {
		return err
	}
	mlRepo := mlindex.NewSQLiteRepository(o.db)
	old, err := mlRepo.Get(ctx, fileID)
	if errors.Is(err, common.ErrorNotFound) {
		old = &models.MLFileData{FileID: fileID}
	} else if err != nil {
		return err
	}

	img, err := o.resolver.Resolve(ctx, f, localPath)
	if err != nil {
		return err
	}

	next := &models.MLFileData{
		FileID:      fileID,
		MLVersion:   o.cfg.MLVersion,
		ImageSource: img.Source,
		ImageWidth:  img.Width,
		ImageHeight: img.Height,

		FaceDetectionMethod:   o.strat.Detector.Method(),
		FaceCropMethod:        o.strat.Cropper.Method(),
		FaceAlignmentMethod:   o.strat.Aligner.Method(),
		FaceEmbeddingMethod:   o.strat.Embedder.Method(),
		ObjectDetectionMethod: o.strat.Objects.Method(),
		SceneDetectionMethod:  o.strat.Scenes.Method(),
	}

	// face pipeline and object/scene branch are independent per file
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		faces, err := o.runFacePipeline(ctx, img, f, old)
		if err != nil {
			return err
		}
		next.Faces = faces
		return nil
	})
	p.Go(func(ctx context.Context) error {
		objects, err := o.runObjectBranch(ctx, img, f, old)
		if err != nil {
			return err
		}
		next.Objects = objects
		return nil
	})
	if err := p.Wait(); err != nil {
		return err
	}

	return dbx.WithTx(ctx, o.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := mlindex.NewSQLiteRepository(tx)
		if err := repo.Upsert(ctx, next); err != nil {
			return err
		}
		_, err := repo.BumpIndexVersion(ctx, mlindex.NamespaceFiles)
		return err
	})
}

func (o *Orchestrator) runFacePipeline(ctx context.Context, img *Image, f *models.MediaFile, old *models.MLFileData) ([]models.Face, error) {
	faces, detOutcome := o.runDetection(img, old)
	var err error
	if detOutcome == OutcomeRecomputed {
		if faces, err = o.detectFaces(ctx, img, f); err != nil {
			return nil, fmt.Errorf("face detection: %w", err)
		}
	}

	if err := o.runCrops(ctx, img, old, faces, detOutcome); err != nil {
		return nil, fmt.Errorf("face crop: %w", err)
	}

	alignOutcome, err := o.runAlignment(ctx, img, old, faces, detOutcome)
	if err != nil {
		return nil, fmt.Errorf("face alignment: %w", err)
	}

	if err := o.runEmbedding(ctx, img, old, faces, alignOutcome); err != nil {
		return nil, fmt.Errorf("face embedding: %w", err)
	}
	return faces, nil
}

// runDetection decides reuse; the actual detector call happens in
// detectFaces so the reuse decision stays side-effect free.
func (o *Orchestrator) runDetection(img *Image, old *models.MLFileData) ([]models.Face, Outcome) {
	if old.MLVersion > 0 &&
		old.FaceDetectionMethod == o.strat.Detector.Method() &&
		old.ImageSource == img.Source {
		return cloneFaces(old.Faces), OutcomeReused
	}
	return nil, OutcomeRecomputed
}

func (o *Orchestrator) detectFaces(ctx context.Context, img *Image, f *models.MediaFile) ([]models.Face, error) {
	dets, err := o.strat.Detector.DetectFaces(ctx, img)
	if err != nil {
		return nil, err
	}
	faces := make([]models.Face, len(dets))
	for i, d := range dets {
		faces[i] = models.Face{ID: d.FaceID(f.ID), FileID: f.ID, Detection: d}
	}
	return faces, nil
}

func (o *Orchestrator) runCrops(ctx context.Context, img *Image, old *models.MLFileData, faces []models.Face, detOutcome Outcome) error {
	if detOutcome == OutcomeReused &&
		old.FaceCropMethod == o.strat.Cropper.Method() &&
		sameIDs(old.FaceIDs(), faceIDs(faces)) {
		return nil
	}
	for i := range faces {
		blob, err := o.strat.Cropper.CropFace(ctx, img, faces[i].Detection)
		if err != nil {
			return err
		}
		key := "crop:" + faces[i].ID
		if err := o.crops.Put(ctx, key, blob); err != nil {
			// crop artifacts are display sugar; a full disk must not fail
			// the file
			o.log.Warn(ctx, "face crop cache put failed", "face", faces[i].ID, "error", err)
		}
		faces[i].CropKey = key
	}
	return nil
}

func (o *Orchestrator) runAlignment(ctx context.Context, img *Image, old *models.MLFileData, faces []models.Face, detOutcome Outcome) (Outcome, error) {
	if detOutcome == OutcomeReused &&
		old.FaceAlignmentMethod == o.strat.Aligner.Method() &&
		sameIDs(old.FaceIDs(), faceIDs(faces)) {
		return OutcomeReused, nil
	}
	for i := range faces {
		a, err := o.strat.Aligner.AlignFace(ctx, img, faces[i].Detection)
		if err != nil {
			return OutcomeRecomputed, err
		}
		faces[i].Alignment = &a
	}
	return OutcomeRecomputed, nil
}

// runEmbedding embeds all faces of the file in one batched call and
// scatters the vectors back.
func (o *Orchestrator) runEmbedding(ctx context.Context, img *Image, old *models.MLFileData, faces []models.Face, alignOutcome Outcome) error {
	if alignOutcome == OutcomeReused &&
		old.FaceEmbeddingMethod == o.strat.Embedder.Method() &&
		sameIDs(old.FaceIDs(), faceIDs(faces)) {
		return nil
	}
	if len(faces) == 0 {
		return nil
	}
	aligns := make([]models.FaceAlignment, len(faces))
	for i := range faces {
		if faces[i].Alignment == nil {
			return fmt.Errorf("face %s has no alignment", faces[i].ID)
		}
		aligns[i] = *faces[i].Alignment
	}
	vecs, err := o.strat.Embedder.EmbedFaces(ctx, img, aligns)
	if err != nil {
		return err
	}
	if len(vecs) != len(faces) {
		return fmt.Errorf("embedder returned %d vectors for %d faces", len(vecs), len(faces))
	}
	for i := range faces {
		faces[i].Embedding = vecs[i]
	}
	return nil
}

func (o *Orchestrator) runObjectBranch(ctx context.Context, img *Image, f *models.MediaFile, old *models.MLFileData) ([]models.DetectedObject, error) {
	if old.MLVersion > 0 &&
		old.ObjectDetectionMethod == o.strat.Objects.Method() &&
		old.SceneDetectionMethod == o.strat.Scenes.Method() &&
		old.ImageSource == img.Source {
		return cloneObjects(old.Objects), nil
	}

	objs, err := o.strat.Objects.DetectObjects(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("object detection: %w", err)
	}
	scenes, err := o.strat.Scenes.DetectScenes(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("scene detection: %w", err)
	}

	merged := append(objs, scenes...)
	for i := range merged {
		merged[i].FileID = f.ID
		merged[i].ID = objectID(f.ID, &merged[i])
	}
	return merged, nil
}

// objectID derives a stable id from the file and detection geometry, like
// FaceID does for faces.
func objectID(fileID int64, obj *models.DetectedObject) string {
	return fmt.Sprintf("%d_%s_%.2f_%.2f_%.2f_%.2f",
		fileID, obj.ClassName,
		obj.Detection.Box.X, obj.Detection.Box.Y,
		obj.Detection.Box.Width, obj.Detection.Box.Height)
}

func faceIDs(faces []models.Face) []string {
	ids := make([]string, len(faces))
	for i, f := range faces {
		ids[i] = f.ID
	}
	return ids
}

// sameIDs compares order-sensitively: a reordered detection set counts as
// changed.
func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cloneFaces(faces []models.Face) []models.Face {
	out := make([]models.Face, len(faces))
	copy(out, faces)
	return out
}

func cloneObjects(objs []models.DetectedObject) []models.DetectedObject {
	out := make([]models.DetectedObject, len(objs))
	copy(out, objs)
	return out
}

// joinCtx derives a context cancelled when either input is. The returned
// release must be called once the work finishes or the child context and its
// watcher stay alive until the parent ends.
func joinCtx(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
