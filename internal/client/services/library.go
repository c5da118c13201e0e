package services

import (
	"context"
	"database/sql"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/avelt/photovault/internal/client/blobcache"
	"github.com/avelt/photovault/internal/client/export"
	"github.com/avelt/photovault/internal/client/ml"
	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/client/notify"
	"github.com/avelt/photovault/internal/client/repositories/files"
	"github.com/avelt/photovault/internal/client/repositories/mlindex"
	"github.com/avelt/photovault/internal/client/syncer"
	"github.com/avelt/photovault/internal/logging"
)

// mlBackgroundConcurrency is the worker count of the background indexing
// context; the interactive context always runs depth 1.
const mlBackgroundConcurrency = 4

// LibraryService drives full library passes: diff sync, on-device indexing
// and export. The ML orchestrator and exporter are optional; a nil value
// skips that phase.
type LibraryService struct {
	db       *sql.DB
	engine   *syncer.Engine
	ml       *ml.Orchestrator
	exporter *export.Exporter
	bus      *notify.Bus
	cache    *blobcache.Cache
	log      logging.Logger
	mlCfg    ml.Config

	mu sync.Mutex
	// latest surfaced sets of a completed sync pass, consumed by export
	cols  []models.Collection
	files []models.MediaFile
	trash []models.TrashItem
	stale bool // local library changed since the last export run
}

func NewLibraryService(db *sql.DB, engine *syncer.Engine, orch *ml.Orchestrator, exporter *export.Exporter, cache *blobcache.Cache, bus *notify.Bus, mlCfg ml.Config, log logging.Logger) *LibraryService {
	s := &LibraryService{
		db:       db,
		engine:   engine,
		ml:       orch,
		exporter: exporter,
		bus:      bus,
		cache:    cache,
		mlCfg:    mlCfg,
		log:      log.With("component", "library"),
	}
	s.registerHandlers()
	return s
}

// registerHandlers wires the event bus: logout tears down ML contexts,
// uploaded files are indexed immediately, local changes mark the export
// tree stale.
func (s *LibraryService) registerHandlers() {
	bus := s.bus
	bus.Subscribe(notify.EventLogout, func(ctx context.Context, n notify.Notification) {
		if s.ml != nil {
			s.ml.DisposeAll()
		}
	})
	bus.Subscribe(notify.EventFileUploaded, func(ctx context.Context, n notify.Notification) {
		if s.ml == nil || n.File == nil {
			return
		}
		if err := s.ml.SyncFile(ctx, n.File.ID); err != nil {
			s.log.Error(ctx, "indexing uploaded file failed", "file", n.File.ID, "error", err)
		}
	})
	bus.Subscribe(notify.EventLocalFilesUpdated, func(ctx context.Context, n notify.Notification) {
		s.mu.Lock()
		s.stale = true
		s.mu.Unlock()
	})
}

// Sync runs one full diff pass over every synced domain, then a background
// indexing batch. Partial progress is durable; rerunning continues where
// the pass left off.
func (s *LibraryService) Sync(ctx context.Context) error {
	cols, err := s.engine.SyncCollections(ctx)
	if err != nil {
		return err
	}

	fs, err := s.engine.SyncFiles(ctx, cols, nil)
	if err != nil {
		return err
	}

	var trash []models.TrashItem
	if err := s.engine.SyncTrash(ctx, cols, func(items []models.TrashItem) { trash = items }); err != nil {
		return err
	}

	if _, err := s.engine.SyncEntities(ctx, models.EntityTypeLocationTag); err != nil {
		return err
	}
	if err := s.engine.SyncEmbeddings(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.cols, s.files, s.trash = cols, fs, trash
	s.stale = true
	s.mu.Unlock()
	s.bus.Publish(ctx, notify.Notification{Event: notify.EventLocalFilesUpdated})

	if s.ml != nil {
		sc := s.ml.GetOrCreateContext(ml.ContextBackground, mlBackgroundConcurrency)
		if err := s.ml.Sync(ctx, sc); err != nil {
			return err
		}
	}
	return nil
}

// Export mirrors the last synced state into the export folder. Runs a sync
// first when none happened yet, and is a no-op while nothing changed since
// the previous export.
func (s *LibraryService) Export(ctx context.Context) error {
	if s.exporter == nil {
		s.log.Warn(ctx, "export requested but no export folder configured")
		return nil
	}

	s.mu.Lock()
	have := s.cols != nil
	stale := s.stale
	s.mu.Unlock()
	if !have {
		if err := s.Sync(ctx); err != nil {
			return err
		}
	} else if !stale {
		s.log.Debug(ctx, "export tree current, nothing to do")
		return nil
	}

	s.mu.Lock()
	cols, fs := s.cols, s.files
	s.mu.Unlock()

	if err := s.exporter.Run(ctx, cols, fs); err != nil {
		return err
	}

	s.mu.Lock()
	s.stale = false
	s.mu.Unlock()
	return nil
}

// Status summarizes the local library state.
type Status struct {
	Collections    int
	Files          int
	TrashItems     int
	OutOfSyncFiles int64
	CacheSize      string
}

func (s *LibraryService) Status(ctx context.Context) (*Status, error) {
	ids, err := files.NewSQLiteRepository(s.db).AllIDs(ctx)
	if err != nil {
		return nil, err
	}

	var outOfSync int64
	if s.ml != nil {
		outOfSync, err = mlindex.NewSQLiteRepository(s.db).OutOfSyncCount(ctx, s.mlCfg.MLVersion, s.mlCfg.ImageSource, s.mlCfg.MaxErrorCount)
		if err != nil {
			return nil, err
		}
	}

	cacheSize, err := s.cache.TotalSize(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return &Status{
		Collections:    len(s.cols),
		Files:          len(ids),
		TrashItems:     len(s.trash),
		OutOfSyncFiles: outOfSync,
		CacheSize:      humanize.IBytes(uint64(cacheSize)),
	}, nil
}

// Logout publishes the logout event and drops session-scoped in-memory
// state. Cached credentials are the auth service's business.
func (s *LibraryService) Logout(ctx context.Context) {
	s.bus.Publish(ctx, notify.Notification{Event: notify.EventLogout})
	s.bus.Reset()

	s.mu.Lock()
	s.cols, s.files, s.trash = nil, nil, nil
	s.mu.Unlock()
}
