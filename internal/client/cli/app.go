// Package cli is the interactive photovault client: a small prompt-driven
// shell over the auth and library services. Login builds the session-scoped
// service graph; sync, export and status operate on it.
package cli

import (
	"bufio"
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"

	"github.com/avelt/photovault/internal/client/api"
	"github.com/avelt/photovault/internal/client/blobcache"
	"github.com/avelt/photovault/internal/client/config"
	"github.com/avelt/photovault/internal/client/download"
	"github.com/avelt/photovault/internal/client/export"
	"github.com/avelt/photovault/internal/client/ml"
	"github.com/avelt/photovault/internal/client/notify"
	"github.com/avelt/photovault/internal/client/services"
	"github.com/avelt/photovault/internal/client/storage"
	"github.com/avelt/photovault/internal/client/syncer"
	"github.com/avelt/photovault/internal/filex"
	"github.com/avelt/photovault/internal/logging"
)

// AuthService is the slice of the auth service the shell needs; a fake
// stands in during tests.
type AuthService interface {
	OnlineLogin(ctx context.Context, email string, password []byte) (*services.Session, error)
	OfflineLogin(ctx context.Context, email string, password []byte) (*services.Session, error)
	Register(ctx context.Context, email string, password []byte) error
	ClearOfflineData(ctx context.Context) error
}

// Library is the slice of the library service the shell needs.
type Library interface {
	Sync(ctx context.Context) error
	Export(ctx context.Context) error
	Status(ctx context.Context) (*services.Status, error)
	Logout(ctx context.Context)
}

type App struct {
	config *config.Config
	log    logging.Logger

	db   *sql.DB
	api  *api.HTTPClient
	auth AuthService

	// session-scoped, rebuilt on every login
	library Library
	session *services.Session

	reader *bufio.Reader
	out    io.Writer
}

func NewApp(cfg *config.Config, log logging.Logger) (*App, error) {
	ctx := context.Background()

	if _, err := filex.EnsureDir(cfg.DataDir); err != nil {
		return nil, err
	}
	db, err := storage.Open(ctx, filepath.Join(cfg.DataDir, "library.db"))
	if err != nil {
		return nil, err
	}

	apiClient := api.NewHTTPClient(cfg.APIBaseURL, log)

	return &App{
		config: cfg,
		log:    log,
		db:     db,
		api:    apiClient,
		auth:   services.NewAuthService(apiClient, db),
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}, nil
}

func (a *App) Run(ctx context.Context) {
	defer a.db.Close()
	a.Root(ctx)
}

func (a *App) isLoggedIn() bool {
	return a.session != nil
}

// buildLibrary assembles the session-scoped service graph once the keys are
// known.
func (a *App) buildLibrary(ctx context.Context, s *services.Session) error {
	engine := syncer.New(a.api, a.db, a.log, s.UserID, s.MasterKey, s.PublicKey, s.SecretKey)

	cacheDir, err := filex.EnsureSubDir(a.config.DataDir, "blobs")
	if err != nil {
		return err
	}
	cache, err := blobcache.New(a.db, cacheDir, a.config.BlobCacheSize, a.log)
	if err != nil {
		return err
	}

	var direct download.Retriever
	if a.config.DirectS3.Enabled {
		s3, err := download.NewS3Retriever(ctx, a.config.DirectS3)
		if err != nil {
			return err
		}
		direct = s3
	}
	manager := download.NewManager(download.NewAPIRetriever(a.api), direct, cache, a.log)

	var exporter *export.Exporter
	if a.config.ExportDir != "" {
		exporter, err = export.New(a.config.ExportDir, manager, a.log)
		if err != nil {
			return err
		}
	}

	// no strategy bundle ships with the shell; indexing stays off until a
	// detector/embedder implementation is plugged in
	var orch *ml.Orchestrator

	a.library = services.NewLibraryService(a.db, engine, orch, exporter, cache, notify.NewBus(), ml.DefaultConfig(), a.log)
	a.session = s
	return nil
}
