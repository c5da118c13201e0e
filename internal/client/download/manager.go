package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/avelt/photovault/internal/client/blobcache"
	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/common"
	"github.com/avelt/photovault/internal/cryptox"
	"github.com/avelt/photovault/internal/logging"
)

const (
	memTTL     = 15 * time.Minute
	memSweep   = 5 * time.Minute
	memMaxFile = 64 << 20 // only files up to this size go in the memory tier
)

// Manager serves decrypted thumbnails and file content through two cache
// tiers. Concurrent requests for the same blob share one fetch; a failed
// fetch is forgotten so a retry hits the network again. Cache population is
// best effort: a full disk never prevents serving the fetched bytes.
type Manager struct {
	retriever Retriever
	direct    Retriever // optional, used when the file carries an object key

	disk  *blobcache.Cache
	mem   *gocache.Cache
	group singleflight.Group
	log   logging.Logger
}

// NewManager builds a manager. direct may be nil.
func NewManager(retriever, direct Retriever, disk *blobcache.Cache, log logging.Logger) *Manager {
	return &Manager{
		retriever: retriever,
		direct:    direct,
		disk:      disk,
		mem:       gocache.New(memTTL, memSweep),
		log:       log.With("component", "download"),
	}
}

func thumbKey(fileID int64) string { return fmt.Sprintf("thumb:%d", fileID) }
func fileKey(fileID int64) string  { return fmt.Sprintf("file:%d", fileID) }

func (m *Manager) pick(f *models.MediaFile) Retriever {
	if m.direct != nil && f.ObjectKey != "" {
		return m.direct
	}
	return m.retriever
}

// GetThumbnail returns a file's decrypted thumbnail. With localOnly set it
// never touches the network and reports common.ErrorNotFound on a cache
// miss.
func (m *Manager) GetThumbnail(ctx context.Context, f *models.MediaFile, localOnly bool) ([]byte, error) {
	key := thumbKey(f.ID)
	if v, ok := m.mem.Get(key); ok {
		return v.([]byte), nil
	}
	data, err := m.disk.Get(ctx, key)
	if err == nil {
		m.mem.Set(key, data, gocache.DefaultExpiration)
		return data, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}
	if localOnly {
		return nil, common.ErrorNotFound
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		enc, err := m.pick(f).FetchThumbnail(ctx, f)
		if err != nil {
			return nil, err
		}
		plain, err := cryptox.DecryptBlob(enc, f.ThumbHeader, f.Key)
		if err != nil {
			m.log.Error(ctx, "thumbnail decrypt failed", "file", f.ID, "error", err)
			return nil, fmt.Errorf("thumbnail of file %d: %w", f.ID, common.ErrProcessingFailed)
		}
		if err := m.disk.Put(ctx, key, plain); err != nil {
			m.log.Warn(ctx, "thumbnail cache put failed", "file", f.ID, "error", err)
		}
		m.mem.Set(key, plain, gocache.DefaultExpiration)
		return plain, nil
	})
	if err != nil {
		m.group.Forget(key)
		return nil, err
	}
	return v.([]byte), nil
}

// GetFile returns a stream of the file's decrypted content. The blob is
// normally staged into the disk cache first so concurrent readers share one
// download; if staging fails for storage reasons the content is decrypted
// straight off the network instead. With cacheInMemory set, small files are
// additionally kept in the memory tier.
func (m *Manager) GetFile(ctx context.Context, f *models.MediaFile, cacheInMemory bool) (io.ReadCloser, error) {
	key := fileKey(f.ID)
	if cacheInMemory {
		if v, ok := m.mem.Get(key); ok {
			return io.NopCloser(bytes.NewReader(v.([]byte))), nil
		}
	}

	rc, err := m.disk.Open(ctx, key)
	if err == nil {
		return m.maybeMemoize(ctx, f, rc, cacheInMemory)
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	_, err, _ = m.group.Do(key, func() (any, error) {
		enc, err := m.pick(f).FetchFile(ctx, f)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		plain, err := cryptox.NewDecryptingReader(enc, f.FileHeader, f.Key)
		if err != nil {
			return nil, fmt.Errorf("file %d: %w", f.ID, common.ErrProcessingFailed)
		}
		return m.disk.PutFrom(ctx, key, plain)
	})
	if err != nil {
		m.group.Forget(key)
		if errors.Is(err, cryptox.ErrOpenFailed) {
			m.log.Error(ctx, "file decrypt failed mid-stream", "file", f.ID, "error", err)
			return nil, fmt.Errorf("file %d: %w", f.ID, common.ErrProcessingFailed)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, common.ErrCancelled) ||
			errors.Is(err, common.ErrProcessingFailed) {
			return nil, err
		}
		// likely a storage problem; the caller still gets their bytes
		m.log.Warn(ctx, "cache staging failed, streaming directly", "file", f.ID, "error", err)
		return m.streamDirect(ctx, f)
	}

	rc, err = m.disk.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	return m.maybeMemoize(ctx, f, rc, cacheInMemory)
}

// streamDirect decrypts straight off the network with no cache writes.
func (m *Manager) streamDirect(ctx context.Context, f *models.MediaFile) (io.ReadCloser, error) {
	enc, err := m.pick(f).FetchFile(ctx, f)
	if err != nil {
		return nil, err
	}
	plain, err := cryptox.NewDecryptingReader(enc, f.FileHeader, f.Key)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("file %d: %w", f.ID, common.ErrProcessingFailed)
	}
	return struct {
		io.Reader
		io.Closer
	}{plain, enc}, nil
}

// maybeMemoize loads small cached files into the memory tier when asked to.
func (m *Manager) maybeMemoize(ctx context.Context, f *models.MediaFile, rc io.ReadCloser, cacheInMemory bool) (io.ReadCloser, error) {
	if !cacheInMemory || f.Info.FileSize > memMaxFile {
		return rc, nil
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	m.mem.Set(fileKey(f.ID), data, gocache.DefaultExpiration)
	return io.NopCloser(bytes.NewReader(data)), nil
}
