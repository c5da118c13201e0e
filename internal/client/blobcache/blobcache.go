// Package blobcache is a capacity-bounded disk cache for decrypted blobs
// (full files, thumbnails, face crops). Metadata lives in the blob_cache
// table, blob bytes in sharded files under the cache directory. When the
// configured capacity is exceeded the least recently written entries are
// evicted first.
package blobcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/avelt/photovault/internal/common"
	"github.com/avelt/photovault/internal/filex"
	"github.com/avelt/photovault/internal/logging"
)

// Cache is safe for concurrent use to the extent the underlying *sql.DB is;
// writes to one key should not race (the download manager dedups them).
type Cache struct {
	db       *sql.DB
	dir      string
	capacity int64
	log      logging.Logger

	now func() time.Time
}

// New returns a cache rooted at dir holding at most capacity bytes of blob
// data.
func New(db *sql.DB, dir string, capacity int64, log logging.Logger) (*Cache, error) {
	if _, err := filex.EnsureDir(dir); err != nil {
		return nil, err
	}
	return &Cache{db: db, dir: dir, capacity: capacity, log: log, now: time.Now}, nil
}

func relPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(h[:2], h)
}

// Get returns the cached blob, or common.ErrorNotFound. A row whose backing
// file has gone missing is dropped and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	rel, err := c.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(c.dir, rel))
	if errors.Is(err, os.ErrNotExist) {
		c.log.Warn(ctx, "cache row without backing file, dropping", "key", key)
		_ = c.Delete(ctx, key)
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached blob: %w", err)
	}
	return data, nil
}

// Open returns a reader over the cached blob without loading it into memory,
// or common.ErrorNotFound.
func (c *Cache) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rel, err := c.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(c.dir, rel))
	if errors.Is(err, os.ErrNotExist) {
		_ = c.Delete(ctx, key)
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open cached blob: %w", err)
	}
	return f, nil
}

func (c *Cache) lookup(ctx context.Context, key string) (string, error) {
	var rel string
	err := c.db.QueryRowContext(ctx,
		`SELECT rel_path FROM blob_cache WHERE cache_key=?`, key).Scan(&rel)
	if errors.Is(err, sql.ErrNoRows) {
		return "", common.ErrorNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up cache key: %w", err)
	}
	return rel, nil
}

// Has reports whether a key is present without touching the blob file.
func (c *Cache) Has(ctx context.Context, key string) (bool, error) {
	_, err := c.lookup(ctx, key)
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Put stores a blob, evicting older entries if the cache would exceed its
// capacity. Blobs larger than the capacity itself are rejected.
func (c *Cache) Put(ctx context.Context, key string, data []byte) error {
	size := int64(len(data))
	if size > c.capacity {
		return fmt.Errorf("blob of %s exceeds cache capacity %s",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(c.capacity)))
	}
	if err := c.evictFor(ctx, size); err != nil {
		return err
	}

	rel := relPath(key)
	path := filepath.Join(c.dir, rel)
	if _, err := filex.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := filex.WriteFileAtomic(path, data, 0o660); err != nil {
		return err
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO blob_cache (cache_key, size, written_at, rel_path)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			size       = excluded.size,
			written_at = excluded.written_at,
			rel_path   = excluded.rel_path`,
		key, size, c.now().UnixMicro(), rel)
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("failed to record cache entry: %w", err)
	}
	return nil
}

// PutFrom streams a blob into the cache without buffering it whole. The
// entry is recorded only after the write completed.
func (c *Cache) PutFrom(ctx context.Context, key string, r io.Reader) (int64, error) {
	rel := relPath(key)
	path := filepath.Join(c.dir, rel)
	if _, err := filex.EnsureDir(filepath.Dir(path)); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return 0, err
	}
	size, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("failed to write cached blob: %w", err)
	}
	if size > c.capacity {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("blob of %s exceeds cache capacity %s",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(c.capacity)))
	}
	if err := c.evictFor(ctx, size); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO blob_cache (cache_key, size, written_at, rel_path)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			size       = excluded.size,
			written_at = excluded.written_at,
			rel_path   = excluded.rel_path`,
		key, size, c.now().UnixMicro(), rel)
	if err != nil {
		_ = os.Remove(path)
		return 0, fmt.Errorf("failed to record cache entry: %w", err)
	}
	return size, nil
}

// Delete removes an entry; missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	rel, err := c.lookup(ctx, key)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM blob_cache WHERE cache_key=?`, key); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(c.dir, rel)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// TotalSize returns the summed size of all cached blobs.
func (c *Cache) TotalSize(ctx context.Context) (int64, error) {
	var total int64
	err := c.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size), 0) FROM blob_cache`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum cache size: %w", err)
	}
	return total, nil
}

// evictFor removes least recently written entries until incoming bytes fit.
func (c *Cache) evictFor(ctx context.Context, incoming int64) error {
	total, err := c.TotalSize(ctx)
	if err != nil {
		return err
	}
	for total+incoming > c.capacity {
		var key, rel string
		var size int64
		err := c.db.QueryRowContext(ctx, `
			SELECT cache_key, rel_path, size FROM blob_cache
			ORDER BY written_at ASC LIMIT 1`).Scan(&key, &rel, &size)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to pick eviction candidate: %w", err)
		}
		c.log.Debug(ctx, "evicting cached blob", "key", key, "size", humanize.IBytes(uint64(size)))
		if _, err := c.db.ExecContext(ctx, `DELETE FROM blob_cache WHERE cache_key=?`, key); err != nil {
			return err
		}
		if err := os.Remove(filepath.Join(c.dir, rel)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		total -= size
	}
	return nil
}
