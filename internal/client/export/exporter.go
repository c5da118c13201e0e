// Package export mirrors the synced library into a user-chosen folder tree
// and keeps it reconciled across renames, moves and deletions. State lives
// in a versioned JSON record inside the export root; every record update
// goes through a depth-1 queue so concurrent read-modify-write never loses
// an entry.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/client/taskq"
	"github.com/avelt/photovault/internal/common"
	"github.com/avelt/photovault/internal/filex"
	"github.com/avelt/photovault/internal/logging"
)

// FileOpener is the slice of the download manager the exporter needs.
type FileOpener interface {
	GetFile(ctx context.Context, f *models.MediaFile, cacheInMemory bool) (io.ReadCloser, error)
}

// Exporter mirrors collections and files under root.
type Exporter struct {
	root      string
	downloads FileOpener
	log       logging.Logger

	// writes serializes record updates; depth 1 makes it a single writer.
	writes *taskq.Queue[struct{}]

	// corruptRetryDelay is the pause before the single re-read of a record
	// that failed to parse; shortened in tests.
	corruptRetryDelay time.Duration
}

func New(root string, downloads FileOpener, log logging.Logger) (*Exporter, error) {
	if _, err := filex.EnsureDir(root); err != nil {
		return nil, err
	}
	return &Exporter{
		root:              root,
		downloads:         downloads,
		log:               log.With("component", "export"),
		writes:            taskq.New[struct{}]("export-record", 1),
		corruptRetryDelay: time.Second,
	}, nil
}

// Close stops the record writer queue.
func (e *Exporter) Close() {
	e.writes.Close()
}

// Run reconciles the export tree against the given synced state. Collections
// must carry decrypted names and files decrypted metadata; callers pass the
// surfaced sets of a completed sync pass. Partial progress is durable: every
// applied change updates the record before Run moves on.
func (e *Exporter) Run(ctx context.Context, cols []models.Collection, fs []models.MediaFile) error {
	rec, err := e.loadRecord(ctx)
	if err != nil {
		return err
	}

	if err := e.reconcileCollections(ctx, rec, cols); err != nil {
		return err
	}
	if err := e.reconcileFiles(ctx, rec, cols, fs); err != nil {
		return err
	}
	return nil
}

// reconcileCollections creates, renames and removes collection folders.
func (e *Exporter) reconcileCollections(ctx context.Context, rec *Record, cols []models.Collection) error {
	want := make(map[int64]string, len(cols))
	for _, c := range cols {
		if !c.HasKey() {
			continue
		}
		want[c.ID] = e.uniqueFolderName(rec, c.ID, sanitizeName(c.Name))
	}

	// removals first so a deleted folder's name can be reused by a rename
	for id, folder := range rec.Collections {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", common.ErrCancelled, err)
		}
		if _, ok := want[id]; ok {
			continue
		}
		if err := os.RemoveAll(filepath.Join(e.root, folder)); err != nil {
			return err
		}
		if err := e.updateRecord(ctx, func(r *Record) {
			delete(r.Collections, id)
			for fid, rel := range r.Files {
				if filepath.Dir(rel) == folder {
					delete(r.Files, fid)
				}
			}
		}); err != nil {
			return err
		}
		e.log.Info(ctx, "removed exported collection", "collection", id, "folder", folder)
	}
	rec.pruneForCollections(want)

	for id, folder := range want {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", common.ErrCancelled, err)
		}
		old, ok := rec.Collections[id]
		switch {
		case !ok:
			if _, err := filex.EnsureSubDir(e.root, folder); err != nil {
				return err
			}
		case old != folder:
			if err := os.Rename(filepath.Join(e.root, old), filepath.Join(e.root, folder)); err != nil {
				return err
			}
			e.log.Info(ctx, "renamed exported collection", "collection", id, "from", old, "to", folder)
		default:
			continue
		}
		if err := e.updateRecord(ctx, func(r *Record) {
			r.Collections[id] = folder
			if ok && old != folder {
				for fid, rel := range r.Files {
					if filepath.Dir(rel) == old {
						r.Files[fid] = filepath.Join(folder, filepath.Base(rel))
					}
				}
			}
		}); err != nil {
			return err
		}
		rec.Collections[id] = folder
	}
	return nil
}

// pruneForCollections drops in-memory record entries for collections that
// were just removed, mirroring what updateRecord persisted.
func (r *Record) pruneForCollections(want map[int64]string) {
	for id, folder := range r.Collections {
		if _, ok := want[id]; ok {
			continue
		}
		delete(r.Collections, id)
		for fid, rel := range r.Files {
			if filepath.Dir(rel) == folder {
				delete(r.Files, fid)
			}
		}
	}
}

// reconcileFiles downloads missing files, moves ones whose collection or
// title changed and deletes ones gone from the library.
func (e *Exporter) reconcileFiles(ctx context.Context, rec *Record, cols []models.Collection, fs []models.MediaFile) error {
	folders := rec.Collections

	want := make(map[int64]string, len(fs))
	wantFile := make(map[int64]*models.MediaFile, len(fs))
	for i := range fs {
		f := &fs[i]
		if f.IsDeleted || f.Metadata == nil {
			continue
		}
		folder, ok := folders[f.CollectionID]
		if !ok {
			continue
		}
		want[f.ID] = filepath.Join(folder, e.exportName(f))
		wantFile[f.ID] = f
	}

	for id, rel := range rec.Files {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", common.ErrCancelled, err)
		}
		if _, ok := want[id]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(e.root, rel)); err != nil && !os.IsNotExist(err) {
			return err
		}
		if err := e.updateRecord(ctx, func(r *Record) { delete(r.Files, id) }); err != nil {
			return err
		}
		delete(rec.Files, id)
	}

	for id, rel := range want {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", common.ErrCancelled, err)
		}
		old, ok := rec.Files[id]
		switch {
		case ok && old == rel:
			if fileExists(filepath.Join(e.root, rel)) {
				continue
			}
			// recorded but missing on disk, re-download below
		case ok:
			if err := os.Rename(filepath.Join(e.root, old), filepath.Join(e.root, rel)); err == nil {
				if err := e.updateRecord(ctx, func(r *Record) { r.Files[id] = rel }); err != nil {
					return err
				}
				rec.Files[id] = rel
				continue
			}
			// rename failed (source gone), fall through to a fresh download
		}
		if err := e.download(ctx, wantFile[id], rel); err != nil {
			return err
		}
		if err := e.updateRecord(ctx, func(r *Record) { r.Files[id] = rel }); err != nil {
			return err
		}
		rec.Files[id] = rel
	}
	return nil
}

func (e *Exporter) download(ctx context.Context, f *models.MediaFile, rel string) error {
	rc, err := e.downloads.GetFile(ctx, f, false)
	if err != nil {
		return fmt.Errorf("export file %d: %w", f.ID, err)
	}
	defer rc.Close()

	path := filepath.Join(e.root, rel)
	if _, err := filex.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	_, werr := io.Copy(tmp, rc)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(tmpName)
		if werr != nil {
			return fmt.Errorf("export file %d: %w", f.ID, werr)
		}
		return cerr
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	e.log.Debug(ctx, "exported file", "file", f.ID, "path", rel)
	return nil
}

// exportName derives the on-disk file name, suffixing the id so distinct
// files sharing a title never collide.
func (e *Exporter) exportName(f *models.MediaFile) string {
	base := sanitizeName(f.Metadata.Title)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	return fmt.Sprintf("%s_%d%s", stem, f.ID, ext)
}

// uniqueFolderName keeps an already-recorded name stable and suffixes new
// ones that would collide with a different collection's folder.
func (e *Exporter) uniqueFolderName(rec *Record, colID int64, name string) string {
	if cur, ok := rec.Collections[colID]; ok {
		if cur == name || cur == fmt.Sprintf("%s_%d", name, colID) {
			return cur
		}
	}
	taken := make(map[string]bool, len(rec.Collections))
	for id, folder := range rec.Collections {
		if id != colID {
			taken[folder] = true
		}
	}
	if !taken[name] {
		return name
	}
	return fmt.Sprintf("%s_%d", name, colID)
}

// loadRecord reads and migrates the on-disk record. A parse failure is
// retried once after a short delay, tolerating a concurrent partial write.
func (e *Exporter) loadRecord(ctx context.Context) (*Record, error) {
	path := filepath.Join(e.root, RecordFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return newRecord(), nil
	}
	if err != nil {
		return nil, err
	}
	rec, derr := decodeRecord(data)
	if derr == nil {
		return rec, nil
	}

	e.log.Warn(ctx, "export record unreadable, retrying once", "error", derr)
	select {
	case <-time.After(e.corruptRetryDelay):
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", common.ErrCancelled, ctx.Err())
	}
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

// updateRecord applies mutate under the single-writer queue: load, mutate,
// atomic write.
func (e *Exporter) updateRecord(ctx context.Context, mutate func(*Record)) error {
	h := e.writes.Add(ctx, func(ctx context.Context) (struct{}, error) {
		rec, err := e.loadRecord(ctx)
		if err != nil {
			return struct{}{}, err
		}
		mutate(rec)
		data, err := encodeRecord(rec)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, filex.WriteFileAtomic(filepath.Join(e.root, RecordFileName), data, 0o600)
	})
	_, err := h.Wait(ctx)
	return err
}
