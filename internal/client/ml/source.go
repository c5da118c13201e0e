package ml

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/common"
)

// Downloader is the slice of the download manager the pipeline needs.
type Downloader interface {
	GetThumbnail(ctx context.Context, f *models.MediaFile, localOnly bool) ([]byte, error)
	GetFile(ctx context.Context, f *models.MediaFile, cacheInMemory bool) (io.ReadCloser, error)
}

// SourceResolver picks the bitmap a file's pipeline runs against, by
// priority: an explicitly supplied local staged file, the decrypted
// original when configured and decodable, else the thumbnail.
type SourceResolver struct {
	cfg       Config
	downloads Downloader
}

func NewSourceResolver(cfg Config, downloads Downloader) *SourceResolver {
	return &SourceResolver{cfg: cfg, downloads: downloads}
}

// Resolve fetches and probes the chosen bitmap. localPath may be empty. The
// decoded dimensions are recorded onto the ML record by the caller so
// coordinate normalization stays consistent across source changes.
func (r *SourceResolver) Resolve(ctx context.Context, f *models.MediaFile, localPath string) (*Image, error) {
	data, source, err := r.fetch(ctx, f, localPath)
	if err != nil {
		return nil, err
	}
	cfgImg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("file %d bitmap undecodable: %w", f.ID, common.ErrProcessingFailed)
	}
	return &Image{Data: data, Width: cfgImg.Width, Height: cfgImg.Height, Source: source}, nil
}

func (r *SourceResolver) fetch(ctx context.Context, f *models.MediaFile, localPath string) ([]byte, models.ImageSource, error) {
	if localPath != "" && f.Metadata != nil && f.Metadata.FileType == models.FileTypeImage {
		data, err := os.ReadFile(localPath)
		if err != nil {
			return nil, "", fmt.Errorf("staged file of %d: %w", f.ID, err)
		}
		return data, models.ImageSourceLocalFile, nil
	}

	if r.cfg.ImageSource == models.ImageSourceOriginal && f.Metadata != nil &&
		(f.Metadata.FileType == models.FileTypeImage || f.Metadata.FileType == models.FileTypeLivePhoto) {
		rc, err := r.downloads.GetFile(ctx, f, false)
		if err != nil {
			return nil, "", err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, "", err
		}
		return data, models.ImageSourceOriginal, nil
	}

	data, err := r.downloads.GetThumbnail(ctx, f, false)
	if err != nil {
		return nil, "", err
	}
	return data, models.ImageSourceThumbnail, nil
}
