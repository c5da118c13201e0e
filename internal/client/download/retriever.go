// Package download is the download and decrypt path: thumbnail and full-file
// retrieval through memory and disk cache tiers, de-duplicated in-flight
// fetches, and streaming chunked decryption for large files.
package download

import (
	"context"
	"io"

	"github.com/avelt/photovault/internal/client/api"
	"github.com/avelt/photovault/internal/client/models"
)

// Retriever fetches encrypted blobs. Implementations: the backend API
// (default) and direct S3 reads for self-hosted deployments.
type Retriever interface {
	FetchFile(ctx context.Context, f *models.MediaFile) (io.ReadCloser, error)
	FetchThumbnail(ctx context.Context, f *models.MediaFile) ([]byte, error)
}

// APIRetriever fetches blobs through the backend, which already handles
// auth, token refresh and retry.
type APIRetriever struct {
	c api.Client
}

func NewAPIRetriever(c api.Client) *APIRetriever {
	return &APIRetriever{c: c}
}

func (r *APIRetriever) FetchFile(ctx context.Context, f *models.MediaFile) (io.ReadCloser, error) {
	return r.c.DownloadFile(ctx, f.ID)
}

func (r *APIRetriever) FetchThumbnail(ctx context.Context, f *models.MediaFile) ([]byte, error) {
	return r.c.DownloadThumbnail(ctx, f.ID)
}
