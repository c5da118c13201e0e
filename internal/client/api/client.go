// Package api implements the HTTP client for the photovault backend: the
// diff endpoints the sync engines pull from, blob retrieval for the download
// manager, and access-token upkeep.
package api

import (
	"context"
	"io"

	"github.com/avelt/photovault/internal/client/models"
)

// Client is the remote API surface consumed by the sync engines and the
// download manager. All diff entries come back ciphertext; decryption is the
// caller's business.
type Client interface {
	// GetSalt returns the account's key-derivation salt. Unauthenticated.
	GetSalt(ctx context.Context, email string) ([]byte, error)

	// Login exchanges email + verifier for a session. Installs the returned
	// token pair on the client.
	Login(ctx context.Context, email string, verifier []byte) (*models.Session, error)

	// Register creates an account with the given auth and key material.
	Register(ctx context.Context, email string, salt, verifier []byte, ka models.KeyAttributes) error

	// GetCollections returns every collection changed after sinceTime.
	// The server returns the full delta in one page.
	GetCollections(ctx context.Context, sinceTime int64) ([]models.Collection, error)

	// GetCollection fetches a single collection by id, used to recover keys
	// for trashed files whose collection was fully deleted.
	GetCollection(ctx context.Context, id int64) (*models.Collection, error)

	// GetCollectionDiff returns up to limit file entries of the collection
	// changed after sinceTime, oldest first. A full page means there may be
	// more.
	GetCollectionDiff(ctx context.Context, collectionID, sinceTime int64, limit int) ([]models.MediaFile, error)

	// GetTrashDiff returns trash entries changed after sinceTime plus a
	// has-more flag.
	GetTrashDiff(ctx context.Context, sinceTime int64) ([]models.TrashItem, bool, error)

	// GetEntityKey returns the wrapped per-type entity key.
	GetEntityKey(ctx context.Context, t models.EntityType) (*models.EntityKey, error)

	// GetEntityDiff returns up to limit entity records changed after
	// sinceTime.
	GetEntityDiff(ctx context.Context, t models.EntityType, sinceTime int64, limit int) ([]models.EntityRecord, error)

	// GetEmbeddingDiff returns up to limit remote embeddings changed after
	// sinceTime.
	GetEmbeddingDiff(ctx context.Context, sinceTime int64, limit int) ([]models.RemoteEmbedding, error)

	// DownloadFile streams a file's encrypted content. The caller owns
	// closing the stream.
	DownloadFile(ctx context.Context, fileID int64) (io.ReadCloser, error)

	// DownloadThumbnail returns a file's encrypted thumbnail in one piece.
	DownloadThumbnail(ctx context.Context, fileID int64) ([]byte, error)
}
