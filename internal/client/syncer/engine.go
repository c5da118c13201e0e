// Package syncer implements the incremental sync engines: collections,
// files, trash, generic entities and remote embeddings. Each engine pulls a
// diff since its stored watermark, decrypts what it can, and persists the
// batch together with the advanced watermark in one transaction so a crash
// never loses applied entries nor re-announces lost ones.
package syncer

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/avelt/photovault/internal/client/api"
	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/cryptox"
	"github.com/avelt/photovault/internal/logging"
)

const defaultPageSize = 500

// Engine drives all sync passes against one user's library.
type Engine struct {
	api    api.Client
	db     *sql.DB
	log    logging.Logger
	userID int64

	masterKey []byte
	publicKey []byte
	secretKey []byte

	pageSize int
}

// New returns an engine bound to the given account keys. publicKey/secretKey
// form the NaCl box pair used to open collections shared by other users.
func New(apiClient api.Client, db *sql.DB, log logging.Logger, userID int64, masterKey, publicKey, secretKey []byte) *Engine {
	return &Engine{
		api:       apiClient,
		db:        db,
		log:       log.With("component", "syncer"),
		userID:    userID,
		masterKey: masterKey,
		publicKey: publicKey,
		secretKey: secretKey,
		pageSize:  defaultPageSize,
	}
}

// decryptCollection fills in the in-memory Key and Name. Owned collections
// carry a secretbox-wrapped key (KeyNonce set); shared ones an anonymous box
// sealed to our public key.
func (e *Engine) decryptCollection(c *models.Collection) error {
	var key []byte
	var err error
	if c.IsShared(e.userID) || len(c.KeyNonce) == 0 {
		key, err = cryptox.OpenShared(c.EncryptedKey, e.publicKey, e.secretKey)
	} else {
		key, err = cryptox.OpenKey(c.EncryptedKey, c.KeyNonce, e.masterKey)
	}
	if err != nil {
		return fmt.Errorf("collection %d key: %w", c.ID, err)
	}
	c.Key = key

	name, err := cryptox.OpenKey(c.EncryptedName, c.NameNonce, c.Key)
	if err != nil {
		return fmt.Errorf("collection %d name: %w", c.ID, err)
	}
	c.Name = string(name)
	return nil
}

// decryptFile unwraps the per-file key with the collection key and decrypts
// the metadata blob.
func (e *Engine) decryptFile(f *models.MediaFile, collectionKey []byte) error {
	key, err := cryptox.OpenKey(f.EncryptedKey, f.KeyNonce, collectionKey)
	if err != nil {
		return fmt.Errorf("file %d key: %w", f.ID, err)
	}
	f.Key = key

	var md models.FileMetadata
	if err := cryptox.DecryptJSON(f.MetadataCipher, f.MetadataHeader, f.Key, &md); err != nil {
		return fmt.Errorf("file %d metadata: %w", f.ID, err)
	}
	f.Metadata = &md
	return nil
}

// sortedFiles flattens a merge map into the presentation order the UI
// expects: newest capture first, stable id tie-break.
func sortedFiles(m map[int64]models.MediaFile) []models.MediaFile {
	out := make([]models.MediaFile, 0, len(m))
	for _, f := range m {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		var ci, cj int64
		if out[i].Metadata != nil {
			ci = out[i].Metadata.CreationTime
		}
		if out[j].Metadata != nil {
			cj = out[j].Metadata.CreationTime
		}
		if ci != cj {
			return ci > cj
		}
		return out[i].ID < out[j].ID
	})
	return out
}
