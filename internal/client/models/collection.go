// Package models defines client-side data models for the photovault library:
// collections, media files, trash items, generic synced entities and the
// on-device ML index records. Encrypted fields store AEAD ciphertext
// alongside their nonces; decrypted counterparts are tagged `json:"-"` and
// never leave the process.
package models

// CollectionType classifies a collection.
type CollectionType string

const (
	CollectionTypeAlbum         CollectionType = "album"
	CollectionTypeFavorites     CollectionType = "favorites"
	CollectionTypeUncategorized CollectionType = "uncategorized"
	CollectionTypeHidden        CollectionType = "hidden"
)

// MagicMetadata is a versioned, encrypted, free-form key/value blob attached
// to a collection or file. Version is bumped by exactly 1 per successful
// update (optimistic concurrency); Count is the number of keys inside.
type MagicMetadata struct {
	Version int    `json:"version"`
	Count   int    `json:"count"`
	Data    []byte `json:"data"`
	Header  []byte `json:"header"`
}

// Sharee is a user a collection has been shared with.
type Sharee struct {
	UserID int64  `json:"id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// Collection is a synced album. UpdationTime is a monotonically-assigned
// server watermark; a deleted collection carries no usable key.
type Collection struct {
	ID      int64 `json:"id"`
	OwnerID int64 `json:"ownerID"`

	// EncryptedKey is the collection key wrapped with the owner's master key
	// (secretbox, KeyNonce set) or sealed to a sharee's public key
	// (anonymous box, KeyNonce empty).
	EncryptedKey []byte `json:"encryptedKey"`
	KeyNonce     []byte `json:"keyDecryptionNonce,omitempty"`

	EncryptedName []byte `json:"encryptedName"`
	NameNonce     []byte `json:"nameDecryptionNonce"`

	Type CollectionType `json:"type"`

	MagicMetadata    *MagicMetadata `json:"magicMetadata,omitempty"`
	PubMagicMetadata *MagicMetadata `json:"pubMagicMetadata,omitempty"`

	Sharees []Sharee `json:"sharees,omitempty"`

	UpdationTime int64 `json:"updationTime"`
	IsDeleted    bool  `json:"isDeleted,omitempty"`

	// Decrypted once per sync pass; never serialized.
	Key  []byte `json:"-"`
	Name string `json:"-"`
}

// HasKey reports whether the collection key was decrypted successfully.
// Collections that failed to decrypt are retained raw for retry but excluded
// from the surfaced set.
func (c *Collection) HasKey() bool {
	return len(c.Key) > 0
}

// IsShared reports whether the collection key was sealed to us rather than
// wrapped by our own master key.
func (c *Collection) IsShared(ourUserID int64) bool {
	return c.OwnerID != ourUserID
}
