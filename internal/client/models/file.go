package models

// FileType distinguishes decodable media kinds.
type FileType int

const (
	FileTypeImage FileType = iota
	FileTypeVideo
	FileTypeLivePhoto
)

// FileInfo carries plaintext size hints used for cache budgeting.
type FileInfo struct {
	FileSize  int64 `json:"fileSize"`
	ThumbSize int64 `json:"thumbSize"`
}

// FileMetadata is the decrypted per-file metadata. CreationTime and
// ModificationTime are microseconds since the epoch.
type FileMetadata struct {
	Title            string   `json:"title"`
	CreationTime     int64    `json:"creationTime"`
	ModificationTime int64    `json:"modificationTime"`
	FileType         FileType `json:"fileType"`
	Hash             string   `json:"hash"`
	Latitude         float64  `json:"latitude,omitempty"`
	Longitude        float64  `json:"longitude,omitempty"`
}

// MediaFile is one file's membership in one collection. The same file id may
// appear under several collections (symlinked shares); exactly one latest
// version per id survives a merge.
type MediaFile struct {
	ID           int64 `json:"id"`
	OwnerID      int64 `json:"ownerID"`
	CollectionID int64 `json:"collectionID"`

	// EncryptedKey is the per-file key wrapped with the collection key.
	EncryptedKey []byte `json:"encryptedKey"`
	KeyNonce     []byte `json:"keyDecryptionNonce"`

	// MetadataCipher/MetadataHeader hold the encrypted FileMetadata blob.
	MetadataCipher []byte `json:"encryptedMetadata"`
	MetadataHeader []byte `json:"metadataDecryptionHeader"`

	// FileHeader is the stream header for the chunked encrypted content;
	// ThumbHeader the nonce for the whole-blob encrypted thumbnail.
	FileHeader  []byte `json:"fileDecryptionHeader"`
	ThumbHeader []byte `json:"thumbnailDecryptionHeader"`

	MagicMetadata    *MagicMetadata `json:"magicMetadata,omitempty"`
	PubMagicMetadata *MagicMetadata `json:"pubMagicMetadata,omitempty"`

	Info FileInfo `json:"info"`

	// Optional direct object-storage locations for deployments where the
	// client reads blobs straight from S3 instead of through the API.
	ObjectKey      string `json:"objectKey,omitempty"`
	ThumbObjectKey string `json:"thumbObjectKey,omitempty"`

	// Version is the file's own embedded version marker when present (>0);
	// merge falls back to UpdationTime recency otherwise.
	Version      int64 `json:"version,omitempty"`
	UpdationTime int64 `json:"updationTime"`
	IsDeleted    bool  `json:"isDeleted,omitempty"`

	IsHidden bool `json:"-"`

	// Decrypted in-memory only.
	Key      []byte        `json:"-"`
	Metadata *FileMetadata `json:"-"`
}

// NewerThan reports whether f should win a latest-by-id merge against other.
// The embedded version marker takes precedence when both carry one.
func (f *MediaFile) NewerThan(other *MediaFile) bool {
	if f.Version > 0 && other.Version > 0 {
		return f.Version > other.Version
	}
	return f.UpdationTime > other.UpdationTime
}
