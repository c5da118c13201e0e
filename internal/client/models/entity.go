package models

// EntityType names a family of generic versioned key-encrypted entities
// synced with the same diff protocol as files (e.g. location tags).
type EntityType string

const (
	EntityTypeLocationTag EntityType = "location"
)

// EntityKey is the per-type symmetric key, wrapped with the master key.
type EntityKey struct {
	Type         EntityType `json:"type"`
	EncryptedKey []byte     `json:"encryptedKey"`
	Nonce        []byte     `json:"header"`
}

// EntityRecord is one synced entity. Data/Header are ciphertext under the
// entity type's key.
type EntityRecord struct {
	ID        string     `json:"id"`
	Type      EntityType `json:"type"`
	Data      []byte     `json:"encryptedData"`
	Header    []byte     `json:"header"`
	UpdatedAt int64      `json:"updatedAt"`
	IsDeleted bool       `json:"isDeleted,omitempty"`
}
