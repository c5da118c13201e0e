package models

// RemoteEmbedding is a server-synced derived embedding (e.g. CLIP) for a
// file, encrypted with that file's key.
type RemoteEmbedding struct {
	FileID             int64  `json:"fileID"`
	Model              string `json:"model"`
	EncryptedEmbedding []byte `json:"encryptedEmbedding"`
	Header             []byte `json:"decryptionHeader"`
	UpdatedAt          int64  `json:"updatedAt"`
	IsDeleted          bool   `json:"isDeleted,omitempty"`
}

// Embedding is the decrypted form stored in the local index. A record with a
// nil Vector is pending: it arrived before its file's key was known and still
// carries the ciphertext for a later decryption attempt.
type Embedding struct {
	FileID    int64     `json:"fileID"`
	Model     string    `json:"model"`
	Vector    []float32 `json:"vector,omitempty"`
	Cipher    []byte    `json:"cipher,omitempty"`
	Header    []byte    `json:"header,omitempty"`
	UpdatedAt int64     `json:"updatedAt"`
}

// Pending reports whether the embedding still awaits decryption.
func (e *Embedding) Pending() bool {
	return e.Vector == nil
}
