package models

import "encoding/json"

// The wire forms deliberately exclude decrypted key material from JSON. The
// local database, however, must retain the per-file key and decrypted
// metadata between runs, so persistence goes through these stored codecs.

type fileAlias MediaFile

type storedFile struct {
	fileAlias
	Key      []byte        `json:"key,omitempty"`
	Metadata *FileMetadata `json:"metadata,omitempty"`
	IsHidden bool          `json:"isHidden,omitempty"`
}

// EncodeStored serializes the file for the local database, including the
// decrypted key and metadata.
func (f *MediaFile) EncodeStored() ([]byte, error) {
	return json.Marshal(storedFile{
		fileAlias: fileAlias(*f),
		Key:       f.Key,
		Metadata:  f.Metadata,
		IsHidden:  f.IsHidden,
	})
}

// DecodeStoredFile reverses EncodeStored.
func DecodeStoredFile(b []byte) (*MediaFile, error) {
	var s storedFile
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	f := MediaFile(s.fileAlias)
	f.Key = s.Key
	f.Metadata = s.Metadata
	f.IsHidden = s.IsHidden
	return &f, nil
}

type storedTrashItem struct {
	File       json.RawMessage `json:"file"`
	IsDeleted  bool            `json:"isDeleted"`
	IsRestored bool            `json:"isRestored"`
	UpdatedAt  int64           `json:"updatedAt"`
	DeleteBy   int64           `json:"deleteBy"`
}

// EncodeStored serializes the trash item for the local database, keeping the
// contained file's decrypted key so trashed content stays viewable.
func (t *TrashItem) EncodeStored() ([]byte, error) {
	fb, err := t.File.EncodeStored()
	if err != nil {
		return nil, err
	}
	return json.Marshal(storedTrashItem{
		File:       fb,
		IsDeleted:  t.IsDeleted,
		IsRestored: t.IsRestored,
		UpdatedAt:  t.UpdatedAt,
		DeleteBy:   t.DeleteBy,
	})
}

// DecodeStoredTrashItem reverses EncodeStored.
func DecodeStoredTrashItem(b []byte) (*TrashItem, error) {
	var s storedTrashItem
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	f, err := DecodeStoredFile(s.File)
	if err != nil {
		return nil, err
	}
	return &TrashItem{
		File:       *f,
		IsDeleted:  s.IsDeleted,
		IsRestored: s.IsRestored,
		UpdatedAt:  s.UpdatedAt,
		DeleteBy:   s.DeleteBy,
	}, nil
}
