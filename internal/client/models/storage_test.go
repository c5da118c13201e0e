package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireJSON_ExcludesKeyMaterial(t *testing.T) {
	f := MediaFile{ID: 1, Key: []byte("secret"), Metadata: &FileMetadata{Title: "x"}}
	b, err := json.Marshal(f)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret")
	assert.NotContains(t, string(b), `"metadata"`)
}

func TestEncodeStored_RoundTripsKeyAndMetadata(t *testing.T) {
	f := MediaFile{
		ID:           42,
		CollectionID: 7,
		Key:          []byte("file-key"),
		Metadata:     &FileMetadata{Title: "IMG_1.jpg", FileType: FileTypeLivePhoto, CreationTime: 123},
		IsHidden:     true,
	}
	b, err := f.EncodeStored()
	require.NoError(t, err)

	got, err := DecodeStoredFile(b)
	require.NoError(t, err)
	assert.Equal(t, &f, got)
}

func TestTrashItem_StoredRoundTrip(t *testing.T) {
	item := TrashItem{
		File:      MediaFile{ID: 9, Key: []byte("k"), Metadata: &FileMetadata{Title: "t"}},
		UpdatedAt: 1000,
		DeleteBy:  2000,
	}
	b, err := item.EncodeStored()
	require.NoError(t, err)

	got, err := DecodeStoredTrashItem(b)
	require.NoError(t, err)
	assert.Equal(t, &item, got)
}

func TestNewerThan_PrefersVersionThenUpdationTime(t *testing.T) {
	a := &MediaFile{ID: 1, Version: 2, UpdationTime: 10}
	b := &MediaFile{ID: 1, Version: 3, UpdationTime: 5}
	assert.True(t, b.NewerThan(a))
	assert.False(t, a.NewerThan(b))

	// no version markers: fall back to updation time
	c := &MediaFile{ID: 1, UpdationTime: 10}
	d := &MediaFile{ID: 1, UpdationTime: 20}
	assert.True(t, d.NewerThan(c))
}

func TestFaceID_DeterministicAndGeometryBound(t *testing.T) {
	det := FaceDetection{Box: Box{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4}, Score: 0.9}
	assert.Equal(t, det.FaceID(5), det.FaceID(5))

	shifted := det
	shifted.Box.X = 0.5
	assert.NotEqual(t, det.FaceID(5), shifted.FaceID(5))
	assert.NotEqual(t, det.FaceID(5), det.FaceID(6))
}
