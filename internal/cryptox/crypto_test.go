package cryptox

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveMasterKey_Deterministic(t *testing.T) {
	password := []byte("secret-password")
	salt := []byte("fixed-salt")

	key1 := DeriveMasterKey(password, salt)
	key2 := DeriveMasterKey(password, salt)

	assert.Equal(t, key1, key2)
	assert.Len(t, key1, KeySize)

	key3 := DeriveMasterKey(password, []byte("other-salt"))
	assert.NotEqual(t, key1, key3)
}

func TestSealOpenKey_RoundTrip(t *testing.T) {
	master := GenerateKey()
	fileKey := GenerateKey()

	cipher, nonce, err := SealKey(fileKey, master)
	require.NoError(t, err)
	require.Len(t, nonce, NonceSize)

	got, err := OpenKey(cipher, nonce, master)
	require.NoError(t, err)
	assert.Equal(t, fileKey, got)
}

func TestOpenKey_WrongKeyFails(t *testing.T) {
	master := GenerateKey()
	cipher, nonce, err := SealKey([]byte("payload"), master)
	require.NoError(t, err)

	_, err = OpenKey(cipher, nonce, GenerateKey())
	assert.ErrorIs(t, err, ErrOpenFailed)
}

func TestSealOpenShared_RoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	collectionKey := GenerateKey()
	sealed, err := SealShared(collectionKey, pub[:])
	require.NoError(t, err)

	got, err := OpenShared(sealed, pub[:], priv[:])
	require.NoError(t, err)
	assert.Equal(t, collectionKey, got)
}

func TestOpenShared_WrongRecipientFails(t *testing.T) {
	pub, _, err := GenerateKeyPair()
	require.NoError(t, err)
	otherPub, otherPriv, err := GenerateKeyPair()
	require.NoError(t, err)

	sealed, err := SealShared([]byte("secret"), pub[:])
	require.NoError(t, err)

	_, err = OpenShared(sealed, otherPub[:], otherPriv[:])
	assert.ErrorIs(t, err, ErrOpenFailed)
}

func TestEncryptDecryptJSON_RoundTrip(t *testing.T) {
	type meta struct {
		Title        string `json:"title"`
		CreationTime int64  `json:"creationTime"`
	}

	key := GenerateKey()
	in := meta{Title: "IMG_0001.jpg", CreationTime: 1700000000000000}

	cipher, nonce, err := EncryptJSON(in, key)
	require.NoError(t, err)

	var out meta
	require.NoError(t, DecryptJSON(cipher, nonce, key, &out))
	assert.Equal(t, in, out)
}

func TestEncryptWithNewKey(t *testing.T) {
	blob, err := EncryptWithNewKey([]byte("thumbnail bytes"))
	require.NoError(t, err)

	plain, err := DecryptBlob(blob.Cipher, blob.Nonce, blob.Key)
	require.NoError(t, err)
	assert.Equal(t, []byte("thumbnail bytes"), plain)
}

func TestChunkHasher_StableAcrossChunking(t *testing.T) {
	key := GenerateKey()
	data := bytes.Repeat([]byte("abc123"), 1000)

	h1, err := NewChunkHasher(key)
	require.NoError(t, err)
	h1.WriteChunk(data)

	h2, err := NewChunkHasher(key)
	require.NoError(t, err)
	h2.WriteChunk(data[:1234])
	h2.WriteChunk(data[1234:])

	assert.Equal(t, h1.Sum(), h2.Sum())

	h3, err := NewChunkHasher(GenerateKey())
	require.NoError(t, err)
	h3.WriteChunk(data)
	assert.NotEqual(t, h1.Sum(), h3.Sum())
}
