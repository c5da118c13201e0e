// Package cryptox is the crypto facade for the photovault client. It wraps
// the NaCl and ChaCha20-Poly1305 primitives from golang.org/x/crypto behind
// the handful of operations the sync, download and ML layers need: key
// wrapping with the master key, anonymous box sealing for shared collections,
// JSON metadata blobs, and whole-blob encryption for thumbnails.
//
// Chunked streaming operations for large files live in stream.go, keyed
// chunk hashing in hash.go.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"

	"github.com/avelt/photovault/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeySize is the length of every symmetric key in the system.
	KeySize = 32
	// NonceSize is the secretbox nonce length.
	NonceSize = 24
)

// ErrOpenFailed is returned when an authenticated decryption fails. Callers
// treat it as a per-item processing failure, not a transport error.
var ErrOpenFailed = errors.New("decryption failed")

// DeriveMasterKey stretches a passphrase into the 32-byte master key using
// argon2id. The salt is stored server-side and fetched at login.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, KeySize)
}

// MakeVerifier derives the login verifier sent to the server in place of the
// master key itself.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

// GenerateKey returns a fresh random symmetric key.
func GenerateKey() []byte {
	return common.GenerateRandByteArray(KeySize)
}

// GenerateKeyPair returns a fresh NaCl box key pair for shared-collection
// sealing.
func GenerateKeyPair() (publicKey, privateKey *[KeySize]byte, err error) {
	return box.GenerateKey(rand.Reader)
}

// SealKey wraps a symmetric key (or any small secret) with the given key
// using secretbox. Returns ciphertext and the random nonce.
func SealKey(plain, key []byte) (cipher, nonce []byte, err error) {
	if len(key) != KeySize {
		return nil, nil, errors.New("invalid key size")
	}
	n := newNonce()
	cipher = secretbox.Seal(nil, plain, n, (*[KeySize]byte)(key))
	return cipher, n[:], nil
}

// OpenKey reverses SealKey.
func OpenKey(cipher, nonce, key []byte) ([]byte, error) {
	if len(key) != KeySize || len(nonce) != NonceSize {
		return nil, ErrOpenFailed
	}
	plain, ok := secretbox.Open(nil, cipher, (*[NonceSize]byte)(nonce), (*[KeySize]byte)(key))
	if !ok {
		return nil, ErrOpenFailed
	}
	return plain, nil
}

// SealShared seals a secret to a recipient's public key with an anonymous
// box, the mechanism used when a collection is shared with another user.
func SealShared(plain []byte, recipientPublicKey []byte) ([]byte, error) {
	if len(recipientPublicKey) != KeySize {
		return nil, errors.New("invalid public key size")
	}
	return box.SealAnonymous(nil, plain, (*[KeySize]byte)(recipientPublicKey), rand.Reader)
}

// OpenShared opens an anonymous box sealed to our public key.
func OpenShared(cipher, publicKey, privateKey []byte) ([]byte, error) {
	if len(publicKey) != KeySize || len(privateKey) != KeySize {
		return nil, ErrOpenFailed
	}
	plain, ok := box.OpenAnonymous(nil, cipher, (*[KeySize]byte)(publicKey), (*[KeySize]byte)(privateKey))
	if !ok {
		return nil, ErrOpenFailed
	}
	return plain, nil
}

// EncryptJSON serializes v to JSON and encrypts it with secretbox. The nonce
// doubles as the "header" stored next to encrypted metadata blobs.
func EncryptJSON(v any, key []byte) (cipher, nonce []byte, err error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return SealKey(plain, key)
}

// DecryptJSON reverses EncryptJSON, unmarshalling into v.
func DecryptJSON(cipher, nonce, key []byte, v any) error {
	plain, err := OpenKey(cipher, nonce, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(plain, v)
}

// EncryptBlob encrypts a small binary blob (thumbnails, face crops) in one
// piece with the given key.
func EncryptBlob(data, key []byte) (cipher, nonce []byte, err error) {
	return SealKey(data, key)
}

// DecryptBlob reverses EncryptBlob.
func DecryptBlob(cipher, nonce, key []byte) ([]byte, error) {
	return OpenKey(cipher, nonce, key)
}

// EncryptedBlob is the result of encrypting a payload under a fresh key.
type EncryptedBlob struct {
	Cipher []byte
	Key    []byte
	Nonce  []byte
}

// EncryptWithNewKey encrypts data under a freshly generated key, the pattern
// used when a new file enters the library: the blob key is then itself
// wrapped with the collection key via SealKey.
func EncryptWithNewKey(data []byte) (*EncryptedBlob, error) {
	key := GenerateKey()
	cipher, nonce, err := SealKey(data, key)
	if err != nil {
		return nil, err
	}
	return &EncryptedBlob{Cipher: cipher, Key: key, Nonce: nonce}, nil
}

func newNonce() *[NonceSize]byte {
	n := common.GenerateRandByteArray(NonceSize)
	return (*[NonceSize]byte)(n)
}
