// Package account stores the minimal local auth state needed for offline
// login: email, key-derivation salt, verifier and the wrapped key pair.
package account

import "context"

// Keys of the stored account attributes.
const (
	KeyEmail              = "email"
	KeyUserID             = "user_id"
	KeySalt               = "salt"
	KeyVerifier           = "verifier"
	KeyPublicKey          = "public_key"
	KeyEncryptedSecretKey = "encrypted_secret_key"
	KeySecretKeyNonce     = "secret_key_nonce"
)

type Repository interface {
	// Get returns the stored value for key or common.ErrorNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores or replaces the value for key.
	Set(ctx context.Context, key string, value []byte) error

	// Clear wipes every stored attribute.
	Clear(ctx context.Context) error
}
