package models

// KeyAttributes is the account's key material as stored server-side: the
// public key in the clear and the secret key wrapped with the master key.
type KeyAttributes struct {
	PublicKey          []byte `json:"publicKey"`
	EncryptedSecretKey []byte `json:"encryptedSecretKey"`
	SecretKeyNonce     []byte `json:"secretKeyDecryptionNonce"`
}

// Session is what a successful login yields: identity, the token pair and
// the wrapped key material. The master key never travels over the wire.
type Session struct {
	UserID        int64         `json:"userID"`
	AccessToken   string        `json:"accessToken"`
	RefreshToken  string        `json:"refreshToken"`
	KeyAttributes KeyAttributes `json:"keyAttributes"`
}
