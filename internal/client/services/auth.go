// Package services contains the application services behind the CLI: the
// authentication service handling online/offline login and local credential
// caching, and the library service driving sync, indexing and export.
package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/avelt/photovault/internal/client/api"
	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/client/repositories/account"
	"github.com/avelt/photovault/internal/common"
	"github.com/avelt/photovault/internal/cryptox"
	"github.com/avelt/photovault/internal/dbx"
)

// ErrUnauthorized is returned when credentials do not verify.
var ErrUnauthorized = errors.New("unauthorized")

// ErrLocalDataNotAvailable is returned by offline login when no account
// state was cached yet.
var ErrLocalDataNotAvailable = errors.New("local auth data not available, online login required")

// Session is the decrypted login result handed to the rest of the app.
type Session struct {
	UserID    int64
	MasterKey []byte
	PublicKey []byte
	SecretKey []byte
}

// AuthService authenticates the user and caches what offline login needs.
type AuthService struct {
	api api.Client
	db  *sql.DB
}

func NewAuthService(apiClient api.Client, db *sql.DB) *AuthService {
	return &AuthService{api: apiClient, db: db}
}

// OnlineLogin authenticates against the server, unwraps the key pair and
// persists the offline login state in one transaction.
func (a *AuthService) OnlineLogin(ctx context.Context, email string, password []byte) (*Session, error) {
	salt, err := a.api.GetSalt(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get salt: %w", err)
	}

	masterKey := cryptox.DeriveMasterKey(password, salt)
	verifier := cryptox.MakeVerifier(masterKey)

	remote, err := a.api.Login(ctx, email, verifier)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	secretKey, err := cryptox.OpenKey(remote.KeyAttributes.EncryptedSecretKey, remote.KeyAttributes.SecretKeyNonce, masterKey)
	if err != nil {
		return nil, fmt.Errorf("unwrap secret key: %w", err)
	}

	if err := a.saveOfflineData(ctx, email, salt, verifier, remote); err != nil {
		return nil, fmt.Errorf("save offline data: %w", err)
	}

	return &Session{
		UserID:    remote.UserID,
		MasterKey: masterKey,
		PublicKey: remote.KeyAttributes.PublicKey,
		SecretKey: secretKey,
	}, nil
}

// OfflineLogin re-derives the master key from the cached salt and verifies
// it against the cached verifier, reopening the local library without a
// network round trip.
func (a *AuthService) OfflineLogin(ctx context.Context, email string, password []byte) (*Session, error) {
	repo := account.NewSQLiteRepository(a.db)

	savedEmail, err := a.getCached(ctx, repo, account.KeyEmail)
	if err != nil {
		return nil, err
	}
	if string(savedEmail) != email {
		return nil, ErrUnauthorized
	}
	salt, err := a.getCached(ctx, repo, account.KeySalt)
	if err != nil {
		return nil, err
	}
	savedVerifier, err := a.getCached(ctx, repo, account.KeyVerifier)
	if err != nil {
		return nil, err
	}

	masterKey := cryptox.DeriveMasterKey(password, salt)
	verifier := cryptox.MakeVerifier(masterKey)
	if subtle.ConstantTimeCompare(savedVerifier, verifier) == 0 {
		return nil, ErrUnauthorized
	}

	userIDRaw, err := a.getCached(ctx, repo, account.KeyUserID)
	if err != nil {
		return nil, err
	}
	publicKey, err := a.getCached(ctx, repo, account.KeyPublicKey)
	if err != nil {
		return nil, err
	}
	encSecret, err := a.getCached(ctx, repo, account.KeyEncryptedSecretKey)
	if err != nil {
		return nil, err
	}
	secretNonce, err := a.getCached(ctx, repo, account.KeySecretKeyNonce)
	if err != nil {
		return nil, err
	}
	secretKey, err := cryptox.OpenKey(encSecret, secretNonce, masterKey)
	if err != nil {
		return nil, fmt.Errorf("unwrap secret key: %w", err)
	}

	return &Session{
		UserID:    int64(binary.BigEndian.Uint64(userIDRaw)),
		MasterKey: masterKey,
		PublicKey: publicKey,
		SecretKey: secretKey,
	}, nil
}

// Register creates a new account: fresh salt and key pair, secret key
// wrapped with the derived master key.
func (a *AuthService) Register(ctx context.Context, email string, password []byte) error {
	salt := common.GenerateRandByteArray(32)
	masterKey := cryptox.DeriveMasterKey(password, salt)
	verifier := cryptox.MakeVerifier(masterKey)

	publicKey, secretKey, err := cryptox.GenerateKeyPair()
	if err != nil {
		return err
	}
	encSecret, nonce, err := cryptox.SealKey(secretKey[:], masterKey)
	if err != nil {
		return err
	}

	return a.api.Register(ctx, email, salt, verifier, models.KeyAttributes{
		PublicKey:          publicKey[:],
		EncryptedSecretKey: encSecret,
		SecretKeyNonce:     nonce,
	})
}

// ClearOfflineData wipes the cached account state, used on logout.
func (a *AuthService) ClearOfflineData(ctx context.Context) error {
	return account.NewSQLiteRepository(a.db).Clear(ctx)
}

func (a *AuthService) getCached(ctx context.Context, repo account.Repository, key string) ([]byte, error) {
	v, err := repo.Get(ctx, key)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, ErrLocalDataNotAvailable
	}
	return v, err
}

func (a *AuthService) saveOfflineData(ctx context.Context, email string, salt, verifier []byte, remote *models.Session) error {
	userID := make([]byte, 8)
	binary.BigEndian.PutUint64(userID, uint64(remote.UserID))

	return dbx.WithTx(ctx, a.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := account.NewSQLiteRepository(tx)
		for key, value := range map[string][]byte{
			account.KeyEmail:              []byte(email),
			account.KeyUserID:             userID,
			account.KeySalt:               salt,
			account.KeyVerifier:           verifier,
			account.KeyPublicKey:          remote.KeyAttributes.PublicKey,
			account.KeyEncryptedSecretKey: remote.KeyAttributes.EncryptedSecretKey,
			account.KeySecretKeyNonce:     remote.KeyAttributes.SecretKeyNonce,
		} {
			if err := repo.Set(ctx, key, value); err != nil {
				return err
			}
		}
		return nil
	})
}
