// Package services contains application services for the sharekeeper
// client. This file defines the authentication service: registration, SRP
// login, resuming a cached session, logout and password change.
package services

import (
	"context"
	"crypto/hmac"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/sharekeeper/internal/api"
	"github.com/dmitrijs2005/sharekeeper/internal/client/client"
	"github.com/dmitrijs2005/sharekeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/dmitrijs2005/sharekeeper/internal/cryptox"
	"github.com/dmitrijs2005/sharekeeper/internal/dbx"
	"github.com/dmitrijs2005/sharekeeper/internal/envelope"
	"github.com/dmitrijs2005/sharekeeper/internal/logging"
	"github.com/dmitrijs2005/sharekeeper/internal/srp"
)

// Cache keys of the stored session.
const (
	sessionPrefix     = "session/"
	keyEmail          = sessionPrefix + "email"
	keyAccountID      = sessionPrefix + "account_id"
	keyHandshakeID    = sessionPrefix + "handshake_id"
	keySessionWrapper = sessionPrefix + "wrapper"
	keySealedSession  = sessionPrefix + "sealed_key"
	keySessionProof   = sessionPrefix + "proof"
	keyMasterSalt     = sessionPrefix + "master_salt"
	keyKeyPair        = sessionPrefix + "keypair"
)

// Session is a signed-in account with its unlocked keys.
type Session struct {
	Email       string
	AccountID   string
	HandshakeID string
	Keys        *envelope.Keyring

	wrapper []byte
	key     []byte
}

// Close wipes the key material held by the session.
func (s *Session) Close() {
	if s == nil {
		return
	}
	if s.Keys != nil {
		s.Keys.Wipe()
	}
	common.WipeByteArray(s.key)
}

// AuthService defines authentication operations for the CLI.
//
// Contract:
//   - Register: derive credentials locally and create the account.
//   - Login: run the SRP handshake, unlock the keypair and cache the session.
//   - Resume: reopen the cached session with the password, no handshake.
//   - Logout: end the session on the server and drop it locally.
//   - ChangePassword: re-derive every password-bound field.
//
// All methods honor context cancellation.
type AuthService interface {
	Register(ctx context.Context, email string, password []byte) error
	Login(ctx context.Context, email string, password []byte) (*Session, error)
	Resume(ctx context.Context, password []byte) (*Session, error)
	Logout(ctx context.Context) error
	ChangePassword(ctx context.Context, s *Session, newPassword []byte) (*Session, error)
	CachedEmail(ctx context.Context) (string, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type authService struct {
	client  client.Client
	db      *sql.DB
	deriver *cryptox.KeyDeriver
	logger  logging.Logger
}

// NewAuthService constructs an AuthService bound to the API client and the
// local cache database.
func NewAuthService(c client.Client, db *sql.DB, d *cryptox.KeyDeriver, logger logging.Logger) AuthService {
	return &authService{client: c, db: db, deriver: d, logger: logger}
}

func (a *authService) getMetadataRepo(db dbx.DBTX) metadata.Repository {
	return metadata.NewSQLiteRepository(db)
}

// newCredentials derives a fresh set of password-bound account fields and
// protects kp under the new master key.
func (a *authService) newCredentials(email string, password []byte, kp *envelope.KeyPair) (*api.Credentials, []byte, error) {
	srpPbkdf2Salt := common.GenerateRandByteArray(common.SaltSize)
	masterSalt := common.GenerateRandByteArray(common.SaltSize)
	srpSalt := common.GenerateRandByteArray(common.SaltSize)

	stretched, master, err := a.deriver.DeriveBoth(email, string(password), srpPbkdf2Salt, masterSalt)
	if err != nil {
		return nil, nil, err
	}
	defer common.WipeByteArray(stretched)
	defer common.WipeByteArray(master)

	if kp == nil {
		if kp, err = envelope.GenerateKeyPair(); err != nil {
			return nil, nil, err
		}
	}
	protected, err := envelope.ProtectKeyPair(master, kp)
	if err != nil {
		return nil, nil, err
	}

	return &api.Credentials{
		SRPSalt:             srpSalt,
		SRPPbkdf2Salt:       srpPbkdf2Salt,
		MasterKeyPbkdf2Salt: masterSalt,
		Verifier:            srp.Verifier(srpSalt, stretched),
		PrivateKeySalt:      protected.KeySalt,
		EncryptedPrivateKey: protected.PrivateKey,
	}, protected.PublicKey, nil
}

// Register creates a new account. Only salts, the SRP verifier, the public
// key and the sealed private key leave the machine.
func (a *authService) Register(ctx context.Context, email string, password []byte) error {
	creds, pub, err := a.newCredentials(email, password, nil)
	if err != nil {
		return fmt.Errorf("derive credentials: %w", err)
	}

	acc, err := a.client.Register(ctx, &api.RegisterRequest{
		Email:       email,
		PublicKey:   pub,
		Credentials: *creds,
	})
	if err != nil {
		return err
	}
	a.logger.Debug(ctx, "registered", "account_id", acc.ID)
	return nil
}

// Login runs the SRP handshake, checks the server proof, unlocks the keypair
// and caches the session so later commands can Resume it.
func (a *authService) Login(ctx context.Context, email string, password []byte) (*Session, error) {
	srpClient := srp.NewClient(common.NormalizeEmail(email))

	start, err := a.client.StartHandshake(ctx, &api.HandshakeStartRequest{
		Email:                 email,
		ClientPublicEphemeral: srpClient.PublicEphemeral(),
	})
	if err != nil {
		return nil, fmt.Errorf("start handshake: %w", err)
	}

	stretched, err := a.deriver.DeriveSRPPrivateKey(email, string(password), start.SRPPbkdf2Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrAuthFailed, err)
	}
	proof, err := srpClient.ComputeProof(start.SRPSalt, stretched, start.ServerPublicEphemeral)
	common.WipeByteArray(stretched)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrAuthFailed, err)
	}

	fin, err := a.client.FinishHandshake(ctx, start.ID, &api.HandshakeFinishRequest{ClientProof: proof})
	if err != nil {
		return nil, fmt.Errorf("finish handshake: %w", err)
	}
	if err := srpClient.VerifyServer(fin.ServerProof); err != nil {
		return nil, fmt.Errorf("%w: server proof: %w", common.ErrAuthFailed, err)
	}

	master, err := a.deriver.DeriveMasterKey(email, string(password), fin.MasterKeyPbkdf2Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrAuthFailed, err)
	}
	protected := &envelope.ProtectedKeyPair{
		PublicKey:  fin.PublicKey,
		KeySalt:    fin.PrivateKeySalt,
		PrivateKey: fin.EncryptedPrivateKey,
	}
	keys, err := envelope.Unlock(master, protected)
	if err != nil {
		common.WipeByteArray(master)
		return nil, fmt.Errorf("%w: unlock keypair: %w", common.ErrAuthFailed, err)
	}

	s := &Session{
		Email:       common.NormalizeEmail(email),
		HandshakeID: fin.ID,
		Keys:        keys,
		wrapper:     fin.SessionWrapper,
		key:         srpClient.SessionKey(),
	}
	a.client.SetSession(s.HandshakeID, s.key)

	info, err := a.client.Session(ctx)
	if err != nil {
		a.client.ClearSession()
		s.Close()
		return nil, fmt.Errorf("confirm session: %w", err)
	}
	s.AccountID = info.AccountID

	if err := a.saveSession(ctx, s, fin.MasterKeyPbkdf2Salt, protected); err != nil {
		a.logger.Warn(ctx, "session not cached", "error", err)
	}
	a.logger.Debug(ctx, "logged in", "account_id", s.AccountID, "handshake_id", s.HandshakeID)
	return s, nil
}

// saveSession stores what Resume needs. The session key is sealed under the
// master key so the cache alone does not let anyone sign requests.
func (a *authService) saveSession(ctx context.Context, s *Session, masterSalt []byte, protected *envelope.ProtectedKeyPair) error {
	sealed, err := s.Keys.SealSessionKey(s.wrapper, s.key)
	if err != nil {
		return err
	}
	proof, err := s.Keys.SessionProof(s.wrapper, s.HandshakeID)
	if err != nil {
		return err
	}
	sealedJSON, err := json.Marshal(sealed)
	if err != nil {
		return err
	}
	keyPairJSON, err := json.Marshal(protected)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, a.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := a.getMetadataRepo(tx)

		prev, err := repo.Get(ctx, keyEmail)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
		if prev != nil && string(prev) != s.Email {
			// Another account: its invite link keys must not leak.
			if err := repo.Clear(ctx); err != nil {
				return err
			}
		}

		values := map[string][]byte{
			keyEmail:          []byte(s.Email),
			keyAccountID:      []byte(s.AccountID),
			keyHandshakeID:    []byte(s.HandshakeID),
			keySessionWrapper: s.wrapper,
			keySealedSession:  sealedJSON,
			keySessionProof:   proof,
			keyMasterSalt:     masterSalt,
			keyKeyPair:        keyPairJSON,
		}
		for k, v := range values {
			if err := repo.Set(ctx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

type cachedSession struct {
	email, accountID, handshakeID string
	wrapper, proof, masterSalt    []byte
	sealed                        envelope.Sealed
	keyPair                       envelope.ProtectedKeyPair
}

func (a *authService) loadSession(ctx context.Context) (*cachedSession, error) {
	m, err := a.getMetadataRepo(a.db).List(ctx, sessionPrefix)
	if err != nil {
		return nil, err
	}
	for _, k := range []string{keyEmail, keyAccountID, keyHandshakeID, keySessionWrapper,
		keySealedSession, keySessionProof, keyMasterSalt, keyKeyPair} {
		if len(m[k]) == 0 {
			return nil, client.ErrNoCachedSession
		}
	}

	c := &cachedSession{
		email:       string(m[keyEmail]),
		accountID:   string(m[keyAccountID]),
		handshakeID: string(m[keyHandshakeID]),
		wrapper:     m[keySessionWrapper],
		proof:       m[keySessionProof],
		masterSalt:  m[keyMasterSalt],
	}
	if err := json.Unmarshal(m[keySealedSession], &c.sealed); err != nil {
		return nil, fmt.Errorf("%w: %w", client.ErrNoCachedSession, err)
	}
	if err := json.Unmarshal(m[keyKeyPair], &c.keyPair); err != nil {
		return nil, fmt.Errorf("%w: %w", client.ErrNoCachedSession, err)
	}
	return c, nil
}

// Resume reopens the cached session. A wrong password gives
// common.ErrAuthFailed; a session the server no longer knows is dropped from
// the cache and reported with the server's error.
func (a *authService) Resume(ctx context.Context, password []byte) (*Session, error) {
	c, err := a.loadSession(ctx)
	if err != nil {
		return nil, err
	}

	master, err := a.deriver.DeriveMasterKey(c.email, string(password), c.masterSalt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrAuthFailed, err)
	}
	keys, err := envelope.Unlock(master, &c.keyPair)
	if err != nil {
		common.WipeByteArray(master)
		return nil, common.ErrAuthFailed
	}

	proof, err := keys.SessionProof(c.wrapper, c.handshakeID)
	if err != nil || !hmac.Equal(proof, c.proof) {
		keys.Wipe()
		return nil, common.ErrAuthFailed
	}
	key, err := keys.OpenSessionKey(c.wrapper, &c.sealed)
	if err != nil {
		keys.Wipe()
		return nil, common.ErrAuthFailed
	}

	s := &Session{
		Email:       c.email,
		AccountID:   c.accountID,
		HandshakeID: c.handshakeID,
		Keys:        keys,
		wrapper:     c.wrapper,
		key:         key,
	}
	a.client.SetSession(s.HandshakeID, s.key)

	info, err := a.client.Session(ctx)
	if err != nil {
		a.client.ClearSession()
		s.Close()
		if errors.Is(err, common.ErrAuthFailed) || errors.Is(err, common.ErrUnauthenticated) {
			if cerr := a.dropSession(ctx); cerr != nil {
				a.logger.Warn(ctx, "dropping stale session", "error", cerr)
			}
		}
		return nil, fmt.Errorf("resume session: %w", err)
	}
	if info.AccountID != s.AccountID {
		a.client.ClearSession()
		s.Close()
		return nil, fmt.Errorf("%w: session belongs to another account", common.ErrAuthFailed)
	}
	return s, nil
}

func (a *authService) dropSession(ctx context.Context) error {
	return dbx.WithTx(ctx, a.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := a.getMetadataRepo(tx)
		m, err := repo.List(ctx, sessionPrefix)
		if err != nil {
			return err
		}
		for k := range m {
			if k == keyEmail {
				continue
			}
			if err := repo.Delete(ctx, k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Logout signs the session out on the server and drops it locally. The
// local copy is dropped even when the server cannot be reached.
func (a *authService) Logout(ctx context.Context) error {
	serr := a.client.SignOut(ctx)
	a.client.ClearSession()
	if err := a.dropSession(ctx); err != nil {
		return err
	}
	if serr != nil && !errors.Is(serr, common.ErrAuthFailed) {
		return fmt.Errorf("sign out: %w", serr)
	}
	return nil
}

// ChangePassword re-derives every password-bound field, keeps the keypair,
// and re-caches the current session under the new master key. The server
// ends every other session of the account.
func (a *authService) ChangePassword(ctx context.Context, s *Session, newPassword []byte) (*Session, error) {
	creds, _, err := a.newCredentials(s.Email, newPassword, s.Keys.KeyPair())
	if err != nil {
		return nil, fmt.Errorf("derive credentials: %w", err)
	}
	if err := a.client.ChangePassword(ctx, creds); err != nil {
		return nil, err
	}

	master, err := a.deriver.DeriveMasterKey(s.Email, string(newPassword), creds.MasterKeyPbkdf2Salt)
	if err != nil {
		return nil, err
	}
	protected := &envelope.ProtectedKeyPair{
		PublicKey:  s.Keys.PublicKey(),
		KeySalt:    creds.PrivateKeySalt,
		PrivateKey: creds.EncryptedPrivateKey,
	}
	keys, err := envelope.Unlock(master, protected)
	if err != nil {
		common.WipeByteArray(master)
		return nil, err
	}

	next := &Session{
		Email:       s.Email,
		AccountID:   s.AccountID,
		HandshakeID: s.HandshakeID,
		Keys:        keys,
		wrapper:     s.wrapper,
		key:         append([]byte(nil), s.key...),
	}
	s.Close()

	if err := a.saveSession(ctx, next, creds.MasterKeyPbkdf2Salt, protected); err != nil {
		a.logger.Warn(ctx, "session not cached", "error", err)
	}
	return next, nil
}

// CachedEmail returns the email of the last login on this machine.
func (a *authService) CachedEmail(ctx context.Context) (string, error) {
	v, err := a.getMetadataRepo(a.db).Get(ctx, keyEmail)
	if errors.Is(err, common.ErrNotFound) {
		return "", client.ErrNoCachedSession
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// Ping proxies a liveness check to the underlying client.
func (a *authService) Ping(ctx context.Context) error {
	return a.client.Ping(ctx)
}

// Close releases resources held by the underlying client.
func (a *authService) Close(ctx context.Context) error {
	return a.client.Close()
}
