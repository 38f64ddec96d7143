// Package services contains server-side business logic. This file implements
// AuthService: registration, the two-step SRP handshake, session lookup for
// request signatures, sign-out and password change.
package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/dmitrijs2005/sharekeeper/internal/cryptox"
	"github.com/dmitrijs2005/sharekeeper/internal/dbx"
	"github.com/dmitrijs2005/sharekeeper/internal/envelope"
	"github.com/dmitrijs2005/sharekeeper/internal/httpsig"
	"github.com/dmitrijs2005/sharekeeper/internal/logging"
	"github.com/dmitrijs2005/sharekeeper/internal/server/config"
	"github.com/dmitrijs2005/sharekeeper/internal/server/models"
	"github.com/dmitrijs2005/sharekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/sharekeeper/internal/srp"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// RegisterRequest carries everything the client derived for a new account.
type RegisterRequest struct {
	Email       string
	PublicKey   []byte
	Credentials models.Credentials
}

// HandshakeStart is the server reply to the first handshake step.
type HandshakeStart struct {
	ID            string
	SRPSalt       []byte
	SRPPbkdf2Salt []byte
	ServerPublic  []byte
}

// HandshakeResult is the server reply to a verified client proof. Keys lets
// the client unlock its private key with the master key.
type HandshakeResult struct {
	ID                  string
	ServerProof         []byte
	SessionWrapper      []byte
	MasterKeyPbkdf2Salt []byte
	Keys                *envelope.ProtectedKeyPair
}

// SessionInfo describes the session a signed request was made with.
type SessionInfo struct {
	HandshakeID    string
	AccountID      string
	Email          string
	SessionWrapper []byte
	CompletedAt    time.Time
}

// AuthService provides authentication-related operations.
type AuthService struct {
	db           *sql.DB
	repomanager  repomanager.RepositoryManager
	logger       logging.Logger
	fakeSaltKey  []byte
	handshakeTTL time.Duration
	sessionTTL   time.Duration
	now          func() time.Time
}

// NewAuthService constructs an AuthService using repositories and server config.
func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *AuthService {
	return &AuthService{
		db:           db,
		repomanager:  m,
		logger:       logger,
		fakeSaltKey:  deriveFakeSaltKey(cfg.SecretKey),
		handshakeTTL: cfg.HandshakeTTL,
		sessionTTL:   cfg.SessionTTL,
		now:          time.Now,
	}
}

// Register creates an account. A taken email gives common.ErrAlreadyExists.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*models.Account, error) {
	email, err := validateEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if len(req.PublicKey) != envelope.KeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes", common.ErrValidation, envelope.KeySize)
	}
	if err := validateCredentials(&req.Credentials); err != nil {
		return nil, err
	}

	c := req.Credentials
	account := &models.Account{
		Email:               email,
		SRPSalt:             c.SRPSalt,
		SRPPbkdf2Salt:       c.SRPPbkdf2Salt,
		MasterKeyPbkdf2Salt: c.MasterKeyPbkdf2Salt,
		Verifier:            c.Verifier,
		PublicKey:           req.PublicKey,
		PrivateKeySalt:      c.PrivateKeySalt,
		EncryptedPrivateKey: c.EncryptedPrivateKey,
	}

	account, err = s.repomanager.Accounts(s.db).Create(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("error creating account: %w", err)
	}
	logging.FromContext(ctx, s.logger).Info(ctx, "account registered", "account_id", account.ID)
	return account, nil
}

// StartHandshake begins an SRP login. For an unknown email it returns values
// shaped exactly like a real reply and stores nothing; the salts are stable
// per email so repeated probes look like a real account.
func (s *AuthService) StartHandshake(ctx context.Context, email string, clientPublic []byte) (*HandshakeStart, error) {
	email = common.NormalizeEmail(email)
	if len(clientPublic) != srp.ElementSize || srp.CheckClientPublic(clientPublic) != nil {
		return nil, fmt.Errorf("%w: invalid client public ephemeral", common.ErrValidation)
	}

	account, err := s.repomanager.Accounts(s.db).GetByEmail(ctx, email)
	if errors.Is(err, common.ErrNotFound) {
		logging.FromContext(ctx, s.logger).Debug(ctx, "handshake for unknown email")
		return s.fakeHandshake(email), nil
	}
	if err != nil {
		return nil, fmt.Errorf("error loading account: %w", err)
	}

	server := srp.NewServer(account.Email, account.SRPSalt, account.Verifier)
	h := &models.Handshake{
		AccountID:      account.ID,
		ServerSecret:   server.Secret(),
		ClientPublic:   clientPublic,
		SessionWrapper: common.GenerateRandByteArray(common.SaltSize),
	}

	err = dbx.WithTx(ctx, s.db, dbx.Serializable, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Handshakes(tx)
		if _, err := repo.DeleteIncomplete(ctx, account.ID); err != nil {
			return err
		}
		var err error
		h, err = repo.Create(ctx, h)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error starting handshake: %w", err)
	}

	return &HandshakeStart{
		ID:            h.ID,
		SRPSalt:       account.SRPSalt,
		SRPPbkdf2Salt: account.SRPPbkdf2Salt,
		ServerPublic:  server.PublicEphemeral(),
	}, nil
}

func (s *AuthService) fakeHandshake(email string) *HandshakeStart {
	return &HandshakeStart{
		ID:            uuid.NewString(),
		SRPSalt:       s.fakeSalt("srp-salt", email),
		SRPPbkdf2Salt: s.fakeSalt("srp-pbkdf2-salt", email),
		ServerPublic:  srp.FakePublicEphemeral(),
	}
}

// fakeSaltInfo keeps the fake-salt key apart from the invite token key.
const fakeSaltInfo = "sharekeeper fake-salt v1"

func deriveFakeSaltKey(secret string) []byte {
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(fakeSaltInfo)), key); err != nil {
		panic(err)
	}
	return key
}

func (s *AuthService) fakeSalt(label, email string) []byte {
	mac := hmac.New(sha256.New, s.fakeSaltKey)
	mac.Write([]byte(label))
	mac.Write([]byte{0})
	mac.Write([]byte(email))
	return mac.Sum(nil)
}

// errProofRejected marks a handshake that failed verification inside the
// transaction; FinishHandshake reports it as common.ErrAuthFailed.
type errProofRejected struct{ reason string }

func (e *errProofRejected) Error() string { return e.reason }

// FinishHandshake verifies the client proof and stores the session key.
// Every way the handshake can fail is reported as common.ErrAuthFailed; the
// specific cause is only logged.
func (s *AuthService) FinishHandshake(ctx context.Context, id string, clientProof []byte) (*HandshakeResult, error) {
	log := logging.FromContext(ctx, s.logger)

	if _, err := uuid.Parse(id); err != nil {
		log.Warn(ctx, "handshake finish rejected", "reason", "malformed id")
		return nil, common.ErrAuthFailed
	}

	var result *HandshakeResult
	err := dbx.WithTx(ctx, s.db, dbx.Serializable, func(ctx context.Context, tx dbx.DBTX) error {
		handshakes := s.repomanager.Handshakes(tx)

		h, err := handshakes.GetForUpdate(ctx, id)
		if errors.Is(err, common.ErrNotFound) {
			return &errProofRejected{"unknown handshake"}
		}
		if err != nil {
			return err
		}
		if h.Completed() {
			return &errProofRejected{"handshake already completed"}
		}
		if s.handshakeTTL > 0 && s.now().Sub(h.CreatedAt) > s.handshakeTTL {
			return &errProofRejected{"handshake expired"}
		}

		account, err := s.repomanager.Accounts(tx).GetByID(ctx, h.AccountID)
		if err != nil {
			return err
		}

		server := srp.RestoreServer(account.Email, account.SRPSalt, account.Verifier, h.ServerSecret)
		m2, key, err := server.VerifyClient(h.ClientPublic, clientProof)
		if err != nil {
			return &errProofRejected{err.Error()}
		}

		if err := handshakes.Complete(ctx, id, key); err != nil {
			if errors.Is(err, common.ErrStateConflict) {
				return &errProofRejected{"handshake completed concurrently"}
			}
			return err
		}

		result = &HandshakeResult{
			ID:                  id,
			ServerProof:         m2,
			SessionWrapper:      h.SessionWrapper,
			MasterKeyPbkdf2Salt: account.MasterKeyPbkdf2Salt,
			Keys: &envelope.ProtectedKeyPair{
				PublicKey:  account.PublicKey,
				KeySalt:    account.PrivateKeySalt,
				PrivateKey: account.EncryptedPrivateKey,
			},
		}
		return nil
	})

	var rejected *errProofRejected
	if errors.As(err, &rejected) {
		log.Warn(ctx, "handshake finish rejected", "handshake_id", id, "reason", rejected.reason)
		return nil, common.ErrAuthFailed
	}
	if err != nil {
		return nil, fmt.Errorf("error finishing handshake: %w", err)
	}

	log.Info(ctx, "handshake completed", "handshake_id", id)
	return result, nil
}

// Session resolves a completed handshake for the request verifier.
func (s *AuthService) Session(ctx context.Context, handshakeID string) (*httpsig.Session, error) {
	if _, err := uuid.Parse(handshakeID); err != nil {
		return nil, common.ErrNotFound
	}
	h, err := s.repomanager.Handshakes(s.db).Get(ctx, handshakeID)
	if err != nil {
		return nil, err
	}
	if !h.Completed() || h.CompletedAt == nil {
		return nil, common.ErrNotFound
	}
	return &httpsig.Session{AccountID: h.AccountID, Key: h.SessionKey, CompletedAt: *h.CompletedAt}, nil
}

// SessionInfo describes the session behind an authenticated request.
func (s *AuthService) SessionInfo(ctx context.Context, id *httpsig.Identity) (*SessionInfo, error) {
	h, err := s.repomanager.Handshakes(s.db).Get(ctx, id.HandshakeID)
	if err != nil {
		return nil, fmt.Errorf("error loading session: %w", err)
	}
	account, err := s.repomanager.Accounts(s.db).GetByID(ctx, id.AccountID)
	if err != nil {
		return nil, fmt.Errorf("error loading account: %w", err)
	}
	info := &SessionInfo{
		HandshakeID:    h.ID,
		AccountID:      h.AccountID,
		Email:          account.Email,
		SessionWrapper: h.SessionWrapper,
	}
	if h.CompletedAt != nil {
		info.CompletedAt = *h.CompletedAt
	}
	return info, nil
}

// Account returns the caller's account.
func (s *AuthService) Account(ctx context.Context, id *httpsig.Identity) (*models.Account, error) {
	account, err := s.repomanager.Accounts(s.db).GetByID(ctx, id.AccountID)
	if err != nil {
		return nil, fmt.Errorf("error loading account: %w", err)
	}
	return account, nil
}

// SignOut destroys the session the request was signed with.
func (s *AuthService) SignOut(ctx context.Context, id *httpsig.Identity) error {
	if err := s.repomanager.Handshakes(s.db).Delete(ctx, id.HandshakeID); err != nil {
		return fmt.Errorf("error deleting session: %w", err)
	}
	logging.FromContext(ctx, s.logger).Info(ctx, "signed out", "handshake_id", id.HandshakeID)
	return nil
}

// ChangePassword replaces the password-derived account fields and, in the
// same transaction, destroys every other handshake of the account. The
// session the request was signed with stays valid.
func (s *AuthService) ChangePassword(ctx context.Context, id *httpsig.Identity, c *models.Credentials) error {
	if err := validateCredentials(c); err != nil {
		return err
	}

	var dropped int64
	err := dbx.WithTx(ctx, s.db, dbx.Serializable, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Accounts(tx).UpdateCredentials(ctx, id.AccountID, c); err != nil {
			return err
		}
		var err error
		dropped, err = s.repomanager.Handshakes(tx).DeleteOthers(ctx, id.AccountID, id.HandshakeID)
		return err
	})
	if err != nil {
		return fmt.Errorf("error changing password: %w", err)
	}

	logging.FromContext(ctx, s.logger).Info(ctx, "password changed",
		"account_id", id.AccountID, "sessions_dropped", dropped)
	return nil
}

// PurgeExpired removes stale handshakes and sessions. A zero TTL disables
// the matching clause.
func (s *AuthService) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now()
	var incompleteBefore, completedBefore time.Time
	if s.handshakeTTL > 0 {
		incompleteBefore = now.Add(-s.handshakeTTL)
	}
	if s.sessionTTL > 0 {
		completedBefore = now.Add(-s.sessionTTL)
	}
	n, err := s.repomanager.Handshakes(s.db).DeleteExpired(ctx, incompleteBefore, completedBefore)
	if err != nil {
		return 0, fmt.Errorf("error purging handshakes: %w", err)
	}
	return n, nil
}

func validateEmail(raw string) (string, error) {
	email := common.NormalizeEmail(raw)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email", common.ErrValidation)
	}
	return email, nil
}

func validateCredentials(c *models.Credentials) error {
	if c == nil {
		return fmt.Errorf("%w: missing credentials", common.ErrValidation)
	}
	if err := cryptox.CheckSalts(c.SRPPbkdf2Salt, c.MasterKeyPbkdf2Salt); err != nil {
		return fmt.Errorf("%w: %w", common.ErrValidation, err)
	}
	if len(c.SRPSalt) != common.SaltSize || len(c.PrivateKeySalt) != common.SaltSize {
		return fmt.Errorf("%w: salts must be %d bytes", common.ErrValidation, common.SaltSize)
	}
	if len(c.Verifier) != srp.ElementSize {
		return fmt.Errorf("%w: verifier must be %d bytes", common.ErrValidation, srp.ElementSize)
	}
	if err := validateSealed(c.EncryptedPrivateKey); err != nil {
		return err
	}
	return nil
}

func validateSealed(s *envelope.Sealed) error {
	if s == nil || s.Algorithm != envelope.AlgSealed || len(s.Ciphertext) == 0 ||
		len(s.IV) != cryptox.NonceSize || len(s.Salt) != common.SaltSize {
		return fmt.Errorf("%w: malformed sealed payload", common.ErrValidation)
	}
	return nil
}
