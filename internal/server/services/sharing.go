package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/dmitrijs2005/sharekeeper/internal/dbx"
	"github.com/dmitrijs2005/sharekeeper/internal/envelope"
	"github.com/dmitrijs2005/sharekeeper/internal/logging"
	"github.com/dmitrijs2005/sharekeeper/internal/notify"
	"github.com/dmitrijs2005/sharekeeper/internal/server/models"
	"github.com/dmitrijs2005/sharekeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/sharekeeper/internal/sharing"
	"github.com/google/uuid"
)

// AccessKeys are the two data keys of a secret wrapped for one recipient.
type AccessKeys struct {
	PreviewKey     *envelope.WrappedKey
	CredentialsKey *envelope.WrappedKey
}

// PreviewGrant hands one recipient the preview key of a secret.
type PreviewGrant struct {
	Recipient  models.Recipient
	PreviewKey *envelope.WrappedKey
}

// NewSecret is a secret as encrypted by its manager.
type NewSecret struct {
	Credentials   *envelope.Sealed
	Preview       *envelope.Sealed
	SharePreviews bool
	ManagerKeys   AccessKeys
	// Previews are granted in the same transaction. They require
	// SharePreviews.
	Previews []PreviewGrant
}

// SecretUpdate replaces the encrypted payloads of a secret. The data keys
// stay the same so no access record changes.
type SecretUpdate struct {
	Credentials   *envelope.Sealed
	Preview       *envelope.Sealed
	SharePreviews bool
}

// TransitionRequest asks to perform one sharing action on the record of
// Recipient for SecretID.
type TransitionRequest struct {
	SecretID  string
	Recipient models.Recipient
	Action    sharing.Action
	// PreviewKey is required by the preview action.
	PreviewKey *envelope.WrappedKey
	// CredentialsKey is required by transitions that hand over custody of
	// the credentials key (offer and approve).
	CredentialsKey *envelope.WrappedKey
}

// SharingService manages secrets and applies sharing transitions.
type SharingService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	notifier    notify.Notifier
	logger      logging.Logger
	now         func() time.Time
}

func NewSharingService(db *sql.DB, m repomanager.RepositoryManager, n notify.Notifier, logger logging.Logger) *SharingService {
	return &SharingService{db: db, repomanager: m, notifier: n, logger: logger, now: time.Now}
}

// CreateSecret stores a secret together with its manager record and any
// preview grants.
func (s *SharingService) CreateSecret(ctx context.Context, caller string, req NewSecret) (*models.Secret, error) {
	if err := validateSealed(req.Credentials); err != nil {
		return nil, err
	}
	if err := validateSealed(req.Preview); err != nil {
		return nil, err
	}
	self := models.AccountRecipient(caller)
	if err := validateWrap(self, req.ManagerKeys.PreviewKey); err != nil {
		return nil, err
	}
	if err := validateWrap(self, req.ManagerKeys.CredentialsKey); err != nil {
		return nil, err
	}
	if len(req.Previews) > 0 && !req.SharePreviews {
		return nil, fmt.Errorf("%w: previews require share_previews", common.ErrValidation)
	}
	for _, g := range req.Previews {
		if err := validateRecipient(g.Recipient); err != nil {
			return nil, err
		}
		if err := validateWrap(g.Recipient, g.PreviewKey); err != nil {
			return nil, err
		}
	}

	secret := &models.Secret{
		ManagerID:     caller,
		Credentials:   req.Credentials,
		Preview:       req.Preview,
		SharePreviews: req.SharePreviews,
	}

	err := dbx.WithTx(ctx, s.db, dbx.Serializable, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		secret, err = s.repomanager.Secrets(tx).Create(ctx, secret)
		if err != nil {
			return err
		}

		access := s.repomanager.Access(tx)
		manager := &models.AccessRecord{
			Key:            models.AccessKey{SecretID: secret.ID, Recipient: self},
			PreviewKey:     req.ManagerKeys.PreviewKey,
			CredentialsKey: req.ManagerKeys.CredentialsKey,
			Status:         sharing.StatusManager,
		}
		if err := access.Insert(ctx, manager); err != nil {
			return err
		}

		for _, g := range req.Previews {
			if err := s.checkRecipient(ctx, tx, caller, g.Recipient); err != nil {
				return err
			}
			rec := &models.AccessRecord{
				Key:        models.AccessKey{SecretID: secret.ID, Recipient: g.Recipient},
				PreviewKey: g.PreviewKey,
				Status:     sharing.StatusPreview,
			}
			if err := access.Insert(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error creating secret: %w", err)
	}

	for _, g := range req.Previews {
		s.notify(ctx, notify.Event{
			Kind:          string(sharing.ActionPreview),
			SecretID:      secret.ID,
			ActorID:       caller,
			RecipientKind: string(g.Recipient.Kind),
			RecipientID:   g.Recipient.ID,
			To:            string(sharing.StatusPreview),
		})
	}
	return secret, nil
}

// UpdateSecret replaces the payloads of a secret. Only the manager may do
// this.
func (s *SharingService) UpdateSecret(ctx context.Context, caller, secretID string, req SecretUpdate) (*models.Secret, error) {
	if err := validateSealed(req.Credentials); err != nil {
		return nil, err
	}
	if err := validateSealed(req.Preview); err != nil {
		return nil, err
	}

	var secret *models.Secret
	err := dbx.WithTx(ctx, s.db, dbx.Serializable, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		secret, err = s.managedSecret(ctx, tx, caller, secretID)
		if err != nil {
			return err
		}
		secret.Credentials = req.Credentials
		secret.Preview = req.Preview
		secret.SharePreviews = req.SharePreviews
		return s.repomanager.Secrets(tx).Update(ctx, secret)
	})
	if err != nil {
		return nil, fmt.Errorf("error updating secret: %w", err)
	}
	return secret, nil
}

// DeleteSecret removes a secret and every access record of it.
func (s *SharingService) DeleteSecret(ctx context.Context, caller, secretID string) error {
	err := dbx.WithTx(ctx, s.db, dbx.Serializable, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.managedSecret(ctx, tx, caller, secretID); err != nil {
			return err
		}
		return s.repomanager.Secrets(tx).Delete(ctx, secretID)
	})
	if err != nil {
		return fmt.Errorf("error deleting secret: %w", err)
	}
	return nil
}

// ListSecrets returns every secret the caller has a record for. The
// credentials ciphertext is only included where the caller may read it.
func (s *SharingService) ListSecrets(ctx context.Context, caller string) ([]*models.SecretListing, error) {
	listings, err := s.repomanager.Secrets(s.db).ListForAccount(ctx, caller)
	if err != nil {
		return nil, fmt.Errorf("error listing secrets: %w", err)
	}
	for _, l := range listings {
		redact(l)
	}
	return listings, nil
}

// GetSecret returns one secret with the caller's record.
func (s *SharingService) GetSecret(ctx context.Context, caller, secretID string) (*models.SecretListing, error) {
	if err := validateID(secretID); err != nil {
		return nil, err
	}
	rec, err := s.repomanager.Access(s.db).Get(ctx, models.AccessKey{
		SecretID:  secretID,
		Recipient: models.AccountRecipient(caller),
	})
	if err != nil {
		return nil, fmt.Errorf("error loading access: %w", err)
	}
	secret, err := s.repomanager.Secrets(s.db).Get(ctx, secretID)
	if err != nil {
		return nil, fmt.Errorf("error loading secret: %w", err)
	}
	l := &models.SecretListing{Secret: secret, Access: rec}
	redact(l)
	return l, nil
}

// ListAccess returns every record of a secret. Only the manager may list
// them.
func (s *SharingService) ListAccess(ctx context.Context, caller, secretID string) ([]*models.AccessRecord, error) {
	if _, err := s.managedSecret(ctx, s.db, caller, secretID); err != nil {
		return nil, err
	}
	recs, err := s.repomanager.Access(s.db).ListBySecret(ctx, secretID)
	if err != nil {
		return nil, fmt.Errorf("error listing access: %w", err)
	}
	return recs, nil
}

// ListConnections returns the accounts the caller may share with.
func (s *SharingService) ListConnections(ctx context.Context, caller string) ([]*models.Connection, error) {
	conns, err := s.repomanager.Connections(s.db).List(ctx, caller)
	if err != nil {
		return nil, fmt.Errorf("error listing connections: %w", err)
	}
	return conns, nil
}

// Transition performs one sharing action. The record is read with a row
// lock, the move is checked with sharing.Next, and the write is conditional
// on the status that was read, all in one serializable transaction.
//
// It returns the record as written, or nil when the action removed it.
func (s *SharingService) Transition(ctx context.Context, caller string, req TransitionRequest) (*models.AccessRecord, error) {
	if err := validateID(req.SecretID); err != nil {
		return nil, err
	}
	if err := validateRecipient(req.Recipient); err != nil {
		return nil, err
	}
	if _, err := sharing.ParseAction(string(req.Action)); err != nil {
		return nil, err
	}

	key := models.AccessKey{SecretID: req.SecretID, Recipient: req.Recipient}
	var (
		from   sharing.Status
		to     sharing.Status
		result *models.AccessRecord
	)

	err := dbx.WithTx(ctx, s.db, dbx.Serializable, func(ctx context.Context, tx dbx.DBTX) error {
		secret, err := s.repomanager.Secrets(tx).GetForShare(ctx, req.SecretID)
		if err != nil {
			return err
		}

		var role sharing.Role
		switch {
		case secret.ManagerID == caller:
			role = sharing.RoleOwner
		case req.Recipient == models.AccountRecipient(caller):
			role = sharing.RoleRecipient
		default:
			return common.ErrNotFound
		}

		access := s.repomanager.Access(tx)
		rec, err := access.GetForUpdate(ctx, key)
		switch {
		case errors.Is(err, common.ErrNotFound):
			rec = nil
			from = sharing.StatusNone
		case err != nil:
			return err
		default:
			from = rec.Status
		}

		to, err = sharing.Next(from, role, req.Action)
		if err != nil {
			return err
		}

		switch {
		case to == sharing.StatusNone:
			return access.Delete(ctx, key, from)

		case from == sharing.StatusNone:
			if err := validateWrap(req.Recipient, req.PreviewKey); err != nil {
				return err
			}
			if err := s.checkRecipient(ctx, tx, caller, req.Recipient); err != nil {
				return err
			}
			result = &models.AccessRecord{Key: key, PreviewKey: req.PreviewKey, Status: to}
			return access.Insert(ctx, result)

		default:
			var credentialsKey *envelope.WrappedKey
			switch {
			case sharing.NeedsNewCredentialsKey(from, to):
				if err := validateWrap(req.Recipient, req.CredentialsKey); err != nil {
					return err
				}
				credentialsKey = req.CredentialsKey
			case to.HoldsCredentialsKey():
				credentialsKey = rec.CredentialsKey
			}
			if err := access.UpdateStatus(ctx, key, from, to, credentialsKey); err != nil {
				return err
			}
			rec.Status = to
			rec.CredentialsKey = credentialsKey
			result = rec
			return nil
		}
	})
	if err != nil {
		return nil, fmt.Errorf("error applying %s: %w", req.Action, err)
	}

	s.notify(ctx, notify.Event{
		Kind:          string(req.Action),
		SecretID:      req.SecretID,
		ActorID:       caller,
		RecipientKind: string(req.Recipient.Kind),
		RecipientID:   req.Recipient.ID,
		From:          string(from),
		To:            string(to),
	})
	return result, nil
}

// managedSecret loads a secret the caller manages. Callers without a record
// get common.ErrNotFound, other parties get common.ErrForbidden.
func (s *SharingService) managedSecret(ctx context.Context, db dbx.DBTX, caller, secretID string) (*models.Secret, error) {
	if err := validateID(secretID); err != nil {
		return nil, err
	}
	secret, err := s.repomanager.Secrets(db).Get(ctx, secretID)
	if err != nil {
		return nil, err
	}
	if secret.ManagerID == caller {
		return secret, nil
	}
	_, err = s.repomanager.Access(db).Get(ctx, models.AccessKey{
		SecretID:  secretID,
		Recipient: models.AccountRecipient(caller),
	})
	if err != nil {
		return nil, err
	}
	return nil, common.ErrForbidden
}

// checkRecipient allows account recipients that are connections of the
// owner and invite recipients that are the owner's own claimable invites.
func (s *SharingService) checkRecipient(ctx context.Context, tx dbx.DBTX, owner string, r models.Recipient) error {
	switch r.Kind {
	case models.RecipientAccount:
		if r.ID == owner {
			return fmt.Errorf("%w: cannot share with yourself", common.ErrValidation)
		}
		ok, err := s.repomanager.Connections(tx).Exists(ctx, owner, r.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: recipient is not a connection", common.ErrForbidden)
		}
		return nil
	case models.RecipientInvite:
		inv, err := s.repomanager.Invites(tx).Get(ctx, r.ID)
		if err != nil {
			return err
		}
		if inv.InviterID != owner {
			return common.ErrNotFound
		}
		if !inv.Claimable(s.now()) {
			return common.ErrInviteExpired
		}
		return nil
	}
	return fmt.Errorf("%w: unknown recipient kind", common.ErrValidation)
}

func (s *SharingService) notify(ctx context.Context, e notify.Event) {
	if err := s.notifier.Notify(ctx, e); err != nil {
		logging.FromContext(ctx, s.logger).Warn(ctx, "notification failed", "kind", e.Kind, "error", err)
	}
}

// redact drops the credentials ciphertext from a listing the caller may not
// read, and the credentials key from a record that does not hold one.
func redact(l *models.SecretListing) {
	if !l.Access.Status.CanReadCredentials() {
		secret := *l.Secret
		secret.Credentials = nil
		l.Secret = &secret
	}
	if !l.Access.Status.HoldsCredentialsKey() {
		l.Access.CredentialsKey = nil
	}
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return common.ErrNotFound
	}
	return nil
}

func validateRecipient(r models.Recipient) error {
	if _, err := models.ParseRecipientKind(string(r.Kind)); err != nil {
		return err
	}
	if _, err := uuid.Parse(r.ID); err != nil {
		return fmt.Errorf("%w: invalid recipient id", common.ErrValidation)
	}
	return nil
}

// validateWrap checks that a wrapped key exists and uses the wrap path of
// the recipient kind.
func validateWrap(r models.Recipient, w *envelope.WrappedKey) error {
	if w == nil || len(w.Ciphertext) == 0 {
		return fmt.Errorf("%w: missing wrapped key", common.ErrValidation)
	}
	want := envelope.AlgAccount
	if r.Kind == models.RecipientInvite {
		want = envelope.AlgInvite
	}
	if w.Algorithm != want {
		return fmt.Errorf("%w: %s recipient needs %s wrap", common.ErrValidation, r.Kind, want)
	}
	return nil
}
