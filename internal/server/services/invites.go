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
	"github.com/dmitrijs2005/sharekeeper/internal/server/auth"
	"github.com/dmitrijs2005/sharekeeper/internal/server/config"
	"github.com/dmitrijs2005/sharekeeper/internal/server/models"
	"github.com/dmitrijs2005/sharekeeper/internal/server/repositories/repomanager"
)

// InviteDetails is what the holder of an invite token sees before claiming.
type InviteDetails struct {
	Invite       *models.Invite
	InviterEmail string
	Records      []*models.AccessRecord
}

// Rewrap carries the keys of one invite-addressed record re-wrapped by the
// invitee for its own public key.
type Rewrap struct {
	SecretID       string
	PreviewKey     *envelope.WrappedKey
	CredentialsKey *envelope.WrappedKey
}

// InviteService creates, claims and expires invites.
type InviteService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	notifier    notify.Notifier
	logger      logging.Logger
	secretKey   []byte
	validity    time.Duration
	now         func() time.Time
}

func NewInviteService(db *sql.DB, m repomanager.RepositoryManager, n notify.Notifier, cfg *config.Config, logger logging.Logger) *InviteService {
	return &InviteService{
		db:          db,
		repomanager: m,
		notifier:    n,
		logger:      logger,
		secretKey:   []byte(cfg.SecretKey),
		validity:    cfg.InviteValidity,
		now:         time.Now,
	}
}

// CreateInvite stores a pending invite and returns it with its token.
func (s *InviteService) CreateInvite(ctx context.Context, caller, contact string) (*models.Invite, string, error) {
	inv := &models.Invite{
		InviterID: caller,
		Contact:   contact,
		ExpiresAt: s.now().Add(s.validity).UTC().Truncate(time.Second),
	}
	inv, err := s.repomanager.Invites(s.db).Create(ctx, inv)
	if err != nil {
		return nil, "", fmt.Errorf("error creating invite: %w", err)
	}

	token, err := auth.GenerateInviteToken(inv.ID, caller, inv.ExpiresAt, s.secretKey)
	if err != nil {
		return nil, "", fmt.Errorf("error signing invite: %w", err)
	}
	logging.FromContext(ctx, s.logger).Info(ctx, "invite created", "invite_id", inv.ID)
	return inv, token, nil
}

// ListInvites returns the invites the caller created.
func (s *InviteService) ListInvites(ctx context.Context, caller string) ([]*models.Invite, error) {
	invites, err := s.repomanager.Invites(s.db).ListByInviter(ctx, caller)
	if err != nil {
		return nil, fmt.Errorf("error listing invites: %w", err)
	}
	return invites, nil
}

// LookupInvite resolves a token to its invite and the records addressed to
// it, so the invitee can unwrap them with the link key.
func (s *InviteService) LookupInvite(ctx context.Context, caller, token string) (*InviteDetails, error) {
	claims, err := auth.ParseInviteToken(token, s.secretKey)
	if err != nil {
		return nil, err
	}

	var details *InviteDetails
	err = dbx.WithTx(ctx, s.db, dbx.Serializable, func(ctx context.Context, tx dbx.DBTX) error {
		inv, err := s.claimableInvite(ctx, tx, claims, caller, false)
		if err != nil {
			return err
		}
		inviter, err := s.repomanager.Accounts(tx).GetByID(ctx, inv.InviterID)
		if err != nil {
			return err
		}
		recs, err := s.repomanager.Access(tx).ListByRecipientForUpdate(ctx, models.InviteRecipient(inv.ID))
		if err != nil {
			return err
		}
		details = &InviteDetails{Invite: inv, InviterEmail: inviter.Email, Records: recs}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error looking up invite: %w", err)
	}
	return details, nil
}

// ClaimInvite migrates every invite-addressed record to the caller's
// account, retires the invite records, marks the invite accepted and
// connects inviter and invitee, all in one transaction. rewraps must cover
// exactly the records of the invite.
func (s *InviteService) ClaimInvite(ctx context.Context, caller, token string, rewraps []Rewrap) ([]*models.AccessRecord, error) {
	claims, err := auth.ParseInviteToken(token, s.secretKey)
	if err != nil {
		return nil, err
	}

	self := models.AccountRecipient(caller)
	byID := make(map[string]Rewrap, len(rewraps))
	for _, rw := range rewraps {
		if _, dup := byID[rw.SecretID]; dup {
			return nil, fmt.Errorf("%w: duplicate rewrap for %s", common.ErrValidation, rw.SecretID)
		}
		if err := validateWrap(self, rw.PreviewKey); err != nil {
			return nil, err
		}
		byID[rw.SecretID] = rw
	}

	var (
		inviterID string
		migrated  []*models.AccessRecord
	)
	err = dbx.WithTx(ctx, s.db, dbx.Serializable, func(ctx context.Context, tx dbx.DBTX) error {
		inv, err := s.claimableInvite(ctx, tx, claims, caller, true)
		if err != nil {
			return err
		}
		inviterID = inv.InviterID

		access := s.repomanager.Access(tx)
		recs, err := access.ListByRecipientForUpdate(ctx, models.InviteRecipient(inv.ID))
		if err != nil {
			return err
		}
		if len(recs) != len(byID) {
			return fmt.Errorf("%w: rewraps do not match invite records", common.ErrStateConflict)
		}

		for _, rec := range recs {
			rw, ok := byID[rec.Key.SecretID]
			if !ok {
				return fmt.Errorf("%w: missing rewrap for %s", common.ErrStateConflict, rec.Key.SecretID)
			}
			var credentialsKey *envelope.WrappedKey
			if rec.Status.HoldsCredentialsKey() {
				if err := validateWrap(self, rw.CredentialsKey); err != nil {
					return err
				}
				credentialsKey = rw.CredentialsKey
			}

			key := models.AccessKey{SecretID: rec.Key.SecretID, Recipient: self}
			existing, err := access.GetForUpdate(ctx, key)
			switch {
			case err == nil && (existing.Status.HoldsCredentialsKey() || existing.Status.IsPending()):
				// a direct grant or an open offer/request outranks the invite
				continue
			case err != nil && !errors.Is(err, common.ErrNotFound):
				return err
			}

			moved := &models.AccessRecord{
				Key:            key,
				PreviewKey:     rw.PreviewKey,
				CredentialsKey: credentialsKey,
				Status:         rec.Status,
			}
			if err := access.Upsert(ctx, moved); err != nil {
				return err
			}
			migrated = append(migrated, moved)
		}

		if _, err := access.DeleteByRecipient(ctx, models.InviteRecipient(inv.ID)); err != nil {
			return err
		}
		if err := s.repomanager.Invites(tx).MarkAccepted(ctx, inv.ID, caller); err != nil {
			return err
		}
		return s.repomanager.Connections(tx).Connect(ctx, inv.InviterID, caller)
	})
	if err != nil {
		return nil, fmt.Errorf("error claiming invite: %w", err)
	}

	for _, rec := range migrated {
		s.notify(ctx, notify.Event{
			Kind:          "claim",
			SecretID:      rec.Key.SecretID,
			ActorID:       caller,
			RecipientKind: string(models.RecipientAccount),
			RecipientID:   caller,
			To:            string(rec.Status),
		})
	}
	logging.FromContext(ctx, s.logger).Info(ctx, "invite claimed",
		"invite_id", claims.InviteID, "inviter_id", inviterID, "records", len(migrated))
	return migrated, nil
}

// ExpireInvite expires a pending invite of the caller and retires the
// records addressed to it.
func (s *InviteService) ExpireInvite(ctx context.Context, caller, inviteID string) error {
	if err := validateID(inviteID); err != nil {
		return err
	}
	err := dbx.WithTx(ctx, s.db, dbx.Serializable, func(ctx context.Context, tx dbx.DBTX) error {
		invites := s.repomanager.Invites(tx)
		inv, err := invites.GetForUpdate(ctx, inviteID)
		if err != nil {
			return err
		}
		if inv.InviterID != caller {
			return common.ErrNotFound
		}
		if err := invites.Expire(ctx, inviteID); err != nil {
			return err
		}
		_, err = s.repomanager.Access(tx).DeleteByRecipient(ctx, models.InviteRecipient(inviteID))
		return err
	})
	if err != nil {
		return fmt.Errorf("error expiring invite: %w", err)
	}
	return nil
}

// ExpireOverdue expires every pending invite past its deadline and retires
// the records addressed to them.
func (s *InviteService) ExpireOverdue(ctx context.Context) (int, error) {
	var expired []string
	err := dbx.WithTx(ctx, s.db, dbx.Serializable, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		expired, err = s.repomanager.Invites(tx).ExpireOverdue(ctx, s.now())
		if err != nil {
			return err
		}
		access := s.repomanager.Access(tx)
		for _, id := range expired {
			if _, err := access.DeleteByRecipient(ctx, models.InviteRecipient(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("error expiring invites: %w", err)
	}
	return len(expired), nil
}

// claimableInvite loads the invite named by claims and checks it can still
// be claimed by caller.
func (s *InviteService) claimableInvite(ctx context.Context, tx dbx.DBTX, claims *auth.InviteClaims, caller string, lock bool) (*models.Invite, error) {
	invites := s.repomanager.Invites(tx)
	get := invites.Get
	if lock {
		get = invites.GetForUpdate
	}
	inv, err := get(ctx, claims.InviteID)
	if err != nil {
		return nil, err
	}
	if inv.InviterID != claims.InviterID {
		return nil, common.ErrInvalidToken
	}
	if inv.InviterID == caller {
		return nil, fmt.Errorf("%w: cannot claim your own invite", common.ErrValidation)
	}
	switch {
	case inv.Status == models.InviteAccepted:
		return nil, fmt.Errorf("%w: invite already accepted", common.ErrStateConflict)
	case !inv.Claimable(s.now()):
		return nil, common.ErrInviteExpired
	}
	return inv, nil
}

func (s *InviteService) notify(ctx context.Context, e notify.Event) {
	if err := s.notifier.Notify(ctx, e); err != nil {
		logging.FromContext(ctx, s.logger).Warn(ctx, "notification failed", "kind", e.Kind, "error", err)
	}
}
