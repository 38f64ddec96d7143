// Package access persists per-recipient access records. Every status change
// is conditional on the prior status so concurrent writers cannot both win.
package access

import (
	"context"

	"github.com/dmitrijs2005/sharekeeper/internal/envelope"
	"github.com/dmitrijs2005/sharekeeper/internal/server/models"
	"github.com/dmitrijs2005/sharekeeper/internal/sharing"
)

type Repository interface {
	Insert(ctx context.Context, rec *models.AccessRecord) error
	// Upsert replaces the record for the same (secret, recipient) if one
	// exists.
	Upsert(ctx context.Context, rec *models.AccessRecord) error
	Get(ctx context.Context, key models.AccessKey) (*models.AccessRecord, error)
	GetForUpdate(ctx context.Context, key models.AccessKey) (*models.AccessRecord, error)
	// UpdateStatus moves the record from expected to next. A nil
	// credentialsKey clears the stored key. ErrStateConflict is returned when
	// the record is not in expected.
	UpdateStatus(ctx context.Context, key models.AccessKey, expected, next sharing.Status, credentialsKey *envelope.WrappedKey) error
	// Delete removes the record if it is in expected.
	Delete(ctx context.Context, key models.AccessKey, expected sharing.Status) error
	ListBySecret(ctx context.Context, secretID string) ([]*models.AccessRecord, error)
	// ListByRecipientForUpdate locks and returns every record addressed to
	// the recipient.
	ListByRecipientForUpdate(ctx context.Context, r models.Recipient) ([]*models.AccessRecord, error)
	DeleteByRecipient(ctx context.Context, r models.Recipient) (int64, error)
}
