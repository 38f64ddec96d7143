// Package attachments tracks encrypted files uploaded to object storage.
package attachments

import (
	"context"

	"github.com/dmitrijs2005/sharekeeper/internal/server/models"
)

type Repository interface {
	// Upsert records a pending upload, replacing a previous one for the
	// same secret.
	Upsert(ctx context.Context, a *models.Attachment) error
	Get(ctx context.Context, secretID string) (*models.Attachment, error)
	MarkUploaded(ctx context.Context, secretID string) error
}
