// Package secrets persists encrypted secrets.
package secrets

import (
	"context"

	"github.com/dmitrijs2005/sharekeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, s *models.Secret) (*models.Secret, error)
	Get(ctx context.Context, id string) (*models.Secret, error)
	// GetForShare takes a shared row lock so the secret cannot be deleted
	// while one of its access records changes.
	GetForShare(ctx context.Context, id string) (*models.Secret, error)
	Update(ctx context.Context, s *models.Secret) error
	Delete(ctx context.Context, id string) error
	// ListForAccount returns every secret the account has an access record
	// for, together with that record.
	ListForAccount(ctx context.Context, accountID string) ([]*models.SecretListing, error)
}
