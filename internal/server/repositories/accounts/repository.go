// Package accounts persists registered accounts.
package accounts

import (
	"context"

	"github.com/dmitrijs2005/sharekeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, a *models.Account) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	UpdateCredentials(ctx context.Context, id string, c *models.Credentials) error
}
