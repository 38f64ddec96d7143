// Package invites persists invites for people who do not have an account yet.
package invites

import (
	"context"
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, inv *models.Invite) (*models.Invite, error)
	Get(ctx context.Context, id string) (*models.Invite, error)
	GetForUpdate(ctx context.Context, id string) (*models.Invite, error)
	ListByInviter(ctx context.Context, inviterID string) ([]*models.Invite, error)
	// MarkAccepted moves a pending invite to accepted. ErrStateConflict is
	// returned when it is no longer pending.
	MarkAccepted(ctx context.Context, id, accountID string) error
	// Expire moves a pending invite to expired.
	Expire(ctx context.Context, id string) error
	// ExpireOverdue expires every pending invite whose deadline passed and
	// returns their ids.
	ExpireOverdue(ctx context.Context, now time.Time) ([]string, error)
}
