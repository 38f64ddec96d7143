// Package handshakes persists SRP handshakes and the sessions they establish.
package handshakes

import (
	"context"
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, h *models.Handshake) (*models.Handshake, error)
	Get(ctx context.Context, id string) (*models.Handshake, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id string) (*models.Handshake, error)
	// Complete stores the session key; it fails with common.ErrStateConflict
	// when the handshake already has one.
	Complete(ctx context.Context, id string, sessionKey []byte) error
	Delete(ctx context.Context, id string) error
	DeleteIncomplete(ctx context.Context, accountID string) (int64, error)
	DeleteOthers(ctx context.Context, accountID, keepID string) (int64, error)
	// DeleteExpired removes incomplete handshakes created before
	// incompleteBefore and sessions completed before completedBefore.
	DeleteExpired(ctx context.Context, incompleteBefore, completedBefore time.Time) (int64, error)
}
