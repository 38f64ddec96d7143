// Package connections stores which accounts may share secrets with each other.
package connections

import (
	"context"

	"github.com/dmitrijs2005/sharekeeper/internal/server/models"
)

type Repository interface {
	List(ctx context.Context, accountID string) ([]*models.Connection, error)
	Exists(ctx context.Context, accountID, peerID string) (bool, error)
	// Connect links both accounts in both directions. Linking an existing
	// pair is a no-op.
	Connect(ctx context.Context, a, b string) error
}
