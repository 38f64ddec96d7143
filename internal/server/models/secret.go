package models

import (
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/envelope"
)

// Secret is an encrypted payload owned by exactly one account, the manager.
type Secret struct {
	ID            string
	ManagerID     string
	Credentials   *envelope.Sealed
	Preview       *envelope.Sealed
	SharePreviews bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SecretListing is a secret together with the caller's access record.
type SecretListing struct {
	Secret *Secret
	Access *AccessRecord
}
