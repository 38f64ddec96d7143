package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/dmitrijs2005/sharekeeper/internal/envelope"
	"github.com/dmitrijs2005/sharekeeper/internal/sharing"
)

// RecipientKind tells whether a recipient is a registered account or an
// invite placeholder.
type RecipientKind string

const (
	RecipientAccount RecipientKind = "account"
	RecipientInvite  RecipientKind = "invite"
)

// ParseRecipientKind validates the wire form of a recipient kind.
func ParseRecipientKind(s string) (RecipientKind, error) {
	switch k := RecipientKind(s); k {
	case RecipientAccount, RecipientInvite:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown recipient kind %q", common.ErrValidation, s)
}

// Recipient identifies who an access record is addressed to.
type Recipient struct {
	Kind RecipientKind
	ID   string
}

// AccountRecipient returns the recipient for an account id.
func AccountRecipient(id string) Recipient {
	return Recipient{Kind: RecipientAccount, ID: id}
}

// InviteRecipient returns the recipient for an invite id.
func InviteRecipient(id string) Recipient {
	return Recipient{Kind: RecipientInvite, ID: id}
}

// AccessKey is the composite key of an access record: at most one record
// exists per (secret, recipient).
type AccessKey struct {
	SecretID  string
	Recipient Recipient
}

// AccessRecord is what one recipient can see and hold for one secret.
type AccessRecord struct {
	Key            AccessKey
	PreviewKey     *envelope.WrappedKey
	CredentialsKey *envelope.WrappedKey
	Status         sharing.Status
	UpdatedAt      time.Time
}
