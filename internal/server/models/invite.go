package models

import "time"

// InviteStatus is the lifecycle of an invite.
type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteExpired  InviteStatus = "expired"
)

// Invite is a placeholder recipient for someone without an account. The
// link key it is keyed by never reaches the server.
type Invite struct {
	ID         string
	InviterID  string
	Contact    string
	Status     InviteStatus
	ExpiresAt  time.Time
	AcceptedBy *string
	CreatedAt  time.Time
}

// Claimable reports whether the invite can still be accepted at now.
func (i *Invite) Claimable(now time.Time) bool {
	return i.Status == InvitePending && now.Before(i.ExpiresAt)
}
