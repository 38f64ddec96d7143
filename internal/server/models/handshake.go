package models

import "time"

// Handshake is one SRP login attempt.
type Handshake struct {
	ID             string
	AccountID      string
	ServerSecret   []byte
	ClientPublic   []byte
	SessionKey     []byte
	SessionWrapper []byte
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// Completed reports whether the handshake holds a session key.
func (h *Handshake) Completed() bool {
	return len(h.SessionKey) > 0
}
