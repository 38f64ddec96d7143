// Package common defines shared constants and sentinel errors used across
// client and server layers of sharekeeper. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict reports a lost race with a concurrent writer. The caller may
	// retry the whole operation.
	ErrConflict = errors.New("conflict, retry")

	// Input validation.
	ErrValidation       = errors.New("validation error")
	ErrMalformedRequest = errors.New("malformed request")

	// Authentication. ErrAuthFailed is the only outcome a client ever sees for
	// a failed handshake or a rejected request signature.
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrAuthFailed      = errors.New("authentication failed")

	// Sharing state machine.
	ErrIllegalTransition = errors.New("illegal transition")
	ErrWrongParty        = errors.New("action not permitted for this party")
	ErrStateConflict     = errors.New("not found in expected prior state")
	ErrForbidden         = errors.New("forbidden")

	// Invite lifecycle.
	ErrInvalidToken  = errors.New("invalid token")
	ErrInviteExpired = errors.New("invite expired")

	ErrInternal = errors.New("internal error")
)
