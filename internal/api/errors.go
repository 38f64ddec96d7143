package api

import "github.com/dmitrijs2005/sharekeeper/internal/common"

// Wire error codes.
const (
	CodeMalformedRequest  = "malformed_request"
	CodeValidation        = "validation"
	CodeInvalidToken      = "invalid_token"
	CodeUnauthenticated   = "unauthenticated"
	CodeAuthFailed        = "auth_failed"
	CodeWrongParty        = "wrong_party"
	CodeForbidden         = "forbidden"
	CodeIllegalTransition = "illegal_transition"
	CodeStateConflict     = "state_conflict"
	CodeNotFound          = "not_found"
	CodeInviteExpired     = "invite_expired"
	CodeAlreadyExists     = "already_exists"
	CodeConflict          = "conflict"
	CodeTooLarge          = "too_large"
	CodeInternal          = "internal"
)

var sentinels = map[string]error{
	CodeMalformedRequest:  common.ErrMalformedRequest,
	CodeValidation:        common.ErrValidation,
	CodeInvalidToken:      common.ErrInvalidToken,
	CodeUnauthenticated:   common.ErrUnauthenticated,
	CodeAuthFailed:        common.ErrAuthFailed,
	CodeWrongParty:        common.ErrWrongParty,
	CodeForbidden:         common.ErrForbidden,
	CodeIllegalTransition: common.ErrIllegalTransition,
	CodeStateConflict:     common.ErrStateConflict,
	CodeNotFound:          common.ErrNotFound,
	CodeInviteExpired:     common.ErrInviteExpired,
	CodeAlreadyExists:     common.ErrAlreadyExists,
	CodeConflict:          common.ErrConflict,
	CodeTooLarge:          common.ErrMalformedRequest,
	CodeInternal:          common.ErrInternal,
}

// Error is the body of every non-2xx reply. Code is stable; Message is for
// humans. On the client it unwraps to the matching common sentinel, so
// errors.Is works across the wire.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Status is the HTTP status the error arrived with. It is not sent.
	Status int `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	if err, ok := sentinels[e.Code]; ok {
		return err
	}
	return common.ErrInternal
}
