// Package sharing defines the access-record lifecycle of a secret for one
// recipient as a pure transition function.
package sharing

import (
	"fmt"

	"github.com/dmitrijs2005/sharekeeper/internal/common"
)

// Status of an access record.
type Status string

const (
	// StatusNone means no record exists for the pair.
	StatusNone           Status = ""
	StatusManager        Status = "manager"
	StatusPreview        Status = "preview"
	StatusOfferPending   Status = "offer/pending"
	StatusShared         Status = "shared"
	StatusOfferRejected  Status = "offer/rejected"
	StatusRequestPending Status = "request/pending"
	StatusRequestDenied  Status = "request/denied"
)

var statuses = []Status{
	StatusManager, StatusPreview, StatusOfferPending, StatusShared,
	StatusOfferRejected, StatusRequestPending, StatusRequestDenied,
}

// ParseStatus converts the wire form into a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return StatusNone, fmt.Errorf("%w: unknown status %q", common.ErrValidation, s)
}

// HoldsCredentialsKey reports whether a record in this status carries a
// wrapped credentials key.
func (s Status) HoldsCredentialsKey() bool {
	return s == StatusManager || s == StatusOfferPending || s == StatusShared
}

// CanReadCredentials reports whether the recipient may fetch the credentials
// ciphertext.
func (s Status) CanReadCredentials() bool {
	return s == StatusManager || s == StatusShared
}

// IsPending reports whether the record waits on the other party.
func (s Status) IsPending() bool {
	return s == StatusOfferPending || s == StatusRequestPending
}

// Role of the party performing an action.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleRecipient Role = "recipient"
)

// Action requested on a record.
type Action string

const (
	ActionPreview Action = "preview"
	ActionOffer   Action = "offer"
	ActionRequest Action = "request"
	ActionAccept  Action = "accept"
	ActionReject  Action = "reject"
	ActionApprove Action = "approve"
	ActionDeny    Action = "deny"
	ActionRetract Action = "retract"
	ActionReset   Action = "reset"
	ActionRevoke  Action = "revoke"
	ActionLeave   Action = "leave"
)

// ParseAction converts the wire form into an Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if _, ok := actors[a]; !ok {
		return "", fmt.Errorf("%w: unknown action %q", common.ErrValidation, s)
	}
	return a, nil
}

// actors maps each action to the only role allowed to perform it.
var actors = map[Action]Role{
	ActionPreview: RoleOwner,
	ActionOffer:   RoleOwner,
	ActionApprove: RoleOwner,
	ActionDeny:    RoleOwner,
	ActionRetract: RoleOwner,
	ActionReset:   RoleOwner,
	ActionRevoke:  RoleOwner,
	ActionRequest: RoleRecipient,
	ActionAccept:  RoleRecipient,
	ActionReject:  RoleRecipient,
	ActionLeave:   RoleRecipient,
}

type edge struct {
	from   Status
	action Action
}

var transitions = map[edge]Status{
	{StatusNone, ActionPreview}:           StatusPreview,
	{StatusPreview, ActionOffer}:          StatusOfferPending,
	{StatusPreview, ActionRequest}:        StatusRequestPending,
	{StatusOfferPending, ActionAccept}:    StatusShared,
	{StatusOfferPending, ActionReject}:    StatusOfferRejected,
	{StatusRequestPending, ActionApprove}: StatusShared,
	{StatusRequestPending, ActionDeny}:    StatusRequestDenied,
	{StatusOfferPending, ActionRetract}:   StatusPreview,
	{StatusOfferRejected, ActionReset}:    StatusPreview,
	{StatusRequestDenied, ActionReset}:    StatusPreview,
	{StatusShared, ActionLeave}:           StatusNone,
}

// Next returns the status that results from role performing action on a
// record currently in status current. StatusNone as a result means the
// record is removed.
//
// Errors are common.ErrIllegalTransition when the action is not possible
// from current, and common.ErrWrongParty when it is possible but must be
// performed by the other role.
func Next(current Status, role Role, action Action) (Status, error) {
	actor, ok := actors[action]
	if !ok {
		return current, fmt.Errorf("%w: unknown action %q", common.ErrIllegalTransition, action)
	}

	var next Status
	switch {
	case action == ActionRevoke:
		if current == StatusNone || current == StatusManager {
			return current, illegal(current, action)
		}
		next = StatusNone
	default:
		next, ok = transitions[edge{current, action}]
		if !ok {
			return current, illegal(current, action)
		}
	}

	if role != actor {
		return current, fmt.Errorf("%w: %s may not %s", common.ErrWrongParty, role, action)
	}
	return next, nil
}

// NeedsNewCredentialsKey reports whether moving from one status to another
// grants custody of the credentials key, so the write must carry a key.
func NeedsNewCredentialsKey(from, to Status) bool {
	return to.HoldsCredentialsKey() && !from.HoldsCredentialsKey()
}

func illegal(from Status, action Action) error {
	name := string(from)
	if from == StatusNone {
		name = "none"
	}
	return fmt.Errorf("%w: cannot %s from %s", common.ErrIllegalTransition, action, name)
}
