package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/sharekeeper/internal/api"
	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/dmitrijs2005/sharekeeper/internal/httpsig"
	"github.com/dmitrijs2005/sharekeeper/internal/server/models"
	"github.com/dmitrijs2005/sharekeeper/internal/server/services"
	"github.com/dmitrijs2005/sharekeeper/internal/sharing"
	"github.com/go-chi/chi/v5"
)

// AuthService is the subset of services.AuthService the handlers use.
type AuthService interface {
	Register(ctx context.Context, req services.RegisterRequest) (*models.Account, error)
	StartHandshake(ctx context.Context, email string, clientPublic []byte) (*services.HandshakeStart, error)
	FinishHandshake(ctx context.Context, id string, clientProof []byte) (*services.HandshakeResult, error)
	SessionInfo(ctx context.Context, id *httpsig.Identity) (*services.SessionInfo, error)
	Account(ctx context.Context, id *httpsig.Identity) (*models.Account, error)
	SignOut(ctx context.Context, id *httpsig.Identity) error
	ChangePassword(ctx context.Context, id *httpsig.Identity, c *models.Credentials) error
}

type SharingService interface {
	CreateSecret(ctx context.Context, caller string, req services.NewSecret) (*models.Secret, error)
	UpdateSecret(ctx context.Context, caller, secretID string, req services.SecretUpdate) (*models.Secret, error)
	DeleteSecret(ctx context.Context, caller, secretID string) error
	ListSecrets(ctx context.Context, caller string) ([]*models.SecretListing, error)
	GetSecret(ctx context.Context, caller, secretID string) (*models.SecretListing, error)
	ListAccess(ctx context.Context, caller, secretID string) ([]*models.AccessRecord, error)
	ListConnections(ctx context.Context, caller string) ([]*models.Connection, error)
	Transition(ctx context.Context, caller string, req services.TransitionRequest) (*models.AccessRecord, error)
}

type InviteService interface {
	CreateInvite(ctx context.Context, caller, contact string) (*models.Invite, string, error)
	ListInvites(ctx context.Context, caller string) ([]*models.Invite, error)
	LookupInvite(ctx context.Context, caller, token string) (*services.InviteDetails, error)
	ClaimInvite(ctx context.Context, caller, token string, rewraps []services.Rewrap) ([]*models.AccessRecord, error)
	ExpireInvite(ctx context.Context, caller, inviteID string) error
}

type AttachmentService interface {
	UploadURL(ctx context.Context, caller, secretID string) (string, error)
	MarkUploaded(ctx context.Context, caller, secretID string) error
	DownloadURL(ctx context.Context, caller, secretID string) (string, error)
}

// Services bundles the business logic behind the routes.
type Services struct {
	Auth        AuthService
	Sharing     SharingService
	Invites     InviteService
	Attachments AttachmentService
}

// Actions reachable on the recipient sub-resource and on the secret itself.
var (
	ownerActions = map[string]sharing.Action{
		"offer":   sharing.ActionOffer,
		"retract": sharing.ActionRetract,
		"approve": sharing.ActionApprove,
		"deny":    sharing.ActionDeny,
		"reset":   sharing.ActionReset,
	}
	selfActions = map[string]sharing.Action{
		"accept":  sharing.ActionAccept,
		"reject":  sharing.ActionReject,
		"request": sharing.ActionRequest,
		"leave":   sharing.ActionLeave,
	}
)

// decodeJSON reads a single JSON document into v. An empty body is allowed
// when optional is set.
func decodeJSON(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("%w: %v", common.ErrMalformedRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", common.ErrMalformedRequest)
	}
	return nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	acc, err := s.services.Auth.Register(r.Context(), services.RegisterRequest{
		Email:       req.Email,
		PublicKey:   req.PublicKey,
		Credentials: fromAPICredentials(req.Credentials),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAPIAccount(acc))
}

func (s *Server) handleStartHandshake(w http.ResponseWriter, r *http.Request) {
	var req api.HandshakeStartRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	hs, err := s.services.Auth.StartHandshake(r.Context(), req.Email, req.ClientPublicEphemeral)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.HandshakeStartResponse{
		ID:                    hs.ID,
		SRPSalt:               hs.SRPSalt,
		SRPPbkdf2Salt:         hs.SRPPbkdf2Salt,
		ServerPublicEphemeral: hs.ServerPublic,
	})
}

func (s *Server) handleFinishHandshake(w http.ResponseWriter, r *http.Request) {
	var req api.HandshakeFinishRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.services.Auth.FinishHandshake(r.Context(), chi.URLParam(r, "id"), req.ClientProof)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIFinish(res))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.services.Auth.SessionInfo(r.Context(), identity(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.Session{
		HandshakeID:    info.HandshakeID,
		AccountID:      info.AccountID,
		Email:          info.Email,
		SessionWrapper: info.SessionWrapper,
		CompletedAt:    info.CompletedAt,
	})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Auth.SignOut(r.Context(), identity(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := s.services.Auth.Account(r.Context(), identity(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIAccount(acc))
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req api.Credentials
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	c := fromAPICredentials(req)
	if err := s.services.Auth.ChangePassword(r.Context(), identity(r), &c); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	cs, err := s.services.Sharing.ListConnections(r.Context(), identity(r).AccountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIConnections(cs))
}

func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	ls, err := s.services.Sharing.ListSecrets(r.Context(), identity(r).AccountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPISecrets(ls))
}

func (s *Server) handleCreateSecret(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSecretRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	previews := make([]services.PreviewGrant, 0, len(req.Previews))
	for _, p := range req.Previews {
		rcpt, err := fromAPIRecipient(p.Recipient)
		if err != nil {
			writeError(w, r, err)
			return
		}
		previews = append(previews, services.PreviewGrant{Recipient: rcpt, PreviewKey: p.PreviewKey})
	}

	caller := identity(r).AccountID
	secret, err := s.services.Sharing.CreateSecret(r.Context(), caller, services.NewSecret{
		Credentials:   req.Credentials,
		Preview:       req.Preview,
		SharePreviews: req.SharePreviews,
		ManagerKeys:   services.AccessKeys{PreviewKey: req.PreviewKey, CredentialsKey: req.CredentialsKey},
		Previews:      previews,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAPISecret(secret, &models.AccessRecord{
		Key:            models.AccessKey{SecretID: secret.ID, Recipient: models.AccountRecipient(caller)},
		PreviewKey:     req.PreviewKey,
		CredentialsKey: req.CredentialsKey,
		Status:         sharing.StatusManager,
		UpdatedAt:      secret.CreatedAt,
	}))
}

func (s *Server) handleGetSecret(w http.ResponseWriter, r *http.Request) {
	l, err := s.services.Sharing.GetSecret(r.Context(), identity(r).AccountID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPISecret(l.Secret, l.Access))
}

func (s *Server) handleUpdateSecret(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateSecretRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	secret, err := s.services.Sharing.UpdateSecret(r.Context(), identity(r).AccountID, chi.URLParam(r, "id"), services.SecretUpdate{
		Credentials:   req.Credentials,
		Preview:       req.Preview,
		SharePreviews: req.SharePreviews,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPISecret(secret, nil))
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Sharing.DeleteSecret(r.Context(), identity(r).AccountID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAccess(w http.ResponseWriter, r *http.Request) {
	rs, err := s.services.Sharing.ListAccess(r.Context(), identity(r).AccountID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.RecordsResponse{Records: toAPIRecords(rs)})
}

// handleGrantPreview applies the preview action for the recipient named in
// the body.
func (s *Server) handleGrantPreview(w http.ResponseWriter, r *http.Request) {
	var req api.PreviewGrant
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	rcpt, err := fromAPIRecipient(req.Recipient)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.transition(w, r, services.TransitionRequest{
		SecretID:   chi.URLParam(r, "id"),
		Recipient:  rcpt,
		Action:     sharing.ActionPreview,
		PreviewKey: req.PreviewKey,
	})
}

func (s *Server) handleOwnerAction(w http.ResponseWriter, r *http.Request) {
	action, ok := ownerActions[chi.URLParam(r, "action")]
	if !ok {
		writeError(w, r, common.ErrNotFound)
		return
	}
	rcpt, err := recipientParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req api.TransitionRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	s.transition(w, r, services.TransitionRequest{
		SecretID:       chi.URLParam(r, "id"),
		Recipient:      rcpt,
		Action:         action,
		CredentialsKey: req.CredentialsKey,
	})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	rcpt, err := recipientParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.transition(w, r, services.TransitionRequest{
		SecretID:  chi.URLParam(r, "id"),
		Recipient: rcpt,
		Action:    sharing.ActionRevoke,
	})
}

// handleSelfAction applies a recipient action to the caller's own record.
func (s *Server) handleSelfAction(w http.ResponseWriter, r *http.Request) {
	action, ok := selfActions[chi.URLParam(r, "action")]
	if !ok {
		writeError(w, r, common.ErrNotFound)
		return
	}
	s.transition(w, r, services.TransitionRequest{
		SecretID:  chi.URLParam(r, "id"),
		Recipient: models.AccountRecipient(identity(r).AccountID),
		Action:    action,
	})
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, req services.TransitionRequest) {
	rec, err := s.services.Sharing.Transition(r.Context(), identity(r).AccountID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.TransitionResponse{Record: toAPIRecord(rec)})
}

func recipientParam(r *http.Request) (models.Recipient, error) {
	return fromAPIRecipient(api.Recipient{Kind: chi.URLParam(r, "kind"), ID: chi.URLParam(r, "rid")})
}

func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	url, err := s.services.Attachments.UploadURL(r.Context(), identity(r).AccountID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.URLResponse{URL: url})
}

func (s *Server) handleMarkUploaded(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Attachments.MarkUploaded(r.Context(), identity(r).AccountID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	url, err := s.services.Attachments.DownloadURL(r.Context(), identity(r).AccountID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.URLResponse{URL: url})
}

func (s *Server) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	var req api.CreateInviteRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	inv, token, err := s.services.Invites.CreateInvite(r.Context(), identity(r).AccountID, req.Contact)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.CreateInviteResponse{Invite: toAPIInvite(inv), Token: token})
}

func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request) {
	invs, err := s.services.Invites.ListInvites(r.Context(), identity(r).AccountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]api.Invite, 0, len(invs))
	for _, i := range invs {
		out = append(out, toAPIInvite(i))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLookupInvite(w http.ResponseWriter, r *http.Request) {
	var req api.TokenRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	d, err := s.services.Invites.LookupInvite(r.Context(), identity(r).AccountID, req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.LookupInviteResponse{
		Invite:       toAPIInvite(d.Invite),
		InviterEmail: d.InviterEmail,
		Records:      toAPIRecords(d.Records),
	})
}

func (s *Server) handleClaimInvite(w http.ResponseWriter, r *http.Request) {
	var req api.ClaimInviteRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	rewraps := make([]services.Rewrap, 0, len(req.Rewraps))
	for _, rw := range req.Rewraps {
		rewraps = append(rewraps, services.Rewrap{SecretID: rw.SecretID, PreviewKey: rw.PreviewKey, CredentialsKey: rw.CredentialsKey})
	}
	rs, err := s.services.Invites.ClaimInvite(r.Context(), identity(r).AccountID, req.Token, rewraps)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.RecordsResponse{Records: toAPIRecords(rs)})
}

func (s *Server) handleExpireInvite(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Invites.ExpireInvite(r.Context(), identity(r).AccountID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
