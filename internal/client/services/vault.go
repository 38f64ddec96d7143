package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/api"
	"github.com/dmitrijs2005/sharekeeper/internal/client/client"
	"github.com/dmitrijs2005/sharekeeper/internal/client/models"
	"github.com/dmitrijs2005/sharekeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/dmitrijs2005/sharekeeper/internal/cryptox"
	"github.com/dmitrijs2005/sharekeeper/internal/envelope"
	"github.com/dmitrijs2005/sharekeeper/internal/filex"
	"github.com/dmitrijs2005/sharekeeper/internal/logging"
	"github.com/dmitrijs2005/sharekeeper/internal/netx"
	"github.com/dmitrijs2005/sharekeeper/internal/sharing"
)

const (
	invitePrefix = "invite/"
	// inviteCodeSep joins the server token and the link key in an invite
	// code. The link key never reaches the server.
	inviteCodeSep = "#"
	// targetInvite prefixes a recipient given as an invite id.
	targetInvite = "invite:"
)

var (
	// ErrNoAccess is returned when the caller holds no key for a secret part.
	ErrNoAccess = errors.New("no key for this secret")
	// ErrUnknownRecipient is returned for a target that is neither a
	// connection nor an own invite.
	ErrUnknownRecipient = errors.New("unknown recipient, share with connections or invites")
	// ErrNoAttachment is returned when a secret has nothing to download.
	ErrNoAttachment = errors.New("secret has no attachment")
)

// SecretView is a secret as the CLI shows it.
type SecretView struct {
	ID            string
	ManagerID     string
	Status        string
	SharePreviews bool
	// Preview is nil when the caller cannot open it.
	Preview   *models.Preview
	UpdatedAt time.Time
}

// InvitePreview is what an invite link reveals before it is claimed.
type InvitePreview struct {
	Invite       api.Invite
	InviterEmail string
	Records      []*api.AccessRecord
}

// VaultService holds every secret and sharing operation of a signed-in
// account. Keys are unwrapped and payloads decrypted on this side only.
type VaultService interface {
	CreateSecret(ctx context.Context, s *Session, p models.Preview, c models.Credentials, sharePreviews bool) (*SecretView, error)
	ListSecrets(ctx context.Context, s *Session) ([]SecretView, error)
	ShowSecret(ctx context.Context, s *Session, id string) (*SecretView, *models.Credentials, error)
	UpdateSecret(ctx context.Context, s *Session, id string, p models.Preview, c models.Credentials, sharePreviews bool) error
	DeleteSecret(ctx context.Context, s *Session, id string) error
	Access(ctx context.Context, s *Session, id string) ([]*api.AccessRecord, error)
	Connections(ctx context.Context, s *Session) ([]api.Connection, error)

	Preview(ctx context.Context, s *Session, id, target string) (*api.AccessRecord, error)
	Offer(ctx context.Context, s *Session, id, target string) (*api.AccessRecord, error)
	Approve(ctx context.Context, s *Session, id, target string) (*api.AccessRecord, error)
	Deny(ctx context.Context, s *Session, id, target string) (*api.AccessRecord, error)
	Retract(ctx context.Context, s *Session, id, target string) (*api.AccessRecord, error)
	Reset(ctx context.Context, s *Session, id, target string) (*api.AccessRecord, error)
	Revoke(ctx context.Context, s *Session, id, target string) error

	Accept(ctx context.Context, s *Session, id string) (*api.AccessRecord, error)
	Reject(ctx context.Context, s *Session, id string) (*api.AccessRecord, error)
	Request(ctx context.Context, s *Session, id string) (*api.AccessRecord, error)
	Leave(ctx context.Context, s *Session, id string) error

	CreateInvite(ctx context.Context, s *Session, contact string) (*api.Invite, string, error)
	ListInvites(ctx context.Context, s *Session) ([]api.Invite, error)
	LookupInvite(ctx context.Context, s *Session, code string) (*InvitePreview, error)
	ClaimInvite(ctx context.Context, s *Session, code string) ([]*api.AccessRecord, error)
	ExpireInvite(ctx context.Context, s *Session, id string) error

	Attach(ctx context.Context, s *Session, id, path string) error
	Download(ctx context.Context, s *Session, id, dir string) (string, error)
}

type vaultService struct {
	client   client.Client
	db       *sql.DB
	transfer *netx.Transfer
	logger   logging.Logger
}

// NewVaultService constructs a VaultService. db is the local cache where
// invite link keys are kept.
func NewVaultService(c client.Client, db *sql.DB, t *netx.Transfer, logger logging.Logger) VaultService {
	return &vaultService{client: c, db: db, transfer: t, logger: logger}
}

func (v *vaultService) metadataRepo() metadata.Repository {
	return metadata.NewSQLiteRepository(v.db)
}

func sealJSON(key []byte, x any) (*envelope.Sealed, error) {
	b, err := json.Marshal(x)
	if err != nil {
		return nil, err
	}
	return envelope.Seal(key, b)
}

func openJSON(key []byte, sealed *envelope.Sealed, x any) error {
	b, err := envelope.Open(key, sealed)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, x)
}

// CreateSecret seals both parts under fresh data keys, wraps them to the
// caller, and with sharePreviews grants every connection a preview.
func (v *vaultService) CreateSecret(ctx context.Context, s *Session, p models.Preview, c models.Credentials, sharePreviews bool) (*SecretView, error) {
	previewKey := envelope.NewDataKey()
	credsKey := envelope.NewDataKey()
	defer common.WipeByteArray(previewKey)
	defer common.WipeByteArray(credsKey)

	req := &api.CreateSecretRequest{SharePreviews: sharePreviews}
	var err error
	if req.Preview, err = sealJSON(previewKey, p); err != nil {
		return nil, fmt.Errorf("seal preview: %w", err)
	}
	if req.Credentials, err = sealJSON(credsKey, c); err != nil {
		return nil, fmt.Errorf("seal credentials: %w", err)
	}
	if req.PreviewKey, err = envelope.WrapForAccount(s.Keys.PublicKey(), previewKey); err != nil {
		return nil, err
	}
	if req.CredentialsKey, err = envelope.WrapForAccount(s.Keys.PublicKey(), credsKey); err != nil {
		return nil, err
	}

	if sharePreviews {
		conns, err := v.client.Connections(ctx)
		if err != nil {
			return nil, fmt.Errorf("list connections: %w", err)
		}
		for _, conn := range conns {
			w, err := envelope.WrapForAccount(conn.PublicKey, previewKey)
			if err != nil {
				return nil, fmt.Errorf("wrap preview for %s: %w", conn.Email, err)
			}
			req.Previews = append(req.Previews, api.PreviewGrant{
				Recipient:  api.Recipient{Kind: api.RecipientAccount, ID: conn.AccountID},
				PreviewKey: w,
			})
		}
	}

	sec, err := v.client.CreateSecret(ctx, req)
	if err != nil {
		return nil, err
	}
	view := v.view(ctx, s, sec)
	return &view, nil
}

// view decrypts what the caller can of sec. Failures leave Preview nil.
func (v *vaultService) view(ctx context.Context, s *Session, sec *api.Secret) SecretView {
	out := SecretView{
		ID:            sec.ID,
		ManagerID:     sec.ManagerID,
		SharePreviews: sec.SharePreviews,
		UpdatedAt:     sec.UpdatedAt,
	}
	if sec.Access == nil {
		return out
	}
	out.Status = sec.Access.Status

	key, err := s.Keys.Unwrap(sec.Access.PreviewKey)
	if err != nil {
		v.logger.Debug(ctx, "preview key not usable", "secret_id", sec.ID, "error", err)
		return out
	}
	defer common.WipeByteArray(key)

	var p models.Preview
	if err := openJSON(key, sec.Preview, &p); err != nil {
		v.logger.Debug(ctx, "preview not readable", "secret_id", sec.ID, "error", err)
		return out
	}
	out.Preview = &p
	return out
}

func (v *vaultService) ListSecrets(ctx context.Context, s *Session) ([]SecretView, error) {
	secrets, err := v.client.ListSecrets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]SecretView, 0, len(secrets))
	for i := range secrets {
		out = append(out, v.view(ctx, s, &secrets[i]))
	}
	return out, nil
}

// credentialsKey unwraps the caller's credentials key of sec.
func credentialsKey(s *Session, sec *api.Secret) ([]byte, error) {
	if sec.Access == nil || sec.Access.CredentialsKey == nil {
		return nil, ErrNoAccess
	}
	return s.Keys.Unwrap(sec.Access.CredentialsKey)
}

// ShowSecret returns the secret and, when the caller may read them, its
// credentials. Credentials are nil for preview-only access.
func (v *vaultService) ShowSecret(ctx context.Context, s *Session, id string) (*SecretView, *models.Credentials, error) {
	sec, err := v.client.GetSecret(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	view := v.view(ctx, s, sec)
	if sec.Credentials == nil {
		return &view, nil, nil
	}

	key, err := credentialsKey(s, sec)
	if err != nil {
		return nil, nil, fmt.Errorf("credentials key: %w", err)
	}
	defer common.WipeByteArray(key)

	var c models.Credentials
	if err := openJSON(key, sec.Credentials, &c); err != nil {
		return nil, nil, fmt.Errorf("open credentials: %w", err)
	}
	return &view, &c, nil
}

// UpdateSecret reseals both parts under the existing data keys, so every
// recipient keeps access without a rewrap.
func (v *vaultService) UpdateSecret(ctx context.Context, s *Session, id string, p models.Preview, c models.Credentials, sharePreviews bool) error {
	sec, err := v.client.GetSecret(ctx, id)
	if err != nil {
		return err
	}
	if sec.Access == nil || sec.Access.Status != string(sharing.StatusManager) {
		return fmt.Errorf("%w: only the manager may edit", common.ErrForbidden)
	}
	previewKey, err := s.Keys.Unwrap(sec.Access.PreviewKey)
	if err != nil {
		return fmt.Errorf("preview key: %w", err)
	}
	defer common.WipeByteArray(previewKey)
	credsKey, err := credentialsKey(s, sec)
	if err != nil {
		return fmt.Errorf("credentials key: %w", err)
	}
	defer common.WipeByteArray(credsKey)

	req := &api.UpdateSecretRequest{SharePreviews: sharePreviews}
	if req.Preview, err = sealJSON(previewKey, p); err != nil {
		return err
	}
	if req.Credentials, err = sealJSON(credsKey, c); err != nil {
		return err
	}
	_, err = v.client.UpdateSecret(ctx, id, req)
	return err
}

func (v *vaultService) DeleteSecret(ctx context.Context, _ *Session, id string) error {
	return v.client.DeleteSecret(ctx, id)
}

func (v *vaultService) Access(ctx context.Context, _ *Session, id string) ([]*api.AccessRecord, error) {
	return v.client.ListAccess(ctx, id)
}

func (v *vaultService) Connections(ctx context.Context, _ *Session) ([]api.Connection, error) {
	return v.client.Connections(ctx)
}

// recipient is a resolved share target.
type recipient struct {
	api.Recipient
	label     string
	publicKey []byte
}

// resolve turns a target into a recipient. A target is a connection's
// email, a connection's account id, or "invite:<id>".
func (v *vaultService) resolve(ctx context.Context, target string) (*recipient, error) {
	if id, ok := strings.CutPrefix(target, targetInvite); ok {
		if id == "" {
			return nil, ErrUnknownRecipient
		}
		return &recipient{
			Recipient: api.Recipient{Kind: api.RecipientInvite, ID: id},
			label:     target,
		}, nil
	}

	conns, err := v.client.Connections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	email := common.NormalizeEmail(target)
	for _, c := range conns {
		if c.AccountID == target || c.Email == email {
			return &recipient{
				Recipient: api.Recipient{Kind: api.RecipientAccount, ID: c.AccountID},
				label:     c.Email,
				publicKey: c.PublicKey,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownRecipient, target)
}

// wrapFor wraps dataKey for r, using the cached link key for invites.
func (v *vaultService) wrapFor(ctx context.Context, r *recipient, dataKey []byte) (*envelope.WrappedKey, error) {
	if r.Kind == api.RecipientAccount {
		return envelope.WrapForAccount(r.publicKey, dataKey)
	}
	linkKey, err := v.metadataRepo().Get(ctx, invitePrefix+r.ID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("%w: no link key for invite %s on this machine", ErrUnknownRecipient, r.ID)
	}
	if err != nil {
		return nil, err
	}
	return envelope.WrapForInvite(linkKey, dataKey)
}

// Preview grants target the preview of secret id.
func (v *vaultService) Preview(ctx context.Context, s *Session, id, target string) (*api.AccessRecord, error) {
	r, err := v.resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	sec, err := v.client.GetSecret(ctx, id)
	if err != nil {
		return nil, err
	}
	if sec.Access == nil {
		return nil, common.ErrNotFound
	}
	key, err := s.Keys.Unwrap(sec.Access.PreviewKey)
	if err != nil {
		return nil, fmt.Errorf("preview key: %w", err)
	}
	defer common.WipeByteArray(key)

	w, err := v.wrapFor(ctx, r, key)
	if err != nil {
		return nil, err
	}
	return v.client.GrantPreview(ctx, id, &api.PreviewGrant{Recipient: r.Recipient, PreviewKey: w})
}

// grantCredentials runs an owner action that hands target the credentials
// key: offer or approve.
func (v *vaultService) grantCredentials(ctx context.Context, s *Session, id, target, action string) (*api.AccessRecord, error) {
	r, err := v.resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	sec, err := v.client.GetSecret(ctx, id)
	if err != nil {
		return nil, err
	}
	key, err := credentialsKey(s, sec)
	if err != nil {
		return nil, fmt.Errorf("credentials key: %w", err)
	}
	defer common.WipeByteArray(key)

	w, err := v.wrapFor(ctx, r, key)
	if err != nil {
		return nil, err
	}
	return v.client.OwnerAction(ctx, id, r.Recipient, action, &api.TransitionRequest{CredentialsKey: w})
}

func (v *vaultService) Offer(ctx context.Context, s *Session, id, target string) (*api.AccessRecord, error) {
	return v.grantCredentials(ctx, s, id, target, string(sharing.ActionOffer))
}

func (v *vaultService) Approve(ctx context.Context, s *Session, id, target string) (*api.AccessRecord, error) {
	return v.grantCredentials(ctx, s, id, target, string(sharing.ActionApprove))
}

func (v *vaultService) ownerAction(ctx context.Context, id, target, action string) (*api.AccessRecord, error) {
	r, err := v.resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	return v.client.OwnerAction(ctx, id, r.Recipient, action, nil)
}

func (v *vaultService) Deny(ctx context.Context, _ *Session, id, target string) (*api.AccessRecord, error) {
	return v.ownerAction(ctx, id, target, string(sharing.ActionDeny))
}

func (v *vaultService) Retract(ctx context.Context, _ *Session, id, target string) (*api.AccessRecord, error) {
	return v.ownerAction(ctx, id, target, string(sharing.ActionRetract))
}

func (v *vaultService) Reset(ctx context.Context, _ *Session, id, target string) (*api.AccessRecord, error) {
	return v.ownerAction(ctx, id, target, string(sharing.ActionReset))
}

func (v *vaultService) Revoke(ctx context.Context, _ *Session, id, target string) error {
	r, err := v.resolve(ctx, target)
	if err != nil {
		return err
	}
	return v.client.Revoke(ctx, id, r.Recipient)
}

func (v *vaultService) Accept(ctx context.Context, _ *Session, id string) (*api.AccessRecord, error) {
	return v.client.SelfAction(ctx, id, string(sharing.ActionAccept))
}

func (v *vaultService) Reject(ctx context.Context, _ *Session, id string) (*api.AccessRecord, error) {
	return v.client.SelfAction(ctx, id, string(sharing.ActionReject))
}

func (v *vaultService) Request(ctx context.Context, _ *Session, id string) (*api.AccessRecord, error) {
	return v.client.SelfAction(ctx, id, string(sharing.ActionRequest))
}

func (v *vaultService) Leave(ctx context.Context, _ *Session, id string) error {
	_, err := v.client.SelfAction(ctx, id, string(sharing.ActionLeave))
	return err
}

// CreateInvite creates an invite and returns the code to hand to the
// contact. The link key is kept locally so secrets can be shared with the
// invite before it is claimed.
func (v *vaultService) CreateInvite(ctx context.Context, _ *Session, contact string) (*api.Invite, string, error) {
	resp, err := v.client.CreateInvite(ctx, contact)
	if err != nil {
		return nil, "", err
	}
	linkKey := envelope.NewLinkKey()
	if err := v.metadataRepo().Set(ctx, invitePrefix+resp.Invite.ID, linkKey); err != nil {
		return nil, "", fmt.Errorf("store link key: %w", err)
	}
	return &resp.Invite, resp.Token + inviteCodeSep + base64.RawURLEncoding.EncodeToString(linkKey), nil
}

func (v *vaultService) ListInvites(ctx context.Context, _ *Session) ([]api.Invite, error) {
	return v.client.ListInvites(ctx)
}

// ParseInviteCode splits an invite code into the server token and the
// link key.
func ParseInviteCode(code string) (token string, linkKey []byte, err error) {
	i := strings.LastIndex(code, inviteCodeSep)
	if i <= 0 {
		return "", nil, fmt.Errorf("%w: missing link key", common.ErrInvalidToken)
	}
	linkKey, err = base64.RawURLEncoding.DecodeString(code[i+len(inviteCodeSep):])
	if err != nil || len(linkKey) != envelope.KeySize {
		return "", nil, fmt.Errorf("%w: malformed link key", common.ErrInvalidToken)
	}
	return code[:i], linkKey, nil
}

func (v *vaultService) LookupInvite(ctx context.Context, _ *Session, code string) (*InvitePreview, error) {
	token, _, err := ParseInviteCode(code)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.LookupInvite(ctx, token)
	if err != nil {
		return nil, err
	}
	return &InvitePreview{Invite: resp.Invite, InviterEmail: resp.InviterEmail, Records: resp.Records}, nil
}

// ClaimInvite unwraps every invite-addressed key with the link key,
// rewraps it to the caller's public key and claims the invite.
func (v *vaultService) ClaimInvite(ctx context.Context, s *Session, code string) ([]*api.AccessRecord, error) {
	token, linkKey, err := ParseInviteCode(code)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(linkKey)

	resp, err := v.client.LookupInvite(ctx, token)
	if err != nil {
		return nil, err
	}

	rewrap := func(w *envelope.WrappedKey) (*envelope.WrappedKey, error) {
		dk, err := envelope.UnwrapWithLinkKey(linkKey, w)
		if err != nil {
			return nil, fmt.Errorf("%w: link key does not open this invite", common.ErrInvalidToken)
		}
		defer common.WipeByteArray(dk)
		return envelope.WrapForAccount(s.Keys.PublicKey(), dk)
	}

	req := &api.ClaimInviteRequest{Token: token, Rewraps: make([]api.Rewrap, 0, len(resp.Records))}
	for _, rec := range resp.Records {
		rw := api.Rewrap{SecretID: rec.SecretID}
		if rw.PreviewKey, err = rewrap(rec.PreviewKey); err != nil {
			return nil, err
		}
		if rec.CredentialsKey != nil {
			if rw.CredentialsKey, err = rewrap(rec.CredentialsKey); err != nil {
				return nil, err
			}
		}
		req.Rewraps = append(req.Rewraps, rw)
	}
	return v.client.ClaimInvite(ctx, req)
}

func (v *vaultService) ExpireInvite(ctx context.Context, _ *Session, id string) error {
	if err := v.client.ExpireInvite(ctx, id); err != nil {
		return err
	}
	if err := v.metadataRepo().Delete(ctx, invitePrefix+id); err != nil {
		v.logger.Warn(ctx, "dropping link key", "invite_id", id, "error", err)
	}
	return nil
}

// attachmentKey derives the attachment key from the credentials key.
// The blob is salt ‖ nonce ‖ ciphertext.
func attachmentKey(credsKey, salt []byte) ([]byte, error) {
	return envelope.SubKey(credsKey, salt, envelope.PurposeAttachment)
}

// Attach encrypts the file at path and uploads it as the secret's
// attachment. Only the manager can upload.
func (v *vaultService) Attach(ctx context.Context, s *Session, id, path string) error {
	sec, err := v.client.GetSecret(ctx, id)
	if err != nil {
		return err
	}
	credsKey, err := credentialsKey(s, sec)
	if err != nil {
		return fmt.Errorf("credentials key: %w", err)
	}
	defer common.WipeByteArray(credsKey)

	salt := envelope.NewSalt()
	key, err := attachmentKey(credsKey, salt)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(key)

	sealed, err := cryptox.EncryptFile(path, key)
	if err != nil {
		return fmt.Errorf("error encrypting file: %w", err)
	}

	url, err := v.client.UploadURL(ctx, id)
	if err != nil {
		return fmt.Errorf("upload url: %w", err)
	}
	if err := v.transfer.Upload(ctx, url, append(salt, sealed...)); err != nil {
		return err
	}
	return v.client.MarkUploaded(ctx, id)
}

// Download fetches and decrypts the attachment into dir. The file is
// named after the BinaryFile credentials when present.
func (v *vaultService) Download(ctx context.Context, s *Session, id, dir string) (string, error) {
	sec, err := v.client.GetSecret(ctx, id)
	if err != nil {
		return "", err
	}
	credsKey, err := credentialsKey(s, sec)
	if err != nil {
		return "", fmt.Errorf("credentials key: %w", err)
	}
	defer common.WipeByteArray(credsKey)

	name := id + ".bin"
	var creds models.Credentials
	if err := openJSON(credsKey, sec.Credentials, &creds); err == nil {
		if f, err := creds.Unwrap(); err == nil {
			if bf, ok := f.(models.BinaryFile); ok && bf.Name != "" {
				name = bf.Name
			}
		}
	}

	url, err := v.client.DownloadURL(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return "", ErrNoAttachment
	}
	if err != nil {
		return "", err
	}
	blob, err := v.transfer.Download(ctx, url)
	if err != nil {
		return "", err
	}
	if len(blob) < common.SaltSize {
		return "", cryptox.ErrDecrypt
	}

	key, err := attachmentKey(credsKey, blob[:common.SaltSize])
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(key)

	plain, err := cryptox.OpenBlob(key, blob[common.SaltSize:])
	if err != nil {
		return "", fmt.Errorf("open attachment: %w", err)
	}
	return filex.WriteNew(dir, name, plain)
}
