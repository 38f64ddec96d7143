package client

import (
	"context"

	"github.com/dmitrijs2005/sharekeeper/internal/api"
)

// Client is the sharekeeper server API as seen by the CLI services.
type Client interface {
	Close() error
	Ping(ctx context.Context) error

	// SetSession makes every later request signed with key on behalf of
	// handshakeID. ClearSession goes back to anonymous requests.
	SetSession(handshakeID string, key []byte)
	ClearSession()

	Register(ctx context.Context, req *api.RegisterRequest) (*api.Account, error)
	StartHandshake(ctx context.Context, req *api.HandshakeStartRequest) (*api.HandshakeStartResponse, error)
	FinishHandshake(ctx context.Context, id string, req *api.HandshakeFinishRequest) (*api.HandshakeFinishResponse, error)
	Session(ctx context.Context) (*api.Session, error)
	SignOut(ctx context.Context) error
	Account(ctx context.Context) (*api.Account, error)
	ChangePassword(ctx context.Context, c *api.Credentials) error
	Connections(ctx context.Context) ([]api.Connection, error)

	ListSecrets(ctx context.Context) ([]api.Secret, error)
	CreateSecret(ctx context.Context, req *api.CreateSecretRequest) (*api.Secret, error)
	GetSecret(ctx context.Context, id string) (*api.Secret, error)
	UpdateSecret(ctx context.Context, id string, req *api.UpdateSecretRequest) (*api.Secret, error)
	DeleteSecret(ctx context.Context, id string) error
	ListAccess(ctx context.Context, id string) ([]*api.AccessRecord, error)

	GrantPreview(ctx context.Context, secretID string, g *api.PreviewGrant) (*api.AccessRecord, error)
	OwnerAction(ctx context.Context, secretID string, r api.Recipient, action string, req *api.TransitionRequest) (*api.AccessRecord, error)
	Revoke(ctx context.Context, secretID string, r api.Recipient) error
	SelfAction(ctx context.Context, secretID, action string) (*api.AccessRecord, error)

	UploadURL(ctx context.Context, secretID string) (string, error)
	MarkUploaded(ctx context.Context, secretID string) error
	DownloadURL(ctx context.Context, secretID string) (string, error)

	CreateInvite(ctx context.Context, contact string) (*api.CreateInviteResponse, error)
	ListInvites(ctx context.Context) ([]api.Invite, error)
	LookupInvite(ctx context.Context, token string) (*api.LookupInviteResponse, error)
	ClaimInvite(ctx context.Context, req *api.ClaimInviteRequest) ([]*api.AccessRecord, error)
	ExpireInvite(ctx context.Context, id string) error
}
