package httpapi

import (
	"context"

	"github.com/dmitrijs2005/sharekeeper/internal/httpsig"
	"github.com/dmitrijs2005/sharekeeper/internal/server/models"
	"github.com/dmitrijs2005/sharekeeper/internal/server/services"
	"github.com/stretchr/testify/mock"
)

type mockAuth struct{ mock.Mock }

func (m *mockAuth) Register(ctx context.Context, req services.RegisterRequest) (*models.Account, error) {
	args := m.Called(req)
	acc, _ := args.Get(0).(*models.Account)
	return acc, args.Error(1)
}

func (m *mockAuth) StartHandshake(ctx context.Context, email string, clientPublic []byte) (*services.HandshakeStart, error) {
	args := m.Called(email, clientPublic)
	hs, _ := args.Get(0).(*services.HandshakeStart)
	return hs, args.Error(1)
}

func (m *mockAuth) FinishHandshake(ctx context.Context, id string, clientProof []byte) (*services.HandshakeResult, error) {
	args := m.Called(id, clientProof)
	res, _ := args.Get(0).(*services.HandshakeResult)
	return res, args.Error(1)
}

func (m *mockAuth) SessionInfo(ctx context.Context, id *httpsig.Identity) (*services.SessionInfo, error) {
	args := m.Called(id)
	info, _ := args.Get(0).(*services.SessionInfo)
	return info, args.Error(1)
}

func (m *mockAuth) Account(ctx context.Context, id *httpsig.Identity) (*models.Account, error) {
	args := m.Called(id)
	acc, _ := args.Get(0).(*models.Account)
	return acc, args.Error(1)
}

func (m *mockAuth) SignOut(ctx context.Context, id *httpsig.Identity) error {
	return m.Called(id).Error(0)
}

func (m *mockAuth) ChangePassword(ctx context.Context, id *httpsig.Identity, c *models.Credentials) error {
	return m.Called(id, c).Error(0)
}

type mockSharing struct{ mock.Mock }

func (m *mockSharing) CreateSecret(ctx context.Context, caller string, req services.NewSecret) (*models.Secret, error) {
	args := m.Called(caller, req)
	s, _ := args.Get(0).(*models.Secret)
	return s, args.Error(1)
}

func (m *mockSharing) UpdateSecret(ctx context.Context, caller, secretID string, req services.SecretUpdate) (*models.Secret, error) {
	args := m.Called(caller, secretID, req)
	s, _ := args.Get(0).(*models.Secret)
	return s, args.Error(1)
}

func (m *mockSharing) DeleteSecret(ctx context.Context, caller, secretID string) error {
	return m.Called(caller, secretID).Error(0)
}

func (m *mockSharing) ListSecrets(ctx context.Context, caller string) ([]*models.SecretListing, error) {
	args := m.Called(caller)
	ls, _ := args.Get(0).([]*models.SecretListing)
	return ls, args.Error(1)
}

func (m *mockSharing) GetSecret(ctx context.Context, caller, secretID string) (*models.SecretListing, error) {
	args := m.Called(caller, secretID)
	l, _ := args.Get(0).(*models.SecretListing)
	return l, args.Error(1)
}

func (m *mockSharing) ListAccess(ctx context.Context, caller, secretID string) ([]*models.AccessRecord, error) {
	args := m.Called(caller, secretID)
	rs, _ := args.Get(0).([]*models.AccessRecord)
	return rs, args.Error(1)
}

func (m *mockSharing) ListConnections(ctx context.Context, caller string) ([]*models.Connection, error) {
	args := m.Called(caller)
	cs, _ := args.Get(0).([]*models.Connection)
	return cs, args.Error(1)
}

func (m *mockSharing) Transition(ctx context.Context, caller string, req services.TransitionRequest) (*models.AccessRecord, error) {
	args := m.Called(caller, req)
	r, _ := args.Get(0).(*models.AccessRecord)
	return r, args.Error(1)
}

type mockInvites struct{ mock.Mock }

func (m *mockInvites) CreateInvite(ctx context.Context, caller, contact string) (*models.Invite, string, error) {
	args := m.Called(caller, contact)
	inv, _ := args.Get(0).(*models.Invite)
	return inv, args.String(1), args.Error(2)
}

func (m *mockInvites) ListInvites(ctx context.Context, caller string) ([]*models.Invite, error) {
	args := m.Called(caller)
	invs, _ := args.Get(0).([]*models.Invite)
	return invs, args.Error(1)
}

func (m *mockInvites) LookupInvite(ctx context.Context, caller, token string) (*services.InviteDetails, error) {
	args := m.Called(caller, token)
	d, _ := args.Get(0).(*services.InviteDetails)
	return d, args.Error(1)
}

func (m *mockInvites) ClaimInvite(ctx context.Context, caller, token string, rewraps []services.Rewrap) ([]*models.AccessRecord, error) {
	args := m.Called(caller, token, rewraps)
	rs, _ := args.Get(0).([]*models.AccessRecord)
	return rs, args.Error(1)
}

func (m *mockInvites) ExpireInvite(ctx context.Context, caller, inviteID string) error {
	return m.Called(caller, inviteID).Error(0)
}

type mockAttachments struct{ mock.Mock }

func (m *mockAttachments) UploadURL(ctx context.Context, caller, secretID string) (string, error) {
	args := m.Called(caller, secretID)
	return args.String(0), args.Error(1)
}

func (m *mockAttachments) MarkUploaded(ctx context.Context, caller, secretID string) error {
	return m.Called(caller, secretID).Error(0)
}

func (m *mockAttachments) DownloadURL(ctx context.Context, caller, secretID string) (string, error) {
	args := m.Called(caller, secretID)
	return args.String(0), args.Error(1)
}
