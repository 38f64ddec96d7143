package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/dmitrijs2005/sharekeeper/internal/api"
	"github.com/dmitrijs2005/sharekeeper/internal/client/models"
	"github.com/dmitrijs2005/sharekeeper/internal/client/services"
	"github.com/stretchr/testify/mock"
)

type mockAuth struct{ mock.Mock }

func (m *mockAuth) Register(ctx context.Context, email string, password []byte) error {
	return m.Called(email, string(password)).Error(0)
}

func (m *mockAuth) Login(ctx context.Context, email string, password []byte) (*services.Session, error) {
	args := m.Called(email, string(password))
	s, _ := args.Get(0).(*services.Session)
	return s, args.Error(1)
}

func (m *mockAuth) Resume(ctx context.Context, password []byte) (*services.Session, error) {
	args := m.Called(string(password))
	s, _ := args.Get(0).(*services.Session)
	return s, args.Error(1)
}

func (m *mockAuth) Logout(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *mockAuth) ChangePassword(ctx context.Context, s *services.Session, newPassword []byte) (*services.Session, error) {
	args := m.Called(s, string(newPassword))
	next, _ := args.Get(0).(*services.Session)
	return next, args.Error(1)
}

func (m *mockAuth) CachedEmail(ctx context.Context) (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *mockAuth) Ping(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *mockAuth) Close(ctx context.Context) error {
	return nil
}

// mockVault implements the VaultService methods the tests reach; the rest
// panic through the nil embedded interface.
type mockVault struct {
	services.VaultService
	mock.Mock
}

func (m *mockVault) CreateSecret(ctx context.Context, s *services.Session, p models.Preview, c models.Credentials, share bool) (*services.SecretView, error) {
	args := m.Called(s, p, c, share)
	v, _ := args.Get(0).(*services.SecretView)
	return v, args.Error(1)
}

func (m *mockVault) ListSecrets(ctx context.Context, s *services.Session) ([]services.SecretView, error) {
	args := m.Called(s)
	v, _ := args.Get(0).([]services.SecretView)
	return v, args.Error(1)
}

func (m *mockVault) ShowSecret(ctx context.Context, s *services.Session, id string) (*services.SecretView, *models.Credentials, error) {
	args := m.Called(s, id)
	v, _ := args.Get(0).(*services.SecretView)
	c, _ := args.Get(1).(*models.Credentials)
	return v, c, args.Error(2)
}

func (m *mockVault) UpdateSecret(ctx context.Context, s *services.Session, id string, p models.Preview, c models.Credentials, share bool) error {
	return m.Called(s, id, p, c, share).Error(0)
}

func (m *mockVault) Preview(ctx context.Context, s *services.Session, id, target string) (*api.AccessRecord, error) {
	args := m.Called(s, id, target)
	r, _ := args.Get(0).(*api.AccessRecord)
	return r, args.Error(1)
}

func (m *mockVault) Offer(ctx context.Context, s *services.Session, id, target string) (*api.AccessRecord, error) {
	args := m.Called(s, id, target)
	r, _ := args.Get(0).(*api.AccessRecord)
	return r, args.Error(1)
}

func (m *mockVault) Revoke(ctx context.Context, s *services.Session, id, target string) error {
	return m.Called(s, id, target).Error(0)
}

func (m *mockVault) Accept(ctx context.Context, s *services.Session, id string) (*api.AccessRecord, error) {
	args := m.Called(s, id)
	r, _ := args.Get(0).(*api.AccessRecord)
	return r, args.Error(1)
}

func (m *mockVault) Access(ctx context.Context, s *services.Session, id string) ([]*api.AccessRecord, error) {
	args := m.Called(s, id)
	r, _ := args.Get(0).([]*api.AccessRecord)
	return r, args.Error(1)
}

func (m *mockVault) Connections(ctx context.Context, s *services.Session) ([]api.Connection, error) {
	args := m.Called(s)
	c, _ := args.Get(0).([]api.Connection)
	return c, args.Error(1)
}

func (m *mockVault) CreateInvite(ctx context.Context, s *services.Session, contact string) (*api.Invite, string, error) {
	args := m.Called(s, contact)
	inv, _ := args.Get(0).(*api.Invite)
	return inv, args.String(1), args.Error(2)
}

func (m *mockVault) ClaimInvite(ctx context.Context, s *services.Session, code string) ([]*api.AccessRecord, error) {
	args := m.Called(s, code)
	r, _ := args.Get(0).([]*api.AccessRecord)
	return r, args.Error(1)
}

func (m *mockVault) Download(ctx context.Context, s *services.Session, id, dir string) (string, error) {
	args := m.Called(s, id, dir)
	return args.String(0), args.Error(1)
}

// testApp is an App over mocks that reads input and records output.
type testApp struct {
	*App
	auth  *mockAuth
	vault *mockVault
	out   *bytes.Buffer
}

func newTestApp(t *testing.T, input ...string) *testApp {
	t.Helper()
	out := &bytes.Buffer{}
	a := newApp(strings.NewReader(strings.Join(input, "\n")+"\n"), out)
	ta := &testApp{App: a, auth: &mockAuth{}, vault: &mockVault{}, out: out}
	a.auth, a.vault = ta.auth, ta.vault
	t.Cleanup(func() {
		ta.auth.AssertExpectations(t)
		ta.vault.AssertExpectations(t)
	})
	return ta
}

// run dispatches one shell line.
func (ta *testApp) run(t *testing.T, line string) error {
	t.Helper()
	return ta.dispatch(t.Context(), strings.Fields(line))
}

// signedIn gives the app a session as if login already ran.
func (ta *testApp) signedIn() *services.Session {
	s := &services.Session{Email: "alice@example.com", AccountID: "acc-alice", HandshakeID: "hs-1"}
	ta.session = s
	return s
}

// stubPasswords makes getPassword return pws in order.
func stubPasswords(t *testing.T, pws ...string) {
	t.Helper()
	old := getPassword
	t.Cleanup(func() { getPassword = old })
	getPassword = func(_ io.Writer, _ string) ([]byte, error) {
		if len(pws) == 0 {
			return nil, errors.New("unexpected password prompt")
		}
		pw := pws[0]
		pws = pws[1:]
		return []byte(pw), nil
	}
}
