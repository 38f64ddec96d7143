package services

import (
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/sharekeeper/internal/api"
	"github.com/dmitrijs2005/sharekeeper/internal/client/client"
	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/dmitrijs2005/sharekeeper/internal/cryptox"
	"github.com/dmitrijs2005/sharekeeper/internal/sharing"
	"github.com/dmitrijs2005/sharekeeper/internal/srp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// fastDeriver keeps PBKDF2 out of the test runtime.
var fastDeriver = &cryptox.KeyDeriver{SRPIterations: 1, MasterKeyIterations: 1}

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := client.InitDatabase(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func apiErr(code string, status int) error {
	return &api.Error{Code: code, Message: code, Status: status}
}

type fakeAccount struct {
	id        string
	email     string
	publicKey []byte
	creds     api.Credentials
}

type fakeHandshake struct {
	server       *srp.Server
	clientPublic []byte
	account      *fakeAccount
}

type fakeSession struct {
	accountID string
	key       []byte
}

type fakeInvite struct {
	invite api.Invite
	token  string
}

// backend is an in-memory server shared by several fakeClients. It runs
// a real SRP handshake and applies sharing.Next to access records.
type backend struct {
	mu sync.Mutex

	accounts    map[string]*fakeAccount // by email
	byID        map[string]*fakeAccount
	handshakes  map[string]*fakeHandshake
	sessions    map[string]fakeSession
	connections map[string]map[string]bool
	secrets     map[string]*api.Secret
	access      map[string]map[api.Recipient]*api.AccessRecord
	invites     map[string]*fakeInvite
	attachments map[string]bool

	storageURL string
	signOutErr error
}

func newBackend() *backend {
	return &backend{
		accounts:    map[string]*fakeAccount{},
		byID:        map[string]*fakeAccount{},
		handshakes:  map[string]*fakeHandshake{},
		sessions:    map[string]fakeSession{},
		connections: map[string]map[string]bool{},
		secrets:     map[string]*api.Secret{},
		access:      map[string]map[api.Recipient]*api.AccessRecord{},
		invites:     map[string]*fakeInvite{},
		attachments: map[string]bool{},
	}
}

func (b *backend) connect(a, c string) {
	if b.connections[a] == nil {
		b.connections[a] = map[string]bool{}
	}
	if b.connections[c] == nil {
		b.connections[c] = map[string]bool{}
	}
	b.connections[a][c] = true
	b.connections[c][a] = true
}

func (b *backend) client() *fakeClient {
	return &fakeClient{b: b}
}

// fakeClient implements client.Client against a backend. Each instance has
// its own session, like one CLI process.
type fakeClient struct {
	client.Client
	b *backend

	hid string
	key []byte

	pingErr error
}

func (f *fakeClient) Close() error                  { return nil }
func (f *fakeClient) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeClient) SetSession(hid string, key []byte) {
	f.hid, f.key = hid, append([]byte(nil), key...)
}

func (f *fakeClient) ClearSession() {
	f.hid, f.key = "", nil
}

// caller must be called with b.mu held.
func (f *fakeClient) caller() (*fakeAccount, error) {
	if f.hid == "" {
		return nil, apiErr(api.CodeUnauthenticated, http.StatusUnauthorized)
	}
	s, ok := f.b.sessions[f.hid]
	if !ok || !bytes.Equal(s.key, f.key) {
		return nil, apiErr(api.CodeAuthFailed, http.StatusUnauthorized)
	}
	return f.b.byID[s.accountID], nil
}

func (f *fakeClient) Register(_ context.Context, req *api.RegisterRequest) (*api.Account, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	email := common.NormalizeEmail(req.Email)
	if _, ok := f.b.accounts[email]; ok {
		return nil, apiErr(api.CodeAlreadyExists, http.StatusConflict)
	}
	if err := cryptox.CheckSalts(req.SRPPbkdf2Salt, req.MasterKeyPbkdf2Salt); err != nil {
		return nil, apiErr(api.CodeValidation, http.StatusBadRequest)
	}
	acc := &fakeAccount{id: uuid.NewString(), email: email, publicKey: req.PublicKey, creds: req.Credentials}
	f.b.accounts[email] = acc
	f.b.byID[acc.id] = acc
	return &api.Account{ID: acc.id, Email: email, PublicKey: acc.publicKey}, nil
}

func (f *fakeClient) StartHandshake(_ context.Context, req *api.HandshakeStartRequest) (*api.HandshakeStartResponse, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	id := uuid.NewString()
	acc, ok := f.b.accounts[common.NormalizeEmail(req.Email)]
	if !ok {
		return &api.HandshakeStartResponse{
			ID:                    id,
			SRPSalt:               common.GenerateRandByteArray(common.SaltSize),
			SRPPbkdf2Salt:         common.GenerateRandByteArray(common.SaltSize),
			ServerPublicEphemeral: srp.FakePublicEphemeral(),
		}, nil
	}
	srv := srp.NewServer(acc.email, acc.creds.SRPSalt, acc.creds.Verifier)
	f.b.handshakes[id] = &fakeHandshake{server: srv, clientPublic: req.ClientPublicEphemeral, account: acc}
	return &api.HandshakeStartResponse{
		ID:                    id,
		SRPSalt:               acc.creds.SRPSalt,
		SRPPbkdf2Salt:         acc.creds.SRPPbkdf2Salt,
		ServerPublicEphemeral: srv.PublicEphemeral(),
	}, nil
}

func (f *fakeClient) FinishHandshake(_ context.Context, id string, req *api.HandshakeFinishRequest) (*api.HandshakeFinishResponse, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	h, ok := f.b.handshakes[id]
	if !ok {
		return nil, apiErr(api.CodeAuthFailed, http.StatusUnauthorized)
	}
	delete(f.b.handshakes, id)
	m2, key, err := h.server.VerifyClient(h.clientPublic, req.ClientProof)
	if err != nil {
		return nil, apiErr(api.CodeAuthFailed, http.StatusUnauthorized)
	}
	f.b.sessions[id] = fakeSession{accountID: h.account.id, key: key}

	c := h.account.creds
	return &api.HandshakeFinishResponse{
		ID:                  id,
		ServerProof:         m2,
		SessionWrapper:      common.GenerateRandByteArray(common.SaltSize),
		MasterKeyPbkdf2Salt: c.MasterKeyPbkdf2Salt,
		PublicKey:           h.account.publicKey,
		PrivateKeySalt:      c.PrivateKeySalt,
		EncryptedPrivateKey: c.EncryptedPrivateKey,
	}, nil
}

func (f *fakeClient) Session(context.Context) (*api.Session, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	acc, err := f.caller()
	if err != nil {
		return nil, err
	}
	return &api.Session{HandshakeID: f.hid, AccountID: acc.id, Email: acc.email}, nil
}

func (f *fakeClient) SignOut(context.Context) error {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	if f.b.signOutErr != nil {
		return f.b.signOutErr
	}
	if _, err := f.caller(); err != nil {
		return err
	}
	delete(f.b.sessions, f.hid)
	return nil
}

func (f *fakeClient) ChangePassword(_ context.Context, c *api.Credentials) error {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	acc, err := f.caller()
	if err != nil {
		return err
	}
	acc.creds = *c
	for id, s := range f.b.sessions {
		if s.accountID == acc.id && id != f.hid {
			delete(f.b.sessions, id)
		}
	}
	return nil
}

func (f *fakeClient) Connections(context.Context) ([]api.Connection, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	acc, err := f.caller()
	if err != nil {
		return nil, err
	}
	var out []api.Connection
	for peer := range f.b.connections[acc.id] {
		p := f.b.byID[peer]
		out = append(out, api.Connection{AccountID: p.id, Email: p.email, PublicKey: p.publicKey})
	}
	return out, nil
}

func (f *fakeClient) CreateSecret(_ context.Context, req *api.CreateSecretRequest) (*api.Secret, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	acc, err := f.caller()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	sec := &api.Secret{
		ID:            uuid.NewString(),
		ManagerID:     acc.id,
		Credentials:   req.Credentials,
		Preview:       req.Preview,
		SharePreviews: req.SharePreviews,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	f.b.secrets[sec.ID] = sec
	self := api.Recipient{Kind: api.RecipientAccount, ID: acc.id}
	f.b.access[sec.ID] = map[api.Recipient]*api.AccessRecord{
		self: {SecretID: sec.ID, Recipient: self, Status: string(sharing.StatusManager),
			PreviewKey: req.PreviewKey, CredentialsKey: req.CredentialsKey},
	}
	for _, g := range req.Previews {
		f.b.access[sec.ID][g.Recipient] = &api.AccessRecord{
			SecretID: sec.ID, Recipient: g.Recipient, Status: string(sharing.StatusPreview), PreviewKey: g.PreviewKey,
		}
	}
	return f.secretFor(sec, acc), nil
}

func (f *fakeClient) secretFor(sec *api.Secret, acc *fakeAccount) *api.Secret {
	out := *sec
	rec := f.b.access[sec.ID][api.Recipient{Kind: api.RecipientAccount, ID: acc.id}]
	out.Access = rec
	if rec == nil || !sharing.Status(rec.Status).CanReadCredentials() {
		out.Credentials = nil
	}
	return &out
}

func (f *fakeClient) ListSecrets(context.Context) ([]api.Secret, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	acc, err := f.caller()
	if err != nil {
		return nil, err
	}
	var out []api.Secret
	for id, sec := range f.b.secrets {
		if _, ok := f.b.access[id][api.Recipient{Kind: api.RecipientAccount, ID: acc.id}]; ok {
			out = append(out, *f.secretFor(sec, acc))
		}
	}
	return out, nil
}

func (f *fakeClient) GetSecret(_ context.Context, id string) (*api.Secret, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	acc, err := f.caller()
	if err != nil {
		return nil, err
	}
	sec, ok := f.b.secrets[id]
	if !ok {
		return nil, apiErr(api.CodeNotFound, http.StatusNotFound)
	}
	if _, ok := f.b.access[id][api.Recipient{Kind: api.RecipientAccount, ID: acc.id}]; !ok {
		return nil, apiErr(api.CodeNotFound, http.StatusNotFound)
	}
	return f.secretFor(sec, acc), nil
}

func (f *fakeClient) UpdateSecret(_ context.Context, id string, req *api.UpdateSecretRequest) (*api.Secret, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	acc, err := f.caller()
	if err != nil {
		return nil, err
	}
	sec, ok := f.b.secrets[id]
	if !ok || sec.ManagerID != acc.id {
		return nil, apiErr(api.CodeForbidden, http.StatusForbidden)
	}
	sec.Preview, sec.Credentials, sec.SharePreviews = req.Preview, req.Credentials, req.SharePreviews
	sec.UpdatedAt = time.Now()
	return f.secretFor(sec, acc), nil
}

func (f *fakeClient) DeleteSecret(_ context.Context, id string) error {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	acc, err := f.caller()
	if err != nil {
		return err
	}
	if sec, ok := f.b.secrets[id]; !ok || sec.ManagerID != acc.id {
		return apiErr(api.CodeNotFound, http.StatusNotFound)
	}
	delete(f.b.secrets, id)
	delete(f.b.access, id)
	return nil
}

func (f *fakeClient) ListAccess(_ context.Context, id string) ([]*api.AccessRecord, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	if _, err := f.caller(); err != nil {
		return nil, err
	}
	var out []*api.AccessRecord
	for _, rec := range f.b.access[id] {
		out = append(out, rec)
	}
	return out, nil
}

// transition applies action on (id, r) with b.mu held.
func (f *fakeClient) transition(acc *fakeAccount, id string, r api.Recipient, action sharing.Action, g *api.PreviewGrant, tr *api.TransitionRequest) (*api.AccessRecord, error) {
	sec, ok := f.b.secrets[id]
	if !ok {
		return nil, apiErr(api.CodeNotFound, http.StatusNotFound)
	}
	role := sharing.RoleRecipient
	if sec.ManagerID == acc.id {
		role = sharing.RoleOwner
	}
	rec := f.b.access[id][r]
	from := sharing.StatusNone
	if rec != nil {
		from = sharing.Status(rec.Status)
	}
	to, err := sharing.Next(from, role, action)
	if err != nil {
		return nil, err
	}
	if to == sharing.StatusNone {
		delete(f.b.access[id], r)
		return nil, nil
	}
	if rec == nil {
		rec = &api.AccessRecord{SecretID: id, Recipient: r}
		f.b.access[id][r] = rec
	}
	if g != nil {
		rec.PreviewKey = g.PreviewKey
	}
	if tr != nil && sharing.NeedsNewCredentialsKey(from, to) {
		rec.CredentialsKey = tr.CredentialsKey
	}
	if !to.HoldsCredentialsKey() {
		rec.CredentialsKey = nil
	}
	rec.Status = string(to)
	cp := *rec
	return &cp, nil
}

func (f *fakeClient) GrantPreview(_ context.Context, id string, g *api.PreviewGrant) (*api.AccessRecord, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	acc, err := f.caller()
	if err != nil {
		return nil, err
	}
	return f.transition(acc, id, g.Recipient, sharing.ActionPreview, g, nil)
}

func (f *fakeClient) OwnerAction(_ context.Context, id string, r api.Recipient, action string, req *api.TransitionRequest) (*api.AccessRecord, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	acc, err := f.caller()
	if err != nil {
		return nil, err
	}
	return f.transition(acc, id, r, sharing.Action(action), nil, req)
}

func (f *fakeClient) Revoke(_ context.Context, id string, r api.Recipient) error {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	acc, err := f.caller()
	if err != nil {
		return err
	}
	_, err = f.transition(acc, id, r, sharing.ActionRevoke, nil, nil)
	return err
}

func (f *fakeClient) SelfAction(_ context.Context, id, action string) (*api.AccessRecord, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	acc, err := f.caller()
	if err != nil {
		return nil, err
	}
	return f.transition(acc, id, api.Recipient{Kind: api.RecipientAccount, ID: acc.id}, sharing.Action(action), nil, nil)
}

func (f *fakeClient) CreateInvite(_ context.Context, contact string) (*api.CreateInviteResponse, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	acc, err := f.caller()
	if err != nil {
		return nil, err
	}
	inv := api.Invite{ID: uuid.NewString(), InviterID: acc.id, Contact: contact, Status: "pending",
		ExpiresAt: time.Now().Add(time.Hour)}
	fi := &fakeInvite{invite: inv, token: "header.payload-" + inv.ID + ".sig"}
	f.b.invites[inv.ID] = fi
	return &api.CreateInviteResponse{Invite: inv, Token: fi.token}, nil
}

func (f *fakeClient) ListInvites(context.Context) ([]api.Invite, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	acc, err := f.caller()
	if err != nil {
		return nil, err
	}
	var out []api.Invite
	for _, fi := range f.b.invites {
		if fi.invite.InviterID == acc.id {
			out = append(out, fi.invite)
		}
	}
	return out, nil
}

func (f *fakeClient) inviteByToken(token string) (*fakeInvite, error) {
	for _, fi := range f.b.invites {
		if fi.token == token {
			if fi.invite.Status != "pending" {
				return nil, apiErr(api.CodeInviteExpired, http.StatusGone)
			}
			return fi, nil
		}
	}
	return nil, apiErr(api.CodeInvalidToken, http.StatusBadRequest)
}

func (f *fakeClient) inviteRecords(inviteID string) []*api.AccessRecord {
	r := api.Recipient{Kind: api.RecipientInvite, ID: inviteID}
	var out []*api.AccessRecord
	for _, recs := range f.b.access {
		if rec, ok := recs[r]; ok {
			out = append(out, rec)
		}
	}
	return out
}

func (f *fakeClient) LookupInvite(_ context.Context, token string) (*api.LookupInviteResponse, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	if _, err := f.caller(); err != nil {
		return nil, err
	}
	fi, err := f.inviteByToken(token)
	if err != nil {
		return nil, err
	}
	return &api.LookupInviteResponse{
		Invite:       fi.invite,
		InviterEmail: f.b.byID[fi.invite.InviterID].email,
		Records:      f.inviteRecords(fi.invite.ID),
	}, nil
}

func (f *fakeClient) ClaimInvite(_ context.Context, req *api.ClaimInviteRequest) ([]*api.AccessRecord, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	acc, err := f.caller()
	if err != nil {
		return nil, err
	}
	fi, err := f.inviteByToken(req.Token)
	if err != nil {
		return nil, err
	}
	recs := f.inviteRecords(fi.invite.ID)
	if len(recs) != len(req.Rewraps) {
		return nil, apiErr(api.CodeStateConflict, http.StatusNotFound)
	}
	self := api.Recipient{Kind: api.RecipientAccount, ID: acc.id}
	var out []*api.AccessRecord
	for _, rw := range req.Rewraps {
		old := f.b.access[rw.SecretID][api.Recipient{Kind: api.RecipientInvite, ID: fi.invite.ID}]
		if old == nil {
			return nil, apiErr(api.CodeStateConflict, http.StatusNotFound)
		}
		rec := &api.AccessRecord{SecretID: rw.SecretID, Recipient: self, Status: old.Status,
			PreviewKey: rw.PreviewKey, CredentialsKey: rw.CredentialsKey}
		delete(f.b.access[rw.SecretID], old.Recipient)
		f.b.access[rw.SecretID][self] = rec
		out = append(out, rec)
	}
	fi.invite.Status = "accepted"
	fi.invite.AcceptedBy = &acc.id
	f.b.connect(fi.invite.InviterID, acc.id)
	return out, nil
}

func (f *fakeClient) ExpireInvite(_ context.Context, id string) error {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	if _, err := f.caller(); err != nil {
		return err
	}
	fi, ok := f.b.invites[id]
	if !ok {
		return apiErr(api.CodeNotFound, http.StatusNotFound)
	}
	fi.invite.Status = "expired"
	return nil
}

func (f *fakeClient) UploadURL(_ context.Context, id string) (string, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	if _, err := f.caller(); err != nil {
		return "", err
	}
	return f.b.storageURL + "/" + id, nil
}

func (f *fakeClient) MarkUploaded(_ context.Context, id string) error {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	if _, err := f.caller(); err != nil {
		return err
	}
	f.b.attachments[id] = true
	return nil
}

func (f *fakeClient) DownloadURL(_ context.Context, id string) (string, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()

	if _, err := f.caller(); err != nil {
		return "", err
	}
	if !f.b.attachments[id] {
		return "", apiErr(api.CodeNotFound, http.StatusNotFound)
	}
	return f.b.storageURL + "/" + id, nil
}
