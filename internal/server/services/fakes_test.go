package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/dmitrijs2005/sharekeeper/internal/dbx"
	"github.com/dmitrijs2005/sharekeeper/internal/envelope"
	"github.com/dmitrijs2005/sharekeeper/internal/server/models"
	"github.com/dmitrijs2005/sharekeeper/internal/server/repositories/access"
	"github.com/dmitrijs2005/sharekeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/sharekeeper/internal/server/repositories/attachments"
	"github.com/dmitrijs2005/sharekeeper/internal/server/repositories/connections"
	"github.com/dmitrijs2005/sharekeeper/internal/server/repositories/handshakes"
	"github.com/dmitrijs2005/sharekeeper/internal/server/repositories/invites"
	"github.com/dmitrijs2005/sharekeeper/internal/server/repositories/secrets"
	"github.com/dmitrijs2005/sharekeeper/internal/sharing"
	"github.com/google/uuid"
)

// --- transaction helpers ---

// newTxDB returns a sqlmock database used only for Begin/Commit/Rollback;
// the fake repositories below ignore the DBTX they are handed.
func newTxDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func expectCommit(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectCommit()
}

func expectRollback(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectRollback()
}

// --- in-memory store mirroring the SQL constraints ---

type memStore struct {
	mu          sync.Mutex
	accounts    map[string]*models.Account
	handshakes  map[string]*models.Handshake
	secrets     map[string]*models.Secret
	access      map[models.AccessKey]*models.AccessRecord
	invites     map[string]*models.Invite
	conns       map[[2]string]bool
	attachments map[string]*models.Attachment

	// fail injects an error into the named operation, e.g. "access.UpdateStatus".
	fail map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		accounts:    map[string]*models.Account{},
		handshakes:  map[string]*models.Handshake{},
		secrets:     map[string]*models.Secret{},
		access:      map[models.AccessKey]*models.AccessRecord{},
		invites:     map[string]*models.Invite{},
		conns:       map[[2]string]bool{},
		attachments: map[string]*models.Attachment{},
		fail:        map[string]error{},
	}
}

func (m *memStore) injected(op string) error {
	return m.fail[op]
}

type memRepoManager struct{ s *memStore }

func (m *memRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *memRepoManager) Accounts(dbx.DBTX) accounts.Repository        { return &memAccounts{m.s} }
func (m *memRepoManager) Handshakes(dbx.DBTX) handshakes.Repository    { return &memHandshakes{m.s} }
func (m *memRepoManager) Secrets(dbx.DBTX) secrets.Repository          { return &memSecrets{m.s} }
func (m *memRepoManager) Access(dbx.DBTX) access.Repository            { return &memAccess{m.s} }
func (m *memRepoManager) Invites(dbx.DBTX) invites.Repository          { return &memInvites{m.s} }
func (m *memRepoManager) Connections(dbx.DBTX) connections.Repository  { return &memConnections{m.s} }
func (m *memRepoManager) Attachments(dbx.DBTX) attachments.Repository  { return &memAttachments{m.s} }

// accounts

type memAccounts struct{ s *memStore }

func (r *memAccounts) Create(_ context.Context, a *models.Account) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("accounts.Create"); err != nil {
		return nil, err
	}
	for _, x := range r.s.accounts {
		if x.Email == a.Email {
			return nil, fmt.Errorf("db error: %w", common.ErrAlreadyExists)
		}
	}
	cp := *a
	cp.ID = uuid.NewString()
	cp.CreatedAt, cp.UpdatedAt = time.Now(), time.Now()
	r.s.accounts[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memAccounts) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("accounts.GetByEmail"); err != nil {
		return nil, err
	}
	for _, a := range r.s.accounts {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memAccounts) GetByID(_ context.Context, id string) (*models.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memAccounts) UpdateCredentials(_ context.Context, id string, c *models.Credentials) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("accounts.UpdateCredentials"); err != nil {
		return err
	}
	a, ok := r.s.accounts[id]
	if !ok {
		return common.ErrNotFound
	}
	a.SRPSalt, a.SRPPbkdf2Salt, a.MasterKeyPbkdf2Salt = c.SRPSalt, c.SRPPbkdf2Salt, c.MasterKeyPbkdf2Salt
	a.Verifier, a.PrivateKeySalt, a.EncryptedPrivateKey = c.Verifier, c.PrivateKeySalt, c.EncryptedPrivateKey
	return nil
}

// handshakes

type memHandshakes struct{ s *memStore }

func (r *memHandshakes) Create(_ context.Context, h *models.Handshake) (*models.Handshake, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *h
	cp.ID = uuid.NewString()
	cp.CreatedAt = time.Now()
	r.s.handshakes[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memHandshakes) Get(_ context.Context, id string) (*models.Handshake, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	h, ok := r.s.handshakes[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (r *memHandshakes) GetForUpdate(ctx context.Context, id string) (*models.Handshake, error) {
	return r.Get(ctx, id)
}

func (r *memHandshakes) Complete(_ context.Context, id string, key []byte) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	h, ok := r.s.handshakes[id]
	if !ok || len(h.SessionKey) > 0 {
		return common.ErrStateConflict
	}
	now := time.Now()
	h.SessionKey = key
	h.CompletedAt = &now
	return nil
}

func (r *memHandshakes) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.handshakes[id]; !ok {
		return common.ErrNotFound
	}
	delete(r.s.handshakes, id)
	return nil
}

func (r *memHandshakes) deleteWhere(pred func(*models.Handshake) bool) int64 {
	var n int64
	for id, h := range r.s.handshakes {
		if pred(h) {
			delete(r.s.handshakes, id)
			n++
		}
	}
	return n
}

func (r *memHandshakes) DeleteIncomplete(_ context.Context, accountID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.deleteWhere(func(h *models.Handshake) bool {
		return h.AccountID == accountID && len(h.SessionKey) == 0
	}), nil
}

func (r *memHandshakes) DeleteOthers(_ context.Context, accountID, keepID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("handshakes.DeleteOthers"); err != nil {
		return 0, err
	}
	return r.deleteWhere(func(h *models.Handshake) bool {
		return h.AccountID == accountID && h.ID != keepID
	}), nil
}

func (r *memHandshakes) DeleteExpired(_ context.Context, incompleteBefore, completedBefore time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.deleteWhere(func(h *models.Handshake) bool {
		if h.CompletedAt == nil {
			return h.CreatedAt.Before(incompleteBefore)
		}
		return h.CompletedAt.Before(completedBefore)
	}), nil
}

// secrets

type memSecrets struct{ s *memStore }

func (r *memSecrets) Create(_ context.Context, sec *models.Secret) (*models.Secret, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *sec
	cp.ID = uuid.NewString()
	cp.CreatedAt, cp.UpdatedAt = time.Now(), time.Now()
	r.s.secrets[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memSecrets) Get(_ context.Context, id string) (*models.Secret, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sec, ok := r.s.secrets[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *sec
	return &cp, nil
}

func (r *memSecrets) GetForShare(ctx context.Context, id string) (*models.Secret, error) {
	return r.Get(ctx, id)
}

func (r *memSecrets) Update(_ context.Context, sec *models.Secret) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.secrets[sec.ID]; !ok {
		return common.ErrNotFound
	}
	cp := *sec
	cp.UpdatedAt = time.Now()
	r.s.secrets[sec.ID] = &cp
	return nil
}

func (r *memSecrets) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.secrets[id]; !ok {
		return common.ErrNotFound
	}
	delete(r.s.secrets, id)
	delete(r.s.attachments, id)
	for k := range r.s.access {
		if k.SecretID == id {
			delete(r.s.access, k)
		}
	}
	return nil
}

func (r *memSecrets) ListForAccount(_ context.Context, accountID string) ([]*models.SecretListing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.SecretListing
	for k, rec := range r.s.access {
		if k.Recipient != models.AccountRecipient(accountID) {
			continue
		}
		sec := *r.s.secrets[k.SecretID]
		a := *rec
		out = append(out, &models.SecretListing{Secret: &sec, Access: &a})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Secret.ID < out[j].Secret.ID })
	return out, nil
}

// access

type memAccess struct{ s *memStore }

// check mirrors the access_records CHECK constraints.
func (r *memAccess) check(rec *models.AccessRecord) error {
	if (rec.CredentialsKey != nil) != rec.Status.HoldsCredentialsKey() {
		return fmt.Errorf("check constraint violated: status %q with credentials key %v", rec.Status, rec.CredentialsKey != nil)
	}
	if rec.PreviewKey == nil {
		return fmt.Errorf("not null violated: preview_key")
	}
	if rec.Status == sharing.StatusManager {
		for k, x := range r.s.access {
			if k.SecretID == rec.Key.SecretID && k != rec.Key && x.Status == sharing.StatusManager {
				return fmt.Errorf("db error: %w", common.ErrAlreadyExists)
			}
		}
	}
	return nil
}

func (r *memAccess) put(rec *models.AccessRecord) {
	cp := *rec
	cp.UpdatedAt = time.Now()
	r.s.access[rec.Key] = &cp
	rec.UpdatedAt = cp.UpdatedAt
}

func (r *memAccess) Insert(_ context.Context, rec *models.AccessRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.access[rec.Key]; ok {
		return fmt.Errorf("db error: %w", common.ErrAlreadyExists)
	}
	if err := r.check(rec); err != nil {
		return err
	}
	r.put(rec)
	return nil
}

func (r *memAccess) Upsert(_ context.Context, rec *models.AccessRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.check(rec); err != nil {
		return err
	}
	r.put(rec)
	return nil
}

func (r *memAccess) Get(_ context.Context, key models.AccessKey) (*models.AccessRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.access[key]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *memAccess) GetForUpdate(ctx context.Context, key models.AccessKey) (*models.AccessRecord, error) {
	return r.Get(ctx, key)
}

func (r *memAccess) UpdateStatus(_ context.Context, key models.AccessKey, expected, next sharing.Status, ck *envelope.WrappedKey) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("access.UpdateStatus"); err != nil {
		return err
	}
	rec, ok := r.s.access[key]
	if !ok || rec.Status != expected {
		return common.ErrStateConflict
	}
	updated := *rec
	updated.Status = next
	updated.CredentialsKey = ck
	if err := r.check(&updated); err != nil {
		return err
	}
	r.put(&updated)
	return nil
}

func (r *memAccess) Delete(_ context.Context, key models.AccessKey, expected sharing.Status) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.access[key]
	if !ok || rec.Status != expected {
		return common.ErrStateConflict
	}
	delete(r.s.access, key)
	return nil
}

func (r *memAccess) list(pred func(models.AccessKey) bool) []*models.AccessRecord {
	var out []*models.AccessRecord
	for k, rec := range r.s.access {
		if pred(k) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.SecretID != out[j].Key.SecretID {
			return out[i].Key.SecretID < out[j].Key.SecretID
		}
		return out[i].Key.Recipient.ID < out[j].Key.Recipient.ID
	})
	return out
}

func (r *memAccess) ListBySecret(_ context.Context, secretID string) ([]*models.AccessRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.list(func(k models.AccessKey) bool { return k.SecretID == secretID }), nil
}

func (r *memAccess) ListByRecipientForUpdate(_ context.Context, rc models.Recipient) ([]*models.AccessRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.list(func(k models.AccessKey) bool { return k.Recipient == rc }), nil
}

func (r *memAccess) DeleteByRecipient(_ context.Context, rc models.Recipient) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k := range r.s.access {
		if k.Recipient == rc {
			delete(r.s.access, k)
			n++
		}
	}
	return n, nil
}

// invites

type memInvites struct{ s *memStore }

func (r *memInvites) Create(_ context.Context, inv *models.Invite) (*models.Invite, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *inv
	cp.ID = uuid.NewString()
	cp.Status = models.InvitePending
	cp.CreatedAt = time.Now()
	r.s.invites[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memInvites) Get(_ context.Context, id string) (*models.Invite, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invites[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (r *memInvites) GetForUpdate(ctx context.Context, id string) (*models.Invite, error) {
	return r.Get(ctx, id)
}

func (r *memInvites) ListByInviter(_ context.Context, inviterID string) ([]*models.Invite, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Invite
	for _, inv := range r.s.invites {
		if inv.InviterID == inviterID {
			cp := *inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memInvites) MarkAccepted(_ context.Context, id, accountID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invites[id]
	if !ok || inv.Status != models.InvitePending {
		return common.ErrStateConflict
	}
	inv.Status = models.InviteAccepted
	inv.AcceptedBy = &accountID
	return nil
}

func (r *memInvites) Expire(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inv, ok := r.s.invites[id]
	if !ok || inv.Status != models.InvitePending {
		return common.ErrStateConflict
	}
	inv.Status = models.InviteExpired
	return nil
}

func (r *memInvites) ExpireOverdue(_ context.Context, now time.Time) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []string
	for id, inv := range r.s.invites {
		if inv.Status == models.InvitePending && !inv.ExpiresAt.After(now) {
			inv.Status = models.InviteExpired
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// connections

type memConnections struct{ s *memStore }

func (r *memConnections) List(_ context.Context, accountID string) ([]*models.Connection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Connection
	for pair := range r.s.conns {
		if pair[0] != accountID {
			continue
		}
		peer := r.s.accounts[pair[1]]
		out = append(out, &models.Connection{
			AccountID: accountID, PeerID: peer.ID, PeerEmail: peer.Email, PeerPublicKey: peer.PublicKey,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerEmail < out[j].PeerEmail })
	return out, nil
}

func (r *memConnections) Exists(_ context.Context, a, b string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.conns[[2]string{a, b}], nil
}

func (r *memConnections) Connect(_ context.Context, a, b string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.conns[[2]string{a, b}] = true
	r.s.conns[[2]string{b, a}] = true
	return nil
}

// attachments

type memAttachments struct{ s *memStore }

func (r *memAttachments) Upsert(_ context.Context, a *models.Attachment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *a
	cp.UploadStatus = models.UploadPending
	cp.CreatedAt = time.Now()
	r.s.attachments[a.SecretID] = &cp
	a.UploadStatus, a.CreatedAt = cp.UploadStatus, cp.CreatedAt
	return nil
}

func (r *memAttachments) Get(_ context.Context, secretID string) (*models.Attachment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.attachments[secretID]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memAttachments) MarkUploaded(_ context.Context, secretID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.attachments[secretID]
	if !ok {
		return common.ErrNotFound
	}
	a.UploadStatus = models.UploadCompleted
	return nil
}
